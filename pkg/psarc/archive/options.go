// Package archive implements the PSARC writer and reader: the write path
// pre-computes the layout, streams entries through the block pipeline via
// the ordered worker pool, and backfills the header region; the read path
// parses the container and satisfies list, info, and extract requests.
package archive

import (
	"fmt"
	"runtime"

	"github.com/hashicorp/go-hclog"
)

// Codec selects the compression applied when creating an archive. Store is
// a creation-time choice only; the container header never names it.
type Codec int

const (
	CodecStore Codec = iota
	CodecZlib
	CodecLzma2
)

func (c Codec) String() string {
	switch c {
	case CodecZlib:
		return "zlib"
	case CodecLzma2:
		return "lzma"
	default:
		return "store"
	}
}

// ParseCodec maps a command-surface codec name to its Codec value.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "store":
		return CodecStore, nil
	case "zlib":
		return CodecZlib, nil
	case "lzma":
		return CodecLzma2, nil
	default:
		return 0, fmt.Errorf("archive: unknown codec %q", s)
	}
}

// DefaultBlockSize is the block size used when the caller does not pick one.
const DefaultBlockSize = 65536

// LevelDefault marks an unset compression level; each codec substitutes
// its own default.
const LevelDefault = -1

// Options configures a create, extract, list, or info operation. One value
// is populated per invocation and threaded through the writer or reader
// explicitly; nothing in this package keeps package-level mutable state.
type Options struct {
	BlockSize uint32
	Codec     Codec
	Level     int
	Extreme   bool

	IgnoreCase    bool
	AbsolutePaths bool

	SourceDir string
	TargetDir string

	Recursive    bool
	TrimPaths    bool
	Overwrite    bool
	SkipExisting bool

	// NumThreads sizes the worker pool; 0 disables it and compresses
	// synchronously on the dispatcher.
	NumThreads int

	Logger hclog.Logger
}

// DefaultOptions returns the command surface's defaults: 64 KiB blocks,
// store codec, pool sized to the CPU count.
func DefaultOptions() Options {
	return Options{
		BlockSize:  DefaultBlockSize,
		Codec:      CodecStore,
		Level:      LevelDefault,
		NumThreads: runtime.NumCPU(),
	}
}

// normalized fills zero values with defaults and returns the result.
func (o Options) normalized() Options {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	return o
}
