// Package lzma2 implements the LZMA2 per-block codec via the XZ container
// format (github.com/ulikunitz/xz), whose stream magic doubles as the
// block-level signature the read pipeline detects.
package lzma2

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"

	"github.com/archivekit/psarc/pkg/psarc/operations"
	"github.com/archivekit/psarc/pkg/psarcerr"
)

func init() {
	operations.Register(New(DefaultLevel, false))
}

// Signature is the leading bytes of an XZ stream, used for codec
// auto-detection on read.
var Signature = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}

// DefaultLevel is the preset used when the caller does not pick one.
const DefaultLevel = 6

// Operation is the LZMA2/XZ codec.
type Operation struct {
	operations.BaseOperation
	Level   int
	Extreme bool
}

// New creates an LZMA2 codec at the given preset level (0-9). The xz
// library exposes no preset knob directly, so the level steers the
// dictionary capacity; extreme bumps it one step further.
func New(level int, extreme bool) *Operation {
	return &Operation{
		BaseOperation: operations.BaseOperation{OpID: operations.IDLzma2, OpName: "lzma2"},
		Level:         level,
		Extreme:       extreme,
	}
}

func (o *Operation) dictCap() int {
	level := o.Level
	if level < 0 || level > 9 {
		level = DefaultLevel
	}
	if o.Extreme && level < 9 {
		level++
	}
	// 64 KiB at level 0, doubling per level up to 32 MiB at level 9.
	return 1 << (16 + uint(level))
}

func (o *Operation) Encode(input []byte) ([]byte, error) {
	var buf bytes.Buffer

	cfg := xz.WriterConfig{DictCap: o.dictCap()}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzma2: creating writer: %w", err)
	}
	if _, err := w.Write(input); err != nil {
		w.Close()
		return nil, fmt.Errorf("lzma2: writing block: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma2: closing writer: %w", err)
	}

	return buf.Bytes(), nil
}

func (o *Operation) Decode(input []byte, naturalSize int) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("lzma2: creating reader: %w: %w", err, psarcerr.ErrDecodeError)
	}

	out := make([]byte, naturalSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("lzma2: reading block: %w: %w", err, psarcerr.ErrDecodeError)
	}

	return out, nil
}

// HasSignature reports whether the leading bytes of a block payload match
// the XZ stream magic.
func HasSignature(b []byte) bool {
	return len(b) >= len(Signature) && bytes.Equal(b[:len(Signature)], Signature)
}
