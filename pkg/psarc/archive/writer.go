package archive

import (
	"compress/zlib"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/archivekit/psarc/internal/bitio"
	"github.com/archivekit/psarc/pkg/psarc/block"
	"github.com/archivekit/psarc/pkg/psarc/container"
	"github.com/archivekit/psarc/pkg/psarc/manifest"
	"github.com/archivekit/psarc/pkg/psarc/operations"
	"github.com/archivekit/psarc/pkg/psarc/operations/lzma2"
	"github.com/archivekit/psarc/pkg/psarc/operations/zlibcodec"
	"github.com/archivekit/psarc/pkg/psarc/pool"
	"github.com/archivekit/psarc/pkg/psarcerr"
	"github.com/archivekit/psarc/pkg/report"
)

// selectOperation picks the block codec implementation for the creation
// options, substituting each codec's default level when none was chosen.
func selectOperation(opts Options) (operations.Operation, error) {
	switch opts.Codec {
	case CodecStore:
		return operations.Get(operations.IDStore)
	case CodecZlib:
		level := opts.Level
		if level == LevelDefault {
			level = zlib.DefaultCompression
		}
		return zlibcodec.New(level), nil
	case CodecLzma2:
		level := opts.Level
		if level == LevelDefault {
			level = lzma2.DefaultLevel
		}
		return lzma2.New(level, opts.Extreme), nil
	default:
		return nil, fmt.Errorf("archive: unknown codec %d", opts.Codec)
	}
}

// writer carries the state of one create operation. The offset and totals
// fields are owned by the commit phase: with the pool running they are
// touched only under ticket order, never concurrently.
type writer struct {
	opts Options
	log  hclog.Logger
	sink report.Sink
	op   operations.Operation

	out  *os.File
	path string

	entries    []*container.Entry
	names      []string // stored names of entries 1..N
	srcs       []string // filesystem paths, parallel to names
	table      *container.BlockTable
	tocLength  uint32
	compressed []uint64 // per-entry compressed-size accumulators

	offset uint64
	totals report.Totals
}

// Create packs files (stored-form paths, resolved against opts.SourceDir
// when relative) into a new archive at archivePath. The file list must be
// in final entry order; entry 0, the manifest, is synthesized here.
func Create(archivePath string, files []string, opts Options, sink report.Sink) error {
	opts = opts.normalized()
	if sink == nil {
		sink = report.DiscardSink{}
	}

	w := &writer{
		opts: opts,
		log:  opts.Logger.Named("writer"),
		sink: sink,
		path: archivePath,
	}

	if len(files) == 0 {
		return fmt.Errorf("archive: %w", psarcerr.ErrNoInputs)
	}
	if _, err := os.Lstat(archivePath); err == nil && !opts.Overwrite {
		return fmt.Errorf("archive: %s: %w", archivePath, psarcerr.ErrConflict)
	}

	op, err := selectOperation(opts)
	if err != nil {
		return err
	}
	w.op = op

	manifestBytes, err := w.layout(files)
	if err != nil {
		return err
	}

	w.log.Debug("layout computed",
		"entries", len(w.entries), "toc_length", w.tocLength,
		"block_size", opts.BlockSize, "codec", opts.Codec.String())

	out, err := os.OpenFile(archivePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", archivePath, err)
	}
	w.out = out

	sink.OpenArchive(report.ArchiveInfo{
		Path:       archivePath,
		Mode:       "create",
		Codec:      opts.Codec.String(),
		BlockSize:  opts.BlockSize,
		EntryCount: len(w.entries),
	})

	if err := w.stream(manifestBytes); err != nil {
		return w.fail(err)
	}

	if w.offset > bitio.MaxUint40 {
		return w.fail(fmt.Errorf("archive: payload ends at %d, beyond the 40-bit offset limit", w.offset))
	}

	if err := w.backfill(); err != nil {
		return w.fail(err)
	}
	if err := w.out.Close(); err != nil {
		w.out = nil
		return w.fail(fmt.Errorf("archive: closing %s: %w", archivePath, err))
	}

	w.totals.PhysicalSize = w.offset
	sink.Close(w.totals)
	return nil
}

// fail closes and unlinks the partial output, then returns err unchanged.
func (w *writer) fail(err error) error {
	if w.out != nil {
		w.out.Close()
	}
	os.Remove(w.path)
	return err
}

// layout performs the pre-streaming passes: normalise the stored names,
// stat every input, build the manifest bytes, size the block table, and
// construct the in-memory TOC. Offsets stay zero until commit.
func (w *writer) layout(files []string) ([]byte, error) {
	mf := manifest.Flags{AbsolutePaths: w.opts.AbsolutePaths, TrimPaths: w.opts.TrimPaths}

	w.names = make([]string, len(files))
	w.srcs = make([]string, len(files))
	for i, f := range files {
		w.names[i] = manifest.Normalize(f, mf)
		src := filepath.FromSlash(f)
		if !filepath.IsAbs(src) && w.opts.SourceDir != "" {
			src = filepath.Join(w.opts.SourceDir, src)
		}
		w.srcs[i] = src
	}

	manifestBytes := manifest.Encode(files, mf)

	w.entries = make([]*container.Entry, len(files)+1)
	w.compressed = make([]uint64, len(files)+1)
	w.entries[0] = &container.Entry{UncompressedSize: uint64(len(manifestBytes))}

	totalBlocks := block.NewPlan(uint64(len(manifestBytes)), w.opts.BlockSize).Count
	for i, src := range w.srcs {
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("archive: stat input %s: %w", src, err)
		}
		size := uint64(info.Size())
		if size > bitio.MaxUint40 {
			return nil, fmt.Errorf("archive: %s is %d bytes, beyond the 40-bit size limit", src, size)
		}

		e := &container.Entry{
			NameDigest:       md5.Sum([]byte(w.names[i])),
			FirstBlockIndex:  uint32(totalBlocks),
			UncompressedSize: size,
		}
		w.entries[i+1] = e
		totalBlocks += block.NewPlan(size, w.opts.BlockSize).Count
	}

	table, err := container.NewBlockTable(totalBlocks, w.opts.BlockSize)
	if err != nil {
		return nil, err
	}
	w.table = table
	w.tocLength = container.TOCLength(len(w.entries), totalBlocks, table.Width)

	return manifestBytes, nil
}

// stream writes the manifest synchronously, then drives entries 1..N
// through the pool (or inline when the pool is disabled).
func (w *writer) stream(manifestBytes []byte) error {
	if _, err := w.out.Seek(int64(w.tocLength), io.SeekStart); err != nil {
		return fmt.Errorf("archive: seeking past header region: %w", err)
	}
	w.offset = uint64(w.tocLength)

	if err := w.writeManifest(manifestBytes); err != nil {
		return err
	}

	var p *pool.Pool
	var syncErr error
	var syncScratch []byte
	if w.opts.NumThreads > 0 {
		p = pool.New(w.opts.NumThreads, 2*int(w.opts.BlockSize))
	} else {
		syncScratch = make([]byte, 2*int(w.opts.BlockSize))
	}
	submit := func(job pool.Job) {
		if p != nil {
			p.Submit(job)
			return
		}
		if err := job.Run(syncScratch)(); err != nil && syncErr == nil {
			syncErr = err
		}
	}

	var openErr error
	for i := 1; i < len(w.entries); i++ {
		if err := w.streamEntry(i, submit); err != nil {
			openErr = err
			break
		}
	}

	if p != nil {
		if err := p.Wait(); err != nil && openErr == nil {
			openErr = err
		}
		p.Close()
	} else if syncErr != nil && openErr == nil {
		openErr = syncErr
	}
	return openErr
}

// writeManifest streams entry 0 single-threaded; the pool has not started.
func (w *writer) writeManifest(data []byte) error {
	e := w.entries[0]
	e.FileOffset = w.offset
	plan := block.NewPlan(uint64(len(data)), w.opts.BlockSize)
	for k := 0; k < plan.Count; k++ {
		start := k * int(w.opts.BlockSize)
		raw := data[start : start+plan.NaturalLength(k)]
		res, err := block.EncodeBlock(w.op, raw)
		if err != nil {
			return err
		}
		if _, err := w.out.Write(res.Emitted); err != nil {
			return fmt.Errorf("archive: writing manifest block: %w", err)
		}
		w.table.Set(int(e.FirstBlockIndex)+k, uint32(len(res.Emitted)), w.opts.BlockSize)
		w.offset += uint64(len(res.Emitted))
		w.compressed[0] += uint64(len(res.Emitted))
	}
	return nil
}

// streamEntry submits every block of entry i. A failure to open the input
// aborts the whole create; everything after the open happens in Run/commit.
func (w *writer) streamEntry(i int, submit func(pool.Job)) error {
	e := w.entries[i]
	name := w.names[i-1]
	plan := block.NewPlan(e.UncompressedSize, w.opts.BlockSize)

	if plan.Count == 0 {
		submit(pool.Job{Run: func(scratch []byte) func() error {
			return func() error {
				e.FileOffset = w.offset
				w.sink.BeginEntry(name)
				w.finishEntry(i, name)
				return nil
			}
		}})
		return nil
	}

	src, err := os.Open(w.srcs[i-1])
	if err != nil {
		return fmt.Errorf("archive: opening input %s: %w", w.srcs[i-1], err)
	}

	for k := 0; k < plan.Count; k++ {
		k := k
		natural := plan.NaturalLength(k)
		idx := int(e.FirstBlockIndex) + k
		isFirst := k == 0
		isLast := k == plan.Count-1

		submit(pool.Job{Run: func(scratch []byte) func() error {
			raw := scratch[:natural]
			n, rerr := src.ReadAt(raw, int64(k)*int64(w.opts.BlockSize))
			if rerr == io.EOF && n == natural {
				rerr = nil
			}
			var res block.Result
			if rerr == nil {
				res, _ = block.EncodeBlock(w.op, raw)
			}

			return func() error {
				if rerr != nil {
					src.Close()
					err := fmt.Errorf("archive: reading %s block %d: %w", name, k, rerr)
					w.sink.Error(name, err)
					return err
				}
				if isFirst {
					e.FileOffset = w.offset
					w.sink.BeginEntry(name)
				}
				if _, werr := w.out.Write(res.Emitted); werr != nil {
					src.Close()
					err := fmt.Errorf("archive: writing %s block %d: %w", name, k, werr)
					w.sink.Error(name, err)
					return err
				}
				w.table.Set(idx, uint32(len(res.Emitted)), w.opts.BlockSize)
				w.offset += uint64(len(res.Emitted))
				w.compressed[i] += uint64(len(res.Emitted))
				if isLast {
					src.Close()
					w.finishEntry(i, name)
				}
				return nil
			}
		}})
	}
	return nil
}

// finishEntry emits the end-of-entry event and folds the entry into the
// running totals. Runs in the commit phase only.
func (w *writer) finishEntry(i int, name string) {
	e := w.entries[i]
	w.sink.EndEntry(report.EntryEvent{
		Name:             name,
		UncompressedSize: e.UncompressedSize,
		CompressedSize:   w.compressed[i],
		Status:           report.StatusOK,
	})
	w.totals.EntriesOK++
	w.totals.TotalUncompressed += e.UncompressedSize
	w.totals.TotalCompressed += w.compressed[i]
}

// backfill rewinds to the start and writes the final header, TOC, and
// block-size table over the reserved region.
func (w *writer) backfill() error {
	headerCodec := container.CodecZlib
	if w.opts.Codec == CodecLzma2 {
		headerCodec = container.CodecLzma2
	}
	var flags uint32
	if w.opts.IgnoreCase {
		flags |= container.FlagCaseInsensitive
	}
	if w.opts.AbsolutePaths {
		flags |= container.FlagAbsolutePaths
	}

	hdr := container.Header{
		VersionMajor: 1,
		VersionMinor: 4,
		Codec:        headerCodec,
		TOCLength:    w.tocLength,
		EntryCount:   uint32(len(w.entries)),
		BlockSize:    w.opts.BlockSize,
		Flags:        flags,
	}

	if _, err := w.out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("archive: rewinding for header: %w", err)
	}
	if _, err := w.out.Write(hdr.Pack()); err != nil {
		return fmt.Errorf("archive: writing header: %w", err)
	}
	if _, err := w.out.Write(container.PackEntries(w.entries)); err != nil {
		return fmt.Errorf("archive: writing toc: %w", err)
	}
	tableBytes, err := w.table.Pack()
	if err != nil {
		return err
	}
	if _, err := w.out.Write(tableBytes); err != nil {
		return fmt.Errorf("archive: writing block-size table: %w", err)
	}
	return nil
}
