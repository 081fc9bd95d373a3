package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/archivekit/psarc/internal/bitio"
	"github.com/archivekit/psarc/pkg/psarc/block"
	"github.com/archivekit/psarc/pkg/psarc/container"
	"github.com/archivekit/psarc/pkg/psarc/manifest"
	"github.com/archivekit/psarc/pkg/psarcerr"
	"github.com/archivekit/psarc/pkg/report"
)

// Reader is an opened archive: parsed header, TOC, block-size table, and
// the filenames recovered from the manifest. It is single-threaded.
type Reader struct {
	Header  *container.Header
	Entries []*container.Entry
	Names   []string // stored names of entries 1..N
	Table   *container.BlockTable

	f            *os.File
	path         string
	physicalSize uint64
	log          hclog.Logger
}

// Open parses the archive at archivePath: header, TOC, block-size table,
// and the manifest. Structural invariants are checked here; a violation
// fails with ErrBadToc before any entry is touched.
func Open(archivePath string, logger hclog.Logger) (*Reader, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", archivePath, err)
	}
	r := &Reader{f: f, path: archivePath, log: logger.Named("reader")}
	if err := r.parse(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}

func (r *Reader) parse() error {
	hdrBuf := make([]byte, container.HeaderSize)
	if _, err := io.ReadFull(r.f, hdrBuf); err != nil {
		return fmt.Errorf("archive: reading header: %w: %w", err, psarcerr.ErrTruncated)
	}
	hdr, err := container.UnpackHeader(hdrBuf)
	if err != nil {
		return err
	}
	r.Header = hdr

	if hdr.BlockSize == 0 {
		return fmt.Errorf("archive: block size 0: %w", psarcerr.ErrBadToc)
	}
	if hdr.EntryCount == 0 {
		return fmt.Errorf("archive: entry count 0: %w", psarcerr.ErrBadToc)
	}
	if hdr.TOCLength < container.HeaderSize+hdr.EntryCount*container.TOCEntrySize {
		return fmt.Errorf("archive: toc_length %d too small for %d entries: %w",
			hdr.TOCLength, hdr.EntryCount, psarcerr.ErrBadToc)
	}

	rest := make([]byte, hdr.TOCLength-container.HeaderSize)
	if _, err := io.ReadFull(r.f, rest); err != nil {
		return fmt.Errorf("archive: reading toc region: %w: %w", err, psarcerr.ErrTruncated)
	}

	entries, err := container.UnpackEntries(rest, hdr.EntryCount)
	if err != nil {
		return err
	}
	r.Entries = entries

	width, err := bitio.ItemWidth(uint64(hdr.BlockSize))
	if err != nil {
		return fmt.Errorf("archive: %w: %w", err, psarcerr.ErrBadToc)
	}
	tableBytes := rest[int(hdr.EntryCount)*container.TOCEntrySize:]
	if len(tableBytes)%width != 0 {
		return fmt.Errorf("archive: block-size table length %d not a multiple of width %d: %w",
			len(tableBytes), width, psarcerr.ErrBadToc)
	}
	totalBlocks := len(tableBytes) / width

	wantBlocks := 0
	for _, e := range entries {
		wantBlocks += int(e.BlockCount(hdr.BlockSize))
	}
	if totalBlocks != wantBlocks {
		return fmt.Errorf("archive: block-size table holds %d items, entries need %d: %w",
			totalBlocks, wantBlocks, psarcerr.ErrBadToc)
	}

	table, err := container.UnpackBlockTable(tableBytes, totalBlocks, width)
	if err != nil {
		return err
	}
	r.Table = table

	if !entries[0].IsManifest() {
		return fmt.Errorf("archive: entry 0 carries a name digest: %w", psarcerr.ErrBadToc)
	}

	// Entries are laid out contiguously from toc_length with no padding.
	off := uint64(hdr.TOCLength)
	for i, e := range entries {
		if e.FileOffset != off {
			return fmt.Errorf("archive: entry %d at offset %d, want %d: %w",
				i, e.FileOffset, off, psarcerr.ErrBadToc)
		}
		off += r.CompressedSize(i)
	}
	r.physicalSize = off

	manifestBytes, err := r.readEntryBytes(0)
	if err != nil {
		return fmt.Errorf("archive: reading manifest: %w", err)
	}
	names, err := manifest.Decode(manifestBytes, int(hdr.EntryCount)-1)
	if err != nil {
		return err
	}
	r.Names = names

	r.log.Debug("archive opened", "path", r.path,
		"entries", len(entries), "blocks", totalBlocks, "codec", hdr.Codec.String())
	return nil
}

// CompressedSize sums entry i's block-size table slots, sentinels resolved.
func (r *Reader) CompressedSize(i int) uint64 {
	e := r.Entries[i]
	var sum uint64
	for k := uint32(0); k < e.BlockCount(r.Header.BlockSize); k++ {
		sum += uint64(r.Table.Resolved(int(e.FirstBlockIndex+k), r.Header.BlockSize))
	}
	return sum
}

// streamEntry decompresses entry i block by block into w.
func (r *Reader) streamEntry(i int, w io.Writer) error {
	e := r.Entries[i]
	plan := block.NewPlan(e.UncompressedSize, r.Header.BlockSize)

	off := e.FileOffset
	for k := 0; k < plan.Count; k++ {
		payloadSize := r.Table.Resolved(int(e.FirstBlockIndex)+k, r.Header.BlockSize)
		payload := make([]byte, payloadSize)
		if _, err := r.f.ReadAt(payload, int64(off)); err != nil {
			return fmt.Errorf("archive: reading block %d: %w: %w", k, err, psarcerr.ErrTruncated)
		}
		out, err := block.DecodeBlock(payload, plan.NaturalLength(k))
		if err != nil {
			return err
		}
		if _, err := w.Write(out); err != nil {
			return fmt.Errorf("archive: writing block %d: %w", k, err)
		}
		off += uint64(payloadSize)
	}
	return nil
}

// readEntryBytes decompresses entry i into memory.
func (r *Reader) readEntryBytes(i int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(int(r.Entries[i].UncompressedSize))
	if err := r.streamEntry(i, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// List emits one report row per file entry.
func (r *Reader) List(sink report.Sink) error {
	if sink == nil {
		sink = report.DiscardSink{}
	}
	sink.OpenArchive(r.archiveInfo("list"))

	var totals report.Totals
	for i := 1; i < len(r.Entries); i++ {
		e := r.Entries[i]
		cs := r.CompressedSize(i)
		sink.EndEntry(report.EntryEvent{
			Name:             r.Names[i-1],
			UncompressedSize: e.UncompressedSize,
			CompressedSize:   cs,
			Status:           report.StatusOK,
		})
		totals.EntriesOK++
		totals.TotalUncompressed += e.UncompressedSize
		totals.TotalCompressed += cs
	}
	totals.PhysicalSize = r.physicalSize
	sink.Close(totals)
	return nil
}

// Info emits a manifest row and an aggregated files row, with the inferred
// codec of each group: "store" when no block in the group shrank, else the
// header-declared codec.
func (r *Reader) Info(sink report.Sink) error {
	if sink == nil {
		sink = report.DiscardSink{}
	}
	sink.OpenArchive(r.archiveInfo("info"))

	manifestCompressed := r.CompressedSize(0)
	var filesUncompressed, filesCompressed uint64
	for i := 1; i < len(r.Entries); i++ {
		filesUncompressed += r.Entries[i].UncompressedSize
		filesCompressed += r.CompressedSize(i)
	}

	sink.EndEntry(report.EntryEvent{
		Name:             "manifest",
		UncompressedSize: r.Entries[0].UncompressedSize,
		CompressedSize:   manifestCompressed,
		Status:           report.StatusOK,
		Detail:           r.groupCodec(r.Entries[0].UncompressedSize, manifestCompressed),
	})
	sink.EndEntry(report.EntryEvent{
		Name:             fmt.Sprintf("files (%d)", len(r.Entries)-1),
		UncompressedSize: filesUncompressed,
		CompressedSize:   filesCompressed,
		Status:           report.StatusOK,
		Detail:           r.groupCodec(filesUncompressed, filesCompressed),
	})

	totals := report.Totals{
		EntriesOK:         len(r.Entries) - 1,
		TotalUncompressed: filesUncompressed,
		TotalCompressed:   filesCompressed,
		PhysicalSize:      r.physicalSize,
	}
	sink.Close(totals)
	return nil
}

// groupCodec infers store vs. the declared codec for a group of entries.
// The fallback rule caps every block at its natural length, so a group
// compresses to strictly fewer bytes than its input iff any block shrank.
func (r *Reader) groupCodec(uncompressed, compressed uint64) string {
	if compressed == uncompressed {
		return "store"
	}
	return r.Header.Codec.String()
}

// Extract writes the entries matching patterns (all entries when patterns
// is empty) under opts.TargetDir. Per-entry failures are recorded and
// extraction continues; the number of failed entries is returned.
func (r *Reader) Extract(patterns []string, opts Options, sink report.Sink) (int, error) {
	opts = opts.normalized()
	if sink == nil {
		sink = report.DiscardSink{}
	}

	caseInsensitive := r.Header.Flags&container.FlagCaseInsensitive != 0
	matchSet := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		matchSet[matchKey(p, caseInsensitive)] = struct{}{}
	}

	sink.OpenArchive(r.archiveInfo("extract"))

	var totals report.Totals
	failed := 0
	for i := 1; i < len(r.Entries); i++ {
		name := r.Names[i-1]
		if len(matchSet) > 0 {
			if _, ok := matchSet[matchKey(name, caseInsensitive)]; !ok {
				continue
			}
		}

		sink.BeginEntry(name)
		status, detail, err := r.extractEntry(i, name, opts)
		if err != nil {
			sink.Error(name, err)
		}
		sink.EndEntry(report.EntryEvent{
			Name:             name,
			UncompressedSize: r.Entries[i].UncompressedSize,
			CompressedSize:   r.CompressedSize(i),
			Status:           status,
			Detail:           detail,
		})
		switch status {
		case report.StatusOK:
			totals.EntriesOK++
			totals.TotalUncompressed += r.Entries[i].UncompressedSize
			totals.TotalCompressed += r.CompressedSize(i)
		case report.StatusSkipped:
			totals.EntriesSkipped++
		case report.StatusFailed:
			totals.EntriesFailed++
			failed++
		}
	}
	totals.PhysicalSize = r.physicalSize
	sink.Close(totals)
	return failed, nil
}

// extractEntry applies the existing-file policy, creates parent
// directories, and streams entry i's blocks to its output path.
func (r *Reader) extractEntry(i int, name string, opts Options) (report.EntryStatus, string, error) {
	outPath := outputPath(name, opts)

	if _, err := os.Lstat(outPath); err == nil {
		switch {
		case opts.Overwrite:
			// truncate below
		case opts.SkipExisting:
			return report.StatusSkipped, "skipped (file exists)", nil
		default:
			return report.StatusFailed, "file already exists",
				fmt.Errorf("archive: %s: %w", outPath, psarcerr.ErrConflict)
		}
	}

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return report.StatusFailed, "", fmt.Errorf("archive: creating %s: %w", dir, err)
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return report.StatusFailed, "", fmt.Errorf("archive: creating %s: %w", outPath, err)
	}
	if err := r.streamEntry(i, out); err != nil {
		out.Close()
		os.Remove(outPath)
		return report.StatusFailed, "", err
	}
	if err := out.Close(); err != nil {
		return report.StatusFailed, "", fmt.Errorf("archive: closing %s: %w", outPath, err)
	}
	return report.StatusOK, "", nil
}

func (r *Reader) archiveInfo(mode string) report.ArchiveInfo {
	return report.ArchiveInfo{
		Path:       r.path,
		Mode:       mode,
		Codec:      r.Header.Codec.String(),
		BlockSize:  r.Header.BlockSize,
		EntryCount: len(r.Entries),
	}
}

// matchKey normalises a stored name or user pattern for match-set lookup.
func matchKey(name string, caseInsensitive bool) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if caseInsensitive {
		name = strings.ToLower(name)
	}
	return name
}

// outputPath maps a stored name to its extraction path under TargetDir.
func outputPath(name string, opts Options) string {
	n := name
	if opts.TrimPaths {
		n = path.Base(n)
	}
	n = strings.TrimLeft(n, "/")
	if opts.TargetDir != "" {
		return filepath.Join(opts.TargetDir, filepath.FromSlash(n))
	}
	return filepath.FromSlash(n)
}
