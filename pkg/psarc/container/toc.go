package container

import (
	"encoding/binary"
	"fmt"

	"github.com/archivekit/psarc/internal/bitio"
	"github.com/archivekit/psarc/pkg/psarcerr"
)

// Entry is one table-of-contents entry: 16-byte name digest, first-block
// index, and two 40-bit big-endian fields.
type Entry struct {
	NameDigest       [16]byte
	FirstBlockIndex  uint32
	UncompressedSize uint64 // 40-bit
	FileOffset       uint64 // 40-bit
}

// Pack serializes the entry into its fixed 30-byte, big-endian layout.
func (e *Entry) Pack() []byte {
	buf := make([]byte, TOCEntrySize)
	copy(buf[0x00:0x10], e.NameDigest[:])
	binary.BigEndian.PutUint32(buf[0x10:0x14], e.FirstBlockIndex)
	bitio.PutUint40(buf[0x14:0x19], e.UncompressedSize)
	bitio.PutUint40(buf[0x19:0x1E], e.FileOffset)
	return buf
}

// UnpackEntry parses a 30-byte table-of-contents entry.
func UnpackEntry(data []byte) (*Entry, error) {
	if len(data) < TOCEntrySize {
		return nil, fmt.Errorf("container: toc entry needs %d bytes, got %d: %w", TOCEntrySize, len(data), psarcerr.ErrTruncated)
	}
	e := &Entry{
		FirstBlockIndex:  binary.BigEndian.Uint32(data[0x10:0x14]),
		UncompressedSize: bitio.Uint40(data[0x14:0x19]),
		FileOffset:       bitio.Uint40(data[0x19:0x1E]),
	}
	copy(e.NameDigest[:], data[0x00:0x10])
	return e, nil
}

// IsManifest reports whether the entry is entry 0, identified by an
// all-zero name digest per invariant 1.
func (e *Entry) IsManifest() bool {
	return e.NameDigest == [16]byte{}
}

// BlockCount returns ceil(uncompressed_size / block_size).
func (e *Entry) BlockCount(blockSize uint32) uint32 {
	if e.UncompressedSize == 0 {
		return 0
	}
	return uint32((e.UncompressedSize + uint64(blockSize) - 1) / uint64(blockSize))
}

// PackEntries serializes entries 0..N in order, concatenated with no padding.
func PackEntries(entries []*Entry) []byte {
	buf := make([]byte, 0, len(entries)*TOCEntrySize)
	for _, e := range entries {
		buf = append(buf, e.Pack()...)
	}
	return buf
}

// UnpackEntries parses entryCount consecutive TOC entries starting at the
// front of data.
func UnpackEntries(data []byte, entryCount uint32) ([]*Entry, error) {
	need := int(entryCount) * TOCEntrySize
	if len(data) < need {
		return nil, fmt.Errorf("container: need %d bytes for %d entries, got %d: %w", need, entryCount, len(data), psarcerr.ErrTruncated)
	}
	entries := make([]*Entry, entryCount)
	for i := range entries {
		e, err := UnpackEntry(data[i*TOCEntrySize : (i+1)*TOCEntrySize])
		if err != nil {
			return nil, err
		}
		entries[i] = e
	}
	return entries, nil
}
