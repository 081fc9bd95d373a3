// Package container implements the PSARC header, table-of-contents entry,
// and block-size table codecs: fixed-offset, big-endian, packed binary
// layouts parsed and serialized with encoding/binary.
package container

import (
	"encoding/binary"
	"fmt"

	"github.com/archivekit/psarc/pkg/psarcerr"
)

// Codec identifies the archive-level compression codec named in the header.
// Store is never named in the header; it is inferred per block at decode
// time by the absence of a recognised signature.
type Codec int

const (
	CodecZlib Codec = iota
	CodecLzma2
)

func (c Codec) Tag() [4]byte {
	if c == CodecLzma2 {
		return [4]byte{'l', 'z', 'm', 'a'}
	}
	return [4]byte{'z', 'l', 'i', 'b'}
}

func (c Codec) String() string {
	if c == CodecLzma2 {
		return "lzma"
	}
	return "zlib"
}

// HeaderSize is the fixed, packed size of the archive header in bytes.
const HeaderSize = 32

// TOCEntrySize is the fixed, packed size of one table-of-contents entry.
const TOCEntrySize = 30

// Flag bits carried in Header.Flags.
const (
	FlagCaseInsensitive = 1 << 0
	FlagAbsolutePaths   = 1 << 1
)

// Header is the 32-byte archive header.
type Header struct {
	VersionMajor uint16
	VersionMinor uint16
	Codec        Codec
	TOCLength    uint32
	EntryCount   uint32
	BlockSize    uint32
	Flags        uint32
}

// Pack serializes the header into its fixed 32-byte, big-endian layout.
func (h *Header) Pack() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0x00:0x04], "PSAR")
	binary.BigEndian.PutUint16(buf[0x04:0x06], h.VersionMajor)
	binary.BigEndian.PutUint16(buf[0x06:0x08], h.VersionMinor)
	tag := h.Codec.Tag()
	copy(buf[0x08:0x0C], tag[:])
	binary.BigEndian.PutUint32(buf[0x0C:0x10], h.TOCLength)
	binary.BigEndian.PutUint32(buf[0x10:0x14], TOCEntrySize)
	binary.BigEndian.PutUint32(buf[0x14:0x18], h.EntryCount)
	binary.BigEndian.PutUint32(buf[0x18:0x1C], h.BlockSize)
	binary.BigEndian.PutUint32(buf[0x1C:0x20], h.Flags)
	return buf
}

// UnpackHeader parses a 32-byte header. It fails with ErrInvalidMagic if the
// first four bytes are not "PSAR", with ErrTruncated if data is short, and
// ErrUnsupportedCodec if the codec tag is neither "zlib" nor "lzma".
func UnpackHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("container: header needs %d bytes, got %d: %w", HeaderSize, len(data), psarcerr.ErrTruncated)
	}
	if string(data[0x00:0x04]) != "PSAR" {
		return nil, fmt.Errorf("container: magic %q: %w", data[0x00:0x04], psarcerr.ErrInvalidMagic)
	}

	h := &Header{
		VersionMajor: binary.BigEndian.Uint16(data[0x04:0x06]),
		VersionMinor: binary.BigEndian.Uint16(data[0x06:0x08]),
		TOCLength:    binary.BigEndian.Uint32(data[0x0C:0x10]),
		EntryCount:   binary.BigEndian.Uint32(data[0x14:0x18]),
		BlockSize:    binary.BigEndian.Uint32(data[0x18:0x1C]),
		Flags:        binary.BigEndian.Uint32(data[0x1C:0x20]),
	}

	switch string(data[0x08:0x0C]) {
	case "lzma":
		h.Codec = CodecLzma2
	case "zlib":
		h.Codec = CodecZlib
	default:
		return nil, fmt.Errorf("container: codec tag %q: %w", data[0x08:0x0C], psarcerr.ErrUnsupportedCodec)
	}

	tocEntrySize := binary.BigEndian.Uint32(data[0x10:0x14])
	if tocEntrySize != TOCEntrySize {
		return nil, fmt.Errorf("container: toc_entry_size %d, want %d: %w", tocEntrySize, TOCEntrySize, psarcerr.ErrBadToc)
	}

	return h, nil
}
