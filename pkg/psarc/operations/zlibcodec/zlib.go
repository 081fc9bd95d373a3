// Package zlibcodec implements the zlib per-block codec.
package zlibcodec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/archivekit/psarc/pkg/psarc/operations"
	"github.com/archivekit/psarc/pkg/psarcerr"
)

func init() {
	operations.Register(New(zlib.DefaultCompression))
}

// Operation is the zlib codec at a fixed compression level.
type Operation struct {
	operations.BaseOperation
	Level int
}

// New creates a zlib codec at the given compression level (0-9, or
// zlib.DefaultCompression).
func New(level int) *Operation {
	return &Operation{
		BaseOperation: operations.BaseOperation{OpID: operations.IDZlib, OpName: "zlib"},
		Level:         level,
	}
}

func (o *Operation) Encode(input []byte) ([]byte, error) {
	var buf bytes.Buffer

	zw, err := zlib.NewWriterLevel(&buf, o.Level)
	if err != nil {
		return nil, fmt.Errorf("zlibcodec: creating writer: %w", err)
	}
	if _, err := zw.Write(input); err != nil {
		zw.Close()
		return nil, fmt.Errorf("zlibcodec: writing block: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zlibcodec: closing writer: %w", err)
	}

	return buf.Bytes(), nil
}

func (o *Operation) Decode(input []byte, naturalSize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(input))
	if err != nil {
		return nil, fmt.Errorf("zlibcodec: creating reader: %w: %w", err, psarcerr.ErrDecodeError)
	}
	defer zr.Close()

	out := make([]byte, naturalSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, fmt.Errorf("zlibcodec: reading block: %w: %w", err, psarcerr.ErrDecodeError)
	}

	return out, nil
}

// HasSignature reports whether the leading bytes of a block payload are a
// zlib stream header.
func HasSignature(b []byte) bool {
	if len(b) < 2 || b[0] != 0x78 {
		return false
	}
	switch b[1] {
	case 0x01, 0x5E, 0x9C, 0xDA:
		return true
	default:
		return false
	}
}
