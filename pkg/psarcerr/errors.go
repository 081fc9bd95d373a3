// Package psarcerr defines the sentinel error taxonomy shared by every
// PSARC subsystem, wrapped with context via fmt.Errorf("...: %w", err).
package psarcerr

import "errors"

var (
	// Structural errors
	ErrInvalidMagic     = errors.New("invalid PSARC magic")
	ErrUnsupportedCodec = errors.New("unsupported codec tag")
	ErrBadToc           = errors.New("malformed table of contents")
	ErrTruncated        = errors.New("archive truncated")

	// Pipeline errors
	ErrDecodeError  = errors.New("codec rejected block payload")
	ErrSizeMismatch = errors.New("decoded block size mismatch")
	ErrOutOfMemory  = errors.New("allocation failed")

	// Writer/reader errors
	ErrConflict = errors.New("output already exists")
	ErrNoInputs = errors.New("no matching files to archive")

	// Io has no sentinel of its own: wrap the underlying os/io error
	// directly, e.g. fmt.Errorf("opening input: %w", err).
)
