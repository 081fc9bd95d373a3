// Package manifest encodes and decodes the filename list stored as entry 0
// of a PSARC archive.
package manifest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/archivekit/psarc/pkg/psarcerr"
)

// Flags controls path normalisation when building manifest bytes.
type Flags struct {
	AbsolutePaths bool
	TrimPaths     bool
}

// Normalize applies the path normalisation rules to a single stored
// filename, in order: backslash conversion, drive-letter stripping,
// absolute/relative adjustment, then basename trimming.
func Normalize(name string, f Flags) string {
	name = strings.ReplaceAll(name, "\\", "/")

	if f.AbsolutePaths {
		if idx := strings.Index(name, ":/"); idx >= 0 && idx <= 2 {
			name = name[idx+2:]
		}
		if !strings.HasPrefix(name, "/") {
			name = "/" + name
		}
	} else {
		name = strings.TrimLeft(name, "/")
	}

	if f.TrimPaths {
		if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
			name = name[idx+1:]
		}
	}

	return name
}

// Encode joins the normalised names of entries 1..N with '\n', no trailing
// separator.
func Encode(names []string, f Flags) []byte {
	normalized := make([]string, len(names))
	for i, n := range names {
		normalized[i] = Normalize(n, f)
	}
	return []byte(strings.Join(normalized, "\n"))
}

// Decode splits manifest bytes into filenames and verifies the count
// matches wantCount (entry_count-1). Third-party producers do not enforce
// this check; here a mismatch is rejected.
func Decode(data []byte, wantCount int) ([]string, error) {
	buf := append(bytes.TrimRight(data, "\x00"), 0)
	buf = buf[:len(buf)-1]

	var names []string
	if len(buf) == 0 {
		names = []string{}
	} else {
		names = strings.Split(string(buf), "\n")
	}

	if len(names) != wantCount {
		return nil, fmt.Errorf("manifest: decoded %d names, want %d: %w", len(names), wantCount, psarcerr.ErrTruncated)
	}

	return names, nil
}
