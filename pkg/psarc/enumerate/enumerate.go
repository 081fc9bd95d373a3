// Package enumerate expands glob-style file patterns into a deduplicated,
// canonicalised list of regular files.
package enumerate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/karrick/godirwalk"
)

// Flags controls how a single pattern is expanded.
type Flags struct {
	Recursive       bool
	CaseInsensitive bool
}

// Enumerator accumulates matches from successive AddPattern calls into a
// single deduplicated, ordered file list.
type Enumerator struct {
	// BaseDir anchors relative patterns. Patterns are resolved against it
	// explicitly rather than via os.Chdir, which is not safe to share
	// across concurrent callers.
	BaseDir string

	seen  map[string]struct{}
	files []string
}

// New creates an Enumerator rooted at baseDir ("" means the process's
// current working directory).
func New(baseDir string) *Enumerator {
	return &Enumerator{BaseDir: baseDir, seen: make(map[string]struct{})}
}

// Files returns the accumulated, deduplicated, ordered list of stored paths.
func (e *Enumerator) Files() []string {
	return e.files
}

// AddPattern expands pattern and appends newly discovered regular files to
// the enumerator's list, in match order, skipping duplicates.
func (e *Enumerator) AddPattern(pattern string, flags Flags) error {
	expanded, err := expandTilde(pattern)
	if err != nil {
		return fmt.Errorf("enumerate: expanding ~ in %q: %w", pattern, err)
	}

	for _, alt := range expandBraces(expanded) {
		matchPattern := alt
		if flags.CaseInsensitive {
			matchPattern = icasePattern(alt)
		}

		resolved := matchPattern
		if e.BaseDir != "" && !filepath.IsAbs(matchPattern) {
			resolved = filepath.Join(e.BaseDir, matchPattern)
		}

		matches, err := filepath.Glob(resolved)
		if err != nil {
			return fmt.Errorf("enumerate: glob %q: %w", resolved, err)
		}

		for _, m := range matches {
			if err := e.visit(m, flags); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Enumerator) visit(path string, flags Flags) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("enumerate: stat %q: %w", path, err)
	}

	switch {
	case info.IsDir():
		if !flags.Recursive {
			return nil
		}
		return godirwalk.Walk(path, &godirwalk.Options{
			Unsorted: false,
			Callback: func(osPathname string, de *godirwalk.Dirent) error {
				if de.IsDir() || de.IsSymlink() {
					return nil
				}
				if !de.IsRegular() {
					return nil
				}
				return e.push(osPathname)
			},
		})
	case info.Mode().IsRegular():
		return e.push(path)
	default:
		// Symlinks and special files are silently skipped.
		return nil
	}
}

// push records a matched regular file: canonicalise for dedup, then store
// either the cleaned base-relative form or, for paths that climb above the
// base via "../", the canonical absolute form.
func (e *Enumerator) push(path string) error {
	canonical, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("enumerate: resolving %q: %w", path, err)
	}
	canonical = filepath.Clean(canonical)

	if _, dup := e.seen[canonical]; dup {
		return nil
	}
	e.seen[canonical] = struct{}{}

	stored := path
	if e.BaseDir != "" {
		if rel, rerr := filepath.Rel(e.BaseDir, path); rerr == nil {
			stored = rel
		}
	}
	stored = stripDotSlash(filepath.ToSlash(stored))
	if strings.HasPrefix(stored, "../") || stored == ".." {
		stored = canonical
	}

	e.files = append(e.files, filepath.ToSlash(stored))
	return nil
}

// stripDotSlash removes leading "./" run-prefixes.
func stripDotSlash(path string) string {
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	return path
}

// icasePattern wraps every alphabetic rune in pattern with a two-case
// character class, e.g. "c" -> "[cC]", so a case-sensitive glob matches
// case-insensitively.
func icasePattern(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern) * 4)
	for _, r := range pattern {
		if unicode.IsLetter(r) {
			b.WriteByte('[')
			b.WriteRune(unicode.ToLower(r))
			b.WriteRune(unicode.ToUpper(r))
			b.WriteByte(']')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// expandTilde replaces a leading "~" or "~/..." with the user's home
// directory.
func expandTilde(pattern string) (string, error) {
	if pattern != "~" && !strings.HasPrefix(pattern, "~/") {
		return pattern, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if pattern == "~" {
		return home, nil
	}
	return filepath.Join(home, pattern[2:]), nil
}

// expandBraces performs a single level of shell-style brace expansion,
// e.g. "img.{png,jpg}" -> ["img.png", "img.jpg"]. Nested braces are not
// supported, matching the scope of patterns this archive engine accepts.
func expandBraces(pattern string) []string {
	start := strings.IndexByte(pattern, '{')
	if start < 0 {
		return []string{pattern}
	}
	end := strings.IndexByte(pattern[start:], '}')
	if end < 0 {
		return []string{pattern}
	}
	end += start

	prefix, body, suffix := pattern[:start], pattern[start+1:end], pattern[end+1:]
	alternatives := strings.Split(body, ",")

	var out []string
	for _, alt := range alternatives {
		out = append(out, prefix+alt+suffix)
	}
	return out
}
