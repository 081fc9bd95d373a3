package report

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// StandardSink prints human-readable lines, colorized when the underlying
// writer is a terminal. It is the default when no output format is named.
type StandardSink struct {
	w         io.Writer
	colorized bool
}

// NewStandardSink creates a StandardSink writing to w. Colorization is
// auto-disabled when w is not a terminal, checked once here via the same
// go-isatty guard fatih/color itself uses internally.
func NewStandardSink(w io.Writer) *StandardSink {
	colorized := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		colorized = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &StandardSink{w: w, colorized: colorized}
}

func (s *StandardSink) paint(c *color.Color, text string) string {
	if !s.colorized {
		return text
	}
	return c.Sprint(text)
}

func (s *StandardSink) OpenArchive(info ArchiveInfo) {
	fmt.Fprintf(s.w, "psarc: %s %s (codec=%s, block_size=%d, entries=%d)\n",
		info.Mode, info.Path, info.Codec, info.BlockSize, info.EntryCount)
}

func (s *StandardSink) BeginEntry(name string) {
	fmt.Fprintf(s.w, "  %s ... ", name)
}

func (s *StandardSink) EndEntry(e EntryEvent) {
	var label string
	switch e.Status {
	case StatusOK:
		label = s.paint(color.New(color.FgGreen), "ok")
	case StatusSkipped:
		label = s.paint(color.New(color.FgYellow), "skip")
	case StatusFailed:
		label = s.paint(color.New(color.FgRed), "fail")
	}
	if e.Detail != "" {
		fmt.Fprintf(s.w, "%s (%s)\n", label, e.Detail)
	} else {
		fmt.Fprintf(s.w, "%s (%d -> %d bytes)\n", label, e.UncompressedSize, e.CompressedSize)
	}
}

func (s *StandardSink) Error(context string, err error) {
	label := s.paint(color.New(color.FgRed, color.Bold), "error")
	fmt.Fprintf(s.w, "psarc: %s: %s: %v\n", label, context, err)
}

func (s *StandardSink) Close(t Totals) {
	fmt.Fprintf(s.w, "psarc: %d ok, %d skipped, %d failed (%d -> %d bytes)\n",
		t.EntriesOK, t.EntriesSkipped, t.EntriesFailed, t.TotalUncompressed, t.TotalCompressed)
}
