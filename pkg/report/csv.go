package report

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVSink emits one row per entry event plus a trailing totals row, using
// stdlib encoding/csv.
type CSVSink struct {
	w   *csv.Writer
	hdr bool
}

// NewCSVSink creates a CSVSink writing to w.
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

func (s *CSVSink) writeHeaderOnce() {
	if s.hdr {
		return
	}
	s.hdr = true
	s.w.Write([]string{"name", "status", "uncompressed_size", "compressed_size", "detail"})
}

func (s *CSVSink) OpenArchive(info ArchiveInfo) {
	s.writeHeaderOnce()
}

func (s *CSVSink) BeginEntry(name string) {}

func (s *CSVSink) EndEntry(e EntryEvent) {
	s.writeHeaderOnce()
	s.w.Write([]string{
		e.Name,
		e.Status.String(),
		fmt.Sprintf("%d", e.UncompressedSize),
		fmt.Sprintf("%d", e.CompressedSize),
		e.Detail,
	})
}

func (s *CSVSink) Error(context string, err error) {
	s.writeHeaderOnce()
	s.w.Write([]string{context, "error", "", "", err.Error()})
}

func (s *CSVSink) Close(t Totals) {
	s.writeHeaderOnce()
	s.w.Write([]string{
		"TOTAL",
		fmt.Sprintf("ok=%d skip=%d fail=%d", t.EntriesOK, t.EntriesSkipped, t.EntriesFailed),
		fmt.Sprintf("%d", t.TotalUncompressed),
		fmt.Sprintf("%d", t.TotalCompressed),
		"",
	})
	s.w.Flush()
}
