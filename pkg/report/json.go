package report

import (
	"encoding/json"
	"io"
)

// JSONSink emits one JSON object per event, followed by a final summary
// object, using stdlib encoding/json.
type JSONSink struct {
	enc *json.Encoder
}

// NewJSONSink creates a JSONSink writing newline-delimited JSON to w.
func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

type jsonEvent struct {
	Event string       `json:"event"`
	Info  *ArchiveInfo `json:"archive,omitempty"`
	Entry *EntryEvent  `json:"entry,omitempty"`
	Name  string       `json:"name,omitempty"`
	Error string       `json:"error,omitempty"`
	Totals *Totals     `json:"totals,omitempty"`
}

func (s *JSONSink) OpenArchive(info ArchiveInfo) {
	s.enc.Encode(jsonEvent{Event: "open", Info: &info})
}

func (s *JSONSink) BeginEntry(name string) {
	s.enc.Encode(jsonEvent{Event: "begin_entry", Name: name})
}

func (s *JSONSink) EndEntry(e EntryEvent) {
	s.enc.Encode(jsonEvent{Event: "end_entry", Entry: &e})
}

func (s *JSONSink) Error(context string, err error) {
	s.enc.Encode(jsonEvent{Event: "error", Name: context, Error: err.Error()})
}

func (s *JSONSink) Close(t Totals) {
	s.enc.Encode(jsonEvent{Event: "close", Totals: &t})
}
