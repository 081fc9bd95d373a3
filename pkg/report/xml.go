package report

import (
	"encoding/xml"
	"io"
)

// XMLSink writes a single "psarc-report" document incrementally, using
// stdlib encoding/xml.Encoder.
type XMLSink struct {
	enc *xml.Encoder
}

// NewXMLSink creates an XMLSink writing to w. The root element is opened
// immediately and must be closed by calling Close.
func NewXMLSink(w io.Writer) *XMLSink {
	s := &XMLSink{enc: xml.NewEncoder(w)}
	s.enc.Indent("", "  ")
	s.enc.EncodeToken(xml.StartElement{Name: xml.Name{Local: "psarc-report"}})
	return s
}

type xmlArchive struct {
	XMLName xml.Name `xml:"archive"`
	ArchiveInfo
}

type xmlEntry struct {
	XMLName xml.Name `xml:"entry"`
	EntryEvent
}

type xmlError struct {
	XMLName xml.Name `xml:"error"`
	Context string   `xml:"context,attr"`
	Message string    `xml:",chardata"`
}

type xmlTotals struct {
	XMLName xml.Name `xml:"totals"`
	Totals
}

func (s *XMLSink) OpenArchive(info ArchiveInfo) {
	s.enc.Encode(xmlArchive{ArchiveInfo: info})
}

func (s *XMLSink) BeginEntry(name string) {}

func (s *XMLSink) EndEntry(e EntryEvent) {
	s.enc.Encode(xmlEntry{EntryEvent: e})
}

func (s *XMLSink) Error(context string, err error) {
	s.enc.Encode(xmlError{Context: context, Message: err.Error()})
}

func (s *XMLSink) Close(t Totals) {
	s.enc.Encode(xmlTotals{Totals: t})
	s.enc.EncodeToken(xml.EndElement{Name: xml.Name{Local: "psarc-report"}})
	s.enc.Flush()
}
