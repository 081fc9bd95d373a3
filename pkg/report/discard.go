package report

// DiscardSink drops every event. It stands in when a caller has no
// interest in reporting, so the core never needs nil checks.
type DiscardSink struct{}

func (DiscardSink) OpenArchive(ArchiveInfo) {}
func (DiscardSink) BeginEntry(string)       {}
func (DiscardSink) EndEntry(EntryEvent)     {}
func (DiscardSink) Error(string, error)     {}
func (DiscardSink) Close(Totals)            {}
