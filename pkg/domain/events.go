package domain

import "time"

// Event is a typed notification published by the journal while it works.
// Presentation layers subscribe by handing a channel to the app.
type Event interface {
	EventName() string
}

type EntrySaved struct {
	ID int64
}

type RecordSkipped struct {
	ID  int64
	Err error
}

type StorageRetry struct {
	Attempt int
	Wait    time.Duration
	Err     error
}

type ReportAttempt struct {
	Provider string
	Err      error
}

type ReportReady struct {
	Source ReportSource
}

type ImportChecksumMismatch struct {
	Expected string
	Actual   string
}

func (EntrySaved) EventName() string             { return "entry_saved" }
func (RecordSkipped) EventName() string          { return "record_skipped" }
func (StorageRetry) EventName() string           { return "storage_retry" }
func (ReportAttempt) EventName() string          { return "report_attempt" }
func (ReportReady) EventName() string            { return "report_ready" }
func (ImportChecksumMismatch) EventName() string { return "import_checksum_mismatch" }

// Emit delivers ev to sink without blocking. A nil sink or a full buffer
// drops the event.
func Emit(sink chan<- Event, ev Event) bool {
	if sink == nil {
		return false
	}
	select {
	case sink <- ev:
		return true
	default:
		return false
	}
}
