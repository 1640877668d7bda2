package worker

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the messages a worker emits.
type EventKind int

const (
	// EventProgress reports bytes written so far.
	EventProgress EventKind = iota
	// EventCompleted reports that the whole body was written to disk.
	EventCompleted
	// EventFailed reports a terminal failure with a human-readable message.
	EventFailed
)

// Event is the only way a worker communicates with the orchestrator. Events
// from one worker arrive in emission order; nothing is guaranteed across
// workers.
type Event struct {
	Kind       EventKind
	DownloadID uuid.UUID
	Downloaded int64
	Total      int64 // 0 when the length is unknown
	Speed      int64 // bytes/sec over the last progress window
	Message    string
	Timestamp  time.Time
}
