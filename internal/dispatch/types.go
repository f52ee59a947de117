package dispatch

import (
	"time"

	"remindd/internal/reminder"
	"remindd/internal/sink"
)

// Config controls the async dispatch pipeline.
//
// Defaults (applied in Apply): workers 2, queue 256, rate 5/s, send timeout 10s.
type Config struct {
	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration
}

// Event is published on the bus for every dispatch outcome
// ("dispatch.sent", "dispatch.failed", "dispatch.dropped").
type Event struct {
	OwnerID string        `json:"owner_id"`
	Kind    reminder.Kind `json:"kind"`
	ID      string        `json:"id"`
	Outcome sink.Outcome  `json:"outcome"`
	At      time.Time     `json:"at"`
	Error   string        `json:"error,omitempty"`
}

// HistoryItem is one entry of the in-memory send history (for status surfaces).
type HistoryItem struct {
	At      time.Time
	OwnerID string
	Kind    reminder.Kind
	ID      string
	Title   string
	Outcome sink.Outcome
	Error   string
}
