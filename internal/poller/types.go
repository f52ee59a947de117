package poller

import (
	"context"
	"time"

	"remindd/internal/reminder"
)

// Config controls the polling trigger loop.
//
// Defaults (applied in New/Apply):
//   - Tick: 1s
//   - Timezone: config.DefaultTimezone
//   - SnoozeDefault: 5m
type Config struct {
	Tick          time.Duration
	Timezone      string
	SnoozeDefault time.Duration
}

// Dispatcher is what the loop needs from the dispatch pipeline. Enqueue must
// not block the tick; delivery happens asynchronously.
type Dispatcher interface {
	Enqueue(ctx context.Context, ownerID string, p reminder.Payload) error
}

// firingState is the per-reminder in-memory trigger state. Entries are
// created lazily on first evaluation and live only for the process lifetime;
// nothing here is ever persisted.
type firingState struct {
	// firing marks the reminder as inside its fired/ringing window so a
	// 1-second tick doesn't re-dispatch for the full matching minute.
	firing bool

	// oneShot remembers that the *displayed* instance fired via a date
	// match. Consumed at dismiss time: deactivation is deferred until the
	// user acknowledges, so snoozing a date alarm does not prematurely
	// deactivate it.
	oneShot bool

	// dismissedAtMinute suppresses an immediate re-fire within the minute
	// the user dismissed ("HH:mm"); cleared when the minute rolls over.
	dismissedAtMinute string

	// snoozeUntil suspends normal matching while set; the snooze timer
	// re-fires at the deadline, bypassing the evaluator.
	snoozeUntil time.Time

	// Last-known display data, used to reconstruct a snoozed reminder whose
	// record disappeared from the store before the deadline.
	ownerID string
	payload reminder.Payload
}

// FireEvent is the bus payload for "reminder.fired" / "reminder.snoozed" /
// "reminder.dismissed".
type FireEvent struct {
	Kind    reminder.Kind `json:"kind"`
	ID      string        `json:"id"`
	OwnerID string        `json:"owner_id,omitempty"`
	Minute  string        `json:"minute,omitempty"` // minute key of the tick
	OneShot bool          `json:"one_shot,omitempty"`
	Snoozed bool          `json:"snoozed,omitempty"` // fired via snooze deadline
	Until   time.Time     `json:"until,omitzero"`    // snooze deadline
}
