// Package sink defines the notification delivery contract the trigger loops
// dispatch into, plus reference adapters (structured log, Telegram).
package sink

import (
	"context"

	"remindd/internal/reminder"
)

// Outcome reports per-recipient delivery results for one dispatch. An owner
// may have several registered recipients; some succeeding and some failing
// is normal and is never treated as a fatal error by the loops.
type Outcome struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Sink delivers a fired reminder to one owner's recipients.
//
// Dispatch returns an error only when delivery could not even be attempted
// (no recipients, transport unavailable). Partial failure is reported via
// Outcome.Failed with a nil error. There is no retry inside a fire event;
// redelivery, if any, happens on the next natural trigger.
type Sink interface {
	Dispatch(ctx context.Context, ownerID string, p reminder.Payload) (Outcome, error)
}
