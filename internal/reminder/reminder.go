// Package reminder holds the reminder data model and the pure trigger
// evaluator shared by every deployment of the trigger loop.
//
// The matching rules used to live in three places (a cron handler, an
// in-process scheduler and a client poller) and drifted; here they exist
// once, side-effect free, so the polling loop and the batch pass cannot
// disagree about what fires.
package reminder

import (
	"fmt"
	"strings"
)

// Kind is a closed set. Evaluate switches over it exhaustively; adding a
// kind means adding a case there.
type Kind string

const (
	KindAlarm    Kind = "alarm"
	KindMedicine Kind = "medicine"
	KindMeeting  Kind = "meeting"
)

// Kinds returns every kind in evaluation order.
func Kinds() []Kind {
	return []Kind{KindAlarm, KindMedicine, KindMeeting}
}

func (k Kind) Valid() bool {
	switch k {
	case KindAlarm, KindMedicine, KindMeeting:
		return true
	}
	return false
}

// Reminder is the unified record shape for all three kinds.
//
// Field use per kind:
//   - Alarm: Times has exactly one entry; Date (one-shot) or Days
//     (recurring) or neither (fires next time the clock time occurs);
//     Active gates evaluation.
//   - Medicine: Times may hold several dose times; Date/Days unused;
//     Active is NOT consulted by the evaluator (the store filters it).
//   - Meeting: Times has exactly one entry; Date is required and must
//     equal the current date; Days unused; Active (the "enabled" flag)
//     gates evaluation.
type Reminder struct {
	Kind    Kind   `json:"kind"`
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// Times are "HH:mm" strings. Stored values may carry trailing seconds;
	// comparisons truncate to 5 characters.
	Times []string `json:"times"`

	Date string   `json:"date,omitempty"` // "YYYY-MM-DD"
	Days []string `json:"days,omitempty"` // "Sun".."Sat"

	Active bool `json:"active"`

	// Rendering data, opaque to the evaluator.
	Title      string `json:"title,omitempty"`
	Name       string `json:"name,omitempty"`   // medicine name
	Dosage     string `json:"dosage,omitempty"` // medicine dosage
	Location   string `json:"location,omitempty"`
	SpokenText string `json:"spoken_text,omitempty"`
	AudioRef   string `json:"audio_ref,omitempty"`
	ImageRef   string `json:"image_ref,omitempty"`
	Duration   int    `json:"duration_seconds,omitempty"`
	Loop       *bool  `json:"loop,omitempty"` // nil means true
	Voice      string `json:"voice,omitempty"`
}

// Key identifies a reminder across kinds (ids are only unique per kind).
func (r Reminder) Key() string {
	return string(r.Kind) + ":" + r.ID
}

// Payload is what a fired reminder hands to the notification sink,
// passed through unchanged by the trigger loop.
type Payload struct {
	Kind       Kind   `json:"kind"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	SpokenText string `json:"spoken_text,omitempty"`
	AudioRef   string `json:"audio_ref,omitempty"`
	ImageRef   string `json:"image_ref,omitempty"`
	Duration   int    `json:"duration_seconds"`
	Loop       bool   `json:"loop"`
	Voice      string `json:"voice,omitempty"`
}

// Payload renders the sink payload with the per-kind default texts.
func (r Reminder) Payload() Payload {
	p := Payload{
		Kind:       r.Kind,
		ID:         r.ID,
		SpokenText: r.SpokenText,
		AudioRef:   r.AudioRef,
		ImageRef:   r.ImageRef,
		Duration:   r.Duration,
		Loop:       r.Loop == nil || *r.Loop,
		Voice:      r.Voice,
	}
	if p.Duration <= 0 {
		p.Duration = 30
	}

	switch r.Kind {
	case KindMedicine:
		name := r.Name
		if name == "" {
			name = "Medicine"
		}
		p.Title = "Medicine: " + name
		p.Body = r.SpokenText
		if p.Body == "" {
			p.Body = "Time to take " + name
			if r.Dosage != "" {
				p.Body += " - " + r.Dosage
			}
		}
	case KindMeeting:
		title := r.Title
		if title == "" {
			title = "Meeting"
		}
		p.Title = "Meeting: " + title
		p.Body = r.SpokenText
		if p.Body == "" {
			p.Body = title
			if r.Location != "" {
				p.Body += " at " + r.Location
			}
		}
	default:
		p.Title = r.Title
		if p.Title == "" {
			p.Title = "Alarm"
		}
		p.Body = r.SpokenText
		if p.Body == "" {
			p.Body = fmt.Sprintf("%s - Time to wake up!", p.Title)
		}
	}
	return p
}

// Validate reports structural problems. It does not enforce the
// "exactly one recurrence mode" invariant: the record format allows a date
// and a day-set to coexist, and the evaluator pins down what happens then.
func (r Reminder) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown reminder kind %q", r.Kind)
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%s reminder: id required", r.Kind)
	}
	if len(r.Times) == 0 {
		return fmt.Errorf("%s %s: at least one time required", r.Kind, r.ID)
	}
	if r.Kind != KindMedicine && len(r.Times) != 1 {
		return fmt.Errorf("%s %s: exactly one time allowed", r.Kind, r.ID)
	}
	if r.Kind == KindMeeting && strings.TrimSpace(r.Date) == "" {
		return fmt.Errorf("meeting %s: date required", r.ID)
	}
	return nil
}
