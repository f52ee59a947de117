package reminder

import "time"

// Clock abstracts "now" so loop tests can tick manually.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Instant is one consistent snapshot of the current minute in the canonical
// timezone. Time, Day and Date are always derived from the same instant so a
// single evaluation pass cannot straddle a minute or midnight boundary.
type Instant struct {
	At   time.Time
	Time string // "HH:mm", zero-padded
	Day  string // "Sun".."Sat"
	Date string // "YYYY-MM-DD"
}

// InstantAt projects t into loc and derives the matching fields.
func InstantAt(t time.Time, loc *time.Location) Instant {
	tt := t.In(loc)
	return Instant{
		At:   tt,
		Time: tt.Format("15:04"),
		Day:  tt.Format("Mon"),
		Date: tt.Format("2006-01-02"),
	}
}

// MinuteKey uniquely identifies the wall-clock minute of this instant.
func (i Instant) MinuteKey() string { return i.Date + " " + i.Time }
