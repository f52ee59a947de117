package reminder

// Match is the evaluator's verdict for one reminder at one instant.
type Match struct {
	Fire bool

	// OneShot is true when the firing was gated by an exact calendar date
	// on an alarm; the loop must deactivate such reminders after the user
	// acknowledges them. A weekday match never sets it, and meetings are
	// left active after firing (they have no recurrence to suppress).
	OneShot bool

	// MatchedTime is the schedule time ("HH:mm") that matched; for
	// medicines it says which dose fired.
	MatchedTime string
}

// Evaluate decides whether r should fire at now. It is pure: no clock reads,
// no store access, no side effects.
//
// All time comparisons are string equality on zero-padded "HH:mm". There is
// no tolerance window; an evaluation pass that skips a minute misses that
// minute's reminders.
func Evaluate(r Reminder, now Instant) Match {
	switch r.Kind {
	case KindMedicine:
		// Medicines carry no active flag at this layer; any populated dose
		// time that matches the current minute fires. One dose firing does
		// not affect the day's other doses.
		for _, ts := range r.Times {
			if timeMatches(ts, now.Time) {
				return Match{Fire: true, MatchedTime: truncHHMM(ts)}
			}
		}
		return Match{}

	case KindMeeting:
		// Meetings require enabled + time + exact date. No weekday
		// recurrence: a populated Days field is ignored.
		if !r.Active || len(r.Times) == 0 {
			return Match{}
		}
		if !timeMatches(r.Times[0], now.Time) || r.Date != now.Date {
			return Match{}
		}
		return Match{Fire: true, MatchedTime: truncHHMM(r.Times[0])}

	case KindAlarm:
		if !r.Active || len(r.Times) == 0 {
			return Match{}
		}
		if !timeMatches(r.Times[0], now.Time) {
			return Match{}
		}
		dateMatch := r.Date != "" && r.Date == now.Date
		dayMatch := len(r.Days) > 0 && containsDay(r.Days, now.Day)
		unconstrained := r.Date == "" && len(r.Days) == 0
		if dateMatch || dayMatch || unconstrained {
			return Match{Fire: true, OneShot: dateMatch, MatchedTime: truncHHMM(r.Times[0])}
		}
		return Match{}
	}
	return Match{}
}

// timeMatches compares at minute granularity. Stored times may carry
// trailing seconds ("07:05:00"); both sides are truncated to "HH:mm".
func timeMatches(scheduled, now string) bool {
	return truncHHMM(scheduled) == truncHHMM(now)
}

func truncHHMM(s string) string {
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

func containsDay(days []string, day string) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
