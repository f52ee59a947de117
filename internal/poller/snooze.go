package poller

import (
	"context"
	"time"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

// Snooze clears the fired instance and schedules a re-fire after d
// (the configured default when d <= 0). The re-fire bypasses the evaluator:
// it happens at the deadline regardless of whether the record still matches,
// using cached display data if the record has been deleted.
//
// Snoozing a date-matched alarm does not deactivate it; deactivation waits
// for the eventual dismiss.
func (s *Service) Snooze(ctx context.Context, kind reminder.Kind, id string, d time.Duration) error {
	s.mu.Lock()
	if d <= 0 {
		d = s.cfg.SnoozeDefault
	}
	s.mu.Unlock()

	key := string(kind) + ":" + id
	now := s.clock.Now()
	until := now.Add(d)

	s.smu.Lock()
	st := s.state[key]
	if st == nil || (!st.firing && st.snoozeUntil.IsZero()) {
		s.smu.Unlock()
		return ErrNotFiring
	}
	st.firing = false
	st.snoozeUntil = until
	ownerID := st.ownerID
	if s.displayed == key {
		s.displayed = ""
	}
	s.smu.Unlock()

	s.schedule(key, d, func(ctx context.Context) { s.refire(ctx, kind, id, key) })

	s.publish("reminder.snoozed", FireEvent{Kind: kind, ID: id, OwnerID: ownerID, Until: until})
	s.log.Info("reminder snoozed",
		logx.String("kind", string(kind)),
		logx.String("id", id),
		logx.Duration("for", d))
	return nil
}

// Dismiss acknowledges the fired instance: any pending snooze timer is
// cancelled synchronously, re-fires within the current minute are suppressed,
// and a date-matched alarm is deactivated now rather than at fire time, so a
// store hiccup can at worst repeat the reminder instead of losing it.
func (s *Service) Dismiss(ctx context.Context, kind reminder.Kind, id string) error {
	key := string(kind) + ":" + id
	s.cancelTimer(key)

	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	inst := reminder.InstantAt(s.clock.Now(), loc)

	s.smu.Lock()
	st := s.state[key]
	if st == nil {
		s.smu.Unlock()
		return nil
	}
	st.firing = false
	st.snoozeUntil = time.Time{}
	st.dismissedAtMinute = inst.Time
	oneShot := st.oneShot
	st.oneShot = false
	ownerID := st.ownerID
	if s.displayed == key {
		s.displayed = ""
	}
	s.smu.Unlock()

	s.publish("reminder.dismissed", FireEvent{Kind: kind, ID: id, OwnerID: ownerID, Minute: inst.MinuteKey(), OneShot: oneShot})
	s.log.Info("reminder dismissed",
		logx.String("kind", string(kind)),
		logx.String("id", id),
		logx.Bool("one_shot", oneShot))

	if oneShot && s.deact != nil {
		if err := s.deact.SetActive(ctx, kind, id, false); err != nil {
			// The reminder stays active and may fire again; the user gets
			// another chance to dismiss rather than silently losing it.
			s.log.Warn("one-shot deactivation failed",
				logx.String("kind", string(kind)),
				logx.String("id", id),
				logx.Err(err))
			s.publish("deactivate.failed", FireEvent{Kind: kind, ID: id, OwnerID: ownerID})
		}
	}
	return nil
}

// refire fires a snoozed reminder at its deadline. The live record is
// preferred for fresh display data; a deleted record falls back to the
// snapshot captured when it last fired.
func (s *Service) refire(ctx context.Context, kind reminder.Kind, id string, key string) {
	var live *reminder.Reminder
	if s.src != nil {
		if items, err := s.src.ListActive(ctx, kind); err == nil {
			for i := range items {
				if items[i].ID == id {
					live = &items[i]
					break
				}
			}
		} else {
			s.log.Warn("snooze re-fire fetch failed, using cached payload",
				logx.String("kind", string(kind)),
				logx.String("id", id),
				logx.Err(err))
		}
	}

	s.smu.Lock()
	st := s.state[key]
	if st == nil || st.snoozeUntil.IsZero() {
		// Dismissed (or lost) while the timer was in flight.
		s.smu.Unlock()
		return
	}
	st.snoozeUntil = time.Time{}
	st.firing = true
	if live != nil {
		st.ownerID = live.OwnerID
		st.payload = live.Payload()
	}
	ownerID := st.ownerID
	payload := st.payload
	if s.displayed == "" {
		s.displayed = key
	}
	s.smu.Unlock()

	s.publish("reminder.fired", FireEvent{Kind: kind, ID: id, OwnerID: ownerID, Snoozed: true})
	s.log.Info("snoozed reminder fired",
		logx.String("kind", string(kind)),
		logx.String("id", id))
	if err := s.disp.Enqueue(ctx, ownerID, payload); err != nil {
		s.log.Warn("dispatch enqueue failed",
			logx.String("kind", string(kind)),
			logx.String("id", id),
			logx.Err(err))
	}
}

// schedule arms a one-shot timer for key, replacing any pending one. The
// version counter makes a stopped timer's in-flight callback a no-op.
func (s *Service) schedule(key string, d time.Duration, fn func(context.Context)) {
	s.tmu.Lock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.ver[key]++
	ver := s.ver[key]
	s.timers[key] = time.AfterFunc(d, func() {
		s.tmu.Lock()
		if s.ver[key] != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.timers, key)
		s.tmu.Unlock()

		s.mu.Lock()
		ctx := s.runCtx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		fn(ctx)
	})
	s.tmu.Unlock()
}

func (s *Service) cancelTimer(key string) {
	s.tmu.Lock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	s.ver[key]++
	s.tmu.Unlock()
}
