package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/reminder"
	"remindd/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type memSource struct {
	mu        sync.Mutex
	reminders []reminder.Reminder
	err       error
}

func (m *memSource) ListActive(_ context.Context, kind reminder.Kind) ([]reminder.Reminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []reminder.Reminder
	for _, r := range m.reminders {
		if r.Kind == kind && r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSource) SetActive(_ context.Context, kind reminder.Kind, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range m.reminders {
		if m.reminders[i].Kind == kind && m.reminders[i].ID == id {
			m.reminders[i].Active = active
		}
	}
	return nil
}

func (m *memSource) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *memSource) remove(kind reminder.Kind, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.reminders[:0]
	for _, r := range m.reminders {
		if r.Kind != kind || r.ID != id {
			kept = append(kept, r)
		}
	}
	m.reminders = kept
}

type sent struct {
	ownerID string
	payload reminder.Payload
}

type fakeDispatch struct {
	mu   sync.Mutex
	sent []sent
}

func (d *fakeDispatch) Enqueue(_ context.Context, ownerID string, p reminder.Payload) error {
	d.mu.Lock()
	d.sent = append(d.sent, sent{ownerID: ownerID, payload: p})
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatch) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *fakeDispatch) last() sent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, loc)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func newTestPoller(src *memSource, clock *fakeClock) (*Service, *fakeDispatch) {
	disp := &fakeDispatch{}
	s := New(Config{SnoozeDefault: 30 * time.Millisecond}, src, src, disp, clock, logx.Nop(), nil)
	return s, disp
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestTickDedupWithinMinute(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindAlarm, ID: "a1", OwnerID: "u1", Title: "Wake", Times: []string{"07:00"}, Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	base := at(t, "2026-09-01 07:00:00")
	for i := 0; i < 60; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		clock.set(now)
		s.tick(ctx, now)
	}
	if got := disp.count(); got != 1 {
		t.Fatalf("dispatches in matching minute = %d, want 1", got)
	}

	// The popup is still open: the next day's match must not stack a second
	// fire on top of it.
	next := at(t, "2026-09-02 07:00:00")
	clock.set(next)
	s.tick(ctx, next)
	if got := disp.count(); got != 1 {
		t.Fatalf("dispatches with popup still open = %d, want 1", got)
	}

	if err := s.Dismiss(ctx, reminder.KindAlarm, "a1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	// Minute rolls over, state re-arms, the following day fires again.
	clock.set(next.Add(2 * time.Minute))
	s.tick(ctx, next.Add(2*time.Minute))
	after := at(t, "2026-09-03 07:00:00")
	clock.set(after)
	s.tick(ctx, after)
	if got := disp.count(); got != 2 {
		t.Fatalf("dispatches after dismiss and next-day match = %d, want 2", got)
	}
}

func TestDismissSuppressesSameMinute(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindAlarm, ID: "a1", OwnerID: "u1", Times: []string{"08:15"}, Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	fire := at(t, "2026-09-01 08:15:03")
	clock.set(fire)
	s.tick(ctx, fire)
	if disp.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", disp.count())
	}

	clock.set(at(t, "2026-09-01 08:15:10"))
	if err := s.Dismiss(ctx, reminder.KindAlarm, "a1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	for sec := 11; sec < 60; sec++ {
		now := fire.Add(time.Duration(sec-3) * time.Second)
		clock.set(now)
		s.tick(ctx, now)
	}
	if got := disp.count(); got != 1 {
		t.Fatalf("dispatches after dismiss within minute = %d, want 1", got)
	}
}

func TestOneShotDeactivatesOnDismiss(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindAlarm, ID: "a1", OwnerID: "u1", Times: []string{"06:30"}, Date: "2026-09-01", Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	now := at(t, "2026-09-01 06:30:00")
	clock.set(now)
	s.tick(ctx, now)
	if disp.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", disp.count())
	}

	// Still active until the user acknowledges.
	active, _ := src.ListActive(ctx, reminder.KindAlarm)
	if len(active) != 1 {
		t.Fatalf("active before dismiss = %d, want 1", len(active))
	}

	if err := s.Dismiss(ctx, reminder.KindAlarm, "a1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	active, _ = src.ListActive(ctx, reminder.KindAlarm)
	if len(active) != 0 {
		t.Fatalf("active after dismiss = %d, want 0", len(active))
	}

	clock.set(now.Add(2 * time.Minute))
	s.tick(ctx, now.Add(2*time.Minute))
	clock.set(now.Add(24 * time.Hour))
	s.tick(ctx, now.Add(24*time.Hour))
	if got := disp.count(); got != 1 {
		t.Fatalf("dispatches after deactivation = %d, want 1", got)
	}
}

func TestSnoozeRefiresWithCachedPayload(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindMedicine, ID: "m1", OwnerID: "u1", Name: "Aspirin", Dosage: "1 tablet", Times: []string{"09:00"}, Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	now := at(t, "2026-09-01 09:00:00")
	clock.set(now)
	s.tick(ctx, now)
	if disp.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", disp.count())
	}

	// Record disappears while snoozed; the re-fire must fall back to the
	// payload captured at fire time.
	src.remove(reminder.KindMedicine, "m1")
	if err := s.Snooze(ctx, reminder.KindMedicine, "m1", 20*time.Millisecond); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	waitFor(t, func() bool { return disp.count() == 2 }, "snoozed reminder never re-fired")
	if got := disp.last().payload.Body; got != "Time to take Aspirin - 1 tablet" {
		t.Fatalf("re-fire body = %q, want cached payload", got)
	}
}

func TestDismissCancelsPendingSnooze(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindAlarm, ID: "a1", OwnerID: "u1", Times: []string{"06:00"}, Date: "2026-09-01", Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	now := at(t, "2026-09-01 06:00:00")
	clock.set(now)
	s.tick(ctx, now)
	if err := s.Snooze(ctx, reminder.KindAlarm, "a1", 40*time.Millisecond); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	// Snoozing must not deactivate a date-matched alarm.
	active, _ := src.ListActive(ctx, reminder.KindAlarm)
	if len(active) != 1 {
		t.Fatalf("active after snooze = %d, want 1", len(active))
	}

	if err := s.Dismiss(ctx, reminder.KindAlarm, "a1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if got := disp.count(); got != 1 {
		t.Fatalf("dispatches after dismissed snooze = %d, want 1", got)
	}
	// The dismiss still consumes the retained one-shot flag.
	active, _ = src.ListActive(ctx, reminder.KindAlarm)
	if len(active) != 0 {
		t.Fatalf("active after dismiss = %d, want 0", len(active))
	}
}

func TestMedicineFiresPerDose(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindMedicine, ID: "m1", OwnerID: "u1", Name: "Metformin", Times: []string{"09:00", "21:00"}, Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	morning := at(t, "2026-09-01 09:00:00")
	clock.set(morning)
	s.tick(ctx, morning)
	if err := s.Dismiss(ctx, reminder.KindMedicine, "m1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	evening := at(t, "2026-09-01 21:00:00")
	for i := 0; i < 10; i++ {
		now := evening.Add(time.Duration(i) * time.Second)
		clock.set(now)
		s.tick(ctx, now)
	}
	if got := disp.count(); got != 2 {
		t.Fatalf("dispatches across doses = %d, want 2", got)
	}
}

func TestFetchErrorSkipsTick(t *testing.T) {
	t.Parallel()
	src := &memSource{reminders: []reminder.Reminder{
		{Kind: reminder.KindAlarm, ID: "a1", OwnerID: "u1", Times: []string{"10:00"}, Active: true},
	}}
	clock := &fakeClock{}
	s, disp := newTestPoller(src, clock)
	ctx := context.Background()

	now := at(t, "2026-09-01 10:00:00")
	clock.set(now)
	s.tick(ctx, now)
	if disp.count() != 1 {
		t.Fatalf("dispatches = %d, want 1", disp.count())
	}

	// A failing tick leaves firing state untouched: once the store recovers
	// inside the same minute there is no duplicate dispatch.
	src.setErr(errors.New("store down"))
	clock.set(now.Add(20 * time.Second))
	s.tick(ctx, now.Add(20*time.Second))
	src.setErr(nil)
	clock.set(now.Add(30 * time.Second))
	s.tick(ctx, now.Add(30*time.Second))
	if got := disp.count(); got != 1 {
		t.Fatalf("dispatches after store recovery = %d, want 1", got)
	}
}

func TestSnoozeRequiresFiredInstance(t *testing.T) {
	t.Parallel()
	src := &memSource{}
	s, _ := newTestPoller(src, &fakeClock{t: at(t, "2026-09-01 12:00:00")})
	if err := s.Snooze(context.Background(), reminder.KindAlarm, "missing", time.Minute); !errors.Is(err, ErrNotFiring) {
		t.Fatalf("snooze error = %v, want ErrNotFiring", err)
	}
}
