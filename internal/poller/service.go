package poller

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"remindd/internal/config"
	"remindd/internal/eventbus"
	"remindd/internal/reminder"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// ErrNotFiring is returned by Snooze when the reminder has no fired instance
// to act on.
var ErrNotFiring = errors.New("poller: reminder is not firing")

const (
	defaultTick          = time.Second
	defaultSnoozeDefault = 5 * time.Minute
)

// Service runs the polling trigger loop: every tick it evaluates all active
// reminders against the wall clock and pushes newly matched ones into the
// dispatch pipeline. Snooze/Dismiss mutate the same in-memory trigger state,
// so all of it restarts clean on process restart.
type Service struct {
	log   logx.Logger
	src   store.Source
	deact store.Deactivator
	disp  Dispatcher
	bus   eventbus.Bus
	clock reminder.Clock

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	running bool

	smu       sync.Mutex
	state     map[string]*firingState
	displayed string // key of the reminder currently shown, "" if none

	tmu    sync.Mutex
	timers map[string]*time.Timer
	ver    map[string]uint64

	runCtx    context.Context
	runCancel context.CancelFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(cfg Config, src store.Source, deact store.Deactivator, disp Dispatcher, clock reminder.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	s := &Service{
		log:    log,
		src:    src,
		deact:  deact,
		disp:   disp,
		bus:    bus,
		clock:  clock,
		state:  make(map[string]*firingState),
		timers: make(map[string]*time.Timer),
		ver:    make(map[string]uint64),
	}
	s.applyLocked(cfg)
	return s
}

// Apply updates the loop configuration. Tick or timezone changes take effect
// by restarting the ticker goroutine when the service is running.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	prevTick, prevTZ := s.cfg.Tick, s.cfg.Timezone
	s.applyLocked(cfg)
	restart := s.running && (s.cfg.Tick != prevTick || s.cfg.Timezone != prevTZ)
	s.mu.Unlock()

	if restart {
		s.stopLoop()
		s.Start()
	}
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.SnoozeDefault <= 0 {
		cfg.SnoozeDefault = defaultSnoozeDefault
	}
	if cfg.Timezone == "" {
		cfg.Timezone = config.DefaultTimezone
	}
	if s.loc == nil || cfg.Timezone != s.cfg.Timezone {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			s.log.Warn("invalid timezone, falling back to local",
				logx.String("timezone", cfg.Timezone), logx.Err(err))
			loc = time.Local
		}
		s.loc = loc
	}
	s.cfg = cfg
}

func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.stopCh = make(chan struct{})
	tick := s.cfg.Tick
	stopCh := s.stopCh
	ctx := s.runCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, stopCh, tick)
	s.log.Info("poller started", logx.Duration("tick", tick), logx.String("timezone", s.cfg.Timezone))
}

// Stop halts the tick loop and cancels all pending snooze timers. Trigger
// state is in-memory only, so there is nothing further to flush.
func (s *Service) Stop() {
	if !s.stopLoop() {
		return
	}
	s.tmu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
		s.ver[key]++
	}
	s.tmu.Unlock()
	s.log.Info("poller stopped")
}

// stopLoop halts just the tick goroutine, leaving snooze timers armed so a
// config-driven restart does not lose pending re-fires.
func (s *Service) stopLoop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	close(s.stopCh)
	s.runCancel()
	s.mu.Unlock()

	s.wg.Wait()
	return true
}

func (s *Service) run(ctx context.Context, stopCh <-chan struct{}, tick time.Duration) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("poller loop panic",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-t.C:
			s.tick(ctx, s.clock.Now())
		}
	}
}

// tick runs one evaluation pass. A store error skips the whole tick without
// touching trigger state; the next tick retries.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()
	inst := reminder.InstantAt(now, loc)

	var all []reminder.Reminder
	for _, kind := range reminder.Kinds() {
		items, err := s.src.ListActive(ctx, kind)
		if err != nil {
			s.log.Warn("reminder fetch failed, skipping tick",
				logx.String("kind", string(kind)), logx.Err(err))
			return
		}
		all = append(all, items...)
	}

	type firedItem struct {
		kind    reminder.Kind
		id      string
		ownerID string
		oneShot bool
		payload reminder.Payload
	}
	var fired []firedItem

	s.smu.Lock()
	seen := make(map[string]bool, len(all))
	for i := range all {
		r := &all[i]
		key := r.Key()
		seen[key] = true
		st := s.state[key]
		if st == nil {
			st = &firingState{}
			s.state[key] = st
		}
		if !st.snoozeUntil.IsZero() {
			// Matching is suspended; the snooze timer owns the re-fire.
			continue
		}
		m := reminder.Evaluate(*r, inst)
		if m.Fire {
			if !st.firing && st.dismissedAtMinute != inst.Time {
				st.firing = true
				st.oneShot = m.OneShot
				st.ownerID = r.OwnerID
				st.payload = r.Payload()
				if s.displayed == "" {
					s.displayed = key
				}
				fired = append(fired, firedItem{
					kind:    r.Kind,
					id:      r.ID,
					ownerID: r.OwnerID,
					oneShot: m.OneShot,
					payload: st.payload,
				})
			}
			continue
		}
		// No longer matching. Re-arm only once the user is done with the
		// displayed instance, so a slow dismiss doesn't double-fire.
		if st.firing && s.displayed != key {
			st.firing = false
			st.oneShot = false
		}
		if st.dismissedAtMinute != "" && st.dismissedAtMinute != inst.Time {
			st.dismissedAtMinute = ""
		}
	}
	// Drop state for records gone from the store, unless they are mid-fire,
	// snoozed, or dismissed within the current minute.
	for key, st := range s.state {
		if seen[key] || key == s.displayed {
			continue
		}
		if st.firing || !st.snoozeUntil.IsZero() || st.dismissedAtMinute == inst.Time {
			continue
		}
		delete(s.state, key)
	}
	s.smu.Unlock()

	for _, f := range fired {
		s.publish("reminder.fired", FireEvent{
			Kind:    f.kind,
			ID:      f.id,
			OwnerID: f.ownerID,
			Minute:  inst.MinuteKey(),
			OneShot: f.oneShot,
		})
		s.log.Info("reminder fired",
			logx.String("kind", string(f.kind)),
			logx.String("id", f.id),
			logx.String("minute", inst.MinuteKey()),
			logx.Bool("one_shot", f.oneShot))
		if err := s.disp.Enqueue(ctx, f.ownerID, f.payload); err != nil {
			// Dropped, not retried: the firing flag stays set so the same
			// minute does not produce a second attempt.
			s.log.Warn("dispatch enqueue failed",
				logx.String("kind", string(f.kind)),
				logx.String("id", f.id),
				logx.Err(err))
		}
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}
