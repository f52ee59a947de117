// Package batch implements the stateless check pass: one invocation loads
// every active reminder, evaluates all of them against a single time
// snapshot, dispatches every match, and deactivates date-matched alarms.
//
// It keeps no trigger state between invocations. Run it at minute
// granularity (the built-in cron driver does); running it twice inside the
// same minute dispatches duplicates, which is the caller's problem to avoid.
package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"remindd/internal/config"
	"remindd/internal/eventbus"
	"remindd/internal/reminder"
	"remindd/internal/sink"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

const (
	defaultCronSpec        = "* * * * *"
	defaultDispatchTimeout = 30 * time.Second
)

type Config struct {
	Timezone        string
	CronSpec        string
	DispatchTimeout time.Duration
}

// Summary describes one completed pass.
type Summary struct {
	Time string `json:"time"`
	Day  string `json:"day"`
	Date string `json:"date"`

	Alarms    int `json:"alarms_checked"`
	Medicines int `json:"medicines_checked"`
	Meetings  int `json:"meetings_checked"`

	Fired       int `json:"fired"`
	Delivered   int `json:"delivered"`
	Failed      int `json:"failed"`
	Deactivated int `json:"deactivated"`
}

type Service struct {
	log   logx.Logger
	src   store.Source
	deact store.Deactivator
	snk   sink.Sink
	bus   eventbus.Bus
	clock reminder.Clock

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron
	running bool // a pass is in flight (overlap guard)
}

func New(cfg Config, src store.Source, deact store.Deactivator, snk sink.Sink, clock reminder.Clock, log logx.Logger, bus eventbus.Bus) *Service {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	s := &Service{
		log:   log,
		src:   src,
		deact: deact,
		snk:   snk,
		bus:   bus,
		clock: clock,
	}
	s.apply(cfg)
	return s
}

func (s *Service) apply(cfg Config) {
	if cfg.Timezone == "" {
		cfg.Timezone = config.DefaultTimezone
	}
	if cfg.CronSpec == "" {
		cfg.CronSpec = defaultCronSpec
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to local",
			logx.String("timezone", cfg.Timezone), logx.Err(err))
		loc = time.Local
	}
	s.mu.Lock()
	s.cfg = cfg
	s.loc = loc
	s.mu.Unlock()
}

// Start schedules RunOnce on the configured cron spec. An invocation that is
// still running when the next slot arrives makes the new slot a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}
	spec := s.cfg.CronSpec
	c := cron.New(cron.WithLocation(s.loc))
	s.cron = c
	s.mu.Unlock()

	_, err := c.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("batch pass panic",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			s.log.Warn("previous batch pass still running, skipping slot")
			return
		}
		s.running = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()

		sum, err := s.RunOnce(ctx)
		if err != nil {
			s.log.Error("batch pass failed", logx.Err(err))
			return
		}
		s.log.Info("batch pass done",
			logx.String("minute", sum.Date+" "+sum.Time),
			logx.Int("fired", sum.Fired),
			logx.Int("delivered", sum.Delivered),
			logx.Int("failed", sum.Failed),
			logx.Int("deactivated", sum.Deactivated))
	})
	if err != nil {
		s.mu.Lock()
		s.cron = nil
		s.mu.Unlock()
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	c.Start()
	s.log.Info("batch scheduler started",
		logx.String("spec", spec),
		logx.String("timezone", s.cfg.Timezone))
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("batch scheduler stopped")
}

// RunOnce executes a single pass. The three kinds are fetched in parallel;
// any fetch failure fails the whole invocation before anything is dispatched.
// Dispatches then settle concurrently (one slow recipient does not starve the
// rest), and date-matched alarms are deactivated only after all dispatches
// settle.
func (s *Service) RunOnce(ctx context.Context) (Summary, error) {
	s.mu.Lock()
	loc := s.loc
	timeout := s.cfg.DispatchTimeout
	s.mu.Unlock()

	inst := reminder.InstantAt(s.clock.Now(), loc)
	sum := Summary{Time: inst.Time, Day: inst.Day, Date: inst.Date}

	kinds := reminder.Kinds()
	lists := make([][]reminder.Reminder, len(kinds))
	errs := make([]error, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func(i int, kind reminder.Kind) {
			defer wg.Done()
			lists[i], errs[i] = s.src.ListActive(ctx, kind)
		}(i, kind)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return Summary{}, fmt.Errorf("list %s reminders: %w", kinds[i], err)
		}
	}
	sum.Alarms, sum.Medicines, sum.Meetings = len(lists[0]), len(lists[1]), len(lists[2])

	type match struct {
		r       reminder.Reminder
		oneShot bool
	}
	var fired []match
	for _, list := range lists {
		for _, r := range list {
			if m := reminder.Evaluate(r, inst); m.Fire {
				fired = append(fired, match{r: r, oneShot: m.OneShot})
			}
		}
	}
	sum.Fired = len(fired)

	var (
		dwg sync.WaitGroup
		dmu sync.Mutex
	)
	for _, f := range fired {
		dwg.Add(1)
		go func(r reminder.Reminder) {
			defer dwg.Done()
			sctx, cancel := context.WithTimeout(ctx, timeout)
			out, err := s.snk.Dispatch(sctx, r.OwnerID, r.Payload())
			cancel()

			dmu.Lock()
			defer dmu.Unlock()
			if err != nil {
				sum.Failed++
				s.publish("dispatch.failed", map[string]any{"kind": r.Kind, "id": r.ID, "error": err.Error()})
				s.log.Warn("dispatch failed",
					logx.String("kind", string(r.Kind)),
					logx.String("id", r.ID),
					logx.Err(err))
				return
			}
			sum.Delivered += out.Delivered
			sum.Failed += out.Failed
			s.publish("dispatch.sent", map[string]any{"kind": r.Kind, "id": r.ID, "delivered": out.Delivered, "failed": out.Failed})
		}(f.r)
	}
	dwg.Wait()

	// With no dismiss surface in this mode, deactivation happens here.
	// A failure is logged and accepted; the alarm repeats tomorrow rather
	// than disappearing unacknowledged.
	for _, f := range fired {
		if !f.oneShot || s.deact == nil {
			continue
		}
		if err := s.deact.SetActive(ctx, f.r.Kind, f.r.ID, false); err != nil {
			s.log.Warn("one-shot deactivation failed",
				logx.String("kind", string(f.r.Kind)),
				logx.String("id", f.r.ID),
				logx.Err(err))
			s.publish("deactivate.failed", map[string]any{"kind": f.r.Kind, "id": f.r.ID, "error": err.Error()})
			continue
		}
		sum.Deactivated++
	}
	return sum, nil
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: data})
}
