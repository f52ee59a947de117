// Package dispatch is the async pipeline between a trigger loop and the
// notification sink: bounded queue + worker pool + rate limit.
//
// It deliberately does NOT retry: a failed dispatch is counted and surfaced,
// and redelivery happens on the reminder's next natural trigger, never
// mid-fire. Duplicate suppression is likewise not this layer's job; the
// polling loop owns the minute-granularity dedup.
package dispatch

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindd/internal/eventbus"
	"remindd/internal/reminder"
	"remindd/internal/sink"
	"remindd/pkg/logx"
)

var (
	ErrQueueFull = errors.New("dispatch queue full")
	ErrStopped   = errors.New("dispatcher stopped")
)

type job struct {
	ownerID string
	payload reminder.Payload
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	snk sink.Sink
	bus eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, snk sink.Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{snk: snk, log: log, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in dispatch worker",
						logx.Int("worker", i),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	func() {
		defer func() { _ = recover() }()
		close(q)
	}()

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
	case <-done:
		if cancel != nil {
			cancel()
		}
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Enqueue hands a fired reminder to the pipeline. It never blocks: a full
// queue returns ErrQueueFull (and publishes "dispatch.dropped") rather than
// stalling the trigger loop's tick.
func (s *Service) Enqueue(ctx context.Context, ownerID string, p reminder.Payload) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- job{ownerID: ownerID, payload: p}:
		return nil
	default:
		s.publish("dispatch.dropped", Event{OwnerID: ownerID, Kind: p.Kind, ID: p.ID, Error: ErrQueueFull.Error()})
		return ErrQueueFull
	}
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	for j := range q {
		if runCtx != nil {
			select {
			case <-runCtx.Done():
				return
			default:
			}
		}
		s.sendOne(runCtx, j)
	}
}

func (s *Service) sendOne(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	snk := s.snk
	s.mu.Unlock()

	if snk == nil {
		return
	}

	if lim != nil {
		wctx := runCtx
		if wctx == nil {
			wctx = context.Background()
		}
		if err := lim.Wait(wctx); err != nil {
			return
		}
	}

	callCtx := runCtx
	if callCtx == nil {
		callCtx = context.Background()
	}
	callCtx, cancel := context.WithTimeout(callCtx, cfg.SendTimeout)
	out, err := snk.Dispatch(callCtx, j.ownerID, j.payload)
	cancel()

	it := HistoryItem{
		At:      time.Now(),
		OwnerID: j.ownerID,
		Kind:    j.payload.Kind,
		ID:      j.payload.ID,
		Title:   j.payload.Title,
		Outcome: out,
	}
	ev := Event{OwnerID: j.ownerID, Kind: j.payload.Kind, ID: j.payload.ID, Outcome: out}

	switch {
	case err != nil:
		it.Error = err.Error()
		ev.Error = err.Error()
		s.log.Warn("dispatch failed", logx.String("owner", j.ownerID), logx.String("id", j.payload.ID), logx.Err(err))
		s.publish("dispatch.failed", ev)
	case out.Failed > 0:
		// Partial failure: surfaced, not fatal, not retried.
		s.log.Warn("dispatch partially failed",
			logx.String("owner", j.ownerID),
			logx.String("id", j.payload.ID),
			logx.Int("delivered", out.Delivered),
			logx.Int("failed", out.Failed))
		s.publish("dispatch.sent", ev)
	default:
		s.log.Debug("dispatch sent", logx.String("owner", j.ownerID), logx.String("id", j.payload.ID), logx.Int("delivered", out.Delivered))
		s.publish("dispatch.sent", ev)
	}
	s.appendHistory(it)
}

func (s *Service) publish(typ string, ev Event) {
	if s.bus == nil {
		return
	}
	ev.At = time.Now()
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
