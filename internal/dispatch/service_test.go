package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"remindd/internal/reminder"
	"remindd/internal/sink"
	"remindd/pkg/logx"
)

type captureSink struct {
	mu    sync.Mutex
	got   []reminder.Payload
	block chan struct{} // when set, Dispatch waits on it
	err   error
}

func (s *captureSink) Dispatch(ctx context.Context, _ string, p reminder.Payload) (sink.Outcome, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return sink.Outcome{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return sink.Outcome{}, s.err
	}
	s.got = append(s.got, p)
	return sink.Outcome{Delivered: 1}, nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func payload(id string) reminder.Payload {
	return reminder.Payload{Kind: reminder.KindAlarm, ID: id, Title: "Alarm", Body: "Alarm - Time to wake up!"}
}

func TestDispatchDrainsQueueOnStop(t *testing.T) {
	t.Parallel()
	snk := &captureSink{}
	s := New(Config{Workers: 2, QueueSize: 16, RatePerSec: 1000}, snk, logx.Nop(), nil)
	s.Start(context.Background())

	for i := 0; i < 5; i++ {
		if err := s.Enqueue(context.Background(), "u1", payload("a")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	if got := snk.count(); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}
	hist := s.Snapshot()
	if len(hist) != 5 {
		t.Fatalf("history entries = %d, want 5", len(hist))
	}
	for _, it := range hist {
		if it.Outcome.Delivered != 1 || it.Error != "" {
			t.Fatalf("history item = %+v, want clean delivery", it)
		}
	}
}

func TestEnqueueAfterStop(t *testing.T) {
	t.Parallel()
	s := New(Config{}, &captureSink{}, logx.Nop(), nil)
	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	if err := s.Enqueue(context.Background(), "u1", payload("a")); !errors.Is(err, ErrStopped) {
		t.Fatalf("enqueue after stop = %v, want ErrStopped", err)
	}
}

func TestEnqueueNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	snk := &captureSink{block: release}
	s := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 1000}, snk, logx.Nop(), nil)
	s.Start(context.Background())
	defer func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	// The worker blocks on the first job; the single queue slot fills, and
	// every further enqueue must return immediately with ErrQueueFull.
	var sawFull bool
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if err := s.Enqueue(context.Background(), "u1", payload("a")); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Fatal("enqueue never reported a full queue")
	}
}

func TestFailedDispatchRecordedNotRetried(t *testing.T) {
	t.Parallel()
	snk := &captureSink{err: errors.New("sink down")}
	s := New(Config{Workers: 1, QueueSize: 4, RatePerSec: 1000}, snk, logx.Nop(), nil)
	s.Start(context.Background())

	if err := s.Enqueue(context.Background(), "u1", payload("a")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)

	hist := s.Snapshot()
	if len(hist) != 1 {
		t.Fatalf("history entries = %d, want exactly 1 (no retry)", len(hist))
	}
	if hist[0].Error == "" {
		t.Fatalf("history item = %+v, want recorded error", hist[0])
	}
}
