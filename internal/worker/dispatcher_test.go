package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a Handler that records the events it sees.
type recorder struct {
	mu     sync.Mutex
	seen   map[domain.UserID][]string
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[domain.UserID][]string)}
}

func (r *recorder) handle(ctx context.Context, ev domain.Event) error {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if r.delay > 0 {
		time.Sleep(r.delay)
	}

	r.mu.Lock()
	r.seen[ev.UserID] = append(r.seen[ev.UserID], ev.Text)
	r.mu.Unlock()
	return nil
}

func (r *recorder) events(id domain.UserID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen[id]...)
}

func textEvent(id domain.UserID, s string) domain.Event {
	return domain.Event{UserID: id, Kind: domain.EventText, Text: s}
}

func TestNewDispatcher_Defaults(t *testing.T) {
	d := NewDispatcher(Config{}, newRecorder().handle, testLogger())

	if cap(d.sem) != 16 {
		t.Errorf("workers = %d, want 16", cap(d.sem))
	}
	if d.queueSize != 32 {
		t.Errorf("queueSize = %d, want 32", d.queueSize)
	}
}

func TestDispatcher_PreservesPerUserOrder(t *testing.T) {
	rec := newRecorder()
	rec.delay = time.Millisecond
	d := NewDispatcher(Config{Workers: 4, QueueSize: 100}, rec.handle, testLogger())

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, s := range want {
		for _, id := range []domain.UserID{1, 2, 3} {
			if err := d.Submit(textEvent(id, s)); err != nil {
				t.Fatalf("Submit failed: %v", err)
			}
		}
	}

	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	for _, id := range []domain.UserID{1, 2, 3} {
		got := rec.events(id)
		if len(got) != len(want) {
			t.Fatalf("user %d handled %d events, want %d", id, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("user %d event %d = %q, want %q", id, i, got[i], want[i])
			}
		}
	}
}

func TestDispatcher_OneEventPerUserAtATime(t *testing.T) {
	var active, peak atomic.Int32
	handler := func(ctx context.Context, ev domain.Event) error {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	}
	d := NewDispatcher(Config{Workers: 8, QueueSize: 100}, handler, testLogger())

	for i := 0; i < 20; i++ {
		if err := d.Submit(textEvent(7, "x")); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency for one user = %d, want 1", got)
	}
}

func TestDispatcher_BoundsConcurrentUsers(t *testing.T) {
	rec := newRecorder()
	rec.delay = 10 * time.Millisecond
	d := NewDispatcher(Config{Workers: 2, QueueSize: 10}, rec.handle, testLogger())

	for id := domain.UserID(1); id <= 6; id++ {
		if err := d.Submit(textEvent(id, "x")); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := rec.peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	for id := domain.UserID(1); id <= 6; id++ {
		if len(rec.events(id)) != 1 {
			t.Errorf("user %d events = %v, want 1", id, rec.events(id))
		}
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, ev domain.Event) error {
		<-release
		return nil
	}
	d := NewDispatcher(Config{Workers: 1, QueueSize: 2}, handler, testLogger())

	// The first event is taken by the worker, or sits in the queue until it is.
	var err error
	accepted := 0
	for i := 0; i < 10; i++ {
		if err = d.Submit(textEvent(1, "x")); err != nil {
			break
		}
		accepted++
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
	if accepted < 2 || accepted > 3 {
		t.Errorf("accepted = %d, want 2 or 3", accepted)
	}

	// Completions still get through.
	if err := d.Submit(domain.Event{UserID: 1, Kind: domain.EventAcquired}); err != nil {
		t.Errorf("internal Submit err = %v, want nil", err)
	}

	close(release)
	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestDispatcher_SubmitAfterStop(t *testing.T) {
	d := NewDispatcher(Config{}, newRecorder().handle, testLogger())
	if err := d.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if err := d.Submit(textEvent(1, "x")); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestDispatcher_StopTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	handler := func(ctx context.Context, ev domain.Event) error {
		<-release
		return nil
	}
	d := NewDispatcher(Config{Workers: 1}, handler, testLogger())
	if err := d.Submit(textEvent(1, "x")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := d.Stop(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("err = %v, want ErrShutdownTimeout", err)
	}
}

func TestDispatcher_SurvivesHandlerErrorsAndPanics(t *testing.T) {
	var handled atomic.Int32
	handler := func(ctx context.Context, ev domain.Event) error {
		handled.Add(1)
		switch ev.Text {
		case "panic":
			panic("boom")
		case "error":
			return errors.New("failed")
		}
		return nil
	}
	d := NewDispatcher(Config{Workers: 1}, handler, testLogger())

	for _, s := range []string{"panic", "error", "ok"} {
		if err := d.Submit(textEvent(1, s)); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if err := d.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := handled.Load(); got != 3 {
		t.Errorf("handled = %d, want 3", got)
	}
	if d.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", d.Pending())
	}
}

func TestSweeper_RunsImmediatelyAndPeriodically(t *testing.T) {
	var calls atomic.Int32
	var gotMaxAge atomic.Int64
	sweep := func(maxAge time.Duration) (int, error) {
		gotMaxAge.Store(int64(maxAge))
		if calls.Add(1) == 2 {
			return 0, errors.New("disk error")
		}
		return 1, nil
	}

	s := NewSweeper(sweep, 5*time.Millisecond, time.Minute, testLogger())
	s.Start()

	deadline := time.Now().Add(5 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if calls.Load() < 3 {
		t.Errorf("sweeps = %d, want at least 3", calls.Load())
	}
	if time.Duration(gotMaxAge.Load()) != time.Minute {
		t.Errorf("maxAge = %v, want 1m", time.Duration(gotMaxAge.Load()))
	}
}

func TestNewSweeper_Defaults(t *testing.T) {
	s := NewSweeper(func(time.Duration) (int, error) { return 0, nil }, 0, 0, testLogger())

	if s.interval != time.Hour {
		t.Errorf("interval = %v, want 1h", s.interval)
	}
	if s.maxAge != 24*time.Hour {
		t.Errorf("maxAge = %v, want 24h", s.maxAge)
	}
}
