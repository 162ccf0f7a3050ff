package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
)

var (
	// ErrShutdownTimeout is returned when workers don't stop within timeout.
	ErrShutdownTimeout = errors.New("worker shutdown timed out")

	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("dispatcher stopped")

	// ErrQueueFull is returned when a user has too many pending events.
	ErrQueueFull = errors.New("user event queue is full")
)

// Handler processes a single event.
type Handler func(ctx context.Context, ev domain.Event) error

// Config holds dispatcher configuration.
type Config struct {
	// Workers bounds how many users are served at the same time.
	Workers int
	// QueueSize bounds the pending events of a single user.
	QueueSize int
}

// Dispatcher runs events through a Handler. Events of one user are handled
// strictly in submission order; different users are served in parallel.
type Dispatcher struct {
	handler   Handler
	queueSize int
	logger    *slog.Logger

	sem chan struct{}

	mu      sync.Mutex
	queues  map[domain.UserID]*userQueue
	stopped bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type userQueue struct {
	events []domain.Event
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(cfg Config, handler Handler, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 16
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		handler:   handler,
		queueSize: cfg.QueueSize,
		logger:    logger,
		sem:       make(chan struct{}, cfg.Workers),
		queues:    make(map[domain.UserID]*userQueue),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit queues an event for its user.
func (d *Dispatcher) Submit(ev domain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}

	if q, ok := d.queues[ev.UserID]; ok {
		// Completions of background work are never dropped.
		if len(q.events) >= d.queueSize && !ev.Internal() {
			return ErrQueueFull
		}
		q.events = append(q.events, ev)
		return nil
	}

	q := &userQueue{events: []domain.Event{ev}}
	d.queues[ev.UserID] = q
	d.wg.Add(1)
	go d.run(ev.UserID, q)
	return nil
}

// Pending returns the number of users with queued or running events.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Stop rejects new events and waits for queued ones to finish.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.logger.Info("stopping dispatcher")

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	defer d.cancel()
	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (d *Dispatcher) run(userID domain.UserID, q *userQueue) {
	defer d.wg.Done()

	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	for {
		d.mu.Lock()
		if len(q.events) == 0 {
			delete(d.queues, userID)
			d.mu.Unlock()
			return
		}
		ev := q.events[0]
		q.events = q.events[1:]
		d.mu.Unlock()

		d.handle(ev)
	}
}

func (d *Dispatcher) handle(ev domain.Event) {
	logger := d.logger.With("user_id", ev.UserID.String(), "kind", ev.Kind)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event handler panicked", "panic", r)
		}
	}()

	if err := d.handler(d.ctx, ev); err != nil {
		logger.Error("event handling failed", "error", err)
	}
}
