package timer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotArmed is returned by Pending when no timer exists for a key
var ErrNotArmed = errors.New("timer not armed")

// Entry is a single pending timer
type Entry struct {
	Key     string    `json:"key"`
	DueAt   time.Time `json:"due_at"`
	Payload string    `json:"payload"`
}

// Timer arms and cancels one-shot callbacks. Arming a key that already has a
// pending entry replaces it, so there is at most one pending entry per key.
type Timer interface {
	Arm(ctx context.Context, key string, when time.Time, payload string) error
	Cancel(ctx context.Context, key string) error
}

// Queue is the durable storage behind a Dispatcher
type Queue interface {
	Put(ctx context.Context, e Entry) error
	Remove(ctx context.Context, key string) error
	// Claim atomically removes and returns up to limit entries due at or before now.
	// On error the entries already removed are still returned.
	Claim(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	Get(ctx context.Context, key string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
}

// Handler is invoked once for every entry that comes due
type Handler func(ctx context.Context, e Entry)

// Dispatcher implements Timer over a Queue and fires due entries from a
// polling loop onto a bounded pool of workers
type Dispatcher struct {
	queue    Queue
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	wake chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithInterval sets how often the queue is polled
func WithInterval(d time.Duration) Option {
	return func(p *Dispatcher) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithWorkers bounds how many handlers run at once
func WithWorkers(n int) Option {
	return func(p *Dispatcher) {
		if n > 0 {
			p.sem = make(chan struct{}, n)
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Dispatcher) { p.logger = l }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Dispatcher) { p.now = now }
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(q Queue, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:    q,
		interval: time.Second,
		logger:   slog.Default(),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		sem:      make(chan struct{}, 4),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "timer")
	return d
}

// Arm schedules payload to be delivered for key at when
func (d *Dispatcher) Arm(ctx context.Context, key string, when time.Time, payload string) error {
	if err := d.queue.Put(ctx, Entry{Key: key, DueAt: when, Payload: payload}); err != nil {
		return err
	}
	d.poke()
	return nil
}

// Cancel removes any pending entry for key. Unknown keys are not an error.
func (d *Dispatcher) Cancel(ctx context.Context, key string) error {
	return d.queue.Remove(ctx, key)
}

// Pending returns the pending entry for key
func (d *Dispatcher) Pending(ctx context.Context, key string) (*Entry, error) {
	return d.queue.Get(ctx, key)
}

// List returns every pending entry
func (d *Dispatcher) List(ctx context.Context) ([]Entry, error) {
	return d.queue.List(ctx)
}

func (d *Dispatcher) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run polls the queue until ctx is cancelled, then waits for running handlers
func (d *Dispatcher) Run(ctx context.Context, h Handler) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("timer dispatcher started", "interval", d.interval, "workers", cap(d.sem))
	d.DispatchDue(ctx, h)
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("timer dispatcher stopped")
			return
		case <-ticker.C:
		case <-d.wake:
		}
		d.DispatchDue(ctx, h)
	}
}

// DispatchDue claims every due entry and hands each to h on the worker pool.
// It returns the number of entries dispatched.
func (d *Dispatcher) DispatchDue(ctx context.Context, h Handler) int {
	dispatched := 0
	for {
		entries, err := d.queue.Claim(ctx, d.now(), cap(d.sem))
		if err != nil {
			d.logger.Error("failed to claim due timers", "error", err, "claimed", len(entries))
		}
		if len(entries) == 0 {
			return dispatched
		}

		for i, e := range entries {
			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				d.requeue(entries[i:])
				return dispatched
			}

			dispatched++
			d.wg.Add(1)
			go func(e Entry) {
				defer d.wg.Done()
				defer func() { <-d.sem }()
				d.logger.Debug("timer fired", "key", e.Key, "due_at", e.DueAt)
				h(ctx, e)
			}(e)
		}
		if err != nil {
			return dispatched
		}
	}
}

// requeue puts back claimed entries that could not be dispatched before shutdown
func (d *Dispatcher) requeue(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, e := range entries {
		if err := d.queue.Put(ctx, e); err != nil {
			d.logger.Error("failed to requeue timer", "key", e.Key, "error", err)
		}
	}
}

// Wait blocks until all dispatched handlers have returned
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
