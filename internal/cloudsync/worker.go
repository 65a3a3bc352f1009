// Package cloudsync pushes single readings to the cloud store in the
// background, retrying failed pushes with a fixed delay.
package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloudpico-bridge/internal/repository"
	"cloudpico-bridge/internal/telemetry"
)

var (
	ErrQueueFull  = errors.New("cloud sync queue full")
	ErrNotRunning = errors.New("cloud sync worker not running")
)

// Store is the part of the readings repository the worker writes through.
type Store interface {
	Insert(ctx context.Context, kind telemetry.Kind, value float32) (int64, error)
}

type Options struct {
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

type Stats struct {
	Synced  uint64 `json:"synced"`
	Dropped uint64 `json:"dropped"`
	Pending int    `json:"pending"`
}

type Worker struct {
	store  Store
	opts   Options
	logger *slog.Logger
	jobs   chan telemetry.Reading

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	synced  atomic.Uint64
	dropped atomic.Uint64
}

var _ telemetry.Sink = (*Worker)(nil)

func NewWorker(store Store, opts Options, logger *slog.Logger) *Worker {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:  store,
		opts:   opts,
		logger: logger.With("component", "cloudsync"),
		jobs:   make(chan telemetry.Reading, opts.QueueSize),
	}
}

// Start launches the worker goroutine. It runs until ctx is done or Stop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("cloud sync worker already started")
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

// Stop cancels in-flight retries and waits for the worker to exit. Queued
// jobs are dropped.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	if n := len(w.jobs); n > 0 {
		w.logger.Warn("dropping queued readings", "count", n)
	}
}

// Publish schedules a push job for r. It never blocks.
func (w *Worker) Publish(_ context.Context, r telemetry.Reading) error {
	return w.Enqueue(r)
}

func (w *Worker) Enqueue(r telemetry.Reading) error {
	if _, ok := repository.Collection(r.Kind); !ok {
		return fmt.Errorf("cloud sync: no collection for %s readings", r.Kind)
	}

	w.mu.Lock()
	running := w.running
	w.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	select {
	case w.jobs <- r:
		return nil
	default:
		w.dropped.Add(1)
		w.logger.Warn("cloud sync queue full, dropping reading", "kind", r.Kind.String(), "value", r.Value)
		return ErrQueueFull
	}
}

func (w *Worker) Stats() Stats {
	return Stats{
		Synced:  w.synced.Load(),
		Dropped: w.dropped.Load(),
		Pending: len(w.jobs),
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-w.jobs:
			w.push(ctx, r)
		}
	}
}

func (w *Worker) push(ctx context.Context, r telemetry.Reading) {
	var err error
	for attempt := 1; attempt <= w.opts.MaxAttempts; attempt++ {
		if _, err = w.store.Insert(ctx, r.Kind, r.Value); err == nil {
			w.synced.Add(1)
			w.logger.Debug("reading synced", "kind", r.Kind.String(), "value", r.Value, "attempt", attempt)
			return
		}
		w.logger.Warn("cloud sync attempt failed",
			"kind", r.Kind.String(), "attempt", attempt, "max_attempts", w.opts.MaxAttempts, "err", err)

		if attempt == w.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			w.dropped.Add(1)
			return
		case <-time.After(w.opts.RetryDelay):
		}
	}

	w.dropped.Add(1)
	w.logger.Error("cloud sync gave up on reading", "kind", r.Kind.String(), "value", r.Value, "err", err)
}
