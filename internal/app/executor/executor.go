// Package executor runs background work off the request path.
//
// The executor:
//  1. Bounds concurrency with a slot semaphore and refuses work when full
//  2. Runs each task under a timeout derived from a daemon-scoped context
//  3. Logs and counts outcomes so callers can fire and forget
//  4. Cancels and waits for in-flight tasks on Close
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAtCapacity is returned by Submit when every slot is busy.
	ErrAtCapacity = errors.New("executor at capacity")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("executor closed")
)

// Task is a unit of background work.
type Task struct {
	ID   string
	Kind string
	Run  func(ctx context.Context) error
}

// Config controls executor behavior.
type Config struct {
	MaxConcurrent  int           // Maximum concurrent tasks (default: 4)
	DefaultTimeout time.Duration // Per-task timeout (default: 5m)
}

// DefaultConfig returns safe executor defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  4,
		DefaultTimeout: 5 * time.Minute,
	}
}

// Executor manages task execution lifecycle.
type Executor struct {
	config Config
	logger *slog.Logger
	base   context.Context
	cancel context.CancelFunc
	sem    chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	active    int
	completed int64
	failed    int64
}

// New creates an executor. Tasks run under contexts derived from ctx with
// cancellation detached, so a finished request never aborts its follow-up
// work; Close cancels them.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultConfig().DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &Executor{
		config: cfg,
		logger: logger.With("component", "executor"),
		base:   base,
		cancel: cancel,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Submit schedules a task and returns immediately. It fails with
// ErrAtCapacity when all slots are busy and with ErrClosed after Close.
func (e *Executor) Submit(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %q has no body", task.Kind)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	select {
	case e.sem <- struct{}{}:
	default:
		e.mu.Unlock()
		return fmt.Errorf("%w (%d concurrent tasks)", ErrAtCapacity, e.config.MaxConcurrent)
	}
	e.active++
	e.wg.Add(1)
	e.mu.Unlock()

	go e.execute(task)
	return nil
}

// execute runs one task and records its outcome.
func (e *Executor) execute(task Task) {
	defer e.wg.Done()
	defer func() { <-e.sem }()

	ctx, cancel := context.WithTimeout(e.base, e.config.DefaultTimeout)
	defer cancel()

	start := time.Now()
	err := e.run(ctx, task)

	e.mu.Lock()
	e.active--
	if err != nil {
		e.failed++
	} else {
		e.completed++
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("task failed", "task", task.ID, "kind", task.Kind, "error", err)
		return
	}
	e.logger.Debug("task completed", "task", task.ID, "kind", task.Kind, "took", time.Since(start))
}

// run invokes the task body, converting a panic into an error.
func (e *Executor) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx)
}

// Wait blocks until every submitted task has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Close refuses new work, cancels running tasks, and waits for them.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()
	e.wg.Wait()
}

// Stats returns executor statistics.
type Stats struct {
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	MaxSlots  int   `json:"max_slots"`
	FreeSlots int   `json:"free_slots"`
}

// Stats returns current executor statistics.
func (e *Executor) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Active:    e.active,
		Completed: e.completed,
		Failed:    e.failed,
		MaxSlots:  e.config.MaxConcurrent,
		FreeSlots: e.config.MaxConcurrent - e.active,
	}
}

// ActiveCount returns the number of currently executing tasks.
func (e *Executor) ActiveCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}
