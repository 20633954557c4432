package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 2
	cfg.DefaultTimeout = 2 * time.Second
	e := New(context.Background(), cfg, nil)
	t.Cleanup(e.Close)
	return e
}

// ─── Config Tests ───────────────────────────────────────────────────────────

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", cfg.MaxConcurrent)
	}
	if cfg.DefaultTimeout != 5*time.Minute {
		t.Errorf("DefaultTimeout = %v, want 5m", cfg.DefaultTimeout)
	}
}

func TestNew_FillsZeroConfig(t *testing.T) {
	e := New(context.Background(), Config{}, nil)
	defer e.Close()
	if s := e.Stats(); s.MaxSlots != 4 {
		t.Errorf("MaxSlots = %d, want 4", s.MaxSlots)
	}
}

// ─── Executor Tests ─────────────────────────────────────────────────────────

func TestSubmit_RunsTask(t *testing.T) {
	e := newTestExecutor(t)
	var ran atomic.Bool

	err := e.Submit(Task{Kind: "settle", Run: func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}})
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	e.Wait()

	if !ran.Load() {
		t.Error("task did not run")
	}
	s := e.Stats()
	if s.Completed != 1 || s.Failed != 0 {
		t.Errorf("Stats = %+v, want 1 completed", s)
	}
}

func TestSubmit_CountsFailuresAndPanics(t *testing.T) {
	e := newTestExecutor(t)

	_ = e.Submit(Task{Kind: "fail", Run: func(ctx context.Context) error { return errors.New("boom") }})
	e.Wait()
	_ = e.Submit(Task{Kind: "panic", Run: func(ctx context.Context) error { panic("bad") }})
	e.Wait()

	if s := e.Stats(); s.Failed != 2 {
		t.Errorf("Failed = %d, want 2", s.Failed)
	}
	if e.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d, want 0", e.ActiveCount())
	}
}

func TestSubmit_AtCapacity(t *testing.T) {
	e := newTestExecutor(t)
	release := make(chan struct{})
	block := func(ctx context.Context) error {
		<-release
		return nil
	}

	for i := 0; i < 2; i++ {
		if err := e.Submit(Task{Kind: "block", Run: block}); err != nil {
			t.Fatalf("Submit(%d) error: %v", i, err)
		}
	}
	err := e.Submit(Task{Kind: "block", Run: block})
	if !errors.Is(err, ErrAtCapacity) {
		t.Errorf("Submit() on full executor = %v, want ErrAtCapacity", err)
	}

	close(release)
	e.Wait()
	if s := e.Stats(); s.FreeSlots != 2 {
		t.Errorf("FreeSlots = %d, want 2", s.FreeSlots)
	}
}

func TestSubmit_RejectsEmptyTask(t *testing.T) {
	e := newTestExecutor(t)
	if err := e.Submit(Task{Kind: "empty"}); err == nil {
		t.Error("Submit() without body should fail")
	}
}

func TestTimeout_CancelsTaskContext(t *testing.T) {
	e := New(context.Background(), Config{MaxConcurrent: 1, DefaultTimeout: 20 * time.Millisecond}, nil)
	defer e.Close()

	var got atomic.Value
	_ = e.Submit(Task{Kind: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		got.Store(ctx.Err())
		return ctx.Err()
	}})
	e.Wait()

	if err, _ := got.Load().(error); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", err)
	}
}

func TestParentCancel_DoesNotAbortTasks(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	e := New(parent, Config{MaxConcurrent: 1, DefaultTimeout: time.Second}, nil)
	defer e.Close()
	cancel()

	var ctxErr atomic.Value
	_ = e.Submit(Task{Kind: "detached", Run: func(ctx context.Context) error {
		ctxErr.Store(ctx.Err() == nil)
		return nil
	}})
	e.Wait()

	if ok, _ := ctxErr.Load().(bool); !ok {
		t.Error("task context should outlive the submitting context")
	}
}

func TestClose_CancelsAndRefuses(t *testing.T) {
	e := New(context.Background(), Config{MaxConcurrent: 1, DefaultTimeout: time.Minute}, nil)

	started := make(chan struct{})
	_ = e.Submit(Task{Kind: "long", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	<-started
	e.Close()

	if err := e.Submit(Task{Kind: "late", Run: func(context.Context) error { return nil }}); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close = %v, want ErrClosed", err)
	}
	if s := e.Stats(); s.Failed != 1 {
		t.Errorf("Failed = %d, want 1 (cancelled task)", s.Failed)
	}
}
