package wasmhost

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/wasmhost/wasmtest"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h := New(DefaultConfig(), nil)
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

func deploy(t *testing.T, h *Host, payload []byte) string {
	t.Helper()
	ctx := context.Background()
	addr, err := h.Create(ctx)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := h.Install(ctx, addr, payload); err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	return addr
}

func TestCreate_AllocatesDistinctAddresses(t *testing.T) {
	h := newTestHost(t)
	a, _ := h.Create(context.Background())
	b, _ := h.Create(context.Background())
	if a == b {
		t.Errorf("addresses collide: %s", a)
	}
	if !strings.HasPrefix(a, "target-") {
		t.Errorf("address = %q, want target- prefix", a)
	}
	if h.Targets() != 2 {
		t.Errorf("Targets() = %d, want 2", h.Targets())
	}
}

func TestCreate_RespectsMaxTargets(t *testing.T) {
	h := New(Config{MaxTargets: 1}, nil)
	defer h.Close(context.Background())

	if _, err := h.Create(context.Background()); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := h.Create(context.Background()); !errors.Is(err, domain.ErrResourceLimit) {
		t.Errorf("Create() over limit = %v, want ErrResourceLimit", err)
	}
}

func TestBalance(t *testing.T) {
	h := newTestHost(t)
	addr := deploy(t, h, wasmtest.BalanceModule(1_000_000))

	got, err := h.Balance(context.Background(), addr)
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if got != 1_000_000 {
		t.Errorf("Balance() = %d, want 1000000", got)
	}
}

func TestDrain_LowersReportedBalance(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()
	addr := deploy(t, h, wasmtest.DrainableModule(1_000_000))

	if _, err := h.Call(ctx, addr, "zerolock_drain", 150_000); err != nil {
		t.Fatalf("Call(drain) error: %v", err)
	}
	got, _ := h.Balance(ctx, addr)
	if got != 850_000 {
		t.Errorf("Balance() after drain = %d, want 850000", got)
	}
}

func TestBalance_NegativeIsInternal(t *testing.T) {
	h := newTestHost(t)
	addr := deploy(t, h, wasmtest.BalanceModule(-5))

	if _, err := h.Balance(context.Background(), addr); !errors.Is(err, domain.ErrInternal) {
		t.Errorf("Balance() = %v, want ErrInternal", err)
	}
}

func TestInstall_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"garbage", []byte("not wasm at all")},
		{"missing balance export", wasmtest.NoBalanceModule()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHost(t)
			ctx := context.Background()
			addr, _ := h.Create(ctx)

			err := h.Install(ctx, addr, tt.payload)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("Install() = %v, want ErrInvalidInput", err)
			}
			if h.Targets() != 0 {
				t.Error("failed install should release the sandbox")
			}
		})
	}
}

func TestInstall_Twice(t *testing.T) {
	h := newTestHost(t)
	addr := deploy(t, h, wasmtest.BalanceModule(1))
	err := h.Install(context.Background(), addr, wasmtest.BalanceModule(2))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second Install() = %v, want ErrInvalidState", err)
	}
}

func TestCall_Errors(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()

	if _, err := h.Balance(ctx, "target-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Balance(unknown) = %v, want ErrNotFound", err)
	}

	empty, _ := h.Create(ctx)
	if _, err := h.Balance(ctx, empty); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Balance(uninstalled) = %v, want ErrInvalidState", err)
	}

	addr := deploy(t, h, wasmtest.DrainableModule(10))
	if _, err := h.Call(ctx, addr, "withdraw_all"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Call(missing export) = %v, want ErrNotFound", err)
	}
	if _, err := h.Call(ctx, addr, "zerolock_drain"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Call(wrong arity) = %v, want ErrInvalidInput", err)
	}
}

func TestCall_TimeoutRollsBackAndKeepsServing(t *testing.T) {
	h := New(Config{CallTimeout: 50 * time.Millisecond}, nil)
	defer h.Close(context.Background())
	ctx := context.Background()
	addr := deploy(t, h, wasmtest.UnrulyModule(1_000_000))

	if _, err := h.Call(ctx, addr, "zerolock_drain", 150_000); err != nil {
		t.Fatalf("Call(drain) error: %v", err)
	}
	if _, err := h.Call(ctx, addr, "zerolock_spin"); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("Call(spin) = %v, want ErrInternal", err)
	}

	got, err := h.Balance(ctx, addr)
	if err != nil {
		t.Fatalf("Balance() after timeout: %v", err)
	}
	if got != 850_000 {
		t.Errorf("Balance() after timeout = %d, want drained state 850000", got)
	}
	if _, err := h.Call(ctx, addr, "zerolock_drain", 50_000); err != nil {
		t.Fatalf("Call(drain) after timeout: %v", err)
	}
	if got, _ := h.Balance(ctx, addr); got != 800_000 {
		t.Errorf("Balance() = %d, want 800000", got)
	}
}

func TestCall_TrapRollsBackPartialWrites(t *testing.T) {
	h := newTestHost(t)
	ctx := context.Background()
	addr := deploy(t, h, wasmtest.UnrulyModule(1_000))

	if _, err := h.Call(ctx, addr, "zerolock_drain_and_trap", 900); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("Call(drain_and_trap) = %v, want ErrInternal", err)
	}
	if got, _ := h.Balance(ctx, addr); got != 1_000 {
		t.Errorf("Balance() after trap = %d, want 1000", got)
	}
}

func TestCall_CancelledCallerDoesNotKillTarget(t *testing.T) {
	h := newTestHost(t)
	addr := deploy(t, h, wasmtest.UnrulyModule(10))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.Call(ctx, addr, "zerolock_spin"); err == nil {
		t.Fatal("Call(spin) should fail once the caller gives up")
	}
	if got, err := h.Balance(context.Background(), addr); err != nil || got != 10 {
		t.Errorf("Balance() = %d, %v; want 10", got, err)
	}
}

func TestCall_RespectsMaxCalls(t *testing.T) {
	h := New(Config{MaxCalls: 2}, nil)
	defer h.Close(context.Background())
	ctx := context.Background()
	addr := deploy(t, h, wasmtest.DrainableModule(100))

	for i := 0; i < 2; i++ {
		if _, err := h.Call(ctx, addr, "zerolock_drain", 1); err != nil {
			t.Fatalf("Call(drain) #%d: %v", i, err)
		}
	}
	if _, err := h.Call(ctx, addr, "zerolock_drain", 1); !errors.Is(err, domain.ErrResourceLimit) {
		t.Errorf("Call(drain) over limit = %v, want ErrResourceLimit", err)
	}
	if got, err := h.Balance(ctx, addr); err != nil || got != 98 {
		t.Errorf("Balance() = %d, %v; reads are never limited", got, err)
	}
}

// memJournal is an in-memory domain.TargetJournal.
type memJournal struct {
	mu    sync.Mutex
	calls map[string][]domain.TargetCall
	fail  error
}

func newMemJournal() *memJournal {
	return &memJournal{calls: make(map[string][]domain.TargetCall)}
}

func (j *memJournal) AppendTargetCall(_ context.Context, addr string, c domain.TargetCall) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.calls[addr] = append(j.calls[addr], c)
	return nil
}

func (j *memJournal) TargetCalls(_ context.Context, addr string) ([]domain.TargetCall, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.TargetCall(nil), j.calls[addr]...), nil
}

func (j *memJournal) DeleteTargetCalls(_ context.Context, addr string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.calls, addr)
	return nil
}

func TestRestore_ReplaysJournal(t *testing.T) {
	ctx := context.Background()
	journal := newMemJournal()
	payload := wasmtest.UnrulyModule(1_000_000)

	first := New(DefaultConfig(), nil, WithJournal(journal))
	addr := deploy(t, first, payload)
	first.Call(ctx, addr, "zerolock_drain", 300_000)
	first.Call(ctx, addr, "zerolock_drain_and_trap", 1) // rolled back, never journaled
	first.Call(ctx, addr, "zerolock_drain", 200_000)
	first.Close(ctx)

	if n := len(journal.calls[addr]); n != 2 {
		t.Fatalf("journal holds %d calls, want 2", n)
	}

	second := New(DefaultConfig(), nil, WithJournal(journal))
	defer second.Close(ctx)
	if err := second.Restore(ctx, addr, payload); err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	got, err := second.Balance(ctx, addr)
	if err != nil {
		t.Fatalf("Balance() error: %v", err)
	}
	if got != 500_000 {
		t.Errorf("restored Balance() = %d, want 500000", got)
	}
	if err := second.Restore(ctx, addr, payload); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("second Restore() = %v, want ErrInvalidState", err)
	}
	if err := second.Restore(ctx, "target-other", []byte("garbage")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Restore(garbage) = %v, want ErrInvalidInput", err)
	}
	if second.Targets() != 1 {
		t.Errorf("Targets() = %d, want 1", second.Targets())
	}
}

func TestCall_JournalFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	journal := newMemJournal()
	h := New(DefaultConfig(), nil, WithJournal(journal))
	defer h.Close(ctx)
	addr := deploy(t, h, wasmtest.DrainableModule(100))

	journal.fail = errors.New("disk full")
	if _, err := h.Call(ctx, addr, "zerolock_drain", 40); !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("Call(drain) = %v, want ErrInternal", err)
	}
	if got, _ := h.Balance(ctx, addr); got != 100 {
		t.Errorf("Balance() = %d, want 100 after unrecorded call", got)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	journal := newMemJournal()
	h := New(DefaultConfig(), nil, WithJournal(journal))
	defer h.Close(ctx)

	addr := deploy(t, h, wasmtest.DrainableModule(100))
	h.Call(ctx, addr, "zerolock_drain", 1)
	empty, _ := h.Create(ctx)

	for _, a := range []string{addr, empty, "target-unknown"} {
		if err := h.Remove(ctx, a); err != nil {
			t.Errorf("Remove(%s) error: %v", a, err)
		}
	}
	if h.Targets() != 0 {
		t.Errorf("Targets() = %d, want 0", h.Targets())
	}
	if len(journal.calls) != 0 {
		t.Errorf("journal = %v, want dropped", journal.calls)
	}
	if _, err := h.Balance(ctx, addr); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Balance(removed) = %v, want ErrNotFound", err)
	}
}
