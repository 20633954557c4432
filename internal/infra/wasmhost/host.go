// Package wasmhost runs challenge target programs in sandboxed WebAssembly
// runtimes.
//
// Each target gets its own wazero runtime with no host modules, so a program
// can compute only over its own memory and globals. A target reports the value
// it holds through the exported zerolock_balance function, which is what the
// judge measures before and after an attack. zerolock_balance must be a pure
// read.
//
// Every other successful call is appended to the target's journal. A call
// that traps or runs past its deadline leaves the instance unusable, so the
// host discards it and replays the journal over a fresh instance: the failed
// call is rolled back and the target keeps serving. With a persistent
// journal the same replay restores targets after a restart.
package wasmhost

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// BalanceExport is the function every target must export: () -> i64.
const BalanceExport = "zerolock_balance"

// Compile-time checks.
var (
	_ domain.CodeDeploymentService = (*Host)(nil)
	_ domain.BalanceOracle         = (*Host)(nil)
)

// Config controls target sandboxes.
type Config struct {
	MemoryLimitPages uint32        // 64 KiB pages per target (default: 256)
	CallTimeout      time.Duration // Per-call deadline (default: 5s)
	MaxTargets       int           // Hosted targets (default: 1024)
	MaxCalls         int           // Journaled calls per target (default: 10000)
}

// DefaultConfig returns safe sandbox defaults.
func DefaultConfig() Config {
	return Config{
		MemoryLimitPages: 256,
		CallTimeout:      5 * time.Second,
		MaxTargets:       1024,
		MaxCalls:         10_000,
	}
}

// Option configures a Host.
type Option func(*Host)

// WithJournal persists each target's calls so Restore can rebuild it.
func WithJournal(j domain.TargetJournal) Option {
	return func(h *Host) { h.journal = j }
}

// Host owns every deployed target.
type Host struct {
	cfg     Config
	journal domain.TargetJournal
	logger  *slog.Logger

	mu      sync.Mutex
	targets map[string]*target
}

// target is one sandbox. module is nil until Install succeeds and after a
// rebuild fails; removed is set once the address is forgotten.
type target struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	payload []byte
	calls   []domain.TargetCall
	removed bool
}

// New creates an empty host.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Host {
	def := DefaultConfig()
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = def.MemoryLimitPages
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = def.MaxTargets
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = def.MaxCalls
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &Host{
		cfg:     cfg,
		logger:  logger.With("component", "wasmhost"),
		targets: make(map[string]*target),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ─── Deployment ─────────────────────────────────────────────────────────────

// Create allocates an empty sandbox and returns its address.
func (h *Host) Create(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.targets) >= h.cfg.MaxTargets {
		return "", fmt.Errorf("%w: %d targets hosted", domain.ErrResourceLimit, len(h.targets))
	}
	addr := "target-" + uuid.NewString()
	h.targets[addr] = &target{runtime: h.newRuntime(ctx)}

	h.logger.Debug("target created", "address", addr)
	return addr, nil
}

// Install compiles payload and instantiates it in the target. A payload that
// fails to compile, imports anything, or lacks the balance export is
// rejected and the sandbox is released.
func (h *Host) Install(ctx context.Context, addr string, payload []byte) error {
	t, err := h.lookup(addr)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return fmt.Errorf("%w: target %s", domain.ErrNotFound, addr)
	}
	if t.payload != nil {
		return fmt.Errorf("%w: target %s already installed", domain.ErrInvalidState, addr)
	}

	mod, err := instantiate(ctx, t.runtime, addr, payload)
	if err != nil {
		h.release(ctx, addr, t)
		return err
	}
	t.module = mod
	t.payload = payload

	h.logger.Info("target installed", "address", addr, "bytes", len(payload))
	return nil
}

func instantiate(ctx context.Context, rt wazero.Runtime, addr string, payload []byte) (api.Module, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", domain.ErrInvalidInput)
	}
	compiled, err := rt.CompileModule(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: can't compile module: %v", domain.ErrInvalidInput, err)
	}

	def, ok := compiled.ExportedFunctions()[BalanceExport]
	if !ok {
		return nil, fmt.Errorf("%w: module does not export %s", domain.ErrInvalidInput, BalanceExport)
	}
	if res := def.ResultTypes(); len(def.ParamTypes()) != 0 || len(res) != 1 || res[0] != api.ValueTypeI64 {
		return nil, fmt.Errorf("%w: %s must have signature () -> i64", domain.ErrInvalidInput, BalanceExport)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: can't instantiate module: %v", domain.ErrInvalidInput, err)
	}
	return mod, nil
}

// Remove releases addr's sandbox and drops its journal.
func (h *Host) Remove(ctx context.Context, addr string) error {
	h.mu.Lock()
	t, ok := h.targets[addr]
	h.mu.Unlock()
	if ok {
		t.mu.Lock()
		h.release(ctx, addr, t)
		t.mu.Unlock()
	}

	if h.journal != nil {
		if err := h.journal.DeleteTargetCalls(ctx, addr); err != nil {
			h.logger.Error("drop target journal", "address", addr, "error", err)
			return fmt.Errorf("%w: drop journal of %s", domain.ErrInternal, addr)
		}
	}
	h.logger.Info("target removed", "address", addr)
	return nil
}

// Restore rebuilds a target at addr from payload and the calls journaled
// against it.
func (h *Host) Restore(ctx context.Context, addr string, payload []byte) error {
	if _, err := h.lookup(addr); err == nil {
		return fmt.Errorf("%w: target %s is already hosted", domain.ErrInvalidState, addr)
	}

	t := &target{payload: payload}
	if h.journal != nil {
		calls, err := h.journal.TargetCalls(ctx, addr)
		if err != nil {
			h.logger.Error("read target journal", "address", addr, "error", err)
			return fmt.Errorf("%w: read journal of %s", domain.ErrInternal, addr)
		}
		t.calls = calls
	}
	if err := h.rebuild(ctx, addr, t); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, hosted := h.targets[addr]
	if hosted || len(h.targets) >= h.cfg.MaxTargets {
		if err := t.runtime.Close(ctx); err != nil {
			h.logger.Warn("close target runtime", "address", addr, "error", err)
		}
		if hosted {
			return fmt.Errorf("%w: target %s is already hosted", domain.ErrInvalidState, addr)
		}
		return fmt.Errorf("%w: %d targets hosted", domain.ErrResourceLimit, len(h.targets))
	}
	h.targets[addr] = t

	h.logger.Info("target restored", "address", addr, "replayed", len(t.calls))
	return nil
}

func (h *Host) newRuntime(ctx context.Context) wazero.Runtime {
	rc := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(h.cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	return wazero.NewRuntimeWithConfig(ctx, rc)
}

// rebuild swaps t's instance for a fresh one of its payload with every
// journaled call replayed. On failure t is left without a module. Called
// with t.mu held.
func (h *Host) rebuild(ctx context.Context, addr string, t *target) error {
	// The caller's context may be the one that timed out.
	ctx = context.WithoutCancel(ctx)
	if t.runtime != nil {
		if err := t.runtime.Close(ctx); err != nil {
			h.logger.Warn("close target runtime", "address", addr, "error", err)
		}
	}
	t.runtime, t.module = nil, nil

	rt := h.newRuntime(ctx)
	mod, err := instantiate(ctx, rt, addr, t.payload)
	if err != nil {
		rt.Close(ctx)
		return err
	}
	for i, c := range t.calls {
		f := mod.ExportedFunction(c.Function)
		if f == nil {
			rt.Close(ctx)
			return fmt.Errorf("%w: replay of %s call %d: %s is not exported", domain.ErrInternal, addr, i, c.Function)
		}
		callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
		_, err := f.Call(callCtx, c.Args...)
		cancel()
		if err != nil {
			rt.Close(ctx)
			return fmt.Errorf("%w: replay of %s call %d (%s): %v", domain.ErrInternal, addr, i, c.Function, err)
		}
	}
	t.runtime, t.module = rt, mod
	return nil
}

// rollback discards the instance a failed call left behind.
func (h *Host) rollback(ctx context.Context, addr string, t *target) {
	if err := h.rebuild(ctx, addr, t); err != nil {
		h.logger.Error("target rebuild failed", "address", addr, "error", err)
		return
	}
	h.logger.Info("target rolled back", "address", addr, "replayed", len(t.calls))
}

// release closes a sandbox and forgets its address. Called with t.mu held.
func (h *Host) release(ctx context.Context, addr string, t *target) {
	if t.runtime != nil {
		if err := t.runtime.Close(ctx); err != nil {
			h.logger.Warn("close target runtime", "address", addr, "error", err)
		}
	}
	t.runtime, t.module, t.removed = nil, nil, true
	h.mu.Lock()
	if h.targets[addr] == t {
		delete(h.targets, addr)
	}
	h.mu.Unlock()
}

func (h *Host) lookup(addr string) (*target, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.targets[addr]
	if !ok {
		return nil, fmt.Errorf("%w: target %s", domain.ErrNotFound, addr)
	}
	return t, nil
}

// ─── Invocation ─────────────────────────────────────────────────────────────

// Balance returns the value the target reports through BalanceExport.
func (h *Host) Balance(ctx context.Context, addr string) (uint64, error) {
	res, err := h.Call(ctx, addr, BalanceExport)
	if err != nil {
		return 0, err
	}
	if v := int64(res[0]); v < 0 {
		h.logger.Warn("target reported negative balance", "address", addr, "value", v)
		return 0, fmt.Errorf("%w: target %s reported a negative balance", domain.ErrInternal, addr)
	}
	return res[0], nil
}

// Call invokes an exported function of an installed target. Calls to one
// target are serialized; a call that outlives CallTimeout is aborted. A
// failed call leaves no trace in the target's state.
func (h *Host) Call(ctx context.Context, addr, fn string, args ...uint64) ([]uint64, error) {
	t, err := h.lookup(addr)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return nil, fmt.Errorf("%w: target %s", domain.ErrNotFound, addr)
	}
	if t.module == nil {
		return nil, fmt.Errorf("%w: target %s has no program installed", domain.ErrInvalidState, addr)
	}
	f := t.module.ExportedFunction(fn)
	if f == nil {
		return nil, fmt.Errorf("%w: target %s does not export %s", domain.ErrNotFound, addr, fn)
	}
	if n := len(f.Definition().ParamTypes()); n != len(args) {
		return nil, fmt.Errorf("%w: %s takes %d arguments, got %d", domain.ErrInvalidInput, fn, n, len(args))
	}
	mutates := fn != BalanceExport
	if mutates && len(t.calls) >= h.cfg.MaxCalls {
		return nil, fmt.Errorf("%w: target %s has %d recorded calls", domain.ErrResourceLimit, addr, len(t.calls))
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cfg.CallTimeout)
	defer cancel()
	res, err := f.Call(callCtx, args...)
	if err != nil {
		h.logger.Warn("target call failed", "address", addr, "function", fn, "error", err)
		h.rollback(ctx, addr, t)
		return nil, fmt.Errorf("%w: call %s on %s failed", domain.ErrInternal, fn, addr)
	}
	if !mutates {
		return res, nil
	}

	call := domain.TargetCall{Function: fn, Args: append([]uint64(nil), args...)}
	if h.journal != nil {
		if err := h.journal.AppendTargetCall(ctx, addr, call); err != nil {
			h.logger.Error("journal target call", "address", addr, "function", fn, "error", err)
			h.rollback(ctx, addr, t)
			return nil, fmt.Errorf("%w: record call %s on %s", domain.ErrInternal, fn, addr)
		}
	}
	t.calls = append(t.calls, call)
	return res, nil
}

// Targets returns the number of hosted targets.
func (h *Host) Targets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.targets)
}

// Close releases every sandbox. Journals are kept for Restore.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	targets := h.targets
	h.targets = make(map[string]*target)
	h.mu.Unlock()

	var first error
	for addr, t := range targets {
		t.mu.Lock()
		if t.runtime != nil {
			if err := t.runtime.Close(ctx); err != nil && first == nil {
				first = fmt.Errorf("close target %s: %w", addr, err)
			}
		}
		t.runtime, t.module, t.removed = nil, nil, true
		t.mu.Unlock()
	}
	return first
}
