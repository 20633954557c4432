package judge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerolock-network/zerolock/internal/app/executor"
	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/events"
	"github.com/zerolock-network/zerolock/internal/infra/governance"
	"github.com/zerolock-network/zerolock/internal/infra/sqlite"
	"github.com/zerolock-network/zerolock/internal/infra/vault"
	"github.com/zerolock-network/zerolock/internal/infra/wasmhost"
	"github.com/zerolock-network/zerolock/internal/infra/wasmhost/wasmtest"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

const (
	registryID domain.Identity = "zerolock-registry"
	admin      domain.Identity = "ops"
	company    domain.Identity = "acme"
	hacker     domain.Identity = "mallory"
	treasury   domain.Identity = "treasury"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyOracle fails every read while err is set.
type flakyOracle struct {
	domain.BalanceOracle
	mu  sync.Mutex
	err error
}

func (o *flakyOracle) Balance(ctx context.Context, addr string) (uint64, error) {
	o.mu.Lock()
	err := o.err
	o.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return o.BalanceOracle.Balance(ctx, addr)
}

func (o *flakyOracle) fail(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

type recordingCompleter struct {
	mu        sync.Mutex
	completed []uint64
}

func (c *recordingCompleter) MarkCompleted(_ context.Context, _ domain.Identity, id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed = append(c.completed, id)
	return nil
}

func (c *recordingCompleter) ids() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.completed...)
}

type fixture struct {
	judge     *Judge
	db        *sqlite.DB
	vault     *vault.Vault
	host      *wasmhost.Host
	oracle    *flakyOracle
	exec      *executor.Executor
	completer *recordingCompleter
	clock     *clock
	events    *events.Buffer
}

func newTestJudge(t *testing.T, edit ...func(*Config)) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	for _, e := range edit {
		e(&cfg)
	}

	gov := governance.New(db, nil)
	require.NoError(t, gov.Seed(ctx, []domain.Identity{admin}, []domain.Identity{registryID, cfg.Identity}))

	f := &fixture{
		db:        db,
		clock:     &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
		completer: &recordingCompleter{},
		events:    events.NewBuffer(128),
	}
	f.host = wasmhost.New(wasmhost.DefaultConfig(), nil)
	t.Cleanup(func() { f.host.Close(ctx) })
	f.oracle = &flakyOracle{BalanceOracle: f.host}

	vcfg := vault.DefaultConfig()
	vcfg.FeeRecipient = treasury
	f.vault, err = vault.New(vcfg, db, gov, vault.WithClock(f.clock.now))
	require.NoError(t, err)

	f.exec = executor.New(ctx, executor.Config{MaxConcurrent: 4, DefaultTimeout: 10 * time.Second}, nil)
	t.Cleanup(f.exec.Close)

	f.judge = New(cfg, db, gov, f.oracle, f.vault, f.exec, WithClock(f.clock.now), WithEvents(f.events))
	f.judge.SetCompleter(f.completer)
	return f
}

// monitored deploys a drainable target holding balance, escrows a
// 10,000,000 bounty for challenge id and starts monitoring it.
func (f *fixture) monitored(t *testing.T, id uint64, balance int64) string {
	t.Helper()
	ctx := context.Background()
	addr, err := f.host.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.host.Install(ctx, addr, wasmtest.DrainableModule(balance)))

	_, err = f.vault.Deposit(ctx, company, domain.AssetNative, 10_000_000)
	require.NoError(t, err)
	require.NoError(t, f.vault.Lock(ctx, registryID, domain.LockRequest{
		ChallengeID: id, Owner: company, Amount: 10_000_000, Asset: domain.AssetNative, Duration: 48 * time.Hour,
	}))
	require.NoError(t, f.judge.StartMonitoring(ctx, registryID, id, addr))
	return addr
}

func (f *fixture) drain(t *testing.T, addr string, amount uint64) {
	t.Helper()
	_, err := f.host.Call(context.Background(), addr, "zerolock_drain", amount)
	require.NoError(t, err)
}

func (f *fixture) available(t *testing.T, id domain.Identity) uint64 {
	t.Helper()
	b, err := f.vault.GetBalance(context.Background(), id, domain.AssetNative)
	require.NoError(t, err)
	return b.Available
}

func attempt(id uint64) domain.AttackAttempt {
	return domain.AttackAttempt{ID: id, Hacker: hacker}
}

// ─── Monitoring ─────────────────────────────────────────────────────────────

func TestStartMonitoring_RecordsBaseline(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000_000)

	st, err := f.judge.MonitoringState(ctx, 1)
	require.NoError(t, err)
	assert.True(t, st.Active)
	assert.Equal(t, uint64(1_000_000), st.InitialBalance)
	assert.Equal(t, uint64(1_000_000), st.CurrentBalance)
	assert.Equal(t, addr, st.Target)
	assert.False(t, st.AttackDetected)

	hist, err := f.judge.BalanceHistory(ctx, addr, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, uint64(1_000_000), hist[0].Balance)
}

func TestStartMonitoring_Rejections(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000)

	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, "random", 2, addr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, domain.Anonymous, 2, addr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, admin, 2, addr), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, registryID, 2, ""), domain.ErrInvalidInput)
	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, registryID, 1, addr), domain.ErrInvalidState)
	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, registryID, 3, "target-unknown"), domain.ErrInternal)
}

func TestMonitoringToggle_OnlyRegistryIdentity(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000)

	// The judge's own identity is trusted for settlement but does not own
	// the monitoring lifecycle.
	judgeID := DefaultConfig().Identity
	assert.ErrorIs(t, f.judge.StopMonitoring(ctx, judgeID, 1), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.judge.StartMonitoring(ctx, judgeID, 2, addr), domain.ErrUnauthorized)

	st, err := f.judge.MonitoringState(ctx, 1)
	require.NoError(t, err)
	assert.True(t, st.Active)
}

func TestStopMonitoring_KeepsHistoryAndCanRestart(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000_000)

	assert.ErrorIs(t, f.judge.StopMonitoring(ctx, company, 1), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.judge.StopMonitoring(ctx, registryID, 99), domain.ErrNotFound)
	require.NoError(t, f.judge.StopMonitoring(ctx, registryID, 1))
	require.NoError(t, f.judge.StopMonitoring(ctx, registryID, 1), "stopping twice is harmless")

	st, _ := f.judge.MonitoringState(ctx, 1)
	assert.False(t, st.Active)
	hist, _ := f.judge.BalanceHistory(ctx, addr, 0)
	assert.Len(t, hist, 1)

	f.drain(t, addr, 500_000)
	require.NoError(t, f.judge.StartMonitoring(ctx, registryID, 1, addr))
	st, _ = f.judge.MonitoringState(ctx, 1)
	assert.True(t, st.Active)
	assert.Equal(t, uint64(500_000), st.InitialBalance, "restart takes a fresh baseline")
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Scenario D.
func TestEvaluate_ValidAttackSettlesBounty(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000_000)
	f.drain(t, addr, 150_000)

	v, err := f.judge.Evaluate(ctx, hacker, 1, attempt(7))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionValid, v.Evaluation.Decision)
	assert.InDelta(t, 15.0, v.Evaluation.DecreasePercent, 1e-9)
	assert.Equal(t, "Balance change: 15.00% (150000 tokens). Threshold: 10%", v.Evaluation.Reasoning)
	assert.Equal(t, uint64(850_000), v.Evaluation.CurrentBalance)
	assert.Equal(t, uint64(7), v.Evaluation.AttemptID)
	assert.True(t, v.SettlementQueued)

	f.exec.Wait()

	assert.Equal(t, uint64(9_750_000), f.available(t, hacker))
	assert.Equal(t, uint64(250_000), f.available(t, treasury))
	assert.Equal(t, []uint64{1}, f.completer.ids())

	recs, err := f.judge.Settlements(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SettlementCompleted, recs[0].Status)
	assert.Equal(t, uint64(9_750_000), recs[0].Net)
	assert.Equal(t, uint64(250_000), recs[0].Fee)
	assert.Equal(t, v.Evaluation.ID, recs[0].EvaluationID)

	st, _ := f.judge.MonitoringState(ctx, 1)
	assert.True(t, st.AttackDetected)
	assert.Equal(t, uint64(850_000), st.CurrentBalance)
}

func TestEvaluate_Threshold(t *testing.T) {
	tests := []struct {
		name  string
		drain uint64
		want  domain.Decision
	}{
		{"no change", 0, domain.DecisionInvalid},
		{"just below", 99_999, domain.DecisionInvalid},
		{"exactly at threshold", 100_000, domain.DecisionValid},
		{"fully drained", 1_000_000, domain.DecisionValid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestJudge(t)
			addr := f.monitored(t, 1, 1_000_000)
			if tt.drain > 0 {
				f.drain(t, addr, tt.drain)
			}
			v, err := f.judge.Evaluate(context.Background(), hacker, 1, attempt(1))
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Evaluation.Decision)
			assert.Equal(t, tt.want == domain.DecisionValid, v.SettlementQueued)
			f.exec.Wait()
		})
	}
}

func TestEvaluate_BalanceIncreaseIsInvalid(t *testing.T) {
	f := newTestJudge(t)
	addr := f.monitored(t, 1, 1_000_000)
	f.drain(t, addr, ^uint64(0)) // subtracting -1 adds one

	v, err := f.judge.Evaluate(context.Background(), hacker, 1, attempt(1))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionInvalid, v.Evaluation.Decision)
	assert.Zero(t, v.Evaluation.DecreasePercent)
}

func TestEvaluate_ZeroBaselineIsInvalid(t *testing.T) {
	f := newTestJudge(t)
	f.monitored(t, 1, 0)

	v, err := f.judge.Evaluate(context.Background(), hacker, 1, attempt(1))
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionInvalid, v.Evaluation.Decision)
}

func TestEvaluate_Rejections(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	f.monitored(t, 1, 1_000_000)

	_, err := f.judge.Evaluate(ctx, domain.Anonymous, 1, domain.AttackAttempt{ID: 1})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.judge.Evaluate(ctx, "eve", 1, attempt(1))
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "cannot claim an attempt for someone else")

	_, err = f.judge.Evaluate(ctx, hacker, 42, attempt(1))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.judge.StopMonitoring(ctx, registryID, 1))
	_, err = f.judge.Evaluate(ctx, hacker, 1, attempt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	evals, _ := f.judge.Evaluations(ctx, 1)
	assert.Empty(t, evals)
}

func TestEvaluate_HackerDefaultsToCaller(t *testing.T) {
	f := newTestJudge(t)
	f.monitored(t, 1, 1_000_000)

	v, err := f.judge.Evaluate(context.Background(), "carol", 1, domain.AttackAttempt{ID: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("carol"), v.Evaluation.Hacker)
	assert.Equal(t, f.judge.Identity(), v.Evaluation.Evaluator)
}

func TestEvaluate_OracleFailureIsInternal(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	f.monitored(t, 1, 1_000_000)
	f.oracle.fail(errors.New("dial tcp: connection refused"))

	_, err := f.judge.Evaluate(ctx, hacker, 1, attempt(1))
	require.ErrorIs(t, err, domain.ErrInternal)
	assert.NotContains(t, err.Error(), "refused")

	evals, _ := f.judge.Evaluations(ctx, 1)
	assert.Empty(t, evals)
}

func TestEvaluate_SettlementFailureKeepsEvaluation(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr, err := f.host.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, f.host.Install(ctx, addr, wasmtest.DrainableModule(1_000_000)))
	require.NoError(t, f.judge.StartMonitoring(ctx, registryID, 5, addr)) // no escrow
	f.drain(t, addr, 500_000)

	v, err := f.judge.Evaluate(ctx, hacker, 5, attempt(1))
	require.NoError(t, err)
	assert.True(t, v.SettlementQueued)
	f.exec.Wait()

	evals, _ := f.judge.Evaluations(ctx, 5)
	require.Len(t, evals, 1)
	assert.Equal(t, domain.DecisionValid, evals[0].Decision)

	recs, _ := f.judge.Settlements(ctx, 5)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SettlementFailed, recs[0].Status)
	assert.NotEmpty(t, recs[0].Error)
	assert.NotNil(t, recs[0].FinishedAt)
	assert.Empty(t, f.completer.ids())
}

func TestReconcileSettlements_ResumesInterruptedPayouts(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	f.monitored(t, 1, 1_000_000)

	// Records a previous process inserted but never finished: challenge 1
	// still holds its escrow, challenge 2 never had one.
	for _, id := range []uint64{1, 2} {
		_, err := f.db.InsertSettlement(ctx, &domain.SettlementRecord{
			ChallengeID: id, EvaluationID: id, Recipient: hacker,
			Status: domain.SettlementPending, CreatedAt: f.clock.now(),
		})
		require.NoError(t, err)
	}

	n, err := f.judge.ReconcileSettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	f.exec.Wait()

	assert.Equal(t, uint64(9_750_000), f.available(t, hacker))
	assert.Equal(t, []uint64{1}, f.completer.ids())

	recs, _ := f.judge.Settlements(ctx, 1)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SettlementCompleted, recs[0].Status)

	recs, _ = f.judge.Settlements(ctx, 2)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.SettlementFailed, recs[0].Status)
	assert.NotNil(t, recs[0].FinishedAt)

	pending, err := f.db.PendingSettlements(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = f.judge.ReconcileSettlements(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to reconcile")
}

func TestEvaluate_NeverPaysTwice(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000_000)
	f.drain(t, addr, 200_000)

	_, err := f.judge.Evaluate(ctx, hacker, 1, attempt(1))
	require.NoError(t, err)
	f.exec.Wait()
	_, err = f.judge.Evaluate(ctx, hacker, 1, attempt(2))
	require.NoError(t, err)
	f.exec.Wait()

	assert.Equal(t, uint64(9_750_000), f.available(t, hacker))
	recs, _ := f.judge.Settlements(ctx, 1)
	require.Len(t, recs, 2)
	assert.Equal(t, domain.SettlementFailed, recs[0].Status, "newest attempt found no escrow")
	assert.Equal(t, domain.SettlementCompleted, recs[1].Status)
}

func TestEvaluate_HistoryIsBounded(t *testing.T) {
	f := newTestJudge(t, func(c *Config) { c.HistoryCap = 5 })
	ctx := context.Background()
	addr := f.monitored(t, 1, 1_000_000)

	for i := uint64(1); i <= 7; i++ {
		f.drain(t, addr, 1)
		_, err := f.judge.Evaluate(ctx, hacker, 1, attempt(i))
		require.NoError(t, err)
	}
	hist, err := f.judge.BalanceHistory(ctx, addr, 100)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	assert.Equal(t, uint64(999_997), hist[0].Balance, "oldest entries evicted first")
	assert.Equal(t, uint64(999_993), hist[4].Balance)

	evals, _ := f.judge.Evaluations(ctx, 1)
	assert.Len(t, evals, 7)
}

func TestMeasure_Exact(t *testing.T) {
	j := &Judge{cfg: DefaultConfig()}
	tests := []struct {
		initial, current uint64
		valid            bool
	}{
		{10, 9, true},
		{11, 10, false},
		{^uint64(0), ^uint64(0) - ^uint64(0)/10 - 1, true},
		{^uint64(0), ^uint64(0) - ^uint64(0)/10, false},
		{0, 0, false},
		{5, 7, false},
	}
	for _, tt := range tests {
		if _, _, got := j.measure(tt.initial, tt.current); got != tt.valid {
			t.Errorf("measure(%d, %d) valid = %v, want %v", tt.initial, tt.current, got, tt.valid)
		}
	}
}

// ─── Periodic Checks ────────────────────────────────────────────────────────

func TestPeriodicChecks_FlagsWithoutSettling(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	drained := f.monitored(t, 1, 1_000_000)
	f.monitored(t, 2, 1_000_000)

	n, err := f.judge.PeriodicChecks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing due yet")

	f.drain(t, drained, 200_000)
	f.clock.advance(61 * time.Second)
	n, err = f.judge.PeriodicChecks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, _ := f.judge.MonitoringState(ctx, 1)
	assert.True(t, st.AttackDetected)
	assert.Equal(t, uint64(800_000), st.CurrentBalance)
	other, _ := f.judge.MonitoringState(ctx, 2)
	assert.False(t, other.AttackDetected)

	hist, _ := f.judge.BalanceHistory(ctx, drained, 0)
	assert.Len(t, hist, 2)

	f.exec.Wait()
	assert.Zero(t, f.available(t, hacker), "periodic checks never settle")
	evals, _ := f.judge.Evaluations(ctx, 1)
	assert.Empty(t, evals)

	n, _ = f.judge.PeriodicChecks(ctx)
	assert.Zero(t, n, "just checked")
}

func TestPeriodicChecks_FailedReadAdvancesLastCheck(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	f.monitored(t, 1, 1_000_000)
	f.clock.advance(2 * time.Minute)
	f.oracle.fail(errors.New("timeout"))

	n, err := f.judge.PeriodicChecks(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	st, _ := f.judge.MonitoringState(ctx, 1)
	assert.Equal(t, f.clock.now(), st.LastCheck)
	assert.Equal(t, uint64(1_000_000), st.CurrentBalance)
}

// ─── Disputes ───────────────────────────────────────────────────────────────

func TestDisputeLifecycle(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()

	_, err := f.judge.CreateDispute(ctx, domain.Anonymous, domain.DisputeRequest{ChallengeID: 1, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.judge.CreateDispute(ctx, hacker, domain.DisputeRequest{ChallengeID: 1, Reason: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.judge.CreateDispute(ctx, hacker, domain.DisputeRequest{ChallengeID: 1, Reason: "x", Evidence: [][]byte{make([]byte, 1<<20+1)}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	id, err := f.judge.CreateDispute(ctx, hacker, domain.DisputeRequest{
		ChallengeID: 1, AttemptID: 7, Reason: "drain happened after the deadline check",
		Evidence: [][]byte{[]byte("tx-log"), {0x00, 0xff}},
	})
	require.NoError(t, err)

	d, err := f.judge.GetDispute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DisputeOpen, d.Status)
	assert.Equal(t, hacker, d.Disputer)
	assert.Equal(t, [][]byte{[]byte("tx-log"), {0x00, 0xff}}, d.Evidence)

	assert.ErrorIs(t, f.judge.MarkUnderReview(ctx, hacker, id), domain.ErrUnauthorized)
	require.NoError(t, f.judge.MarkUnderReview(ctx, admin, id))
	assert.ErrorIs(t, f.judge.MarkUnderReview(ctx, admin, id), domain.ErrInvalidState)

	open, _ := f.judge.OpenDisputes(ctx)
	require.Len(t, open, 1)
	assert.Equal(t, domain.DisputeUnderReview, open[0].Status)

	assert.ErrorIs(t, f.judge.ResolveDispute(ctx, hacker, id, domain.DisputeResolved, "ok"), domain.ErrUnauthorized)
	assert.ErrorIs(t, f.judge.ResolveDispute(ctx, admin, id, domain.DisputeOpen, "ok"), domain.ErrInvalidInput)
	require.NoError(t, f.judge.ResolveDispute(ctx, admin, id, domain.DisputeRejected, "balance drop was a withdrawal"))
	assert.ErrorIs(t, f.judge.ResolveDispute(ctx, admin, id, domain.DisputeResolved, "again"), domain.ErrInvalidState)

	d, _ = f.judge.GetDispute(ctx, id)
	assert.Equal(t, domain.DisputeRejected, d.Status)
	assert.Equal(t, "balance drop was a withdrawal", d.Resolution)
	require.NotNil(t, d.ResolvedAt)
	assert.Equal(t, f.clock.now(), *d.ResolvedAt)

	open, _ = f.judge.OpenDisputes(ctx)
	assert.Empty(t, open)
	assert.Equal(t, domain.EventDisputeResolved, f.events.Recent(1)[0].Kind)

	_, err = f.judge.GetDispute(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestResolveDispute_FromOpen(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	id, err := f.judge.CreateDispute(ctx, hacker, domain.DisputeRequest{ChallengeID: 1, Reason: "x"})
	require.NoError(t, err)
	require.NoError(t, f.judge.ResolveDispute(ctx, admin, id, domain.DisputeResolved, "upheld"))
}

func TestOverdueDisputes(t *testing.T) {
	f := newTestJudge(t)
	ctx := context.Background()
	old, err := f.judge.CreateDispute(ctx, hacker, domain.DisputeRequest{ChallengeID: 1, Reason: "old"})
	require.NoError(t, err)
	f.clock.advance(6 * 24 * time.Hour)
	_, err = f.judge.CreateDispute(ctx, hacker, domain.DisputeRequest{ChallengeID: 2, Reason: "new"})
	require.NoError(t, err)

	overdue, err := f.judge.OverdueDisputes(ctx)
	require.NoError(t, err)
	assert.Empty(t, overdue)

	f.clock.advance(2 * 24 * time.Hour)
	overdue, _ = f.judge.OverdueDisputes(ctx)
	require.Len(t, overdue, 1)
	assert.Equal(t, old, overdue[0].ID)
}
