// Package judge evaluates attack attempts and manages disputes.
//
// Monitoring records a target's balance as a baseline when a challenge is
// activated. An attack attempt is judged by re-reading the balance: a
// decrease of at least the threshold percentage is a Valid attack, and a
// Valid verdict queues an asynchronous bounty settlement with the vault.
// The evaluation is written before settlement starts, so the audit trail is
// accurate whatever happens to the payout.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"strings"
	"sync"
	"time"

	"github.com/zerolock-network/zerolock/internal/app/executor"
	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/observability"
)

// Settler is the vault surface the judge pays bounties through.
type Settler interface {
	Unlock(ctx context.Context, caller domain.Identity, req domain.UnlockRequest) (domain.Settlement, error)
	GetLock(ctx context.Context, challengeID uint64) (*domain.LockInfo, error)
}

// Completer marks a challenge Completed once its bounty is paid.
type Completer interface {
	MarkCompleted(ctx context.Context, caller domain.Identity, challengeID uint64) error
}

// Dispatcher runs settlements off the request path.
type Dispatcher interface {
	Submit(task executor.Task) error
}

// Config controls evaluation policy.
type Config struct {
	Identity               domain.Identity `json:"identity"`          // the judge's identity toward the vault and registry
	RegistryIdentity       domain.Identity `json:"registry_identity"` // allowed to toggle monitoring
	AttackThresholdPercent uint64          `json:"attack_threshold_percent"`
	CheckInterval          time.Duration   `json:"check_interval"`
	HistoryCap             int             `json:"history_cap"`
	DisputeReviewPeriod    time.Duration   `json:"dispute_review_period"`
	CheckBatch             int             `json:"check_batch"`
	MaxEvidenceBytes       int             `json:"max_evidence_bytes"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Identity:               "zerolock-judge",
		RegistryIdentity:       "zerolock-registry",
		AttackThresholdPercent: 10,
		CheckInterval:          60 * time.Second,
		HistoryCap:             1000,
		DisputeReviewPeriod:    7 * 24 * time.Hour,
		CheckBatch:             100,
		MaxEvidenceBytes:       1 << 20,
	}
}

// Judge is the evaluation and dispute engine.
type Judge struct {
	cfg       Config
	store     domain.JudgeStore
	auth      domain.Authorizer
	oracle    domain.BalanceOracle
	settler   Settler
	completer Completer
	dispatch  Dispatcher
	events    domain.EventPublisher
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// mu guards every read-modify-write of judge state. It is never held
	// across a balance query or a vault call.
	mu       sync.Mutex
	starting map[uint64]bool
	settling map[uint64]bool
}

// Option configures optional collaborators.
type Option func(*Judge)

// WithEvents publishes verdicts and disputes to p.
func WithEvents(p domain.EventPublisher) Option { return func(j *Judge) { j.events = p } }

// WithMetrics records judge activity in m.
func WithMetrics(m *observability.Metrics) Option { return func(j *Judge) { j.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(j *Judge) { j.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(j *Judge) { j.now = now } }

// New creates a judge. The completer is installed later with SetCompleter
// because the registry is built after the judge.
func New(cfg Config, store domain.JudgeStore, auth domain.Authorizer, oracle domain.BalanceOracle, settler Settler, dispatch Dispatcher, opts ...Option) *Judge {
	def := DefaultConfig()
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = def.HistoryCap
	}
	if cfg.CheckBatch <= 0 {
		cfg.CheckBatch = def.CheckBatch
	}
	if cfg.MaxEvidenceBytes <= 0 {
		cfg.MaxEvidenceBytes = def.MaxEvidenceBytes
	}
	j := &Judge{
		cfg:      cfg,
		store:    store,
		auth:     auth,
		oracle:   oracle,
		settler:  settler,
		dispatch: dispatch,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		starting: make(map[uint64]bool),
		settling: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = j.logger.With("component", "judge")
	return j
}

// SetCompleter installs the component told about paid bounties.
func (j *Judge) SetCompleter(c Completer) {
	j.mu.Lock()
	j.completer = c
	j.mu.Unlock()
}

// Config returns the active policy.
func (j *Judge) Config() Config { return j.cfg }

// Identity returns the judge's own identity.
func (j *Judge) Identity() domain.Identity { return j.cfg.Identity }

// ─── Monitoring ─────────────────────────────────────────────────────────────

// StartMonitoring records target's current balance as the challenge's
// baseline. Only the registry identity may call it, and not while monitoring
// is already active.
func (j *Judge) StartMonitoring(ctx context.Context, caller domain.Identity, challengeID uint64, target string) error {
	if err := j.requireRegistry(caller); err != nil {
		return err
	}
	if target == "" {
		return j.reject(fmt.Errorf("%w: target address is required", domain.ErrInvalidInput))
	}

	j.mu.Lock()
	st, err := j.store.GetMonitoring(ctx, challengeID)
	if err != nil {
		j.mu.Unlock()
		return j.storageErr("get monitoring", err)
	}
	if (st != nil && st.Active) || j.starting[challengeID] {
		j.mu.Unlock()
		return j.reject(fmt.Errorf("%w: challenge %d is already monitored", domain.ErrInvalidState, challengeID))
	}
	j.starting[challengeID] = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		delete(j.starting, challengeID)
		j.mu.Unlock()
	}()

	balance, err := j.oracle.Balance(ctx, target)
	if err != nil {
		return j.collaboratorErr("oracle", "read baseline balance", err)
	}

	now := j.now()
	j.mu.Lock()
	defer j.mu.Unlock()
	st = &domain.MonitoringState{
		ChallengeID:    challengeID,
		Target:         target,
		InitialBalance: balance,
		CurrentBalance: balance,
		StartedAt:      now,
		LastCheck:      now,
		Active:         true,
	}
	err = j.store.UpdateJudge(ctx, func(tx domain.JudgeTx) error {
		if err := tx.PutMonitoring(st); err != nil {
			return err
		}
		return tx.AppendSnapshot(&domain.BalanceSnapshot{Target: target, Balance: balance, Timestamp: now}, j.cfg.HistoryCap)
	})
	if err != nil {
		return j.storageErr("start monitoring", err)
	}

	j.logger.Info("monitoring started", "challenge_id", challengeID, "target", target, "baseline", balance)
	return nil
}

// StopMonitoring deactivates monitoring. History is kept.
func (j *Judge) StopMonitoring(ctx context.Context, caller domain.Identity, challengeID uint64) error {
	if err := j.requireRegistry(caller); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	st, err := j.store.GetMonitoring(ctx, challengeID)
	if err != nil {
		return j.storageErr("get monitoring", err)
	}
	if st == nil {
		return j.reject(fmt.Errorf("%w: challenge %d is not monitored", domain.ErrNotFound, challengeID))
	}
	if !st.Active {
		return nil
	}
	st.Active = false
	if err := j.store.PutMonitoring(ctx, st); err != nil {
		return j.storageErr("put monitoring", err)
	}

	j.logger.Info("monitoring stopped", "challenge_id", challengeID)
	return nil
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Evaluate judges an attack attempt against the challenge's baseline. The
// attempt's hacker defaults to the caller; only allow-listed callers may
// evaluate on someone else's behalf. A Valid verdict queues settlement.
func (j *Judge) Evaluate(ctx context.Context, caller domain.Identity, challengeID uint64, attempt domain.AttackAttempt) (domain.Verdict, error) {
	if caller.IsAnonymous() {
		return domain.Verdict{}, j.reject(fmt.Errorf("%w: anonymous callers cannot submit attack attempts", domain.ErrUnauthorized))
	}
	if attempt.Hacker.IsAnonymous() {
		attempt.Hacker = caller
	}
	if attempt.Hacker != caller && !j.auth.IsTrusted(caller) {
		return domain.Verdict{}, j.reject(fmt.Errorf("%w: caller %s may not submit attempts for %s", domain.ErrUnauthorized, caller, attempt.Hacker))
	}

	st, err := j.activeState(ctx, challengeID)
	if err != nil {
		return domain.Verdict{}, err
	}

	current, err := j.oracle.Balance(ctx, st.Target)
	if err != nil {
		return domain.Verdict{}, j.collaboratorErr("oracle", "read balance", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	// Monitoring may have stopped while the balance was being read.
	if st, err = j.activeStateLocked(ctx, challengeID); err != nil {
		return domain.Verdict{}, err
	}

	now := j.now()
	decrease, pct, valid := j.measure(st.InitialBalance, current)
	decision := domain.DecisionInvalid
	if valid {
		decision = domain.DecisionValid
	}
	eval := domain.Evaluation{
		ChallengeID:     challengeID,
		AttemptID:       attempt.ID,
		Hacker:          attempt.Hacker,
		Decision:        decision,
		Reasoning:       fmt.Sprintf("Balance change: %.2f%% (%d tokens). Threshold: %d%%", pct, decrease, j.cfg.AttackThresholdPercent),
		InitialBalance:  st.InitialBalance,
		CurrentBalance:  current,
		DecreasePercent: pct,
		Timestamp:       now,
		Evaluator:       j.cfg.Identity,
	}
	next := *st
	next.CurrentBalance = current
	next.LastCheck = now
	next.AttackDetected = st.AttackDetected || valid

	err = j.store.UpdateJudge(ctx, func(tx domain.JudgeTx) error {
		if err := tx.AppendSnapshot(&domain.BalanceSnapshot{Target: st.Target, Balance: current, Timestamp: now}, j.cfg.HistoryCap); err != nil {
			return err
		}
		id, err := tx.InsertEvaluation(&eval)
		if err != nil {
			return err
		}
		eval.ID = id
		return tx.PutMonitoring(&next)
	})
	if err != nil {
		return domain.Verdict{}, j.storageErr("record evaluation", err)
	}

	j.metrics.Evaluated(decision)
	j.logger.Info("attack evaluated", "challenge_id", challengeID, "attempt", attempt.ID, "hacker", attempt.Hacker, "decision", decision, "decrease_pct", pct)
	j.publish(ctx, domain.Event{Kind: domain.EventAttackEvaluated, ChallengeID: challengeID, Actor: attempt.Hacker, Amount: decrease, Detail: string(decision), At: now})

	verdict := domain.Verdict{Evaluation: eval}
	if valid {
		j.publish(ctx, domain.Event{Kind: domain.EventAttackDetected, ChallengeID: challengeID, Actor: attempt.Hacker, Amount: decrease, At: now})
		verdict.SettlementQueued = j.queueSettlement(ctx, eval)
	}
	return verdict, nil
}

// measure returns the balance decrease, its percentage of the baseline, and
// whether it meets the threshold. The comparison is exact:
// decrease*100 >= threshold*initial.
func (j *Judge) measure(initial, current uint64) (decrease uint64, pct float64, valid bool) {
	if initial == 0 || current >= initial {
		return 0, 0, false
	}
	decrease = initial - current
	pct = float64(decrease) * 100 / float64(initial)

	dh, dl := bits.Mul64(decrease, 100)
	th, tl := bits.Mul64(j.cfg.AttackThresholdPercent, initial)
	valid = dh > th || (dh == th && dl >= tl)
	return decrease, pct, valid
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// queueSettlement records a pending payout and hands it to the dispatcher.
// It reports whether a settlement was queued. Called with mu held.
func (j *Judge) queueSettlement(ctx context.Context, eval domain.Evaluation) bool {
	if j.settling[eval.ChallengeID] {
		j.logger.Info("settlement already in flight", "challenge_id", eval.ChallengeID, "evaluation", eval.ID)
		return false
	}

	rec := domain.SettlementRecord{
		ChallengeID:  eval.ChallengeID,
		EvaluationID: eval.ID,
		Recipient:    eval.Hacker,
		Status:       domain.SettlementPending,
		CreatedAt:    eval.Timestamp,
	}
	var err error
	if rec.ID, err = j.store.InsertSettlement(ctx, &rec); err != nil {
		j.logger.Error("storage failure", "op", "insert settlement", "err", err)
		return false
	}

	return j.dispatchSettlement(ctx, rec)
}

// dispatchSettlement hands a pending record to the dispatcher. Called with
// mu held.
func (j *Judge) dispatchSettlement(ctx context.Context, rec domain.SettlementRecord) bool {
	j.settling[rec.ChallengeID] = true
	err := j.dispatch.Submit(executor.Task{
		ID:   fmt.Sprintf("settlement-%d", rec.ID),
		Kind: "settlement",
		Run:  func(ctx context.Context) error { return j.settle(ctx, rec) },
	})
	if err != nil {
		delete(j.settling, rec.ChallengeID)
		j.finishSettlement(ctx, &rec, domain.Settlement{}, err)
		return false
	}
	return true
}

// ReconcileSettlements picks up payouts a previous process left Pending.
// A record whose escrow is still active is dispatched again; any other is
// marked Failed. It returns how many records it handled.
func (j *Judge) ReconcileSettlements(ctx context.Context) (int, error) {
	pending, err := j.store.PendingSettlements(ctx, 0)
	if err != nil {
		return 0, j.storageErr("find pending settlements", err)
	}

	n := 0
	for _, rec := range pending {
		lk, err := j.settler.GetLock(ctx, rec.ChallengeID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return n, j.collaboratorErr("vault", "read lock", err)
		}

		j.mu.Lock()
		switch {
		case j.settling[rec.ChallengeID]:
			j.mu.Unlock()
			continue
		case err == nil && lk.Status == domain.LockActive:
			j.logger.Info("resuming settlement", "challenge_id", rec.ChallengeID, "settlement", rec.ID)
			j.dispatchSettlement(ctx, rec)
		default:
			j.finishSettlement(ctx, &rec, domain.Settlement{},
				fmt.Errorf("%w: settlement interrupted and challenge %d has no active escrow", domain.ErrInvalidState, rec.ChallengeID))
		}
		j.mu.Unlock()
		n++
	}
	return n, nil
}

// settle pays the challenge's whole escrow to the hacker, then completes
// the challenge. It runs on the dispatcher.
func (j *Judge) settle(ctx context.Context, rec domain.SettlementRecord) error {
	defer func() {
		j.mu.Lock()
		delete(j.settling, rec.ChallengeID)
		j.mu.Unlock()
	}()

	s, err := j.payout(ctx, rec)
	j.mu.Lock()
	j.finishSettlement(ctx, &rec, s, err)
	completer := j.completer
	j.mu.Unlock()
	if err != nil {
		return err
	}

	if completer != nil {
		if err := completer.MarkCompleted(ctx, j.cfg.Identity, rec.ChallengeID); err != nil {
			j.metrics.CollaboratorFailed("registry")
			j.logger.Warn("mark completed failed", "challenge_id", rec.ChallengeID, "err", err)
		}
	}
	return nil
}

func (j *Judge) payout(ctx context.Context, rec domain.SettlementRecord) (domain.Settlement, error) {
	lk, err := j.settler.GetLock(ctx, rec.ChallengeID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && lk.Status != domain.LockActive) {
		return domain.Settlement{}, fmt.Errorf("%w: challenge %d has no active escrow", domain.ErrInvalidState, rec.ChallengeID)
	}
	if err != nil {
		return domain.Settlement{}, err
	}
	return j.settler.Unlock(ctx, j.cfg.Identity, domain.UnlockRequest{
		ChallengeID: rec.ChallengeID,
		Recipient:   rec.Recipient,
		Amount:      lk.Amount,
		Reason:      domain.BountyPayout(rec.Recipient),
	})
}

// finishSettlement persists a settlement outcome. The evaluation is never
// touched. Called with mu held.
func (j *Judge) finishSettlement(ctx context.Context, rec *domain.SettlementRecord, s domain.Settlement, cause error) {
	done := j.now()
	rec.FinishedAt = &done
	if cause != nil {
		rec.Status = domain.SettlementFailed
		rec.Error = domain.Reason(cause)
		j.metrics.CollaboratorFailed("vault")
		j.logger.Warn("settlement failed", "challenge_id", rec.ChallengeID, "recipient", rec.Recipient, "err", cause)
	} else {
		rec.Status = domain.SettlementCompleted
		rec.Net, rec.Fee = s.Net, s.Fee
		j.logger.Info("bounty settled", "challenge_id", rec.ChallengeID, "recipient", rec.Recipient, "net", s.Net, "fee", s.Fee)
	}
	j.metrics.Settled(rec.Status)
	if err := j.store.UpdateSettlement(ctx, rec); err != nil {
		j.logger.Error("storage failure", "op", "update settlement", "err", err)
	}
}

// ─── Periodic Checks ────────────────────────────────────────────────────────

// PeriodicChecks re-reads the balance of up to CheckBatch active targets
// not checked within CheckInterval, records snapshots, and flags detected
// attacks. It never settles. It returns how many targets it checked.
func (j *Judge) PeriodicChecks(ctx context.Context) (int, error) {
	now := j.now()
	due, err := j.store.DueMonitoring(ctx, now.Add(-j.cfg.CheckInterval), j.cfg.CheckBatch)
	if err != nil {
		return 0, j.storageErr("find due monitoring", err)
	}

	n := 0
	for _, st := range due {
		balance, err := j.oracle.Balance(ctx, st.Target)
		if err != nil {
			j.metrics.CollaboratorFailed("oracle")
			j.logger.Warn("periodic balance check failed", "challenge_id", st.ChallengeID, "target", st.Target, "err", err)
		}
		ok, err := j.recordCheck(ctx, st.ChallengeID, balance, err == nil)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	j.metrics.Swept("monitoring", n)
	return n, nil
}

// recordCheck applies one periodic reading. A failed reading only advances
// last_check so the target does not hold up the rest of the batch.
func (j *Judge) recordCheck(ctx context.Context, challengeID, balance uint64, read bool) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	st, err := j.store.GetMonitoring(ctx, challengeID)
	if err != nil {
		return false, j.storageErr("get monitoring", err)
	}
	if st == nil || !st.Active {
		return false, nil
	}

	now := j.now()
	st.LastCheck = now
	detected := false
	var decrease uint64
	var pct float64
	if read {
		st.CurrentBalance = balance
		var valid bool
		if decrease, pct, valid = j.measure(st.InitialBalance, balance); valid && !st.AttackDetected {
			st.AttackDetected = true
			detected = true
		}
	}
	err = j.store.UpdateJudge(ctx, func(tx domain.JudgeTx) error {
		if read {
			if err := tx.AppendSnapshot(&domain.BalanceSnapshot{Target: st.Target, Balance: balance, Timestamp: now}, j.cfg.HistoryCap); err != nil {
				return err
			}
		}
		return tx.PutMonitoring(st)
	})
	if err != nil {
		return false, j.storageErr("record check", err)
	}
	if detected {
		j.logger.Warn("attack detected", "challenge_id", challengeID, "decrease", decrease, "decrease_pct", pct)
		j.publish(ctx, domain.Event{Kind: domain.EventAttackDetected, ChallengeID: challengeID, Amount: decrease, Detail: "periodic check", At: now})
	}
	return read, nil
}

// ─── Disputes ───────────────────────────────────────────────────────────────

// CreateDispute opens a dispute against an evaluation.
func (j *Judge) CreateDispute(ctx context.Context, caller domain.Identity, req domain.DisputeRequest) (uint64, error) {
	if caller.IsAnonymous() {
		return 0, j.reject(fmt.Errorf("%w: anonymous callers cannot open disputes", domain.ErrUnauthorized))
	}
	if strings.TrimSpace(req.Reason) == "" {
		return 0, j.reject(fmt.Errorf("%w: dispute reason is required", domain.ErrInvalidInput))
	}
	size := 0
	for _, e := range req.Evidence {
		size += len(e)
	}
	if size > j.cfg.MaxEvidenceBytes {
		return 0, j.reject(fmt.Errorf("%w: evidence is %d bytes, limit %d", domain.ErrInvalidInput, size, j.cfg.MaxEvidenceBytes))
	}

	now := j.now()
	d := &domain.DisputeCase{
		ChallengeID: req.ChallengeID,
		AttemptID:   req.AttemptID,
		Disputer:    caller,
		Reason:      req.Reason,
		Evidence:    req.Evidence,
		Status:      domain.DisputeOpen,
		CreatedAt:   now,
	}
	id, err := j.store.InsertDispute(ctx, d)
	if err != nil {
		return 0, j.storageErr("insert dispute", err)
	}

	j.metrics.Disputed(domain.DisputeOpen)
	j.logger.Info("dispute opened", "dispute_id", id, "challenge_id", req.ChallengeID, "disputer", caller)
	j.publish(ctx, domain.Event{Kind: domain.EventDisputeOpened, ChallengeID: req.ChallengeID, Actor: caller, Detail: req.Reason, At: now})
	return id, nil
}

// MarkUnderReview moves an Open dispute to UnderReview. Admin only.
func (j *Judge) MarkUnderReview(ctx context.Context, caller domain.Identity, id uint64) error {
	if !j.auth.IsAdmin(caller) {
		return j.reject(fmt.Errorf("%w: only admins review disputes", domain.ErrUnauthorized))
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	d, err := j.loadDispute(ctx, id)
	if err != nil {
		return err
	}
	if d.Status != domain.DisputeOpen {
		return j.reject(fmt.Errorf("%w: dispute %d is %s", domain.ErrInvalidState, id, d.Status))
	}
	d.Status = domain.DisputeUnderReview
	if err := j.store.UpdateDispute(ctx, d); err != nil {
		return j.storageErr("update dispute", err)
	}
	j.metrics.Disputed(domain.DisputeUnderReview)
	j.logger.Info("dispute under review", "dispute_id", id, "by", caller)
	return nil
}

// ResolveDispute closes an Open or UnderReview dispute as Resolved or
// Rejected. Admin only.
func (j *Judge) ResolveDispute(ctx context.Context, caller domain.Identity, id uint64, resolution domain.DisputeStatus, text string) error {
	if !j.auth.IsAdmin(caller) {
		return j.reject(fmt.Errorf("%w: only admins resolve disputes", domain.ErrUnauthorized))
	}
	if resolution != domain.DisputeResolved && resolution != domain.DisputeRejected {
		return j.reject(fmt.Errorf("%w: resolution must be %s or %s", domain.ErrInvalidInput, domain.DisputeResolved, domain.DisputeRejected))
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	d, err := j.loadDispute(ctx, id)
	if err != nil {
		return err
	}
	if d.Status.IsTerminal() {
		return j.reject(fmt.Errorf("%w: dispute %d is already %s", domain.ErrInvalidState, id, d.Status))
	}

	now := j.now()
	d.Status = resolution
	d.Resolution = text
	d.ResolvedAt = &now
	if err := j.store.UpdateDispute(ctx, d); err != nil {
		return j.storageErr("update dispute", err)
	}

	j.metrics.Disputed(resolution)
	j.logger.Info("dispute resolved", "dispute_id", id, "resolution", resolution, "by", caller)
	j.publish(ctx, domain.Event{Kind: domain.EventDisputeResolved, ChallengeID: d.ChallengeID, Actor: caller, Detail: string(resolution), At: now})
	return nil
}

// GetDispute returns one dispute.
func (j *Judge) GetDispute(ctx context.Context, id uint64) (*domain.DisputeCase, error) {
	return j.loadDispute(ctx, id)
}

// Disputes lists disputes in the given statuses (all when none), newest first.
func (j *Judge) Disputes(ctx context.Context, statuses ...domain.DisputeStatus) ([]domain.DisputeCase, error) {
	out, err := j.store.ListDisputes(ctx, statuses...)
	if err != nil {
		return nil, j.storageErr("list disputes", err)
	}
	return out, nil
}

// OpenDisputes lists Open and UnderReview disputes, newest first.
func (j *Judge) OpenDisputes(ctx context.Context) ([]domain.DisputeCase, error) {
	return j.Disputes(ctx, domain.DisputeOpen, domain.DisputeUnderReview)
}

// OverdueDisputes lists unresolved disputes older than the review period.
func (j *Judge) OverdueDisputes(ctx context.Context) ([]domain.DisputeCase, error) {
	open, err := j.OpenDisputes(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := j.now().Add(-j.cfg.DisputeReviewPeriod)
	var out []domain.DisputeCase
	for _, d := range open {
		if d.CreatedAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	return out, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// MonitoringState returns a challenge's monitoring record.
func (j *Judge) MonitoringState(ctx context.Context, challengeID uint64) (*domain.MonitoringState, error) {
	st, err := j.store.GetMonitoring(ctx, challengeID)
	if err != nil {
		return nil, j.storageErr("get monitoring", err)
	}
	if st == nil {
		return nil, j.reject(fmt.Errorf("%w: challenge %d is not monitored", domain.ErrNotFound, challengeID))
	}
	return st, nil
}

// Evaluations returns a challenge's evaluations, newest first.
func (j *Judge) Evaluations(ctx context.Context, challengeID uint64) ([]domain.Evaluation, error) {
	out, err := j.store.Evaluations(ctx, challengeID)
	if err != nil {
		return nil, j.storageErr("list evaluations", err)
	}
	return out, nil
}

// Settlements returns the payouts requested for a challenge, newest first.
func (j *Judge) Settlements(ctx context.Context, challengeID uint64) ([]domain.SettlementRecord, error) {
	out, err := j.store.Settlements(ctx, challengeID)
	if err != nil {
		return nil, j.storageErr("list settlements", err)
	}
	return out, nil
}

// BalanceHistory returns a target's most recent limit snapshots, oldest
// first. Limits outside (0, HistoryCap] mean HistoryCap.
func (j *Judge) BalanceHistory(ctx context.Context, target string, limit int) ([]domain.BalanceSnapshot, error) {
	if limit <= 0 || limit > j.cfg.HistoryCap {
		limit = j.cfg.HistoryCap
	}
	out, err := j.store.Snapshots(ctx, target, limit)
	if err != nil {
		return nil, j.storageErr("list snapshots", err)
	}
	return out, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (j *Judge) requireRegistry(caller domain.Identity) error {
	if caller.IsAnonymous() || caller != j.cfg.RegistryIdentity {
		return j.reject(fmt.Errorf("%w: caller %s may not toggle monitoring", domain.ErrUnauthorized, caller))
	}
	return nil
}

func (j *Judge) activeState(ctx context.Context, challengeID uint64) (*domain.MonitoringState, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.activeStateLocked(ctx, challengeID)
}

func (j *Judge) activeStateLocked(ctx context.Context, challengeID uint64) (*domain.MonitoringState, error) {
	st, err := j.store.GetMonitoring(ctx, challengeID)
	if err != nil {
		return nil, j.storageErr("get monitoring", err)
	}
	if st == nil {
		return nil, j.reject(fmt.Errorf("%w: challenge %d is not monitored", domain.ErrNotFound, challengeID))
	}
	if !st.Active {
		return nil, j.reject(fmt.Errorf("%w: monitoring is not active for challenge %d", domain.ErrInvalidState, challengeID))
	}
	return st, nil
}

func (j *Judge) loadDispute(ctx context.Context, id uint64) (*domain.DisputeCase, error) {
	d, err := j.store.GetDispute(ctx, id)
	if err != nil {
		return nil, j.storageErr("get dispute", err)
	}
	if d == nil {
		return nil, j.reject(fmt.Errorf("%w: dispute %d", domain.ErrNotFound, id))
	}
	return d, nil
}

func (j *Judge) reject(err error) error {
	j.metrics.Rejected("judge", err)
	j.logger.Debug("rejected", "err", err)
	return err
}

func (j *Judge) storageErr(op string, err error) error {
	j.logger.Error("storage failure", "op", op, "err", err)
	j.metrics.Rejected("judge", domain.ErrInternal)
	return fmt.Errorf("%w: %s failed", domain.ErrInternal, op)
}

func (j *Judge) collaboratorErr(collaborator, op string, err error) error {
	j.metrics.CollaboratorFailed(collaborator)
	j.metrics.Rejected("judge", domain.ErrInternal)
	j.logger.Warn("collaborator failure", "collaborator", collaborator, "op", op, "err", err)
	return fmt.Errorf("%w: %s failed", domain.ErrInternal, op)
}

func (j *Judge) publish(ctx context.Context, evt domain.Event) {
	if j.events != nil {
		j.events.Publish(ctx, evt)
	}
}
