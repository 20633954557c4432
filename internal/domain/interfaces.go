package domain

import (
	"context"
	"time"
)

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; components depend on them.

// CodeDeploymentService stands up a target program on a remote host.
type CodeDeploymentService interface {
	// Create allocates a new, empty target and returns its address.
	Create(ctx context.Context) (string, error)

	// Install loads the program payload into a created target.
	Install(ctx context.Context, address string, payload []byte) error

	// Remove tears a target down. Unknown addresses are ignored.
	Remove(ctx context.Context, address string) error

	// Restore brings a target back at its old address after a restart,
	// rebuilding the state it had from its payload and recorded calls.
	Restore(ctx context.Context, address string, payload []byte) error
}

// TargetCall is one state-changing invocation of a target program.
type TargetCall struct {
	Function string   `json:"function"`
	Args     []uint64 `json:"args,omitempty"`
}

// TargetJournal records, per target, the calls that changed its state, in
// order. Replaying them over a fresh instance reproduces the state.
type TargetJournal interface {
	AppendTargetCall(ctx context.Context, address string, call TargetCall) error
	TargetCalls(ctx context.Context, address string) ([]TargetCall, error)
	DeleteTargetCalls(ctx context.Context, address string) error
}

// BalanceOracle reports the current measurable value a deployed target holds.
type BalanceOracle interface {
	Balance(ctx context.Context, address string) (uint64, error)
}

// Authorizer answers capability questions from the authorization registry.
// Implementations must be safe for concurrent lookup.
type Authorizer interface {
	IsAdmin(id Identity) bool
	IsTrusted(id Identity) bool
}

// EventPublisher delivers domain events. Publishing never fails the caller.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event)
}

// ─── Store Interfaces ───────────────────────────────────────────────────────
// Each component owns its entities exclusively; lookups of a missing entity
// return (nil, nil).

// ChallengeStore persists the registry's challenges.
type ChallengeStore interface {
	InsertChallenge(ctx context.Context, c *Challenge) (uint64, error)
	GetChallenge(ctx context.Context, id uint64) (*Challenge, error)
	ListChallenges(ctx context.Context, f ChallengeFilter) ([]Challenge, error)
	CountOpenChallenges(ctx context.Context, owner Identity) (int, error)
	ExpiredActiveChallenges(ctx context.Context, now time.Time, limit int) ([]Challenge, error)
	ChallengeStats(ctx context.Context) (ChallengeStats, error)

	// TransitionChallenge moves a challenge from one status to another only if
	// it is still in the from status. It reports whether the row changed.
	TransitionChallenge(ctx context.Context, id uint64, from, to ChallengeStatus, at time.Time) (bool, error)

	// ActivateChallenge records the deployed address and moves Created → Active.
	ActivateChallenge(ctx context.Context, id uint64, address string, at time.Time) (bool, error)
}

// LedgerTx is the view of the ledger inside one atomic update.
type LedgerTx interface {
	Balance(owner Identity, asset Asset) (Balance, error)
	PutBalance(b Balance) error
	ActiveLock(challengeID uint64) (*LockInfo, error)
	InsertLock(l *LockInfo) (uint64, error)
	UpdateLock(l *LockInfo) error
	AppendTransaction(t *Transaction) (uint64, error)
}

// LedgerStore persists the vault's balances, locks and transaction log.
type LedgerStore interface {
	// UpdateLedger runs fn in a single transaction. Any error rolls back every
	// write fn made.
	UpdateLedger(ctx context.Context, fn func(tx LedgerTx) error) error

	GetBalance(ctx context.Context, owner Identity, asset Asset) (Balance, error)
	LatestLock(ctx context.Context, challengeID uint64) (*LockInfo, error)
	ExpiredLocks(ctx context.Context, now time.Time, limit int) ([]LockInfo, error)
	Transactions(ctx context.Context, party Identity, offset, limit int) ([]Transaction, error)
	VaultStats(ctx context.Context) (VaultStats, error)

	Setting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// JudgeTx is the view of the judge's records inside one atomic update.
type JudgeTx interface {
	PutMonitoring(st *MonitoringState) error
	AppendSnapshot(snap *BalanceSnapshot, limit int) error
	InsertEvaluation(e *Evaluation) (uint64, error)
}

// JudgeStore persists monitoring, evaluations, settlements and disputes.
type JudgeStore interface {
	// UpdateJudge runs fn in a single transaction. Any error rolls back every
	// write fn made.
	UpdateJudge(ctx context.Context, fn func(tx JudgeTx) error) error

	GetMonitoring(ctx context.Context, challengeID uint64) (*MonitoringState, error)
	PutMonitoring(ctx context.Context, st *MonitoringState) error
	DueMonitoring(ctx context.Context, checkedBefore time.Time, limit int) ([]MonitoringState, error)

	// AppendSnapshot records a snapshot and evicts the oldest entries for the
	// same target beyond limit.
	AppendSnapshot(ctx context.Context, snap *BalanceSnapshot, limit int) error
	Snapshots(ctx context.Context, target string, limit int) ([]BalanceSnapshot, error)

	InsertEvaluation(ctx context.Context, e *Evaluation) (uint64, error)
	Evaluations(ctx context.Context, challengeID uint64) ([]Evaluation, error)

	InsertSettlement(ctx context.Context, s *SettlementRecord) (uint64, error)
	UpdateSettlement(ctx context.Context, s *SettlementRecord) error
	Settlements(ctx context.Context, challengeID uint64) ([]SettlementRecord, error)
	// PendingSettlements returns at most limit unfinished payouts, oldest
	// first.
	PendingSettlements(ctx context.Context, limit int) ([]SettlementRecord, error)

	InsertDispute(ctx context.Context, d *DisputeCase) (uint64, error)
	GetDispute(ctx context.Context, id uint64) (*DisputeCase, error)
	UpdateDispute(ctx context.Context, d *DisputeCase) error
	ListDisputes(ctx context.Context, statuses ...DisputeStatus) ([]DisputeCase, error)
}

// Role names a governance membership list.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTrusted Role = "TRUSTED"
)

// GovernanceStore persists admin and trusted-caller memberships.
type GovernanceStore interface {
	Members(ctx context.Context, role Role) ([]Identity, error)
	AddMember(ctx context.Context, role Role, id Identity, at time.Time) (bool, error)
	RemoveMember(ctx context.Context, role Role, id Identity) (bool, error)
}
