package domain

import "time"

// ─── Monitoring ─────────────────────────────────────────────────────────────

// MonitoringState tracks a deployed target's balance relative to the baseline
// recorded when monitoring started.
type MonitoringState struct {
	ChallengeID    uint64    `json:"challenge_id"`
	Target         string    `json:"target"`
	InitialBalance uint64    `json:"initial_balance"`
	CurrentBalance uint64    `json:"current_balance"`
	StartedAt      time.Time `json:"started_at"`
	LastCheck      time.Time `json:"last_check"`
	Active         bool      `json:"monitoring_active"`
	AttackDetected bool      `json:"attack_detected"`
}

// BalanceSnapshot is one entry of a target's bounded balance history.
type BalanceSnapshot struct {
	ID        uint64    `json:"id"`
	Target    string    `json:"target"`
	Balance   uint64    `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

// ─── Evaluations ────────────────────────────────────────────────────────────

// Decision is the outcome of evaluating an attack attempt. The automatic path
// only produces Valid or Invalid.
type Decision string

const (
	DecisionValid    Decision = "VALID"
	DecisionInvalid  Decision = "INVALID"
	DecisionDisputed Decision = "DISPUTED"
	DecisionPending  Decision = "PENDING"
)

// Evaluation is an immutable audit record of one attack attempt.
type Evaluation struct {
	ID              uint64    `json:"id"`
	ChallengeID     uint64    `json:"challenge_id"`
	AttemptID       uint64    `json:"attempt_id"`
	Hacker          Identity  `json:"hacker"`
	Decision        Decision  `json:"decision"`
	Reasoning       string    `json:"reasoning"`
	InitialBalance  uint64    `json:"initial_balance"`
	CurrentBalance  uint64    `json:"current_balance"`
	DecreasePercent float64   `json:"decrease_percent"`
	Timestamp       time.Time `json:"timestamp"`
	Evaluator       Identity  `json:"evaluator"`
}

// Verdict is returned to the caller of an evaluation.
type Verdict struct {
	Evaluation       Evaluation `json:"evaluation"`
	SettlementQueued bool       `json:"settlement_queued"`
}

// SettlementStatus tracks an asynchronous bounty payout.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "PENDING"
	SettlementCompleted SettlementStatus = "COMPLETED"
	SettlementFailed    SettlementStatus = "FAILED"
)

// SettlementRecord is the judge's log of a payout it requested.
type SettlementRecord struct {
	ID           uint64           `json:"id"`
	ChallengeID  uint64           `json:"challenge_id"`
	EvaluationID uint64           `json:"evaluation_id"`
	Recipient    Identity         `json:"recipient"`
	Status       SettlementStatus `json:"status"`
	Net          uint64           `json:"net"`
	Fee          uint64           `json:"fee"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

// ─── Disputes ───────────────────────────────────────────────────────────────

// DisputeStatus is terminal once Resolved or Rejected.
type DisputeStatus string

const (
	DisputeOpen        DisputeStatus = "OPEN"
	DisputeUnderReview DisputeStatus = "UNDER_REVIEW"
	DisputeResolved    DisputeStatus = "RESOLVED"
	DisputeRejected    DisputeStatus = "REJECTED"
)

// IsTerminal reports whether the dispute can no longer change.
func (s DisputeStatus) IsTerminal() bool {
	switch s {
	case DisputeResolved, DisputeRejected:
		return true
	case DisputeOpen, DisputeUnderReview:
		return false
	}
	return false
}

// DisputeCase contests the correctness of an evaluation.
type DisputeCase struct {
	ID          uint64        `json:"id"`
	ChallengeID uint64        `json:"challenge_id"`
	AttemptID   uint64        `json:"attempt_id"`
	Disputer    Identity      `json:"disputer"`
	Reason      string        `json:"reason"`
	Evidence    [][]byte      `json:"evidence,omitempty"`
	Status      DisputeStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	Resolution  string        `json:"resolution,omitempty"`
}

// DisputeRequest opens a dispute.
type DisputeRequest struct {
	ChallengeID uint64   `json:"challenge_id"`
	AttemptID   uint64   `json:"attempt_id"`
	Reason      string   `json:"reason"`
	Evidence    [][]byte `json:"evidence,omitempty"`
}
