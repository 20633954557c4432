package domain

import "time"

// ─── Challenge Lifecycle ────────────────────────────────────────────────────
// Created → Active → {Completed, Expired, Cancelled}
// Created → Cancelled
// A transition to the current status is always accepted as a no-op.

// ChallengeStatus is the lifecycle state of a challenge.
type ChallengeStatus string

const (
	ChallengeCreated   ChallengeStatus = "CREATED"
	ChallengeActive    ChallengeStatus = "ACTIVE"
	ChallengeCompleted ChallengeStatus = "COMPLETED"
	ChallengeExpired   ChallengeStatus = "EXPIRED"
	ChallengeCancelled ChallengeStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s ChallengeStatus) Valid() bool {
	switch s {
	case ChallengeCreated, ChallengeActive, ChallengeCompleted, ChallengeExpired, ChallengeCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition can leave s.
func (s ChallengeStatus) IsTerminal() bool {
	switch s {
	case ChallengeCompleted, ChallengeExpired, ChallengeCancelled:
		return true
	case ChallengeCreated, ChallengeActive:
		return false
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s ChallengeStatus) CanTransition(next ChallengeStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case ChallengeCreated:
		return next == ChallengeActive || next == ChallengeCancelled
	case ChallengeActive:
		return next == ChallengeCompleted || next == ChallengeExpired || next == ChallengeCancelled
	case ChallengeCompleted, ChallengeExpired, ChallengeCancelled:
		return false
	}
	return false
}

// Challenge is a published security target with an escrowed bounty.
type Challenge struct {
	ID            uint64          `json:"id"`
	Owner         Identity        `json:"owner"`
	TargetAddress string          `json:"target_address,omitempty"`
	Bounty        uint64          `json:"bounty"`
	Asset         Asset           `json:"asset"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       time.Time       `json:"end_time"`
	Status        ChallengeStatus `json:"status"`
	Description   string          `json:"description"`
	Difficulty    int             `json:"difficulty"`
	Interface     string          `json:"interface"`
	Payload       []byte          `json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Deployed reports whether a target program has been stood up.
func (c *Challenge) Deployed() bool { return c.TargetAddress != "" }

// ChallengeSpec is what a company submits to open a challenge.
type ChallengeSpec struct {
	Payload     []byte        `json:"payload"`
	Interface   string        `json:"interface"`
	Bounty      uint64        `json:"bounty"`
	Asset       Asset         `json:"asset"`
	Duration    time.Duration `json:"duration"`
	Description string        `json:"description"`
	Difficulty  int           `json:"difficulty"`
}

// ChallengeFilter narrows a challenge listing. Zero fields match everything.
type ChallengeFilter struct {
	Status     ChallengeStatus `json:"status,omitempty"`
	Owner      Identity        `json:"owner,omitempty"`
	Asset      Asset           `json:"asset,omitempty"`
	Difficulty int             `json:"difficulty,omitempty"`
	MinBounty  uint64          `json:"min_bounty,omitempty"`
	MaxBounty  uint64          `json:"max_bounty,omitempty"`
	Offset     int             `json:"offset,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

// ChallengeStats counts challenges per lifecycle status.
type ChallengeStats struct {
	Total     int `json:"total"`
	Created   int `json:"created"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
}

// ─── Attack Attempts ────────────────────────────────────────────────────────

// AttackAttempt is a claim that an exploit succeeded against a target.
type AttackAttempt struct {
	ID          uint64    `json:"id"`
	ChallengeID uint64    `json:"challenge_id"`
	Hacker      Identity  `json:"hacker"`
	Timestamp   time.Time `json:"timestamp"`
	Proof       []byte    `json:"proof,omitempty"`
	GasUsed     uint64    `json:"gas_used,omitempty"`
}
