package domain

import "time"

// EventKind names a domain event published after a state change commits.
type EventKind string

const (
	EventChallengeCreated   EventKind = "challenge.created"
	EventChallengeActivated EventKind = "challenge.activated"
	EventChallengeCompleted EventKind = "challenge.completed"
	EventChallengeExpired   EventKind = "challenge.expired"
	EventChallengeCancelled EventKind = "challenge.cancelled"
	EventFundsDeposited     EventKind = "vault.deposited"
	EventFundsLocked        EventKind = "vault.locked"
	EventFundsReleased      EventKind = "vault.released"
	EventBountyPaid         EventKind = "vault.bounty_paid"
	EventAttackEvaluated    EventKind = "judge.attack_evaluated"
	EventAttackDetected     EventKind = "judge.attack_detected"
	EventDisputeOpened      EventKind = "judge.dispute_opened"
	EventDisputeResolved    EventKind = "judge.dispute_resolved"
)

// Event is a fact about the escrow lifecycle.
type Event struct {
	Kind        EventKind `json:"kind"`
	ChallengeID uint64    `json:"challenge_id,omitempty"`
	Actor       Identity  `json:"actor,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	Asset       Asset     `json:"asset,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	At          time.Time `json:"at"`
}
