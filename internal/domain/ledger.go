package domain

import "time"

// ─── Balances ───────────────────────────────────────────────────────────────

// Balance is keyed by (Owner, Asset). Total == Available + Locked always.
type Balance struct {
	Owner     Identity `json:"owner"`
	Asset     Asset    `json:"asset"`
	Available uint64   `json:"available"`
	Locked    uint64   `json:"locked"`
	Total     uint64   `json:"total"`
}

// Consistent reports whether the balance satisfies its accounting invariant.
func (b Balance) Consistent() bool {
	return b.Available+b.Locked == b.Total && b.Available <= b.Total
}

// ─── Locks ──────────────────────────────────────────────────────────────────

// LockStatus is the state of an escrow hold.
type LockStatus string

const (
	LockActive   LockStatus = "ACTIVE"
	LockReleased LockStatus = "RELEASED"
	LockExpired  LockStatus = "EXPIRED"
)

// LockInfo is the escrow hold placed for one challenge. At most one lock per
// challenge is Active at any time.
type LockInfo struct {
	ID          uint64     `json:"id"`
	ChallengeID uint64     `json:"challenge_id"`
	Owner       Identity   `json:"owner"`
	Amount      uint64     `json:"amount"`
	Asset       Asset      `json:"asset"`
	LockedAt    time.Time  `json:"locked_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Status      LockStatus `json:"status"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// LockRequest asks the vault to escrow funds for a challenge.
type LockRequest struct {
	ChallengeID uint64        `json:"challenge_id"`
	Owner       Identity      `json:"owner"`
	Amount      uint64        `json:"amount"`
	Asset       Asset         `json:"asset"`
	Duration    time.Duration `json:"duration"`
}

// ─── Unlock Reasons ─────────────────────────────────────────────────────────

// UnlockKind names why a lock is released.
type UnlockKind string

const (
	UnlockBountyPayout       UnlockKind = "BOUNTY_PAYOUT"
	UnlockChallengeExpired   UnlockKind = "CHALLENGE_EXPIRED"
	UnlockChallengeCancelled UnlockKind = "CHALLENGE_CANCELLED"
	UnlockAdminOverride      UnlockKind = "ADMIN_OVERRIDE"
)

// UnlockReason is a tagged union: Hacker is set for bounty payouts, Note for
// admin overrides.
type UnlockReason struct {
	Kind   UnlockKind `json:"kind"`
	Hacker Identity   `json:"hacker,omitempty"`
	Note   string     `json:"note,omitempty"`
}

// BountyPayout returns the reason for paying a valid exploit.
func BountyPayout(hacker Identity) UnlockReason {
	return UnlockReason{Kind: UnlockBountyPayout, Hacker: hacker}
}

// ChallengeExpiredReason returns the reason for refunding an expired challenge.
func ChallengeExpiredReason() UnlockReason {
	return UnlockReason{Kind: UnlockChallengeExpired}
}

// ChallengeCancelledReason returns the reason for refunding a cancelled challenge.
func ChallengeCancelledReason() UnlockReason {
	return UnlockReason{Kind: UnlockChallengeCancelled}
}

// AdminOverride returns the reason for a manual release.
func AdminOverride(note string) UnlockReason {
	return UnlockReason{Kind: UnlockAdminOverride, Note: note}
}

// Valid reports whether the reason is a known, well-formed variant.
func (r UnlockReason) Valid() bool {
	switch r.Kind {
	case UnlockBountyPayout:
		return !r.Hacker.IsAnonymous()
	case UnlockChallengeExpired, UnlockChallengeCancelled:
		return true
	case UnlockAdminOverride:
		return r.Note != ""
	}
	return false
}

// ChargesFee reports whether the platform fee applies to this release.
func (r UnlockReason) ChargesFee() bool {
	switch r.Kind {
	case UnlockBountyPayout:
		return true
	case UnlockChallengeExpired, UnlockChallengeCancelled, UnlockAdminOverride:
		return false
	}
	return false
}

// UnlockRequest asks the vault to settle a challenge's lock.
type UnlockRequest struct {
	ChallengeID uint64       `json:"challenge_id"`
	Recipient   Identity     `json:"recipient"`
	Amount      uint64       `json:"amount"`
	Reason      UnlockReason `json:"reason"`
}

// Settlement reports the money movement of a successful unlock.
type Settlement struct {
	ChallengeID    uint64   `json:"challenge_id"`
	Recipient      Identity `json:"recipient"`
	Net            uint64   `json:"net"`
	Fee            uint64   `json:"fee"`
	Remainder      uint64   `json:"remainder"`
	TransactionIDs []uint64 `json:"transaction_ids"`
}

// ─── Transactions ───────────────────────────────────────────────────────────

// TransactionType is the business reason for a ledger entry.
type TransactionType string

const (
	TxLock   TransactionType = "LOCK"
	TxUnlock TransactionType = "UNLOCK"
	TxPayout TransactionType = "PAYOUT"
	TxRefund TransactionType = "REFUND"
	TxFee    TransactionType = "FEE"
)

// TransactionStatus is fixed when the entry is written.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Transaction is an immutable, append-only ledger entry.
type Transaction struct {
	ID          uint64            `json:"id"`
	Type        TransactionType   `json:"type"`
	ChallengeID uint64            `json:"challenge_id"`
	From        Identity          `json:"from"`
	To          Identity          `json:"to"`
	Amount      uint64            `json:"amount"`
	Asset       Asset             `json:"asset"`
	Timestamp   time.Time         `json:"timestamp"`
	Status      TransactionStatus `json:"status"`
}

// VaultStats summarizes the ledger.
type VaultStats struct {
	TotalLocked       uint64 `json:"total_locked"`
	ActiveLocks       int    `json:"active_locks"`
	TotalTransactions int    `json:"total_transactions"`
	TotalVolume       uint64 `json:"total_volume"`
	Paused            bool   `json:"paused"`
}
