// Package vault implements the escrow ledger.
//
// The vault owns per-(owner, asset) balances split into available and locked
// funds, one escrow lock per challenge, and an append-only transaction log.
// Every money-moving operation commits in a single storage transaction.
//
// Invariants:
//   - total == available + locked for every balance, after every operation
//   - at most one Active lock per challenge
//   - lock never succeeds when available < amount
//   - unlock never moves more than the Active lock's amount
//   - for a bounty payout of A: fee == A*feeBasisPoints/10000, net == A-fee
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"strconv"
	"sync"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/observability"
)

const (
	settingPaused       = "paused"
	settingFeeRecipient = "fee_recipient"

	// MaxPageSize caps every transaction history page.
	MaxPageSize = 100
)

// Config controls vault policy.
type Config struct {
	Identity        domain.Identity // the vault's own identity, counterparty of deposits and locks
	FeeRecipient    domain.Identity // default fee recipient; falls back to Identity
	FeeBasisPoints  uint64          // platform fee on bounty payouts (default: 250 = 2.5%)
	MinLock         uint64          // smallest lockable amount (default: 1_000_000)
	MaxLockDuration time.Duration   // longest lock (default: 30 days)
	SweepBatch      int             // locks expired per sweep (default: 100)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Identity:        "zerolock-vault",
		FeeBasisPoints:  250,
		MinLock:         1_000_000,
		MaxLockDuration: 30 * 24 * time.Hour,
		SweepBatch:      100,
	}
}

// Vault is the escrow ledger.
type Vault struct {
	cfg     Config
	store   domain.LedgerStore
	auth    domain.Authorizer
	events  domain.EventPublisher
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes every mutation; the vault makes no outbound calls while
	// holding it.
	mu           sync.Mutex
	paused       bool
	feeRecipient domain.Identity
}

// Option configures optional collaborators.
type Option func(*Vault)

// WithEvents publishes committed changes to p.
func WithEvents(p domain.EventPublisher) Option { return func(v *Vault) { v.events = p } }

// WithMetrics records vault activity in m.
func WithMetrics(m *observability.Metrics) Option { return func(v *Vault) { v.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(v *Vault) { v.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(v *Vault) { v.now = now } }

// New creates a vault. Call Load before serving to restore persisted settings.
func New(cfg Config, store domain.LedgerStore, auth domain.Authorizer, opts ...Option) (*Vault, error) {
	if cfg.FeeBasisPoints > 10_000 {
		return nil, fmt.Errorf("fee basis points %d exceed 10000", cfg.FeeBasisPoints)
	}
	if cfg.Identity.IsAnonymous() {
		return nil, fmt.Errorf("vault identity is required")
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig().SweepBatch
	}
	v := &Vault{
		cfg:          cfg,
		store:        store,
		auth:         auth,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
		feeRecipient: cfg.FeeRecipient,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.feeRecipient.IsAnonymous() {
		v.feeRecipient = cfg.Identity
	}
	v.logger = v.logger.With("component", "vault")
	return v, nil
}

// Load restores the paused flag and fee recipient from storage.
func (v *Vault) Load(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok, err := v.store.Setting(ctx, settingPaused); err != nil {
		return fmt.Errorf("load paused flag: %w", err)
	} else if ok {
		paused, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("parse paused flag %q: %w", s, err)
		}
		v.paused = paused
	}
	if s, ok, err := v.store.Setting(ctx, settingFeeRecipient); err != nil {
		return fmt.Errorf("load fee recipient: %w", err)
	} else if ok && s != "" {
		v.feeRecipient = domain.Identity(s)
	}
	return nil
}

// Identity returns the vault's own identity.
func (v *Vault) Identity() domain.Identity { return v.cfg.Identity }

// ─── Deposits ───────────────────────────────────────────────────────────────

// Deposit credits amount of asset to the caller's available balance and
// returns the transaction id.
func (v *Vault) Deposit(ctx context.Context, caller domain.Identity, asset domain.Asset, amount uint64) (uint64, error) {
	if caller.IsAnonymous() {
		return 0, v.reject(fmt.Errorf("%w: anonymous deposit", domain.ErrUnauthorized))
	}
	if amount == 0 {
		return 0, v.reject(fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidInput))
	}
	if err := asset.Validate(); err != nil {
		return 0, v.reject(err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return 0, v.reject(fmt.Errorf("%w: vault is paused", domain.ErrInvalidState))
	}

	now := v.now()
	var txID uint64
	err := v.store.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		b, err := tx.Balance(caller, asset)
		if err != nil {
			return err
		}
		if b.Available, err = add(b.Available, amount); err != nil {
			return err
		}
		if b.Total, err = add(b.Total, amount); err != nil {
			return err
		}
		if err := tx.PutBalance(b); err != nil {
			return err
		}
		// Deposits carry challenge id 0 and are booked as Lock entries into
		// the vault's custody.
		txID, err = tx.AppendTransaction(&domain.Transaction{
			Type:      domain.TxLock,
			From:      caller,
			To:        v.cfg.Identity,
			Amount:    amount,
			Asset:     asset,
			Timestamp: now,
			Status:    domain.TxCompleted,
		})
		return err
	})
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return 0, v.reject(err)
		}
		return 0, v.storageErr("deposit", err)
	}

	v.metrics.Deposited(asset, amount)
	v.logger.Info("deposit", "owner", caller, "asset", asset, "amount", amount, "tx", txID)
	v.publish(ctx, domain.Event{Kind: domain.EventFundsDeposited, Actor: caller, Amount: amount, Asset: asset, At: now})
	return txID, nil
}

// ─── Locks ──────────────────────────────────────────────────────────────────

// Lock escrows funds for a challenge. The caller must be allow-listed.
func (v *Vault) Lock(ctx context.Context, caller domain.Identity, req domain.LockRequest) error {
	if !v.auth.IsTrusted(caller) {
		return v.reject(fmt.Errorf("%w: caller %s may not lock funds", domain.ErrUnauthorized, caller))
	}
	if req.Owner.IsAnonymous() {
		return v.reject(fmt.Errorf("%w: lock owner is required", domain.ErrInvalidInput))
	}
	if err := req.Asset.Validate(); err != nil {
		return v.reject(err)
	}
	if req.Amount < v.cfg.MinLock {
		return v.reject(fmt.Errorf("%w: lock amount %d below minimum %d", domain.ErrInvalidInput, req.Amount, v.cfg.MinLock))
	}
	if req.Duration <= 0 || req.Duration > v.cfg.MaxLockDuration {
		return v.reject(fmt.Errorf("%w: lock duration %s outside (0, %s]", domain.ErrInvalidInput, req.Duration, v.cfg.MaxLockDuration))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return v.reject(fmt.Errorf("%w: vault is paused", domain.ErrInvalidState))
	}

	now := v.now()
	err := v.store.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		existing, err := tx.ActiveLock(req.ChallengeID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: challenge %d already has an active lock", domain.ErrInvalidState, req.ChallengeID)
		}

		b, err := tx.Balance(req.Owner, req.Asset)
		if err != nil {
			return err
		}
		if b.Available < req.Amount {
			return fmt.Errorf("%w: available %d, need %d", domain.ErrInsufficientFunds, b.Available, req.Amount)
		}
		b.Available -= req.Amount
		b.Locked += req.Amount
		if err := tx.PutBalance(b); err != nil {
			return err
		}

		if _, err := tx.InsertLock(&domain.LockInfo{
			ChallengeID: req.ChallengeID,
			Owner:       req.Owner,
			Amount:      req.Amount,
			Asset:       req.Asset,
			LockedAt:    now,
			ExpiresAt:   now.Add(req.Duration),
			Status:      domain.LockActive,
		}); err != nil {
			return err
		}
		_, err = tx.AppendTransaction(&domain.Transaction{
			Type:        domain.TxLock,
			ChallengeID: req.ChallengeID,
			From:        req.Owner,
			To:          v.cfg.Identity,
			Amount:      req.Amount,
			Asset:       req.Asset,
			Timestamp:   now,
			Status:      domain.TxCompleted,
		})
		return err
	})
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return v.reject(err)
		}
		return v.storageErr("lock", err)
	}

	v.metrics.Locked(req.Asset, req.Amount)
	v.logger.Info("funds locked", "challenge_id", req.ChallengeID, "owner", req.Owner, "amount", req.Amount, "asset", req.Asset, "by", caller)
	v.publish(ctx, domain.Event{Kind: domain.EventFundsLocked, ChallengeID: req.ChallengeID, Actor: req.Owner, Amount: req.Amount, Asset: req.Asset, At: now})
	return nil
}

// Unlock settles a challenge's Active lock. A bounty payout pays the platform
// fee; every other reason releases the full amount. When amount is less than
// the lock, the remainder returns to the owner's available balance.
func (v *Vault) Unlock(ctx context.Context, caller domain.Identity, req domain.UnlockRequest) (domain.Settlement, error) {
	if !v.auth.IsTrusted(caller) {
		return domain.Settlement{}, v.reject(fmt.Errorf("%w: caller %s may not unlock funds", domain.ErrUnauthorized, caller))
	}
	if req.Recipient.IsAnonymous() {
		return domain.Settlement{}, v.reject(fmt.Errorf("%w: recipient is required", domain.ErrInvalidInput))
	}
	if !req.Reason.Valid() {
		return domain.Settlement{}, v.reject(fmt.Errorf("%w: malformed unlock reason %q", domain.ErrInvalidInput, req.Reason.Kind))
	}
	if req.Amount == 0 {
		return domain.Settlement{}, v.reject(fmt.Errorf("%w: unlock amount must be positive", domain.ErrInvalidInput))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.paused {
		return domain.Settlement{}, v.reject(fmt.Errorf("%w: vault is paused", domain.ErrInvalidState))
	}

	fee := uint64(0)
	if req.Reason.ChargesFee() {
		fee = FeeFor(req.Amount, v.cfg.FeeBasisPoints)
	}
	net := req.Amount - fee
	feeRecipient := v.feeRecipient

	now := v.now()
	s := domain.Settlement{ChallengeID: req.ChallengeID, Recipient: req.Recipient, Net: net, Fee: fee}
	var lock domain.LockInfo
	err := v.store.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		lk, err := tx.ActiveLock(req.ChallengeID)
		if err != nil {
			return err
		}
		if lk == nil {
			return fmt.Errorf("%w: no active lock for challenge %d", domain.ErrInvalidState, req.ChallengeID)
		}
		if req.Amount > lk.Amount {
			return fmt.Errorf("%w: unlock amount %d exceeds locked %d", domain.ErrInvalidInput, req.Amount, lk.Amount)
		}
		lock = *lk
		s.Remainder = lk.Amount - req.Amount

		owner, err := tx.Balance(lk.Owner, lk.Asset)
		if err != nil {
			return err
		}
		if owner.Locked < lk.Amount {
			return fmt.Errorf("owner %s locked balance %d below lock %d", lk.Owner, owner.Locked, lk.Amount)
		}
		owner.Locked -= lk.Amount
		owner.Total -= req.Amount
		owner.Available += s.Remainder
		if err := tx.PutBalance(owner); err != nil {
			return err
		}

		if err := credit(tx, req.Recipient, lk.Asset, net); err != nil {
			return err
		}
		if err := credit(tx, feeRecipient, lk.Asset, fee); err != nil {
			return err
		}

		released := now
		lk.Status = domain.LockReleased
		lk.ReleasedAt = &released
		if err := tx.UpdateLock(lk); err != nil {
			return err
		}

		netType := domain.TxPayout
		switch req.Reason.Kind {
		case domain.UnlockChallengeExpired, domain.UnlockChallengeCancelled:
			netType = domain.TxRefund
		case domain.UnlockBountyPayout, domain.UnlockAdminOverride:
		}
		entries := []domain.Transaction{
			{Type: netType, From: lk.Owner, To: req.Recipient, Amount: net},
		}
		if fee > 0 {
			entries = append(entries, domain.Transaction{Type: domain.TxFee, From: lk.Owner, To: feeRecipient, Amount: fee})
		}
		if s.Remainder > 0 {
			entries = append(entries, domain.Transaction{Type: domain.TxRefund, From: v.cfg.Identity, To: lk.Owner, Amount: s.Remainder})
		}
		for _, e := range entries {
			if e.Amount == 0 {
				continue
			}
			e.ChallengeID = req.ChallengeID
			e.Asset = lk.Asset
			e.Timestamp = now
			e.Status = domain.TxCompleted
			id, err := tx.AppendTransaction(&e)
			if err != nil {
				return err
			}
			s.TransactionIDs = append(s.TransactionIDs, id)
		}
		return nil
	})
	if err != nil {
		if domain.KindOf(err) != domain.KindInternal {
			return domain.Settlement{}, v.reject(err)
		}
		return domain.Settlement{}, v.storageErr("unlock", err)
	}

	v.metrics.Released(lock.Asset, lock.Amount, fee, string(req.Reason.Kind))
	v.logger.Info("funds released",
		"challenge_id", req.ChallengeID, "reason", req.Reason.Kind, "recipient", req.Recipient,
		"net", net, "fee", fee, "remainder", s.Remainder, "by", caller)

	kind := domain.EventFundsReleased
	if req.Reason.Kind == domain.UnlockBountyPayout {
		kind = domain.EventBountyPaid
	}
	v.publish(ctx, domain.Event{Kind: kind, ChallengeID: req.ChallengeID, Actor: req.Recipient, Amount: net, Asset: lock.Asset, Detail: string(req.Reason.Kind), At: now})
	return s, nil
}

// FeeFor returns amount*basisPoints/10000, truncated, without overflow.
func FeeFor(amount, basisPoints uint64) uint64 {
	hi, lo := bits.Mul64(amount, basisPoints)
	fee, _ := bits.Div64(hi, lo, 10_000)
	return fee
}

// credit adds amount to id's available balance inside tx.
func credit(tx domain.LedgerTx, id domain.Identity, asset domain.Asset, amount uint64) error {
	if amount == 0 {
		return nil
	}
	b, err := tx.Balance(id, asset)
	if err != nil {
		return err
	}
	if b.Available, err = add(b.Available, amount); err != nil {
		return err
	}
	if b.Total, err = add(b.Total, amount); err != nil {
		return err
	}
	return tx.PutBalance(b)
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 || sum > domain.MaxAmount {
		return 0, fmt.Errorf("%w: balance would exceed maximum amount", domain.ErrInvalidInput)
	}
	return sum, nil
}

// ─── Expiry Sweep ───────────────────────────────────────────────────────────

// ExpireLocks releases up to SweepBatch Active locks whose expiry has passed,
// returning the funds to each owner's available balance. Remaining locks are
// left for the next call.
func (v *Vault) ExpireLocks(ctx context.Context) (int, error) {
	now := v.now()
	due, err := v.store.ExpiredLocks(ctx, now, v.cfg.SweepBatch)
	if err != nil {
		return 0, v.storageErr("list expired locks", err)
	}

	expired := 0
	for _, candidate := range due {
		ok, err := v.expireLock(ctx, candidate.ChallengeID, now)
		if err != nil {
			v.logger.Warn("expire lock", "challenge_id", candidate.ChallengeID, "err", err)
			continue
		}
		if ok {
			expired++
			v.metrics.Released(candidate.Asset, candidate.Amount, 0, string(domain.LockExpired))
			v.publish(ctx, domain.Event{Kind: domain.EventFundsReleased, ChallengeID: candidate.ChallengeID, Actor: candidate.Owner, Amount: candidate.Amount, Asset: candidate.Asset, Detail: string(domain.LockExpired), At: now})
		}
	}
	v.metrics.Swept("lock_expiry", expired)
	if expired > 0 {
		v.logger.Info("locks expired", "count", expired)
	}
	return expired, nil
}

func (v *Vault) expireLock(ctx context.Context, challengeID uint64, now time.Time) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	expired := false
	err := v.store.UpdateLedger(ctx, func(tx domain.LedgerTx) error {
		lk, err := tx.ActiveLock(challengeID)
		if err != nil || lk == nil || lk.ExpiresAt.After(now) {
			return err
		}
		owner, err := tx.Balance(lk.Owner, lk.Asset)
		if err != nil {
			return err
		}
		if owner.Locked < lk.Amount {
			return fmt.Errorf("owner %s locked balance %d below lock %d", lk.Owner, owner.Locked, lk.Amount)
		}
		owner.Locked -= lk.Amount
		owner.Available += lk.Amount
		if err := tx.PutBalance(owner); err != nil {
			return err
		}

		at := now
		lk.Status = domain.LockExpired
		lk.ReleasedAt = &at
		if err := tx.UpdateLock(lk); err != nil {
			return err
		}
		if _, err := tx.AppendTransaction(&domain.Transaction{
			Type:        domain.TxRefund,
			ChallengeID: challengeID,
			From:        v.cfg.Identity,
			To:          lk.Owner,
			Amount:      lk.Amount,
			Asset:       lk.Asset,
			Timestamp:   now,
			Status:      domain.TxCompleted,
		}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

// ─── Administration ─────────────────────────────────────────────────────────

// SetPaused halts or resumes deposit, lock and unlock. Admin only.
func (v *Vault) SetPaused(ctx context.Context, caller domain.Identity, paused bool) error {
	if !v.auth.IsAdmin(caller) {
		return v.reject(fmt.Errorf("%w: only admins can pause the vault", domain.ErrUnauthorized))
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.PutSetting(ctx, settingPaused, strconv.FormatBool(paused)); err != nil {
		return v.storageErr("persist paused flag", err)
	}
	v.paused = paused
	v.logger.Warn("vault pause toggled", "paused", paused, "by", caller)
	return nil
}

// Paused reports whether money movement is halted.
func (v *Vault) Paused() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.paused
}

// SetFeeRecipient changes who receives platform fees. Admin only.
func (v *Vault) SetFeeRecipient(ctx context.Context, caller, recipient domain.Identity) error {
	if !v.auth.IsAdmin(caller) {
		return v.reject(fmt.Errorf("%w: only admins can set the fee recipient", domain.ErrUnauthorized))
	}
	if recipient.IsAnonymous() {
		return v.reject(fmt.Errorf("%w: fee recipient is required", domain.ErrInvalidInput))
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.store.PutSetting(ctx, settingFeeRecipient, string(recipient)); err != nil {
		return v.storageErr("persist fee recipient", err)
	}
	v.feeRecipient = recipient
	v.logger.Info("fee recipient changed", "recipient", recipient, "by", caller)
	return nil
}

// FeeRecipient returns the identity credited with platform fees.
func (v *Vault) FeeRecipient() domain.Identity {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.feeRecipient
}

// FeeBasisPoints returns the configured platform fee rate.
func (v *Vault) FeeBasisPoints() uint64 { return v.cfg.FeeBasisPoints }

// ─── Reads ──────────────────────────────────────────────────────────────────

// GetBalance returns the balance for (owner, asset); unknown pairs are zero.
func (v *Vault) GetBalance(ctx context.Context, owner domain.Identity, asset domain.Asset) (domain.Balance, error) {
	if err := asset.Validate(); err != nil {
		return domain.Balance{}, err
	}
	b, err := v.store.GetBalance(ctx, owner, asset)
	if err != nil {
		return domain.Balance{}, v.storageErr("read balance", err)
	}
	return b, nil
}

// GetLock returns the most recent lock for a challenge.
func (v *Vault) GetLock(ctx context.Context, challengeID uint64) (*domain.LockInfo, error) {
	lk, err := v.store.LatestLock(ctx, challengeID)
	if err != nil {
		return nil, v.storageErr("read lock", err)
	}
	if lk == nil {
		return nil, fmt.Errorf("%w: no lock for challenge %d", domain.ErrNotFound, challengeID)
	}
	return lk, nil
}

// Transactions returns entries involving owner, newest first. limit is
// capped at MaxPageSize; a non-positive limit means the cap.
func (v *Vault) Transactions(ctx context.Context, owner domain.Identity, offset, limit int) ([]domain.Transaction, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative offset", domain.ErrInvalidInput)
	}
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	txs, err := v.store.Transactions(ctx, owner, offset, limit)
	if err != nil {
		return nil, v.storageErr("read transactions", err)
	}
	return txs, nil
}

// Stats summarizes locked value and transaction volume.
func (v *Vault) Stats(ctx context.Context) (domain.VaultStats, error) {
	stats, err := v.store.VaultStats(ctx)
	if err != nil {
		return domain.VaultStats{}, v.storageErr("read stats", err)
	}
	stats.Paused = v.Paused()
	return stats, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (v *Vault) reject(err error) error {
	v.metrics.Rejected("vault", err)
	v.logger.Debug("rejected", "err", err)
	return err
}

// storageErr logs the cause and returns an internal error that does not
// expose it.
func (v *Vault) storageErr(op string, err error) error {
	v.logger.Error("storage failure", "op", op, "err", err)
	v.metrics.Rejected("vault", domain.ErrInternal)
	return fmt.Errorf("%w: %s failed", domain.ErrInternal, op)
}

func (v *Vault) publish(ctx context.Context, evt domain.Event) {
	if v.events != nil {
		v.events.Publish(ctx, evt)
	}
}
