// Package registry owns the challenge lifecycle.
//
// A challenge is submitted (Created), its target program is deployed and
// its bounty escrowed (Active), and it ends Completed, Expired or Cancelled.
// Deployment spans outbound calls to the code host, the vault and the judge;
// the registry reserves the challenge before the first call and confirms
// the Active transition with a compare-and-set after the last one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/observability"
)

// MaxPageSize caps every listing page.
const MaxPageSize = 100

// Locker is the vault surface the registry escrows bounties through.
type Locker interface {
	Lock(ctx context.Context, caller domain.Identity, req domain.LockRequest) error
	Unlock(ctx context.Context, caller domain.Identity, req domain.UnlockRequest) (domain.Settlement, error)
	GetLock(ctx context.Context, challengeID uint64) (*domain.LockInfo, error)
}

// Monitor is the judge surface the registry toggles monitoring through.
type Monitor interface {
	StartMonitoring(ctx context.Context, caller domain.Identity, challengeID uint64, target string) error
	StopMonitoring(ctx context.Context, caller domain.Identity, challengeID uint64) error
}

// Config controls submission policy.
type Config struct {
	Identity        domain.Identity // the registry's identity toward the vault and judge
	MinBounty       uint64          // default: 1_000_000
	MinDuration     time.Duration   // default: 24h
	MaxDuration     time.Duration   // default: 720h
	MaxPayloadBytes int             // default: 2_000_000
	MaxDescription  int             // characters (default: 1000)
	MaxOpenPerOwner int             // Created + Active challenges per owner (default: 10)
	SweepBatch      int             // challenges expired per sweep (default: 100)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Identity:        "zerolock-registry",
		MinBounty:       1_000_000,
		MinDuration:     24 * time.Hour,
		MaxDuration:     720 * time.Hour,
		MaxPayloadBytes: 2_000_000,
		MaxDescription:  1000,
		MaxOpenPerOwner: 10,
		SweepBatch:      100,
	}
}

// Registry is the challenge lifecycle state machine.
type Registry struct {
	cfg      Config
	store    domain.ChallengeStore
	auth     domain.Authorizer
	deployer domain.CodeDeploymentService
	locker   Locker
	monitor  Monitor
	events   domain.EventPublisher
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	deploying map[uint64]bool
}

// Option configures optional collaborators.
type Option func(*Registry)

// WithEvents publishes lifecycle changes to p.
func WithEvents(p domain.EventPublisher) Option { return func(r *Registry) { r.events = p } }

// WithMetrics records transitions in m.
func WithMetrics(m *observability.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New creates a registry.
func New(cfg Config, store domain.ChallengeStore, auth domain.Authorizer, deployer domain.CodeDeploymentService, locker Locker, monitor Monitor, opts ...Option) *Registry {
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = DefaultConfig().SweepBatch
	}
	r := &Registry{
		cfg:       cfg,
		store:     store,
		auth:      auth,
		deployer:  deployer,
		locker:    locker,
		monitor:   monitor,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		deploying: make(map[uint64]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

// Identity returns the registry's own identity.
func (r *Registry) Identity() domain.Identity { return r.cfg.Identity }

// ─── Submission ─────────────────────────────────────────────────────────────

// Submit validates spec and records a new Created challenge owned by caller.
func (r *Registry) Submit(ctx context.Context, caller domain.Identity, spec domain.ChallengeSpec) (uint64, error) {
	if caller.IsAnonymous() {
		return 0, r.reject(fmt.Errorf("%w: anonymous callers cannot submit challenges", domain.ErrUnauthorized))
	}
	if spec.Asset == "" {
		spec.Asset = domain.AssetNative
	}
	if err := r.validate(spec); err != nil {
		return 0, r.reject(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	open, err := r.store.CountOpenChallenges(ctx, caller)
	if err != nil {
		return 0, r.storageErr("count open challenges", err)
	}
	if open >= r.cfg.MaxOpenPerOwner {
		return 0, r.reject(fmt.Errorf("%w: %s already has %d open challenges", domain.ErrResourceLimit, caller, open))
	}

	now := r.now()
	c := &domain.Challenge{
		Owner:       caller,
		Bounty:      spec.Bounty,
		Asset:       spec.Asset,
		StartTime:   now,
		EndTime:     now.Add(spec.Duration),
		Status:      domain.ChallengeCreated,
		Description: spec.Description,
		Difficulty:  spec.Difficulty,
		Interface:   spec.Interface,
		Payload:     spec.Payload,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := r.store.InsertChallenge(ctx, c)
	if err != nil {
		return 0, r.storageErr("insert challenge", err)
	}

	r.metrics.Transitioned(domain.ChallengeCreated)
	r.logger.Info("challenge submitted", "challenge_id", id, "owner", caller, "bounty", spec.Bounty, "asset", spec.Asset)
	r.publish(ctx, domain.Event{Kind: domain.EventChallengeCreated, ChallengeID: id, Actor: caller, Amount: spec.Bounty, Asset: spec.Asset, At: now})
	return id, nil
}

// validate checks the shape and bounds of a submission.
func (r *Registry) validate(spec domain.ChallengeSpec) error {
	switch {
	case len(spec.Payload) == 0:
		return fmt.Errorf("%w: payload is empty", domain.ErrInvalidInput)
	case len(spec.Payload) > r.cfg.MaxPayloadBytes:
		return fmt.Errorf("%w: payload is %d bytes, limit %d", domain.ErrInvalidInput, len(spec.Payload), r.cfg.MaxPayloadBytes)
	case spec.Bounty < r.cfg.MinBounty:
		return fmt.Errorf("%w: bounty %d below minimum %d", domain.ErrInvalidInput, spec.Bounty, r.cfg.MinBounty)
	case spec.Bounty > domain.MaxAmount:
		return fmt.Errorf("%w: bounty %d exceeds maximum amount", domain.ErrInvalidInput, spec.Bounty)
	case spec.Duration < r.cfg.MinDuration || spec.Duration > r.cfg.MaxDuration:
		return fmt.Errorf("%w: duration %s outside [%s, %s]", domain.ErrInvalidInput, spec.Duration, r.cfg.MinDuration, r.cfg.MaxDuration)
	case utf8.RuneCountInString(spec.Description) > r.cfg.MaxDescription:
		return fmt.Errorf("%w: description longer than %d characters", domain.ErrInvalidInput, r.cfg.MaxDescription)
	case spec.Difficulty < 1 || spec.Difficulty > 5:
		return fmt.Errorf("%w: difficulty %d outside [1, 5]", domain.ErrInvalidInput, spec.Difficulty)
	case strings.TrimSpace(spec.Interface) == "":
		return fmt.Errorf("%w: interface descriptor is required", domain.ErrInvalidInput)
	}
	return spec.Asset.Validate()
}

// ─── Deployment ─────────────────────────────────────────────────────────────

// DeployTarget stands up the challenge's target program, escrows the bounty,
// activates the challenge and starts monitoring. On any failure before
// activation the challenge stays Created and the call can be retried.
//
// If activation succeeds but monitoring does not start, the deployed address
// is returned together with an internal error; RestartMonitoring recovers.
func (r *Registry) DeployTarget(ctx context.Context, caller domain.Identity, id uint64) (string, error) {
	c, err := r.load(ctx, id)
	if err != nil {
		return "", err
	}
	if err := r.ownerOrAdmin(c, caller); err != nil {
		return "", err
	}
	if c.Status != domain.ChallengeCreated {
		return "", r.reject(fmt.Errorf("%w: challenge %d is %s, deploy requires %s", domain.ErrInvalidState, id, c.Status, domain.ChallengeCreated))
	}

	// Reserve the challenge for the duration of the outbound calls.
	r.mu.Lock()
	if r.deploying[id] {
		r.mu.Unlock()
		return "", r.reject(fmt.Errorf("%w: challenge %d is already being deployed", domain.ErrInvalidState, id))
	}
	r.deploying[id] = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.deploying, id)
		r.mu.Unlock()
	}()

	// A deployment that finished while we waited may have activated it.
	if c, err = r.load(ctx, id); err != nil {
		return "", err
	}
	if c.Status != domain.ChallengeCreated {
		return "", r.reject(fmt.Errorf("%w: challenge %d is %s", domain.ErrInvalidState, id, c.Status))
	}

	remaining := c.EndTime.Sub(r.now())
	if remaining <= 0 {
		return "", r.reject(fmt.Errorf("%w: challenge %d window closed at %s", domain.ErrInvalidState, id, c.EndTime.Format(time.RFC3339)))
	}

	addr, err := r.deployer.Create(ctx)
	if err != nil {
		return "", r.collaboratorErr("deployment", "create target", err)
	}
	// Until the challenge is Active nothing else knows the target.
	activated := false
	defer func() {
		if !activated {
			r.discardTarget(ctx, id, addr)
		}
	}()

	if err := r.deployer.Install(ctx, addr, c.Payload); err != nil {
		return "", r.collaboratorErr("deployment", "install target", err)
	}

	if err := r.escrow(ctx, c, remaining); err != nil {
		return "", err
	}

	now := r.now()
	ok, err := r.store.ActivateChallenge(ctx, id, addr, now)
	if err != nil {
		return "", r.storageErr("activate challenge", err)
	}
	if !ok {
		// The challenge left Created while we were deploying; give the
		// bounty back.
		r.releaseLock(ctx, c, domain.ChallengeCancelledReason())
		return "", r.reject(fmt.Errorf("%w: challenge %d changed status during deployment", domain.ErrInvalidState, id))
	}
	activated = true

	r.metrics.Transitioned(domain.ChallengeActive)
	r.logger.Info("challenge activated", "challenge_id", id, "target", addr, "by", caller)
	r.publish(ctx, domain.Event{Kind: domain.EventChallengeActivated, ChallengeID: id, Actor: caller, Amount: c.Bounty, Asset: c.Asset, Detail: addr, At: now})

	if err := r.monitor.StartMonitoring(ctx, r.cfg.Identity, id, addr); err != nil {
		return addr, r.collaboratorErr("judge", "start monitoring", err)
	}
	return addr, nil
}

// discardTarget tears down a target whose deployment failed.
func (r *Registry) discardTarget(ctx context.Context, id uint64, addr string) {
	if err := r.deployer.Remove(context.WithoutCancel(ctx), addr); err != nil {
		r.metrics.CollaboratorFailed("deployment")
		r.logger.Warn("remove target failed", "challenge_id", id, "target", addr, "err", err)
		return
	}
	r.logger.Debug("target discarded", "challenge_id", id, "target", addr)
}

// RestoreTargets brings back the target of every Active challenge after a
// restart. A target that cannot be restored is logged and skipped; its
// challenge expires on schedule. It returns how many it restored.
func (r *Registry) RestoreTargets(ctx context.Context) (int, error) {
	n := 0
	for offset := 0; ; offset += MaxPageSize {
		page, err := r.store.ListChallenges(ctx, domain.ChallengeFilter{
			Status: domain.ChallengeActive,
			Offset: offset,
			Limit:  MaxPageSize,
		})
		if err != nil {
			return n, r.storageErr("list active challenges", err)
		}
		for _, listed := range page {
			if !listed.Deployed() {
				continue
			}
			// Listings carry no program bytes.
			c, err := r.load(ctx, listed.ID)
			if err != nil {
				return n, err
			}
			if err := r.deployer.Restore(ctx, c.TargetAddress, c.Payload); err != nil {
				r.metrics.CollaboratorFailed("deployment")
				r.logger.Warn("restore target failed", "challenge_id", c.ID, "target", c.TargetAddress, "err", err)
				continue
			}
			n++
		}
		if len(page) < MaxPageSize {
			break
		}
	}
	if n > 0 {
		r.logger.Info("targets restored", "count", n)
	}
	return n, nil
}

// escrow locks the bounty for the rest of the challenge window. An Active
// lock left by an earlier failed deployment is adopted.
func (r *Registry) escrow(ctx context.Context, c *domain.Challenge, remaining time.Duration) error {
	lk, err := r.locker.GetLock(ctx, c.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return r.collaboratorErr("vault", "get lock", err)
	}
	if lk != nil && lk.Status == domain.LockActive {
		r.logger.Info("adopting existing lock", "challenge_id", c.ID, "amount", lk.Amount)
		return nil
	}

	err = r.locker.Lock(ctx, r.cfg.Identity, domain.LockRequest{
		ChallengeID: c.ID,
		Owner:       c.Owner,
		Amount:      c.Bounty,
		Asset:       c.Asset,
		Duration:    remaining,
	})
	switch domain.KindOf(err) {
	case "":
		return nil
	case domain.KindInsufficientFunds, domain.KindInvalidState, domain.KindInvalidInput:
		// The owner can act on these: deposit, wait for unpause.
		return r.reject(err)
	default:
		return r.collaboratorErr("vault", "lock bounty", err)
	}
}

// RestartMonitoring starts monitoring for an Active challenge whose
// deployment could not start it.
func (r *Registry) RestartMonitoring(ctx context.Context, caller domain.Identity, id uint64) error {
	c, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if err := r.ownerOrAdmin(c, caller); err != nil {
		return err
	}
	if c.Status != domain.ChallengeActive {
		return r.reject(fmt.Errorf("%w: challenge %d is %s", domain.ErrInvalidState, id, c.Status))
	}
	err = r.monitor.StartMonitoring(ctx, r.cfg.Identity, id, c.TargetAddress)
	if domain.KindOf(err) == domain.KindInvalidState {
		return r.reject(err)
	}
	if err != nil {
		return r.collaboratorErr("judge", "start monitoring", err)
	}
	return nil
}

// ─── Transitions ────────────────────────────────────────────────────────────

// SetStatus moves a challenge to next. Moving to the current status
// refreshes updated_at and succeeds. Activation happens only through
// DeployTarget.
func (r *Registry) SetStatus(ctx context.Context, caller domain.Identity, id uint64, next domain.ChallengeStatus) error {
	if !next.Valid() {
		return r.reject(fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, next))
	}
	c, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if err := r.ownerOrAdmin(c, caller); err != nil {
		return err
	}

	if c.Status == next {
		if _, err := r.store.TransitionChallenge(ctx, id, next, next, r.now()); err != nil {
			return r.storageErr("refresh challenge", err)
		}
		return nil
	}
	if !c.Status.CanTransition(next) {
		return r.reject(fmt.Errorf("%w: %s → %s is not allowed", domain.ErrInvalidState, c.Status, next))
	}
	if next == domain.ChallengeActive {
		return r.reject(fmt.Errorf("%w: challenges are activated by deploying their target", domain.ErrInvalidState))
	}
	return r.transition(ctx, caller, c, next)
}

// Expire ends an Active challenge early.
func (r *Registry) Expire(ctx context.Context, caller domain.Identity, id uint64) error {
	c, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if err := r.ownerOrAdmin(c, caller); err != nil {
		return err
	}
	if c.Status.IsTerminal() {
		return r.reject(fmt.Errorf("%w: challenge %d is already %s", domain.ErrInvalidState, id, c.Status))
	}
	if !c.Status.CanTransition(domain.ChallengeExpired) {
		return r.reject(fmt.Errorf("%w: %s → %s is not allowed; cancel instead", domain.ErrInvalidState, c.Status, domain.ChallengeExpired))
	}
	return r.transition(ctx, caller, c, domain.ChallengeExpired)
}

// MarkCompleted records that a challenge's bounty was paid. Only
// allow-listed components may call it; completing a Completed challenge
// succeeds.
func (r *Registry) MarkCompleted(ctx context.Context, caller domain.Identity, id uint64) error {
	if !r.auth.IsTrusted(caller) {
		return r.reject(fmt.Errorf("%w: caller %s may not complete challenges", domain.ErrUnauthorized, caller))
	}
	c, err := r.load(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == domain.ChallengeCompleted {
		return nil
	}
	if !c.Status.CanTransition(domain.ChallengeCompleted) {
		return r.reject(fmt.Errorf("%w: %s → %s is not allowed", domain.ErrInvalidState, c.Status, domain.ChallengeCompleted))
	}
	return r.transition(ctx, caller, c, domain.ChallengeCompleted)
}

// transition commits c.Status → next if nobody moved it first, then runs the
// terminal follow-ups.
func (r *Registry) transition(ctx context.Context, caller domain.Identity, c *domain.Challenge, next domain.ChallengeStatus) error {
	now := r.now()
	ok, err := r.store.TransitionChallenge(ctx, c.ID, c.Status, next, now)
	if err != nil {
		return r.storageErr("transition challenge", err)
	}
	if !ok {
		return r.reject(fmt.Errorf("%w: challenge %d changed status concurrently", domain.ErrInvalidState, c.ID))
	}
	r.logger.Info("challenge transitioned", "challenge_id", c.ID, "from", c.Status, "to", next, "by", caller)
	r.finish(ctx, c, next, now)
	return nil
}

// finish runs after a committed terminal transition. It releases the
// escrow of expired and cancelled challenges and stops monitoring. Failures
// are logged; the vault's lock expiry sweep is the backstop.
func (r *Registry) finish(ctx context.Context, c *domain.Challenge, next domain.ChallengeStatus, at time.Time) {
	r.metrics.Transitioned(next)

	var kind domain.EventKind
	switch next {
	case domain.ChallengeExpired:
		kind = domain.EventChallengeExpired
		r.releaseLock(ctx, c, domain.ChallengeExpiredReason())
	case domain.ChallengeCancelled:
		kind = domain.EventChallengeCancelled
		r.releaseLock(ctx, c, domain.ChallengeCancelledReason())
	case domain.ChallengeCompleted:
		kind = domain.EventChallengeCompleted
	case domain.ChallengeCreated, domain.ChallengeActive:
		return
	}

	if c.Status == domain.ChallengeActive {
		if err := r.monitor.StopMonitoring(ctx, r.cfg.Identity, c.ID); err != nil {
			r.metrics.CollaboratorFailed("judge")
			r.logger.Warn("stop monitoring failed", "challenge_id", c.ID, "err", err)
		}
	}
	r.publish(ctx, domain.Event{Kind: kind, ChallengeID: c.ID, Actor: c.Owner, Amount: c.Bounty, Asset: c.Asset, At: at})
}

// releaseLock returns a challenge's Active escrow to its owner.
func (r *Registry) releaseLock(ctx context.Context, c *domain.Challenge, reason domain.UnlockReason) {
	lk, err := r.locker.GetLock(ctx, c.ID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && lk.Status != domain.LockActive) {
		return
	}
	if err != nil {
		r.metrics.CollaboratorFailed("vault")
		r.logger.Warn("lock lookup failed", "challenge_id", c.ID, "err", err)
		return
	}
	_, err = r.locker.Unlock(ctx, r.cfg.Identity, domain.UnlockRequest{
		ChallengeID: c.ID,
		Recipient:   lk.Owner,
		Amount:      lk.Amount,
		Reason:      reason,
	})
	if err != nil {
		r.metrics.CollaboratorFailed("vault")
		r.logger.Warn("release lock failed", "challenge_id", c.ID, "reason", reason.Kind, "err", err)
	}
}

// ─── Expiry Sweep ───────────────────────────────────────────────────────────

// SweepExpired expires up to SweepBatch Active challenges whose window has
// closed and returns how many it expired. Repeated sweeps are no-ops.
func (r *Registry) SweepExpired(ctx context.Context) (int, error) {
	now := r.now()
	due, err := r.store.ExpiredActiveChallenges(ctx, now, r.cfg.SweepBatch)
	if err != nil {
		return 0, r.storageErr("find expired challenges", err)
	}

	n := 0
	for i := range due {
		c := &due[i]
		ok, err := r.store.TransitionChallenge(ctx, c.ID, domain.ChallengeActive, domain.ChallengeExpired, now)
		if err != nil {
			return n, r.storageErr("expire challenge", err)
		}
		if !ok {
			continue
		}
		n++
		r.logger.Info("challenge expired", "challenge_id", c.ID, "end_time", c.EndTime)
		r.finish(ctx, c, domain.ChallengeExpired, now)
	}
	r.metrics.Swept("challenges", n)
	return n, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns a challenge. The payload is loaded but never serialized.
func (r *Registry) Get(ctx context.Context, id uint64) (*domain.Challenge, error) {
	return r.load(ctx, id)
}

// List returns a page of challenges, newest first. Limits outside
// (0, MaxPageSize] mean MaxPageSize.
func (r *Registry) List(ctx context.Context, f domain.ChallengeFilter) ([]domain.Challenge, error) {
	if f.Offset < 0 {
		return nil, r.reject(fmt.Errorf("%w: negative offset", domain.ErrInvalidInput))
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, r.reject(fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, f.Status))
	}
	if f.Limit <= 0 || f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	out, err := r.store.ListChallenges(ctx, f)
	if err != nil {
		return nil, r.storageErr("list challenges", err)
	}
	return out, nil
}

// OwnerChallenges returns a page of one company's challenges, newest first.
func (r *Registry) OwnerChallenges(ctx context.Context, owner domain.Identity, offset, limit int) ([]domain.Challenge, error) {
	return r.List(ctx, domain.ChallengeFilter{Owner: owner, Offset: offset, Limit: limit})
}

// Stats counts challenges per status.
func (r *Registry) Stats(ctx context.Context) (domain.ChallengeStats, error) {
	s, err := r.store.ChallengeStats(ctx)
	if err != nil {
		return s, r.storageErr("challenge stats", err)
	}
	return s, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (r *Registry) load(ctx context.Context, id uint64) (*domain.Challenge, error) {
	c, err := r.store.GetChallenge(ctx, id)
	if err != nil {
		return nil, r.storageErr("get challenge", err)
	}
	if c == nil {
		return nil, r.reject(fmt.Errorf("%w: challenge %d", domain.ErrNotFound, id))
	}
	return c, nil
}

func (r *Registry) ownerOrAdmin(c *domain.Challenge, caller domain.Identity) error {
	if caller.IsAnonymous() || (caller != c.Owner && !r.auth.IsAdmin(caller)) {
		return r.reject(fmt.Errorf("%w: only the owner or an admin may change challenge %d", domain.ErrUnauthorized, c.ID))
	}
	return nil
}

func (r *Registry) reject(err error) error {
	r.metrics.Rejected("registry", err)
	r.logger.Debug("rejected", "err", err)
	return err
}

func (r *Registry) storageErr(op string, err error) error {
	r.logger.Error("storage failure", "op", op, "err", err)
	r.metrics.Rejected("registry", domain.ErrInternal)
	return fmt.Errorf("%w: %s failed", domain.ErrInternal, op)
}

// collaboratorErr logs a failed outbound call and returns an internal error
// that does not expose its cause.
func (r *Registry) collaboratorErr(collaborator, op string, err error) error {
	r.metrics.CollaboratorFailed(collaborator)
	r.metrics.Rejected("registry", domain.ErrInternal)
	r.logger.Warn("collaborator failure", "collaborator", collaborator, "op", op, "err", err)
	return fmt.Errorf("%w: %s failed", domain.ErrInternal, op)
}

func (r *Registry) publish(ctx context.Context, evt domain.Event) {
	if r.events != nil {
		r.events.Publish(ctx, evt)
	}
}
