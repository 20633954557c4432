// Package governance implements the authorization registry: the admin set and
// the allow-list of trusted callers permitted to move escrowed funds or toggle
// monitoring.
//
// Rules:
//   - Anonymous identities are never admins and never trusted.
//   - The first admin may be added by anyone; afterwards only admins manage
//     either list.
//   - Lookups are served from an in-memory copy guarded by an RWMutex, so a
//     caller's in-flight operation never waits on storage.
package governance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zerolock-network/zerolock/internal/domain"
)

var _ domain.Authorizer = (*Registry)(nil)

// Registry is the authorization registry.
type Registry struct {
	store  domain.GovernanceStore
	logger *slog.Logger
	now    func() time.Time

	// writeMu serializes management operations; mu guards the caches.
	writeMu sync.Mutex
	mu      sync.RWMutex
	admins  map[domain.Identity]bool
	trusted map[domain.Identity]bool
}

// New creates a registry backed by store. Call Load before serving.
func New(store domain.GovernanceStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		store:   store,
		logger:  logger.With("component", "governance"),
		now:     time.Now,
		admins:  make(map[domain.Identity]bool),
		trusted: make(map[domain.Identity]bool),
	}
}

// SetClock overrides the time source (testing).
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Load refreshes the in-memory lists from storage.
func (r *Registry) Load(ctx context.Context) error {
	admins, err := r.store.Members(ctx, domain.RoleAdmin)
	if err != nil {
		return fmt.Errorf("load admins: %w", err)
	}
	trusted, err := r.store.Members(ctx, domain.RoleTrusted)
	if err != nil {
		return fmt.Errorf("load trusted callers: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins = toSet(admins)
	r.trusted = toSet(trusted)
	return nil
}

// Seed grants roles at startup without an authorization check. Existing
// memberships are left as they are.
func (r *Registry) Seed(ctx context.Context, admins, trusted []domain.Identity) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	for _, set := range []struct {
		role domain.Role
		ids  []domain.Identity
	}{{domain.RoleAdmin, admins}, {domain.RoleTrusted, trusted}} {
		for _, id := range set.ids {
			if id.IsAnonymous() {
				return fmt.Errorf("%w: cannot seed anonymous identity as %s", domain.ErrInvalidInput, set.role)
			}
			if _, err := r.store.AddMember(ctx, set.role, id, r.now()); err != nil {
				return fmt.Errorf("seed %s %s: %w", set.role, id, err)
			}
		}
	}
	return r.Load(ctx)
}

// ─── Lookups ────────────────────────────────────────────────────────────────

// IsAdmin reports whether id may manage governance and vault settings.
func (r *Registry) IsAdmin(id domain.Identity) bool {
	if id.IsAnonymous() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[id]
}

// IsTrusted reports whether id is on the allow-list.
func (r *Registry) IsTrusted(id domain.Identity) bool {
	if id.IsAnonymous() {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.trusted[id]
}

// Admins returns the admin identities, sorted.
func (r *Registry) Admins() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.admins)
}

// TrustedCallers returns the allow-list, sorted.
func (r *Registry) TrustedCallers() []domain.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.trusted)
}

// ─── Management ─────────────────────────────────────────────────────────────

// AddAdmin grants the admin role. While no admin exists the call is open,
// which is how a fresh deployment is bootstrapped.
func (r *Registry) AddAdmin(ctx context.Context, caller, id domain.Identity) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	bootstrap := len(r.admins) == 0
	r.mu.RUnlock()

	if caller.IsAnonymous() {
		return fmt.Errorf("%w: anonymous caller", domain.ErrUnauthorized)
	}
	if !bootstrap && !r.IsAdmin(caller) {
		return fmt.Errorf("%w: only admins can add admins", domain.ErrUnauthorized)
	}
	if err := r.grant(ctx, domain.RoleAdmin, id); err != nil {
		return err
	}
	r.logger.Info("admin added", "admin", id, "by", caller, "bootstrap", bootstrap)
	return nil
}

// AddTrustedCaller puts id on the allow-list. Admin only.
func (r *Registry) AddTrustedCaller(ctx context.Context, caller, id domain.Identity) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.IsAdmin(caller) {
		return fmt.Errorf("%w: only admins can manage trusted callers", domain.ErrUnauthorized)
	}
	if err := r.grant(ctx, domain.RoleTrusted, id); err != nil {
		return err
	}
	r.logger.Info("trusted caller added", "caller", id, "by", caller)
	return nil
}

// RemoveTrustedCaller takes id off the allow-list. Admin only.
func (r *Registry) RemoveTrustedCaller(ctx context.Context, caller, id domain.Identity) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if !r.IsAdmin(caller) {
		return fmt.Errorf("%w: only admins can manage trusted callers", domain.ErrUnauthorized)
	}
	removed, err := r.store.RemoveMember(ctx, domain.RoleTrusted, id)
	if err != nil {
		r.logger.Error("remove trusted caller", "caller", id, "err", err)
		return fmt.Errorf("%w: storage failure", domain.ErrInternal)
	}
	if !removed {
		return fmt.Errorf("%w: %s is not a trusted caller", domain.ErrNotFound, id)
	}

	r.mu.Lock()
	delete(r.trusted, id)
	r.mu.Unlock()

	r.logger.Info("trusted caller removed", "caller", id, "by", caller)
	return nil
}

// grant persists a membership then publishes it to the cache.
func (r *Registry) grant(ctx context.Context, role domain.Role, id domain.Identity) error {
	if id.IsAnonymous() {
		return fmt.Errorf("%w: anonymous identity cannot hold %s", domain.ErrInvalidInput, role)
	}
	added, err := r.store.AddMember(ctx, role, id, r.now())
	if err != nil {
		r.logger.Error("grant role", "role", role, "identity", id, "err", err)
		return fmt.Errorf("%w: storage failure", domain.ErrInternal)
	}
	if !added {
		return fmt.Errorf("%w: %s already holds %s", domain.ErrAlreadyExists, id, role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch role {
	case domain.RoleAdmin:
		r.admins[id] = true
	case domain.RoleTrusted:
		r.trusted[id] = true
	}
	return nil
}
