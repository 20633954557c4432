package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Challenge API ──────────────────────────────────────────────────────────
//
// POST /api/v1/challenges                 submit a challenge
// GET  /api/v1/challenges                 list (status, owner, asset, difficulty, min_bounty, max_bounty, offset, limit)
// GET  /api/v1/challenges/stats           counts per status
// GET  /api/v1/challenges/{id}            one challenge
// POST /api/v1/challenges/{id}/deploy     deploy target, escrow bounty, start monitoring
// POST /api/v1/challenges/{id}/status     move to another status
// POST /api/v1/challenges/{id}/expire     expire an Active challenge past its end time
// POST /api/v1/challenges/{id}/monitoring restart monitoring after a failed start
// GET  /api/v1/companies/{owner}/challenges one owner's challenges, newest first

// submitRequest is the wire form of domain.ChallengeSpec. Payload is base64
// and Duration a Go duration string.
type submitRequest struct {
	Payload     []byte       `json:"payload"`
	Interface   string       `json:"interface"`
	Bounty      uint64       `json:"bounty"`
	Asset       domain.Asset `json:"asset"`
	Duration    string       `json:"duration"`
	Description string       `json:"description"`
	Difficulty  int          `json:"difficulty"`
}

func (s *Server) handleSubmitChallenge(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid duration: "+req.Duration)
		return
	}

	id, err := s.svc.Registry.Submit(r.Context(), callerOf(r), domain.ChallengeSpec{
		Payload:     req.Payload,
		Interface:   req.Interface,
		Bounty:      req.Bounty,
		Asset:       req.Asset,
		Duration:    d,
		Description: req.Description,
		Difficulty:  req.Difficulty,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleListChallenges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.ChallengeFilter{
		Status: domain.ChallengeStatus(q.Get("status")),
		Owner:  domain.Identity(q.Get("owner")),
		Asset:  domain.Asset(q.Get("asset")),
	}
	var err error
	if f.Difficulty, err = queryInt(r, "difficulty", 0); err == nil {
		if f.MinBounty, err = queryUint(r, "min_bounty"); err == nil {
			f.MaxBounty, err = queryUint(r, "max_bounty")
		}
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, err.Error())
		return
	}
	var ok bool
	if f.Offset, f.Limit, ok = page(w, r); !ok {
		return
	}

	list, err := s.svc.Registry.List(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenges": nonNil(list)})
}

func (s *Server) handleChallengeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Registry.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleGetChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	c, err := s.svc.Registry.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleDeployTarget reports the target address even when monitoring failed
// to start, so the caller can retry with /monitoring.
func (s *Server) handleDeployTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	addr, err := s.svc.Registry.DeployTarget(r.Context(), callerOf(r), id)
	if err != nil && addr != "" {
		kind := domain.KindOf(err)
		s.logger.Warn("deployed without monitoring", "challenge_id", id, "target", addr, "err", err)
		writeJSON(w, statusFor(kind), map[string]any{
			"target_address": addr,
			"error":          map[string]any{"message": domain.Reason(err), "type": kind},
		})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target_address": addr})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Status domain.ChallengeStatus `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Registry.SetStatus(r.Context(), callerOf(r), id, req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpireChallenge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Registry.Expire(r.Context(), callerOf(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestartMonitoring(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Registry.RestartMonitoring(r.Context(), callerOf(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOwnerChallenges(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := page(w, r)
	if !ok {
		return
	}
	owner := domain.Identity(chi.URLParam(r, "owner"))
	list, err := s.svc.Registry.OwnerChallenges(r.Context(), owner, offset, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "challenges": nonNil(list)})
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
