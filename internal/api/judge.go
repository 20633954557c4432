package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Judge API ──────────────────────────────────────────────────────────────
//
// POST /api/v1/judge/evaluations                   evaluate an attack attempt
// GET  /api/v1/judge/challenges/{id}/evaluations   evaluations, newest first
// GET  /api/v1/judge/challenges/{id}/settlements   bounty payouts, newest first
// GET  /api/v1/judge/challenges/{id}/monitoring    monitoring state
// GET  /api/v1/judge/history/{target}              balance snapshots, oldest first (limit)
// POST /api/v1/judge/disputes                      open a dispute
// GET  /api/v1/judge/disputes                      list (status may repeat; open=true for unresolved)
// GET  /api/v1/judge/disputes/{id}                 one dispute
// POST /api/v1/judge/disputes/{id}/review          mark under review (admins)
// POST /api/v1/judge/disputes/{id}/resolve         resolve or reject (admins)
// GET  /api/v1/judge/config                        judge configuration

type evaluateRequest struct {
	ChallengeID uint64          `json:"challenge_id"`
	AttemptID   uint64          `json:"attempt_id"`
	Hacker      domain.Identity `json:"hacker,omitempty"`
	Proof       []byte          `json:"proof,omitempty"`
	GasUsed     uint64          `json:"gas_used,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !decode(w, r, &req) {
		return
	}
	verdict, err := s.svc.Judge.Evaluate(r.Context(), callerOf(r), req.ChallengeID, domain.AttackAttempt{
		ID:          req.AttemptID,
		ChallengeID: req.ChallengeID,
		Hacker:      req.Hacker,
		Proof:       req.Proof,
		GasUsed:     req.GasUsed,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

func (s *Server) handleEvaluations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	evals, err := s.svc.Judge.Evaluations(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenge_id": id, "evaluations": nonNil(evals)})
}

func (s *Server) handleSettlements(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	recs, err := s.svc.Judge.Settlements(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"challenge_id": id, "settlements": nonNil(recs)})
}

func (s *Server) handleMonitoringState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	st, err := s.svc.Judge.MonitoringState(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleBalanceHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, err.Error())
		return
	}
	target := chi.URLParam(r, "target")
	hist, err := s.svc.Judge.BalanceHistory(r.Context(), target, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"target": target, "snapshots": nonNil(hist)})
}

// ─── Disputes ───────────────────────────────────────────────────────────────

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	var req domain.DisputeRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.svc.Judge.CreateDispute(r.Context(), callerOf(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleListDisputes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var statuses []domain.DisputeStatus
	if q.Get("open") == "true" {
		statuses = []domain.DisputeStatus{domain.DisputeOpen, domain.DisputeUnderReview}
	}
	for _, st := range q["status"] {
		statuses = append(statuses, domain.DisputeStatus(st))
	}
	list, err := s.svc.Judge.Disputes(r.Context(), statuses...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": nonNil(list)})
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	d, err := s.svc.Judge.GetDispute(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleReviewDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	if err := s.svc.Judge.MarkUnderReview(r.Context(), callerOf(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Resolution domain.DisputeStatus `json:"resolution"`
		Text       string               `json:"text"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Judge.ResolveDispute(r.Context(), callerOf(r), id, req.Resolution, req.Text); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJudgeConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.svc.Judge.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":                 cfg.Identity,
		"registry_identity":        cfg.RegistryIdentity,
		"attack_threshold_percent": cfg.AttackThresholdPercent,
		"check_interval":           cfg.CheckInterval.String(),
		"history_cap":              cfg.HistoryCap,
		"dispute_review_period":    cfg.DisputeReviewPeriod.String(),
		"check_batch":              cfg.CheckBatch,
		"max_evidence_bytes":       cfg.MaxEvidenceBytes,
	})
}
