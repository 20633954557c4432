package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Governance API ─────────────────────────────────────────────────────────
//
// GET    /api/v1/governance/admins             admin identities
// POST   /api/v1/governance/admins             add an admin (open until the first exists)
// GET    /api/v1/governance/trusted            trusted callers
// POST   /api/v1/governance/trusted            add a trusted caller (admins)
// DELETE /api/v1/governance/trusted/{identity} remove a trusted caller (admins)

type identityRequest struct {
	Identity domain.Identity `json:"identity"`
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"admins": nonNil(s.svc.Governance.Admins())})
}

func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Governance.AddAdmin(r.Context(), callerOf(r), req.Identity); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListTrusted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"trusted": nonNil(s.svc.Governance.TrustedCallers())})
}

func (s *Server) handleAddTrusted(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Governance.AddTrustedCaller(r.Context(), callerOf(r), req.Identity); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleRemoveTrusted(w http.ResponseWriter, r *http.Request) {
	id := domain.Identity(chi.URLParam(r, "identity"))
	if err := s.svc.Governance.RemoveTrustedCaller(r.Context(), callerOf(r), id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
