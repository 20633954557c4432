package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Targets and Events ─────────────────────────────────────────────────────
//
// POST /api/v1/targets/{address}/call invoke an exported function of a deployed target
// GET  /api/v1/events                 recent domain events, newest first (limit)

func (s *Server) handleCallTarget(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	if caller.IsAnonymous() {
		s.fail(w, r, fmt.Errorf("%w: anonymous callers cannot call targets", domain.ErrUnauthorized))
		return
	}
	var req struct {
		Function string   `json:"function"`
		Args     []uint64 `json:"args"`
	}
	if !decode(w, r, &req) {
		return
	}
	addr := chi.URLParam(r, "address")
	results, err := s.svc.Host.Call(r.Context(), addr, req.Function, req.Args...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("target called", "target", addr, "function", req.Function, "caller", caller)
	writeJSON(w, http.StatusOK, map[string]any{"results": nonNil(results)})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": s.svc.Events.Recent(limit)})
}
