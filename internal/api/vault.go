package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zerolock-network/zerolock/internal/domain"
)

// ─── Vault API ──────────────────────────────────────────────────────────────
//
// POST /api/v1/vault/deposits                 credit the caller's balance
// POST /api/v1/vault/locks                    escrow funds (trusted callers)
// POST /api/v1/vault/unlocks                  settle a lock (trusted callers)
// GET  /api/v1/vault/locks/{challenge}        lock record
// GET  /api/v1/vault/balances/{owner}/{asset} balance
// GET  /api/v1/vault/transactions/{owner}     history, newest first (offset, limit)
// GET  /api/v1/vault/stats                    ledger summary
// POST /api/v1/vault/pause                    pause or resume locking (admins)
// POST /api/v1/vault/fee-recipient            change the fee recipient (admins)

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Asset  domain.Asset `json:"asset"`
		Amount uint64       `json:"amount"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Asset == "" {
		req.Asset = domain.AssetNative
	}
	caller := callerOf(r)
	txID, err := s.svc.Vault.Deposit(r.Context(), caller, req.Asset, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := s.svc.Vault.GetBalance(r.Context(), caller, req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction_id": txID, "balance": b})
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChallengeID uint64          `json:"challenge_id"`
		Owner       domain.Identity `json:"owner"`
		Amount      uint64          `json:"amount"`
		Asset       domain.Asset    `json:"asset"`
		Duration    string          `json:"duration"`
	}
	if !decode(w, r, &req) {
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid duration: "+req.Duration)
		return
	}
	err = s.svc.Vault.Lock(r.Context(), callerOf(r), domain.LockRequest{
		ChallengeID: req.ChallengeID,
		Owner:       req.Owner,
		Amount:      req.Amount,
		Asset:       req.Asset,
		Duration:    d,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req domain.UnlockRequest
	if !decode(w, r, &req) {
		return
	}
	settlement, err := s.svc.Vault.Unlock(r.Context(), callerOf(r), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUint(w, r, "challenge")
	if !ok {
		return
	}
	lk, err := s.svc.Vault.GetLock(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lk)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	owner := domain.Identity(chi.URLParam(r, "owner"))
	asset := domain.Asset(chi.URLParam(r, "asset"))
	b, err := s.svc.Vault.GetBalance(r.Context(), owner, asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	offset, limit, ok := page(w, r)
	if !ok {
		return
	}
	owner := domain.Identity(chi.URLParam(r, "owner"))
	txs, err := s.svc.Vault.Transactions(r.Context(), owner, offset, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "transactions": nonNil(txs)})
}

func (s *Server) handleVaultStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Vault.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":            stats,
		"fee_recipient":    s.svc.Vault.FeeRecipient(),
		"fee_basis_points": s.svc.Vault.FeeBasisPoints(),
		"trusted_callers":  nonNil(s.svc.Governance.TrustedCallers()),
	})
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paused bool `json:"paused"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Vault.SetPaused(r.Context(), callerOf(r), req.Paused); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": s.svc.Vault.Paused()})
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Recipient domain.Identity `json:"recipient"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.svc.Vault.SetFeeRecipient(r.Context(), callerOf(r), req.Recipient); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"fee_recipient": s.svc.Vault.FeeRecipient()})
}
