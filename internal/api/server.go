// Package api provides the HTTP server for ZeroLock.
// It exposes the registry, vault, judge and governance operations as JSON
// endpoints under /api/v1. The caller's identity travels in the
// X-ZeroLock-Caller header; a request without it is anonymous. The header
// may not name a component or trusted identity: those move escrowed funds
// and act in-process only.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/events"
	"github.com/zerolock-network/zerolock/internal/infra/governance"
	"github.com/zerolock-network/zerolock/internal/infra/judge"
	"github.com/zerolock-network/zerolock/internal/infra/registry"
	"github.com/zerolock-network/zerolock/internal/infra/vault"
	"github.com/zerolock-network/zerolock/internal/infra/wasmhost"
)

// CallerHeader carries the caller identity.
const CallerHeader = "X-ZeroLock-Caller"

// maxBodyBytes bounds request bodies; challenge payloads arrive base64
// encoded, so this leaves room above the registry's payload limit.
const maxBodyBytes = 4 << 20

// Services are the components the server exposes. Gatherer may be nil to
// disable /metrics; Events may be nil to disable /events. Reserved lists the
// component identities no HTTP caller may claim.
type Services struct {
	Reserved   []domain.Identity
	Registry   *registry.Registry
	Vault      *vault.Vault
	Judge      *judge.Judge
	Governance *governance.Registry
	Host       *wasmhost.Host
	Events     *events.Buffer
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

// Server is the ZeroLock HTTP API server.
type Server struct {
	svc    Services
	logger *slog.Logger
}

// NewServer creates a new API server.
func NewServer(svc Services) *Server {
	logger := svc.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{svc: svc, logger: logger.With("component", "api")}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"paused": s.svc.Vault.Paused(),
		})
	})

	if s.svc.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.svc.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.inProcessOnly)

		r.Route("/challenges", func(r chi.Router) {
			r.Post("/", s.handleSubmitChallenge)
			r.Get("/", s.handleListChallenges)
			r.Get("/stats", s.handleChallengeStats)
			r.Get("/{id}", s.handleGetChallenge)
			r.Post("/{id}/deploy", s.handleDeployTarget)
			r.Post("/{id}/status", s.handleSetStatus)
			r.Post("/{id}/expire", s.handleExpireChallenge)
			r.Post("/{id}/monitoring", s.handleRestartMonitoring)
		})
		r.Get("/companies/{owner}/challenges", s.handleOwnerChallenges)

		r.Route("/vault", func(r chi.Router) {
			r.Post("/deposits", s.handleDeposit)
			r.Post("/locks", s.handleLock)
			r.Post("/unlocks", s.handleUnlock)
			r.Get("/locks/{challenge}", s.handleGetLock)
			r.Get("/balances/{owner}/{asset}", s.handleGetBalance)
			r.Get("/transactions/{owner}", s.handleTransactions)
			r.Get("/stats", s.handleVaultStats)
			r.Post("/pause", s.handleSetPaused)
			r.Post("/fee-recipient", s.handleSetFeeRecipient)
		})

		r.Route("/judge", func(r chi.Router) {
			r.Post("/evaluations", s.handleEvaluate)
			r.Get("/challenges/{id}/evaluations", s.handleEvaluations)
			r.Get("/challenges/{id}/settlements", s.handleSettlements)
			r.Get("/challenges/{id}/monitoring", s.handleMonitoringState)
			r.Get("/history/{target}", s.handleBalanceHistory)
			r.Post("/disputes", s.handleCreateDispute)
			r.Get("/disputes", s.handleListDisputes)
			r.Get("/disputes/{id}", s.handleGetDispute)
			r.Post("/disputes/{id}/review", s.handleReviewDispute)
			r.Post("/disputes/{id}/resolve", s.handleResolveDispute)
			r.Get("/config", s.handleJudgeConfig)
		})

		r.Route("/governance", func(r chi.Router) {
			r.Get("/admins", s.handleListAdmins)
			r.Post("/admins", s.handleAddAdmin)
			r.Get("/trusted", s.handleListTrusted)
			r.Post("/trusted", s.handleAddTrusted)
			r.Delete("/trusted/{identity}", s.handleRemoveTrusted)
		})

		r.Post("/targets/{address}/call", s.handleCallTarget)

		if s.svc.Events != nil {
			r.Get("/events", s.handleRecentEvents)
		}
	})

	return r
}

// ─── Request Helpers ────────────────────────────────────────────────────────

// callerOf returns the identity named by the caller header.
func callerOf(r *http.Request) domain.Identity {
	return domain.Identity(strings.TrimSpace(r.Header.Get(CallerHeader)))
}

// inProcessOnly refuses requests whose caller header names a reserved or
// trusted identity.
func (s *Server) inProcessOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if caller := callerOf(r); s.reserved(caller) {
			s.logger.Warn("refused in-process identity", "caller", caller, "method", r.Method, "path", r.URL.Path,
				"remote", r.RemoteAddr, "request_id", middleware.GetReqID(r.Context()))
			writeError(w, http.StatusForbidden, domain.KindUnauthorized, "caller "+string(caller)+" cannot act over HTTP")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) reserved(id domain.Identity) bool {
	if id.IsAnonymous() {
		return false
	}
	for _, r := range s.svc.Reserved {
		if id == r {
			return true
		}
	}
	return s.svc.Governance != nil && s.svc.Governance.IsTrusted(id)
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// pathUint parses a numeric URL parameter.
func pathUint(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid "+name)
		return 0, false
	}
	return v, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

// queryUint parses an optional unsigned query parameter.
func queryUint(r *http.Request, name string) (uint64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.New("invalid " + name)
	}
	return v, nil
}

// page reads offset and limit.
func page(w http.ResponseWriter, r *http.Request) (offset, limit int, ok bool) {
	offset, err := queryInt(r, "offset", 0)
	if err == nil {
		limit, err = queryInt(r, "limit", 0)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.KindInvalidInput, err.Error())
		return 0, 0, false
	}
	return offset, limit, true
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// statusFor maps an error kind to its HTTP status.
func statusFor(k domain.Kind) int {
	switch k {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindInvalidInput:
		return http.StatusBadRequest
	case domain.KindInvalidState, domain.KindAlreadyExists:
		return http.StatusConflict
	case domain.KindResourceLimit:
		return http.StatusTooManyRequests
	case domain.KindInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.KindNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind domain.Kind, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    kind,
		},
	})
}

// fail reports a component error. Internal causes never reach the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()), "err", err)
	}
	writeError(w, status, kind, domain.Reason(err))
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+CallerHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
