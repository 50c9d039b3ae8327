// Package api provides the node's HTTP API: views of live tasks,
// channels, disputes, workers, and the settlement journal, plus the
// operator mutations — posting tasks, registering workers, and
// local-mode deposits. Channel updates and dispute votes stay on the
// application services; they need the parties' signatures, not an
// operator endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskmesh-network/taskmesh/internal/app/channel"
	"github.com/taskmesh-network/taskmesh/internal/app/dispute"
	"github.com/taskmesh-network/taskmesh/internal/app/lifecycle"
	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/health"
	"github.com/taskmesh-network/taskmesh/internal/infra/registry"
	"github.com/taskmesh-network/taskmesh/internal/infra/reputation"
	"github.com/taskmesh-network/taskmesh/internal/infra/settlement"
	"github.com/taskmesh-network/taskmesh/internal/infra/sqlite"
)

// Version is the node software version reported by /api/version.
const Version = "0.1.0"

// Server is the marketplace HTTP API server.
type Server struct {
	tasks    *lifecycle.Manager
	channels *channel.Manager
	disputes *dispute.Resolver
	workers  *reputation.Ledger
	registry *registry.Registry
	ledger   *settlement.Ledger

	archive        *sqlite.DB      // Optional; nil disables archive lookups
	health         *health.Checker // Optional; nil makes /health static
	metricsEnabled bool
}

// NewServer creates an API server over the node's services.
func NewServer(tasks *lifecycle.Manager, channels *channel.Manager, disputes *dispute.Resolver,
	workers *reputation.Ledger, reg *registry.Registry, ledger *settlement.Ledger) *Server {
	return &Server{
		tasks:    tasks,
		channels: channels,
		disputes: disputes,
		workers:  workers,
		registry: reg,
		ledger:   ledger,
	}
}

// SetArchive wires the task archive and settlement journal store.
func (s *Server) SetArchive(db *sqlite.DB) { s.archive = db }

// SetHealth wires the periodic health checker into /health.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"version": Version,
			})
		})
		r.Get("/stats", s.handleStats)
		r.Post("/tasks", s.handlePostTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/workers/{addr}/register", s.handleRegisterWorker)
		r.Post("/accounts/{addr}/deposit", s.handleDeposit)
		r.Get("/channels/{id}", s.handleGetChannel)
		r.Get("/disputes/{id}", s.handleGetDispute)
		r.Get("/workers/{addr}", s.handleGetWorker)
		r.Get("/workers", s.handleFindWorkers)
		r.Get("/accounts/{addr}/journal", s.handleJournal)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Handlers ───────────────────────────────────────────────────────────────

// handleHealth reports node health: a plain ok without a checker, the
// full check results (and a 503 on any failure) with one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
		})
		return
	}

	status := http.StatusOK
	overall := "ok"
	if !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": s.health.Statuses(),
	})
}

// handleStats aggregates the node-wide view across all services.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"tasks":    s.tasks.Stats(),
		"channels": s.channels.Stats(),
		"disputes": s.disputes.Stats(),
		"workers":  s.workers.Stats(),
		"registry": map[string]int{"size": s.registry.Size()},
	}
	if s.archive != nil {
		if n, err := s.archive.CountArchived(); err == nil {
			stats["archived_tasks"] = n
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

// handlePostTask publishes a task, escrowing its bounty from the
// requester's ledger balance.
func (s *Server) handlePostTask(w http.ResponseWriter, r *http.Request) {
	var spec domain.TaskSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.tasks.PostTask(spec)
	switch {
	case errors.Is(err, domain.ErrInvalidTaskSpec):
		writeError(w, http.StatusBadRequest, "invalid task spec")
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, "insufficient funds for bounty escrow")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

// handleRegisterWorker locks the stake on the settlement ledger and
// records the worker; the lock rolls back if registration fails.
func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	var req struct {
		Stake        int64               `json:"stake"`
		Capabilities []domain.Capability `json:"capabilities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stake <= 0 {
		writeError(w, http.StatusBadRequest, "invalid registration request")
		return
	}

	if err := s.ledger.Lock(addr, req.Stake); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			writeError(w, http.StatusPaymentRequired, "insufficient funds to stake")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.workers.Register(addr, req.Stake, req.Capabilities); err != nil {
		s.ledger.Unlock(addr, req.Stake)
		switch {
		case errors.Is(err, domain.ErrWorkerExists):
			writeError(w, http.StatusConflict, "worker already registered")
		case errors.Is(err, domain.ErrInsufficientStake):
			writeError(w, http.StatusBadRequest, "stake below the market minimum")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"address": addr,
		"stake":   req.Stake,
	})
}

// handleDeposit credits an account's free balance — the stand-in for
// funds arriving from the external settlement ledger in local mode.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.ledger.Deposit(addr, req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, _ := s.ledger.Balance(addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"balance": balance,
	})
}

// handleGetTask serves live tasks first and falls back to the archive
// for settled ones.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.tasks.Get(id)
	if errors.Is(err, domain.ErrTaskNotFound) && s.archive != nil {
		t, err = s.archive.ArchivedTask(id)
	}
	if errors.Is(err, domain.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channels.Get(chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrChannelNotFound) {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	d, err := s.disputes.Get(chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrDisputeNotFound) {
		writeError(w, http.StatusNotFound, "dispute not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleGetWorker joins the reputation record with the worker's
// settlement balances.
func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")

	worker, err := s.workers.Get(addr)
	if errors.Is(err, domain.ErrWorkerNotFound) {
		writeError(w, http.StatusNotFound, "worker not registered")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	balance, _ := s.ledger.Balance(addr)
	writeJSON(w, http.StatusOK, map[string]any{
		"worker":            worker,
		"balance":           balance,
		"locked":            s.ledger.Locked(addr),
		"verification_mode": s.workers.VerificationFor(addr),
	})
}

// handleFindWorkers runs capability discovery:
// GET /api/workers?type=INFERENCE&min_speed=1.0&max_cost=500
func (s *Server) handleFindWorkers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := domain.Requirement{Type: domain.TaskType(q.Get("type"))}
	if v := q.Get("min_speed"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid min_speed")
			return
		}
		req.MinSpeed = f
	}
	if v := q.Get("max_cost"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid max_cost")
			return
		}
		req.MaxCost = n
	}

	candidates := s.registry.Find(req, s.workers.Reputation)
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

// handleJournal serves recent settlement journal entries for an account.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, "journal not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := s.archive.SettlementEntries(chi.URLParam(r, "addr"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}
