// Package api provides the HTTP API for the world simulation.
// GET endpoints are public (read-only observation). Action submission is
// rate limited per client. The tick trigger requires a bearer token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/harborsim/internal/persistence"
	"github.com/talgya/harborsim/internal/sim"
)

// Server serves the world state and action submission over HTTP.
type Server struct {
	Engine   *sim.Engine
	Store    *persistence.Store // Optional; ledger queries fall back to memory.
	Port     int
	AdminKey string // Bearer token for admin POST endpoints. Empty = disabled.

	// Per-wallet write budget. Nil means unlimited.
	limiter *Limiter
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	// Action submissions are the write path; keep bots honest.
	s.limiter = NewLimiter(120, time.Minute)

	mux := http.NewServeMux()

	// Public read endpoints.
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agent/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/ledger", s.handleLedger)

	// Write endpoints, throttled per wallet.
	mux.HandleFunc("/api/v1/register", s.handleRegister)
	mux.HandleFunc("/api/v1/action", s.handleAction)

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/tick", s.adminOnly(s.handleTick))

	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		handler := corsMiddleware(mux)
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// corsMiddleware adds CORS headers for allowed frontend origins. Set
// CORS_ORIGINS to a comma-separated list; localhost dev servers are always
// allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowWrite charges one write-budget slot for the wallet, answering 429
// with a Retry-After header when the budget is spent.
func (s *Server) allowWrite(w http.ResponseWriter, wallet string) bool {
	if s.limiter == nil {
		return true
	}
	ok, wait := s.limiter.Allow(wallet)
	if !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}
	return ok
}

// checkBearerToken returns true if the request carries the admin token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no HARBORSIM_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Engine.State())
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	type agentSummary struct {
		Wallet     string     `json:"wallet"`
		Name       string     `json:"name"`
		Region     sim.Region `json:"region"`
		Energy     int        `json:"energy"`
		Reputation int        `json:"reputation"`
		Credits    int64      `json:"credits"`
		Inventory  int        `json:"inventory_total"`
	}

	agents := s.Engine.Agents()
	result := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		result = append(result, agentSummary{
			Wallet:     a.Wallet,
			Name:       a.Name,
			Region:     a.Region,
			Energy:     a.Energy,
			Reputation: a.Reputation,
			Credits:    a.Credits,
			Inventory:  a.TotalInventory(),
		})
	}
	writeJSON(w, result)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	wallet := strings.TrimPrefix(r.URL.Path, "/api/v1/agent/")
	if wallet == "" {
		http.Error(w, "missing wallet", http.StatusBadRequest)
		return
	}

	agent, err := s.Engine.Agent(wallet)
	if err != nil {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, agent)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	// Prefer the durable ledger; fall back to the in-memory tail.
	if s.Store != nil {
		entries, err := s.Store.RecentLedger(limit)
		if err == nil {
			writeJSON(w, entries)
			return
		}
		slog.Warn("ledger query failed, serving in-memory tail", "error", err)
	}
	writeJSON(w, s.Engine.RecentLedger(limit))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Wallet string `json:"wallet"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Wallet == "" || req.Name == "" {
		http.Error(w, "wallet and name are required", http.StatusBadRequest)
		return
	}
	if !s.allowWrite(w, req.Wallet) {
		return
	}

	agent := s.Engine.Register(req.Wallet, req.Name)
	writeJSON(w, agent)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Wallet string     `json:"wallet"`
		Action string     `json:"action"`
		Params sim.Params `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Wallet == "" || req.Action == "" {
		http.Error(w, "wallet and action are required", http.StatusBadRequest)
		return
	}
	if !s.allowWrite(w, req.Wallet) {
		return
	}
	if req.Params == nil {
		req.Params = sim.Params{}
	}

	result, err := s.Engine.Resolve(req.Wallet, req.Action, req.Params)
	if errors.Is(err, sim.ErrAgentNotFound) {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("action resolution failed", "wallet", req.Wallet, "action", req.Action, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	summary := s.Engine.AdvanceTick()
	slog.Info("tick advanced via admin API", "tick", summary.Tick, "hash", summary.StateHash)
	writeJSON(w, summary)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
