// Package api provides the HTTP API the UI shell drives the pet through.
// GET endpoints report state; POST endpoints are user intents.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/wooligotchi/internal/chain"
	"github.com/talgya/wooligotchi/internal/engine"
	"github.com/talgya/wooligotchi/internal/events"
	"github.com/talgya/wooligotchi/internal/game"
	"github.com/talgya/wooligotchi/internal/lives"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/wool"
)

const maxSSEConns = 4

// LeaderboardSource serves the WOOL leaderboard.
type LeaderboardSource interface {
	Leaderboard(ctx context.Context, limit int) ([]remote.LeaderboardRow, error)
}

// EventLog serves recent bus events.
type EventLog interface {
	RecentEvents(limit int) ([]events.Event, error)
}

// Server serves the session over HTTP.
type Server struct {
	Session  *game.Session
	Eng      *engine.Engine
	Wallet   chain.Wallet      // connected by POST /api/v1/wallet. Nil = wallet endpoints disabled.
	Board    LeaderboardSource // Nil = leaderboard disabled.
	Events   EventLog
	Gatherer prometheus.Gatherer
	Addr     string
	RelayKey string // Bearer token for the SSE stream. Empty = stream open.
	TestMode bool   // registers the debug endpoints
	Limiter  *RateLimiter
	Now      func() time.Time

	// Active SSE connection count (atomic).
	sseConns int32
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Gatherer == nil {
		s.Gatherer = prometheus.DefaultGatherer
	}
	collect := s.handleCollect
	transfer := s.handleTransfer
	if s.Limiter != nil {
		collect = RateLimitMiddleware(s.Limiter, collect)
		transfer = RateLimitMiddleware(s.Limiter, transfer)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /api/v1/wallet", s.handleWallet)
	mux.HandleFunc("POST /api/v1/action", s.handleAction)
	mux.HandleFunc("POST /api/v1/animation", s.handleAnimation)
	mux.HandleFunc("POST /api/v1/collect", collect)
	mux.HandleFunc("POST /api/v1/revive", s.handleRevive)
	mux.HandleFunc("POST /api/v1/transfer/request", s.handleTransferRequest)
	mux.HandleFunc("POST /api/v1/transfer", transfer)

	if s.TestMode {
		mux.HandleFunc("POST /api/v1/debug/wool-force", s.handleWoolForce)
	}
	return CORSMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server is
// used for shutdown.
func (s *Server) Start() *http.Server {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "test_mode", s.TestMode, "relay_auth", s.RelayKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"name":     "Wooligotchi",
		"snapshot": s.Session.Snapshot(s.Now()),
	}
	if s.Eng != nil {
		status["tick"] = atomic.LoadUint64(&s.Eng.Tick)
		status["running"] = s.Eng.Running()
		status["skipped_polls"] = s.Eng.SkippedPolls()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Connected bool `json:"connected"`
	}
	if !decode(w, r, &req) {
		return
	}
	if !req.Connected {
		s.Session.Disconnect()
		writeJSON(w, http.StatusOK, s.Session.Snapshot(s.Now()))
		return
	}
	if s.Wallet == nil {
		http.Error(w, "no wallet configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.Session.Connect(s.Wallet); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot(s.Now()))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if !decode(w, r, &req) {
		return
	}
	if _, err := s.Session.ApplyAction(req.Action); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot(s.Now()))
}

func (s *Server) handleAnimation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Animation string `json:"animation"`
	}
	if !decode(w, r, &req) {
		return
	}
	st, err := s.Session.SetAnimation(req.Animation)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"animation": st.Animation})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	v, err := s.Session.RequestCollection(r.Context())
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"ok": false, "wool": v, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "wool": v})
}

func (s *Server) handleRevive(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Session.RequestRevive(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot(s.Now()))
}

func (s *Server) handleTransferRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.Session.RequestTransfer(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenID string `json:"token_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	tokenID, ok := new(big.Int).SetString(req.TokenID, 10)
	if !ok || tokenID.Sign() < 0 {
		http.Error(w, "token_id must be a non-negative decimal integer", http.StatusBadRequest)
		return
	}
	txID, err := s.Session.SubmitTransfer(r.Context(), tokenID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"tx": txID, "snapshot": s.Session.Snapshot(s.Now())})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.Board == nil {
		http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	limit := queryLimit(r, 100, 500)
	rows, err := s.Board.Leaderboard(r.Context(), limit)
	if err != nil {
		slog.Warn("leaderboard fetch failed", "error", err)
		http.Error(w, "leaderboard unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, remote.Leaderboard{OK: true, Rows: rows})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil {
		writeJSON(w, http.StatusOK, []events.Event{})
		return
	}
	evs, err := s.Events.RecentEvents(queryLimit(r, 50, 500))
	if err != nil {
		slog.Error("event history read failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleWoolForce(w http.ResponseWriter, r *http.Request) {
	var req struct {
		On bool `json:"on"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.Session.ForceCollection(req.On); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot(s.Now()).Wool)
}

// handleStream provides an SSE endpoint for the rendering and audio
// collaborators. Limits concurrent connections.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.RelayKey != "" && !checkBearerToken(r, s.RelayKey) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Connection limit.
	current := atomic.AddInt32(&s.sseConns, 1)
	if current > maxSSEConns {
		atomic.AddInt32(&s.sseConns, -1)
		http.Error(w, "too many SSE connections", http.StatusServiceUnavailable)
		return
	}
	defer atomic.AddInt32(&s.sseConns, -1)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// The bus delivers synchronously; a slow client drops events rather
	// than stalling the simulation.
	ch := make(chan events.Event, 64)
	unsubscribe := s.Session.Bus().Subscribe(func(e events.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsubscribe()

	writeSSE(w, "snapshot", s.Session.Snapshot(s.Now()))
	flusher.Flush()
	slog.Info("SSE client connected", "remote", ClientIP(r))

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case e := <-ch:
			writeSSE(w, string(e.Kind), e)
			flusher.Flush()
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			slog.Info("SSE client disconnected", "remote", ClientIP(r))
			return
		}
	}
}

// writeSSE writes a single event in SSE format.
func writeSSE(w http.ResponseWriter, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, data)
}

func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func queryLimit(r *http.Request, def, ceiling int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= ceiling {
			return n
		}
	}
	return def
}

// statusFor maps core errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownAction):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrNotConnected), errors.Is(err, lives.ErrNotConnected),
		errors.Is(err, chain.ErrNoWallet), errors.Is(err, wool.ErrNoOwner):
		return http.StatusPreconditionRequired
	case errors.Is(err, game.ErrNotPlayable), errors.Is(err, game.ErrRejected),
		errors.Is(err, wool.ErrDisabled), errors.Is(err, wool.ErrDailyCap):
		return http.StatusConflict
	case errors.Is(err, wool.ErrInFlight):
		return http.StatusTooManyRequests
	case errors.Is(err, wool.ErrSignature):
		return http.StatusUnauthorized
	case errors.Is(err, wool.ErrTestModeOnly):
		return http.StatusForbidden
	case errors.Is(err, wool.ErrRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
