// Package authority is the reference remote authority for lives and WOOL:
// it verifies signed collection requests, enforces the daily cap per owner,
// deduplicates by request id and records granted lives.
package authority

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/wooligotchi/internal/account"
	"github.com/talgya/wooligotchi/internal/api"
	"github.com/talgya/wooligotchi/internal/metrics"
	"github.com/talgya/wooligotchi/internal/persistence"
	"github.com/talgya/wooligotchi/internal/remote"
	"github.com/talgya/wooligotchi/internal/signing"
	"github.com/talgya/wooligotchi/internal/wool"
)

// DefaultDayGrace is how long after UTC midnight a request signed for the
// previous day is still accepted.
const DefaultDayGrace = 5 * time.Minute

const maxBodyBytes = 16 << 10

// ErrStaleDay indicates the signed day key is not the current UTC day.
var ErrStaleDay = errors.New("authority: stale day key")

// Store is the durable state the authority needs.
type Store interface {
	RecordCollection(c persistence.Collection) (remote.CollectResponse, error)
	WoolLedger(owner, day string) (total, dayCount int, err error)
	Leaderboard(limit int) ([]remote.LeaderboardRow, error)
	GrantLife(key account.Key, txID string, at time.Time) (granted int, applied bool, err error)
	GrantedLives(key account.Key) (int, error)
}

// Server serves the authority HTTP API.
type Server struct {
	Store    Store
	AdminKey string // Bearer token for /admin endpoints. Empty = admin disabled.
	Cap      int
	DayGrace time.Duration
	Limiter  *api.RateLimiter
	Metrics  *metrics.Core
	Now      func() time.Time
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	if s.Cap <= 0 {
		s.Cap = wool.DailyCap
	}
	if s.DayGrace <= 0 {
		s.DayGrace = DefaultDayGrace
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	collect := s.handleCollect
	if s.Limiter != nil {
		collect = api.RateLimitMiddleware(s.Limiter, collect)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /collect", collect)
	mux.HandleFunc("GET /ledger", s.handleLedger)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /lives", s.handleLives)
	mux.HandleFunc("POST /admin/lives", api.BearerOnly(s.AdminKey, s.handleGrant))
	return api.CORSMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "day": wool.DayKey(s.Now()), "cap": s.Cap})
}

func (s *Server) handleCollect(w http.ResponseWriter, r *http.Request) {
	var req signing.CollectionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.reject(w, http.StatusBadRequest, "bad_request", "invalid body")
		return
	}
	fields, err := signing.Verify(req)
	if err != nil {
		s.reject(w, http.StatusUnauthorized, "bad_signature", err.Error())
		return
	}
	now := s.Now()
	if err := s.checkDay(fields.Day, now); err != nil {
		s.reject(w, http.StatusOK, "stale_day", err.Error())
		return
	}

	owner := account.NormalizeAddress(fields.Owner)
	out, err := s.Store.RecordCollection(persistence.Collection{
		RequestID: fields.RequestID,
		Owner:     owner,
		Day:       fields.Day,
		Cap:       s.Cap,
		At:        now,
	})
	if err != nil {
		slog.Error("record collection failed", "owner", owner, "request", fields.RequestID, "error", err)
		s.reject(w, http.StatusInternalServerError, "store_error", "internal error")
		return
	}

	result := "collected"
	switch {
	case out.Replayed:
		result = "replayed"
	case out.Capped:
		result = "capped"
	}
	s.Metrics.ObserveAuthorityCollect(result)
	slog.Info("collection handled", "owner", owner, "day", fields.Day, "request", fields.RequestID,
		"result", result, "day_count", out.DayCount, "total", out.Total)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) reject(w http.ResponseWriter, status int, result, reason string) {
	s.Metrics.ObserveAuthorityCollect(result)
	writeJSON(w, status, remote.CollectResponse{Accepted: false, Error: reason})
}

// checkDay accepts today and, shortly after midnight, yesterday.
func (s *Server) checkDay(day string, now time.Time) error {
	today := wool.DayKey(now)
	if day == today {
		return nil
	}
	midnight := now.UTC().Truncate(24 * time.Hour)
	if day == wool.DayKey(midnight.Add(-time.Hour)) && now.Sub(midnight) < s.DayGrace {
		return nil
	}
	return fmt.Errorf("%w: %s (today %s)", ErrStaleDay, day, today)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	owner := account.NormalizeAddress(r.URL.Query().Get("address"))
	if owner == "" {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}
	day := wool.DayKey(s.Now())
	total, dayCount, err := s.Store.WoolLedger(owner, day)
	if err != nil {
		slog.Error("ledger read failed", "owner", owner, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, remote.LedgerView{Address: owner, Total: total, Day: day, DayCount: dayCount, Cap: s.Cap})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	rows, err := s.Store.Leaderboard(limit)
	if err != nil {
		slog.Error("leaderboard read failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, remote.Leaderboard{OK: true, Rows: rows})
}

func (s *Server) handleLives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chainID, err := strconv.ParseInt(q.Get("chainId"), 10, 64)
	if err != nil {
		http.Error(w, "chainId required", http.StatusBadRequest)
		return
	}
	key := account.NewKey(chainID, q.Get("address"))
	if key.Empty() {
		http.Error(w, "address required", http.StatusBadRequest)
		return
	}
	granted, err := s.Store.GrantedLives(key)
	if err != nil {
		slog.Error("lives read failed", "owner", key.String(), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, remote.LivesView{Address: key.Address, ChainID: key.NetworkID, Granted: granted})
}

func (s *Server) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req remote.GrantRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	key := account.NewKey(req.ChainID, req.Address)
	if key.Empty() || strings.TrimSpace(req.TxID) == "" {
		http.Error(w, "address and txId required", http.StatusBadRequest)
		return
	}
	granted, applied, err := s.Store.GrantLife(key, strings.ToLower(strings.TrimSpace(req.TxID)), s.Now())
	if err != nil {
		slog.Error("grant failed", "owner", key.String(), "tx", req.TxID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	slog.Info("life granted", "owner", key.String(), "tx", req.TxID, "applied", applied, "granted", granted)
	writeJSON(w, http.StatusOK, remote.GrantResponse{Granted: granted, Applied: applied})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
