// Package control implements the engine's JSON/HTTP control surface
// (spec.md §6, SPEC_FULL.md §4.10): live statistics, graceful-shutdown
// invocation, and configuration-reload awaiting. Grounded on
// exchange-matching/cmd/matching/main.go's requireInternalAuth middleware and
// mux wiring, exchange-admin/internal/killswitch.KillSwitch (the
// halt/resume semantics graceful shutdown generalizes), and
// exchange-common/pkg/response for the JSON error envelope.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/exchange/engine/internal/eventbus"
	"github.com/exchange/engine/internal/lifetime"
	"github.com/exchange/engine/internal/logging"
	"github.com/exchange/engine/internal/pool"
	"github.com/exchange/engine/internal/reservation"
	"github.com/exchange/engine/internal/xerrors"
)

// Stats is the payload returned by GET /v1/stats.
type Stats struct {
	OpenOrders          int `json:"openOrders"`
	ActiveReservations  int `json:"activeReservations"`
	EventBusSubscribers int `json:"eventBusSubscribers"`
	EventBusLagged      int `json:"eventBusLagged"`
}

// ReloadFunc re-reads external configuration and returns once the reload has
// taken effect, or an error if it failed. POST /v1/config/reload awaits it.
type ReloadFunc func(ctx context.Context) error

// Server is the engine's internal control-plane HTTP server. Every endpoint
// except /health requires the X-Internal-Token header to match Token,
// mirroring exchange-matching/cmd/matching/main.go's requireInternalAuth.
type Server struct {
	Pool        *pool.Pool
	Ledger      *reservation.Ledger
	Bus         *eventbus.Bus
	Lifetime    *lifetime.Manager
	Logger      *logging.Logger
	Token       string
	ReloadTimeout time.Duration
	Reload      ReloadFunc

	mu         sync.Mutex
	reloading  bool
}

// Handler builds the control-surface http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/stats", s.auth(s.handleStats))
	mux.HandleFunc("/v1/shutdown", s.auth(s.handleShutdown))
	mux.HandleFunc("/v1/config/reload", s.auth(s.handleReload))
	return mux
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-Token") != s.Token || s.Token == "" {
			writeError(w, r, xerrors.New(xerrors.CodeAuthentication, "invalid or missing internal token"))
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "up"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	subs, lagged := 0, 0
	if s.Bus != nil {
		subs, lagged = s.Bus.Stats()
	}
	stats := Stats{
		EventBusSubscribers: subs,
		EventBusLagged:      lagged,
	}
	if s.Pool != nil {
		stats.OpenOrders = len(s.Pool.NotFinished())
	}
	if s.Ledger != nil {
		stats.ActiveReservations = s.Ledger.ActiveCount()
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleShutdown invokes LifetimeManager.SpawnGracefulShutdown. Idempotent:
// a second call while shutdown is already in progress is a harmless no-op
// (spec.md §4.5).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidParam, "POST required"))
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	reason := body.Reason
	if reason == "" {
		reason = "requested via control surface"
	}
	s.Lifetime.SpawnGracefulShutdown(reason, lifetime.ActionStop)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutdown initiated"})
}

// handleReload awaits a configuration-reload barrier, bounded by
// ReloadTimeout. Concurrent reload requests are coalesced: a caller arriving
// while one is already in flight gets 400 (CodeInvalidParam) rather than
// triggering a second reload.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidParam, "POST required"))
		return
	}
	if s.Reload == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidParam, "reload not configured"))
		return
	}

	s.mu.Lock()
	if s.reloading {
		s.mu.Unlock()
		writeError(w, r, xerrors.New(xerrors.CodeInvalidParam, "reload already in progress"))
		return
	}
	s.reloading = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.reloading = false
		s.mu.Unlock()
	}()

	timeout := s.ReloadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	if err := s.Reload(ctx); err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).Warn("config reload failed")
		}
		writeError(w, r, xerrors.New(xerrors.CodeUnknown, err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, err *xerrors.Error) {
	payload := *err
	if reqID := r.Header.Get("X-Request-Id"); reqID != "" {
		w.Header().Set("X-Request-Id", reqID)
	}
	writeJSON(w, err.HTTPStatus(), &payload)
}
