// Package api serves the health endpoint and the refresh control surface.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/grandcru/winematch/internal/model"
	"github.com/grandcru/winematch/internal/refresh"
)

// Log tail bounds for GET /ops/refresh/log.
const (
	DefaultLogLines = 200
	MaxLogLines     = 2000
)

// OpsKeyHeader carries the operations API key.
const OpsKeyHeader = "X-Ops-Key"

// Refresher is the refresh runner surface the API drives.
type Refresher interface {
	Start(ctx context.Context, opts refresh.Options) (model.RefreshRun, error)
	Status() model.RefreshRun
	TailLog(lines int) refresh.LogTail
}

// HealthStore reports the persisted deal state.
type HealthStore interface {
	LatestIngestion(ctx context.Context) (*model.Ingestion, error)
	Counts(ctx context.Context) (deals, snapshots int64, err error)
}

// Config configures the Server.
type Config struct {
	// OpsAPIKey, when set, is required in the X-Ops-Key header of /ops routes.
	OpsAPIKey string
	// StaleAfter marks the latest ingestion stale once it is older than this.
	StaleAfter time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	cfg     Config
	refresh Refresher
	store   HealthStore
	now     func() time.Time
}

// New creates a Server. store may be nil, in which case /health reports only
// liveness.
func New(cfg Config, refresher Refresher, store HealthStore) *Server {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 24 * time.Hour
	}
	return &Server{cfg: cfg, refresh: refresher, store: store, now: time.Now}
}

// Routes returns the chi router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	r.Route("/ops", func(r chi.Router) {
		r.Use(s.requireOpsKey)
		r.Post("/refresh", s.startRefresh)
		r.Get("/refresh/status", s.refreshStatus)
		r.Get("/refresh/log", s.refreshLog)
	})
	return r
}

type healthResponse struct {
	Status          string           `json:"status"`
	DBOK            bool             `json:"db_ok"`
	TotalDeals      int64            `json:"total_deals"`
	TotalSnapshots  int64            `json:"total_snapshots"`
	IngestionStale  bool             `json:"ingestion_stale"`
	LatestIngestion *model.Ingestion `json:"latest_ingestion"`
	Error           string           `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	resp := healthResponse{Status: "ok", DBOK: true}
	deals, snapshots, err := s.store.Counts(r.Context())
	if err == nil {
		resp.TotalDeals, resp.TotalSnapshots = deals, snapshots
		resp.LatestIngestion, err = s.store.LatestIngestion(r.Context())
	}
	if err != nil {
		zap.L().Error("api: health", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "error", Error: "database unavailable"})
		return
	}
	resp.IngestionStale = s.stale(resp.LatestIngestion)
	writeJSON(w, http.StatusOK, resp)
}

// stale reports whether the last ingestion is missing, unfinished or older
// than StaleAfter.
func (s *Server) stale(in *model.Ingestion) bool {
	if in == nil || in.FinishedAt == nil {
		return true
	}
	return s.now().Sub(*in.FinishedAt) > s.cfg.StaleAfter
}

type refreshRequest struct {
	Mode         string `json:"mode"`
	HealthURL    string `json:"health_url"`
	StrictHealth bool   `json:"strict_health"`
}

func (s *Server) startRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Mode == "" {
		req.Mode = string(model.ModeDaily)
	}
	mode, err := refresh.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unsupported mode: "+req.Mode)
		return
	}

	st, err := s.refresh.Start(r.Context(), refresh.Options{
		Mode:         mode,
		HealthURL:    strings.TrimSpace(req.HealthURL),
		StrictHealth: req.StrictHealth,
		TriggeredBy:  refresh.TriggerAPI,
	})
	switch {
	case errors.Is(err, refresh.ErrAlreadyRunning):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "refresh already running",
			"status": st,
		})
	case err != nil:
		zap.L().Error("api: start refresh", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start refresh")
	default:
		writeJSON(w, http.StatusAccepted, st)
	}
}

func (s *Server) refreshStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.refresh.Status())
}

func (s *Server) refreshLog(w http.ResponseWriter, r *http.Request) {
	lines := DefaultLogLines
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxLogLines {
			writeError(w, http.StatusBadRequest, "lines must be between 1 and "+strconv.Itoa(MaxLogLines))
			return
		}
		lines = n
	}
	writeJSON(w, http.StatusOK, s.refresh.TailLog(lines))
}

func (s *Server) requireOpsKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.OpsAPIKey != "" {
			got := r.Header.Get(OpsKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.OpsAPIKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid ops key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
