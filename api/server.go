package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tunishome/models"
)

type Controller interface {
	IsPaused() bool
	GetSiteIDs() []string
}

type PropertyCounter interface {
	Count(ctx context.Context) (int, error)
}

type StatsReader interface {
	NeighborhoodStats(ctx context.Context) ([]models.NeighborhoodStats, error)
}

// OpsStore is the SQLite side: run history and the command queue.
type OpsStore interface {
	LatestRuns(limit int) ([]models.ScrapeRun, error)
	RunLogs(runID int64) ([]models.ScrapeLog, error)
	CreateCommand(cmd models.CommandType, params *models.CommandParams) (int64, error)
}

type Server struct {
	httpServer *http.Server
	origins    []string
	controller Controller
	properties PropertyCounter
	stats      StatsReader
	ops        OpsStore
}

func NewServer(addr string, origins []string, controller Controller, properties PropertyCounter, stats StatsReader, ops OpsStore) *Server {
	s := &Server{
		origins:    origins,
		controller: controller,
		properties: properties,
		stats:      stats,
		ops:        ops,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/runs/{id}/logs", s.handleRunLogs)
		r.Get("/neighborhoods", s.handleNeighborhoods)
		r.Post("/commands", s.handleCreateCommand)
	})
	return r
}

func (s *Server) Start() error {
	slog.Info("starting API server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusResponse struct {
	Paused     bool               `json:"paused"`
	Sites      []string           `json:"sites"`
	Properties int                `json:"properties"`
	Runs       []models.ScrapeRun `json:"runs"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Paused: s.controller.IsPaused(),
		Sites:  s.controller.GetSiteIDs(),
	}

	n, err := s.properties.Count(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	resp.Properties = n

	runs, err := s.ops.LatestRuns(10)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	resp.Runs = runs

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid run id %q", chi.URLParam(r, "id")))
		return
	}
	logs, err := s.ops.RunLogs(id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if logs == nil {
		logs = []models.ScrapeLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleNeighborhoods(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.NeighborhoodStats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if stats == nil {
		stats = []models.NeighborhoodStats{}
	}
	writeJSON(w, http.StatusOK, stats)
}

type commandRequest struct {
	Command models.CommandType `json:"command"`
	Site    string             `json:"site,omitempty"`
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if !req.Command.Valid() {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("unknown command %q", req.Command))
		return
	}

	id, err := s.ops.CreateCommand(req.Command, &models.CommandParams{Site: req.Site})
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "command": req.Command})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
