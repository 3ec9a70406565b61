package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cwygoda/dropprint/internal/domain"
	"github.com/cwygoda/dropprint/internal/watcher"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Status is the body of GET /status.
type Status struct {
	State     string        `json:"state"`
	Directory string        `json:"directory"`
	Extension string        `json:"extension"`
	Backend   string        `json:"backend"`
	Pending   int           `json:"pending"`
	Stats     watcher.Stats `json:"stats"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    string        `json:"uptime"`

	History map[domain.JobStatus]int `json:"history,omitempty"`
}

// StatusFunc reports the daemon's live state.
type StatusFunc func() Status

// Server is the local status API.
type Server struct {
	repo   domain.JobRepository
	status StatusFunc
	router chi.Router
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new HTTP server.
func NewServer(repo domain.JobRepository, status StatusFunc, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		repo:   repo,
		status: status,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(requestLogger{logger: s.logger}))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/jobs", s.handleListJobs)
	s.router.Get("/jobs/{id}", s.handleGetJob)
}

// jobResponse is the JSON response for job endpoints.
type jobResponse struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	FileName   string `json:"file_name"`
	SizeBytes  int64  `json:"size_bytes"`
	Size       string `json:"size"`
	Status     string `json:"status"`
	Deleted    bool   `json:"deleted"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.status()
	if !st.StartedAt.IsZero() {
		st.Uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	jobs, err := s.repo.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list jobs failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobToResponse(&jobs[i]))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", "job_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.JobRecord) jobResponse {
	return jobResponse{
		ID:         job.ID,
		SourcePath: job.SourcePath,
		FileName:   job.FileName,
		SizeBytes:  job.SizeBytes,
		Size:       humanize.Bytes(uint64(job.SizeBytes)),
		Status:     string(job.Status),
		Deleted:    job.Deleted,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("status API listening", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}
