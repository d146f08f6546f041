// Package httpapi exposes job submission and polling over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ctrace/internal/core"
	"ctrace/internal/store"
	"ctrace/internal/trace"
)

const (
	defaultMaxBodyBytes = 1 << 20
	defaultWatchTimeout = 5 * time.Minute
)

// Jobs is the part of core.Runner the API needs.
type Jobs interface {
	Submit(ctx context.Context, code string) (string, error)
	Poll(ctx context.Context, id string) (store.Job, error)
	Wait(ctx context.Context, id string) (store.Job, error)
}

// Ledger is the part of ledger.Ledger the API needs.
type Ledger interface {
	VerifyChain() error
	Len() int
}

type Options struct {
	Jobs Jobs
	// Ledger may be nil, which disables /ledger/verify.
	Ledger       Ledger
	MaxBodyBytes int64
	WatchTimeout time.Duration
	Logger       *slog.Logger
}

type server struct {
	jobs         Jobs
	ledger       Ledger
	maxBodyBytes int64
	watchTimeout time.Duration
	logger       *slog.Logger
}

type executeRequest struct {
	Code string `json:"code"`
}

type executeResponse struct {
	TaskID string `json:"task_id"`
}

type resultResponse struct {
	TaskID string      `json:"task_id"`
	Status string      `json:"status"`
	Result trace.Trace `json:"result"`
	Error  *string     `json:"error"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(opts Options) http.Handler {
	s := &server{
		jobs:         opts.Jobs,
		ledger:       opts.Ledger,
		maxBodyBytes: opts.MaxBodyBytes,
		watchTimeout: opts.WatchTimeout,
		logger:       opts.Logger,
	}
	if s.maxBodyBytes <= 0 {
		s.maxBodyBytes = defaultMaxBodyBytes
	}
	if s.watchTimeout <= 0 {
		s.watchTimeout = defaultWatchTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/execute", s.handleExecute)
	r.Get("/result/{task_id}", s.handleResult)
	r.Get("/result/{task_id}/watch", s.handleWatch)
	r.Get("/ledger/verify", s.handleVerifyLedger)
	return r
}

// POST /execute
func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.jobs.Submit(r.Context(), req.Code)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, executeResponse{TaskID: id})
	case errors.Is(err, core.ErrEmptySubmission):
		writeError(w, http.StatusBadRequest, "No code provided")
	case errors.Is(err, core.ErrSchedulerStopped):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
	case errors.Is(err, core.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
	default:
		s.logger.Error("submit failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// GET /result/{task_id}
func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	job, ok := s.poll(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toResult(job))
}

// poll writes the error response itself when it returns false.
func (s *server) poll(w http.ResponseWriter, r *http.Request) (store.Job, bool) {
	id := chi.URLParam(r, "task_id")
	job, err := s.jobs.Poll(r.Context(), id)
	if errors.Is(err, core.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return store.Job{}, false
	}
	if err != nil {
		s.logger.Error("poll failed", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return store.Job{}, false
	}
	return job, true
}

// GET /ledger/verify
func (s *server) handleVerifyLedger(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, http.StatusNotFound, "ledger disabled")
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		writeError(w, http.StatusInternalServerError, "ledger verification failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "blocks": s.ledger.Len()})
}

func toResult(job store.Job) resultResponse {
	resp := resultResponse{TaskID: job.ID, Status: string(job.Status)}
	switch job.Status {
	case store.StatusSuccess:
		resp.Result = job.Result
		if resp.Result == nil {
			resp.Result = trace.Trace{}
		}
	case store.StatusFailure:
		msg := job.Error
		resp.Error = &msg
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
