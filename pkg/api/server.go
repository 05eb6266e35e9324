package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/brainbox/pkg/bus"
	"github.com/cuemby/brainbox/pkg/controller"
	"github.com/cuemby/brainbox/pkg/log"
	"github.com/cuemby/brainbox/pkg/metrics"
	"github.com/cuemby/brainbox/pkg/runner"
	"github.com/cuemby/brainbox/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodySize bounds request bodies
const maxBodySize = 8 << 20

var (
	errRateLimited = errors.New("rate limit exceeded")
	errBadWait     = errors.New("wait must be a non-negative duration such as 30s")
)

// JobService admits tasks and reports on jobs
type JobService interface {
	Submit(ctx context.Context, tasks ...*types.Task) ([]string, error)
	Job(id string) (*types.Job, error)
	Jobs() []*types.Job
	Wait(ctx context.Context, id string) (*types.Job, error)
}

// DeciderService reports on and installs registered deciders
type DeciderService interface {
	Statuses() []controller.DeciderStatus
	Status(name string) (types.InstallationStatus, error)
	Reinstall(ctx context.Context, name string) error
}

// Config tunes the HTTP server
type Config struct {
	RateLimit float64       // Bus writes per second per client; 0 disables
	Burst     int           // Bus write burst per client
	MaxWait   time.Duration // Upper bound of a ?wait= long poll
}

// Server exposes jobs, deciders and the session bus over HTTP
type Server struct {
	jobs     JobService
	deciders DeciderService
	bus      *bus.Bus
	limiter  *RateLimiter
	maxWait  time.Duration
	mux      *http.ServeMux
	server   *http.Server
	logger   zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config, jobs JobService, deciders DeciderService, b *bus.Bus) *Server {
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	s := &Server{
		jobs:     jobs,
		deciders: deciders,
		bus:      b,
		limiter:  NewRateLimiter(cfg.RateLimit, cfg.Burst),
		maxWait:  cfg.MaxWait,
		mux:      http.NewServeMux(),
		logger:   log.WithComponent("api"),
	}

	// Session bus
	s.handle("POST /command/{session}/{type}", s.limited(s.handleCommand))
	s.handle("GET /updates/{session}/{lastID}", s.handleUpdates)
	s.handle("GET /heartbit", s.handleHeartbit)

	// Jobs
	s.handle("POST /tasks", s.handleSubmit)
	s.handle("GET /jobs", s.handleListJobs)
	s.handle("GET /jobs/{id}", s.handleGetJob)

	// Deciders
	s.handle("GET /deciders", s.handleListDeciders)
	s.handle("POST /deciders/{name}/install", s.handleInstall)

	// Health and metrics
	s.mux.Handle("GET /health", metrics.HealthHandler())
	s.mux.Handle("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /live", metrics.LivenessHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.server = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.Handle(pattern, instrument(s.logger, pattern, h))
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until Shutdown is called. Once Shutdown was called
// it returns at once.
func (s *Server) Start(addr string) error {
	s.server.Addr = addr

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")
	metrics.UpdateComponent(metrics.ComponentAPI, true, "listening on "+addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		metrics.UpdateComponent(metrics.ComponentAPI, false, err.Error())
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.server.Shutdown(ctx)
}

// handleCommand appends the request body to a session as one message
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeError(w, http.StatusBadRequest, errors.New("payload is not valid JSON"))
		return
	}

	id, err := s.bus.Push(r.PathValue("session"), r.PathValue("type"), body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, PushResponse{ID: id})
}

// handleUpdates returns the messages after lastID, optionally long polling
func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	lastID, err := strconv.ParseInt(r.PathValue("lastID"), 10, 64)
	if err != nil || lastID < 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid last id %q", r.PathValue("lastID")))
		return
	}
	wait, err := waitParam(r, s.maxWait)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session := r.PathValue("session")
	var msgs []*types.BusMessage
	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		msgs, err = s.bus.Wait(ctx, session, lastID)
		cancel()
	} else {
		msgs, err = s.bus.Updates(session, lastID)
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, NewUpdates(msgs))
}

func (s *Server) handleHeartbit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "OK")
}

// handleSubmit admits a task batch
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	tasks := make([]*types.Task, 0, len(req.Tasks))
	for _, tr := range req.Tasks {
		task, err := tr.Task()
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		tasks = append(tasks, task)
	}

	ids, err := s.jobs.Submit(r.Context(), tasks...)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.logger.Info().Int("tasks", len(ids)).Msg("Tasks submitted")
	writeJSON(w, http.StatusAccepted, SubmitResponse{JobIDs: ids})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.Jobs())
}

// handleGetJob returns a job; with ?wait= it returns once the job is terminal
// or the wait elapsed, whichever comes first
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wait, err := waitParam(r, s.maxWait)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		job, err := s.jobs.Wait(ctx, id)
		cancel()
		if err == nil {
			writeJSON(w, http.StatusOK, job)
			return
		}
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			writeError(w, statusFor(err), err)
			return
		}
	}

	job, err := s.jobs.Job(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListDeciders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deciders.Statuses())
}

// handleInstall clears a recorded install failure and installs the decider
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	installErr := s.deciders.Reinstall(r.Context(), name)

	var unknown *types.UnknownDeciderError
	if errors.As(installErr, &unknown) {
		writeError(w, http.StatusNotFound, installErr)
		return
	}

	status, err := s.deciders.Status(name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := InstallResponse{Name: name, Status: status}
	code := http.StatusOK
	if installErr != nil {
		resp.Error = installErr.Error()
		code = http.StatusBadGateway
		s.logger.Warn().Err(installErr).Str("decider", name).Msg("Install failed")
	}
	writeJSON(w, code, resp)
}

// statusFor maps an error onto an HTTP status code
func statusFor(err error) int {
	var (
		graphErr   *types.TaskGraphError
		configErr  *types.ConfigurationError
		unknownErr *types.UnknownDeciderError
	)
	switch {
	case errors.As(err, &graphErr), errors.As(err, &configErr), errors.As(err, &unknownErr):
		return http.StatusBadRequest
	case errors.Is(err, bus.ErrInvalidSession):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runner.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var (
		graphErr  *types.TaskGraphError
		configErr *types.ConfigurationError
	)
	switch {
	case errors.As(err, &graphErr):
		resp.Kind = "TaskGraphError"
	case errors.As(err, &configErr):
		resp.Kind = types.KindConfiguration
	default:
		var unknownErr *types.UnknownDeciderError
		if errors.As(err, &unknownErr) {
			resp.Kind = types.KindUnknownDecider
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
