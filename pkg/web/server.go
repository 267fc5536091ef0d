// Package web exposes a dispatcher pool over HTTP: job submission, pool
// stats, health and Prometheus metrics.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/dispatchio/dispatch/pkg/core"
	"github.com/dispatchio/dispatch/pkg/dispatch"
)

// Config configures the admin server.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sane timeouts for an operational endpoint.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// JobFunc is the body of a registered, submittable job.
type JobFunc func(ctx context.Context) error

// Server serves the admin API for one dispatcher pool.
type Server struct {
	config Config
	logger core.Logger
	pool   *dispatch.Dispatcher
	server *fasthttp.Server

	metricsHandler fasthttp.RequestHandler

	mu   sync.RWMutex
	jobs map[string]JobFunc
}

// NewServer creates the admin server for pool. metrics may be nil to disable
// the /metrics endpoint.
func NewServer(config Config, pool *dispatch.Dispatcher, logger core.Logger, metrics http.Handler) *Server {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	s := &Server{
		config: config,
		logger: logger,
		pool:   pool,
		jobs:   make(map[string]JobFunc),
	}
	if metrics != nil {
		s.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(metrics)
	}

	s.server = &fasthttp.Server{
		Handler:               s.handleRequest,
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		NoDefaultServerHeader: true,
	}
	return s
}

// RegisterJob makes a named job submittable through POST /submit. Register
// jobs before Start.
func (s *Server) RegisterJob(name string, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = fn
}

// Start listens on the configured address. Blocks until Shutdown.
func (s *Server) Start() error {
	s.logger.Infof("admin server listening on %s", s.config.Addr)
	return s.server.ListenAndServe(s.config.Addr)
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// handleRequest routes requests; panics in handlers become 500s instead of
// taking the connection down.
func (s *Server) handleRequest(ctx *fasthttp.RequestCtx) {
	requestID := core.GenerateTaskID()
	ctx.Response.Header.Set("X-Request-ID", requestID)

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(map[string]interface{}{
				"request_id": requestID,
				"method":     string(ctx.Method()),
				"path":       string(ctx.Path()),
			}).Errorf("panic recovered: %v", r)
			s.writeError(ctx, fasthttp.StatusInternalServerError, "internal server error")
		}
	}()

	path := string(ctx.Path())
	switch {
	case path == "/healthz" && ctx.IsGet():
		s.handleHealth(ctx)
	case path == "/stats" && ctx.IsGet():
		s.handleStats(ctx)
	case path == "/submit" && ctx.IsPost():
		s.handleSubmit(ctx, requestID)
	case path == "/metrics" && ctx.IsGet() && s.metricsHandler != nil:
		s.metricsHandler(ctx)
	default:
		s.writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	status := "ok"
	code := fasthttp.StatusOK
	if !s.pool.IsRunning() {
		status = "shutting down"
		code = fasthttp.StatusServiceUnavailable
	}
	s.writeJSON(ctx, code, map[string]interface{}{
		"status": status,
		"pool":   s.pool.Name(),
	})
}

func (s *Server) handleStats(ctx *fasthttp.RequestCtx) {
	stats := s.pool.Stats()
	s.writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"pool":         s.pool.Name(),
		"workers":      stats.Workers,
		"submitted":    stats.Submitted,
		"completed":    stats.Completed,
		"rejected":     stats.Rejected,
		"dropped":      stats.Dropped,
		"panicked":     stats.Panicked,
		"queue_depths": stats.QueueDepths,
	})
}

type submitRequest struct {
	Job string `json:"job"`
}

func (s *Server) handleSubmit(ctx *fasthttp.RequestCtx, requestID string) {
	var req submitRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Job == "" {
		s.writeError(ctx, fasthttp.StatusBadRequest, "body must be {\"job\": \"<name>\"}")
		return
	}

	s.mu.RLock()
	fn, ok := s.jobs[req.Job]
	s.mu.RUnlock()
	if !ok {
		s.writeError(ctx, fasthttp.StatusNotFound, fmt.Sprintf("unknown job %q", req.Job))
		return
	}

	taskID := core.GenerateTaskID()
	task := dispatch.NewNamedTask(req.Job, func(taskCtx context.Context) error {
		return fn(core.WithTaskID(taskCtx, taskID))
	})

	if err := s.pool.Submit(task); err != nil {
		s.logger.Warnf("submit %s rejected: %v", req.Job, err)
		s.writeError(ctx, fasthttp.StatusServiceUnavailable, "pool is shut down")
		return
	}

	s.logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"task_id":    taskID,
	}).Infof("job %s accepted", req.Job)

	s.writeJSON(ctx, fasthttp.StatusAccepted, map[string]interface{}{
		"task_id": taskID,
		"job":     req.Job,
	})
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		s.logger.Errorf("encoding response: %v", err)
	}
}

func (s *Server) writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	s.writeJSON(ctx, status, map[string]interface{}{"error": msg})
}
