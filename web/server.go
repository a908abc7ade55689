// Package web serves stored benchmarks, tasks and queue depth over a
// read-only JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wgong/flowx/internal/logger"
	"github.com/wgong/flowx/internal/queue"
	"github.com/wgong/flowx/internal/storage"
	"github.com/wgong/flowx/internal/task"
)

const defaultListLimit = 20

// Config holds server configuration
type Config struct {
	Addr     string // e.g., ":8080"
	Storage  storage.Storage
	Queue    queue.Queue
	Gatherer prometheus.Gatherer
	Logger   *logger.Logger
}

// Server exposes the API. Queue and Gatherer are optional.
type Server struct {
	storage  storage.Storage
	queue    queue.Queue
	gatherer prometheus.Gatherer
	log      *logger.Logger
	server   *http.Server
}

// BenchmarkSummary is one row of the benchmark listing
type BenchmarkSummary struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Status      task.Status   `json:"status"`
	TaskCount   int           `json:"task_count"`
	ResultCount int           `json:"result_count"`
	SuccessRate float64       `json:"success_rate"`
	CreatedAt   time.Time     `json:"created_at"`
	Duration    time.Duration `json:"duration"`
}

// TaskDetail is a stored task with its result, if one was saved
type TaskDetail struct {
	Task   *task.Task   `json:"task"`
	Result *task.Result `json:"result,omitempty"`
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}

	s := &Server{
		storage:  cfg.Storage,
		queue:    cfg.Queue,
		gatherer: cfg.Gatherer,
		log:      cfg.Logger.WithComponent("web"),
	}
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed API with logging and CORS applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/benchmarks", s.handleBenchmarks)
	mux.HandleFunc("GET /api/benchmarks/{id}", s.handleBenchmarkDetail)
	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTaskDetail)
	mux.HandleFunc("GET /api/queue", s.handleQueue)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return s.withLogging(s.withCORS(mux))
}

// Start listens until Stop is called
func (s *Server) Start() error {
	s.log.Info("Starting API server", logger.Fields{"addr": s.server.Addr})
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleBenchmarks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := queryLimit(r)

	ids, err := s.storage.ListBenchmarks(ctx, limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]BenchmarkSummary, 0, len(ids))
	for _, id := range ids {
		b, err := s.storage.GetBenchmark(ctx, id)
		if err != nil {
			// expired since it was indexed
			continue
		}
		out = append(out, BenchmarkSummary{
			ID:          b.ID,
			Name:        b.Name,
			Status:      b.Status,
			TaskCount:   len(b.Tasks),
			ResultCount: len(b.Results),
			SuccessRate: b.Metrics.SuccessRate,
			CreatedAt:   b.CreatedAt,
			Duration:    b.Duration(),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"benchmarks": out,
		"total":      len(out),
	})
}

func (s *Server) handleBenchmarkDetail(w http.ResponseWriter, r *http.Request) {
	b, err := s.storage.GetBenchmark(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// handleTasks lists stored tasks for ?status= (completed by default)
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	status := task.StatusCompleted
	if v := r.URL.Query().Get("status"); v != "" {
		status = task.Status(v)
	}

	tasks, err := s.storage.GetTasksByStatus(r.Context(), status, queryLimit(r))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"tasks":  tasks,
		"total":  len(tasks),
	})
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	t, err := s.storage.GetTask(ctx, id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}

	detail := TaskDetail{Task: t}
	res, err := s.storage.GetResult(ctx, id)
	switch {
	case err == nil:
		detail.Result = res
	case !errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	sizes, err := s.queue.SizeByPriority(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	byName := make(map[string]int64, len(sizes))
	var total int64
	for p, n := range sizes {
		byName[queue.PriorityString(p)] = n
		total += n
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":     true,
		"depth":       total,
		"by_priority": byName,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	code := http.StatusOK

	if s.queue != nil {
		if err := s.queue.Health(r.Context()); err != nil {
			health["status"] = "unhealthy"
			health["queue_error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, health)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to encode response", logger.Fields{"error": err})
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func queryLimit(r *http.Request) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return defaultListLimit
}

// withLogging logs every request at debug level
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("Request served", logger.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

// withCORS allows read-only cross-origin access
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
