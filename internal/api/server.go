package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/batchcrawl/internal/config"
	"github.com/JakeFAU/batchcrawl/internal/crawler"
	"github.com/JakeFAU/batchcrawl/internal/export"
	"github.com/JakeFAU/batchcrawl/internal/metrics"
	"github.com/JakeFAU/batchcrawl/internal/scheduler"
	"github.com/JakeFAU/batchcrawl/internal/store"
)

const (
	requestTimeout = 60 * time.Second
	readyTimeout   = 3 * time.Second
	maxBodyBytes   = 4 << 20
)

// Batches is the scheduler surface the handlers drive.
type Batches interface {
	Create(ctx context.Context, spec crawler.BatchSpec) (crawler.BatchJob, error)
	Start(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) error
	RetryFailed(ctx context.Context, id string) (int, error)
	RetryItem(ctx context.Context, itemID string) (crawler.BatchItem, error)
	Delete(ctx context.Context, id string) error
	Active(id string) bool
}

// Exporter renders a batch export document.
type Exporter interface {
	Export(ctx context.Context, id string) (export.Document, error)
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router   chi.Router
	batches  Batches
	store    store.BatchStore
	exporter Exporter
	defaults crawler.BatchSpec
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	batches Batches,
	st store.BatchStore,
	exporter Exporter,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		batches:  batches,
		store:    st,
		exporter: exporter,
		defaults: cfg.BatchDefaults(),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/batches", func(r chi.Router) {
			r.Post("/", s.createBatch)
			r.Get("/", s.listBatches)
			r.Route("/{batch_id}", func(r chi.Router) {
				r.Get("/", s.getBatch)
				r.Delete("/", s.deleteBatch)
				r.Post("/start", s.startBatch)
				r.Post("/pause", s.pauseBatch)
				r.Post("/retry-failed", s.retryFailed)
				r.Get("/export", s.exportBatch)
			})
		})
		r.Route("/items/{item_id}", func(r chi.Router) {
			r.Post("/retry", s.retryItem)
			r.Get("/error", s.itemError)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if _, err := s.store.ListBatches(ctx, store.BatchFilter{Limit: 1}); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// fail maps domain errors onto HTTP status codes. Unexpected errors are logged
// and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, crawler.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, crawler.ErrNoResults):
		status = http.StatusNotFound
	case errors.Is(err, crawler.ErrInvalidTransition),
		errors.Is(err, crawler.ErrBatchRunning),
		errors.Is(err, crawler.ErrItemNotRetryable):
		status = http.StatusConflict
	case errors.Is(err, scheduler.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, "internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", requestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
