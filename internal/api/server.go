package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/KFearsoff/tailforward/internal/journal"
	"github.com/KFearsoff/tailforward/internal/pipeline"
)

// Runner processes one signed delivery. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Recorder persists delivery outcomes. *journal.Journal implements it.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) (string, error)
}

// Observer receives per-request measurements. *metrics.Metrics implements it.
type Observer interface {
	ObserveWebhook(stage, kind string, forwarded int, failed bool, elapsed time.Duration)
	Handler() http.Handler
}

// Config holds HTTP server configuration.
type Config struct {
	Listen          string
	WebhookPath     string
	SignatureHeader string
	MaxBodySize     int64
	// MetricsPath is only routed when an Observer is set.
	MetricsPath string
}

// Option configures optional collaborators.
type Option func(*Server)

// WithRecorder journals every delivery outcome.
func WithRecorder(r Recorder) Option {
	return func(s *Server) { s.recorder = r }
}

// WithObserver records metrics and serves them on Config.MetricsPath.
func WithObserver(o Observer) Option {
	return func(s *Server) { s.observer = o }
}

// Server represents the inbound HTTP server.
type Server struct {
	config    Config
	runner    Runner
	recorder  Recorder
	observer  Observer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new server instance.
func New(config Config, runner Runner, logger *slog.Logger, opts ...Option) *Server {
	if config.WebhookPath == "" {
		config.WebhookPath = "/"
	}
	if config.SignatureHeader == "" {
		config.SignatureHeader = "Tailscale-Webhook-Signature"
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = 1 << 20
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:    config,
		runner:    runner,
		logger:    logger,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second, // a batch posts one Telegram message per event
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("server starting",
		"listen", s.config.Listen,
		"webhook_path", s.config.WebhookPath,
		"metrics", s.observer != nil,
		"journal", s.recorder != nil,
	)

	// Run server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler. Each request gets a server span that
// the pipeline spans hang off.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.setupRoutes(), "tailforward.http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz"
		}),
	)
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.observer != nil {
		r.Method(http.MethodGet, s.config.MetricsPath, s.observer.Handler())
	}
	r.Post(s.config.WebhookPath, s.handleWebhook)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads and headers).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
