// Package server provides the bot's HTTP surface: the push webhook, the
// uptime root, health probes and metrics.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/devrev/tierbot/internal/health"
	"github.com/devrev/tierbot/internal/metrics"
	"github.com/devrev/tierbot/internal/middleware"
	"github.com/devrev/tierbot/internal/transport"
	"github.com/devrev/tierbot/internal/util/workerpool"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SecretHeader carries the webhook secret on every push
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateBytes = 1 << 20

// Config holds HTTP server configuration
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// WebhookSecret is required when a worker pool is given
	WebhookSecret string

	MetricsEnabled bool
	MetricsPath    string

	RateLimit float64
	RateBurst int
}

// Server represents the HTTP server
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	config     *Config
	provider   transport.Provider
	bot        *transport.Router
	pool       *workerpool.WorkerPool
	health     *health.HealthChecker
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	metrics    *metrics.Metrics

	// baseCtx outlives individual requests; pushed updates run under it
	baseCtx context.Context
}

// NewServer creates the HTTP server. The webhook route is registered only
// when pool is non-nil, i.e. in push mode.
func NewServer(
	cfg *Config,
	provider transport.Provider,
	bot *transport.Router,
	pool *workerpool.WorkerPool,
	checker *health.HealthChecker,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Server {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	router := mux.NewRouter()
	s := &Server{
		router: router,
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		config:   cfg,
		provider: provider,
		bot:      bot,
		pool:     pool,
		health:   checker,
		gatherer: gatherer,
		logger:   logger,
		metrics:  m,
		baseCtx:  context.Background(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	)

	s.router.HandleFunc("/", s.rootHandler).Methods(http.MethodGet, http.MethodHead)

	if s.health != nil {
		s.router.HandleFunc("/health/live", s.health.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.health.ReadinessHandler).Methods(http.MethodGet)
	}

	if s.config.MetricsEnabled && s.gatherer != nil {
		s.router.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	if s.pool != nil {
		var webhook http.Handler = http.HandlerFunc(s.webhookHandler)
		if s.config.RateLimit > 0 {
			webhook = middleware.NewRateLimiter(s.config.RateLimit, s.config.RateBurst, s.logger).Limit(webhook)
		}
		s.router.Handle("/webhook/{secret}", webhook).Methods(http.MethodPost)
	}
}

// rootHandler answers uptime checks and the self-ping
func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// webhookHandler accepts one pushed update and hands it to the worker pool
// without waiting for it to run. Anything that authenticates is
// acknowledged with 200, including bodies that do not parse, so the
// provider never redelivers junk. A full queue answers 429.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if !secretMatches(mux.Vars(r)["secret"], s.config.WebhookSecret) {
		http.NotFound(w, r)
		return
	}
	if !secretMatches(r.Header.Get(SecretHeader), s.config.WebhookSecret) {
		s.logger.Warn("Rejected webhook push with a bad secret header",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUpdateBytes))
	if err != nil {
		s.logger.Warn("Failed to read webhook body", zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	update, err := s.provider.ParseUpdate(body)
	if err != nil {
		s.metrics.RecordUpdate("unparsable", "push")
		s.logger.Warn("Dropping unparsable webhook body",
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.Int("bytes", len(body)),
			zap.Error(err))
		w.WriteHeader(http.StatusOK)
		return
	}

	err = s.pool.Submit(workerpool.Task{
		ID:      fmt.Sprintf("update-%d", update.ID),
		Context: s.baseCtx,
		Fn: func(ctx context.Context) error {
			s.bot.HandleUpdate(ctx, update)
			return nil
		},
	})
	switch {
	case errors.Is(err, workerpool.ErrQueueFull):
		// The provider redelivers anything not acknowledged with 2xx
		s.metrics.RecordUpdate("deferred", "push")
		w.Header().Set("Retry-After", "1")
		http.Error(w, "busy", http.StatusTooManyRequests)
		return
	case err != nil:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func secretMatches(got, want string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// Handler returns the http.Handler for the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.baseCtx = context.WithoutCancel(ctx)
	s.httpServer.BaseContext = func(net.Listener) context.Context { return s.baseCtx }

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("failed to start HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown stops accepting connections and waits for in-flight requests
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
