// Package api exposes the webhook and REST surface of the signal engine
package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"signal_trader/internal/config"
	"signal_trader/internal/core"
	"signal_trader/internal/journal"
	"signal_trader/internal/signal"
	"signal_trader/pkg/liveserver"
	"signal_trader/pkg/telemetry"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
)

// accountWeight is the full weight of the account semaphore. Account-wide operations take all of it.
const accountWeight = 1 << 20

// SignalValidator turns a raw webhook payload into an intent
type SignalValidator interface {
	Validate(ctx context.Context, raw *signal.RawSignal) (*signal.SignalIntent, error)
}

// SignalHandler executes intents against the account
type SignalHandler interface {
	HandleSignal(ctx context.Context, intent *signal.SignalIntent) (*core.InstrumentStatusReport, error)
	HandleMaintenance(ctx context.Context) (*core.InstrumentStatusReport, error)
	Status(ctx context.Context, instID string) (*core.InstrumentStatusReport, error)
}

// Journal persists processed signals
type Journal interface {
	Record(ctx context.Context, e *journal.Entry) error
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Broadcaster pushes messages to dashboard clients
type Broadcaster interface {
	Broadcast(msg liveserver.Message)
}

// Server is the gin HTTP server
type Server struct {
	router    *gin.Engine
	srv       *http.Server
	cfg       config.ServerConfig
	validator SignalValidator
	handler   SignalHandler
	journal   Journal
	feed      Broadcaster
	health    core.IHealthMonitor
	metrics   *telemetry.MetricsHolder
	logger    core.ILogger

	// account serializes account-wide operations against per-instrument ones
	account *semaphore.Weighted
	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted

	mu sync.Mutex
}

// Option customizes a Server
type Option func(*Server)

// WithJournal records every processed signal
func WithJournal(j Journal) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// WithFeed broadcasts outcomes to the dashboard
func WithFeed(b Broadcaster) Option {
	return func(s *Server) {
		s.feed = b
	}
}

// WithHealth serves /health from monitor
func WithHealth(monitor core.IHealthMonitor) Option {
	return func(s *Server) {
		s.health = monitor
	}
}

// WithMetrics overrides the global metrics holder
func WithMetrics(m *telemetry.MetricsHolder) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer builds the router
func NewServer(cfg config.ServerConfig, validator SignalValidator, handler SignalHandler, logger core.ILogger, opts ...Option) *Server {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		validator: validator,
		handler:   handler,
		logger:    logger.WithField("component", "api_server"),
		account:   semaphore.NewWeighted(accountWeight),
		locks:     make(map[string]*semaphore.Weighted),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = telemetry.GetGlobalMetrics()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || containsWildcard(cfg.AllowedOrigins) {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Webhook-Token"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	s.router = router
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.GET("/status/:instId", s.handleStatus)
	v1.GET("/journal", s.handleJournal)

	protected := v1.Group("", s.requireToken())
	protected.POST("/signal", s.handleSignal)
	protected.POST("/maintenance", s.handleMaintenance)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on port until ctx is done
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("Starting API server", "port", s.cfg.APIPort)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Stopping API server")
		return srv.Shutdown(shutdownCtx)
	}
}

// requireToken checks X-Webhook-Token or ?token= against the configured token.
// An empty configured token disables the check.
func (s *Server) requireToken() gin.HandlerFunc {
	expected := []byte(s.cfg.WebhookToken.Reveal())
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		token := c.GetHeader("X-Webhook-Token")
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			s.logger.Warn("Rejected request with invalid webhook token", "remote_addr", c.ClientIP(), "path", c.Request.URL.Path)
			errorResponse(c, http.StatusUnauthorized, "unauthorized", "invalid webhook token")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// lock serializes work on instID. An empty instID locks the whole account.
func (s *Server) lock(ctx context.Context, instID string) (func(), error) {
	if instID == "" {
		if err := s.account.Acquire(ctx, accountWeight); err != nil {
			return nil, err
		}
		return func() { s.account.Release(accountWeight) }, nil
	}

	if err := s.account.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	key := strings.ToUpper(strings.TrimSpace(instID))
	s.locksMu.Lock()
	sem, ok := s.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[key] = sem
	}
	s.locksMu.Unlock()

	if err := sem.Acquire(ctx, 1); err != nil {
		s.account.Release(1)
		return nil, err
	}
	return func() {
		sem.Release(1)
		s.account.Release(1)
	}, nil
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
