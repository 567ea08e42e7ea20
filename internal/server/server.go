// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/indranandjha1993/agentic-zerodha-platform/internal/agent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/approval"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/auth"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/broker"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/config"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/executor"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/health"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/intent"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/jobs"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/logging"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/metrics"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/notify"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/ratelimit"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/realtime"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/risk"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/run"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/secrets"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/security"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/telegram"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/traces"
	"github.com/indranandjha1993/agentic-zerodha-platform/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	agents    agent.Store
	intents   intent.Store
	policies  risk.Store
	runs      run.Store
	approvals approval.Store
	notifyDB  notify.Store

	authMgr         *auth.Manager
	executorService *executor.Service
	approvalEngine  *approval.Engine
	orchestrator    *approval.Orchestrator
	approvalSweeper *approval.Sweeper
	dispatcher      *notify.Dispatcher
	notifyRegistry  *notify.Registry
	notifyEmitter   *notify.Emitter
	notifySweeper   *notify.Sweeper
	runService      *run.Service
	realtimeHub     *realtime.Hub
	jobRunner       *jobs.Runner
	rateLimiter     *ratelimit.Limiter
	healthReg       *health.Registry

	testBroker broker.Broker // injected via WithBroker in tests

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithBroker injects a broker implementation (for testing)
func WithBroker(b broker.Broker) Option {
	return func(s *Server) {
		s.testBroker = b
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set logger/broker)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	crypto, err := secrets.New(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: %w", err)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.agents = agent.NewPostgresStore(db)
		s.intents = intent.NewPostgresStore(db)
		s.policies = risk.NewPostgresStore(db)
		s.runs = run.NewPostgresStore(db)
		s.approvals = approval.NewPostgresStore(db)
		s.notifyDB = notify.NewPostgresStore(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.agents = agent.NewMemoryStore()
		s.intents = intent.NewMemoryStore()
		s.policies = risk.NewMemoryStore()
		s.runs = run.NewMemoryStore()
		s.approvals = approval.NewMemoryStore()
		s.notifyDB = notify.NewMemoryStore()

		authStore := auth.NewMemoryStore()
		s.authMgr = auth.NewManager(authStore)
		s.logger.Info("using in-memory storage (data will not persist)")

		// Demo mode has no provisioning path, so mint a bootstrap operator key.
		if rawKey, _, err := s.authMgr.GenerateKey(ctx, "operator", "bootstrap", true); err == nil {
			s.logger.Info("bootstrap operator API key issued", "apiKey", rawKey)
		}
	}

	// Background job runner for async notification work
	s.jobRunner = jobs.NewRunner(4, 256, s.logger)

	// Realtime event hub
	s.realtimeHub = realtime.NewHub(s.logger)
	events := realtime.NewPublisher(s.realtimeHub)

	// Webhook notification pipeline
	s.dispatcher = notify.NewDispatcher(s.notifyDB, s.runs, s.agents, crypto, notify.Config{
		Timeout:          cfg.WebhookTimeout,
		MaxAttempts:      cfg.WebhookMaxAttempts,
		RetryBase:        cfg.WebhookRetryBase,
		RetryMax:         cfg.WebhookRetryMax,
		ResponseMaxChars: cfg.WebhookResponseMaxChars,
	})
	s.notifyRegistry = notify.NewRegistry(s.notifyDB, crypto)
	s.notifyEmitter = notify.NewEmitter(s.dispatcher, s.jobRunner, s.logger)
	s.notifySweeper = notify.NewSweeper(s.dispatcher, cfg.RedeliverySweepInterval, s.logger)

	// Analysis run lifecycle, fanning terminal transitions into webhooks
	s.runService = run.NewService(s.runs, s.agents, s.notifyEmitter)

	// Telegram approval notifications (optional)
	var notifier approval.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifier = telegram.NewNotifier(telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID))
		s.logger.Info("telegram approval notifications enabled")
	}

	// Approval orchestration and trade execution
	s.orchestrator = approval.NewOrchestrator(s.approvals, s.agents, notifier, s.jobRunner, events)

	b := s.testBroker
	if b == nil {
		kite := broker.NewKiteClient(cfg.KiteAPIKey, cfg.KiteAccessToken)
		if kite.Configured() {
			s.logger.Info("kite broker configured for live execution")
		} else {
			s.logger.Info("kite broker unconfigured, live orders will be simulated")
		}
		b = kite
	}

	s.executorService = executor.NewService(s.intents, s.agents, s.policies, risk.NewEngine(), s.orchestrator, b, events)
	s.approvalEngine = approval.NewEngine(s.approvals, s.intents, s.agents, s.executorService, events)
	s.approvalSweeper = approval.NewSweeper(s.approvalEngine, s.approvals, cfg.ApprovalSweepInterval, s.logger)

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("database", health.DBChecker(s.db))
	s.healthReg.Register("approval_sweeper", health.SweeperChecker("approval_sweeper", s.approvalSweeper.Running))
	s.healthReg.Register("redelivery_sweeper", health.SweeperChecker("redelivery_sweeper", s.notifySweeper.Running))

	// Set Gin mode based on environment
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthReg.Handler())
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time approval and execution events
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// AUTH INFO (public)
	authHandler := auth.NewHandler(s.authMgr)
	v1.GET("/auth/info", authHandler.Info)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.Middleware(s.authMgr))
	protected.Use(auth.RequireAuth(s.authMgr))
	{
		// API key management
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.GET("/auth/keys", authHandler.ListKeys)
		protected.POST("/auth/keys", authHandler.CreateKey)
		protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
		protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)

		agent.NewHandler(s.agents).RegisterProtectedRoutes(protected)
		risk.NewHandler(s.policies).RegisterProtectedRoutes(protected)
		executor.NewHandler(s.executorService, s.intents).RegisterProtectedRoutes(protected)
		approval.NewHandler(s.approvalEngine, s.approvals).RegisterProtectedRoutes(protected)
		run.NewHandler(s.runService).RegisterProtectedRoutes(protected)
		notify.NewHandler(s.notifyRegistry, s.notifyDB, s.dispatcher).RegisterProtectedRoutes(protected)
	}
}

// -----------------------------------------------------------------------------
// Info handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "agentic-zerodha-platform",
		"version":     "1.0.0",
		"description": "Approval-gated trade execution for autonomous agents",
		"endpoints": gin.H{
			"health":    "/healthz",
			"metrics":   "/metrics",
			"websocket": "/ws",
			"api":       "/v1",
		},
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// OpenTelemetry traces (no-op when endpoint unset)
	shutdownOTel, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownOTel = shutdownOTel
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start approval timeout sweeper
	go s.approvalSweeper.Start(runCtx)

	// Start webhook redelivery sweeper
	go s.notifySweeper.Start(runCtx)

	// Periodic DB pool gauges
	if s.db != nil {
		go metrics.CollectDBStats(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweepers)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop sweepers
	s.approvalSweeper.Stop()
	s.notifySweeper.Stop()
	s.logger.Info("sweepers stopped")

	// Drain pending notification jobs
	if s.jobRunner != nil {
		s.jobRunner.Stop()
		s.logger.Info("job runner drained")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// AuthManager returns the auth manager for testing
func (s *Server) AuthManager() *auth.Manager {
	return s.authMgr
}
