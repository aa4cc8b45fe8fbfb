// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
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

	"github.com/churnsight/churnsight/internal/config"
	"github.com/churnsight/churnsight/internal/feature"
	"github.com/churnsight/churnsight/internal/health"
	"github.com/churnsight/churnsight/internal/history"
	"github.com/churnsight/churnsight/internal/logging"
	"github.com/churnsight/churnsight/internal/metrics"
	"github.com/churnsight/churnsight/internal/pipeline"
	"github.com/churnsight/churnsight/internal/ratelimit"
	"github.com/churnsight/churnsight/internal/realtime"
	"github.com/churnsight/churnsight/internal/rules"
	"github.com/churnsight/churnsight/internal/security"
	"github.com/churnsight/churnsight/internal/traces"
	"github.com/churnsight/churnsight/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	pipeline     *pipeline.Pipeline
	history      *history.Service
	realtimeHub  *realtime.Hub
	healthChecks *health.Registry
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory history
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithPipeline injects a pre-built scoring pipeline (for testing)
func WithPipeline(pl *pipeline.Pipeline) Option {
	return func(s *Server) {
		s.pipeline = pl
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	// Apply options first (may set pipeline/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Load model artifacts unless a pipeline was injected. A broken or
	// missing artifact is fatal: the process must not serve without both
	// models.
	if s.pipeline == nil {
		pl, err := pipeline.Load(cfg.ModelDir, cfg.PrimaryModel, cfg.SecondaryModel, s.logger)
		if err != nil {
			return nil, fmt.Errorf("load scoring pipeline: %w", err)
		}
		s.pipeline = pl
	}
	s.logger.Info("scoring pipeline loaded",
		"primary", cfg.PrimaryModel,
		"secondary", cfg.SecondaryModel,
		"features", s.pipeline.Schema().Len(),
	)

	// Initialize history storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		store := history.NewPostgresStore(db)
		if err := store.Migrate(context.Background()); err != nil {
			s.logger.Warn("failed to migrate history store", "error", err)
		}
		s.history = history.NewService(store)
		s.logger.Info("using PostgreSQL history storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.history = history.NewService(history.NewMemoryStore())
		s.logger.Info("using in-memory history storage (data will not persist)")
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	s.setupHealthChecks()

	// Configure gin
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

func (s *Server) setupHealthChecks() {
	s.healthChecks = health.NewRegistry()

	s.healthChecks.Register("models", func(ctx context.Context) health.Status {
		infos := s.pipeline.Models()
		if len(infos) != 2 {
			return health.Status{Name: "models", Healthy: false, Detail: "pipeline incomplete"}
		}
		return health.Status{Name: "models", Healthy: true}
	})

	s.healthChecks.Register("history", func(ctx context.Context) health.Status {
		if s.db != nil {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "history", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "history", Healthy: true, Detail: "postgres"}
		}
		return health.Status{Name: "history", Healthy: true, Detail: "memory"}
	})
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

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
	})
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

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/healthz/live", s.livenessHandler)
	s.router.GET("/healthz/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time score streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.RecordIDParamMiddleware())

	v1.POST("/predict", s.predictHandler)
	v1.GET("/model-info", s.modelInfoHandler)

	historyHandler := history.NewHandler(s.history)
	historyHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// predictHandler handles POST /v1/predict. The profile is an open attribute
// map: unknown keys are ignored and missing or malformed values fall back to
// schema defaults, so the only client error is a body that is not a JSON
// object at all.
func (s *Server) predictHandler(c *gin.Context) {
	ctx := c.Request.Context()

	var profile map[string]any
	if err := c.ShouldBindJSON(&profile); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be a JSON object of profile attributes",
		})
		return
	}
	if verrs := validation.Validate(validation.ProfileSize(profile)); len(verrs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": verrs.Error(),
		})
		return
	}

	ctx, span := traces.StartSpan(ctx, "predict",
		traces.Model(s.cfg.PrimaryModel),
	)
	defer span.End()

	result := s.pipeline.Run(ctx, feature.Profile(profile))

	// Persist the scored request. History failures must not fail the
	// prediction itself.
	var historyID string
	rawProfile, err := jsonRawProfile(profile)
	if err == nil {
		rec, err := s.history.Append(ctx, &history.Record{
			Profile:              rawProfile,
			PrimaryModel:         result.Primary.Model,
			PrimaryProbability:   result.Primary.Probability,
			SecondaryModel:       result.Secondary.Model,
			SecondaryProbability: result.Secondary.Probability,
			Decision:             result.Primary.Decision,
			RiskTier:             string(result.Primary.RiskTier),
			Recommendations:      jsonRawBundle(result.Bundle),
			DefaultedFields:      result.DefaultedFields,
		})
		if err != nil {
			logging.L(ctx).Error("failed to record score history", "error", err)
		} else {
			historyID = rec.ID
			span.SetAttributes(traces.RecordID(rec.ID))
		}
	}

	// Stream to subscribers
	s.realtimeHub.BroadcastScore(realtime.ScoreEvent{
		ID:          historyID,
		Model:       result.Primary.Model,
		Probability: result.Primary.Probability,
		Decision:    result.Primary.Decision,
		RiskTier:    string(result.Primary.RiskTier),
	})

	c.JSON(http.StatusOK, gin.H{
		"request_id": logging.RequestID(ctx),
		"history_id": historyID,
		"primary":    result.Primary,
		"secondary":  result.Secondary,
		"explanations": gin.H{
			"primary":   result.PrimaryExplanation,
			"secondary": result.SecondaryExplanation,
		},
		"recommendations":  result.Bundle,
		"defaulted_fields": result.DefaultedFields,
	})
}

// modelInfoHandler handles GET /v1/model-info
func (s *Server) modelInfoHandler(c *gin.Context) {
	schema := s.pipeline.Schema()
	c.JSON(http.StatusOK, gin.H{
		"models":             s.pipeline.Models(),
		"feature_columns":    schema.Names(),
		"decision_threshold": 0.5,
		"risk_tiers": gin.H{
			"medium_bound": 0.3,
			"high_bound":   0.7,
		},
	})
}

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
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
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "ChurnSight",
		"description": "Customer churn scoring with explainable predictions",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTraces(shutdownCtx)
		}()
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

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Export DB pool stats while a database is attached
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the rate limiter's cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Close database connection
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router returns the gin engine (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// jsonRawProfile re-encodes the submitted profile for audit storage.
func jsonRawProfile(profile map[string]any) (json.RawMessage, error) {
	return json.Marshal(profile)
}

func jsonRawBundle(b rules.Bundle) json.RawMessage {
	data, err := json.Marshal(b)
	if err != nil {
		return nil
	}
	return data
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
