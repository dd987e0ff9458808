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
	"github.com/redis/go-redis/v9"

	"github.com/perimeterhq/perimeter/internal/circuitbreaker"
	"github.com/perimeterhq/perimeter/internal/config"
	"github.com/perimeterhq/perimeter/internal/gateway"
	"github.com/perimeterhq/perimeter/internal/health"
	"github.com/perimeterhq/perimeter/internal/identity"
	"github.com/perimeterhq/perimeter/internal/logging"
	"github.com/perimeterhq/perimeter/internal/metrics"
	"github.com/perimeterhq/perimeter/internal/metricsource"
	"github.com/perimeterhq/perimeter/internal/quota"
	"github.com/perimeterhq/perimeter/internal/ratelimit"
	"github.com/perimeterhq/perimeter/internal/registry"
	"github.com/perimeterhq/perimeter/internal/security"
	"github.com/perimeterhq/perimeter/internal/tenant"
	"github.com/perimeterhq/perimeter/internal/traces"
	"github.com/perimeterhq/perimeter/internal/validation"
)

// Version identifiers, set via ldflags by the build.
var (
	Version = "dev"
	Commit  = "unknown"
)

// Per-IP floor applied in front of every route, independent of the
// per-tenant plan limits enforced inside the proxy pipeline.
const (
	ipRateLimit  = 600
	ipRateWindow = time.Minute
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	tenants    tenant.Store
	directory  *tenant.Directory
	identities *identity.Manager
	ledger     *quota.Ledger
	policies   *quota.CachedPolicies
	alerts     quota.AlertStore
	usage      quota.UsageStore
	enforcer   *quota.Enforcer
	monitor    *quota.Monitor
	services   registry.Store
	breaker    *circuitbreaker.Breaker
	limiter    ratelimit.Limiter
	ipLimiter  *ratelimit.LocalLimiter
	cache      gateway.Cache
	memCache   *gateway.ResponseCache
	recorder   *gateway.Recorder
	analytics  gateway.Store
	pipeline   *gateway.Pipeline
	checks     *health.Registry

	db            *sql.DB       // nil if using in-memory
	rdb           *redis.Client // nil if using the in-process limiter
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	startedAt     time.Time
	cancelRunCtx  context.CancelFunc          // cancels background goroutines started in Run
	tracesCleanup func(context.Context) error // flushes the tracer provider on shutdown

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logging.New(cfg.LogLevel, "json"),
		startedAt: time.Now(),
		checks:    health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.setupStorage(ctx); err != nil {
		return nil, err
	}
	if err := s.setupComponents(ctx); err != nil {
		return nil, err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()

	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupStorage opens Postgres if DATABASE_URL is set, otherwise the server
// runs entirely in memory. Redis is optional in the same way.
func (s *Server) setupStorage(ctx context.Context) error {
	if s.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to postgres", "dsn", maskDSN(s.cfg.DatabaseURL))

		s.checks.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	if s.cfg.RedisURL != "" {
		opt, err := redis.ParseURL(s.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		s.rdb = rdb
		s.logger.Info("connected to redis")

		s.checks.Register("redis", func(ctx context.Context) health.Status {
			st := health.Status{Name: "redis", Healthy: true}
			if err := rdb.Ping(ctx).Err(); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

	return nil
}

// setupComponents wires every subsystem against the chosen storage.
func (s *Server) setupComponents(ctx context.Context) error {
	var (
		identityStore identity.Store
		ledgerStore   quota.LedgerStore
		policyStore   quota.PolicyStore
	)

	if s.db != nil {
		if err := s.migrate(ctx); err != nil {
			return err
		}
		s.tenants = tenant.NewPostgresStore(s.db)
		identityStore = identity.NewPostgresStore(s.db)
		ledgerStore = quota.NewPostgresLedgerStore(s.db)
		policyStore = quota.NewPostgresPolicyStore(s.db)
		s.alerts = quota.NewPostgresAlertStore(s.db)
		s.usage = quota.NewPostgresUsageStore(s.db)
		s.services = registry.NewPostgresStore(s.db)
		s.analytics = gateway.NewPostgresStore(s.db)
	} else {
		s.logger.Warn("DATABASE_URL not set, using in-memory storage")
		s.tenants = tenant.NewMemoryStore()
		identityStore = identity.NewMemoryStore()
		ledgerStore = quota.NewMemoryLedgerStore()
		policyStore = quota.NewMemoryPolicyStore()
		s.alerts = quota.NewMemoryAlertStore()
		s.usage = quota.NewMemoryUsageStore()
		s.services = registry.NewMemoryStore()
		s.analytics = gateway.NewMemoryStore()
	}

	s.directory = tenant.NewDirectory(s.tenants, 0)
	s.identities = identity.NewManager(identityStore)
	s.ledger = quota.NewLedger(ledgerStore, s.usage, s.logger)
	s.policies = quota.NewCachedPolicies(policyStore, s.ledger)
	s.enforcer = quota.NewEnforcer(s.policies, s.alerts, s.logger)

	if s.cfg.EnforcerInterval > 0 {
		lister := quota.TenantListerFunc(func(ctx context.Context) ([]string, error) {
			tenants, err := s.tenants.List(ctx, 0)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(tenants))
			for i, t := range tenants {
				ids[i] = t.ID
			}
			return ids, nil
		})
		s.monitor = quota.NewMonitor(s.enforcer, metricsource.NewHostSource(""), lister, s.cfg.EnforcerInterval, s.logger)
	}

	if s.rdb != nil {
		s.limiter = ratelimit.NewRedisLimiter(s.rdb)
	} else {
		local := ratelimit.NewLocalLimiter()
		s.limiter = local
		s.ipLimiter = local
	}

	s.breaker = circuitbreaker.New(s.cfg.BreakerThreshold, s.cfg.BreakerRecovery)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit state change", "service", key, "from", from.String(), "to", to.String())
	})

	if s.rdb != nil {
		s.cache = gateway.NewRedisResponseCache(s.rdb, s.cfg.CacheTTL)
	} else {
		mem := gateway.NewResponseCache(s.cfg.CacheTTL)
		s.cache = mem
		s.memCache = mem
	}
	s.recorder = gateway.NewRecorder(s.analytics, s.cfg.AnalyticsQueue, s.logger)

	s.pipeline = gateway.NewPipeline(
		gateway.NewResolver(s.directory, s.cfg.BaseDomain),
		s.identities,
		s.limiter,
		s.ledger,
		s.services,
		s.breaker,
		gateway.NewForwarder(s.cfg.ProxyTimeout),
		s.cache,
		s.recorder,
	)

	return nil
}

// migrate creates the schema on startup. Production deployments run the
// versioned migrations in migrations/ instead.
func (s *Server) migrate(ctx context.Context) error {
	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"tenants", tenant.NewPostgresStore(s.db).Migrate},
		{"identity", identity.NewPostgresStore(s.db).Migrate},
		{"quota", func(ctx context.Context) error { return quota.MigratePostgres(ctx, s.db) }},
		{"registry", registry.NewPostgresStore(s.db).Migrate},
		{"gateway", gateway.NewPostgresStore(s.db).Migrate},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", step.name, err)
		}
	}
	return nil
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

	// CORS
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Per-IP rate limiting
	s.router.Use(ratelimit.Middleware(s.limiter, ipRateLimit, ipRateWindow))

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

// adminAuthMiddleware guards the control-plane API. When ADMIN_SECRET is
// unset (development only, Validate rejects that in production) the check
// is skipped.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret != "" && c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "Invalid or missing admin secret",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/status", s.statusHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Control-plane API
	admin := s.router.Group("/admin/v1")
	admin.Use(s.adminAuthMiddleware())
	admin.Use(validation.TenantIDParamMiddleware())

	tenant.NewHandler(s.tenants, s.directory, s.policies, s.identities).RegisterAdminRoutes(admin)
	quota.NewHandler(s.ledger, s.policies, s.alerts, s.usage).RegisterAdminRoutes(admin)
	registry.NewHandler(s.services).RegisterAdminRoutes(admin)
	gateway.NewHandler(s.analytics).RegisterAdminRoutes(admin)

	// Data-plane proxy
	s.pipeline.RegisterRoutes(s.router)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
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

func (s *Server) statusHandler(c *gin.Context) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}
	limiter := "local"
	if s.rdb != nil {
		limiter = "redis"
	}
	c.JSON(http.StatusOK, gin.H{
		"service":        "perimeter",
		"version":        Version,
		"commit":         Commit,
		"env":            s.cfg.Env,
		"storage":        storage,
		"rate_limiter":   limiter,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
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

	cleanup, err := traces.Init(ctx, s.cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	s.tracesCleanup = cleanup

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
			"version", Version,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start analytics consumer
	go s.recorder.Run(runCtx)

	// Start quota monitor
	if s.monitor != nil {
		go s.monitor.Run(runCtx)
	}

	// DB pool stats for /metrics
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

	// Cancel the context for all background goroutines (recorder, monitor)
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

	// Stop the in-process limiter's sweep goroutine
	if s.ipLimiter != nil {
		s.ipLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Stop the response cache sweep
	if s.memCache != nil {
		s.memCache.Stop()
		s.logger.Info("response cache stopped")
	}

	// Flush any buffered spans
	if s.tracesCleanup != nil {
		if err := s.tracesCleanup(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close redis
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
