// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/fraudscope/fraudscope/internal/classifier"
	"github.com/fraudscope/fraudscope/internal/config"
	"github.com/fraudscope/fraudscope/internal/health"
	"github.com/fraudscope/fraudscope/internal/idgen"
	"github.com/fraudscope/fraudscope/internal/logging"
	"github.com/fraudscope/fraudscope/internal/metrics"
	"github.com/fraudscope/fraudscope/internal/ratelimit"
	"github.com/fraudscope/fraudscope/internal/retry"
	"github.com/fraudscope/fraudscope/internal/scoring"
	"github.com/fraudscope/fraudscope/internal/security"
	"github.com/fraudscope/fraudscope/internal/snapshot"
	"github.com/fraudscope/fraudscope/internal/stats"
	"github.com/fraudscope/fraudscope/internal/traces"
	"github.com/fraudscope/fraudscope/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	model       *classifier.Handle
	modelErr    error
	modelSet    bool
	snap        *snapshot.Snapshot
	resolver    snapshot.CountryResolver
	scoring     *scoring.Service
	engine      *stats.Engine
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	db          *sql.DB // nil when the snapshot comes from CSV
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration

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

// WithModel supplies the classifier instead of loading cfg.ModelPath. A nil
// handle starts the server degraded; loadErr is reported by /health.
func WithModel(h *classifier.Handle, loadErr error) Option {
	return func(s *Server) {
		s.model = h
		s.modelErr = loadErr
		s.modelSet = true
	}
}

// WithSnapshot supplies the transaction snapshot instead of loading it from
// cfg.DatasetPath or cfg.DatabaseURL.
func WithSnapshot(snap *snapshot.Snapshot) Option {
	return func(s *Server) {
		s.snap = snap
	}
}

// WithCountryResolver sets the resolver used to derive countries from IP
// addresses, instead of opening cfg.GeoIPDBPath.
func WithCountryResolver(r snapshot.CountryResolver) Option {
	return func(s *Server) {
		s.resolver = r
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance. A model that fails to load degrades
// the server; a snapshot that fails to load is fatal.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if !s.modelSet {
		s.model, s.modelErr = classifier.Load(cfg.ModelPath)
	}
	if s.model != nil {
		s.logger.Info("model loaded",
			"kind", s.model.Kind(),
			"version", s.model.Version(),
			"features", s.model.Schema().Len(),
		)
		metrics.ModelLoaded.Set(1)
	} else {
		s.logger.Warn("model unavailable, /predict disabled", "error", s.modelErr, "path", cfg.ModelPath)
		metrics.ModelLoaded.Set(0)
	}

	if s.snap == nil {
		if err := s.loadSnapshot(ctx); err != nil {
			s.closeDB()
			return nil, err
		}
	}
	if err := s.enrichSnapshot(); err != nil {
		s.closeDB()
		return nil, err
	}
	s.logSnapshot()

	s.scoring = scoring.NewService(s.model, s.logger)
	s.engine = stats.NewEngine(s.snap)

	s.checks = health.NewRegistry()
	s.checks.RegisterCritical("snapshot", health.SnapshotChecker(s.snap.Len()))
	s.checks.Register("model", health.ModelChecker(s.model != nil, modelVersion(s.model), s.modelErr))
	if s.db != nil {
		// The snapshot is already in memory; the pool only feeds the DB stats gauges.
		s.checks.RegisterInfo("database", health.PingChecker("database", s.db))
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

func (s *Server) loadSnapshot(ctx context.Context) error {
	if !s.cfg.UsesDatabase() {
		snap, err := snapshot.LoadCSVFile(s.cfg.DatasetPath)
		if err != nil {
			return err
		}
		s.snap = snap
		s.logger.Info("snapshot loaded", "source", "csv", "path", s.cfg.DatasetPath)
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	s.db = db

	var snap *snapshot.Snapshot
	err = retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return fmt.Errorf("failed to connect to database %s: %w", maskDSN(s.cfg.DatabaseURL), err)
		}
		loaded, err := snapshot.LoadPostgres(ctx, db, s.cfg.SnapshotTable)
		if err != nil {
			// Query and data errors are permanent.
			return retry.Permanent(err)
		}
		snap = loaded
		return nil
	}, func(attempt int, err error) {
		s.logger.Warn("snapshot database not ready, retrying", "attempt", attempt, "error", err)
	})
	if err != nil {
		return err
	}
	s.snap = snap
	s.logger.Info("snapshot loaded",
		"source", "postgres",
		"database", maskDSN(s.cfg.DatabaseURL),
		"table", s.cfg.SnapshotTable,
	)
	return nil
}

// enrichSnapshot attaches countries from IP addresses when the snapshot
// lacks them and a resolver is available.
func (s *Server) enrichSnapshot() error {
	if s.snap.HasColumn(snapshot.ColumnCountry) || !s.snap.HasColumn(snapshot.ColumnIPAddress) {
		return nil
	}

	if s.resolver == nil {
		if s.cfg.GeoIPDBPath == "" {
			s.logger.Warn("snapshot has ip_address but no country and no GEOIP_DB_PATH, /fraud-geolocation disabled")
			return nil
		}
		geo, err := snapshot.OpenGeoIP(s.cfg.GeoIPDBPath)
		if err != nil {
			s.logger.Warn("geoip unavailable, /fraud-geolocation disabled", "error", err)
			return nil
		}
		defer func() { _ = geo.Close() }()
		s.resolver = geo
	}

	enriched, unknown, err := snapshot.Enrich(s.snap, s.resolver)
	if err != nil {
		return err
	}
	s.snap = enriched
	s.logger.Info("snapshot enriched with countries", "unresolved", unknown)
	return nil
}

func (s *Server) logSnapshot() {
	metrics.SnapshotRecords.Set(float64(s.snap.Len()))

	for _, d := range s.snap.Defects() {
		s.logger.Warn("snapshot column defective, aggregations using it will fail",
			"column", d.Column,
			"row", d.Row,
			"reason", d.Reason,
		)
	}

	summary, err := stats.NewEngine(s.snap).Summarize()
	if err != nil {
		s.logger.Warn("snapshot summary unavailable", "error", err)
		return
	}
	s.logger.Info("snapshot ready",
		"rows", summary.TotalTransactions,
		"fraud_rows", summary.FraudCases,
		"fraud_percentage", summary.FraudPercentage,
		"columns", s.snap.Columns(),
	)
}

func (s *Server) closeDB() {
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

func modelVersion(h *classifier.Handle) string {
	if h == nil {
		return ""
	}
	return h.Version()
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
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	rl.BurstSize = s.cfg.RateLimitBurst
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if !idgen.Valid(requestID) {
			requestID = idgen.New()
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

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
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
	s.router.GET("/metrics", metrics.Handler())

	scoring.NewHandler(s.scoring).RegisterRoutes(s.router)
	stats.NewHandler(s.engine).RegisterRoutes(s.router)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for the /health endpoint
type HealthResponse struct {
	Status      string                   `json:"status"`
	ModelLoaded bool                     `json:"model_loaded"`
	Checks      map[string]health.Status `json:"checks"`
	Version     string                   `json:"version"`
	Timestamp   string                   `json:"timestamp"`
}

// healthHandler always answers 200 so the dashboard keeps polling a
// degraded service; the body says what is wrong.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, _, statuses := s.checks.CheckAll(ctx)

	checks := make(map[string]health.Status, len(statuses))
	for _, st := range statuses {
		checks[st.Name] = st
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:      status,
		ModelLoaded: s.scoring.Available(),
		Checks:      checks,
		Version:     traces.ServiceVersion,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
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
	_, ready, _ := s.checks.CheckAll(c.Request.Context())
	if !s.ready.Load() || !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"model_loaded", s.scoring.Available(),
			"snapshot_rows", s.snap.Len(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Model and snapshot are loaded before Run, so ready is immediate
	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		s.ready.Store(false)
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

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

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
