// Package server wires Guardian's components behind the HTTP API.
package server

import (
	"context"
	"database/sql"
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

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/mbd888/guardian/internal/backend"
	"github.com/mbd888/guardian/internal/circuitbreaker"
	"github.com/mbd888/guardian/internal/config"
	"github.com/mbd888/guardian/internal/contractinfo"
	"github.com/mbd888/guardian/internal/gas"
	"github.com/mbd888/guardian/internal/health"
	"github.com/mbd888/guardian/internal/idgen"
	"github.com/mbd888/guardian/internal/logging"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/pending"
	"github.com/mbd888/guardian/internal/ratelimit"
	"github.com/mbd888/guardian/internal/realtime"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/router"
	"github.com/mbd888/guardian/internal/security"
	"github.com/mbd888/guardian/internal/settings"
	"github.com/mbd888/guardian/internal/simulation"
	"github.com/mbd888/guardian/internal/tabs"
	"github.com/mbd888/guardian/internal/traces"
	"github.com/mbd888/guardian/internal/validation"
	"github.com/mbd888/guardian/migrations"
)

// DispatchTimeout caps how long POST /v1/dispatch waits for an async reply.
const DispatchTimeout = 30 * time.Second

// fallbackETHPrice is used until the price API answers once.
const fallbackETHPrice = 2500.0

// Server is the Guardian HTTP server.
type Server struct {
	cfg      *config.Config
	db       *sql.DB
	eth      *ethclient.Client
	router   *gin.Engine
	httpSrv  *http.Server
	logger   *slog.Logger
	health   *health.Registry
	drain    time.Duration
	version  string
	shutdown traces.Shutdown

	settingsStore settings.Store
	settings      *settings.Manager
	engine        *risk.Engine
	gateway       *backend.Gateway
	pending       *pending.Registry
	pendingTimer  *pending.Timer
	tabs          *tabs.Table
	dispatcher    *router.Router
	hub           *realtime.Hub
	limiter       *ratelimit.Limiter

	cancelRunCtx context.CancelFunc
	ready        atomic.Bool
	healthy      atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSettingsStore overrides the store chosen from DATABASE_URL and
// SETTINGS_PATH.
func WithSettingsStore(store settings.Store) Option {
	return func(s *Server) {
		s.settingsStore = store
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic before closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drain = d
	}
}

// WithVersion sets the build version reported by /health and tracing.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New creates a new server and all of its components.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		health: health.NewRegistry(),
		drain:   5 * time.Second,
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.settingsStore == nil {
		store, err := s.openSettingsStore(ctx)
		if err != nil {
			return nil, err
		}
		s.settingsStore = store
	}

	mgr, err := settings.NewManager(ctx, s.settingsStore, settings.WithLogger(s.logger))
	if err != nil {
		s.closeResources()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	s.settings = mgr

	if cfg.RPCURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		eth, err := ethclient.DialContext(dialCtx, cfg.RPCURL)
		cancel()
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		s.eth = eth
		s.logger.Info("chain access enabled", "chain_id", cfg.ChainID)
	}

	s.engine = risk.NewEngine(s.engineConfig(), s.engineOptions()...)

	s.pending = pending.NewRegistry(pending.Config{
		Timeout:       cfg.PendingTimeout,
		MaxEntries:    cfg.PendingMax,
		SweepInterval: cfg.PendingSweepInterval,
	}, pending.OnRemove(func(a *pending.Action, reason pending.RemoveReason) {
		s.dispatcher.ActionRemoved(a, reason)
	}))
	s.pendingTimer = pending.NewTimer(s.pending, s.logger)
	s.tabs = tabs.NewTable()

	s.dispatcher = router.New(router.Deps{
		Engine:   s.engine,
		Pending:  s.pending,
		Settings: s.settings,
		Tabs:     s.tabs,
		Logger:   s.logger,
	})
	s.hub = realtime.NewHub(s.dispatcher, s.logger, realtime.WithAllowedOrigins(cfg.CORSOrigins))
	s.dispatcher.SetPublisher(s.hub)

	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// openSettingsStore picks Postgres, a JSON file, or memory, in that order.
func (s *Server) openSettingsStore(ctx context.Context) (settings.Store, error) {
	switch {
	case s.cfg.DatabaseURL != "":
		db, err := sql.Open("postgres", s.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}

		s.db = db
		s.logger.Info("using PostgreSQL settings storage", "url", maskDSN(s.cfg.DatabaseURL))
		return settings.NewPostgresStore(db), nil

	case s.cfg.SettingsPath != "":
		s.logger.Info("using file settings storage", "path", s.cfg.SettingsPath)
		return settings.NewFileStore(s.cfg.SettingsPath), nil

	default:
		s.logger.Info("using in-memory settings storage (not persisted)")
		return settings.NewMemoryStore(), nil
	}
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Server) engineConfig() risk.Config {
	return risk.Config{
		HighValueEther:        s.cfg.HighValueETH,
		MediumValueEther:      s.cfg.MediumValueETH,
		GasPriceThresholdGwei: s.cfg.GasPriceThresholdGwei,
		Denylist:              s.cfg.Denylist,
		CacheTTL:              s.cfg.CacheTTL,
		CacheMaxEntries:       s.cfg.CacheMaxEntries,
	}
}

// engineOptions attaches every optional collaborator the config enables.
func (s *Server) engineOptions() []risk.Option {
	cfg := s.cfg

	infoOpts := []contractinfo.Option{contractinfo.WithLogger(s.logger)}
	if s.eth != nil {
		infoOpts = append(infoOpts, contractinfo.WithCodeReader(s.eth))
	}
	contracts := contractinfo.New(contractinfo.Config{EtherscanAPIKey: cfg.EtherscanAPIKey}, infoOpts...)

	opts := []risk.Option{
		risk.WithLogger(s.logger),
		risk.WithContractSource(contracts),
		risk.WithPriceSource(gas.NewPriceOracle(fallbackETHPrice, time.Minute, gas.WithPriceURL(cfg.PriceAPIURL))),
	}

	if s.eth != nil {
		opts = append(opts, risk.WithFeeAdvisor(gas.NewAdvisor(s.eth, 0), s.settings.GasOptimizationEnabled))
	}

	if cfg.TenderlyEnabled() {
		opts = append(opts, risk.WithSimulator(simulation.NewTenderlyClient(simulation.Config{
			AccessKey:      cfg.TenderlyAccessKey,
			AccountSlug:    cfg.TenderlyAccount,
			ProjectSlug:    cfg.TenderlyProject,
			APIURL:         cfg.TenderlyAPIURL,
			DefaultChainID: cfg.ChainID,
		}, s.logger)))
		s.logger.Info("tenderly simulation enabled")
	}

	s.gateway = backend.NewGateway(backend.Config{
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	}, backend.WithLogger(s.logger))
	if s.gateway.Enabled() {
		opts = append(opts, risk.WithSupplementer(s.gateway))
		s.logger.Info("backend verification enabled", "url", cfg.BackendURL)
	}

	return opts
}

func (s *Server) registerHealthChecks() {
	if s.db != nil {
		s.health.Register("database", health.DBChecker("database", s.db))
	}
	if s.eth != nil {
		eth := s.eth
		s.health.RegisterOptional("rpc", func(ctx context.Context) health.Status {
			if _, err := eth.ChainID(ctx); err != nil {
				return health.Status{Name: "rpc", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "rpc", Healthy: true}
		})
	}
	if s.gateway.Enabled() {
		s.health.RegisterOptional("backend", health.StateChecker("backend", s.gateway.BreakerState,
			circuitbreaker.StateClosed, circuitbreaker.StateHalfOpen))
	}
	s.health.RegisterOptional("pending_sweeper", health.StateChecker("pending_sweeper", s.pendingTimer.Running, true))
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "An unexpected error occurred",
			"code":    router.CodeInternal,
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.WithPrefix("req_")
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
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/health/live" || path == "/health/ready" || path == "/metrics":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	if s.cfg.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: s.cfg.RateLimitPerMinute,
			BurstSize:         s.cfg.RateLimitBurst,
		})
		v1.Use(s.limiter.Middleware())
	}
	v1.POST("/dispatch", s.dispatchHandler)
	v1.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/pending", s.listPendingHandler)
	v1.POST("/pending/:id/decision", s.decisionHandler)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "route not found: " + c.Request.URL.Path,
			"code":    router.CodeNotFound,
		})
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for the aggregate health endpoint
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Pending   int             `json:"pending"`
	Realtime  map[string]any  `json:"realtime"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    checks,
		Pending:   s.pending.Len(),
		Realtime:  s.hub.Stats(),
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

// dispatchHandler runs one message through the router and waits for its
// response. X-Context-ID stands in for a missing contextId.
func (s *Server) dispatchHandler(c *gin.Context) {
	var msg router.Message
	if err := c.ShouldBindJSON(&msg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid message: " + err.Error(),
			"code":    router.CodeValidation,
		})
		return
	}
	if msg.ContextID == "" {
		msg.ContextID = c.GetHeader("X-Context-ID")
	}
	s.call(c, &msg)
}

func (s *Server) listPendingHandler(c *gin.Context) {
	s.call(c, &router.Message{Type: router.TypeGetPendingTransactions})
}

type decisionRequest struct {
	Approved *bool `json:"approved"`
}

func (s *Server) decisionHandler(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Approved == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "body must be {\"approved\": true|false}",
			"code":    router.CodeValidation,
		})
		return
	}

	payload, err := json.Marshal(map[string]any{"id": c.Param("id"), "approved": *req.Approved})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "code": router.CodeInternal})
		return
	}
	s.call(c, &router.Message{Type: router.TypeTransactionDecision, Payload: payload})
}

func (s *Server) call(c *gin.Context, msg *router.Message) {
	ctx := c.Request.Context()
	if msg.ContextID != "" {
		ctx = logging.WithContextID(ctx, msg.ContextID)
	}
	ctx, cancel := context.WithTimeout(ctx, DispatchTimeout)
	defer cancel()

	resp := s.dispatcher.Call(ctx, msg)
	c.JSON(httpStatus(resp), resp)
}

// httpStatus maps a router response onto an HTTP status. The body is the
// response either way.
func httpStatus(resp router.Response) int {
	if resp.Success() {
		return http.StatusOK
	}
	code, _ := resp["code"].(string)
	switch code {
	case router.CodeValidation, router.CodeRouting:
		return http.StatusBadRequest
	case router.CodeNotFound:
		return http.StatusNotFound
	case router.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	shutdownTracing, err := traces.Init(runCtx, traces.Config{
		Endpoint:       s.cfg.OTLPEndpoint,
		ServiceVersion: s.version,
		Environment:    s.cfg.Env,
	}, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without", "error", err)
	} else {
		s.shutdown = shutdownTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      DispatchTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.pendingTimer.Start(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	time.Sleep(s.drain)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.pendingTimer.Stop()
	if s.limiter != nil {
		s.limiter.Stop()
	}

	if s.shutdown != nil {
		if err := s.shutdown(ctx); err != nil {
			s.logger.Error("tracing shutdown error", "error", err)
		}
	}

	s.closeResources()
	s.logger.Info("server stopped")
	return shutdownErr
}

func (s *Server) closeResources() {
	if s.eth != nil {
		s.eth.Close()
		s.eth = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
		s.db = nil
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
