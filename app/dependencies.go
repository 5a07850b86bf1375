package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/trailguard/audit-ledger/auth"
	"github.com/trailguard/audit-ledger/config"
	"github.com/trailguard/audit-ledger/internal/metrics"
	"github.com/trailguard/audit-ledger/middleware"
	"github.com/trailguard/audit-ledger/migrations"
	"github.com/trailguard/audit-ledger/repositories"
	"github.com/trailguard/audit-ledger/repositories/postgres"
	"github.com/trailguard/audit-ledger/services/ledger"
	"github.com/trailguard/audit-ledger/services/workflow"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Streams   repositories.StreamRepository
	Events    repositories.EventRepository
	Sessions  repositories.SessionRepository
	TxManager repositories.TransactionManager

	// Services
	Ledger   *ledger.Service
	Workflow *workflow.Service
	Sweeper  *ledger.Sweeper

	// HTTP auth
	AuthMiddleware *middleware.AuthMiddleware
	IngestAuth     *middleware.IngestAuth
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize metrics
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = metrics.New()
		logger.Info("metrics collectors registered")
	}

	// Initialize domain services
	deps.initServices(cfg)

	// Initialize HTTP auth
	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection pool and applies
// pending schema migrations
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := migrations.Up(d.DB.DB); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	d.Logger.Info("database ready",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Streams = repos.Streams
	d.Events = repos.Events
	d.Sessions = repos.Sessions
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices wires the ledger and workflow services plus the optional
// background verify sweeper
func (d *Dependencies) initServices(cfg *config.Config) {
	sanitizer := ledger.NewSanitizer(cfg.Redaction.Mode, nil)

	d.Ledger = ledger.NewService(d.Streams, d.Events, d.TxManager, sanitizer, d.Metrics, d.Logger)
	d.Workflow = workflow.NewService(d.Sessions, d.Ledger, d.TxManager, cfg.ServiceName, d.Logger)

	if cfg.Verifier.Enabled {
		d.Sweeper = ledger.NewSweeper(d.Ledger, cfg.Verifier, d.Logger)
		d.Logger.Info("verify sweeper configured",
			zap.String("schedule", cfg.Verifier.Schedule),
			zap.Int("concurrency", cfg.Verifier.Concurrency))
	}
}

func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("token auth not configured, protected routes will reject all requests")
		// Use reject-all validator so protected routes return 401
		d.AuthMiddleware = middleware.NewAuthMiddleware(&rejectAllValidator{}, d.Logger)
	} else {
		validator := auth.NewValidator(auth.Config{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
		})
		d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	}

	if !cfg.IngestEnabled() {
		d.Logger.Warn("ingest secret not configured, the gateway will answer 503")
	}
	d.IngestAuth = middleware.NewIngestAuth(cfg.Ingest.Secret, d.Logger)
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (*rejectAllValidator) ValidateToken(context.Context, string) (*middleware.Claims, error) {
	return nil, fmt.Errorf("authentication not configured")
}

// StartSweeper begins the background verification schedule when enabled
func (d *Dependencies) StartSweeper() error {
	if d.Sweeper == nil {
		return nil
	}
	return d.Sweeper.Start()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Stop the background sweeper before the database goes away
	if d.Sweeper != nil {
		d.Sweeper.Stop()
	}

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
