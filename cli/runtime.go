package cli

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/trailguard/audit-ledger/config"
	"github.com/trailguard/audit-ledger/internal/observability"
	"github.com/trailguard/audit-ledger/repositories/postgres"
	"github.com/trailguard/audit-ledger/services/ledger"
)

// loadConfig reads the environment configuration and builds the logger for
// one command run. Production logs go to stderr, keeping stdout free for
// command output.
func loadConfig(ctx context.Context) (*config.Config, *zap.Logger, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

// openLedger connects to the database and wires the ledger service used by
// the verify and export commands. The returned closer releases the
// connection pool.
func openLedger(cfg *config.Config, logger *zap.Logger) (*ledger.Service, func(), error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	repos := factory.NewRepositories()
	sanitizer := ledger.NewSanitizer(cfg.Redaction.Mode, nil)
	svc := ledger.NewService(repos.Streams, repos.Events, factory.GetTransactionManager(), sanitizer, nil, logger)

	return svc, func() { _ = factory.Close() }, nil
}

// openDatabase opens a raw database handle for the migration commands.
func openDatabase(cfg *config.Config, logger *zap.Logger) (*sql.DB, func(), error) {
	db, err := postgres.NewDB(cfg.Database, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return db.DB, func() { _ = db.Close() }, nil
}
