// Package postgresql provides PostgreSQL persistence for refresh schedules,
// executions and the targets they refresh.
package postgresql

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/dukex/refreshd/pkg/persistence/sqlbase"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sqlx.DB
	logger *slog.Logger

	scheduleRepo  *ScheduleRepository
	executionRepo *ExecutionRepository
	targetRepo    *TargetRepository
}

// NewPersistence connects to databaseURL and brings the schema up to date.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database.DB, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return New(database, logger), nil
}

// New wraps an open database without running migrations.
func New(db *sqlx.DB, logger *slog.Logger) *Persistence {
	logger = logger.With("component", "postgres_persistence")

	return &Persistence{
		db:            db,
		logger:        logger,
		scheduleRepo:  &ScheduleRepository{db: db, logger: logger},
		executionRepo: &ExecutionRepository{db: db, logger: logger},
		targetRepo:    &TargetRepository{db: db, logger: logger},
	}
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ScheduleRepository() persistence.ScheduleRepository {
	return p.scheduleRepo
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) TargetRepository() persistence.TargetRepository {
	return p.targetRepo
}

// Targets exposes the concrete target repository for seeding.
func (p *Persistence) Targets() *TargetRepository {
	return p.targetRepo
}
