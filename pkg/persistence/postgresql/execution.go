package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/refreshd/pkg/models"
	"github.com/dukex/refreshd/pkg/persistence"
	"github.com/jmoiron/sqlx"
)

const executionColumns = `
	id, schedule_id, target_type, target_id, trigger_kind, status,
	started_at, completed_at, duration_ms, records_affected, metadata, error_message`

// ExecutionRepository handles refresh_executions operations.
type ExecutionRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Create inserts a RUNNING execution.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.RefreshExecution) error {
	query := `
		INSERT INTO refresh_executions (` + executionColumns + `
		) VALUES (
			:id, :schedule_id, :target_type, :target_id, :trigger_kind, :status,
			:started_at, :completed_at, :duration_ms, :records_affected, :metadata, :error_message
		)
	`

	_, err := r.db.NamedExecContext(ctx, query, execution)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to create execution", "execution_id", execution.ID, "error", err)

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// Finish writes the terminal state of a RUNNING execution and applies outcome
// to its schedule in the same transaction.
func (r *ExecutionRepository) Finish(ctx context.Context, execution *models.RefreshExecution, outcome *persistence.ScheduleOutcome) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.ErrorContext(ctx, "failed to rollback transaction", "error", err)
		}
	}()

	result, err := tx.ExecContext(ctx, `
		UPDATE refresh_executions
		SET status = $2,
			completed_at = $3,
			duration_ms = $4,
			records_affected = $5,
			metadata = $6,
			error_message = $7
		WHERE id = $1 AND status = 'RUNNING'
	`,
		execution.ID,
		execution.Status,
		execution.CompletedAt,
		execution.Duration,
		execution.RecordsAffected,
		execution.Metadata,
		execution.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("Finish", execution.ID, persistence.ErrExecutionFinished)
	}

	if outcome != nil {
		if err := r.applyOutcome(ctx, tx, outcome); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// applyOutcome locks the schedule row and derives the next run from its
// current timing fields. A schedule deleted mid-run is left alone.
func (r *ExecutionRepository) applyOutcome(ctx context.Context, tx *sqlx.Tx, outcome *persistence.ScheduleOutcome) error {
	schedule := &models.RefreshSchedule{}

	err := tx.GetContext(ctx, schedule, `
		SELECT id, schedule_type, interval_minutes, cron_expression, timezone, is_active
		FROM refresh_schedules
		WHERE id = $1
		FOR UPDATE
	`, outcome.ScheduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to lock schedule %s: %w", outcome.ScheduleID, err)
	}

	next, err := outcome.NextRun(schedule)
	if err != nil {
		r.logger.ErrorContext(ctx, "cannot compute next run, schedule stops polling", "schedule_id", schedule.ID, "error", err)

		next = nil
	}

	if outcome.Succeeded {
		_, err = tx.ExecContext(ctx, `
			UPDATE refresh_schedules
			SET last_run_at = $2,
				next_run_at = $3,
				run_count = run_count + 1,
				last_error = NULL,
				updated_at = NOW()
			WHERE id = $1
		`, outcome.ScheduleID, outcome.RanAt.UTC(), next)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE refresh_schedules
			SET last_run_at = $2,
				next_run_at = $3,
				error_count = error_count + 1,
				last_error = $4,
				updated_at = NOW()
			WHERE id = $1
		`, outcome.ScheduleID, outcome.RanAt.UTC(), next, outcome.Error)
	}

	if err != nil {
		return fmt.Errorf("failed to update schedule %s: %w", outcome.ScheduleID, err)
	}

	return nil
}

// GetByID returns the execution or persistence.ErrExecutionNotFound.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.RefreshExecution, error) {
	execution := &models.RefreshExecution{}

	err := r.db.GetContext(ctx, execution, `SELECT `+executionColumns+` FROM refresh_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return execution, nil
}

// ListBySchedule returns the newest executions of a schedule first.
func (r *ExecutionRepository) ListBySchedule(ctx context.Context, scheduleID string, limit int) ([]*models.RefreshExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM refresh_executions
		WHERE schedule_id = $1
		ORDER BY started_at DESC
	`
	args := []any{scheduleID}

	if limit > 0 {
		query += ` LIMIT $2`

		args = append(args, limit)
	}

	return r.selectExecutions(ctx, query, args...)
}

// Running returns RUNNING executions started before startedBefore, oldest first.
func (r *ExecutionRepository) Running(ctx context.Context, startedBefore time.Time) ([]*models.RefreshExecution, error) {
	query := `
		SELECT ` + executionColumns + `
		FROM refresh_executions
		WHERE status = 'RUNNING' AND started_at < $1
		ORDER BY started_at ASC
	`

	return r.selectExecutions(ctx, query, startedBefore.UTC())
}

func (r *ExecutionRepository) selectExecutions(ctx context.Context, query string, args ...any) ([]*models.RefreshExecution, error) {
	executions := make([]*models.RefreshExecution, 0)

	err := r.db.SelectContext(ctx, &executions, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query executions", "error", err)

		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	return executions, nil
}
