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

const scheduleColumns = `
	id, name, description, target_type, target_id, schedule_type,
	interval_minutes, cron_expression, timezone, is_active,
	next_run_at, last_run_at, last_error, run_count, error_count,
	owner_id, created_at, updated_at`

// ScheduleRepository handles refresh_schedules operations.
type ScheduleRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Save inserts or updates a schedule. Run bookkeeping (counters, last run,
// last error) is only ever written by ExecutionRepository.Finish, and the
// stored next run is kept unless the timing fields changed. schedule is
// refreshed from the stored row.
func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.RefreshSchedule) error {
	query := `
		INSERT INTO refresh_schedules (` + scheduleColumns + `
		) VALUES (
			:id, :name, :description, :target_type, :target_id, :schedule_type,
			:interval_minutes, :cron_expression, :timezone, :is_active,
			:next_run_at, :last_run_at, :last_error, :run_count, :error_count,
			:owner_id, :created_at, :updated_at
		)
		ON CONFLICT (id)
		DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			target_type = EXCLUDED.target_type,
			target_id = EXCLUDED.target_id,
			schedule_type = EXCLUDED.schedule_type,
			interval_minutes = EXCLUDED.interval_minutes,
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			is_active = EXCLUDED.is_active,
			next_run_at = CASE
				WHEN (refresh_schedules.schedule_type, refresh_schedules.interval_minutes,
					refresh_schedules.cron_expression, refresh_schedules.timezone, refresh_schedules.is_active)
					IS DISTINCT FROM
					(EXCLUDED.schedule_type, EXCLUDED.interval_minutes,
					EXCLUDED.cron_expression, EXCLUDED.timezone, EXCLUDED.is_active)
				THEN EXCLUDED.next_run_at
				ELSE refresh_schedules.next_run_at
			END,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + scheduleColumns

	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}

	schedule.UpdatedAt = now

	rows, err := r.db.NamedQueryContext(ctx, query, schedule)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to save schedule", "schedule_id", schedule.ID, "error", err)

		return fmt.Errorf("failed to save schedule: %w", err)
	}

	defer func() { _ = rows.Close() }()

	// The stored row wins for bookkeeping a concurrent Finish may have written.
	if rows.Next() {
		if err := rows.StructScan(schedule); err != nil {
			return fmt.Errorf("failed to scan saved schedule: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}

	r.logger.DebugContext(ctx, "Schedule saved successfully", "schedule_id", schedule.ID)

	return nil
}

// GetByID returns the schedule or persistence.ErrScheduleNotFound.
func (r *ScheduleRepository) GetByID(ctx context.Context, id string) (*models.RefreshSchedule, error) {
	schedule := &models.RefreshSchedule{}

	err := r.db.GetContext(ctx, schedule, `SELECT `+scheduleColumns+` FROM refresh_schedules WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewScheduleError("GetByID", id, persistence.ErrScheduleNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return schedule, nil
}

// ListByOwner returns the owner's schedules, oldest first.
func (r *ScheduleRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.RefreshSchedule, error) {
	return r.selectSchedules(ctx, "list owner schedules",
		`SELECT `+scheduleColumns+` FROM refresh_schedules WHERE owner_id = $1 ORDER BY created_at ASC`,
		ownerID)
}

// Active returns every active schedule.
func (r *ScheduleRepository) Active(ctx context.Context) ([]*models.RefreshSchedule, error) {
	return r.selectSchedules(ctx, "list active schedules",
		`SELECT `+scheduleColumns+` FROM refresh_schedules WHERE is_active = true ORDER BY created_at ASC`)
}

// Due returns active INTERVAL and CRON schedules due at or before the given time.
func (r *ScheduleRepository) Due(ctx context.Context, before time.Time) ([]*models.RefreshSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM refresh_schedules
		WHERE is_active = true
		  AND schedule_type IN ('INTERVAL', 'CRON')
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at ASC
	`

	return r.selectSchedules(ctx, "list due schedules", query, before.UTC())
}

// ByTarget returns active schedules of scheduleType refreshing target.
func (r *ScheduleRepository) ByTarget(ctx context.Context, target models.Target, scheduleType models.ScheduleType) ([]*models.RefreshSchedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM refresh_schedules
		WHERE is_active = true
		  AND schedule_type = $1
		  AND target_type = $2
		  AND target_id = $3
		ORDER BY created_at ASC
	`

	return r.selectSchedules(ctx, "list target schedules", query, scheduleType, target.Type(), target.ID())
}

// Delete removes a schedule. Its executions are kept as history.
func (r *ScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewScheduleError("Delete", id, persistence.ErrScheduleNotFound)
	}

	return nil
}

func (r *ScheduleRepository) selectSchedules(ctx context.Context, op, query string, args ...any) ([]*models.RefreshSchedule, error) {
	schedules := make([]*models.RefreshSchedule, 0)

	err := r.db.SelectContext(ctx, &schedules, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query schedules", "op", op, "error", err)

		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	return schedules, nil
}
