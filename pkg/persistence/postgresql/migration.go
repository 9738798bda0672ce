package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Tables owned by the dashboard, query and data source CRUD layer.
			-- Created here when missing so the engine can run standalone.
			CREATE TABLE IF NOT EXISTS data_sources (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				type VARCHAR(50) NOT NULL,
				connection_string TEXT NOT NULL,
				owner_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS dashboards (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				owner_id VARCHAR(255) NOT NULL,
				refreshed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE IF NOT EXISTS saved_queries (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				owner_id VARCHAR(255) NOT NULL,
				data_source_id VARCHAR(255) NOT NULL,
				statement TEXT NOT NULL,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_row_count BIGINT
			);
		`,
		2: `
			CREATE TABLE refresh_schedules (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				target_type VARCHAR(20) NOT NULL CHECK (target_type IN ('DASHBOARD', 'QUERY')),
				target_id VARCHAR(255) NOT NULL,
				schedule_type VARCHAR(20) NOT NULL CHECK (schedule_type IN ('MANUAL', 'INTERVAL', 'CRON', 'REALTIME')),
				interval_minutes INT CHECK (interval_minutes IS NULL OR interval_minutes >= 1),
				cron_expression VARCHAR(255),
				timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
				is_active BOOLEAN NOT NULL DEFAULT true,
				next_run_at TIMESTAMP WITH TIME ZONE,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT,
				run_count BIGINT NOT NULL DEFAULT 0,
				error_count BIGINT NOT NULL DEFAULT 0,
				owner_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_refresh_schedules_owner ON refresh_schedules(owner_id);
			CREATE INDEX idx_refresh_schedules_target ON refresh_schedules(target_type, target_id);
			CREATE INDEX idx_refresh_schedules_active_due ON refresh_schedules(is_active, next_run_at)
				WHERE is_active = true AND next_run_at IS NOT NULL;

			-- schedule_id is not a foreign key: ad-hoc executions use 'manual' and
			-- history outlives deleted schedules.
			CREATE TABLE refresh_executions (
				id VARCHAR(255) PRIMARY KEY,
				schedule_id VARCHAR(255) NOT NULL,
				target_type VARCHAR(20) NOT NULL,
				target_id VARCHAR(255) NOT NULL,
				trigger_kind VARCHAR(20) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('RUNNING', 'COMPLETED', 'FAILED')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT,
				records_affected BIGINT NOT NULL DEFAULT 0,
				metadata JSONB NOT NULL DEFAULT '{}',
				error_message TEXT
			);

			CREATE INDEX idx_refresh_executions_schedule ON refresh_executions(schedule_id, started_at DESC);
			CREATE INDEX idx_refresh_executions_running ON refresh_executions(started_at)
				WHERE status = 'RUNNING';
		`,
	}
}
