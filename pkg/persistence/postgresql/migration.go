package postgresql

// migrations returns the schema migrations for the execution store, keyed by
// version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_executions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				status TEXT NOT NULL,
				total_steps INTEGER NOT NULL DEFAULT 0,
				current_step INTEGER NOT NULL DEFAULT 0,
				completed_steps INTEGER NOT NULL DEFAULT 0,
				failed_steps INTEGER NOT NULL DEFAULT 0,
				step_results JSONB NOT NULL DEFAULT '{}',
				attempt_count INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,
				retry_after TIMESTAMP WITH TIME ZONE,
				error TEXT,
				paused_at TIMESTAMP WITH TIME ZONE,
				paused_by TEXT,
				resumed_at TIMESTAMP WITH TIME ZONE,
				resumed_by TEXT,
				queue_job_id TEXT,
				queue_name TEXT,
				result JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				execution_time BIGINT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				metadata JSONB NOT NULL DEFAULT '{}'
			);

			CREATE INDEX IF NOT EXISTS idx_workflow_executions_status
				ON workflow_executions (status);
			CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow_id
				ON workflow_executions (workflow_id);
			CREATE INDEX IF NOT EXISTS idx_workflow_executions_created_at
				ON workflow_executions (created_at);
		`,
		2: `
			CREATE TABLE IF NOT EXISTS execution_logs (
				id TEXT PRIMARY KEY,
				execution_id TEXT NOT NULL,
				step_id TEXT NOT NULL,
				attempt_number INTEGER NOT NULL DEFAULT 0,
				success BOOLEAN NOT NULL,
				error TEXT,
				data JSONB,
				duration BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_execution_logs_execution_id
				ON execution_logs (execution_id);
		`,
	}
}
