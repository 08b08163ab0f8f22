package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		start_time TEXT,
		end_time TEXT,
		cost_usd REAL NOT NULL DEFAULT 0,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		position INTEGER NOT NULL,
		definition TEXT NOT NULL,
		state TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		assigned_model TEXT NOT NULL DEFAULT '',
		start_time TEXT,
		end_time TEXT,
		error TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		result TEXT,
		PRIMARY KEY (run_id, id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_run_position ON tasks(run_id, position);

	CREATE TABLE IF NOT EXISTS spend (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL,
		output_tokens INTEGER NOT NULL,
		cost_usd REAL NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_spend_recorded_at ON spend(recorded_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
