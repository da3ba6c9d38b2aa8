package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens the console database and applies the schema. Unlike a
// scratch history database, this one is durable: run history must
// survive restarts and schedule deletion, so nothing is ever dropped
// here.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schedules (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			marketplace_code TEXT NOT NULL,
			job_code TEXT NOT NULL,
			cron_expr TEXT NOT NULL,
			timezone TEXT NOT NULL,
			is_enabled INTEGER NOT NULL DEFAULT 0,
			next_run_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_schedules_project ON schedules(project_id);
		CREATE INDEX IF NOT EXISTS idx_schedules_job ON schedules(marketplace_code, job_code);

		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			schedule_id TEXT,
			project_id TEXT NOT NULL,
			marketplace_code TEXT NOT NULL,
			job_code TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at DATETIME,
			finished_at DATETIME,
			duration_ms INTEGER,
			heartbeat_at DATETIME,
			error_message TEXT,
			error_trace TEXT,
			stats TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_schedule ON runs(schedule_id);
		CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(marketplace_code, job_code);
		CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}
