package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/model"
)

// RunFilters narrows a run listing. Zero values mean "no restriction".
type RunFilters struct {
	MarketplaceCode string
	JobCode         string
	Status          model.RunStatus
	From            time.Time
	To              time.Time
	Limit           int
}

// RunStore defines the persistence contract for runs
type RunStore interface {
	// Create stores a new run
	Create(ctx context.Context, run *model.Run) error

	// Update rewrites the mutable fields of a run
	Update(ctx context.Context, run *model.Run) error

	// Get retrieves a run by ID
	Get(ctx context.Context, id string) (*model.Run, error)

	// List retrieves runs matching the filters, newest first
	List(ctx context.Context, filters RunFilters) ([]*model.Run, error)

	// ListActive retrieves runs in queued or running status
	ListActive(ctx context.Context) ([]*model.Run, error)

	// Count returns the number of runs matching the filters
	Count(ctx context.Context, filters RunFilters) (int, error)

	// RecordHeartbeat stores a liveness timestamp for an active run.
	// Unknown or already-finished runs are left untouched.
	RecordHeartbeat(ctx context.Context, id string, at time.Time) error

	// DeleteBefore deletes terminal runs created before the given time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteRunStore implements RunStore using SQLite
type SQLiteRunStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteRunStore creates a new SQLite-backed run store
func NewSQLiteRunStore(logger *zap.Logger, db *sql.DB) *SQLiteRunStore {
	return &SQLiteRunStore{logger: logger, db: db}
}

// Create implements RunStore.Create
func (s *SQLiteRunStore) Create(ctx context.Context, run *model.Run) error {
	var stats string
	if len(run.Stats) > 0 {
		stats = string(run.Stats)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, schedule_id, project_id, marketplace_code, job_code,
			triggered_by, status, started_at, finished_at, duration_ms,
			heartbeat_at, error_message, error_trace, stats,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		sql.NullString{String: run.ScheduleID, Valid: run.ScheduleID != ""},
		run.ProjectID,
		run.MarketplaceCode,
		run.JobCode,
		string(run.TriggeredBy),
		string(run.Status),
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
		nullInt(run.DurationMS),
		nullTime(run.HeartbeatAt),
		sql.NullString{String: run.ErrorMessage, Valid: run.ErrorMessage != ""},
		sql.NullString{String: run.ErrorTrace, Valid: run.ErrorTrace != ""},
		sql.NullString{String: stats, Valid: stats != ""},
		run.CreatedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// Update implements RunStore.Update
func (s *SQLiteRunStore) Update(ctx context.Context, run *model.Run) error {
	var stats string
	if len(run.Stats) > 0 {
		stats = string(run.Stats)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			started_at = ?,
			finished_at = ?,
			duration_ms = ?,
			heartbeat_at = ?,
			error_message = ?,
			error_trace = ?,
			stats = ?,
			updated_at = ?
		WHERE id = ?`,
		string(run.Status),
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
		nullInt(run.DurationMS),
		nullTime(run.HeartbeatAt),
		sql.NullString{String: run.ErrorMessage, Valid: run.ErrorMessage != ""},
		sql.NullString{String: run.ErrorTrace, Valid: run.ErrorTrace != ""},
		sql.NullString{String: stats, Valid: stats != ""},
		run.UpdatedAt,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return requireRow(result)
}

// Get implements RunStore.Get
func (s *SQLiteRunStore) Get(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, runColumns+` WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	return run, nil
}

// List implements RunStore.List
func (s *SQLiteRunStore) List(ctx context.Context, filters RunFilters) ([]*model.Run, error) {
	where, args := buildRunFilters(filters)
	query := runColumns + where + ` ORDER BY created_at DESC`

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	return s.queryList(ctx, query, args...)
}

// ListActive implements RunStore.ListActive
func (s *SQLiteRunStore) ListActive(ctx context.Context) ([]*model.Run, error) {
	return s.queryList(ctx, runColumns+` WHERE status IN (?, ?) ORDER BY created_at`,
		string(model.RunStatusQueued), string(model.RunStatusRunning))
}

// Count implements RunStore.Count
func (s *SQLiteRunStore) Count(ctx context.Context, filters RunFilters) (int, error) {
	where, args := buildRunFilters(filters)

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// RecordHeartbeat implements RunStore.RecordHeartbeat. It deliberately
// touches only the liveness columns: the status message that finishes a
// run may race a heartbeat taken moments earlier, and a full-row write
// here would resurrect a finished run.
func (s *SQLiteRunStore) RecordHeartbeat(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET heartbeat_at = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		at, at, id,
		string(model.RunStatusQueued), string(model.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// DeleteBefore implements RunStore.DeleteBefore. Active runs are kept
// regardless of age.
func (s *SQLiteRunStore) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE created_at < ? AND status NOT IN (?, ?)`,
		before, string(model.RunStatusQueued), string(model.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old run records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return nil
}

func (s *SQLiteRunStore) queryList(ctx context.Context, query string, args ...interface{}) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

func buildRunFilters(filters RunFilters) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filters.MarketplaceCode != "" {
		clauses = append(clauses, "marketplace_code = ?")
		args = append(args, filters.MarketplaceCode)
	}
	if filters.JobCode != "" {
		clauses = append(clauses, "job_code = ?")
		args = append(args, filters.JobCode)
	}
	if filters.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filters.Status))
	}
	if !filters.From.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filters.From)
	}
	if !filters.To.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, filters.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}

	where := " WHERE " + clauses[0]
	for _, clause := range clauses[1:] {
		where += " AND " + clause
	}
	return where, args
}

const runColumns = `
	SELECT id, schedule_id, project_id, marketplace_code, job_code,
		triggered_by, status, started_at, finished_at, duration_ms,
		heartbeat_at, error_message, error_trace, stats,
		created_at, updated_at
	FROM runs`

func scanRun(row rowScanner) (*model.Run, error) {
	var run model.Run
	var scheduleID, errorMessage, errorTrace, stats sql.NullString
	var startedAt, finishedAt, heartbeatAt sql.NullTime
	var durationMS sql.NullInt64
	var triggeredBy, status string

	err := row.Scan(
		&run.ID,
		&scheduleID,
		&run.ProjectID,
		&run.MarketplaceCode,
		&run.JobCode,
		&triggeredBy,
		&status,
		&startedAt,
		&finishedAt,
		&durationMS,
		&heartbeatAt,
		&errorMessage,
		&errorTrace,
		&stats,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.TriggeredBy = model.TriggerSource(triggeredBy)
	run.Status = model.RunStatus(status)
	if scheduleID.Valid {
		run.ScheduleID = scheduleID.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if durationMS.Valid {
		run.DurationMS = &durationMS.Int64
	}
	if heartbeatAt.Valid {
		run.HeartbeatAt = &heartbeatAt.Time
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if errorTrace.Valid {
		run.ErrorTrace = errorTrace.String
	}
	if stats.Valid && stats.String != "" {
		run.Stats = json.RawMessage(stats.String)
	}
	return &run, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
