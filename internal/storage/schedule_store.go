package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/model"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = fmt.Errorf("record not found")

// ScheduleStore defines the persistence contract for schedules
type ScheduleStore interface {
	// Create stores a new schedule
	Create(ctx context.Context, schedule *model.Schedule) error

	// Update rewrites the mutable fields of a schedule
	Update(ctx context.Context, schedule *model.Schedule) error

	// SetEnabled flips the enabled flag
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// SetNextRun records the next fire time computed by the dispatcher
	SetNextRun(ctx context.Context, id string, next *time.Time) error

	// Get retrieves a schedule by ID
	Get(ctx context.Context, id string) (*model.Schedule, error)

	// List retrieves schedules, optionally restricted to one project
	List(ctx context.Context, projectID string) ([]*model.Schedule, error)

	// ListEnabled retrieves all enabled schedules
	ListEnabled(ctx context.Context) ([]*model.Schedule, error)

	// Delete removes a schedule. Run history is never cascaded.
	Delete(ctx context.Context, id string) error
}

// SQLiteScheduleStore implements ScheduleStore using SQLite
type SQLiteScheduleStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteScheduleStore creates a new SQLite-backed schedule store
func NewSQLiteScheduleStore(logger *zap.Logger, db *sql.DB) *SQLiteScheduleStore {
	return &SQLiteScheduleStore{logger: logger, db: db}
}

// Create implements ScheduleStore.Create
func (s *SQLiteScheduleStore) Create(ctx context.Context, schedule *model.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			id, project_id, marketplace_code, job_code,
			cron_expr, timezone, is_enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID,
		schedule.ProjectID,
		schedule.MarketplaceCode,
		schedule.JobCode,
		schedule.CronExpr,
		schedule.Timezone,
		schedule.IsEnabled,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

// Update implements ScheduleStore.Update
func (s *SQLiteScheduleStore) Update(ctx context.Context, schedule *model.Schedule) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			cron_expr = ?,
			timezone = ?,
			is_enabled = ?,
			updated_at = ?
		WHERE id = ?`,
		schedule.CronExpr,
		schedule.Timezone,
		schedule.IsEnabled,
		schedule.UpdatedAt,
		schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return requireRow(result)
}

// SetEnabled implements ScheduleStore.SetEnabled
func (s *SQLiteScheduleStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle schedule: %w", err)
	}
	return requireRow(result)
}

// SetNextRun implements ScheduleStore.SetNextRun
func (s *SQLiteScheduleStore) SetNextRun(ctx context.Context, id string, next *time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET next_run_at = ? WHERE id = ?`,
		sql.NullTime{Time: deref(next), Valid: next != nil}, id)
	if err != nil {
		return fmt.Errorf("failed to set next run: %w", err)
	}
	return requireRow(result)
}

// Get implements ScheduleStore.Get
func (s *SQLiteScheduleStore) Get(ctx context.Context, id string) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx, scheduleColumns+` WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: schedule %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	return schedule, nil
}

// List implements ScheduleStore.List
func (s *SQLiteScheduleStore) List(ctx context.Context, projectID string) ([]*model.Schedule, error) {
	query := scheduleColumns
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`
	return s.queryList(ctx, query, args...)
}

// ListEnabled implements ScheduleStore.ListEnabled
func (s *SQLiteScheduleStore) ListEnabled(ctx context.Context) ([]*model.Schedule, error) {
	return s.queryList(ctx, scheduleColumns+` WHERE is_enabled = 1 ORDER BY created_at`)
}

func (s *SQLiteScheduleStore) queryList(ctx context.Context, query string, args ...interface{}) ([]*model.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return schedules, nil
}

// Delete implements ScheduleStore.Delete. Runs referencing the schedule
// keep their schedule_id so history stays attributable after deletion.
func (s *SQLiteScheduleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}

	if err := requireRow(result); err != nil {
		return err
	}

	s.logger.Info("Deleted schedule", zap.String("id", id))
	return nil
}

const scheduleColumns = `
	SELECT id, project_id, marketplace_code, job_code,
		cron_expr, timezone, is_enabled, next_run_at, created_at, updated_at
	FROM schedules`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSchedule(row rowScanner) (*model.Schedule, error) {
	var schedule model.Schedule
	var nextRun sql.NullTime

	err := row.Scan(
		&schedule.ID,
		&schedule.ProjectID,
		&schedule.MarketplaceCode,
		&schedule.JobCode,
		&schedule.CronExpr,
		&schedule.Timezone,
		&schedule.IsEnabled,
		&nextRun,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if nextRun.Valid {
		schedule.NextRunAt = &nextRun.Time
	}
	return &schedule, nil
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
