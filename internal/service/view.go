package service

import (
	"context"
	"time"

	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/run"
	"github.com/t77yq/ingest-console/internal/schedule"
	"github.com/t77yq/ingest-console/internal/storage"
)

// RunView is the list-view rendering of a run.
type RunView struct {
	Run          *model.Run
	Summary      string
	Duration     string
	LastActivity string
	Active       bool
}

// BuildRunView renders a run for display at the given instant.
func BuildRunView(r *model.Run, now time.Time) RunView {
	return RunView{
		Run:          r,
		Summary:      run.SummarizeStats(r.Stats),
		Duration:     run.FormatDuration(r.DurationMS),
		LastActivity: run.RelativeAge(run.LastActivity(r), now),
		Active:       r.Status.IsActive(),
	}
}

// ListRunViews lists runs and renders them for display.
func (c *Console) ListRunViews(ctx context.Context, filters storage.RunFilters) ([]RunView, error) {
	runs, err := c.ListRuns(ctx, filters)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]RunView, len(runs))
	for i, r := range runs {
		views[i] = BuildRunView(r, now)
	}
	return views, nil
}

// ScheduleView is the list-view rendering of a schedule.
type ScheduleView struct {
	Schedule *model.Schedule
	Summary  string
}

// DescribeSchedule produces the display phrase for a stored schedule.
// Stored schedules only carry cron text, so this goes through the
// best-effort humanizer; schedules created via simple mode still match
// one of its shapes exactly.
func DescribeSchedule(s *model.Schedule) string {
	expr, err := schedule.ParseExpression(s.CronExpr)
	if err != nil {
		return schedule.GenericCronLabel
	}
	return schedule.Humanize(expr)
}

// ListScheduleViews lists schedules and renders them for display.
func (c *Console) ListScheduleViews(ctx context.Context, projectID string) ([]ScheduleView, error) {
	schedules, err := c.ListSchedules(ctx, projectID)
	if err != nil {
		return nil, err
	}

	views := make([]ScheduleView, len(schedules))
	for i, s := range schedules {
		views[i] = ScheduleView{Schedule: s, Summary: DescribeSchedule(s)}
	}
	return views, nil
}
