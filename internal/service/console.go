package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/jobs"
	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/run"
	"github.com/t77yq/ingest-console/internal/schedule"
	"github.com/t77yq/ingest-console/internal/storage"
)

const (
	runStreamName         = "RUNS"
	runTriggerSubject     = "run.trigger"
	scheduleArmSubject    = "schedule.arm"
	scheduleDisarmSubject = "schedule.disarm"

	streamMaxAge = 24 * time.Hour
)

// Console implements the operator-facing operations of the ingestion
// dashboard: schedule lifecycle, run triggering, run listing, and the
// administrative timeout override. All validation happens here before
// anything is persisted or published.
type Console struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	schedules storage.ScheduleStore
	runs      storage.RunStore
	catalog   *jobs.Catalog
}

// NewConsole creates the console service and ensures the run stream
// exists.
func NewConsole(js nats.JetStreamContext, schedules storage.ScheduleStore, runs storage.RunStore, catalog *jobs.Catalog, logger *zap.Logger) (*Console, error) {
	c := &Console{
		logger:    logger,
		js:        js,
		schedules: schedules,
		runs:      runs,
		catalog:   catalog,
	}

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     runStreamName,
		Subjects: []string{"run.*", "run.*.*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  -1,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("failed to create run stream: %w", err)
	}

	return c, nil
}

// ScheduleInput carries operator input for creating or editing a
// schedule. Either Simple or CronExpr must be set; Simple wins when both
// are present so the operator's simple-mode choice is never re-derived
// from cron.
type ScheduleInput struct {
	ProjectID       string
	MarketplaceCode string
	JobCode         string
	Simple          *schedule.Spec
	CronExpr        string
	Timezone        string
	IsEnabled       bool
}

func (in *ScheduleInput) resolveCron() (schedule.Expression, error) {
	if in.Simple != nil {
		if err := in.Simple.Validate(); err != nil {
			return schedule.Expression{}, err
		}
		return in.Simple.Cron(), nil
	}
	return schedule.ParseExpression(in.CronExpr)
}

// CreateSchedule validates operator input and stores a new schedule.
// When the schedule is enabled an arm command is published for the
// dispatcher.
func (c *Console) CreateSchedule(ctx context.Context, in ScheduleInput) (*model.Schedule, error) {
	def, err := c.catalog.Get(in.JobCode)
	if err != nil {
		return nil, err
	}
	if !def.SupportsSchedule {
		return nil, fmt.Errorf("%w: %s", ErrScheduleUnsupported, in.JobCode)
	}

	expr, err := in.resolveCron()
	if err != nil {
		return nil, err
	}
	if err := schedule.ValidateTimezone(in.Timezone); err != nil {
		return nil, err
	}

	marketplace := in.MarketplaceCode
	if marketplace == "" {
		marketplace = def.SourceCode
	}

	now := time.Now().UTC()
	sched := &model.Schedule{
		ID:              uuid.New().String(),
		ProjectID:       in.ProjectID,
		MarketplaceCode: marketplace,
		JobCode:         in.JobCode,
		CronExpr:        expr.String(),
		Timezone:        in.Timezone,
		IsEnabled:       in.IsEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.schedules.Create(ctx, sched); err != nil {
		return nil, upstream(err)
	}

	if sched.IsEnabled {
		c.publishArm(sched)
	}

	c.logger.Info("Created schedule",
		zap.String("id", sched.ID),
		zap.String("job_code", sched.JobCode),
		zap.String("cron_expr", sched.CronExpr),
		zap.Bool("enabled", sched.IsEnabled))
	return sched, nil
}

// UpdateSchedule edits the cron expression and/or timezone of an
// existing schedule. Validation failures leave the stored schedule
// untouched.
func (c *Console) UpdateSchedule(ctx context.Context, id string, in ScheduleInput) (*model.Schedule, error) {
	sched, err := c.schedules.Get(ctx, id)
	if err != nil {
		return nil, upstream(err)
	}

	if in.Simple != nil || in.CronExpr != "" {
		expr, err := in.resolveCron()
		if err != nil {
			return nil, err
		}
		sched.CronExpr = expr.String()
	}
	if in.Timezone != "" {
		if err := schedule.ValidateTimezone(in.Timezone); err != nil {
			return nil, err
		}
		sched.Timezone = in.Timezone
	}
	sched.UpdatedAt = time.Now().UTC()

	if err := c.schedules.Update(ctx, sched); err != nil {
		return nil, upstream(err)
	}

	if sched.IsEnabled {
		c.publishArm(sched)
	}

	c.logger.Info("Updated schedule",
		zap.String("id", sched.ID),
		zap.String("cron_expr", sched.CronExpr),
		zap.String("timezone", sched.Timezone))
	return sched, nil
}

// ToggleSchedule flips the enabled flag and arms or disarms the
// dispatcher entry accordingly.
func (c *Console) ToggleSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	sched, err := c.schedules.Get(ctx, id)
	if err != nil {
		return nil, upstream(err)
	}

	sched.IsEnabled = !sched.IsEnabled
	sched.UpdatedAt = time.Now().UTC()
	if err := c.schedules.SetEnabled(ctx, id, sched.IsEnabled); err != nil {
		return nil, upstream(err)
	}

	if sched.IsEnabled {
		c.publishArm(sched)
	} else {
		c.publishDisarm(id)
	}

	c.logger.Info("Toggled schedule",
		zap.String("id", id),
		zap.Bool("enabled", sched.IsEnabled))
	return sched, nil
}

// DeleteSchedule removes a schedule. Its run history is retained; runs
// keep referencing the deleted schedule's ID.
func (c *Console) DeleteSchedule(ctx context.Context, id string) error {
	if err := c.schedules.Delete(ctx, id); err != nil {
		return upstream(err)
	}
	c.publishDisarm(id)
	return nil
}

// ListSchedules returns schedules for a project (all when empty).
func (c *Console) ListSchedules(ctx context.Context, projectID string) ([]*model.Schedule, error) {
	schedules, err := c.schedules.List(ctx, projectID)
	if err != nil {
		return nil, upstream(err)
	}
	return schedules, nil
}

// TriggerRun requests an immediate run of a schedule's job. The
// schedule itself is not modified in any way.
func (c *Console) TriggerRun(ctx context.Context, scheduleID string) (*model.Run, error) {
	sched, err := c.schedules.Get(ctx, scheduleID)
	if err != nil {
		return nil, upstream(err)
	}
	return c.createRun(ctx, sched.ID, sched.ProjectID, sched.MarketplaceCode, sched.JobCode, model.TriggerSchedule)
}

// LaunchScheduledRun implements the dispatcher's launcher contract.
func (c *Console) LaunchScheduledRun(ctx context.Context, sched *model.Schedule) (*model.Run, error) {
	return c.createRun(ctx, sched.ID, sched.ProjectID, sched.MarketplaceCode, sched.JobCode, model.TriggerSchedule)
}

// TriggerManualRun creates a run for a job outside any schedule.
func (c *Console) TriggerManualRun(ctx context.Context, projectID, jobCode string, source model.TriggerSource) (*model.Run, error) {
	def, err := c.catalog.Get(jobCode)
	if err != nil {
		return nil, err
	}
	if source == model.TriggerManual && !def.SupportsManual {
		return nil, fmt.Errorf("%w: %s", ErrManualUnsupported, jobCode)
	}
	return c.createRun(ctx, "", projectID, def.SourceCode, jobCode, source)
}

func (c *Console) createRun(ctx context.Context, scheduleID, projectID, marketplace, jobCode string, source model.TriggerSource) (*model.Run, error) {
	now := time.Now().UTC()
	r := &model.Run{
		ID:              uuid.New().String(),
		ScheduleID:      scheduleID,
		ProjectID:       projectID,
		MarketplaceCode: marketplace,
		JobCode:         jobCode,
		TriggeredBy:     source,
		Status:          model.RunStatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := c.runs.Create(ctx, r); err != nil {
		return nil, upstream(err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}
	if _, err := c.js.Publish(runTriggerSubject, data); err != nil {
		return nil, upstream(err)
	}

	c.logger.Info("Queued run",
		zap.String("run_id", r.ID),
		zap.String("job_code", r.JobCode),
		zap.String("triggered_by", string(r.TriggeredBy)))
	return r, nil
}

// GetRun retrieves a run by ID.
func (c *Console) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r, err := c.runs.Get(ctx, id)
	if err != nil {
		return nil, upstream(err)
	}
	return r, nil
}

// ListRuns retrieves runs matching the filters, newest first.
func (c *Console) ListRuns(ctx context.Context, filters storage.RunFilters) ([]*model.Run, error) {
	runs, err := c.runs.List(ctx, filters)
	if err != nil {
		return nil, upstream(err)
	}
	return runs, nil
}

// MarkRunTimeout forces a stuck run into the timeout state. The
// transition is administrative bookkeeping: the worker is not stopped
// and may keep executing, which is why the warning below always fires.
func (c *Console) MarkRunTimeout(ctx context.Context, runID, reasonCode, reasonText string) (*model.Run, error) {
	r, err := c.runs.Get(ctx, runID)
	if err != nil {
		return nil, upstream(err)
	}

	if err := run.MarkTimeout(r, reasonCode, reasonText, time.Now().UTC()); err != nil {
		return nil, err
	}

	if err := c.runs.Update(ctx, r); err != nil {
		return nil, upstream(err)
	}

	c.logger.Warn("Run marked as timed out; the underlying task may still be executing",
		zap.String("run_id", r.ID),
		zap.String("job_code", r.JobCode),
		zap.String("reason", r.ErrorMessage))
	return r, nil
}

// ListJobDefinitions returns the catalog entries used to populate
// schedule-creation choices.
func (c *Console) ListJobDefinitions() []model.JobDefinition {
	return c.catalog.List()
}

func (c *Console) publishArm(sched *model.Schedule) {
	data, err := json.Marshal(sched)
	if err != nil {
		c.logger.Error("Failed to marshal schedule", zap.Error(err))
		return
	}
	if _, err := c.js.Publish(scheduleArmSubject, data); err != nil {
		c.logger.Error("Failed to publish arm command",
			zap.String("id", sched.ID),
			zap.Error(err))
	}
}

func (c *Console) publishDisarm(id string) {
	data, _ := json.Marshal(id)
	if _, err := c.js.Publish(scheduleDisarmSubject, data); err != nil {
		c.logger.Error("Failed to publish disarm command",
			zap.String("id", id),
			zap.Error(err))
	}
}

// upstream tags collaborator failures as retryable while keeping
// not-found errors recognizable.
func upstream(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}
