package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/storage"
)

// RunLauncher creates a queued run for a schedule that just fired. The
// console service implements it; the dispatcher itself never touches
// run records.
type RunLauncher interface {
	LaunchScheduledRun(ctx context.Context, schedule *model.Schedule) (*model.Run, error)
}

// Dispatcher owns cron evaluation for enabled schedules. It is the only
// component that computes next-fire times; everything upstream treats
// next_run_at as read-only. Arm/disarm commands arrive over JetStream so
// the console service stays decoupled from cron internals.
type Dispatcher struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	schedules storage.ScheduleStore
	launcher  RunLauncher
	cron      *cron.Cron
	entries   sync.Map // schedule ID -> cron.EntryID
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// New creates a dispatcher.
func New(js nats.JetStreamContext, schedules storage.ScheduleStore, launcher RunLauncher, logger *zap.Logger) *Dispatcher {
	cl := &cronLogger{logger: logger.Named("cron")}
	return &Dispatcher{
		logger:    logger,
		js:        js,
		schedules: schedules,
		launcher:  launcher,
		cron:      cron.New(cron.WithChain(cron.Recover(cl))),
	}
}

// Start arms all enabled schedules, starts the cron runner, and begins
// consuming arm/disarm commands.
func (d *Dispatcher) Start(ctx context.Context) error {
	if err := d.setupStream(); err != nil {
		return err
	}

	enabled, err := d.schedules.ListEnabled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled schedules: %w", err)
	}
	for _, schedule := range enabled {
		if err := d.Arm(ctx, schedule); err != nil {
			d.logger.Error("Failed to arm schedule",
				zap.String("id", schedule.ID),
				zap.String("expression", schedule.CronExpr),
				zap.Error(err))
		}
	}

	d.cron.Start()
	return d.subscribeToCommands(ctx)
}

// Stop stops the cron runner and waits for in-flight jobs.
func (d *Dispatcher) Stop() {
	ctx := d.cron.Stop()
	<-ctx.Done()
}

func (d *Dispatcher) setupStream() error {
	_, err := d.js.StreamInfo(scheduleStreamName)
	if err == nil {
		d.logger.Info("Using existing schedule stream", zap.String("name", scheduleStreamName))
		return nil
	}
	if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	_, err = d.js.AddStream(&nats.StreamConfig{
		Name:     scheduleStreamName,
		Subjects: []string{"schedule.*"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
		MaxMsgs:  streamMaxMsgs,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	d.logger.Info("Created schedule stream", zap.String("name", scheduleStreamName))
	return nil
}

// Arm registers a schedule with the cron runner, replacing any existing
// entry for the same ID, and records its next fire time. Cron field
// range errors surface here rather than at submission time.
func (d *Dispatcher) Arm(ctx context.Context, schedule *model.Schedule) error {
	spec := cronSpec(schedule)

	parsed, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	d.Disarm(schedule.ID)

	sched := *schedule
	entryID := d.cron.Schedule(parsed, cron.FuncJob(func() {
		d.fire(&sched, parsed)
	}))
	d.entries.Store(schedule.ID, entryID)

	next := parsed.Next(time.Now())
	if err := d.schedules.SetNextRun(ctx, schedule.ID, &next); err != nil {
		d.logger.Error("Failed to record next run",
			zap.String("id", schedule.ID),
			zap.Error(err))
	}

	d.logger.Info("Armed schedule",
		zap.String("id", schedule.ID),
		zap.String("expression", schedule.CronExpr),
		zap.String("timezone", schedule.Timezone),
		zap.Time("next_run", next))
	return nil
}

// Disarm removes a schedule from the cron runner. Unknown IDs are a
// no-op so disarm commands are idempotent.
func (d *Dispatcher) Disarm(id string) {
	entryID, ok := d.entries.LoadAndDelete(id)
	if !ok {
		return
	}
	d.cron.Remove(entryID.(cron.EntryID))
	d.logger.Info("Disarmed schedule", zap.String("id", id))
}

func (d *Dispatcher) fire(schedule *model.Schedule, parsed cron.Schedule) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	run, err := d.launcher.LaunchScheduledRun(ctx, schedule)
	if err != nil {
		d.logger.Error("Failed to launch scheduled run",
			zap.String("schedule_id", schedule.ID),
			zap.String("job_code", schedule.JobCode),
			zap.Error(err))
		return
	}

	now := time.Now()
	next := parsed.Next(now)
	if err := d.schedules.SetNextRun(ctx, schedule.ID, &next); err != nil {
		d.logger.Error("Failed to record next run",
			zap.String("schedule_id", schedule.ID),
			zap.Error(err))
	}

	d.logger.Info("Fired schedule",
		zap.String("schedule_id", schedule.ID),
		zap.String("run_id", run.ID),
		zap.Time("fired_at", now),
		zap.Time("next_run", next))
}

func (d *Dispatcher) subscribeToCommands(ctx context.Context) error {
	if _, err := d.js.Subscribe(scheduleArmSubject, func(msg *nats.Msg) {
		var schedule model.Schedule
		if err := json.Unmarshal(msg.Data, &schedule); err != nil {
			d.logger.Error("Failed to unmarshal schedule", zap.Error(err))
			return
		}
		if err := d.Arm(ctx, &schedule); err != nil {
			d.logger.Error("Failed to arm schedule", zap.String("id", schedule.ID), zap.Error(err))
		}
	}, nats.Durable("schedule-arm-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", scheduleArmSubject, err)
	}

	if _, err := d.js.Subscribe(scheduleDisarmSubject, func(msg *nats.Msg) {
		var id string
		if err := json.Unmarshal(msg.Data, &id); err != nil {
			d.logger.Error("Failed to unmarshal schedule ID", zap.Error(err))
			return
		}
		d.Disarm(id)
	}, nats.Durable("schedule-disarm-consumer")); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", scheduleDisarmSubject, err)
	}

	return nil
}

// cronSpec renders the cron line handed to the parser, carrying the
// schedule's timezone via the CRON_TZ prefix.
func cronSpec(schedule *model.Schedule) string {
	if schedule.Timezone == "" {
		return schedule.CronExpr
	}
	return "CRON_TZ=" + schedule.Timezone + " " + schedule.CronExpr
}
