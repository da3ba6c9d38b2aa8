package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/run"
	"github.com/t77yq/ingest-console/internal/storage"
)

const (
	runStatusSubject    = "run.status.*"
	runHeartbeatSubject = "run.heartbeat.*"
)

// RunMonitor folds worker status and heartbeat messages into the run
// store and watches active runs for staleness. Stale runs are only
// reported; forcing them into timeout stays an operator decision.
type RunMonitor struct {
	logger     *zap.Logger
	js         nats.JetStreamContext
	runs       storage.RunStore
	staleAfter time.Duration
	stop       chan struct{}
	subs       []*nats.Subscription
}

// NewRunMonitor creates a run monitor. staleAfter is how long a running
// run may go without a heartbeat before it is reported as stale.
func NewRunMonitor(js nats.JetStreamContext, runs storage.RunStore, staleAfter time.Duration, logger *zap.Logger) *RunMonitor {
	return &RunMonitor{
		logger:     logger,
		js:         js,
		runs:       runs,
		staleAfter: staleAfter,
		stop:       make(chan struct{}),
	}
}

// Start subscribes to run events and begins the staleness scan.
func (m *RunMonitor) Start(ctx context.Context) error {
	statusSub, err := m.js.Subscribe(runStatusSubject, func(msg *nats.Msg) {
		m.handleStatus(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to run status: %w", err)
	}
	m.subs = append(m.subs, statusSub)

	beatSub, err := m.js.Subscribe(runHeartbeatSubject, func(msg *nats.Msg) {
		m.handleHeartbeat(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to run heartbeats: %w", err)
	}
	m.subs = append(m.subs, beatSub)

	go m.staleLoop(ctx)

	m.logger.Info("Run monitor started", zap.Duration("stale_after", m.staleAfter))
	return nil
}

// Stop stops the monitor.
func (m *RunMonitor) Stop() {
	for _, sub := range m.subs {
		sub.Unsubscribe()
	}
	close(m.stop)
}

func (m *RunMonitor) handleStatus(ctx context.Context, msg *nats.Msg) {
	var upd model.RunStatusUpdate
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		m.logger.Error("Failed to unmarshal status update", zap.Error(err))
		return
	}

	r, err := m.runs.Get(ctx, upd.RunID)
	if err != nil {
		m.logger.Error("Status update for unknown run",
			zap.String("run_id", upd.RunID),
			zap.Error(err))
		return
	}

	if err := run.Apply(r, &upd, time.Now().UTC()); err != nil {
		if errors.Is(err, run.ErrIllegalTransition) {
			// Late report from a worker whose run was timed out by an
			// operator. The terminal state wins.
			m.logger.Warn("Dropped status update for finished run",
				zap.String("run_id", upd.RunID),
				zap.String("reported_status", string(upd.Status)),
				zap.String("current_status", string(r.Status)))
			return
		}
		m.logger.Error("Failed to apply status update",
			zap.String("run_id", upd.RunID),
			zap.Error(err))
		return
	}

	if err := m.runs.Update(ctx, r); err != nil {
		m.logger.Error("Failed to store run update",
			zap.String("run_id", upd.RunID),
			zap.Error(err))
		return
	}

	m.logger.Info("Run status updated",
		zap.String("run_id", r.ID),
		zap.String("status", string(r.Status)))
}

func (m *RunMonitor) handleHeartbeat(ctx context.Context, msg *nats.Msg) {
	var hb model.WorkerHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		m.logger.Error("Failed to unmarshal heartbeat", zap.Error(err))
		return
	}

	at := hb.SentAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	// Heartbeats race the status subscription, so only the liveness
	// columns are written; a terminal run silently ignores the beat.
	if err := m.runs.RecordHeartbeat(ctx, hb.RunID, at); err != nil {
		m.logger.Error("Failed to store heartbeat",
			zap.String("run_id", hb.RunID),
			zap.Error(err))
	}
}

func (m *RunMonitor) staleLoop(ctx context.Context) {
	interval := m.staleAfter / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.reportStale(ctx)
		}
	}
}

func (m *RunMonitor) reportStale(ctx context.Context) {
	active, err := m.runs.ListActive(ctx)
	if err != nil {
		m.logger.Error("Failed to list active runs", zap.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, r := range active {
		if r.Status != model.RunStatusRunning {
			continue
		}
		last := run.LastActivity(r)
		if now.Sub(last) < m.staleAfter {
			continue
		}
		m.logger.Warn("Run appears stale",
			zap.String("run_id", r.ID),
			zap.String("job_code", r.JobCode),
			zap.String("last_activity", run.RelativeAge(last, now)))
	}
}
