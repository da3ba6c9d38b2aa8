package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/model"
)

const (
	runTriggerSubject         = "run.trigger"
	runStatusSubjectPrefix    = "run.status."
	runHeartbeatSubjectPrefix = "run.heartbeat."

	workerQueueGroup = "ingest-workers"
)

// Config defines configuration for a worker
type Config struct {
	ID                string
	Name              string
	MaxRuns           int
	HeartbeatInterval time.Duration
}

// IngestHandler executes one ingestion job type. report may be called
// at any time during execution to publish fresh progress stats; the
// returned payload becomes the run's final stats.
type IngestHandler interface {
	Ingest(ctx context.Context, r *model.Run, report func(stats json.RawMessage)) (json.RawMessage, error)
}

// ContainerError wraps a handler failure that happened inside a known
// container, letting the worker attach the container's log tail to the
// run's error trace.
type ContainerError struct {
	ContainerID string
	Err         error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s: %v", e.ContainerID, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// Worker consumes run triggers and drives runs through their status
// transitions over NATS. It is the reference implementation of the
// executor side of the protocol; production deployments run their own.
type Worker struct {
	logger   *zap.Logger
	js       nats.JetStreamContext
	config   Config
	handlers map[string]IngestHandler
	tailer   *LogTailer
	sub      *nats.Subscription

	mu         sync.Mutex
	activeRuns map[string]*model.Run
}

// New creates a worker.
func New(js nats.JetStreamContext, config Config, logger *zap.Logger) *Worker {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 15 * time.Second
	}
	return &Worker{
		logger:     logger,
		js:         js,
		config:     config,
		handlers:   make(map[string]IngestHandler),
		activeRuns: make(map[string]*model.Run),
	}
}

// RegisterHandler registers a handler for a job code.
func (w *Worker) RegisterHandler(jobCode string, handler IngestHandler) {
	w.handlers[jobCode] = handler
}

// WithLogTailer attaches a container log tailer used to enrich failed
// runs with an error trace.
func (w *Worker) WithLogTailer(tailer *LogTailer) *Worker {
	w.tailer = tailer
	return w
}

// Start begins consuming run triggers.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.js.QueueSubscribe(runTriggerSubject, workerQueueGroup, func(msg *nats.Msg) {
		var r model.Run
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			w.logger.Error("Failed to unmarshal run trigger", zap.Error(err))
			return
		}

		// The slot is claimed before the goroutine starts so concurrent
		// triggers cannot race past the capacity cap.
		if !w.reserve(&r) {
			w.publishStatus(r.ID, &model.RunStatusUpdate{
				RunID:        r.ID,
				WorkerID:     w.config.ID,
				Status:       model.RunStatusSkipped,
				ErrorMessage: "worker at capacity",
				ReportedAt:   time.Now().UTC(),
			})
			return
		}
		go w.execute(ctx, &r)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to run triggers: %w", err)
	}
	w.sub = sub

	w.logger.Info("Worker started",
		zap.String("worker_id", w.config.ID),
		zap.Int("handlers", len(w.handlers)))
	return nil
}

// Stop stops consuming new triggers. In-flight runs finish on their own.
func (w *Worker) Stop() {
	if w.sub != nil {
		w.sub.Unsubscribe()
	}
}

// ActiveRunCount returns the number of runs currently executing.
func (w *Worker) ActiveRunCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.activeRuns)
}

// reserve claims an execution slot for a run, failing when the worker
// is already at capacity.
func (w *Worker) reserve(r *model.Run) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.config.MaxRuns > 0 && len(w.activeRuns) >= w.config.MaxRuns {
		return false
	}
	w.activeRuns[r.ID] = r
	return true
}

func (w *Worker) release(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.activeRuns, id)
}

func (w *Worker) execute(ctx context.Context, r *model.Run) {
	defer w.release(r.ID)

	handler, ok := w.handlers[r.JobCode]
	if !ok {
		w.publishStatus(r.ID, &model.RunStatusUpdate{
			RunID:        r.ID,
			WorkerID:     w.config.ID,
			Status:       model.RunStatusSkipped,
			ErrorMessage: fmt.Sprintf("no handler for job %s", r.JobCode),
			ReportedAt:   time.Now().UTC(),
		})
		return
	}

	w.publishStatus(r.ID, &model.RunStatusUpdate{
		RunID:      r.ID,
		WorkerID:   w.config.ID,
		Status:     model.RunStatusRunning,
		ReportedAt: time.Now().UTC(),
	})

	beatCtx, stopBeats := context.WithCancel(ctx)
	defer stopBeats()
	go w.heartbeatLoop(beatCtx, r.ID)

	report := func(stats json.RawMessage) {
		w.publishStatus(r.ID, &model.RunStatusUpdate{
			RunID:      r.ID,
			WorkerID:   w.config.ID,
			Status:     model.RunStatusRunning,
			Stats:      stats,
			ReportedAt: time.Now().UTC(),
		})
	}

	stats, err := handler.Ingest(ctx, r, report)
	upd := &model.RunStatusUpdate{
		RunID:      r.ID,
		WorkerID:   w.config.ID,
		Stats:      stats,
		ReportedAt: time.Now().UTC(),
	}

	if err != nil {
		upd.Status = model.RunStatusFailed
		if errors.Is(err, context.Canceled) {
			upd.Status = model.RunStatusCanceled
		}
		upd.ErrorMessage = err.Error()
		upd.ErrorTrace = w.collectTrace(ctx, err)
	} else {
		upd.Status = model.RunStatusSuccess
	}

	w.publishStatus(r.ID, upd)

	w.logger.Info("Run finished",
		zap.String("run_id", r.ID),
		zap.String("job_code", r.JobCode),
		zap.String("status", string(upd.Status)))
}

// collectTrace pulls the log tail of the failed container when the
// handler reported one and a tailer is attached.
func (w *Worker) collectTrace(ctx context.Context, err error) string {
	var containerErr *ContainerError
	if w.tailer == nil || !errors.As(err, &containerErr) {
		return ""
	}

	trace, tailErr := w.tailer.Tail(ctx, containerErr.ContainerID, 50)
	if tailErr != nil {
		w.logger.Error("Failed to tail container logs",
			zap.String("container_id", containerErr.ContainerID),
			zap.Error(tailErr))
		return ""
	}
	return trace
}

func (w *Worker) heartbeatLoop(ctx context.Context, runID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.publishHeartbeat(runID)
		}
	}
}

func (w *Worker) publishHeartbeat(runID string) {
	hb := model.WorkerHeartbeat{
		WorkerID:   w.config.ID,
		RunID:      runID,
		Status:     model.WorkerStatusHealthy,
		ActiveRuns: w.ActiveRunCount(),
		SentAt:     time.Now().UTC(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		hb.CPUUsage = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		hb.MemoryUsage = vm.UsedPercent
	}

	data, err := json.Marshal(hb)
	if err != nil {
		w.logger.Error("Failed to marshal heartbeat", zap.Error(err))
		return
	}
	if _, err := w.js.Publish(runHeartbeatSubjectPrefix+runID, data); err != nil {
		w.logger.Error("Failed to publish heartbeat",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

func (w *Worker) publishStatus(runID string, upd *model.RunStatusUpdate) {
	data, err := json.Marshal(upd)
	if err != nil {
		w.logger.Error("Failed to marshal status update", zap.Error(err))
		return
	}
	if _, err := w.js.Publish(runStatusSubjectPrefix+runID, data); err != nil {
		w.logger.Error("Failed to publish status update",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}
