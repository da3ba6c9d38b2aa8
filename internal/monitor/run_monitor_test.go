package monitor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/storage"
	"github.com/t77yq/ingest-console/internal/testutil"
)

func setupMonitor(t *testing.T) (*RunMonitor, storage.RunStore, nats.JetStreamContext) {
	t.Helper()

	js, cleanup := testutil.SetupJetStream(t)
	t.Cleanup(cleanup)

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "RUNS",
		Subjects: []string{"run.*", "run.*.*"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	db, err := storage.Open(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zaptest.NewLogger(t)
	runs := storage.NewSQLiteRunStore(logger, db)
	m := NewRunMonitor(js, runs, 30*time.Second, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)

	return m, runs, js
}

func queuedRun(t *testing.T, runs storage.RunStore) *model.Run {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	r := &model.Run{
		ID:              uuid.New().String(),
		ProjectID:       "proj-1",
		MarketplaceCode: "wb",
		JobCode:         "orders_sync",
		TriggeredBy:     model.TriggerSchedule,
		Status:          model.RunStatusQueued,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, runs.Create(context.Background(), r))
	return r
}

func publishUpdate(t *testing.T, js nats.JetStreamContext, upd *model.RunStatusUpdate) {
	t.Helper()

	data, err := json.Marshal(upd)
	require.NoError(t, err)
	_, err = js.Publish("run.status."+upd.RunID, data)
	require.NoError(t, err)
}

func TestRunMonitorStatusUpdates(t *testing.T) {
	_, runs, js := setupMonitor(t)
	ctx := context.Background()

	t.Run("Running Then Success", func(t *testing.T) {
		r := queuedRun(t, runs)

		publishUpdate(t, js, &model.RunStatusUpdate{
			RunID:      r.ID,
			WorkerID:   "worker-1",
			Status:     model.RunStatusRunning,
			ReportedAt: time.Now().UTC(),
		})

		require.Eventually(t, func() bool {
			got, err := runs.Get(ctx, r.ID)
			return err == nil && got.Status == model.RunStatusRunning && got.StartedAt != nil
		}, 5*time.Second, 50*time.Millisecond)

		publishUpdate(t, js, &model.RunStatusUpdate{
			RunID:      r.ID,
			WorkerID:   "worker-1",
			Status:     model.RunStatusSuccess,
			Stats:      []byte(`{"inserted":42}`),
			ReportedAt: time.Now().UTC(),
		})

		require.Eventually(t, func() bool {
			got, err := runs.Get(ctx, r.ID)
			return err == nil && got.Status == model.RunStatusSuccess
		}, 5*time.Second, 50*time.Millisecond)

		got, err := runs.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.NotNil(t, got.FinishedAt)
		assert.JSONEq(t, `{"inserted":42}`, string(got.Stats))
	})

	t.Run("Late Report After Timeout Is Dropped", func(t *testing.T) {
		r := queuedRun(t, runs)
		finished := time.Now().UTC()
		r.Status = model.RunStatusTimeout
		r.FinishedAt = &finished
		r.UpdatedAt = finished
		require.NoError(t, runs.Update(ctx, r))

		publishUpdate(t, js, &model.RunStatusUpdate{
			RunID:      r.ID,
			Status:     model.RunStatusSuccess,
			ReportedAt: time.Now().UTC(),
		})

		// Give the monitor time to (not) apply the update.
		time.Sleep(500 * time.Millisecond)

		got, err := runs.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusTimeout, got.Status)
	})
}

func TestRunMonitorHeartbeats(t *testing.T) {
	_, runs, js := setupMonitor(t)
	ctx := context.Background()

	r := queuedRun(t, runs)
	publishUpdate(t, js, &model.RunStatusUpdate{
		RunID:      r.ID,
		Status:     model.RunStatusRunning,
		ReportedAt: time.Now().UTC(),
	})

	beat := model.WorkerHeartbeat{
		WorkerID: "worker-1",
		RunID:    r.ID,
		Status:   model.WorkerStatusHealthy,
		SentAt:   time.Now().UTC().Truncate(time.Second),
	}
	data, err := json.Marshal(beat)
	require.NoError(t, err)
	_, err = js.Publish("run.heartbeat."+r.ID, data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := runs.Get(ctx, r.ID)
		return err == nil && got.HeartbeatAt != nil
	}, 5*time.Second, 50*time.Millisecond)

	got, err := runs.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, beat.SentAt.Equal(*got.HeartbeatAt))
}

func TestRunMonitorIgnoresHeartbeatForFinishedRun(t *testing.T) {
	_, runs, js := setupMonitor(t)
	ctx := context.Background()

	r := queuedRun(t, runs)
	finished := time.Now().UTC().Truncate(time.Second)
	r.Status = model.RunStatusSuccess
	r.FinishedAt = &finished
	r.UpdatedAt = finished
	require.NoError(t, runs.Update(ctx, r))

	beat := model.WorkerHeartbeat{
		WorkerID: "worker-1",
		RunID:    r.ID,
		Status:   model.WorkerStatusHealthy,
		SentAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(beat)
	require.NoError(t, err)
	_, err = js.Publish("run.heartbeat."+r.ID, data)
	require.NoError(t, err)

	// Give the monitor time to (not) apply the beat.
	time.Sleep(500 * time.Millisecond)

	got, err := runs.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.HeartbeatAt)
}
