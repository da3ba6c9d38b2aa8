package dispatcher

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/ingest-console/internal/model"
	"github.com/t77yq/ingest-console/internal/schedule"
	"github.com/t77yq/ingest-console/internal/storage"
	"github.com/t77yq/ingest-console/internal/testutil"
)

type stubLauncher struct {
	mu       sync.Mutex
	launched []string
}

func (s *stubLauncher) LaunchScheduledRun(ctx context.Context, sched *model.Schedule) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launched = append(s.launched, sched.ID)
	return &model.Run{ID: uuid.New().String(), ScheduleID: sched.ID}, nil
}

func setupDispatcher(t *testing.T) (*Dispatcher, storage.ScheduleStore, *stubLauncher) {
	t.Helper()

	js, cleanup := testutil.SetupJetStream(t)
	t.Cleanup(cleanup)

	db, err := storage.Open(filepath.Join(t.TempDir(), "console.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLiteScheduleStore(zap.NewNop(), db)
	launcher := &stubLauncher{}
	d := New(js, store, launcher, zap.NewNop())
	return d, store, launcher
}

func storedSchedule(t *testing.T, store storage.ScheduleStore, cronExpr, tz string, enabled bool) *model.Schedule {
	t.Helper()

	now := time.Now().UTC()
	sched := &model.Schedule{
		ID:              uuid.New().String(),
		ProjectID:       "proj-1",
		MarketplaceCode: "wb",
		JobCode:         "orders_sync",
		CronExpr:        cronExpr,
		Timezone:        tz,
		IsEnabled:       enabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.Create(context.Background(), sched))
	return sched
}

func TestArm(t *testing.T) {
	d, store, _ := setupDispatcher(t)
	ctx := context.Background()

	t.Run("Records Next Run", func(t *testing.T) {
		sched := storedSchedule(t, store, "*/15 * * * *", "UTC", true)
		require.NoError(t, d.Arm(ctx, sched))

		got, err := store.Get(ctx, sched.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NextRunAt)
		assert.True(t, got.NextRunAt.After(time.Now().Add(-time.Second)))
		assert.True(t, got.NextRunAt.Before(time.Now().Add(16*time.Minute)))
	})

	t.Run("Honors Timezone", func(t *testing.T) {
		sched := storedSchedule(t, store, "0 9 * * *", "Europe/Moscow", true)
		require.NoError(t, d.Arm(ctx, sched))

		loc, err := time.LoadLocation("Europe/Moscow")
		require.NoError(t, err)

		got, err := store.Get(ctx, sched.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NextRunAt)
		next := got.NextRunAt.In(loc)
		assert.Equal(t, 9, next.Hour())
		assert.Equal(t, 0, next.Minute())
	})

	t.Run("Weekly Sunday Projection Arms", func(t *testing.T) {
		expr := schedule.NewWeekly([]int{7}, 9, 0).Cron().String()
		sched := storedSchedule(t, store, expr, "UTC", true)
		require.NoError(t, d.Arm(ctx, sched))

		got, err := store.Get(ctx, sched.ID)
		require.NoError(t, err)
		require.NotNil(t, got.NextRunAt)
		assert.Equal(t, time.Sunday, got.NextRunAt.UTC().Weekday())
	})

	t.Run("Field Range Errors Surface Here", func(t *testing.T) {
		// "99 99 * * *" passes submission-time validation by design;
		// the cron library rejects it when the schedule is armed.
		sched := storedSchedule(t, store, "99 99 * * *", "UTC", true)
		err := d.Arm(ctx, sched)
		assert.Error(t, err)
	})

	t.Run("Unknown Timezone Fails", func(t *testing.T) {
		sched := storedSchedule(t, store, "0 9 * * *", "Nowhere/Qzx", true)
		assert.Error(t, d.Arm(ctx, sched))
	})
}

func TestDisarm(t *testing.T) {
	d, store, _ := setupDispatcher(t)
	ctx := context.Background()

	sched := storedSchedule(t, store, "0 */6 * * *", "UTC", true)
	require.NoError(t, d.Arm(ctx, sched))

	d.Disarm(sched.ID)
	d.Disarm(sched.ID) // idempotent

	_, ok := d.entries.Load(sched.ID)
	assert.False(t, ok)
}

func TestStartArmsEnabledSchedulesOnly(t *testing.T) {
	d, store, _ := setupDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enabled := storedSchedule(t, store, "*/5 * * * *", "UTC", true)
	disabled := storedSchedule(t, store, "*/5 * * * *", "UTC", false)

	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	_, ok := d.entries.Load(enabled.ID)
	assert.True(t, ok)
	_, ok = d.entries.Load(disabled.ID)
	assert.False(t, ok)
}

func TestCommandSubscriptions(t *testing.T) {
	d, store, _ := setupDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	sched := storedSchedule(t, store, "0 3 * * *", "UTC", true)

	data, err := json.Marshal(sched)
	require.NoError(t, err)
	_, err = d.js.Publish(scheduleArmSubject, data)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := d.entries.Load(sched.ID)
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	id, err := json.Marshal(sched.ID)
	require.NoError(t, err)
	_, err = d.js.Publish(scheduleDisarmSubject, id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := d.entries.Load(sched.ID)
		return !ok
	}, 5*time.Second, 50*time.Millisecond)
}
