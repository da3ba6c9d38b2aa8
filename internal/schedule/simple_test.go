package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClamping(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want int
	}{
		{"hours below range", NewEveryHours(0), 1},
		{"hours above range", NewEveryHours(48), 24},
		{"hours in range", NewEveryHours(6), 6},
		{"minutes below range", NewEveryMinutes(-5), 1},
		{"minutes above range", NewEveryMinutes(90), 60},
		{"minutes in range", NewEveryMinutes(15), 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Every)
			assert.NoError(t, tt.spec.Validate())
		})
	}

	t.Run("daily clock", func(t *testing.T) {
		spec := NewDaily(25, -1)
		assert.Equal(t, 23, spec.Hour)
		assert.Equal(t, 0, spec.Minute)
	})

	t.Run("weekly drops bad days", func(t *testing.T) {
		spec := NewWeekly([]int{7, 3, 0, 3, 9}, 9, 30)
		assert.Equal(t, []int{3, 7}, spec.Days)
	})
}

func TestSpecFromForm(t *testing.T) {
	t.Run("Non Numeric Input Clamps To Lower Bound", func(t *testing.T) {
		spec, err := SpecFromForm(FormValues{Kind: "every_minutes", Every: "abc"})
		require.NoError(t, err)
		assert.Equal(t, 1, spec.Every)

		spec, err = SpecFromForm(FormValues{Kind: "every_hours", Every: ""})
		require.NoError(t, err)
		assert.Equal(t, 1, spec.Every)
	})

	t.Run("Weekly", func(t *testing.T) {
		spec, err := SpecFromForm(FormValues{
			Kind:   "weekly",
			Hour:   "9",
			Minute: "30",
			Days:   []string{"5", "1"},
		})
		require.NoError(t, err)
		assert.Equal(t, []int{1, 5}, spec.Days)
		assert.Equal(t, 9, spec.Hour)
		assert.Equal(t, 30, spec.Minute)
	})

	t.Run("Unknown Kind", func(t *testing.T) {
		_, err := SpecFromForm(FormValues{Kind: "yearly"})
		assert.ErrorIs(t, err, ErrInvalidInterval)
	})
}

func TestValidateStrict(t *testing.T) {
	// API callers build Spec values directly; bounds are rejected, not clamped.
	assert.ErrorIs(t, Spec{Kind: KindEveryHours, Every: 25}.Validate(), ErrInvalidInterval)
	assert.ErrorIs(t, Spec{Kind: KindEveryMinutes, Every: 0}.Validate(), ErrInvalidInterval)
	assert.ErrorIs(t, Spec{Kind: KindDaily, Hour: 24}.Validate(), ErrInvalidInterval)
	assert.ErrorIs(t, Spec{Kind: KindWeekly, Days: []int{8}}.Validate(), ErrInvalidInterval)
	assert.NoError(t, Spec{Kind: KindWeekly, Days: []int{6, 7}, Hour: 10}.Validate())
}

func TestCronProjection(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{"daily", NewDaily(3, 0), "0 3 * * *"},
		{"daily with minutes", NewDaily(14, 45), "45 14 * * *"},
		{"every hours", NewEveryHours(6), "0 */6 * * *"},
		{"every minutes", NewEveryMinutes(15), "*/15 * * * *"},
		{"weekly", NewWeekly([]int{3, 1}, 9, 0), "0 9 * * 1,3"},
		{"weekly sunday renders as cron day 0", NewWeekly([]int{7}, 9, 0), "0 9 * * 0"},
		{"weekly sunday joins the list first", NewWeekly([]int{1, 7}, 9, 0), "0 9 * * 0,1"},
		{"weekly empty days defaults to weekdays", NewWeekly(nil, 9, 0), "0 9 * * 1-5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Cron().String())
		})
	}

	t.Run("empty day set is not mutated", func(t *testing.T) {
		spec := NewWeekly(nil, 9, 0)
		_ = spec.Cron()
		assert.Empty(t, spec.Days)
	})
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		tz   string
		want string
	}{
		{"daily", NewDaily(3, 0), "Europe/Moscow", "Daily at 03:00 (Europe/Moscow)"},
		{"every 15 minutes", NewEveryMinutes(15), "", "Every 15 minutes"},
		{"every minute", NewEveryMinutes(1), "", "Every minute"},
		{"every hour", NewEveryHours(1), "", "Every hour"},
		{"every 4 hours", NewEveryHours(4), "UTC", "Every 4 hours (UTC)"},
		{"weekly named days", NewWeekly([]int{1, 4}, 9, 30), "", "On Mon, Thu at 09:30"},
		{"weekly empty days", NewWeekly(nil, 9, 0), "", "On weekdays at 09:00"},
		{"weekly mon-fri", NewWeekly([]int{1, 2, 3, 4, 5}, 9, 0), "", "On weekdays at 09:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.spec.Summarize(tt.tz))
		})
	}
}
