package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the shape of a simple schedule spec
type Kind string

const (
	KindDaily        Kind = "daily"
	KindEveryHours   Kind = "every_hours"
	KindEveryMinutes Kind = "every_minutes"
	KindWeekly       Kind = "weekly"
)

// Interval and clock bounds for simple-mode input.
const (
	MinEveryHours   = 1
	MaxEveryHours   = 24
	MinEveryMinutes = 1
	MaxEveryMinutes = 60
)

// weekdayRange is the day-of-week field rendered for a weekly spec
// with no days selected.
const weekdayRange = "1-5"

var dayNames = [8]string{"", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// Spec is a restricted human-friendly schedule shape. It is the source
// of truth for summary rendering; cron is only its canonical persisted
// projection. Values are clamped into range by the constructors, so a
// Spec built through them is always valid.
type Spec struct {
	Kind   Kind  `json:"kind"`
	Hour   int   `json:"hour,omitempty"`
	Minute int   `json:"minute,omitempty"`
	Every  int   `json:"every,omitempty"`
	Days   []int `json:"days,omitempty"` // 1=Mon .. 7=Sun, ascending
}

// NewDaily builds a daily-at-HH:MM spec, clamping the clock fields.
func NewDaily(hour, minute int) Spec {
	return Spec{
		Kind:   KindDaily,
		Hour:   clamp(hour, 0, 23),
		Minute: clamp(minute, 0, 59),
	}
}

// NewEveryHours builds an every-N-hours spec, clamping N into [1,24].
func NewEveryHours(n int) Spec {
	return Spec{Kind: KindEveryHours, Every: clamp(n, MinEveryHours, MaxEveryHours)}
}

// NewEveryMinutes builds an every-N-minutes spec, clamping N into [1,60].
func NewEveryMinutes(n int) Spec {
	return Spec{Kind: KindEveryMinutes, Every: clamp(n, MinEveryMinutes, MaxEveryMinutes)}
}

// NewWeekly builds a weekly spec. Out-of-range day values are dropped,
// duplicates collapsed, and the remainder sorted ascending. An empty day
// set is kept as-is; it renders as Mon-Fri at projection time only.
func NewWeekly(days []int, hour, minute int) Spec {
	seen := make(map[int]bool, len(days))
	var kept []int
	for _, d := range days {
		if d < 1 || d > 7 || seen[d] {
			continue
		}
		seen[d] = true
		kept = append(kept, d)
	}
	sort.Ints(kept)

	return Spec{
		Kind:   KindWeekly,
		Days:   kept,
		Hour:   clamp(hour, 0, 23),
		Minute: clamp(minute, 0, 59),
	}
}

// FormValues carries raw operator input from the simple-mode form.
// Fields are untrusted strings; non-numeric values read as zero and are
// then clamped by the spec constructors.
type FormValues struct {
	Kind   string
	Hour   string
	Minute string
	Every  string
	Days   []string
}

// SpecFromForm maps raw form input into a valid Spec.
func SpecFromForm(v FormValues) (Spec, error) {
	switch Kind(v.Kind) {
	case KindDaily:
		return NewDaily(atoi(v.Hour), atoi(v.Minute)), nil
	case KindEveryHours:
		return NewEveryHours(atoi(v.Every)), nil
	case KindEveryMinutes:
		return NewEveryMinutes(atoi(v.Every)), nil
	case KindWeekly:
		days := make([]int, 0, len(v.Days))
		for _, d := range v.Days {
			days = append(days, atoi(d))
		}
		return NewWeekly(days, atoi(v.Hour), atoi(v.Minute)), nil
	default:
		return Spec{}, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidInterval, v.Kind)
	}
}

// Validate strictly checks field bounds. API callers construct Spec
// values directly, so out-of-range input is rejected here rather than
// silently clamped the way form input is.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindDaily:
		return s.validateClock()
	case KindEveryHours:
		if s.Every < MinEveryHours || s.Every > MaxEveryHours {
			return fmt.Errorf("%w: hours interval must be %d-%d, got %d",
				ErrInvalidInterval, MinEveryHours, MaxEveryHours, s.Every)
		}
	case KindEveryMinutes:
		if s.Every < MinEveryMinutes || s.Every > MaxEveryMinutes {
			return fmt.Errorf("%w: minutes interval must be %d-%d, got %d",
				ErrInvalidInterval, MinEveryMinutes, MaxEveryMinutes, s.Every)
		}
	case KindWeekly:
		for _, d := range s.Days {
			if d < 1 || d > 7 {
				return fmt.Errorf("%w: day of week must be 1-7, got %d", ErrInvalidInterval, d)
			}
		}
		return s.validateClock()
	default:
		return fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidInterval, s.Kind)
	}
	return nil
}

func (s Spec) validateClock() error {
	if s.Hour < 0 || s.Hour > 23 {
		return fmt.Errorf("%w: hour must be 0-23, got %d", ErrInvalidInterval, s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return fmt.Errorf("%w: minute must be 0-59, got %d", ErrInvalidInterval, s.Minute)
	}
	return nil
}

// Cron projects the spec onto its canonical cron expression. The
// projection is total for specs built through the constructors.
func (s Spec) Cron() Expression {
	var raw string
	switch s.Kind {
	case KindDaily:
		raw = fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	case KindEveryHours:
		raw = fmt.Sprintf("0 */%d * * *", s.Every)
	case KindEveryMinutes:
		raw = fmt.Sprintf("*/%d * * * *", s.Every)
	case KindWeekly:
		days := weekdayRange
		if len(s.Days) > 0 {
			days = cronDayList(s.Days)
		}
		raw = fmt.Sprintf("%d %d * * %s", s.Minute, s.Hour, days)
	default:
		raw = fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
	}
	return MustExpression(raw)
}

// Summarize renders the operator-facing summary straight from the spec,
// preserving full fidelity instead of re-parsing the cron projection.
func (s Spec) Summarize(timezone string) string {
	var out string
	switch s.Kind {
	case KindDaily:
		out = fmt.Sprintf("Daily at %02d:%02d", s.Hour, s.Minute)
	case KindEveryHours:
		if s.Every == 1 {
			out = "Every hour"
		} else {
			out = fmt.Sprintf("Every %d hours", s.Every)
		}
	case KindEveryMinutes:
		if s.Every == 1 {
			out = "Every minute"
		} else {
			out = fmt.Sprintf("Every %d minutes", s.Every)
		}
	case KindWeekly:
		out = fmt.Sprintf("%s at %02d:%02d", describeDays(s.Days), s.Hour, s.Minute)
	default:
		out = "By cron schedule"
	}

	if timezone != "" {
		out += fmt.Sprintf(" (%s)", timezone)
	}
	return out
}

// cronDayList renders a day set in cron's day-of-week numbering, where
// Sunday is 0. Internal day values use 1=Mon..7=Sun; standard cron
// parsers reject 7, so Sunday must be written as 0.
func cronDayList(days []int) string {
	mapped := make([]int, len(days))
	for i, d := range days {
		mapped[i] = d % 7
	}
	sort.Ints(mapped)

	tokens := make([]string, len(mapped))
	for i, d := range mapped {
		tokens[i] = strconv.Itoa(d)
	}
	return strings.Join(tokens, ",")
}

func describeDays(days []int) string {
	if len(days) == 0 || isWeekdays(days) {
		return "On weekdays"
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = dayNames[d]
	}
	return "On " + strings.Join(names, ", ")
}

func isWeekdays(days []int) bool {
	if len(days) != 5 {
		return false
	}
	for i, d := range days {
		if d != i+1 {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// atoi reads untrusted numeric input; anything unparseable is zero and
// ends up clamped to the field's lower bound.
func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
