package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GenericCronLabel is the fallback phrase for expressions Humanize
// does not recognize.
const GenericCronLabel = "by cron schedule"

// Humanize produces a best-effort human phrase for a cron expression.
// It pattern-matches the four canonical shapes the simple-mode
// translator emits (daily, every N minutes, every N hours, weekly on a
// day list); everything else gets the generic label. The function exists
// for display of schedules created through raw cron input — it makes no
// round-trip promise beyond those four shapes.
func Humanize(expr Expression) string {
	if expr.dayOfMonth() != "*" || expr.month() != "*" {
		return GenericCronLabel
	}

	minute, minuteOK := atoiStrict(expr.minute())
	hour, hourOK := atoiStrict(expr.hour())

	// */n * * * *
	if n, ok := stepValue(expr.minute()); ok && expr.hour() == "*" && expr.dayOfWeek() == "*" {
		if n == 1 {
			return "Every minute"
		}
		return fmt.Sprintf("Every %d minutes", n)
	}

	// 0 */n * * *
	if n, ok := stepValue(expr.hour()); ok && minuteOK && minute == 0 && expr.dayOfWeek() == "*" {
		if n == 1 {
			return "Every hour"
		}
		return fmt.Sprintf("Every %d hours", n)
	}

	if !minuteOK || !hourOK {
		return GenericCronLabel
	}

	// m h * * *
	if expr.dayOfWeek() == "*" {
		return fmt.Sprintf("Daily at %02d:%02d", hour, minute)
	}

	// m h * * d1,d2,... — "1-5" and "1,2,3,4,5" read identically
	if days, ok := parseDayField(expr.dayOfWeek()); ok {
		return fmt.Sprintf("%s at %02d:%02d", describeDays(days), hour, minute)
	}

	return GenericCronLabel
}

// parseDayField reads a day-of-week field as a set of days 1=Mon..7=Sun.
// Cron writes Sunday as 0, so both 0 and 7 read as Sunday. Comma lists
// and simple a-b ranges are supported; anything else fails.
func parseDayField(field string) ([]int, bool) {
	seen := make(map[int]bool)
	var days []int

	add := func(d int) bool {
		if d == 0 {
			d = 7
		}
		if d < 1 || d > 7 {
			return false
		}
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
		return true
	}

	for _, token := range strings.Split(field, ",") {
		if lo, hi, ok := rangeBounds(token); ok {
			for d := lo; d <= hi; d++ {
				if !add(d) {
					return nil, false
				}
			}
			continue
		}
		d, ok := atoiStrict(token)
		if !ok || !add(d) {
			return nil, false
		}
	}

	if len(days) == 0 {
		return nil, false
	}
	sort.Ints(days)
	return days, true
}

func rangeBounds(token string) (lo, hi int, ok bool) {
	parts := strings.SplitN(token, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, loOK := atoiStrict(parts[0])
	hi, hiOK := atoiStrict(parts[1])
	if !loOK || !hiOK || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

// stepValue reads a "*/n" field, requiring n >= 1.
func stepValue(field string) (int, bool) {
	rest, found := strings.CutPrefix(field, "*/")
	if !found {
		return 0, false
	}
	n, ok := atoiStrict(rest)
	if !ok || n < 1 {
		return 0, false
	}
	return n, true
}

func atoiStrict(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
