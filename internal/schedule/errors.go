package schedule

import "errors"

var (
	// ErrInvalidCron is returned when a cron expression is malformed
	ErrInvalidCron = errors.New("invalid cron expression")

	// ErrInvalidInterval is returned when a simple-mode interval is out of bounds
	ErrInvalidInterval = errors.New("invalid schedule interval")

	// ErrInvalidTimezone is returned when a timezone name is empty or blank
	ErrInvalidTimezone = errors.New("invalid timezone")
)
