package service

import "errors"

var (
	// ErrUpstreamUnavailable is returned when a collaborator call fails
	// transiently; the operation is safe to retry
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrScheduleUnsupported is returned when a job cannot be scheduled
	ErrScheduleUnsupported = errors.New("job does not support scheduling")

	// ErrManualUnsupported is returned when a job cannot be triggered manually
	ErrManualUnsupported = errors.New("job does not support manual runs")
)
