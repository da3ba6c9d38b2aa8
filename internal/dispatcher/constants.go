package dispatcher

import "time"

const (
	scheduleStreamName    = "SCHEDULES"
	scheduleArmSubject    = "schedule.arm"
	scheduleDisarmSubject = "schedule.disarm"

	streamMaxAge  = 24 * time.Hour
	streamMaxMsgs = -1
)
