package run

import (
	"fmt"
	"time"

	"github.com/t77yq/ingest-console/internal/model"
)

// MarkTimeout forces a queued or running run into the terminal timeout
// state. This is administrative bookkeeping only: the worker that owns
// the run is not signaled and may keep executing in the background. The
// caller is expected to surface that caveat to the operator.
//
// Runs already in a terminal state are left untouched and
// ErrIllegalTransition is returned.
func MarkTimeout(r *model.Run, reasonCode, reasonText string, now time.Time) error {
	if !r.Status.IsActive() {
		return fmt.Errorf("%w: cannot time out run %s in status %s", ErrIllegalTransition, r.ID, r.Status)
	}

	r.Status = model.RunStatusTimeout
	r.FinishedAt = &now
	r.UpdatedAt = now
	r.ErrorMessage = timeoutReason(reasonCode, reasonText)
	setDuration(r, now)
	return nil
}

func timeoutReason(code, text string) string {
	switch {
	case code != "" && text != "":
		return code + ": " + text
	case code != "":
		return code
	case text != "":
		return text
	}
	return "timed out by operator"
}

// Apply folds a worker status update into the run, keeping the
// finished_at/terminal invariant. Late updates for runs an operator has
// already timed out are rejected; timeout is one-way.
func Apply(r *model.Run, upd *model.RunStatusUpdate, now time.Time) error {
	if r.Status.IsTerminal() {
		return fmt.Errorf("%w: run %s is already %s", ErrIllegalTransition, r.ID, r.Status)
	}

	if r.Status == model.RunStatusQueued && upd.Status != model.RunStatusQueued && r.StartedAt == nil {
		started := now
		if !upd.ReportedAt.IsZero() {
			started = upd.ReportedAt
		}
		r.StartedAt = &started
	}

	r.Status = upd.Status
	r.UpdatedAt = now
	if upd.ErrorMessage != "" {
		r.ErrorMessage = upd.ErrorMessage
	}
	if upd.ErrorTrace != "" {
		r.ErrorTrace = upd.ErrorTrace
	}
	if len(upd.Stats) > 0 {
		r.Stats = upd.Stats
	}

	if upd.Status.IsTerminal() {
		finished := now
		if !upd.ReportedAt.IsZero() {
			finished = upd.ReportedAt
		}
		r.FinishedAt = &finished
		setDuration(r, finished)
	}
	return nil
}

func setDuration(r *model.Run, finished time.Time) {
	if r.DurationMS != nil || r.StartedAt == nil {
		return
	}
	ms := finished.Sub(*r.StartedAt).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	r.DurationMS = &ms
}

// LastActivity returns the timestamp shown as the run's latest sign of
// life: the heartbeat when the executor has sent one, the last record
// update otherwise.
func LastActivity(r *model.Run) time.Time {
	if r.HeartbeatAt != nil {
		return *r.HeartbeatAt
	}
	return r.UpdatedAt
}

// RelativeAge renders how long ago t was, in whole minutes.
func RelativeAge(t, now time.Time) string {
	age := now.Sub(t)
	if age < time.Minute {
		return "just now"
	}
	minutes := int(age.Round(time.Minute) / time.Minute)
	if minutes <= 1 {
		return "1 min ago"
	}
	return fmt.Sprintf("%d min ago", minutes)
}

// FormatDuration renders a recorded duration for list views. Durations
// under a minute show seconds only; longer ones show minutes plus the
// second remainder. Missing or non-positive values render as "-".
func FormatDuration(ms *int64) string {
	if ms == nil || *ms <= 0 {
		return "-"
	}
	seconds := *ms / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
}
