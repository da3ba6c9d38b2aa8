package run

import "errors"

// ErrIllegalTransition is returned when a status change is requested
// on a run already in a terminal state
var ErrIllegalTransition = errors.New("illegal run status transition")
