package schedule

import (
	"fmt"
	"strings"
)

// Expression is a validated five-field cron expression
// (minute, hour, day-of-month, month, day-of-week).
//
// Validation checks the field count only. Field ranges and step syntax
// are deliberately left to the cron library inside the dispatcher, which
// is the single place expressions are actually evaluated. A string like
// "99 99 * * *" passes here and is rejected when the schedule is armed.
type Expression struct {
	fields [5]string
}

// ParseExpression validates raw cron text and returns its canonical form.
func ParseExpression(raw string) (Expression, error) {
	parts := strings.Fields(raw)
	if len(parts) != 5 {
		return Expression{}, fmt.Errorf("%w: cron must have 5 parts, got %d", ErrInvalidCron, len(parts))
	}

	var expr Expression
	copy(expr.fields[:], parts)
	return expr, nil
}

// MustExpression is ParseExpression for expressions known to be valid.
// It panics on malformed input and is intended for constants and tests.
func MustExpression(raw string) Expression {
	expr, err := ParseExpression(raw)
	if err != nil {
		panic(err)
	}
	return expr
}

// String returns the canonical single-spaced text of the expression.
func (e Expression) String() string {
	return strings.Join(e.fields[:], " ")
}

func (e Expression) minute() string     { return e.fields[0] }
func (e Expression) hour() string       { return e.fields[1] }
func (e Expression) dayOfMonth() string { return e.fields[2] }
func (e Expression) month() string      { return e.fields[3] }
func (e Expression) dayOfWeek() string  { return e.fields[4] }

// ValidateTimezone checks an IANA timezone name at submission time.
// Only emptiness is checked; name resolution happens in the dispatcher
// when the schedule is armed.
func ValidateTimezone(tz string) error {
	if strings.TrimSpace(tz) == "" {
		return fmt.Errorf("%w: timezone must not be empty", ErrInvalidTimezone)
	}
	return nil
}
