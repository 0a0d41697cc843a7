package subscribe

import (
	"fmt"
	"strings"
)

// Recurrence is a five-field calendar pattern. Field values are kept verbatim
// (ranges, lists, wildcards pass through); semantic interpretation belongs to
// the scheduling engine, not this layer. No timezone handling here either —
// the scheduler applies the configured location uniformly.
type Recurrence struct {
	Minute     string
	Hour       string
	DayOfMonth string
	Month      string
	DayOfWeek  string
}

// ParseRecurrence splits expr on whitespace and requires exactly five fields
// (minute hour day-of-month month day-of-week).
func ParseRecurrence(expr string) (Recurrence, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Recurrence{}, fmt.Errorf("%w: want 5 fields, got %d in %q", ErrMalformedRecurrence, len(fields), expr)
	}
	return Recurrence{
		Minute:     fields[0],
		Hour:       fields[1],
		DayOfMonth: fields[2],
		Month:      fields[3],
		DayOfWeek:  fields[4],
	}, nil
}

// String joins the fields back into the canonical single-spaced expression.
func (r Recurrence) String() string {
	return strings.Join([]string{r.Minute, r.Hour, r.DayOfMonth, r.Month, r.DayOfWeek}, " ")
}
