// Package subscribe implements the subscription scheduling and persistence
// core: a durable per-group ledger of delivery requests and the live trigger
// set that fires them.
package subscribe

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// fireAtLayout is the naive local timestamp format persisted for one-shot
// subscriptions. It is interpreted in the configured time zone.
const fireAtLayout = "2006-01-02 15:04"

// Subscription is one scheduled delivery request. Exactly one of FireAt /
// Cron is set.
type Subscription struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// City is the payload descriptor handed to the delivery adapter.
	City string `json:"city"`

	// FireAt is a naive "YYYY-MM-DD HH:MM" local timestamp (one-shot).
	FireAt string `json:"datetime,omitempty"`

	// Cron is a five-field recurrence expression; CronLabel is the
	// human-readable description derived once at creation time.
	Cron      string `json:"cron,omitempty"`
	CronLabel string `json:"cron_h,omitempty"`
}

func (s Subscription) Recurring() bool { return strings.TrimSpace(s.Cron) != "" }

// FireTime parses the one-shot timestamp in the given location.
func (s Subscription) FireTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(fireAtLayout, s.FireAt, loc)
}

// ScheduleLabel renders the schedule for listings.
func (s Subscription) ScheduleLabel() string {
	if s.Recurring() {
		return fmt.Sprintf("%s(Cron: %s)", s.CronLabel, s.Cron)
	}
	return s.FireAt
}

// FormatFireAt renders t in the persisted one-shot timestamp format.
func FormatFireAt(t time.Time) string { return t.Format(fireAtLayout) }

// Deliverer consumes a due subscription. Errors are logged by the scheduler
// and never retried outside the subscription's own recurrence.
type Deliverer interface {
	Deliver(ctx context.Context, groupKey string, sub Subscription) error
}
