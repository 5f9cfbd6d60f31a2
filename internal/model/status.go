package model

import (
	"time"

	"github.com/dukerupert/timeline/internal/schederr"
)

type Status string

const (
	StatusFuture        Status = "FUTURE"
	StatusActive        Status = "ACTIVE"
	StatusPastUntouched Status = "PAST_UNTOUCHED"
	StatusPastConfirmed Status = "PAST_CONFIRMED"
)

// DeriveStatus computes a ticket's status relative to now. A confirmed
// ticket is PAST_CONFIRMED whatever its time range; otherwise the status
// follows from where now falls in [StartTime, EndTime).
func DeriveStatus(t Ticket, now time.Time) Status {
	switch {
	case t.Confirmed:
		return StatusPastConfirmed
	case now.Before(t.StartTime):
		return StatusFuture
	case now.Before(t.EndTime):
		return StatusActive
	default:
		return StatusPastUntouched
	}
}

// WithStatus returns a copy of t with Status recomputed.
func WithStatus(t Ticket, now time.Time) Ticket {
	t.Status = DeriveStatus(t, now)
	return t
}

// ValidateRange rejects ranges where end is not strictly after start.
func ValidateRange(start, end time.Time) error {
	if start.IsZero() {
		return schederr.Validation("start_time", "start_time is required")
	}
	if end.IsZero() {
		return schederr.Validation("end_time", "end_time is required")
	}
	if !end.After(start) {
		return schederr.Validation("end_time", "end_time must be after start_time")
	}
	return nil
}
