package timeutil

import (
	"errors"
	"time"
)

var ErrInvalidRange = errors.New("invalid date range")

// Window represents a half-open [start, end) interval.
type Window struct {
	start time.Time
	end   time.Time
}

// EnsureLocation returns UTC when loc is nil.
func EnsureLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}

// Bounds returns the start/end timestamps.
func (w Window) Bounds() (time.Time, time.Time) { return w.start, w.end }

// Contains reports whether the timestamp falls within [start, end).
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.start) && ts.Before(w.end)
}

// TruncateToDay normalizes the timestamp to midnight in the provided zone.
func TruncateToDay(t time.Time, loc *time.Location) time.Time {
	loc = EnsureLocation(loc)
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey formats a timestamp as its UTC calendar day (YYYY-MM-DD).
func DayKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
