package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Range keys accepted by ResolveDateRange.
const (
	RangeToday  = "today"
	Range7Days  = "7d"
	Range30Days = "30d"
	RangeCustom = "custom"
)

// DateLayout is the wire format for calendar days.
const DateLayout = "2006-01-02"

// MaxCustomRangeDays caps custom ranges so a single request cannot scan years of rows.
const MaxCustomRangeDays = 366

// RangeQuery carries the raw range/start/end request parameters.
type RangeQuery struct {
	Range string
	Start string
	End   string
}

// DateRange is an inclusive span of UTC calendar days.
type DateRange struct {
	Start time.Time `json:"-"`
	End   time.Time `json:"-"`
	Key   string    `json:"range"`
}

// ResolveDateRange turns a request query into concrete UTC day boundaries.
// An empty range defaults to the trailing seven days.
func ResolveDateRange(q RangeQuery, now time.Time) (DateRange, error) {
	today := TruncateToDay(now, time.UTC)
	key := strings.ToLower(strings.TrimSpace(q.Range))
	switch key {
	case RangeToday:
		return DateRange{Start: today, End: today, Key: RangeToday}, nil
	case "", Range7Days:
		return DateRange{Start: today.AddDate(0, 0, -6), End: today, Key: Range7Days}, nil
	case Range30Days:
		return DateRange{Start: today.AddDate(0, 0, -29), End: today, Key: Range30Days}, nil
	case RangeCustom:
		return resolveCustom(q.Start, q.End)
	default:
		return DateRange{}, fmt.Errorf("%w: unknown range %q", ErrInvalidRange, q.Range)
	}
}

func resolveCustom(startRaw, endRaw string) (DateRange, error) {
	startStr := strings.TrimSpace(startRaw)
	endStr := strings.TrimSpace(endRaw)
	if startStr == "" || endStr == "" {
		return DateRange{}, fmt.Errorf("%w: start and end are required for custom ranges", ErrInvalidRange)
	}
	start, err := time.ParseInLocation(DateLayout, startStr, time.UTC)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: invalid start date", ErrInvalidRange)
	}
	end, err := time.ParseInLocation(DateLayout, endStr, time.UTC)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: invalid end date", ErrInvalidRange)
	}
	if start.After(end) {
		return DateRange{}, fmt.Errorf("%w: start is after end", ErrInvalidRange)
	}
	r := DateRange{Start: start, End: end, Key: RangeCustom}
	if r.NumDays() > MaxCustomRangeDays {
		return DateRange{}, fmt.Errorf("%w: custom ranges are limited to %d days", ErrInvalidRange, MaxCustomRangeDays)
	}
	return r, nil
}

// EndExclusive returns midnight after the last included day.
func (r DateRange) EndExclusive() time.Time {
	return r.End.AddDate(0, 0, 1)
}

// Window returns the half-open [start, end+1d) interval used for filtering rows.
func (r DateRange) Window() Window {
	return Window{start: r.Start, end: r.EndExclusive()}
}

// Contains reports whether ts falls on one of the range's days.
func (r DateRange) Contains(ts time.Time) bool {
	return r.Window().Contains(ts)
}

// NumDays returns the count of inclusive calendar days.
func (r DateRange) NumDays() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Days enumerates every day key from start to end inclusive.
func (r DateRange) Days() []string {
	if r.End.Before(r.Start) {
		return nil
	}
	days := make([]string, 0, r.NumDays())
	for day := r.Start; !day.After(r.End); day = day.AddDate(0, 0, 1) {
		days = append(days, day.Format(DateLayout))
	}
	return days
}

// StartDate formats the first day as YYYY-MM-DD.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate formats the last day as YYYY-MM-DD.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }
