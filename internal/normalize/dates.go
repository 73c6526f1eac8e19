package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// IST is India Standard Time. A fixed zone keeps bucketing independent of
// the host tzdata.
var IST = time.FixedZone("IST", 5*60*60+30*60)

const (
	// DateLayout is the canonical calendar date format used for keys and query params.
	DateLayout  = "2006-01-02"
	labelLayout = "Jan 2"
)

// ErrInvalidRange is returned when a date range cannot be parsed or is inverted.
var ErrInvalidRange = errors.New("invalid date range")

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02 Jan 2006, 03:04 PM",
	"02 Jan 2006 15:04:05",
	"02-01-2006 15:04:05",
	DateLayout,
}

// ParseTimestamp parses the timestamp layouts seen across upstreams.
// Layouts without an offset are interpreted in IST.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// StartOfDay returns IST midnight of the day containing t.
func StartOfDay(t time.Time) time.Time {
	t = t.In(IST)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, IST)
}

// DayKey is the IST calendar day of t as YYYY-MM-DD.
func DayKey(t time.Time) string {
	return t.In(IST).Format(DateLayout)
}

// DayLabel is the short chart label ("Oct 2") of the IST day of t.
func DayLabel(t time.Time) string {
	return t.In(IST).Format(labelLayout)
}

// DateRange is an inclusive range of IST calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from two instants, truncating both to IST days.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: StartOfDay(start), End: StartOfDay(end)}
	if r.End.Before(r.Start) {
		return DateRange{}, fmt.Errorf("%w: start %s is after end %s", ErrInvalidRange, r.StartDate(), r.EndDate())
	}
	return r, nil
}

// ParseDateRange parses the request's start/end strings. Empty values default to
// the 30 days ending today (IST). Full timestamps are accepted and converted to
// their IST calendar day.
func ParseDateRange(start, end string, now time.Time) (DateRange, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return LastNDays(now, 30), nil
	}

	s, err := ParseTimestamp(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start: %v", ErrInvalidRange, err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: end: %v", ErrInvalidRange, err)
	}
	return NewDateRange(s, e)
}

// LastNDays is the n-day range ending on the IST day of now.
func LastNDays(now time.Time, n int) DateRange {
	if n < 1 {
		n = 1
	}
	end := StartOfDay(now)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// MonthRange covers the whole IST calendar month containing t.
func MonthRange(t time.Time) DateRange {
	t = t.In(IST)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, IST)
	return DateRange{Start: first, End: first.AddDate(0, 1, -1)}
}

// StartDate formats the first day.
func (r DateRange) StartDate() string { return r.Start.Format(DateLayout) }

// EndDate formats the last day.
func (r DateRange) EndDate() string { return r.End.Format(DateLayout) }

// Key identifies the range in cache keys.
func (r DateRange) Key() string { return r.StartDate() + "_" + r.EndDate() }

func (r DateRange) String() string { return r.StartDate() + ".." + r.EndDate() }

// Days expands the range into IST midnights, oldest first.
func (r DateRange) Days() []time.Time {
	if r.End.Before(r.Start) {
		return nil
	}
	days := make([]time.Time, 0, r.Len())
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Len is the number of days in the range.
func (r DateRange) Len() int {
	if r.End.Before(r.Start) {
		return 0
	}
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether instant t falls on one of the range's IST days.
func (r DateRange) Contains(t time.Time) bool {
	day := StartOfDay(t)
	return !day.Before(r.Start) && !day.After(r.End)
}

// Equal compares calendar days only.
func (r DateRange) Equal(o DateRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// UpstreamBounds returns the range as absolute instants: IST midnight of the
// first day through 23:59:59 IST of the last day.
func (r DateRange) UpstreamBounds() (time.Time, time.Time) {
	return r.Start, r.End.Add(24*time.Hour - time.Second)
}
