// Package booking holds the pure parts of reservation booking: calendar date
// ranges, the overlap rule, nightly pricing and request validation.
//
// Ranges are half-open: [Start, End). A guest checking out on a day frees the
// apartment for a guest checking in on that same day.
package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

const (
	DateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

// Range is a half-open span of calendar dates
type Range struct {
	Start time.Time
	End   time.Time
}

// NewRange builds a range from two instants, truncating both to calendar dates
func NewRange(start, end time.Time) Range {
	return Range{Start: DateOf(start), End: DateOf(end)}
}

// RangeOf returns the range covered by a reservation
func RangeOf(r *domain.Reservation) Range {
	return NewRange(r.StartDate, r.EndDate)
}

// Overlaps reports whether two ranges share at least one night
func (a Range) Overlaps(b Range) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Nights is the number of nights in the range, rounded up
func (a Range) Nights() int {
	d := a.End.Sub(a.Start)
	if d <= 0 {
		return 0
	}
	n := int(d / day)
	if d%day != 0 {
		n++
	}
	return n
}

func (a Range) String() string {
	return fmt.Sprintf("[%s, %s)", a.Start.Format(DateLayout), a.End.Format(DateLayout))
}

// FindOverlapping returns the active reservations in existing that overlap candidate
func FindOverlapping(candidate Range, existing []*domain.Reservation) []*domain.Reservation {
	var out []*domain.Reservation
	for _, r := range existing {
		if !r.IsActive() {
			continue
		}
		if candidate.Overlaps(RangeOf(r)) {
			out = append(out, r)
		}
	}
	return out
}

// IsOverlapping reports whether any active reservation in existing overlaps candidate
func IsOverlapping(candidate Range, existing []*domain.Reservation) bool {
	return len(FindOverlapping(candidate, existing)) > 0
}

// DateOf drops the clock part of t, keeping the calendar date as seen in t's location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp and returns the calendar date
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", raw)
	}
	return DateOf(t), nil
}
