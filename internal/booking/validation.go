package booking

import (
	"strings"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// Request is the raw shape of a booking request
type Request struct {
	ApartmentID int64
	StartDate   string
	EndDate     string
}

// Validate checks a booking request against today's date and returns the
// parsed range. Every violated constraint is reported, not only the first.
func Validate(req Request, today time.Time) (Range, error) {
	var violations []string

	switch {
	case req.ApartmentID == 0:
		violations = append(violations, "Apartment ID is required")
	case req.ApartmentID < 0:
		violations = append(violations, "Apartment ID must be a valid positive number")
	}

	start, startOK := parseField(req.StartDate, "Start date", &violations)
	end, endOK := parseField(req.EndDate, "End date", &violations)

	if startOK && endOK {
		if !end.After(start) {
			violations = append(violations, "End date must be after start date")
		}
		if start.Before(DateOf(today)) {
			violations = append(violations, "Start date cannot be in the past")
		}
	}

	if len(violations) > 0 {
		return Range{}, &domain.ValidationError{Violations: violations}
	}
	return Range{Start: start, End: end}, nil
}

func parseField(raw, label string, violations *[]string) (time.Time, bool) {
	if strings.TrimSpace(raw) == "" {
		*violations = append(*violations, label+" is required")
		return time.Time{}, false
	}
	t, err := ParseDate(raw)
	if err != nil {
		*violations = append(*violations, label+" must be a valid date")
		return time.Time{}, false
	}
	return t, true
}
