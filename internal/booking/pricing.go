package booking

import (
	"github.com/shopspring/decimal"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// ComputeTotal prices a stay at a nightly rate. The result is rounded to
// cents, half away from zero. A range shorter than one night is rejected.
func ComputeTotal(nightly decimal.Decimal, r Range) (decimal.Decimal, int, error) {
	days := r.Nights()
	if days < 1 {
		return decimal.Zero, 0, &domain.ValidationError{
			Violations: []string{"End date must be after start date"},
		}
	}
	total := nightly.Mul(decimal.NewFromInt(int64(days))).Round(2)
	return total, days, nil
}

// Annotate fills in Days and TotalPrice on a joined reservation row
func Annotate(d *domain.ReservationDetails) {
	total, days, err := ComputeTotal(d.ApartmentPrice, RangeOf(&d.Reservation))
	if err != nil {
		return
	}
	d.Days = days
	d.TotalPrice = total
}
