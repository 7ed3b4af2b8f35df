package domain

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReservationStatus is the lifecycle state of a reservation
type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusCancelled ReservationStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses
func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
// The only transition is active -> cancelled.
func (s ReservationStatus) CanTransitionTo(next ReservationStatus) bool {
	return s == StatusActive && next == StatusCancelled
}

// ParseReservationStatus converts a raw tag into a ReservationStatus
func ParseReservationStatus(raw string) (ReservationStatus, error) {
	s := ReservationStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown reservation status %q", raw)
	}
	return s, nil
}

// Reservation is a guest's booking of an apartment for [StartDate, EndDate)
type Reservation struct {
	ID          int64             `json:"id"`
	GuestID     int64             `json:"guestId"`
	ApartmentID int64             `json:"apartmentId"`
	StartDate   time.Time         `json:"startDate"` // UTC midnight
	EndDate     time.Time         `json:"endDate"`   // UTC midnight, exclusive
	Status      ReservationStatus `json:"status"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// IsActive reports whether the reservation takes part in availability checks
func (r *Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// ReservationDetails is a reservation joined with its apartment, owner and guest
type ReservationDetails struct {
	Reservation
	ApartmentTitle    string          `json:"apartmentTitle"`
	ApartmentLocation string          `json:"apartmentLocation"`
	ApartmentPrice    decimal.Decimal `json:"apartmentPrice"`
	OwnerName         string          `json:"ownerName"`
	GuestName         string          `json:"guestName"`
	Days              int             `json:"days"`
	TotalPrice        decimal.Decimal `json:"totalPrice"`
}

// ReservationFilter narrows a system-wide listing. Nil fields are ignored;
// set fields are combined with AND.
type ReservationFilter struct {
	Status      *ReservationStatus
	ApartmentID *int64
	GuestID     *int64
}

// ReservationRepository defines data access for reservations
type ReservationRepository interface {
	Insert(ctx context.Context, r *Reservation) error
	FindByID(ctx context.Context, id int64) (*Reservation, error)
	FindDetailsByID(ctx context.Context, id int64) (*ReservationDetails, error)
	FindActiveByApartment(ctx context.Context, apartmentID int64) ([]*Reservation, error)
	FindByGuest(ctx context.Context, guestID int64) ([]*ReservationDetails, error)
	FindAll(ctx context.Context, filter ReservationFilter) ([]*ReservationDetails, error)
	// UpdateStatus moves a reservation from one status to another and reports
	// whether a row matched. A false result means the row was not in status from.
	UpdateStatus(ctx context.Context, id int64, from, to ReservationStatus) (bool, error)
	CountActive(ctx context.Context) (int, error)
}

// BookingTx is the set of operations a booking needs inside one transaction
type BookingTx interface {
	// LockApartment loads the apartment and holds a row lock until the
	// transaction ends, serialising bookings per apartment.
	LockApartment(ctx context.Context, id int64) (*Apartment, error)
	FindActiveByApartment(ctx context.Context, apartmentID int64) ([]*Reservation, error)
	Insert(ctx context.Context, r *Reservation) error
}

// Store groups the repositories and the transactional booking entry point
type Store interface {
	Apartments() ApartmentRepository
	Reservations() ReservationRepository
	Users() UserRepository
	// WithinTx runs fn in a single transaction. It commits when fn returns nil
	// and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx BookingTx) error) error
}
