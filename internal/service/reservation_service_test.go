package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/events"
	"github.com/Staycoo10/mini-airbnb/internal/security"
)

var today = time.Date(2025, 1, 1, 15, 30, 0, 0, time.UTC)

type ReservationServiceSuite struct {
	suite.Suite

	ctx    context.Context
	store  *memStore
	events *recordingPublisher
	svc    *ReservationService

	owner domain.Actor
	guest domain.Actor
	other domain.Actor
	admin domain.Actor
	apt   *domain.Apartment
}

func TestReservationService(t *testing.T) {
	suite.Run(t, new(ReservationServiceSuite))
}

func (s *ReservationServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newMemStore()
	s.events = &recordingPublisher{}
	s.owner = s.store.addUser("Olga", domain.RoleUser)
	s.guest = s.store.addUser("Gheorghe", domain.RoleUser)
	s.other = s.store.addUser("Ion", domain.RoleUser)
	s.admin = s.store.addUser("Ana", domain.RoleAdmin)
	s.apt = s.store.addApartment(s.owner.ID, "100.00", true)
	s.svc = s.newService(security.GateOptions{})
}

func (s *ReservationServiceSuite) newService(opts security.GateOptions) *ReservationService {
	gate := security.NewReservationGate(s.store.Users(), opts, nil)
	return NewReservationService(s.store, gate, nil,
		WithClock(func() time.Time { return today }),
		WithEvents(s.events),
	)
}

func (s *ReservationServiceSuite) book(actor domain.Actor, start, end string) (*BookingResult, error) {
	return s.svc.Create(s.ctx, actor, booking.Request{ApartmentID: s.apt.ID, StartDate: start, EndDate: end})
}

func (s *ReservationServiceSuite) TestCreatePricesTheStay() {
	res, err := s.book(s.guest, "2025-01-05", "2025-01-08")
	s.Require().NoError(err)

	s.Equal(3, res.Days)
	s.Equal("300.00", res.TotalPrice.StringFixed(2))
	s.Equal(domain.StatusActive, res.Reservation.Status)
	s.Equal(s.guest.ID, res.Reservation.GuestID)
	s.Equal(s.apt.ID, res.Reservation.ApartmentID)
	s.NotZero(res.Reservation.ID)
	s.False(res.Replayed)

	stored, err := s.store.Reservations().FindByID(s.ctx, res.Reservation.ID)
	s.Require().NoError(err)
	s.Equal(mustDate("2025-01-05"), stored.StartDate)
	s.Equal(mustDate("2025-01-08"), stored.EndDate)
	s.Equal([]string{string(events.ReservationCreated)}, s.events.events)
}

func (s *ReservationServiceSuite) TestCheckoutDayIsBookable() {
	_, err := s.book(s.guest, "2025-01-05", "2025-01-10")
	s.Require().NoError(err)

	_, err = s.book(s.other, "2025-01-10", "2025-01-15")
	s.NoError(err)

	_, err = s.book(s.other, "2025-01-01", "2025-01-05")
	s.NoError(err)
}

func (s *ReservationServiceSuite) TestOverlapIsRejected() {
	first, err := s.book(s.guest, "2025-01-05", "2025-01-10")
	s.Require().NoError(err)

	cases := []struct{ start, end string }{
		{"2025-01-09", "2025-01-12"},
		{"2025-01-03", "2025-01-06"},
		{"2025-01-06", "2025-01-07"},
		{"2025-01-01", "2025-01-20"},
		{"2025-01-05", "2025-01-10"},
	}
	for _, tc := range cases {
		_, err := s.book(s.other, tc.start, tc.end)
		var ce *domain.ConflictError
		if s.ErrorAs(err, &ce, "%s..%s", tc.start, tc.end) {
			s.Require().Len(ce.Conflicts, 1)
			s.Equal(first.Reservation.ID, ce.Conflicts[0].ID)
		}
	}

	n, err := s.store.Reservations().CountActive(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *ReservationServiceSuite) TestCancelledReservationDoesNotBlock() {
	s.store.addReservation(s.other.ID, s.apt.ID, "2025-01-05", "2025-01-10", domain.StatusCancelled)

	_, err := s.book(s.guest, "2025-01-06", "2025-01-08")
	s.NoError(err)
}

func (s *ReservationServiceSuite) TestUnavailableApartment() {
	closed := s.store.addApartment(s.owner.ID, "50", false)

	_, err := s.svc.Create(s.ctx, s.guest, booking.Request{ApartmentID: closed.ID, StartDate: "2025-01-05", EndDate: "2025-01-06"})
	s.ErrorIs(err, domain.ErrApartmentUnavailable)
}

func (s *ReservationServiceSuite) TestMissingApartment() {
	_, err := s.svc.Create(s.ctx, s.guest, booking.Request{ApartmentID: 9999, StartDate: "2025-01-05", EndDate: "2025-01-06"})
	var nf *domain.NotFoundError
	s.Require().ErrorAs(err, &nf)
	s.Equal("apartment", nf.Entity)
}

func (s *ReservationServiceSuite) TestValidationReportsEveryViolation() {
	_, err := s.svc.Create(s.ctx, s.guest, booking.Request{StartDate: "2024-12-20", EndDate: "2024-12-19"})
	var ve *domain.ValidationError
	s.Require().ErrorAs(err, &ve)
	s.ElementsMatch([]string{
		"Apartment ID is required",
		"End date must be after start date",
		"Start date cannot be in the past",
	}, ve.Violations)

	n, _ := s.store.Reservations().CountActive(s.ctx)
	s.Zero(n)
	s.Empty(s.events.events)
}

func (s *ReservationServiceSuite) TestTodayIsNotInThePast() {
	_, err := s.book(s.guest, "2025-01-01", "2025-01-02")
	s.NoError(err)
}

func (s *ReservationServiceSuite) TestUnknownActorIsForbidden() {
	_, err := s.book(domain.Actor{ID: 4242, Role: domain.RoleAdmin}, "2025-01-05", "2025-01-06")
	s.ErrorIs(err, domain.ErrForbidden)
}

func (s *ReservationServiceSuite) TestStoreFailureLeavesNothingBehind() {
	boom := &domain.StoreError{Op: "insert reservation", Err: errors.New("connection reset")}
	s.store.failInsert = boom

	_, err := s.book(s.guest, "2025-01-05", "2025-01-06")
	var se *domain.StoreError
	s.Require().ErrorAs(err, &se)
	s.Equal("insert reservation", se.Op)

	n, _ := s.store.Reservations().CountActive(s.ctx)
	s.Zero(n)
}

func (s *ReservationServiceSuite) TestConcurrentOverlappingCreates() {
	const attempts = 16
	var created, conflicted atomic.Int32

	g, ctx := errgroup.WithContext(s.ctx)
	for i := 0; i < attempts; i++ {
		actor := s.guest
		if i%2 == 1 {
			actor = s.other
		}
		g.Go(func() error {
			_, err := s.svc.Create(ctx, actor, booking.Request{ApartmentID: s.apt.ID, StartDate: "2025-02-01", EndDate: "2025-02-05"})
			var ce *domain.ConflictError
			switch {
			case err == nil:
				created.Add(1)
			case errors.As(err, &ce):
				conflicted.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int32(1), created.Load())
	s.Equal(int32(attempts-1), conflicted.Load())
}

func (s *ReservationServiceSuite) TestGuestCancels() {
	res, err := s.book(s.guest, "2025-01-05", "2025-01-10")
	s.Require().NoError(err)

	prior, err := s.svc.Cancel(s.ctx, s.guest, res.Reservation.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusActive, prior.Status)

	stored, err := s.store.Reservations().FindByID(s.ctx, res.Reservation.ID)
	s.Require().NoError(err)
	s.Equal(domain.StatusCancelled, stored.Status)

	_, err = s.svc.Cancel(s.ctx, s.guest, res.Reservation.ID)
	s.ErrorIs(err, domain.ErrAlreadyCancelled)

	_, err = s.book(s.other, "2025-01-05", "2025-01-10")
	s.NoError(err, "cancelled dates become bookable again")

	s.Equal([]string{
		string(events.ReservationCreated),
		string(events.ReservationCancelled),
		string(events.ReservationCreated),
	}, s.events.events)
}

func (s *ReservationServiceSuite) TestCancelPermissions() {
	res, err := s.book(s.guest, "2025-01-05", "2025-01-10")
	s.Require().NoError(err)

	_, err = s.svc.Cancel(s.ctx, s.other, res.Reservation.ID)
	s.ErrorIs(err, domain.ErrForbidden)

	_, err = s.svc.Cancel(s.ctx, s.admin, res.Reservation.ID)
	s.ErrorIs(err, domain.ErrForbidden, "admin cancel is off by default")

	_, err = s.svc.Cancel(s.ctx, s.guest, 9999)
	s.True(domain.IsNotFound(err))

	s.svc = s.newService(security.GateOptions{AdminCanCancel: true})
	_, err = s.svc.Cancel(s.ctx, s.admin, res.Reservation.ID)
	s.NoError(err)
}

func (s *ReservationServiceSuite) TestListForUser() {
	s.store.addReservation(s.guest.ID, s.apt.ID, "2025-01-03", "2025-01-05", domain.StatusCancelled)
	s.store.addReservation(s.guest.ID, s.apt.ID, "2025-03-01", "2025-03-04", domain.StatusActive)
	s.store.addReservation(s.other.ID, s.apt.ID, "2025-02-01", "2025-02-02", domain.StatusActive)

	items, err := s.svc.ListForUser(s.ctx, s.guest)
	s.Require().NoError(err)
	s.Require().Len(items, 2)

	s.Equal(mustDate("2025-03-01"), items[0].StartDate)
	s.Equal(3, items[0].Days)
	s.Equal("300.00", items[0].TotalPrice.StringFixed(2))
	s.Equal("Olga", items[0].OwnerName)
	s.Equal("Gheorghe", items[0].GuestName)
	s.Equal(domain.StatusCancelled, items[1].Status)

	empty, err := s.svc.ListForUser(s.ctx, s.admin)
	s.Require().NoError(err)
	s.Empty(empty)
}

func (s *ReservationServiceSuite) TestGetByID() {
	r := s.store.addReservation(s.guest.ID, s.apt.ID, "2025-01-05", "2025-01-07", domain.StatusActive)

	d, err := s.svc.GetByID(s.ctx, s.guest, r.ID)
	s.Require().NoError(err)
	s.Equal(2, d.Days)
	s.Equal("200.00", d.TotalPrice.StringFixed(2))

	_, err = s.svc.GetByID(s.ctx, s.other, r.ID)
	s.ErrorIs(err, domain.ErrForbidden)

	_, err = s.svc.GetByID(s.ctx, s.admin, r.ID)
	s.NoError(err)

	_, err = s.svc.GetByID(s.ctx, s.guest, 9999)
	s.True(domain.IsNotFound(err))
}

func (s *ReservationServiceSuite) TestListAll() {
	s.store.addReservation(s.guest.ID, s.apt.ID, "2025-01-05", "2025-01-07", domain.StatusActive)
	s.store.addReservation(s.other.ID, s.apt.ID, "2025-01-08", "2025-01-09", domain.StatusCancelled)

	_, err := s.svc.ListAll(s.ctx, s.guest, domain.ReservationFilter{})
	s.ErrorIs(err, domain.ErrForbidden)

	all, err := s.svc.ListAll(s.ctx, s.admin, domain.ReservationFilter{})
	s.Require().NoError(err)
	s.Len(all, 2)

	active := domain.StatusActive
	filtered, err := s.svc.ListAll(s.ctx, s.admin, domain.ReservationFilter{Status: &active})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Equal(s.guest.ID, filtered[0].GuestID)

	guestID := s.other.ID
	byGuest, err := s.svc.ListAll(s.ctx, s.admin, domain.ReservationFilter{Status: &active, GuestID: &guestID})
	s.Require().NoError(err)
	s.Empty(byGuest)

	bogus := domain.ReservationStatus("pending")
	_, err = s.svc.ListAll(s.ctx, s.admin, domain.ReservationFilter{Status: &bogus})
	var ve *domain.ValidationError
	s.ErrorAs(err, &ve)
}

func (s *ReservationServiceSuite) TestRoleComesFromTheStore() {
	forged := domain.Actor{ID: s.guest.ID, Role: domain.RoleAdmin}
	_, err := s.svc.ListAll(s.ctx, forged, domain.ReservationFilter{})
	s.ErrorIs(err, domain.ErrForbidden)
}

func (s *ReservationServiceSuite) TestRefreshActiveGauge() {
	s.store.addReservation(s.guest.ID, s.apt.ID, "2025-01-05", "2025-01-07", domain.StatusActive)
	s.store.addReservation(s.guest.ID, s.apt.ID, "2025-01-08", "2025-01-09", domain.StatusCancelled)

	n, err := s.svc.RefreshActiveGauge(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func TestResultLabels(t *testing.T) {
	assert.Equal(t, "created", bookingResultLabel(nil))
	assert.Equal(t, "conflict", bookingResultLabel(&domain.ConflictError{}))
	assert.Equal(t, "invalid", bookingResultLabel(&domain.ValidationError{}))
	assert.Equal(t, "unavailable", bookingResultLabel(domain.ErrApartmentUnavailable))
	assert.Equal(t, "not_found", bookingResultLabel(&domain.NotFoundError{Entity: "apartment"}))
	assert.Equal(t, "error", bookingResultLabel(errors.New("x")))

	assert.Equal(t, "already_cancelled", cancelResultLabel(domain.ErrAlreadyCancelled))
	require.Equal(t, "forbidden", cancelResultLabel(domain.ErrForbidden))
}
