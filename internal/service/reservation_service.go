package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/events"
	"github.com/Staycoo10/mini-airbnb/internal/observability/metrics"
	"github.com/Staycoo10/mini-airbnb/internal/security"
)

// EventPublisher receives reservation changes after they are committed
type EventPublisher interface {
	Publish(e events.Event)
}

// BookingResult is a persisted reservation with its computed price
type BookingResult struct {
	Reservation *domain.Reservation `json:"reservation"`
	Days        int                 `json:"days"`
	TotalPrice  decimal.Decimal     `json:"totalPrice"`
	Replayed    bool                `json:"-"`
}

// ReservationService creates, cancels and queries reservations
type ReservationService struct {
	store  domain.Store
	gate   *security.ReservationGate
	events EventPublisher
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// ReservationOption customises a ReservationService
type ReservationOption func(*ReservationService)

// WithClock overrides the clock used to decide what "today" is
func WithClock(now func() time.Time) ReservationOption {
	return func(s *ReservationService) { s.now = now }
}

// WithEvents publishes committed changes to p
func WithEvents(p EventPublisher) ReservationOption {
	return func(s *ReservationService) { s.events = p }
}

// NewReservationService creates a new reservation service
func NewReservationService(
	store domain.Store,
	gate *security.ReservationGate,
	logger *slog.Logger,
	opts ...ReservationOption,
) *ReservationService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ReservationService{
		store:  store,
		gate:   gate,
		logger: logger,
		tracer: otel.Tracer("github.com/Staycoo10/mini-airbnb/internal/service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create books an apartment for the actor. The apartment row stays locked
// from the availability check until the insert commits, so two overlapping
// requests cannot both succeed.
func (s *ReservationService) Create(ctx context.Context, actor domain.Actor, req booking.Request) (*BookingResult, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Create", trace.WithAttributes(
		attribute.Int64("actor.id", actor.ID),
		attribute.Int64("apartment.id", req.ApartmentID),
	))
	defer span.End()
	start := time.Now()

	result, err := s.create(ctx, actor, req)
	metrics.ObserveBooking(bookingResultLabel(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, bookingResultLabel(err))
		return nil, err
	}

	span.SetAttributes(attribute.Int64("reservation.id", result.Reservation.ID))
	metrics.IncrementActive()
	s.publish(events.ReservationCreated, result.Reservation)
	s.logger.Info("reservation created",
		slog.Int64("reservation_id", result.Reservation.ID),
		slog.Int64("apartment_id", result.Reservation.ApartmentID),
		slog.Int64("guest_id", actor.ID),
		slog.Int("days", result.Days),
		slog.String("total_price", result.TotalPrice.StringFixed(2)),
	)
	return result, nil
}

func (s *ReservationService) create(ctx context.Context, actor domain.Actor, req booking.Request) (*BookingResult, error) {
	stay, err := booking.Validate(req, s.now())
	if err != nil {
		return nil, err
	}

	actor, err = s.gate.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !s.gate.HasPermission(actor.Role, security.PermBookApartment) {
		return nil, domain.ErrForbidden
	}

	var result *BookingResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.BookingTx) error {
		apt, err := tx.LockApartment(ctx, req.ApartmentID)
		if err != nil {
			return err
		}
		if !apt.IsAvailable {
			return domain.ErrApartmentUnavailable
		}

		active, err := tx.FindActiveByApartment(ctx, apt.ID)
		if err != nil {
			return err
		}
		if conflicts := booking.FindOverlapping(stay, active); len(conflicts) > 0 {
			return &domain.ConflictError{Conflicts: conflicts}
		}

		res := &domain.Reservation{
			GuestID:     actor.ID,
			ApartmentID: apt.ID,
			StartDate:   stay.Start,
			EndDate:     stay.End,
			Status:      domain.StatusActive,
		}
		if err := tx.Insert(ctx, res); err != nil {
			return err
		}

		total, days, err := booking.ComputeTotal(apt.Price, stay)
		if err != nil {
			return err
		}
		result = &BookingResult{Reservation: res, Days: days, TotalPrice: total}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel marks the reservation cancelled and returns the record as it was
// before the change. Reservations are never deleted.
func (s *ReservationService) Cancel(ctx context.Context, actor domain.Actor, reservationID int64) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.Cancel", trace.WithAttributes(
		attribute.Int64("actor.id", actor.ID),
		attribute.Int64("reservation.id", reservationID),
	))
	defer span.End()

	prior, err := s.cancel(ctx, actor, reservationID)
	metrics.ObserveCancellation(cancelResultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, cancelResultLabel(err))
		return nil, err
	}

	metrics.DecrementActive()
	s.publish(events.ReservationCancelled, prior)
	s.logger.Info("reservation cancelled",
		slog.Int64("reservation_id", prior.ID),
		slog.Int64("apartment_id", prior.ApartmentID),
		slog.Int64("actor_id", actor.ID),
	)
	return prior, nil
}

func (s *ReservationService) cancel(ctx context.Context, actor domain.Actor, reservationID int64) (*domain.Reservation, error) {
	res, err := s.store.Reservations().FindByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}

	actor, err = s.gate.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanCancel(actor, res) {
		return nil, fmt.Errorf("%w: cannot cancel reservation %d", domain.ErrForbidden, res.ID)
	}

	if !res.Status.CanTransitionTo(domain.StatusCancelled) {
		return nil, domain.ErrAlreadyCancelled
	}

	ok, err := s.store.Reservations().UpdateStatus(ctx, res.ID, domain.StatusActive, domain.StatusCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		// lost a race with another cancel
		return nil, domain.ErrAlreadyCancelled
	}
	return res, nil
}

// ListForUser returns the actor's own reservations, newest stay first
func (s *ReservationService) ListForUser(ctx context.Context, actor domain.Actor) ([]*domain.ReservationDetails, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.ListForUser")
	defer span.End()

	items, err := s.store.Reservations().FindByGuest(ctx, actor.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return annotateAndSort(items), nil
}

// GetByID returns one reservation if the actor may see it
func (s *ReservationService) GetByID(ctx context.Context, actor domain.Actor, id int64) (*domain.ReservationDetails, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.GetByID", trace.WithAttributes(
		attribute.Int64("reservation.id", id),
	))
	defer span.End()

	d, err := s.store.Reservations().FindDetailsByID(ctx, id)
	if err != nil {
		return nil, err
	}

	actor, err = s.gate.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanView(actor, &d.Reservation) {
		return nil, fmt.Errorf("%w: cannot view reservation %d", domain.ErrForbidden, id)
	}

	booking.Annotate(d)
	return d, nil
}

// ListAll returns every reservation matching filter. Admins only.
func (s *ReservationService) ListAll(ctx context.Context, actor domain.Actor, filter domain.ReservationFilter) ([]*domain.ReservationDetails, error) {
	ctx, span := s.tracer.Start(ctx, "ReservationService.ListAll")
	defer span.End()

	actor, err := s.gate.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !s.gate.CanListAll(actor) {
		return nil, fmt.Errorf("%w: listing all reservations requires admin", domain.ErrForbidden)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, &domain.ValidationError{Violations: []string{fmt.Sprintf("Status %q is not a valid reservation status", *filter.Status)}}
	}

	items, err := s.store.Reservations().FindAll(ctx, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return annotateAndSort(items), nil
}

// Replay rebuilds the result of an earlier successful booking
func (s *ReservationService) Replay(ctx context.Context, actor domain.Actor, reservationID int64) (*BookingResult, error) {
	d, err := s.GetByID(ctx, actor, reservationID)
	if err != nil {
		return nil, err
	}
	r := d.Reservation
	return &BookingResult{Reservation: &r, Days: d.Days, TotalPrice: d.TotalPrice, Replayed: true}, nil
}

// RefreshActiveGauge recounts active reservations into the metrics gauge
func (s *ReservationService) RefreshActiveGauge(ctx context.Context) (int, error) {
	n, err := s.store.Reservations().CountActive(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SetActive(n)
	return n, nil
}

func (s *ReservationService) publish(t events.Type, r *domain.Reservation) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Type:          t,
		ApartmentID:   r.ApartmentID,
		ReservationID: r.ID,
		StartDate:     r.StartDate.Format(booking.DateLayout),
		EndDate:       r.EndDate.Format(booking.DateLayout),
		At:            s.now(),
	})
}

func annotateAndSort(items []*domain.ReservationDetails) []*domain.ReservationDetails {
	for _, d := range items {
		booking.Annotate(d)
	}
	slices.SortStableFunc(items, func(a, b *domain.ReservationDetails) int {
		return b.StartDate.Compare(a.StartDate)
	})
	return items
}

func bookingResultLabel(err error) string {
	var (
		ve *domain.ValidationError
		ce *domain.ConflictError
	)
	switch {
	case err == nil:
		return "created"
	case errors.As(err, &ve):
		return "invalid"
	case errors.As(err, &ce):
		return "conflict"
	case errors.Is(err, domain.ErrApartmentUnavailable):
		return "unavailable"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}

func cancelResultLabel(err error) string {
	switch {
	case err == nil:
		return "cancelled"
	case errors.Is(err, domain.ErrAlreadyCancelled):
		return "already_cancelled"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
