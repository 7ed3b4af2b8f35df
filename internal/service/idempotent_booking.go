package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/observability/metrics"
	"github.com/Staycoo10/mini-airbnb/internal/reliability/circuitbreaker"
)

const maxIdempotencyKeyLen = 128

// fingerprintSpace namespaces the name-based UUIDs used as request fingerprints
var fingerprintSpace = uuid.MustParse("3b0f6c1e-52a4-4d7e-9c1a-7e2d5f8a6b90")

// IdempotentBooker answers a repeated booking request carrying the same
// Idempotency-Key with the reservation the first request created. When the
// key store is unreachable bookings still go through without replay.
type IdempotentBooker struct {
	reservations *ReservationService
	keys         domain.IdempotencyStore
	breaker      *circuitbreaker.CircuitBreaker
	logger       *slog.Logger
}

// NewIdempotentBooker creates a new idempotent booker
func NewIdempotentBooker(reservations *ReservationService, keys domain.IdempotencyStore, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *IdempotentBooker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotentBooker{
		reservations: reservations,
		keys:         keys,
		breaker:      breaker,
		logger:       logger,
	}
}

// Book creates a reservation, or replays the earlier result for key
func (b *IdempotentBooker) Book(ctx context.Context, actor domain.Actor, key string, req booking.Request) (*BookingResult, error) {
	key = strings.TrimSpace(key)
	if key == "" || b.keys == nil {
		return b.reservations.Create(ctx, actor, req)
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, &domain.ValidationError{Violations: []string{"Idempotency key is too long"}}
	}

	fingerprint := requestFingerprint(req)
	var (
		rec   domain.IdempotencyRecord
		found bool
	)
	err := b.guard(func() error {
		var err error
		rec, found, err = b.keys.Lookup(ctx, actor.ID, key)
		return err
	})
	if err != nil {
		b.logger.Warn("idempotency lookup skipped", slog.String("error", err.Error()))
	}
	if found {
		if rec.Fingerprint != fingerprint {
			return nil, domain.ErrIdempotencyKeyReused
		}
		result, err := b.reservations.Replay(ctx, actor, rec.ReservationID)
		switch {
		case err == nil:
			metrics.ObserveIdempotentReplay()
			return result, nil
		case domain.IsNotFound(err):
			// stale key, book again
		default:
			return nil, err
		}
	}

	result, err := b.reservations.Create(ctx, actor, req)
	if err != nil {
		return nil, err
	}

	if err := b.guard(func() error {
		return b.keys.Remember(ctx, actor.ID, key, domain.IdempotencyRecord{
			ReservationID: result.Reservation.ID,
			Fingerprint:   fingerprint,
		})
	}); err != nil {
		b.logger.Warn("idempotency key not stored",
			slog.Int64("reservation_id", result.Reservation.ID),
			slog.String("error", err.Error()),
		)
	}
	return result, nil
}

func (b *IdempotentBooker) guard(fn func() error) error {
	if b.breaker == nil {
		return fn()
	}
	return b.breaker.Execute(fn)
}

// requestFingerprint identifies what was asked for. Dates are compared as
// calendar dates so "2025-01-05" and "2025-01-05T00:00:00Z" match.
func requestFingerprint(req booking.Request) string {
	name := fmt.Sprintf("%d|%s|%s", req.ApartmentID, canonicalDate(req.StartDate), canonicalDate(req.EndDate))
	return uuid.NewSHA1(fingerprintSpace, []byte(name)).String()
}

func canonicalDate(raw string) string {
	if t, err := booking.ParseDate(raw); err == nil {
		return t.Format(booking.DateLayout)
	}
	return strings.TrimSpace(raw)
}
