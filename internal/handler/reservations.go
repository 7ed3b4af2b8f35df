package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/security/middleware"
	"github.com/Staycoo10/mini-airbnb/internal/service"
)

// IdempotencyHeader carries the client's retry key on booking requests
const IdempotencyHeader = "Idempotency-Key"

// ReplayHeader is set on responses answered from an earlier booking
const ReplayHeader = "X-Idempotent-Replay"

// Booker creates reservations, honouring idempotency keys
type Booker interface {
	Book(ctx context.Context, actor domain.Actor, key string, req booking.Request) (*service.BookingResult, error)
}

// ReservationManager is the part of the reservation service the handler uses
type ReservationManager interface {
	Cancel(ctx context.Context, actor domain.Actor, id int64) (*domain.Reservation, error)
	ListForUser(ctx context.Context, actor domain.Actor) ([]*domain.ReservationDetails, error)
	GetByID(ctx context.Context, actor domain.Actor, id int64) (*domain.ReservationDetails, error)
	ListAll(ctx context.Context, actor domain.Actor, filter domain.ReservationFilter) ([]*domain.ReservationDetails, error)
}

// ReservationHandler serves the reservation endpoints
type ReservationHandler struct {
	booker       Booker
	reservations ReservationManager
	logger       *slog.Logger
}

// NewReservationHandler creates a new reservation handler
func NewReservationHandler(booker Booker, reservations ReservationManager, logger *slog.Logger) *ReservationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationHandler{booker: booker, reservations: reservations, logger: logger}
}

// CreateReservationRequest is the body of POST /api/reservations. The
// apartment id is accepted as a number or a numeric string.
type CreateReservationRequest struct {
	ApartmentID json.RawMessage `json:"apartmentId"`
	StartDate   string          `json:"startDate"`
	EndDate     string          `json:"endDate"`
}

// CancelResponse is returned after a successful cancellation
type CancelResponse struct {
	Message     string              `json:"message"`
	Reservation *domain.Reservation `json:"reservation"`
}

// Create handles POST /api/reservations
func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateReservationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	result, err := h.booker.Book(r.Context(), actor, r.Header.Get(IdempotencyHeader), booking.Request{
		ApartmentID: apartmentIDFrom(req.ApartmentID),
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	if result.Replayed {
		w.Header().Set(ReplayHeader, "true")
	}
	writeJSON(w, http.StatusCreated, result)
}

// Mine handles GET /api/reservations/my
func (h *ReservationHandler) Mine(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	items, err := h.reservations.ListForUser(r.Context(), actor)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

// Get handles GET /api/reservations/{id}
func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r, "Reservation")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	d, err := h.reservations.GetByID(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Cancel handles DELETE /api/reservations/{id}. The reservation is kept with
// status cancelled.
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r, "Reservation")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	prior, err := h.reservations.Cancel(r.Context(), actor, id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Message: "Reservation cancelled", Reservation: prior})
}

// List handles GET /api/reservations for administrators
func (h *ReservationHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	items, err := h.reservations.ListAll(r.Context(), actor, filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

// apartmentIDFrom returns 0 for a missing id and -1 for one that is not a
// positive integer, so booking validation reports it next to the date checks
func apartmentIDFrom(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return -1
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0
		}
	} else {
		text = string(raw)
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil || id <= 0 {
		return -1
	}
	return id
}

// parseFilter reads status, apartment_id and guest_id from the query string
func parseFilter(r *http.Request) (domain.ReservationFilter, error) {
	var (
		f          domain.ReservationFilter
		violations []string
	)
	q := r.URL.Query()

	if raw := q.Get("status"); raw != "" {
		s, err := domain.ParseReservationStatus(raw)
		if err != nil {
			violations = append(violations, fmt.Sprintf("Status %q is not a valid reservation status", raw))
		} else {
			f.Status = &s
		}
	}
	parse := func(key, label string) *int64 {
		raw := q.Get(key)
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			violations = append(violations, label+" must be a valid positive number")
			return nil
		}
		return &v
	}
	f.ApartmentID = parse("apartment_id", "Apartment ID")
	f.GuestID = parse("guest_id", "Guest ID")

	if len(violations) > 0 {
		return f, &domain.ValidationError{Violations: violations}
	}
	return f, nil
}

func nonNil(items []*domain.ReservationDetails) []*domain.ReservationDetails {
	if items == nil {
		return []*domain.ReservationDetails{}
	}
	return items
}
