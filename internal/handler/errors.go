package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string         `json:"error"`
	Details   []string       `json:"details,omitempty"`
	Conflicts []ConflictView `json:"conflicts,omitempty"`
}

// ConflictView is an overlapping reservation reported with a 409
type ConflictView struct {
	ID        int64  `json:"id"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// conflictSentinels all map to 409 with their own message
var conflictSentinels = []error{
	domain.ErrApartmentUnavailable,
	domain.ErrAlreadyCancelled,
	domain.ErrApartmentInUse,
	domain.ErrDuplicateEmail,
}

// statusFor maps a domain error to an HTTP status and a public body
func statusFor(err error) (int, ErrorResponse) {
	var (
		ve *domain.ValidationError
		nf *domain.NotFoundError
		ce *domain.ConflictError
		se *domain.StoreError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: ve.Violations}
	case errors.As(err, &nf):
		return http.StatusNotFound, ErrorResponse{Error: nf.Error()}
	case errors.As(err, &ce):
		resp := ErrorResponse{Error: "apartment is already booked for these dates"}
		for _, r := range ce.Conflicts {
			resp.Conflicts = append(resp.Conflicts, ConflictView{
				ID:        r.ID,
				StartDate: r.StartDate.Format(booking.DateLayout),
				EndDate:   r.EndDate.Format(booking.DateLayout),
			})
		}
		return http.StatusConflict, resp
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden"}
	case errors.Is(err, domain.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: domain.ErrIdempotencyKeyReused.Error()}
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, ErrorResponse{Error: domain.ErrInvalidCredentials.Error()}
	case errors.As(err, &se):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "storage temporarily unavailable"}
	}
	for _, sentinel := range conflictSentinels {
		if errors.Is(err, sentinel) {
			return http.StatusConflict, ErrorResponse{Error: sentinel.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
}

// writeError maps err to a response. Server-side failures are logged; client
// errors are not.
func writeError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decodeJSON reads a JSON body into v, rejecting unknown fields
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil {
		return nil
	}

	var (
		typeErr *json.UnmarshalTypeError
		sizeErr *http.MaxBytesError
	)
	msg := "Request body must be valid JSON"
	switch {
	case errors.As(err, &typeErr) && typeErr.Field != "":
		msg = fmt.Sprintf("Field %q has the wrong type", typeErr.Field)
	case errors.As(err, &sizeErr):
		msg = "Request body is too large"
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		msg = "Unknown field " + strings.TrimPrefix(err.Error(), "json: unknown field ")
	}
	return &domain.ValidationError{Violations: []string{msg}}
}

// pathID parses the {id} wildcard of the matched route
func pathID(r *http.Request, label string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &domain.ValidationError{Violations: []string{label + " ID must be a valid positive number"}}
	}
	return id, nil
}
