package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/security/middleware"
	"github.com/Staycoo10/mini-airbnb/internal/service"
)

// ApartmentManager is the part of the apartment service the handler uses
type ApartmentManager interface {
	List(ctx context.Context) ([]*domain.Apartment, error)
	Get(ctx context.Context, id int64) (*domain.Apartment, error)
	Create(ctx context.Context, actor domain.Actor, in service.ApartmentInput) (*domain.Apartment, error)
	Update(ctx context.Context, actor domain.Actor, id int64, in service.ApartmentInput) (*domain.Apartment, error)
	Delete(ctx context.Context, actor domain.Actor, id int64) error
	ImportCSV(ctx context.Context, actor domain.Actor, src io.Reader) (*service.ImportResult, error)
	ExportCSV(ctx context.Context, actor domain.Actor, filter domain.ApartmentFilter, dst io.Writer) (int, error)
}

// ImportFormField is the multipart field carrying the CSV upload
const ImportFormField = "file"

// ImportResponse is returned after a CSV import
type ImportResponse struct {
	Message string                `json:"message"`
	Results *service.ImportResult `json:"results"`
}

// ApartmentHandler serves apartment listings
type ApartmentHandler struct {
	apartments ApartmentManager
	logger     *slog.Logger
}

// NewApartmentHandler creates a new apartment handler
func NewApartmentHandler(apartments ApartmentManager, logger *slog.Logger) *ApartmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApartmentHandler{apartments: apartments, logger: logger}
}

// List handles GET /api/apartments
func (h *ApartmentHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.apartments.List(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if items == nil {
		items = []*domain.Apartment{}
	}
	writeJSON(w, http.StatusOK, items)
}

// Get handles GET /api/apartments/{id}
func (h *ApartmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Apartment")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	apt, err := h.apartments.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// Create handles POST /api/apartments
func (h *ApartmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var in service.ApartmentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	apt, err := h.apartments.Create(r.Context(), actor, in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apt)
}

// Update handles PUT /api/apartments/{id}
func (h *ApartmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r, "Apartment")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var in service.ApartmentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	apt, err := h.apartments.Update(r.Context(), actor, id, in)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apt)
}

// Delete handles DELETE /api/apartments/{id}
func (h *ApartmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	id, err := pathID(r, "Apartment")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	if err := h.apartments.Delete(r.Context(), actor, id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import handles POST /api/apartments/import. The CSV arrives as a multipart
// upload; every imported apartment is owned by the caller.
func (h *ApartmentHandler) Import(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	file, header, err := r.FormFile(ImportFormField)
	if err != nil {
		var sizeErr *http.MaxBytesError
		msg := "No file uploaded"
		if errors.As(err, &sizeErr) {
			msg = "CSV file is too large"
		}
		writeError(w, h.logger, r, &domain.ValidationError{Violations: []string{msg}})
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeError(w, h.logger, r, &domain.ValidationError{Violations: []string{"Invalid file type. Only CSV files are allowed"}})
		return
	}

	result, err := h.apartments.ImportCSV(r.Context(), actor, file)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Message: "Import completed", Results: result})
}

// Export handles GET /api/apartments/export and answers with a CSV download.
// Query parameters location, min_price, max_price, is_available and owner_id
// narrow the export.
func (h *ApartmentHandler) Export(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.GetActorFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter, err := parseApartmentFilter(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var buf bytes.Buffer
	n, err := h.apartments.ExportCSV(r.Context(), actor, filter, &buf)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=apartments_export.csv")
	w.Header().Set("X-Total-Count", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("export write failed", slog.String("error", err.Error()))
	}
}

func parseApartmentFilter(r *http.Request) (domain.ApartmentFilter, error) {
	var (
		f          domain.ApartmentFilter
		violations []string
	)
	q := r.URL.Query()

	f.Location = strings.TrimSpace(q.Get("location"))
	money := func(key, label string) *decimal.Decimal {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			return nil
		}
		v, err := decimal.NewFromString(raw)
		if err != nil || v.IsNegative() {
			violations = append(violations, label+" must be a valid non-negative number")
			return nil
		}
		return &v
	}
	f.MinPrice = money("min_price", "Min price")
	f.MaxPrice = money("max_price", "Max price")

	if raw := strings.TrimSpace(q.Get("is_available")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			violations = append(violations, "Is available must be true or false")
		} else {
			f.IsAvailable = &v
		}
	}
	if raw := strings.TrimSpace(q.Get("owner_id")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			violations = append(violations, "Owner ID must be a valid positive number")
		} else {
			f.OwnerID = &v
		}
	}

	if len(violations) > 0 {
		return f, &domain.ValidationError{Violations: violations}
	}
	return f, nil
}
