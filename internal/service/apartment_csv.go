package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/security"
)

var (
	importColumns = []string{"title", "description", "price", "location"}
	exportColumns = []string{"id", "title", "description", "price", "location", "is_available", "owner_id", "owner_name"}
)

// RowError explains why one CSV row was not imported. Rows are numbered as
// lines in the file, so the first data row is row 2.
type RowError struct {
	Row    int      `json:"row"`
	Errors []string `json:"errors"`
}

// ImportResult summarises a CSV import
type ImportResult struct {
	Total    int        `json:"total"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

func (r *ImportResult) fail(row int, violations ...string) {
	r.Failed++
	r.Errors = append(r.Errors, RowError{Row: row, Errors: violations})
}

// ImportCSV creates one apartment per data row of src, all owned by the
// actor. Rows are imported independently: a bad row is reported and skipped.
// The header must name title, description, price and location; is_available
// is optional.
func (s *ApartmentService) ImportCSV(ctx context.Context, actor domain.Actor, src io.Reader) (*ImportResult, error) {
	actor, err := s.actors.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.guard.ValidateCreate(actor, security.ResourceApartment); err != nil {
		return nil, err
	}

	cr := csv.NewReader(src)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &domain.ValidationError{Violations: []string{"CSV file is empty"}}
	}
	if err != nil {
		return nil, csvReadError(err)
	}
	index := columnIndex(header)
	var missing []string
	for _, col := range importColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, "Missing column: "+col)
		}
	}
	if len(missing) > 0 {
		return nil, &domain.ValidationError{Violations: missing}
	}

	result := &ImportResult{Errors: []RowError{}}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			result.Total++
			result.fail(pe.StartLine, "Row is not valid CSV")
			continue
		}
		if err != nil {
			return nil, csvReadError(err)
		}

		result.Total++
		row, _ := cr.FieldPos(0)
		if len(rec) != len(header) {
			result.fail(row, fmt.Sprintf("Column count mismatch. Expected %d, got %d", len(header), len(rec)))
			continue
		}

		in, violations := importRow(rec, index)
		if err := in.check(); err != nil {
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				return nil, err
			}
			violations = append(violations, ve.Violations...)
		}
		if len(violations) > 0 {
			result.fail(row, violations...)
			continue
		}

		apt := newApartment(in, actor.ID)
		if err := s.apartments.Create(ctx, apt); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("import row not saved", slog.Int("row", row), slog.String("error", err.Error()))
			result.fail(row, "Row could not be saved")
			continue
		}
		result.Imported++
	}

	s.logger.Info("apartments imported",
		slog.Int64("owner_id", actor.ID),
		slog.Int("total", result.Total),
		slog.Int("imported", result.Imported),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// ExportCSV writes the apartments matching filter to dst as CSV with a header
// row and returns the number of apartments written. Nothing is written when
// no apartment matches; the call fails with a NotFoundError instead.
func (s *ApartmentService) ExportCSV(ctx context.Context, actor domain.Actor, filter domain.ApartmentFilter, dst io.Writer) (int, error) {
	if _, err := s.actors.Resolve(ctx, actor); err != nil {
		return 0, err
	}
	items, err := s.apartments.Search(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, &domain.NotFoundError{Entity: "matching apartment"}
	}

	w := csv.NewWriter(dst)
	if err := w.Write(exportColumns); err != nil {
		return 0, err
	}
	for _, l := range items {
		if err := w.Write([]string{
			strconv.FormatInt(l.ID, 10),
			safeCell(l.Title),
			safeCell(l.Description),
			l.Price.StringFixed(2),
			safeCell(l.Location),
			strconv.FormatBool(l.IsAvailable),
			strconv.FormatInt(l.OwnerID, 10),
			safeCell(l.OwnerName),
		}); err != nil {
			return 0, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, err
	}
	return len(items), nil
}

func columnIndex(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	return index
}

// importRow maps one record onto an ApartmentInput. Violations that check()
// cannot see, such as an unparseable price, are returned separately.
func importRow(rec []string, index map[string]int) (ApartmentInput, []string) {
	field := func(name string) string {
		if i, ok := index[name]; ok {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var violations []string
	in := ApartmentInput{
		Title:       field("title"),
		Description: field("description"),
		Location:    field("location"),
	}
	if raw := field("price"); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			p = decimal.Zero
		}
		in.Price = &p
	}
	if raw := field("is_available"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			violations = append(violations, "Is available must be true or false")
		} else {
			in.IsAvailable = &v
		}
	}
	return in, violations
}

// safeCell stops spreadsheet applications from evaluating a cell as a formula
func safeCell(v string) string {
	if v != "" && strings.ContainsRune("=+-@", rune(v[0])) {
		return "'" + v
	}
	return v
}

func csvReadError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &domain.ValidationError{Violations: []string{fmt.Sprintf("CSV header is malformed on line %d", pe.StartLine)}}
	}
	return fmt.Errorf("read csv: %w", err)
}
