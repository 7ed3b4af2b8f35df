package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Staycoo10/mini-airbnb/internal/booking"
	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// PostgresReservationRepository implements domain.ReservationRepository using
// PostgreSQL. Dates are stored as DATE columns.
type PostgresReservationRepository struct {
	q      querier
	logger *slog.Logger
}

// NewPostgresReservationRepository creates a new reservation repository
func NewPostgresReservationRepository(db *sql.DB, logger *slog.Logger) *PostgresReservationRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresReservationRepository{q: db, logger: logger}
}

const reservationColumns = `r.id, r.guest_id, r.apartment_id, r.start_date, r.end_date, r.status, r.created_at, r.updated_at`

const detailsQuery = `
	SELECT ` + reservationColumns + `,
	       a.title, a.location, a.price, o.name, g.name
	FROM reservations r
	JOIN apartments a ON a.id = r.apartment_id
	JOIN users o ON o.id = a.owner_id
	JOIN users g ON g.id = r.guest_id`

func scanReservation(row rowScanner, extra ...any) (*domain.Reservation, error) {
	res := &domain.Reservation{}
	dest := append([]any{
		&res.ID,
		&res.GuestID,
		&res.ApartmentID,
		&res.StartDate,
		&res.EndDate,
		&res.Status,
		&res.CreatedAt,
		&res.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	res.StartDate = booking.DateOf(res.StartDate)
	res.EndDate = booking.DateOf(res.EndDate)
	return res, nil
}

func scanDetails(row rowScanner) (*domain.ReservationDetails, error) {
	d := &domain.ReservationDetails{}
	res, err := scanReservation(row,
		&d.ApartmentTitle,
		&d.ApartmentLocation,
		&d.ApartmentPrice,
		&d.OwnerName,
		&d.GuestName,
	)
	if err != nil {
		return nil, err
	}
	d.Reservation = *res
	return d, nil
}

// Insert stores a new reservation. An overlap caught by the database
// exclusion constraint is reported as a ConflictError.
func (r *PostgresReservationRepository) Insert(ctx context.Context, res *domain.Reservation) error {
	if res.Status == "" {
		res.Status = domain.StatusActive
	}
	query := `
		INSERT INTO reservations (guest_id, apartment_id, start_date, end_date, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.q.QueryRowContext(ctx, query,
		res.GuestID,
		res.ApartmentID,
		res.StartDate.Format(booking.DateLayout),
		res.EndDate.Format(booking.DateLayout),
		res.Status,
	).Scan(&res.ID, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		switch pqCode(err) {
		case codeExclusionViolation:
			return &domain.ConflictError{}
		case codeForeignKeyViolation:
			return &domain.NotFoundError{Entity: "apartment", ID: res.ApartmentID}
		}
		r.logger.Error("failed to insert reservation",
			slog.Int64("apartment_id", res.ApartmentID),
			slog.String("error", err.Error()),
		)
		return storeErr("insert reservation", err)
	}
	return nil
}

// FindByID retrieves a reservation by ID
func (r *PostgresReservationRepository) FindByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations r WHERE r.id = $1`, id)
	res, err := scanReservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "reservation", ID: id}
		}
		return nil, storeErr("find reservation", err)
	}
	return res, nil
}

// FindDetailsByID retrieves a reservation joined with its apartment and people
func (r *PostgresReservationRepository) FindDetailsByID(ctx context.Context, id int64) (*domain.ReservationDetails, error) {
	d, err := scanDetails(r.q.QueryRowContext(ctx, detailsQuery+` WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "reservation", ID: id}
		}
		return nil, storeErr("find reservation details", err)
	}
	return d, nil
}

// FindActiveByApartment returns the active reservations of one apartment
func (r *PostgresReservationRepository) FindActiveByApartment(ctx context.Context, apartmentID int64) ([]*domain.Reservation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations r
		WHERE r.apartment_id = $1 AND r.status = $2
		ORDER BY r.start_date`, apartmentID, domain.StatusActive)
	if err != nil {
		return nil, storeErr("find active reservations", err)
	}
	defer rows.Close()

	var out []*domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, storeErr("scan reservation", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find active reservations", err)
	}
	return out, nil
}

// FindByGuest returns every reservation a guest made, in any status
func (r *PostgresReservationRepository) FindByGuest(ctx context.Context, guestID int64) ([]*domain.ReservationDetails, error) {
	return r.queryDetails(ctx, "find reservations by guest",
		detailsQuery+` WHERE r.guest_id = $1 ORDER BY r.start_date DESC, r.id`, guestID)
}

// FindAll returns reservations matching every set field of filter
func (r *PostgresReservationRepository) FindAll(ctx context.Context, filter domain.ReservationFilter) ([]*domain.ReservationDetails, error) {
	where, args := filterClause(filter)
	return r.queryDetails(ctx, "find all reservations",
		detailsQuery+where+` ORDER BY r.start_date DESC, r.id`, args...)
}

func filterClause(f domain.ReservationFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != nil {
		add("r.status", *f.Status)
	}
	if f.ApartmentID != nil {
		add("r.apartment_id", *f.ApartmentID)
	}
	if f.GuestID != nil {
		add("r.guest_id", *f.GuestID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresReservationRepository) queryDetails(ctx context.Context, op, query string, args ...any) ([]*domain.ReservationDetails, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var out []*domain.ReservationDetails
	for rows.Next() {
		d, err := scanDetails(rows)
		if err != nil {
			return nil, storeErr("scan reservation details", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return out, nil
}

// UpdateStatus performs a conditional status change
func (r *PostgresReservationRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.ReservationStatus) (bool, error) {
	result, err := r.q.ExecContext(ctx, `
		UPDATE reservations SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		// reactivating a cancelled stay can collide with a newer booking
		if pqCode(err) == codeExclusionViolation {
			return false, &domain.ConflictError{}
		}
		return false, storeErr("update reservation status", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, storeErr("update reservation status", err)
	}
	return n == 1, nil
}

// CountActive returns the number of active reservations
func (r *PostgresReservationRepository) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT count(*) FROM reservations WHERE status = $1`, domain.StatusActive).Scan(&n)
	if err != nil {
		return 0, storeErr("count active reservations", err)
	}
	return n, nil
}
