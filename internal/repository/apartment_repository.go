package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// PostgresApartmentRepository implements domain.ApartmentRepository using PostgreSQL
type PostgresApartmentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresApartmentRepository creates a new apartment repository
func NewPostgresApartmentRepository(db *sql.DB, logger *slog.Logger) *PostgresApartmentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresApartmentRepository{db: db, logger: logger}
}

const apartmentColumns = `id, title, description, location, price, is_available, owner_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApartment(row rowScanner) (*domain.Apartment, error) {
	a := &domain.Apartment{}
	err := row.Scan(
		&a.ID,
		&a.Title,
		&a.Description,
		&a.Location,
		&a.Price,
		&a.IsAvailable,
		&a.OwnerID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func getApartment(ctx context.Context, q querier, id int64, forUpdate bool) (*domain.Apartment, error) {
	query := `SELECT ` + apartmentColumns + ` FROM apartments WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanApartment(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: "apartment", ID: id}
		}
		return nil, storeErr("get apartment", err)
	}
	return a, nil
}

// GetByID retrieves an apartment by ID
func (r *PostgresApartmentRepository) GetByID(ctx context.Context, id int64) (*domain.Apartment, error) {
	return getApartment(ctx, r.db, id, false)
}

// Create inserts a new apartment
func (r *PostgresApartmentRepository) Create(ctx context.Context, a *domain.Apartment) error {
	query := `
		INSERT INTO apartments (title, description, location, price, is_available, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.Title, a.Description, a.Location, a.Price, a.IsAvailable, a.OwnerID,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create apartment", slog.String("error", err.Error()))
		return storeErr("create apartment", err)
	}
	return nil
}

// Update replaces the mutable fields of an apartment
func (r *PostgresApartmentRepository) Update(ctx context.Context, a *domain.Apartment) error {
	query := `
		UPDATE apartments
		SET title = $1, description = $2, location = $3, price = $4, is_available = $5, updated_at = now()
		WHERE id = $6
		RETURNING updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.Title, a.Description, a.Location, a.Price, a.IsAvailable, a.ID,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Entity: "apartment", ID: a.ID}
		}
		r.logger.Error("failed to update apartment",
			slog.Int64("id", a.ID),
			slog.String("error", err.Error()),
		)
		return storeErr("update apartment", err)
	}
	return nil
}

// Delete removes an apartment. Reservations reference apartments, so one
// with any booking history cannot be deleted.
func (r *PostgresApartmentRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM apartments WHERE id = $1`, id)
	if err != nil {
		if pqCode(err) == codeForeignKeyViolation {
			return domain.ErrApartmentInUse
		}
		return storeErr("delete apartment", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storeErr("delete apartment", err)
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: "apartment", ID: id}
	}
	return nil
}

// List returns all apartments ordered by id
func (r *PostgresApartmentRepository) List(ctx context.Context) ([]*domain.Apartment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+apartmentColumns+` FROM apartments ORDER BY id ASC`)
	if err != nil {
		return nil, storeErr("list apartments", err)
	}
	defer rows.Close()

	var out []*domain.Apartment
	for rows.Next() {
		a, err := scanApartment(rows)
		if err != nil {
			return nil, storeErr("scan apartment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list apartments", err)
	}
	return out, nil
}

// Search returns apartments matching filter joined with their owner's name,
// ordered by id descending
func (r *PostgresApartmentRepository) Search(ctx context.Context, filter domain.ApartmentFilter) ([]*domain.ApartmentListing, error) {
	where, args := apartmentFilterClause(filter)
	query := `
		SELECT a.id, a.title, a.description, a.location, a.price, a.is_available,
		       a.owner_id, a.created_at, a.updated_at, u.name
		FROM apartments a
		LEFT JOIN users u ON u.id = a.owner_id` + where + `
		ORDER BY a.id DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("search apartments", err)
	}
	defer rows.Close()

	var out []*domain.ApartmentListing
	for rows.Next() {
		l := &domain.ApartmentListing{}
		var ownerName sql.NullString
		if err := rows.Scan(
			&l.ID,
			&l.Title,
			&l.Description,
			&l.Location,
			&l.Price,
			&l.IsAvailable,
			&l.OwnerID,
			&l.CreatedAt,
			&l.UpdatedAt,
			&ownerName,
		); err != nil {
			return nil, storeErr("scan apartment", err)
		}
		l.OwnerName = ownerName.String
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("search apartments", err)
	}
	return out, nil
}

// apartmentFilterClause renders f as a WHERE clause with positional args
func apartmentFilterClause(f domain.ApartmentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if loc := strings.TrimSpace(f.Location); loc != "" {
		add("a.location ILIKE $%d", "%"+loc+"%")
	}
	if f.MinPrice != nil {
		add("a.price >= $%d", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add("a.price <= $%d", *f.MaxPrice)
	}
	if f.IsAvailable != nil {
		add("a.is_available = $%d", *f.IsAvailable)
	}
	if f.OwnerID != nil {
		add("a.owner_id = $%d", *f.OwnerID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
