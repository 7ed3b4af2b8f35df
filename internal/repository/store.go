package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// PostgresStore implements domain.Store on one connection pool
type PostgresStore struct {
	db           *sql.DB
	apartments   *PostgresApartmentRepository
	reservations *PostgresReservationRepository
	users        *PostgresUserRepository
	logger       *slog.Logger
}

// NewPostgresStore creates a store and its repositories
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:           db,
		apartments:   NewPostgresApartmentRepository(db, logger),
		reservations: NewPostgresReservationRepository(db, logger),
		users:        NewPostgresUserRepository(db, logger),
		logger:       logger,
	}
}

func (s *PostgresStore) Apartments() domain.ApartmentRepository     { return s.apartments }
func (s *PostgresStore) Reservations() domain.ReservationRepository { return s.reservations }
func (s *PostgresStore) Users() domain.UserRepository               { return s.users }

// WithinTx runs fn in a READ COMMITTED transaction. Bookings serialise on the
// apartment row lock taken by LockApartment.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.BookingTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	btx := &pgBookingTx{
		tx:           tx,
		reservations: &PostgresReservationRepository{q: tx, logger: s.logger},
	}
	if err := fn(ctx, btx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if pqCode(err) == codeExclusionViolation {
			return &domain.ConflictError{}
		}
		return storeErr("commit transaction", err)
	}
	return nil
}

type pgBookingTx struct {
	tx           *sql.Tx
	reservations *PostgresReservationRepository
}

func (t *pgBookingTx) LockApartment(ctx context.Context, id int64) (*domain.Apartment, error) {
	return getApartment(ctx, t.tx, id, true)
}

func (t *pgBookingTx) FindActiveByApartment(ctx context.Context, apartmentID int64) ([]*domain.Reservation, error) {
	return t.reservations.FindActiveByApartment(ctx, apartmentID)
}

func (t *pgBookingTx) Insert(ctx context.Context, r *domain.Reservation) error {
	return t.reservations.Insert(ctx, r)
}
