package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/security"
)

// ApartmentInput is the writable part of an apartment
type ApartmentInput struct {
	Title       string           `json:"title" validate:"required,max=200"`
	Description string           `json:"description" validate:"required,max=5000"`
	Location    string           `json:"location" validate:"required,max=200"`
	Price       *decimal.Decimal `json:"price"`
	IsAvailable *bool            `json:"isAvailable"`
}

func (in *ApartmentInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Location = strings.TrimSpace(in.Location)
}

func (in *ApartmentInput) check() error {
	in.normalize()
	var violations []string
	if err := checkInput(in); err != nil {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			return err
		}
		violations = ve.Violations
	}
	switch {
	case in.Price == nil:
		violations = append(violations, "Price is required")
	case !in.Price.IsPositive():
		violations = append(violations, "Price must be a positive number")
	}
	if len(violations) > 0 {
		return &domain.ValidationError{Violations: violations}
	}
	return nil
}

// ActorResolver refreshes an actor's role from the user store
type ActorResolver interface {
	Resolve(ctx context.Context, actor domain.Actor) (domain.Actor, error)
}

// ApartmentService manages apartment listings
type ApartmentService struct {
	apartments domain.ApartmentRepository
	actors     ActorResolver
	guard      *security.ResourceGuard
	logger     *slog.Logger
}

// NewApartmentService creates a new apartment service
func NewApartmentService(apartments domain.ApartmentRepository, actors ActorResolver, guard *security.ResourceGuard, logger *slog.Logger) *ApartmentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApartmentService{apartments: apartments, actors: actors, guard: guard, logger: logger}
}

// List returns every apartment ordered by id
func (s *ApartmentService) List(ctx context.Context) ([]*domain.Apartment, error) {
	return s.apartments.List(ctx)
}

// Get returns one apartment
func (s *ApartmentService) Get(ctx context.Context, id int64) (*domain.Apartment, error) {
	return s.apartments.GetByID(ctx, id)
}

// Create lists a new apartment owned by the actor. Listings are bookable
// unless the input says otherwise.
func (s *ApartmentService) Create(ctx context.Context, actor domain.Actor, in ApartmentInput) (*domain.Apartment, error) {
	actor, err := s.actors.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := s.guard.ValidateCreate(actor, security.ResourceApartment); err != nil {
		return nil, err
	}
	if err := in.check(); err != nil {
		return nil, err
	}
	apt := newApartment(in, actor.ID)
	if err := s.apartments.Create(ctx, apt); err != nil {
		return nil, err
	}
	s.logger.Info("apartment created",
		slog.Int64("apartment_id", apt.ID),
		slog.Int64("owner_id", apt.OwnerID),
	)
	return apt, nil
}

// newApartment builds a listing from checked input
func newApartment(in ApartmentInput, ownerID int64) *domain.Apartment {
	return &domain.Apartment{
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		Price:       in.Price.Round(2),
		IsAvailable: in.IsAvailable == nil || *in.IsAvailable,
		OwnerID:     ownerID,
	}
}

// Update replaces the writable fields of an apartment. The owner may do this
// when their role can manage its own listings; admins may manage any.
func (s *ApartmentService) Update(ctx context.Context, actor domain.Actor, id int64, in ApartmentInput) (*domain.Apartment, error) {
	apt, err := s.apartments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor, err = s.actors.Resolve(ctx, actor); err != nil {
		return nil, err
	}
	if err := s.guard.ValidateResourceAccess(actor, security.ResourcePermission{
		ResourceType: security.ResourceApartment,
		ResourceID:   apt.ID,
		OwnerID:      apt.OwnerID,
		Action:       security.ActionWrite,
	}); err != nil {
		return nil, err
	}
	if err := in.check(); err != nil {
		return nil, err
	}

	apt.Title = in.Title
	apt.Description = in.Description
	apt.Location = in.Location
	apt.Price = in.Price.Round(2)
	if in.IsAvailable != nil {
		apt.IsAvailable = *in.IsAvailable
	}
	if err := s.apartments.Update(ctx, apt); err != nil {
		return nil, err
	}
	s.logger.Info("apartment updated", slog.Int64("apartment_id", apt.ID), slog.Int64("actor_id", actor.ID))
	return apt, nil
}

// Delete removes an apartment. Apartments with reservation history are kept
// and the call fails with domain.ErrApartmentInUse.
func (s *ApartmentService) Delete(ctx context.Context, actor domain.Actor, id int64) error {
	apt, err := s.apartments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if actor, err = s.actors.Resolve(ctx, actor); err != nil {
		return err
	}
	if err := s.guard.ValidateResourceAccess(actor, security.ResourcePermission{
		ResourceType: security.ResourceApartment,
		ResourceID:   apt.ID,
		OwnerID:      apt.OwnerID,
		Action:       security.ActionDelete,
	}); err != nil {
		return err
	}
	if err := s.apartments.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("apartment deleted", slog.Int64("apartment_id", id), slog.Int64("actor_id", actor.ID))
	return nil
}
