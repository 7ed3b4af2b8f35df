package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Apartment is a rentable listing
type Apartment struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Location    string          `json:"location"`
	Price       decimal.Decimal `json:"price"` // nightly rate
	IsAvailable bool            `json:"isAvailable"`
	OwnerID     int64           `json:"ownerId"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ApartmentListing is an apartment with its owner's display name
type ApartmentListing struct {
	Apartment
	OwnerName string `json:"ownerName"`
}

// ApartmentFilter narrows an apartment search. Nil fields do not filter.
type ApartmentFilter struct {
	Location    string // case-insensitive substring
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	IsAvailable *bool
	OwnerID     *int64
}

// ApartmentRepository defines data access for apartments
type ApartmentRepository interface {
	GetByID(ctx context.Context, id int64) (*Apartment, error)
	Create(ctx context.Context, a *Apartment) error
	Update(ctx context.Context, a *Apartment) error
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]*Apartment, error)
	// Search returns matching apartments with owner names, newest first
	Search(ctx context.Context, filter ApartmentFilter) ([]*ApartmentListing, error)
}
