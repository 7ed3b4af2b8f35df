package security

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/pkg/cache"
)

// Permission represents an action permission
type Permission string

const (
	PermBookApartment        Permission = "book_apartment"
	PermManageOwnApartments  Permission = "manage_own_apartments"
	PermManageAnyApartment   Permission = "manage_any_apartment"
	PermViewAnyReservation   Permission = "view_any_reservation"
	PermListAllReservations  Permission = "list_all_reservations"
	PermCancelAnyReservation Permission = "cancel_any_reservation"
)

// RolePermissions maps roles to their base permissions. Cancelling someone
// else's reservation is granted separately through GateOptions.
var RolePermissions = map[domain.Role][]Permission{
	domain.RoleAdmin: {
		PermBookApartment,
		PermManageOwnApartments,
		PermManageAnyApartment,
		PermViewAnyReservation,
		PermListAllReservations,
	},
	domain.RoleUser: {
		PermBookApartment,
		PermManageOwnApartments,
	},
}

// RoleResolver looks up the current role of a user
type RoleResolver interface {
	GetRole(ctx context.Context, id int64) (domain.Role, error)
}

// GateOptions configures the reservation gate
type GateOptions struct {
	// AdminCanCancel lets administrators cancel reservations they do not own
	AdminCanCancel bool
	// RoleCacheTTL bounds how long a resolved role is reused; zero disables caching
	RoleCacheTTL time.Duration
}

// ReservationGate decides who may view, cancel and list reservations
type ReservationGate struct {
	roles  RoleResolver
	opts   GateOptions
	cache  *cache.Cache[int64, domain.Role]
	logger *slog.Logger
}

// NewReservationGate creates a new reservation gate
func NewReservationGate(roles RoleResolver, opts GateOptions, logger *slog.Logger) *ReservationGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationGate{
		roles:  roles,
		opts:   opts,
		cache:  cache.New[int64, domain.Role](),
		logger: logger,
	}
}

// HasPermission checks if a role has a specific permission
func (g *ReservationGate) HasPermission(role domain.Role, permission Permission) bool {
	if permission == PermCancelAnyReservation {
		return role == domain.RoleAdmin && g.opts.AdminCanCancel
	}
	for _, p := range RolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

// Resolve replaces the actor's claimed role with the one on record. A missing
// user record is a denial, never a silent downgrade to a plain user.
func (g *ReservationGate) Resolve(ctx context.Context, actor domain.Actor) (domain.Actor, error) {
	if role, ok := g.cache.Get(actor.ID); ok {
		actor.Role = role
		return actor, nil
	}

	role, err := g.roles.GetRole(ctx, actor.ID)
	if err != nil {
		if domain.IsNotFound(err) {
			g.logger.Warn("role lookup failed: unknown actor", slog.Int64("actor_id", actor.ID))
			return domain.Actor{}, fmt.Errorf("%w: unknown actor %d", domain.ErrForbidden, actor.ID)
		}
		return domain.Actor{}, err
	}
	if !role.Valid() {
		return domain.Actor{}, fmt.Errorf("%w: actor %d has unknown role %q", domain.ErrForbidden, actor.ID, role)
	}

	if g.opts.RoleCacheTTL > 0 {
		g.cache.Set(actor.ID, role, g.opts.RoleCacheTTL)
	}
	actor.Role = role
	return actor, nil
}

// CanView reports whether actor may see r
func (g *ReservationGate) CanView(actor domain.Actor, r *domain.Reservation) bool {
	return r.GuestID == actor.ID || g.HasPermission(actor.Role, PermViewAnyReservation)
}

// CanCancel reports whether actor may cancel r
func (g *ReservationGate) CanCancel(actor domain.Actor, r *domain.Reservation) bool {
	return r.GuestID == actor.ID || g.HasPermission(actor.Role, PermCancelAnyReservation)
}

// CanListAll reports whether actor may list every reservation in the system
func (g *ReservationGate) CanListAll(actor domain.Actor) bool {
	return g.HasPermission(actor.Role, PermListAllReservations)
}

// Forget drops a cached role, e.g. after the user record changed
func (g *ReservationGate) Forget(userID int64) {
	g.cache.Delete(userID)
}
