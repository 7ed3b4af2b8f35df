package security

import (
	"fmt"
	"log/slog"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
)

// ResourceType identifies the kind of resource being accessed
type ResourceType string

const (
	ResourceApartment ResourceType = "apartment"
)

// Action identifies what operation is being performed
type Action string

const (
	ActionCreate Action = "create"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// ResourcePermission describes an access to one owned resource
type ResourcePermission struct {
	ResourceType ResourceType
	ResourceID   int64
	OwnerID      int64 // User ID that owns the resource
	Action       Action
}

// PermissionChecker answers whether a role holds a permission
type PermissionChecker interface {
	HasPermission(role domain.Role, permission Permission) bool
}

// ownershipRule names the permission needed to manage one's own resources of
// a type and the one needed to manage anybody's
type ownershipRule struct {
	own Permission
	any Permission
}

var ownershipRules = map[ResourceType]ownershipRule{
	ResourceApartment: {own: PermManageOwnApartments, any: PermManageAnyApartment},
}

// ResourceGuard performs ownership checks on owned resources
type ResourceGuard struct {
	perms  PermissionChecker
	logger *slog.Logger
}

// NewResourceGuard creates a new resource guard
func NewResourceGuard(perms PermissionChecker, logger *slog.Logger) *ResourceGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceGuard{perms: perms, logger: logger}
}

// ValidateCreate checks that actor may create resources of type rt, which
// they will then own
func (g *ResourceGuard) ValidateCreate(actor domain.Actor, rt ResourceType) error {
	rule, ok := ownershipRules[rt]
	if !ok || !g.perms.HasPermission(actor.Role, rule.own) {
		g.deny(actor, ResourcePermission{ResourceType: rt, Action: ActionCreate})
		return fmt.Errorf("%w: cannot create %s", domain.ErrForbidden, rt)
	}
	return nil
}

// ValidateResourceAccess lets the owner through when their role may manage
// its own resources, and anyone whose role may manage every resource of the
// type. Everyone else gets domain.ErrForbidden.
func (g *ResourceGuard) ValidateResourceAccess(actor domain.Actor, perm ResourcePermission) error {
	rule, ok := ownershipRules[perm.ResourceType]
	if ok {
		if g.perms.HasPermission(actor.Role, rule.any) {
			return nil
		}
		if perm.OwnerID == actor.ID && g.perms.HasPermission(actor.Role, rule.own) {
			return nil
		}
	}

	g.deny(actor, perm)
	return fmt.Errorf("%w: you do not own this %s", domain.ErrForbidden, perm.ResourceType)
}

func (g *ResourceGuard) deny(actor domain.Actor, perm ResourcePermission) {
	g.logger.Warn("resource access denied",
		slog.Int64("user_id", actor.ID),
		slog.String("role", string(actor.Role)),
		slog.Int64("resource_id", perm.ResourceID),
		slog.String("resource_type", string(perm.ResourceType)),
		slog.String("action", string(perm.Action)),
		slog.Int64("owner_id", perm.OwnerID),
	)
}
