// Package authz decides whether a set of held roles meets a required
// role. Roles form a single ladder; a stronger role implies every weaker
// one, so checks compare hierarchy levels instead of matching names.
package authz

import (
	"context"
	"errors"
	"fmt"

	"identity-service/internal/models"
)

// ErrUnknownRole is returned when a requirement names a role that does
// not exist or has been deactivated. Such requirements deny everyone.
var ErrUnknownRole = errors.New("unknown or inactive role")

// RoleHierarchy evaluates requirements against the role ladder at check
// time. Deactivating a role takes effect on the next check, even for
// tokens issued while it was active.
type RoleHierarchy struct {
	store models.RoleStore
}

func NewRoleHierarchy(store models.RoleStore) *RoleHierarchy {
	return &RoleHierarchy{store: store}
}

// Satisfies reports whether the strongest active role among held reaches
// the required role's level. Held names that are unknown or inactive
// count for nothing; holding no active role satisfies no requirement.
func (h *RoleHierarchy) Satisfies(ctx context.Context, held []string, required string) (bool, error) {
	names := make([]string, 0, len(held)+1)
	names = append(names, held...)
	names = append(names, required)

	levels, err := h.store.ActiveLevelsByName(ctx, names)
	if err != nil {
		return false, fmt.Errorf("failed to resolve role levels: %w", err)
	}

	requiredLevel, ok := levels[required]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownRole, required)
	}

	strongest := 0
	holdsActiveRole := false
	for _, name := range held {
		level, ok := levels[name]
		if !ok {
			continue
		}
		holdsActiveRole = true
		if level > strongest {
			strongest = level
		}
	}
	if !holdsActiveRole {
		return false, nil
	}
	return strongest >= requiredLevel, nil
}

// SatisfiesIdentity loads the identity's active role grants and checks
// them against the requirement.
func (h *RoleHierarchy) SatisfiesIdentity(ctx context.Context, identityID, required string) (bool, error) {
	roles, err := h.store.ActiveRolesForIdentity(ctx, identityID)
	if err != nil {
		return false, fmt.Errorf("failed to load identity roles: %w", err)
	}

	held := make([]string, 0, len(roles))
	for _, role := range roles {
		held = append(held, role.Name)
	}
	return h.Satisfies(ctx, held, required)
}
