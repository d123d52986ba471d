package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"identity-service/internal/models"
)

const roleColumns = `id::text, name, hierarchy_level, is_active, created_at, updated_at`

// RoleRepository reads the role ladder from Postgres.
type RoleRepository struct {
	client *Client
}

func NewRoleRepository(client *Client) *RoleRepository {
	return &RoleRepository{client: client}
}

func (r *RoleRepository) GetByName(ctx context.Context, name string) (*models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	var role models.Role
	err := r.client.Pool.QueryRow(ctx, query, name).Scan(
		&role.ID,
		&role.Name,
		&role.HierarchyLevel,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY hierarchy_level`

	rows, err := r.client.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

func (r *RoleRepository) ActiveRolesForIdentity(ctx context.Context, identityID string) ([]models.Role, error) {
	query := `
		SELECT r.id::text, r.name, r.hierarchy_level, r.is_active, r.created_at, r.updated_at
		FROM roles r
		JOIN identity_roles ir ON ir.role_id = r.id
		WHERE ir.identity_id = $1::uuid AND r.is_active = TRUE
		ORDER BY r.hierarchy_level DESC`

	rows, err := r.client.Pool.Query(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identity roles: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// ActiveLevelsByName resolves names to levels. Unknown and inactive names
// are simply absent from the result.
func (r *RoleRepository) ActiveLevelsByName(ctx context.Context, names []string) (map[string]int, error) {
	levels := make(map[string]int, len(names))
	if len(names) == 0 {
		return levels, nil
	}

	query := `SELECT name, hierarchy_level FROM roles WHERE name = ANY($1) AND is_active = TRUE`

	rows, err := r.client.Pool.Query(ctx, query, names)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var level int
		if err := rows.Scan(&name, &level); err != nil {
			return nil, fmt.Errorf("failed to scan role level: %w", err)
		}
		levels[name] = level
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read role levels: %w", err)
	}
	return levels, nil
}

func collectRoles(rows pgx.Rows) ([]models.Role, error) {
	var roles []models.Role
	for rows.Next() {
		var role models.Role
		err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.HierarchyLevel,
			&role.IsActive,
			&role.CreatedAt,
			&role.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}
	return roles, nil
}
