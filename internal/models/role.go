package models

import "time"

// Role is one rung of the access ladder. Higher hierarchy levels
// subsume lower ones.
type Role struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	HierarchyLevel int       `db:"hierarchy_level" json:"hierarchy_level"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
