package models

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no row matches.
var ErrNotFound = errors.New("not found")

// IdentityStore defines the interface for identity persistence.
// Counter updates are single atomic statements so concurrent logins
// never lose a failure.
type IdentityStore interface {
	GetByLoginIdentifier(ctx context.Context, loginIdentifier string) (*Identity, error)
	GetByID(ctx context.Context, id string) (*Identity, error)

	// RecordLoginFailure bumps the failed login counter and returns the
	// new value. A previous failure older than windowStart restarts the
	// count at 1 instead of accumulating forever.
	RecordLoginFailure(ctx context.Context, id string, windowStart, failedAt time.Time) (int, error)

	// RecordLoginSuccess zeroes the failure state and stamps the login.
	RecordLoginSuccess(ctx context.Context, id, clientIP string, at time.Time) error

	// Upsert inserts the identity or refreshes its credentials keyed by
	// login identifier. Returns the row id. Failure counters are left
	// untouched on update.
	Upsert(ctx context.Context, identity *Identity) (string, error)
}

// ChallengeStore defines the interface for pending one-time code
// challenges. One row per identity; Put replaces any previous code and
// resets the attempt count.
type ChallengeStore interface {
	Put(ctx context.Context, challenge *LoginChallenge) error
	Get(ctx context.Context, identityID string) (*LoginChallenge, error)

	// IncrementAttempts bumps the attempt counter atomically and
	// returns the new value.
	IncrementAttempts(ctx context.Context, identityID string) (int, error)

	Clear(ctx context.Context, identityID string) error
}

// RoleStore defines the read side of the role ladder. Role grants are
// written by the surrounding platform, not this service.
type RoleStore interface {
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	ActiveRolesForIdentity(ctx context.Context, identityID string) ([]Role, error)

	// ActiveLevelsByName resolves role names to hierarchy levels,
	// silently dropping names that are unknown or inactive.
	ActiveLevelsByName(ctx context.Context, names []string) (map[string]int, error)
}
