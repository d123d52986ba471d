package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"identity-service/internal/models"
	"identity-service/internal/util"
)

// ChallengeRepository persists pending one-time code challenges. The table
// is keyed by identity, so an identity holds at most one live challenge.
type ChallengeRepository struct {
	client *Client
}

func NewChallengeRepository(client *Client) *ChallengeRepository {
	return &ChallengeRepository{client: client}
}

// Put stores the challenge, replacing any previous code for the identity
// and resetting the attempt counter.
func (r *ChallengeRepository) Put(ctx context.Context, challenge *models.LoginChallenge) error {
	query := `
		INSERT INTO login_challenges (identity_id, code_hash, code_salt, expires_at, attempts)
		VALUES ($1::uuid, $2, $3, $4, 0)
		ON CONFLICT (identity_id) DO UPDATE SET
			code_hash = EXCLUDED.code_hash,
			code_salt = EXCLUDED.code_salt,
			expires_at = EXCLUDED.expires_at,
			attempts = 0,
			created_at = now()`

	_, err := r.client.Pool.Exec(ctx, query,
		challenge.IdentityID,
		challenge.CodeHash,
		challenge.CodeSalt,
		challenge.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store login challenge: %w", err)
	}

	util.Debug("Stored login challenge", util.String("identity_id", challenge.IdentityID))
	return nil
}

func (r *ChallengeRepository) Get(ctx context.Context, identityID string) (*models.LoginChallenge, error) {
	query := `
		SELECT identity_id::text, code_hash, code_salt, expires_at, attempts, created_at
		FROM login_challenges WHERE identity_id = $1::uuid`

	var challenge models.LoginChallenge
	err := r.client.Pool.QueryRow(ctx, query, identityID).Scan(
		&challenge.IdentityID,
		&challenge.CodeHash,
		&challenge.CodeSalt,
		&challenge.ExpiresAt,
		&challenge.Attempts,
		&challenge.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get login challenge: %w", err)
	}
	return &challenge, nil
}

// IncrementAttempts bumps the attempt counter in a single statement so
// concurrent verification requests each observe a distinct count.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, identityID string) (int, error) {
	query := `
		UPDATE login_challenges SET attempts = attempts + 1
		WHERE identity_id = $1::uuid
		RETURNING attempts`

	var attempts int
	err := r.client.Pool.QueryRow(ctx, query, identityID).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, fmt.Errorf("failed to increment challenge attempts: %w", err)
	}
	return attempts, nil
}

func (r *ChallengeRepository) Clear(ctx context.Context, identityID string) error {
	query := `DELETE FROM login_challenges WHERE identity_id = $1::uuid`

	if _, err := r.client.Pool.Exec(ctx, query, identityID); err != nil {
		return fmt.Errorf("failed to clear login challenge: %w", err)
	}

	util.Debug("Cleared login challenge", util.String("identity_id", identityID))
	return nil
}
