package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"identity-service/internal/models"
	"identity-service/internal/util"
)

const identityColumns = `id::text, login_identifier, password_hash, is_privileged, is_active,
	allowed_ips, delivery_ciphertext, delivery_dek, delivery_key_id,
	failed_login_count, last_failed_login_at, last_login_at, last_login_ip,
	created_at, updated_at`

// IdentityRepository persists identities in Postgres.
type IdentityRepository struct {
	client *Client
}

func NewIdentityRepository(client *Client) *IdentityRepository {
	return &IdentityRepository{client: client}
}

func (r *IdentityRepository) GetByLoginIdentifier(ctx context.Context, loginIdentifier string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE login_identifier = $1`
	return scanIdentity(r.client.Pool.QueryRow(ctx, query, loginIdentifier))
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (*models.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = $1::uuid`
	return scanIdentity(r.client.Pool.QueryRow(ctx, query, id))
}

// RecordLoginFailure bumps the failure counter in a single statement. The
// CASE restarts the count at 1 when the previous failure fell outside the
// lockout window, so stale history never contributes to a lockout.
func (r *IdentityRepository) RecordLoginFailure(ctx context.Context, id string, windowStart, failedAt time.Time) (int, error) {
	query := `
		UPDATE identities SET
			failed_login_count = CASE
				WHEN last_failed_login_at IS NULL OR last_failed_login_at < $2 THEN 1
				ELSE failed_login_count + 1
			END,
			last_failed_login_at = $3,
			updated_at = $3
		WHERE id = $1::uuid
		RETURNING failed_login_count`

	var count int
	err := r.client.Pool.QueryRow(ctx, query, id, windowStart, failedAt).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrNotFound
		}
		return 0, fmt.Errorf("failed to record login failure: %w", err)
	}

	util.Debug("Recorded login failure",
		util.String("identity_id", id),
		util.Int("failed_login_count", count))
	return count, nil
}

func (r *IdentityRepository) RecordLoginSuccess(ctx context.Context, id, clientIP string, at time.Time) error {
	query := `
		UPDATE identities SET
			failed_login_count = 0,
			last_failed_login_at = NULL,
			last_login_at = $2,
			last_login_ip = $3,
			updated_at = $2
		WHERE id = $1::uuid`

	tag, err := r.client.Pool.Exec(ctx, query, id, at, clientIP)
	if err != nil {
		return fmt.Errorf("failed to record login success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	util.Debug("Recorded login success", util.String("identity_id", id))
	return nil
}

func (r *IdentityRepository) Upsert(ctx context.Context, identity *models.Identity) (string, error) {
	query := `
		INSERT INTO identities (
			login_identifier, password_hash, is_privileged, is_active, allowed_ips,
			delivery_ciphertext, delivery_dek, delivery_key_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (login_identifier) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			is_privileged = EXCLUDED.is_privileged,
			is_active = EXCLUDED.is_active,
			allowed_ips = EXCLUDED.allowed_ips,
			delivery_ciphertext = EXCLUDED.delivery_ciphertext,
			delivery_dek = EXCLUDED.delivery_dek,
			delivery_key_id = EXCLUDED.delivery_key_id,
			updated_at = now()
		RETURNING id::text`

	var id string
	err := r.client.Pool.QueryRow(ctx, query,
		identity.LoginIdentifier,
		identity.PasswordHash,
		identity.IsPrivileged,
		identity.IsActive,
		identity.AllowedIPs,
		identity.DeliveryCiphertext,
		identity.DeliveryDEK,
		identity.DeliveryKeyID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert identity: %w", err)
	}

	util.Info("Upserted identity",
		util.String("identity_id", id),
		util.Bool("is_privileged", identity.IsPrivileged))
	return id, nil
}

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var identity models.Identity
	err := row.Scan(
		&identity.ID,
		&identity.LoginIdentifier,
		&identity.PasswordHash,
		&identity.IsPrivileged,
		&identity.IsActive,
		&identity.AllowedIPs,
		&identity.DeliveryCiphertext,
		&identity.DeliveryDEK,
		&identity.DeliveryKeyID,
		&identity.FailedLoginCount,
		&identity.LastFailedLoginAt,
		&identity.LastLoginAt,
		&identity.LastLoginIP,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}
	return &identity, nil
}
