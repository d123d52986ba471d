package seed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/config"
	"identity-service/internal/encryption"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
)

type upsertCapture struct {
	identity *models.Identity
}

func (c *upsertCapture) GetByLoginIdentifier(context.Context, string) (*models.Identity, error) {
	return nil, models.ErrNotFound
}

func (c *upsertCapture) GetByID(context.Context, string) (*models.Identity, error) {
	return nil, models.ErrNotFound
}

func (c *upsertCapture) RecordLoginFailure(context.Context, string, time.Time, time.Time) (int, error) {
	return 0, models.ErrNotFound
}

func (c *upsertCapture) RecordLoginSuccess(context.Context, string, string, time.Time) error {
	return models.ErrNotFound
}

func (c *upsertCapture) Upsert(_ context.Context, identity *models.Identity) (string, error) {
	c.identity = identity
	return "seeded-id", nil
}

func TestSeederProvisionsOperator(t *testing.T) {
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	}
	hasher := hashing.NewHasher(cfg)
	encryptionMgr, err := encryption.NewEncryptionManager(context.Background(), cfg)
	require.NoError(t, err)

	store := &upsertCapture{}
	seeder := NewSeeder(store, hasher, encryptionMgr, &config.AdminConfig{
		LoginIdentifier:   "  Root@Example.COM ",
		Password:          "an operator passphrase",
		AllowedIPs:        "10.0.0.0/8",
		DeliveryAddresses: []string{"ops@example.com"},
	})

	require.NoError(t, seeder.Run(context.Background()))
	require.NotNil(t, store.identity)

	assert.Equal(t, "root@example.com", store.identity.LoginIdentifier)
	assert.True(t, store.identity.IsPrivileged)
	assert.True(t, store.identity.IsActive)
	assert.Equal(t, "10.0.0.0/8", store.identity.AllowedIPs)

	ok, err := hasher.VerifyPassword("an operator passphrase", store.identity.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	plaintext, err := encryptionMgr.DecryptField(context.Background(), &encryption.EncryptedData{
		EncryptedValue: store.identity.DeliveryCiphertext,
		EncryptedDEK:   store.identity.DeliveryDEK,
		KeyID:          store.identity.DeliveryKeyID,
	})
	require.NoError(t, err)

	var addresses []string
	require.NoError(t, json.Unmarshal([]byte(plaintext), &addresses))
	assert.Equal(t, []string{"ops@example.com"}, addresses)
}
