// Package seed provisions the operator identity from configuration so a
// fresh deployment can be administered without manual inserts.
package seed

import (
	"context"
	"encoding/json"
	"fmt"

	"identity-service/internal/config"
	"identity-service/internal/encryption"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/util"
)

type Seeder struct {
	identities models.IdentityStore
	hasher     *hashing.Hasher
	encryption *encryption.EncryptionManager
	config     *config.AdminConfig
}

func NewSeeder(identities models.IdentityStore, hasher *hashing.Hasher, encryptionMgr *encryption.EncryptionManager, cfg *config.AdminConfig) *Seeder {
	return &Seeder{
		identities: identities,
		hasher:     hasher,
		encryption: encryptionMgr,
		config:     cfg,
	}
}

// Run upserts the operator identity. It runs on every start so password,
// allow list and delivery address changes take effect on redeploy. The
// failure counter of an existing row is left alone.
func (s *Seeder) Run(ctx context.Context) error {
	hash, err := s.hasher.HashPassword(s.config.Password)
	if err != nil {
		return fmt.Errorf("failed to hash operator password: %w", err)
	}

	addresses, err := json.Marshal(s.config.DeliveryAddresses)
	if err != nil {
		return fmt.Errorf("failed to encode delivery addresses: %w", err)
	}

	envelope, err := s.encryption.EncryptField(ctx, string(addresses))
	if err != nil {
		return fmt.Errorf("failed to encrypt delivery addresses: %w", err)
	}

	id, err := s.identities.Upsert(ctx, &models.Identity{
		LoginIdentifier:    util.NormalizeLoginIdentifier(s.config.LoginIdentifier),
		PasswordHash:       hash,
		IsPrivileged:       true,
		IsActive:           true,
		AllowedIPs:         s.config.AllowedIPs,
		DeliveryCiphertext: envelope.EncryptedValue,
		DeliveryDEK:        envelope.EncryptedDEK,
		DeliveryKeyID:      envelope.KeyID,
	})
	if err != nil {
		return fmt.Errorf("failed to provision operator identity: %w", err)
	}

	util.Info("Operator identity provisioned", util.String("identity_id", id))
	return nil
}
