package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"identity-service/internal/config"
	"identity-service/internal/delivery"
	"identity-service/internal/encryption"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/util"
)

// ChallengeService owns the second factor: issuing one-time codes and
// burning verification attempts against them. Only the code hash is
// stored; the plaintext exists in memory and in the delivery message.
type ChallengeService struct {
	challenges  models.ChallengeStore
	hasher      *hashing.Hasher
	encryption  *encryption.EncryptionManager
	sender      delivery.CodeSender
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewChallengeService(
	challenges models.ChallengeStore,
	hasher *hashing.Hasher,
	encryptionMgr *encryption.EncryptionManager,
	sender delivery.CodeSender,
	cfg *config.AuthConfig,
) *ChallengeService {
	return &ChallengeService{
		challenges:  challenges,
		hasher:      hasher,
		encryption:  encryptionMgr,
		sender:      sender,
		ttl:         cfg.CodeTTL,
		maxAttempts: cfg.CodeMaxAttempts,
		now:         time.Now,
	}
}

// Issue creates a fresh code for the identity, replacing any code still
// pending, and hands the plaintext to the delivery pipeline.
func (s *ChallengeService) Issue(ctx context.Context, identity *models.Identity, clientIP string) error {
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("failed to generate code: %w", err)
	}

	hashed, err := s.hasher.HashCode(code)
	if err != nil {
		return fmt.Errorf("failed to hash code: %w", err)
	}

	expiresAt := s.now().Add(s.ttl)
	err = s.challenges.Put(ctx, &models.LoginChallenge{
		IdentityID: identity.ID,
		CodeHash:   hashed.Hash,
		CodeSalt:   hashed.Salt,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}

	addresses, err := s.deliveryAddresses(ctx, identity)
	if err != nil {
		return err
	}

	err = s.sender.Send(ctx, delivery.CodeDelivery{
		IdentityID:      identity.ID,
		LoginIdentifier: identity.LoginIdentifier,
		Addresses:       addresses,
		Code:            code,
		ExpiresAt:       expiresAt,
		RequestedAt:     s.now(),
	})
	if err != nil {
		util.Error("Code delivery dispatch failed",
			util.String("identity_id", identity.ID),
			util.String("client_ip", clientIP),
			util.ErrorField(err))
		return ErrCodeDeliveryFailed
	}

	return nil
}

// Verify burns one attempt against the pending challenge. The challenge
// dies on success, on expiry and when attempts run out, so a code can
// never be used twice.
func (s *ChallengeService) Verify(ctx context.Context, identity *models.Identity, code string) error {
	challenge, err := s.challenges.Get(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrCodeExpired
		}
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	if challenge.Expired(s.now()) {
		s.clear(ctx, identity.ID)
		return ErrCodeExpired
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrCodeExpired
		}
		return fmt.Errorf("failed to count attempt: %w", err)
	}
	if attempts > s.maxAttempts {
		s.clear(ctx, identity.ID)
		return ErrCodeAttemptsExceeded
	}

	ok, err := s.hasher.VerifyCode(code, challenge.CodeHash, challenge.CodeSalt)
	if err != nil {
		return fmt.Errorf("failed to verify code: %w", err)
	}
	if !ok {
		// The mismatch that lands on the cap kills the challenge but still
		// reads as a plain mismatch; only a later submission sees the cap.
		if attempts >= s.maxAttempts {
			s.clear(ctx, identity.ID)
		}
		return ErrCodeInvalid
	}

	s.clear(ctx, identity.ID)
	return nil
}

func (s *ChallengeService) clear(ctx context.Context, identityID string) {
	if err := s.challenges.Clear(ctx, identityID); err != nil {
		util.Error("Failed to clear challenge",
			util.String("identity_id", identityID),
			util.ErrorField(err))
	}
}

// deliveryAddresses opens the identity's encrypted address envelope.
func (s *ChallengeService) deliveryAddresses(ctx context.Context, identity *models.Identity) ([]string, error) {
	if identity.DeliveryCiphertext == "" {
		return nil, fmt.Errorf("identity %s has no delivery addresses", identity.ID)
	}

	plaintext, err := s.encryption.DecryptField(ctx, &encryption.EncryptedData{
		EncryptedValue: identity.DeliveryCiphertext,
		EncryptedDEK:   identity.DeliveryDEK,
		KeyID:          identity.DeliveryKeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt delivery addresses: %w", err)
	}

	var addresses []string
	if err := json.Unmarshal([]byte(plaintext), &addresses); err != nil {
		return nil, fmt.Errorf("failed to parse delivery addresses: %w", err)
	}
	if len(addresses) == 0 {
		return nil, fmt.Errorf("identity %s has no delivery addresses", identity.ID)
	}
	return addresses, nil
}

// generateCode returns a uniform six digit code from crypto/rand.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
