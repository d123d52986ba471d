package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"identity-service/internal/encryption"
	"identity-service/internal/models"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

func newChallengeHarness(t *testing.T) (*ChallengeService, *memChallengeStore, *captureSender, *testClock, *models.Identity) {
	t.Helper()
	cfg := newTestConfig()
	hasher := newTestHasher(cfg)
	store := newMemChallengeStore()
	sender := &captureSender{}
	clock := newTestClock()

	encryptionMgr, err := encryption.NewEncryptionManager(context.Background(), cfg)
	require.NoError(t, err)

	envelope, err := encryptionMgr.EncryptField(context.Background(), `["ops@example.com","+15550100"]`)
	require.NoError(t, err)

	identity := &models.Identity{
		ID:                 uuid.NewString(),
		LoginIdentifier:    "ops@example.com",
		IsPrivileged:       true,
		IsActive:           true,
		DeliveryCiphertext: envelope.EncryptedValue,
		DeliveryDEK:        envelope.EncryptedDEK,
		DeliveryKeyID:      envelope.KeyID,
	}

	svc := NewChallengeService(store, hasher, encryptionMgr, sender, &cfg.Auth)
	svc.now = clock.Now
	return svc, store, sender, clock, identity
}

func TestIssueAndVerify(t *testing.T) {
	svc, _, sender, _, identity := newChallengeHarness(t)

	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))

	require.Len(t, sender.deliveries, 1)
	delivered := sender.deliveries[0]
	assert.Regexp(t, sixDigits, delivered.Code)
	assert.Equal(t, identity.ID, delivered.IdentityID)
	assert.Equal(t, []string{"ops@example.com", "+15550100"}, delivered.Addresses)

	require.NoError(t, svc.Verify(context.Background(), identity, delivered.Code))

	// The code is single use.
	err := svc.Verify(context.Background(), identity, delivered.Code)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyWithoutIssue(t *testing.T) {
	svc, _, _, _, identity := newChallengeHarness(t)

	err := svc.Verify(context.Background(), identity, "123456")
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyExpiry(t *testing.T) {
	svc, _, sender, clock, identity := newChallengeHarness(t)

	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))
	clock.Advance(4*time.Minute + 59*time.Second)
	require.NoError(t, svc.Verify(context.Background(), identity, sender.lastCode(t)))

	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))
	clock.Advance(5*time.Minute + 1*time.Second)
	err := svc.Verify(context.Background(), identity, sender.lastCode(t))
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyAttemptCap(t *testing.T) {
	svc, _, sender, _, identity := newChallengeHarness(t)

	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))
	code := sender.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	err := svc.Verify(context.Background(), identity, wrong)
	assert.ErrorIs(t, err, ErrCodeInvalid)
	err = svc.Verify(context.Background(), identity, wrong)
	assert.ErrorIs(t, err, ErrCodeInvalid)

	// The third wrong attempt kills the code but still reads as a mismatch.
	err = svc.Verify(context.Background(), identity, wrong)
	assert.ErrorIs(t, err, ErrCodeInvalid)

	// Even the correct code is dead now.
	err = svc.Verify(context.Background(), identity, code)
	assert.ErrorIs(t, err, ErrCodeExpired)
}

func TestVerifyThirdAttemptMaySucceed(t *testing.T) {
	svc, _, sender, _, identity := newChallengeHarness(t)

	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))
	code := sender.lastCode(t)
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	assert.ErrorIs(t, svc.Verify(context.Background(), identity, wrong), ErrCodeInvalid)
	assert.ErrorIs(t, svc.Verify(context.Background(), identity, wrong), ErrCodeInvalid)
	assert.NoError(t, svc.Verify(context.Background(), identity, code))
}

func TestIssueReplacesPendingChallenge(t *testing.T) {
	svc, store, sender, _, identity := newChallengeHarness(t)

	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))
	wrong := "000000"
	if wrong == sender.lastCode(t) {
		wrong = "000001"
	}
	assert.ErrorIs(t, svc.Verify(context.Background(), identity, wrong), ErrCodeInvalid)

	// Reissuing resets the attempt counter and replaces the code.
	require.NoError(t, svc.Issue(context.Background(), identity, "10.0.0.5"))

	challenge, err := store.Get(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, challenge.Attempts)

	require.NoError(t, svc.Verify(context.Background(), identity, sender.lastCode(t)))
}

func TestIssueDeliveryFailure(t *testing.T) {
	svc, _, sender, _, identity := newChallengeHarness(t)
	sender.failWith = errors.New("broker unreachable")

	err := svc.Issue(context.Background(), identity, "10.0.0.5")
	assert.ErrorIs(t, err, ErrCodeDeliveryFailed)
}

func TestIssueWithoutDeliveryAddresses(t *testing.T) {
	svc, _, _, _, identity := newChallengeHarness(t)
	identity.DeliveryCiphertext = ""

	err := svc.Issue(context.Background(), identity, "10.0.0.5")
	assert.Error(t, err)
}
