package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"identity-service/internal/audit"
	"identity-service/internal/bucketing"
	"identity-service/internal/config"
	"identity-service/internal/delivery"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
)

// Store fakes with the same update semantics as the SQL layer, so the
// services can be driven through whole login flows in memory.

type memIdentityStore struct {
	mu           sync.Mutex
	byIdentifier map[string]*models.Identity
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{byIdentifier: map[string]*models.Identity{}}
}

func (s *memIdentityStore) add(identity *models.Identity) *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.CreatedAt = time.Now()
	identity.UpdatedAt = identity.CreatedAt
	s.byIdentifier[identity.LoginIdentifier] = identity
	return identity
}

func (s *memIdentityStore) GetByLoginIdentifier(_ context.Context, loginIdentifier string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byIdentifier[loginIdentifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *memIdentityStore) GetByID(_ context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.byIdentifier {
		if identity.ID == id {
			copied := *identity
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *memIdentityStore) RecordLoginFailure(_ context.Context, id string, windowStart, failedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.byIdentifier {
		if identity.ID != id {
			continue
		}
		if identity.LastFailedLoginAt == nil || identity.LastFailedLoginAt.Before(windowStart) {
			identity.FailedLoginCount = 1
		} else {
			identity.FailedLoginCount++
		}
		at := failedAt
		identity.LastFailedLoginAt = &at
		return identity.FailedLoginCount, nil
	}
	return 0, models.ErrNotFound
}

func (s *memIdentityStore) RecordLoginSuccess(_ context.Context, id, clientIP string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.byIdentifier {
		if identity.ID != id {
			continue
		}
		identity.FailedLoginCount = 0
		identity.LastFailedLoginAt = nil
		stamp := at
		identity.LastLoginAt = &stamp
		identity.LastLoginIP = clientIP
		return nil
	}
	return models.ErrNotFound
}

func (s *memIdentityStore) Upsert(_ context.Context, identity *models.Identity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byIdentifier[identity.LoginIdentifier]; ok {
		existing.PasswordHash = identity.PasswordHash
		existing.IsPrivileged = identity.IsPrivileged
		existing.IsActive = identity.IsActive
		existing.AllowedIPs = identity.AllowedIPs
		existing.DeliveryCiphertext = identity.DeliveryCiphertext
		existing.DeliveryDEK = identity.DeliveryDEK
		existing.DeliveryKeyID = identity.DeliveryKeyID
		return existing.ID, nil
	}
	copied := *identity
	if copied.ID == "" {
		copied.ID = uuid.NewString()
	}
	s.byIdentifier[copied.LoginIdentifier] = &copied
	return copied.ID, nil
}

type memChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.LoginChallenge
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{challenges: map[string]*models.LoginChallenge{}}
}

func (s *memChallengeStore) Put(_ context.Context, challenge *models.LoginChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *challenge
	copied.Attempts = 0
	copied.CreatedAt = time.Now()
	s.challenges[challenge.IdentityID] = &copied
	return nil
}

func (s *memChallengeStore) Get(_ context.Context, identityID string) (*models.LoginChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[identityID]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *challenge
	return &copied, nil
}

func (s *memChallengeStore) IncrementAttempts(_ context.Context, identityID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[identityID]
	if !ok {
		return 0, models.ErrNotFound
	}
	challenge.Attempts++
	return challenge.Attempts, nil
}

func (s *memChallengeStore) Clear(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, identityID)
	return nil
}

type memRoleStore struct {
	mu     sync.Mutex
	levels map[string]int
	grants map[string][]string
}

func newMemRoleStore() *memRoleStore {
	return &memRoleStore{
		levels: map[string]int{"user": 1, "legal": 2, "admin": 3, "owner": 4},
		grants: map[string][]string{},
	}
}

func (s *memRoleStore) GetByName(_ context.Context, name string) (*models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	level, ok := s.levels[name]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.Role{ID: name, Name: name, HierarchyLevel: level, IsActive: true}, nil
}

func (s *memRoleStore) List(_ context.Context) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roles []models.Role
	for name, level := range s.levels {
		roles = append(roles, models.Role{ID: name, Name: name, HierarchyLevel: level, IsActive: true})
	}
	return roles, nil
}

func (s *memRoleStore) ActiveRolesForIdentity(_ context.Context, identityID string) ([]models.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roles []models.Role
	for _, name := range s.grants[identityID] {
		if level, ok := s.levels[name]; ok {
			roles = append(roles, models.Role{ID: name, Name: name, HierarchyLevel: level, IsActive: true})
		}
	}
	return roles, nil
}

func (s *memRoleStore) ActiveLevelsByName(_ context.Context, names []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(names))
	for _, name := range names {
		if level, ok := s.levels[name]; ok {
			out[name] = level
		}
	}
	return out, nil
}

type captureSender struct {
	mu         sync.Mutex
	deliveries []delivery.CodeDelivery
	failWith   error
}

func (s *captureSender) Send(_ context.Context, d delivery.CodeDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.deliveries = append(s.deliveries, d)
	return nil
}

func (s *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.deliveries, "no code was delivered")
	return s.deliveries[len(s.deliveries)-1].Code
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8192,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
		Bucketing: config.BucketingConfig{EventBuckets: 16},
		Auth: config.AuthConfig{
			JWTSigningSecret:   "0123456789abcdef0123456789abcdef",
			JWTIssuer:          "identity-service-test",
			AccessTokenTTL:     2 * time.Hour,
			RefreshTokenTTL:    168 * time.Hour,
			PrivilegedTokenTTL: 20 * time.Minute,
			CodeTTL:            5 * time.Minute,
			CodeMaxAttempts:    3,
			MaxFailedLogins:    5,
			LockoutWindow:      15 * time.Minute,
		},
		Audit: config.AuditConfig{
			BufferSize:    64,
			BatchSize:     16,
			FlushInterval: 10 * time.Millisecond,
		},
	}
}

func newTestRecorder(t *testing.T, cfg *config.Config) *audit.Recorder {
	t.Helper()
	recorder := audit.NewRecorder(&cfg.Audit, bucketing.NewBucketingManager(cfg))
	t.Cleanup(recorder.Close)
	return recorder
}

func newTestHasher(cfg *config.Config) *hashing.Hasher {
	return hashing.NewHasher(cfg)
}
