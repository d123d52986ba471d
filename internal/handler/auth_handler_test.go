package handler

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"identity-service/internal/audit"
	"identity-service/internal/authz"
	"identity-service/internal/bucketing"
	"identity-service/internal/config"
	"identity-service/internal/delivery"
	"identity-service/internal/encryption"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/repository/redis"
	"identity-service/internal/service"
	"identity-service/internal/token"
)

const testPassword = "correct horse battery staple"

type memIdentityStore struct {
	mu      sync.Mutex
	byID    map[string]*models.Identity
	byLogin map[string]*models.Identity
}

func newMemIdentityStore() *memIdentityStore {
	return &memIdentityStore{
		byID:    make(map[string]*models.Identity),
		byLogin: make(map[string]*models.Identity),
	}
}

func (s *memIdentityStore) add(identity *models.Identity) *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.CreatedAt = time.Now().UTC()
	identity.UpdatedAt = identity.CreatedAt
	s.byID[identity.ID] = identity
	s.byLogin[identity.LoginIdentifier] = identity
	return identity
}

func (s *memIdentityStore) GetByLoginIdentifier(_ context.Context, loginIdentifier string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byLogin[loginIdentifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *memIdentityStore) GetByID(_ context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	copied := *identity
	return &copied, nil
}

func (s *memIdentityStore) RecordLoginFailure(_ context.Context, id string, windowStart, failedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return 0, models.ErrNotFound
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

func (s *memIdentityStore) RecordLoginSuccess(_ context.Context, id, clientIP string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.byID[id]
	if !ok {
		return models.ErrNotFound
	}
	identity.FailedLoginCount = 0
	identity.LastFailedLoginAt = nil
	loginAt := at
	identity.LastLoginAt = &loginAt
	identity.LastLoginIP = clientIP
	return nil
}

func (s *memIdentityStore) Upsert(_ context.Context, identity *models.Identity) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byLogin[identity.LoginIdentifier]; ok {
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
	s.byID[copied.ID] = &copied
	s.byLogin[copied.LoginIdentifier] = &copied
	return copied.ID, nil
}

type memChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*models.LoginChallenge
}

func newMemChallengeStore() *memChallengeStore {
	return &memChallengeStore{challenges: make(map[string]*models.LoginChallenge)}
}

func (s *memChallengeStore) Put(_ context.Context, challenge *models.LoginChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *challenge
	copied.Attempts = 0
	copied.CreatedAt = time.Now().UTC()
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
		grants: make(map[string][]string),
	}
}

func (s *memRoleStore) setGrants(identityID string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants[identityID] = roles
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
	roles := make([]models.Role, 0, len(s.levels))
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
		level, ok := s.levels[name]
		if !ok {
			continue
		}
		roles = append(roles, models.Role{ID: name, Name: name, HierarchyLevel: level, IsActive: true})
	}
	return roles, nil
}

func (s *memRoleStore) ActiveLevelsByName(_ context.Context, names []string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	levels := make(map[string]int, len(names))
	for _, name := range names {
		if level, ok := s.levels[name]; ok {
			levels[name] = level
		}
	}
	return levels, nil
}

type captureSender struct {
	mu         sync.Mutex
	deliveries []delivery.CodeDelivery
}

func (s *captureSender) Send(_ context.Context, d delivery.CodeDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

type httpHarness struct {
	router     http.Handler
	identities *memIdentityStore
	roles      *memRoleStore
	sender     *captureSender
	hasher     *hashing.Hasher
	encryption *encryption.EncryptionManager
	health     map[string]string
}

func newHTTPHarness(t *testing.T) *httpHarness {
	t.Helper()

	cfg := &config.Config{
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
		Throttle: config.ThrottleConfig{Enabled: false},
	}

	hasher := hashing.NewHasher(cfg)
	identities := newMemIdentityStore()
	challenges := newMemChallengeStore()
	roles := newMemRoleStore()
	sender := &captureSender{}

	encryptionMgr, err := encryption.NewEncryptionManager(context.Background(), cfg)
	require.NoError(t, err)

	bucketManager := bucketing.NewBucketingManager(cfg)
	recorder := audit.NewRecorder(&cfg.Audit, bucketManager)
	t.Cleanup(recorder.Close)

	tokens := token.NewManager(cfg)
	gate := service.NewCredentialGate(identities, hasher, recorder, &cfg.Auth)
	challengeSvc := service.NewChallengeService(challenges, hasher, encryptionMgr, sender, &cfg.Auth)
	authSvc := service.NewAuthService(gate, challengeSvc, identities, roles, tokens, recorder)

	guard := NewGuard(tokens, authz.NewRoleHierarchy(roles), recorder)
	throttle := redis.NewLoginThrottle(nil, bucketManager, &cfg.Throttle)
	authHandler := NewAuthHandler(authSvc, roles, throttle, zap.NewNop())

	harness := &httpHarness{
		identities: identities,
		roles:      roles,
		sender:     sender,
		hasher:     hasher,
		encryption: encryptionMgr,
		health:     map[string]string{"postgres": "healthy", "redis": "healthy"},
	}
	harness.router = NewRouter(authHandler, guard, func(context.Context) map[string]string {
		return harness.health
	}, zap.NewNop())
	return harness
}

func (h *httpHarness) seedUser(t *testing.T, identifier, password string, roles ...string) *models.Identity {
	t.Helper()
	hash, err := h.hasher.HashPassword(password)
	require.NoError(t, err)
	identity := h.identities.add(&models.Identity{
		LoginIdentifier: identifier,
		PasswordHash:    hash,
		IsActive:        true,
	})
	h.roles.setGrants(identity.ID, roles...)
	return identity
}

func (h *httpHarness) seedOperator(t *testing.T, identifier, password, allowedIPs string) *models.Identity {
	t.Helper()
	hash, err := h.hasher.HashPassword(password)
	require.NoError(t, err)
	envelope, err := h.encryption.EncryptField(context.Background(), `["ops@example.com"]`)
	require.NoError(t, err)
	return h.identities.add(&models.Identity{
		LoginIdentifier:    identifier,
		PasswordHash:       hash,
		IsPrivileged:       true,
		IsActive:           true,
		AllowedIPs:         allowedIPs,
		DeliveryCiphertext: envelope.EncryptedValue,
		DeliveryDEK:        envelope.EncryptedDEK,
		DeliveryKeyID:      envelope.KeyID,
	})
}

// do sends a request through the full router. A string body is sent
// raw; anything else is JSON encoded. remoteAddr defaults to the
// httptest placeholder when empty.
func (h *httpHarness) do(t *testing.T, method, path, remoteAddr string, body interface{}, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	req.TLS = &tls.ConnectionState{}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func dataMap(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "response data is not an object")
	return data
}

func (h *httpHarness) loginToken(t *testing.T, identifier, password, remoteAddr string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/auth/login", remoteAddr,
		loginRequest{LoginID: identifier, Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataMap(t, decodeResponse(t, rec))
	accessToken, _ := data["access_token"].(string)
	require.NotEmpty(t, accessToken)
	return accessToken
}

func TestLoginEndpointIssuesTokenPair(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedUser(t, "user@example.com", testPassword, "user")

	rec := h.do(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{LoginID: "user@example.com", Password: testPassword}, "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)

	data := dataMap(t, resp)
	assert.NotEmpty(t, data["access_token"])
	assert.NotEmpty(t, data["refresh_token"])
	assert.Equal(t, "Bearer", data["token_type"])
	expiresIn, ok := data["expires_in"].(float64)
	require.True(t, ok)
	assert.Greater(t, expiresIn, float64(0))
}

func TestLoginEndpointRejectsMalformedBody(t *testing.T) {
	h := newHTTPHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/auth/login", "", "{not json", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)
}

func TestLoginEndpointRequiresFields(t *testing.T) {
	h := newHTTPHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{LoginID: "user@example.com"}, "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "missing required fields", resp.Error)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedUser(t, "user@example.com", testPassword, "user")

	wrongPassword := h.do(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{LoginID: "user@example.com", Password: "not the password"}, "")
	unknownLogin := h.do(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{LoginID: "ghost@example.com", Password: "not the password"}, "")

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownLogin.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownLogin.Body.String())
}

func TestAuthMeReturnsStoreRoles(t *testing.T) {
	h := newHTTPHarness(t)
	identity := h.seedUser(t, "user@example.com", testPassword, "user", "legal")
	accessToken := h.loginToken(t, "user@example.com", testPassword, "")

	rec := h.do(t, http.MethodGet, "/api/v1/auth/me", "", nil, accessToken)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := dataMap(t, decodeResponse(t, rec))
	assert.Equal(t, identity.ID, data["identity_id"])

	rawRoles, ok := data["roles"].([]interface{})
	require.True(t, ok)
	roles := make([]string, 0, len(rawRoles))
	for _, r := range rawRoles {
		roles = append(roles, r.(string))
	}
	assert.ElementsMatch(t, []string{"user", "legal"}, roles)
}

func TestAuthMeRequiresBearerToken(t *testing.T) {
	h := newHTTPHarness(t)

	noToken := h.do(t, http.MethodGet, "/api/v1/auth/me", "", nil, "")
	garbage := h.do(t, http.MethodGet, "/api/v1/auth/me", "", nil, "not.a.token")

	assert.Equal(t, http.StatusUnauthorized, noToken.Code)
	assert.Equal(t, http.StatusUnauthorized, garbage.Code)
}

func TestTokenBoundToOriginAddress(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedUser(t, "user@example.com", testPassword, "user")
	accessToken := h.loginToken(t, "user@example.com", testPassword, "203.0.113.7:41000")

	otherAddress := h.do(t, http.MethodGet, "/api/v1/auth/me", "198.51.100.9:41000", nil, accessToken)
	assert.Equal(t, http.StatusUnauthorized, otherAddress.Code)

	// Same address, different ephemeral port.
	sameAddress := h.do(t, http.MethodGet, "/api/v1/auth/me", "203.0.113.7:55555", nil, accessToken)
	assert.Equal(t, http.StatusOK, sameAddress.Code)
}

func TestReportsRequiresLegalRole(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedUser(t, "clerk@example.com", testPassword, "user")
	counsel := h.seedUser(t, "counsel@example.com", testPassword, "legal")
	h.seedUser(t, "owner@example.com", testPassword, "owner")

	clerkToken := h.loginToken(t, "clerk@example.com", testPassword, "")
	counselToken := h.loginToken(t, "counsel@example.com", testPassword, "")
	ownerToken := h.loginToken(t, "owner@example.com", testPassword, "")

	denied := h.do(t, http.MethodGet, "/api/v1/auth/reports", "", nil, clerkToken)
	require.Equal(t, http.StatusForbidden, denied.Code)
	assert.Equal(t, "insufficient role", decodeResponse(t, denied).Error)

	granted := h.do(t, http.MethodGet, "/api/v1/auth/reports", "", nil, counselToken)
	require.Equal(t, http.StatusOK, granted.Code)

	higher := h.do(t, http.MethodGet, "/api/v1/auth/reports", "", nil, ownerToken)
	require.Equal(t, http.StatusOK, higher.Code)

	// Revocation takes effect on the next request, not at token expiry.
	h.roles.setGrants(counsel.ID)
	revoked := h.do(t, http.MethodGet, "/api/v1/auth/reports", "", nil, counselToken)
	assert.Equal(t, http.StatusForbidden, revoked.Code)
}

func TestAdminLoginFlow(t *testing.T) {
	h := newHTTPHarness(t)
	operator := h.seedOperator(t, "root@example.com", testPassword, "192.0.2.0/24")

	ack := h.do(t, http.MethodPost, "/api/v1/admin/auth/login", "192.0.2.9:40000",
		loginRequest{LoginID: "root@example.com", Password: testPassword}, "")
	require.Equal(t, http.StatusAccepted, ack.Code, ack.Body.String())
	ackResp := decodeResponse(t, ack)
	assert.True(t, ackResp.Success)
	assert.Equal(t, "Verification code sent", ackResp.Message)
	assert.Nil(t, ackResp.Data)

	code := h.sender.lastCode(t)
	verified := h.do(t, http.MethodPost, "/api/v1/admin/auth/verify-2fa", "192.0.2.9:40001",
		verifyRequest{LoginID: "root@example.com", Code: code}, "")
	require.Equal(t, http.StatusOK, verified.Code, verified.Body.String())

	data := dataMap(t, decodeResponse(t, verified))
	accessToken, _ := data["access_token"].(string)
	require.NotEmpty(t, accessToken)
	_, hasRefresh := data["refresh_token"]
	assert.False(t, hasRefresh, "privileged sessions must not get refresh tokens")

	session := h.do(t, http.MethodGet, "/api/v1/admin/session", "192.0.2.9:40002", nil, accessToken)
	require.Equal(t, http.StatusOK, session.Code, session.Body.String())
	sessionData := dataMap(t, decodeResponse(t, session))
	assert.Equal(t, operator.ID, sessionData["identity_id"])
	assert.Equal(t, true, sessionData["privileged"])
	assert.Equal(t, "192.0.2.9", sessionData["origin_ip"])
}

func TestAdminLoginOutsideAllowListIsForbidden(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedOperator(t, "root@example.com", testPassword, "10.0.0.0/8")

	rec := h.do(t, http.MethodPost, "/api/v1/admin/auth/login", "192.0.2.9:40000",
		loginRequest{LoginID: "root@example.com", Password: testPassword}, "")

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)
}

func TestVerifyFromDifferentAddressIsForbidden(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedOperator(t, "root@example.com", testPassword, "192.0.2.0/24")

	ack := h.do(t, http.MethodPost, "/api/v1/admin/auth/login", "192.0.2.9:40000",
		loginRequest{LoginID: "root@example.com", Password: testPassword}, "")
	require.Equal(t, http.StatusAccepted, ack.Code)

	rec := h.do(t, http.MethodPost, "/api/v1/admin/auth/verify-2fa", "203.0.113.5:40000",
		verifyRequest{LoginID: "root@example.com", Code: h.sender.lastCode(t)}, "")

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestVerifyWithoutChallengeIsIndistinguishable(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedOperator(t, "root@example.com", testPassword, "192.0.2.0/24")

	known := h.do(t, http.MethodPost, "/api/v1/admin/auth/verify-2fa", "192.0.2.9:40000",
		verifyRequest{LoginID: "root@example.com", Code: "123456"}, "")
	unknown := h.do(t, http.MethodPost, "/api/v1/admin/auth/verify-2fa", "192.0.2.9:40000",
		verifyRequest{LoginID: "ghost@example.com", Code: "123456"}, "")

	require.Equal(t, http.StatusUnauthorized, known.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestAdminSessionRejectsOrdinaryToken(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedUser(t, "user@example.com", testPassword, "owner")
	accessToken := h.loginToken(t, "user@example.com", testPassword, "")

	rec := h.do(t, http.MethodGet, "/api/v1/admin/session", "", nil, accessToken)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "insufficient role", decodeResponse(t, rec).Error)
}

func TestRefreshEndpointRotatesTokenPair(t *testing.T) {
	h := newHTTPHarness(t)
	h.seedUser(t, "user@example.com", testPassword, "user")

	rec := h.do(t, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{LoginID: "user@example.com", Password: testPassword}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	loginData := dataMap(t, decodeResponse(t, rec))
	refreshToken, _ := loginData["refresh_token"].(string)
	require.NotEmpty(t, refreshToken)

	refreshed := h.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		refreshRequest{RefreshToken: refreshToken}, "")
	require.Equal(t, http.StatusOK, refreshed.Code, refreshed.Body.String())
	refreshedData := dataMap(t, decodeResponse(t, refreshed))
	assert.NotEmpty(t, refreshedData["access_token"])
	rotated, _ := refreshedData["refresh_token"].(string)
	assert.NotEmpty(t, rotated)
	assert.NotEqual(t, refreshToken, rotated)

	// An access token is not accepted in place of a refresh grant.
	accessToken, _ := loginData["access_token"].(string)
	misused := h.do(t, http.MethodPost, "/api/v1/auth/refresh", "",
		refreshRequest{RefreshToken: accessToken}, "")
	assert.Equal(t, http.StatusUnauthorized, misused.Code)
}

func TestRouterRequiresTLS(t *testing.T) {
	h := newHTTPHarness(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), "https required")
}

func TestUnknownRouteReturnsJSON404(t *testing.T) {
	h := newHTTPHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/unknown", "", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"endpoint not found"}`, rec.Body.String())
}

func TestHealthReportsDependencyStates(t *testing.T) {
	h := newHTTPHarness(t)

	rec := h.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])

	h.health["redis"] = "unhealthy: connection refused"
	rec = h.do(t, http.MethodGet, "/health", "", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "degraded", body["status"])
}
