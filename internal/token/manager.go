package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"identity-service/internal/config"
)

var (
	ErrInvalidToken    = errors.New("invalid token")
	ErrTokenExpired    = errors.New("token expired")
	ErrTokenIPMismatch = errors.New("token bound to a different origin")
)

// RolePrivileged is the role claim carried by operator tokens. It is
// not a row in the roles table; privileged access is all or nothing.
const RolePrivileged = "super"

const (
	useAccess  = "access"
	useRefresh = "refresh"
)

// Claims binds a token to the address it was minted for. Tokens are
// stateless; everything needed to validate one is in the claims and
// the signature.
type Claims struct {
	Role     string `json:"role,omitempty"`
	OriginIP string `json:"origin_ip"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

func (c *Claims) IsPrivileged() bool {
	return c.Role == RolePrivileged
}

// Manager signs and validates the service's JWTs.
type Manager struct {
	secret        []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	privilegedTTL time.Duration
	now           func() time.Time
}

func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		secret:        []byte(cfg.Auth.JWTSigningSecret),
		issuer:        cfg.Auth.JWTIssuer,
		accessTTL:     cfg.Auth.AccessTokenTTL,
		refreshTTL:    cfg.Auth.RefreshTokenTTL,
		privilegedTTL: cfg.Auth.PrivilegedTokenTTL,
		now:           time.Now,
	}
}

// IssueAccess mints an ordinary access token carrying the identity's
// highest active role.
func (m *Manager) IssueAccess(subject, role, clientIP string) (string, time.Time, error) {
	return m.issue(subject, role, clientIP, useAccess, m.accessTTL)
}

// IssuePrivileged mints a short-lived operator token.
func (m *Manager) IssuePrivileged(subject, clientIP string) (string, time.Time, error) {
	return m.issue(subject, RolePrivileged, clientIP, useAccess, m.privilegedTTL)
}

// IssueRefresh mints a refresh grant. Refresh tokens never pass the
// access token gate because of the token_use claim.
func (m *Manager) IssueRefresh(subject, clientIP string) (string, time.Time, error) {
	return m.issue(subject, "", clientIP, useRefresh, m.refreshTTL)
}

// Validate checks an access token presented from clientIP.
func (m *Manager) Validate(tokenString, clientIP string) (*Claims, error) {
	return m.validate(tokenString, clientIP, useAccess)
}

// ValidateRefresh checks a refresh grant presented from clientIP.
func (m *Manager) ValidateRefresh(tokenString, clientIP string) (*Claims, error) {
	return m.validate(tokenString, clientIP, useRefresh)
}

func (m *Manager) issue(subject, role, clientIP, use string, ttl time.Duration) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Role:     role,
		OriginIP: clientIP,
		TokenUse: use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiresAt, nil
}

func (m *Manager) validate(tokenString, clientIP, expectedUse string) (*Claims, error) {
	claims := &Claims{}

	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.TokenUse != expectedUse {
		return nil, ErrInvalidToken
	}

	// The origin bind is exact. Both sides are canonicalized by the
	// same extraction helper, so equivalent spellings compare equal.
	if claims.OriginIP != clientIP {
		return nil, ErrTokenIPMismatch
	}

	return claims, nil
}
