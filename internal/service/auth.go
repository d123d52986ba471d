package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"identity-service/internal/audit"
	"identity-service/internal/models"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// TokenPair is the response body of a successful login or refresh.
// Privileged logins and refreshes omit the refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AuthService orchestrates the login flows over the credential gate, the
// challenge service and the token manager, and writes the audit trail
// for the code and refresh phases.
type AuthService struct {
	gate       *CredentialGate
	challenges *ChallengeService
	identities models.IdentityStore
	roles      models.RoleStore
	tokens     *token.Manager
	recorder   *audit.Recorder
	now        func() time.Time
}

func NewAuthService(
	gate *CredentialGate,
	challenges *ChallengeService,
	identities models.IdentityStore,
	roles models.RoleStore,
	tokens *token.Manager,
	recorder *audit.Recorder,
) *AuthService {
	return &AuthService{
		gate:       gate,
		challenges: challenges,
		identities: identities,
		roles:      roles,
		tokens:     tokens,
		recorder:   recorder,
		now:        time.Now,
	}
}

// LoginUser authenticates an ordinary identity and issues an access and
// refresh token pair. The role claim carries the strongest active role
// held at login time.
func (s *AuthService) LoginUser(ctx context.Context, loginIdentifier, password, clientIP, userAgent string) (*TokenPair, error) {
	identity, err := s.gate.Authenticate(ctx, loginIdentifier, password, clientIP, userAgent, false)
	if err != nil {
		return nil, err
	}

	role, err := s.strongestRole(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	access, expiresAt, err := s.tokens.IssueAccess(identity.ID, role, clientIP)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.IssueRefresh(identity.ID, clientIP)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(expiresAt.Sub(s.now()).Seconds()),
	}, nil
}

// LoginPrivileged runs the password phase for an operator account and
// dispatches the second factor. No token is issued until the code comes
// back through VerifyChallenge.
func (s *AuthService) LoginPrivileged(ctx context.Context, loginIdentifier, password, clientIP, userAgent string) error {
	identity, err := s.gate.Authenticate(ctx, loginIdentifier, password, clientIP, userAgent, true)
	if err != nil {
		return err
	}

	if err := s.challenges.Issue(ctx, identity, clientIP); err != nil {
		return err
	}

	s.auditAuth(actionCodeIssued, identity.ID, identity.LoginIdentifier, clientIP, userAgent, audit.ResultSuccess, "")
	return nil
}

// VerifyChallenge completes a privileged login. Account state and origin
// IP are rechecked here; the allow list binds the whole login, not just
// the password phase.
func (s *AuthService) VerifyChallenge(ctx context.Context, loginIdentifier, code, clientIP, userAgent string) (*TokenPair, error) {
	identifier := util.NormalizeLoginIdentifier(loginIdentifier)

	identity, err := s.identities.GetByLoginIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditAuth(actionVerifyCode, "", identifier, clientIP, userAgent, audit.ResultDenied, "code_not_issued")
			return nil, ErrCodeExpired
		}
		return nil, err
	}

	if err := s.gate.CheckAccess(identity, clientIP); err != nil {
		s.auditAuth(actionVerifyCode, identity.ID, identifier, clientIP, userAgent, audit.ResultDenied, reasonForError(err))
		return nil, err
	}

	if err := s.challenges.Verify(ctx, identity, code); err != nil {
		if reason := reasonForError(err); reason != "" {
			s.auditAuth(actionVerifyCode, identity.ID, identifier, clientIP, userAgent, audit.ResultDenied, reason)
		}
		return nil, err
	}

	if err := s.identities.RecordLoginSuccess(ctx, identity.ID, clientIP, s.now()); err != nil {
		util.Error("Failed to record login success",
			util.String("identity_id", identity.ID),
			util.ErrorField(err))
	}

	access, expiresAt, err := s.tokens.IssuePrivileged(identity.ID, clientIP)
	if err != nil {
		return nil, err
	}

	s.auditAuth(actionVerifyCode, identity.ID, identifier, clientIP, userAgent, audit.ResultSuccess, "")

	return &TokenPair{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int64(expiresAt.Sub(s.now()).Seconds()),
	}, nil
}

// Refresh exchanges a live refresh token for a fresh pair. The role
// claim is resolved again so grant changes since login apply. Tokens
// are stateless, so the presented token stays valid until its own
// expiry; rotation only extends the session, it cannot revoke.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*TokenPair, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken, clientIP)
	if err != nil {
		s.auditAuth(actionTokenRefresh, "", "", clientIP, userAgent, audit.ResultDenied, reasonForError(err))
		return nil, err
	}

	identity, err := s.identities.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.auditAuth(actionTokenRefresh, claims.Subject, "", clientIP, userAgent, audit.ResultDenied, "unknown_identity")
			return nil, token.ErrInvalidToken
		}
		return nil, err
	}

	// Refresh tokens are never issued for operator accounts; one that
	// resolves to an operator is forged or stale.
	if identity.IsPrivileged {
		s.auditAuth(actionTokenRefresh, identity.ID, identity.LoginIdentifier, clientIP, userAgent, audit.ResultDenied, "invalid_token")
		return nil, token.ErrInvalidToken
	}

	if err := s.gate.CheckAccess(identity, clientIP); err != nil {
		s.auditAuth(actionTokenRefresh, identity.ID, identity.LoginIdentifier, clientIP, userAgent, audit.ResultDenied, reasonForError(err))
		return nil, err
	}

	role, err := s.strongestRole(ctx, identity.ID)
	if err != nil {
		return nil, err
	}

	access, expiresAt, err := s.tokens.IssueAccess(identity.ID, role, clientIP)
	if err != nil {
		return nil, err
	}
	rotated, _, err := s.tokens.IssueRefresh(identity.ID, clientIP)
	if err != nil {
		return nil, err
	}

	s.auditAuth(actionTokenRefresh, identity.ID, identity.LoginIdentifier, clientIP, userAgent, audit.ResultSuccess, "")

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: rotated,
		TokenType:    "Bearer",
		ExpiresIn:    int64(expiresAt.Sub(s.now()).Seconds()),
	}, nil
}

func (s *AuthService) strongestRole(ctx context.Context, identityID string) (string, error) {
	roles, err := s.roles.ActiveRolesForIdentity(ctx, identityID)
	if err != nil {
		return "", fmt.Errorf("failed to load identity roles: %w", err)
	}

	name := ""
	level := 0
	for _, role := range roles {
		if role.HierarchyLevel > level {
			level = role.HierarchyLevel
			name = role.Name
		}
	}
	return name, nil
}

func (s *AuthService) auditAuth(action, actorID, identifier, clientIP, userAgent, result, reason string) {
	s.recorder.Record(models.AuditEvent{
		EventType:       eventTypeAuthentication,
		Action:          action,
		Result:          result,
		Reason:          reason,
		ActorID:         actorID,
		LoginIdentifier: identifier,
		IPAddress:       clientIP,
		UserAgent:       userAgent,
	})
}

func reasonForError(err error) string {
	switch {
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrIPNotWhitelisted):
		return "ip_not_whitelisted"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrCodeInvalid):
		return "code_invalid"
	case errors.Is(err, ErrCodeExpired):
		return "code_expired"
	case errors.Is(err, ErrCodeAttemptsExceeded):
		return "code_attempts_exceeded"
	case errors.Is(err, token.ErrTokenIPMismatch):
		return "token_ip_mismatch"
	case errors.Is(err, token.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, token.ErrInvalidToken):
		return "invalid_token"
	}
	return ""
}
