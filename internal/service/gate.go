package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"identity-service/internal/audit"
	"identity-service/internal/config"
	"identity-service/internal/hashing"
	"identity-service/internal/ipmatch"
	"identity-service/internal/models"
	"identity-service/internal/util"
)

// CredentialGate is the first factor. Checks run in a fixed order:
// account state, then origin IP, then password, so the failure mode
// reveals nothing about which later check would have failed.
type CredentialGate struct {
	identities models.IdentityStore
	hasher     *hashing.Hasher
	recorder   *audit.Recorder
	maxFailed  int
	window     time.Duration
	decoyHash  string
	now        func() time.Time
}

func NewCredentialGate(identities models.IdentityStore, hasher *hashing.Hasher, recorder *audit.Recorder, cfg *config.AuthConfig) *CredentialGate {
	// Unknown identifiers are verified against a throwaway hash so the
	// response time stays close to the known-identifier path.
	decoy, err := hasher.HashPassword(uuid.NewString())
	if err != nil {
		util.Warn("Failed to prepare decoy hash", util.ErrorField(err))
	}

	return &CredentialGate{
		identities: identities,
		hasher:     hasher,
		recorder:   recorder,
		maxFailed:  cfg.MaxFailedLogins,
		window:     cfg.LockoutWindow,
		decoyHash:  decoy,
		now:        time.Now,
	}
}

// Authenticate resolves the identifier and runs the full first-factor
// check. Privileged and ordinary identities are not interchangeable:
// each must use its own flow or the attempt fails as a credential error.
func (g *CredentialGate) Authenticate(ctx context.Context, loginIdentifier, password, clientIP, userAgent string, requirePrivileged bool) (*models.Identity, error) {
	action := actionLogin
	if requirePrivileged {
		action = actionPrivilegedLogin
	}
	identifier := util.NormalizeLoginIdentifier(loginIdentifier)

	identity, err := g.identities.GetByLoginIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if g.decoyHash != "" {
				_, _ = g.hasher.VerifyPassword(password, g.decoyHash)
			}
			g.deny(action, "", identifier, clientIP, userAgent, "unknown_identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if identity.IsPrivileged != requirePrivileged {
		g.deny(action, identity.ID, identifier, clientIP, userAgent, "wrong_login_flow")
		return nil, ErrInvalidCredentials
	}

	if err := g.CheckAccess(identity, clientIP); err != nil {
		reason := "account_locked"
		switch {
		case errors.Is(err, ErrIPNotWhitelisted):
			reason = "ip_not_whitelisted"
			g.recordFailure(ctx, identity.ID)
		case !identity.IsActive:
			reason = "account_inactive"
		}
		g.deny(action, identity.ID, identifier, clientIP, userAgent, reason)
		return nil, err
	}

	ok, err := g.hasher.VerifyPassword(password, identity.PasswordHash)
	if err != nil {
		util.Error("Stored password hash unreadable",
			util.String("identity_id", identity.ID),
			util.ErrorField(err))
		g.deny(action, identity.ID, identifier, clientIP, userAgent, "credential_error")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		g.recordFailure(ctx, identity.ID)
		g.deny(action, identity.ID, identifier, clientIP, userAgent, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	// A privileged login is only complete once the code comes back, so
	// the counter reset and success event wait for that phase.
	if !requirePrivileged {
		if err := g.identities.RecordLoginSuccess(ctx, identity.ID, clientIP, g.now()); err != nil {
			util.Error("Failed to record login success",
				util.String("identity_id", identity.ID),
				util.ErrorField(err))
		}
		g.recorder.Record(models.AuditEvent{
			EventType:       eventTypeAuthentication,
			Action:          action,
			Result:          audit.ResultSuccess,
			ActorID:         identity.ID,
			LoginIdentifier: identifier,
			IPAddress:       clientIP,
			UserAgent:       userAgent,
		})
	}

	return identity, nil
}

// CheckAccess applies the account state and origin checks shared by the
// password and code phases. Privileged identities always face the allow
// list; an empty list rejects every address.
func (g *CredentialGate) CheckAccess(identity *models.Identity, clientIP string) error {
	if !identity.IsActive {
		return ErrAccountLocked
	}
	if identity.LockedOut(g.now(), g.maxFailed, g.window) {
		return ErrAccountLocked
	}
	if identity.IsPrivileged || identity.AllowedIPs != "" {
		if !ipmatch.Match(clientIP, identity.AllowedIPs) {
			return ErrIPNotWhitelisted
		}
	}
	return nil
}

// recordFailure bumps the durable counter. Crossing the threshold arms
// the lockout starting with the next attempt.
func (g *CredentialGate) recordFailure(ctx context.Context, identityID string) {
	now := g.now()
	count, err := g.identities.RecordLoginFailure(ctx, identityID, now.Add(-g.window), now)
	if err != nil {
		util.Error("Failed to record login failure",
			util.String("identity_id", identityID),
			util.ErrorField(err))
		return
	}
	if count >= g.maxFailed {
		util.Warn("Account lockout engaged",
			util.String("identity_id", identityID),
			util.Int("failed_logins", count))
	}
}

func (g *CredentialGate) deny(action, actorID, identifier, clientIP, userAgent, reason string) {
	g.recorder.Record(models.AuditEvent{
		EventType:       eventTypeAuthentication,
		Action:          action,
		Result:          audit.ResultDenied,
		Reason:          reason,
		ActorID:         actorID,
		LoginIdentifier: identifier,
		IPAddress:       clientIP,
		UserAgent:       userAgent,
	})
}
