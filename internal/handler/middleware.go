package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"identity-service/internal/audit"
	"identity-service/internal/authz"
	"identity-service/internal/models"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

type contextKey string

const claimsContextKey contextKey = "token_claims"

const (
	eventTypeAuthorization = "authorization"
	actionTokenCheck       = "token_check"
	actionRoleCheck        = "role_check"
	actionPrivilegeCheck   = "privilege_check"
)

// Guard authenticates bearer tokens and enforces role requirements on
// protected routes. Denials are written to the audit trail.
type Guard struct {
	tokens    *token.Manager
	hierarchy *authz.RoleHierarchy
	recorder  *audit.Recorder
}

// NewGuard creates a route guard backed by the token manager and the
// role hierarchy.
func NewGuard(tokens *token.Manager, hierarchy *authz.RoleHierarchy, recorder *audit.Recorder) *Guard {
	return &Guard{
		tokens:    tokens,
		hierarchy: hierarchy,
		recorder:  recorder,
	}
}

// RequireAuth validates the bearer token against the request's origin
// address and stashes its claims in the context for downstream
// handlers.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, r, ok := g.claimsFor(w, r); ok {
			next.ServeHTTP(w, r)
		}
	})
}

// RequirePrivileged only admits operator tokens. Ordinary tokens are
// rejected regardless of their role.
func (g *Guard) RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, r, ok := g.claimsFor(w, r)
		if !ok {
			return
		}

		if !claims.IsPrivileged() {
			g.auditDenied(r, claims, actionPrivilegeCheck, "privilege_required", "")
			respondWithError(w, http.StatusForbidden, errInsufficientRole, "Operator access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireRole admits tokens whose identity currently holds an active
// role at or above the named level. Grants are re-read from the store
// on every request so revocations take effect before the token
// expires; the role claim inside the token is informational only.
func (g *Guard) RequireRole(required string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, r, ok := g.claimsFor(w, r)
			if !ok {
				return
			}

			satisfied, err := g.hierarchy.SatisfiesIdentity(r.Context(), claims.Subject, required)
			if err != nil && !errors.Is(err, authz.ErrUnknownRole) {
				respondWithError(w, http.StatusInternalServerError, err, "Authorization check failed")
				return
			}
			if !satisfied {
				g.auditDenied(r, claims, actionRoleCheck, "insufficient_role", "required_role="+required)
				respondWithError(w, http.StatusForbidden, errInsufficientRole, "Insufficient role")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// claimsFor returns the claims already attached to the request, or
// authenticates the bearer token and attaches them. On failure the
// response has been written and ok is false.
func (g *Guard) claimsFor(w http.ResponseWriter, r *http.Request) (*token.Claims, *http.Request, bool) {
	if claims, ok := ClaimsFromContext(r.Context()); ok {
		return claims, r, true
	}

	tokenString := bearerToken(r)
	if tokenString == "" {
		respondWithError(w, http.StatusUnauthorized, errMissingToken, "Authentication required")
		return nil, r, false
	}

	claims, err := g.tokens.Validate(tokenString, util.ClientIP(r))
	if err != nil {
		g.recorder.Record(models.AuditEvent{
			EventType: eventTypeAuthorization,
			Action:    actionTokenCheck,
			Result:    audit.ResultDenied,
			Reason:    tokenReason(err),
			IPAddress: util.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		respondWithError(w, getStatusCode(err), err, "Authentication failed")
		return nil, r, false
	}

	return claims, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)), true
}

func (g *Guard) auditDenied(r *http.Request, claims *token.Claims, action, reason, details string) {
	g.recorder.Record(models.AuditEvent{
		EventType: eventTypeAuthorization,
		ActorID:   claims.Subject,
		Action:    action,
		Result:    audit.ResultDenied,
		Reason:    reason,
		IPAddress: util.ClientIP(r),
		UserAgent: r.UserAgent(),
		Details:   details,
	})
}

// ClaimsFromContext returns the validated token claims attached by the
// guard, if any.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*token.Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

func tokenReason(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, token.ErrTokenIPMismatch):
		return "token_ip_mismatch"
	default:
		return "invalid_token"
	}
}
