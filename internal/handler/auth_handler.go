package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"identity-service/internal/models"
	"identity-service/internal/repository/redis"
	"identity-service/internal/service"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

var (
	errMissingFields    = errors.New("missing required fields")
	errMissingToken     = errors.New("missing bearer token")
	errInsufficientRole = errors.New("insufficient role")
	errTooManyAttempts  = errors.New("too many attempts")
)

// Throttle scopes keep the per-address counters of the two credential
// endpoints separate.
const (
	throttleScopeLogin  = "login"
	throttleScopeVerify = "verify"
)

// AuthHandler exposes the authentication flows over HTTP.
type AuthHandler struct {
	authService *service.AuthService
	roles       models.RoleStore
	throttle    *redis.LoginThrottle
	logger      *zap.Logger
}

// NewAuthHandler creates a new authentication handler.
func NewAuthHandler(authService *service.AuthService, roles models.RoleStore, throttle *redis.LoginThrottle, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		roles:       roles,
		throttle:    throttle,
		logger:      logger,
	}
}

// Response is the standard API response envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

type verifyRequest struct {
	LoginID string `json:"login_id"`
	Code    string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type meResponse struct {
	IdentityID string    `json:"identity_id"`
	Roles      []string  `json:"roles"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type operatorSessionResponse struct {
	IdentityID string    `json:"identity_id"`
	Privileged bool      `json:"privileged"`
	OriginIP   string    `json:"origin_ip"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// RegisterRoutes registers the authentication routes on the router.
func (h *AuthHandler) RegisterRoutes(router chi.Router, guard *Guard) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(guard.RequireAuth)
			r.Get("/me", h.Me)
			r.With(guard.RequireRole("legal")).Get("/reports", h.Reports)
		})
	})

	router.Route("/admin", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", h.PrivilegedLogin)
			r.Post("/verify-2fa", h.VerifyCode)
		})
		r.With(guard.RequirePrivileged).Get("/session", h.AdminSession)
	})
}

// Login handles POST /api/v1/auth/login for ordinary identities.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.LoginID == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, errMissingFields, "login_id and password are required")
		return
	}

	clientIP := util.ClientIP(r)
	if !h.throttle.Allow(throttleScopeLogin, clientIP) {
		respondWithError(w, http.StatusTooManyRequests, errTooManyAttempts, "Too many attempts, retry later")
		return
	}

	pair, err := h.authService.LoginUser(ctx, req.LoginID, req.Password, clientIP, r.UserAgent())
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(pair, "Login successful"))
	h.logger.Info("Login processed",
		util.String("client_ip", clientIP),
		util.Duration("duration", time.Since(startTime)))
}

// PrivilegedLogin handles POST /api/v1/admin/auth/login. A successful
// password check only triggers code delivery; no token is returned
// until the code is verified.
func (h *AuthHandler) PrivilegedLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.LoginID == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, errMissingFields, "login_id and password are required")
		return
	}

	clientIP := util.ClientIP(r)
	if !h.throttle.Allow(throttleScopeLogin, clientIP) {
		respondWithError(w, http.StatusTooManyRequests, errTooManyAttempts, "Too many attempts, retry later")
		return
	}

	if err := h.authService.LoginPrivileged(ctx, req.LoginID, req.Password, clientIP, r.UserAgent()); err != nil {
		respondWithError(w, getStatusCode(err), err, "Login failed")
		return
	}

	respondWithJSON(w, http.StatusAccepted, successResponse(nil, "Verification code sent"))
	h.logger.Info("Privileged login challenge issued",
		util.String("client_ip", clientIP),
		util.Duration("duration", time.Since(startTime)))
}

// VerifyCode handles POST /api/v1/admin/auth/verify-2fa, the second
// phase of the privileged flow.
func (h *AuthHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.LoginID == "" || req.Code == "" {
		respondWithError(w, http.StatusBadRequest, errMissingFields, "login_id and code are required")
		return
	}

	clientIP := util.ClientIP(r)
	if !h.throttle.Allow(throttleScopeVerify, clientIP) {
		respondWithError(w, http.StatusTooManyRequests, errTooManyAttempts, "Too many attempts, retry later")
		return
	}

	pair, err := h.authService.VerifyChallenge(ctx, req.LoginID, req.Code, clientIP, r.UserAgent())
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Verification failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(pair, "Verification successful"))
	h.logger.Info("Privileged login completed",
		util.String("client_ip", clientIP),
		util.Duration("duration", time.Since(startTime)))
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, errMissingFields, "refresh_token is required")
		return
	}

	pair, err := h.authService.Refresh(ctx, req.RefreshToken, util.ClientIP(r), r.UserAgent())
	if err != nil {
		respondWithError(w, getStatusCode(err), err, "Refresh failed")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(pair, "Token refreshed"))
	h.logger.Info("Token refreshed",
		util.String("client_ip", util.ClientIP(r)),
		util.Duration("duration", time.Since(startTime)))
}

// Me handles GET /api/v1/auth/me. Roles are read from the store, not
// the token, so the view reflects grant changes made after issuance.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := ClaimsFromContext(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, errMissingToken, "Authentication required")
		return
	}

	roles, err := h.roles.ActiveRolesForIdentity(ctx, claims.Subject)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, err, "Failed to resolve roles")
		return
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}

	respondWithJSON(w, http.StatusOK, successResponse(meResponse{
		IdentityID: claims.Subject,
		Roles:      names,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, "Session active"))
}

// Reports handles GET /api/v1/auth/reports. The reporting backend
// lives in another service; this endpoint only proves the role gate.
func (h *AuthHandler) Reports(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, errMissingToken, "Authentication required")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
		"identity_id": claims.Subject,
		"scope":       "legal",
	}, "Reports access granted"))
}

// AdminSession handles GET /api/v1/admin/session.
func (h *AuthHandler) AdminSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, errMissingToken, "Authentication required")
		return
	}

	respondWithJSON(w, http.StatusOK, successResponse(operatorSessionResponse{
		IdentityID: claims.Subject,
		Privileged: claims.IsPrivileged(),
		OriginIP:   claims.OriginIP,
		IssuedAt:   claims.IssuedAt.Time,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, "Operator session active"))
}

// respondWithJSON writes a JSON response with the given status code.
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		util.Error("Failed to encode response", util.ErrorField(err))
	}
}

// respondWithError writes a JSON error response. Server-side failures
// get a generic body so internals never leak to the caller.
func respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	util.Warn("Request failed",
		util.Int("status_code", statusCode),
		util.String("message", message),
		util.ErrorField(err))

	if statusCode >= http.StatusInternalServerError {
		err = errors.New("internal server error")
	}
	respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode maps service errors to HTTP status codes.
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrCodeInvalid),
		errors.Is(err, service.ErrCodeExpired),
		errors.Is(err, service.ErrCodeAttemptsExceeded),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrTokenExpired),
		errors.Is(err, token.ErrTokenIPMismatch),
		errors.Is(err, errMissingToken):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountLocked),
		errors.Is(err, service.ErrIPNotWhitelisted),
		errors.Is(err, errInsufficientRole):
		return http.StatusForbidden
	case errors.Is(err, errTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, errMissingFields):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
