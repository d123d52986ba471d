package service

import "errors"

// Authentication failures collapse into a small taxonomy so responses
// leak as little as possible about why a login was refused.
var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountLocked        = errors.New("account locked")
	ErrIPNotWhitelisted     = errors.New("ip address not allowed")
	ErrCodeInvalid          = errors.New("verification code invalid")
	ErrCodeExpired          = errors.New("verification code expired or not issued")
	ErrCodeAttemptsExceeded = errors.New("verification code attempts exceeded")
	ErrCodeDeliveryFailed   = errors.New("verification code delivery failed")
)

const (
	eventTypeAuthentication = "authentication"

	actionLogin           = "login"
	actionPrivilegedLogin = "privileged_login"
	actionCodeIssued      = "code_issued"
	actionVerifyCode      = "verify_code"
	actionTokenRefresh    = "token_refresh"
)
