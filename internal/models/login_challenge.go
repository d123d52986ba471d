package models

import "time"

// LoginChallenge is a pending second factor for a privileged login.
// At most one row exists per identity; presence of the row is what
// distinguishes a pending challenge from no challenge at all.
type LoginChallenge struct {
	IdentityID string    `db:"identity_id"`
	CodeHash   string    `db:"code_hash"`
	CodeSalt   string    `db:"code_salt"`
	ExpiresAt  time.Time `db:"expires_at"`
	Attempts   int       `db:"attempts"`
	CreatedAt  time.Time `db:"created_at"`
}

func (c *LoginChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
