package models

import "time"

// Identity is a single authenticatable principal. Privileged identities
// (operators) carry an IP allow list and encrypted out-of-band delivery
// addresses; ordinary identities leave those empty.
type Identity struct {
	ID                 string     `db:"id" json:"id"`
	LoginIdentifier    string     `db:"login_identifier" json:"login_identifier"`
	PasswordHash       string     `db:"password_hash" json:"-"`
	IsPrivileged       bool       `db:"is_privileged" json:"is_privileged"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	AllowedIPs         string     `db:"allowed_ips" json:"-"`
	DeliveryCiphertext string     `db:"delivery_ciphertext" json:"-"`
	DeliveryDEK        string     `db:"delivery_dek" json:"-"`
	DeliveryKeyID      string     `db:"delivery_key_id" json:"-"`
	FailedLoginCount   int        `db:"failed_login_count" json:"-"`
	LastFailedLoginAt  *time.Time `db:"last_failed_login_at" json:"-"`
	LastLoginAt        *time.Time `db:"last_login_at" json:"last_login_at"`
	LastLoginIP        string     `db:"last_login_ip" json:"-"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// LockedOut reports whether the identity sits inside an active lockout
// window. The window is anchored to the most recent failure, so every
// new failure while locked extends the lockout.
func (i *Identity) LockedOut(now time.Time, maxFailed int, window time.Duration) bool {
	if i.FailedLoginCount < maxFailed || i.LastFailedLoginAt == nil {
		return false
	}
	return now.Sub(*i.LastFailedLoginAt) < window
}
