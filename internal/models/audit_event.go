package models

import "time"

// AuditEvent is an append-only record of a security relevant action.
// Codes and passwords never appear here, only outcomes.
type AuditEvent struct {
	EventBucket     int       `db:"event_bucket" json:"event_bucket"`
	EventDate       string    `db:"event_date" json:"event_date"`
	EventTime       time.Time `db:"event_time" json:"event_time"`
	EventID         string    `db:"event_id" json:"event_id"`
	EventType       string    `db:"event_type" json:"event_type"`
	ActorID         string    `db:"actor_id" json:"actor_id"`
	LoginIdentifier string    `db:"login_identifier" json:"login_identifier"`
	Action          string    `db:"action" json:"action"`
	Result          string    `db:"result" json:"result"`
	Reason          string    `db:"reason" json:"reason"`
	IPAddress       string    `db:"ip_address" json:"ip_address"`
	UserAgent       string    `db:"user_agent" json:"user_agent"`
	Details         string    `db:"details" json:"details"`
}
