package model

import "time"

// SessionLock is the durable single-owner lease over an ApiKey. At most one
// row exists per key; it is considered stale once now-AcquiredAt exceeds
// the configured TTL.
type SessionLock struct {
	ApiKey     string    `db:"api_key" json:"apiKey"`
	OwnerID    string    `db:"owner_id" json:"ownerId"`
	AcquiredAt time.Time `db:"acquired_at" json:"acquiredAt"`
}
