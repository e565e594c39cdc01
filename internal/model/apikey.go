package model

import "time"

// ApiKey is the opaque tenant identity used to authorise WhatsApp session
// operations. Keys are never hard-deleted: deactivation flips IsActive so
// that history and audit trails survive.
type ApiKey struct {
	Key       string    `db:"key" json:"key"`
	Label     *string   `db:"label" json:"label,omitempty"`
	IsActive  bool      `db:"is_active" json:"isActive"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type CreateApiKeyParams struct {
	Key   string
	Label *string
}
