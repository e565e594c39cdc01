package model

import "time"

// Session is the long-lived relationship between one ApiKey and one
// WhatsApp Web identity. Rows are created on first QR request and never
// deleted; logout clears credential material but keeps the row so history
// is preserved.
type Session struct {
	ID          int64         `db:"id" json:"id"`
	ApiKey      string        `db:"api_key" json:"apiKey"`
	DisplayName *string       `db:"display_name" json:"displayName,omitempty"`
	Status      SessionStatus `db:"status" json:"status"`
	Creds       []byte        `db:"creds" json:"-"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

type UpsertSessionParams struct {
	ApiKey      string
	DisplayName *string
}
