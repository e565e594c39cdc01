package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway/internal/database"
	"github.com/openclaw/wa-gateway/internal/model"
)

// SessionRepository persists the one row per tenant the Credential Store and
// Session Supervisor share: status, display name, and the opaque Signal
// creds blob.
type SessionRepository interface {
	FindByApiKey(ctx context.Context, apiKey string) (*model.Session, error)
	List(ctx context.Context) ([]model.Session, error)
	Upsert(ctx context.Context, params model.UpsertSessionParams) (*model.Session, error)
	UpdateStatus(ctx context.Context, apiKey string, status model.SessionStatus) error
	SaveCreds(ctx context.Context, apiKey string, creds []byte) error
	Delete(ctx context.Context, apiKey string) error
	WithTx(tx *sqlx.Tx) SessionRepository
}

type sessionRepo struct {
	db database.DBTX
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) WithTx(tx *sqlx.Tx) SessionRepository {
	return &sessionRepo{db: tx}
}

func (r *sessionRepo) FindByApiKey(ctx context.Context, apiKey string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM whatsapp_sessions WHERE api_key = $1
	`, apiKey)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) List(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM whatsapp_sessions ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) Upsert(ctx context.Context, params model.UpsertSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO whatsapp_sessions (api_key, display_name, status)
		VALUES ($1, $2, 'DISCONNECTED')
		ON CONFLICT (api_key) DO UPDATE SET
			display_name = COALESCE(EXCLUDED.display_name, whatsapp_sessions.display_name),
			updated_at = NOW()
		RETURNING *
	`, params.ApiKey, params.DisplayName)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateStatus(ctx context.Context, apiKey string, status model.SessionStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_sessions SET status = $2, updated_at = NOW()
		WHERE api_key = $1
	`, apiKey, status)
	return err
}

func (r *sessionRepo) SaveCreds(ctx context.Context, apiKey string, creds []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_sessions SET creds = $2, updated_at = NOW()
		WHERE api_key = $1
	`, apiKey, creds)
	return err
}

func (r *sessionRepo) Delete(ctx context.Context, apiKey string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM whatsapp_sessions WHERE api_key = $1
	`, apiKey)
	return err
}
