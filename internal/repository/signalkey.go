package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/openclaw/wa-gateway/internal/database"
	"github.com/openclaw/wa-gateway/internal/model"
)

// SignalKeyRepository persists the Signal protocol key material (identity
// keys, pre-keys, per-contact sessions, sender keys) the Credential Store
// exposes through loadKeys/setKeys/clearSessionData.
type SignalKeyRepository interface {
	Load(ctx context.Context, sessionID int64, keyType string, ids []string) (map[string][]byte, error)
	Set(ctx context.Context, sessionID int64, keyType string, values map[string][]byte) error
	Clear(ctx context.Context, sessionID int64) error
	WithTx(tx *sqlx.Tx) SignalKeyRepository
}

type signalKeyRepo struct {
	db database.DBTX
}

func NewSignalKeyRepository(db *sqlx.DB) SignalKeyRepository {
	return &signalKeyRepo{db: db}
}

func (r *signalKeyRepo) WithTx(tx *sqlx.Tx) SignalKeyRepository {
	return &signalKeyRepo{db: tx}
}

func (r *signalKeyRepo) Load(ctx context.Context, sessionID int64, keyType string, ids []string) (map[string][]byte, error) {
	if len(ids) == 0 {
		return map[string][]byte{}, nil
	}

	var rows []model.SignalKey
	err := r.db.SelectContext(ctx, &rows, `
		SELECT session_id, type, key_id, value FROM whatsapp_credentials
		WHERE session_id = $1 AND type = $2 AND key_id = ANY($3)
	`, sessionID, keyType, pq.Array(ids))
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(rows))
	for _, row := range rows {
		out[row.KeyID] = row.Value
	}
	return out, nil
}

func (r *signalKeyRepo) Set(ctx context.Context, sessionID int64, keyType string, values map[string][]byte) error {
	for keyID, value := range values {
		if value == nil {
			if _, err := r.db.ExecContext(ctx, `
				DELETE FROM whatsapp_credentials
				WHERE session_id = $1 AND type = $2 AND key_id = $3
			`, sessionID, keyType, keyID); err != nil {
				return err
			}
			continue
		}

		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO whatsapp_credentials (session_id, type, key_id, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (session_id, type, key_id) DO UPDATE SET value = EXCLUDED.value
		`, sessionID, keyType, keyID, value); err != nil {
			return err
		}
	}
	return nil
}

func (r *signalKeyRepo) Clear(ctx context.Context, sessionID int64) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM whatsapp_credentials WHERE session_id = $1
	`, sessionID)
	return err
}
