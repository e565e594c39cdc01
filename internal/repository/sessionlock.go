package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway/internal/database"
	"github.com/openclaw/wa-gateway/internal/model"
)

// SessionLockRepository implements the Session Lock's create-or-refresh-or-
// steal semantics with a single atomic statement per call, so two processes
// racing to acquire the same lock never both believe they won.
type SessionLockRepository interface {
	// Acquire creates the lock row if absent, refreshes it if already owned
	// by ownerID, or steals it if the existing holder's lease is older than
	// staleBefore. Returns true if the caller now holds the lock.
	Acquire(ctx context.Context, apiKey, ownerID string, staleBefore time.Time) (bool, error)
	Touch(ctx context.Context, apiKey, ownerID string) (bool, error)
	Release(ctx context.Context, apiKey, ownerID string) error
	ReleaseAll(ctx context.Context, ownerID string) (int64, error)
	GetOwner(ctx context.Context, apiKey string) (*model.SessionLock, error)
	WithTx(tx *sqlx.Tx) SessionLockRepository
}

type sessionLockRepo struct {
	db database.DBTX
}

func NewSessionLockRepository(db *sqlx.DB) SessionLockRepository {
	return &sessionLockRepo{db: db}
}

func (r *sessionLockRepo) WithTx(tx *sqlx.Tx) SessionLockRepository {
	return &sessionLockRepo{db: tx}
}

func (r *sessionLockRepo) Acquire(ctx context.Context, apiKey, ownerID string, staleBefore time.Time) (bool, error) {
	var acquiredOwner string
	err := r.db.GetContext(ctx, &acquiredOwner, `
		INSERT INTO whatsapp_session_locks (api_key, owner_id, acquired_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (api_key) DO UPDATE SET
			owner_id = $2,
			acquired_at = NOW()
		WHERE whatsapp_session_locks.owner_id = $2
		   OR whatsapp_session_locks.acquired_at < $3
		RETURNING owner_id
	`, apiKey, ownerID, staleBefore)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict existed and the WHERE guard rejected the update: someone
		// else holds a lease that hasn't gone stale yet.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acquiredOwner == ownerID, nil
}

func (r *sessionLockRepo) Touch(ctx context.Context, apiKey, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE whatsapp_session_locks SET acquired_at = NOW()
		WHERE api_key = $1 AND owner_id = $2
	`, apiKey, ownerID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *sessionLockRepo) Release(ctx context.Context, apiKey, ownerID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM whatsapp_session_locks WHERE api_key = $1 AND owner_id = $2
	`, apiKey, ownerID)
	return err
}

func (r *sessionLockRepo) ReleaseAll(ctx context.Context, ownerID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM whatsapp_session_locks WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *sessionLockRepo) GetOwner(ctx context.Context, apiKey string) (*model.SessionLock, error) {
	var lock model.SessionLock
	err := r.db.GetContext(ctx, &lock, `
		SELECT * FROM whatsapp_session_locks WHERE api_key = $1
	`, apiKey)
	return HandleNotFound(&lock, err)
}
