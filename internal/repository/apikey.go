package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/wa-gateway/internal/database"
	"github.com/openclaw/wa-gateway/internal/model"
)

// ApiKeyRepository implements the Tenant Key Registry's storage needs: list,
// generate (create), and deactivate.
type ApiKeyRepository interface {
	List(ctx context.Context) ([]model.ApiKey, error)
	FindByKey(ctx context.Context, key string) (*model.ApiKey, error)
	Create(ctx context.Context, params model.CreateApiKeyParams) (*model.ApiKey, error)
	Deactivate(ctx context.Context, key string) error
	WithTx(tx *sqlx.Tx) ApiKeyRepository
}

type apiKeyRepo struct {
	db database.DBTX
}

func NewApiKeyRepository(db *sqlx.DB) ApiKeyRepository {
	return &apiKeyRepo{db: db}
}

func (r *apiKeyRepo) WithTx(tx *sqlx.Tx) ApiKeyRepository {
	return &apiKeyRepo{db: tx}
}

func (r *apiKeyRepo) List(ctx context.Context) ([]model.ApiKey, error) {
	var keys []model.ApiKey
	err := r.db.SelectContext(ctx, &keys, `
		SELECT * FROM api_keys ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *apiKeyRepo) FindByKey(ctx context.Context, key string) (*model.ApiKey, error) {
	var apiKey model.ApiKey
	err := r.db.GetContext(ctx, &apiKey, `
		SELECT * FROM api_keys WHERE key = $1
	`, key)
	return HandleNotFound(&apiKey, err)
}

func (r *apiKeyRepo) Create(ctx context.Context, params model.CreateApiKeyParams) (*model.ApiKey, error) {
	var apiKey model.ApiKey
	err := r.db.GetContext(ctx, &apiKey, `
		INSERT INTO api_keys (key, label, is_active)
		VALUES ($1, $2, true)
		RETURNING *
	`, params.Key, params.Label)
	if err != nil {
		return nil, err
	}
	return &apiKey, nil
}

func (r *apiKeyRepo) Deactivate(ctx context.Context, key string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET is_active = false, updated_at = NOW()
		WHERE key = $1
	`, key)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
