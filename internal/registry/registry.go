// Package registry implements the Tenant Key Registry: generates, lists,
// validates, and revokes API keys.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/repository"
	"github.com/openclaw/wa-gateway/internal/util"
)

const maxGenerateAttempts = 5

// Registry is the Tenant Key Registry.
type Registry struct {
	repo repository.ApiKeyRepository
}

func New(repo repository.ApiKeyRepository) *Registry {
	return &Registry{repo: repo}
}

// List returns every key, newest first.
func (r *Registry) List(ctx context.Context) ([]model.ApiKey, error) {
	return r.repo.List(ctx)
}

// Generate creates a new key with >=192 bits of entropy, retrying on a
// unique-constraint collision up to maxGenerateAttempts times
// before surfacing a dedicated exhaustion failure.
func (r *Registry) Generate(ctx context.Context, label *string) (*model.ApiKey, error) {
	var lastErr error
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		key, err := util.GenerateApiKey()
		if err != nil {
			return nil, apperrors.Internal("failed to generate API key")
		}

		created, err := r.repo.Create(ctx, model.CreateApiKeyParams{Key: key, Label: label})
		if err == nil {
			return created, nil
		}

		if !isUniqueViolation(err) {
			return nil, apperrors.Database(err)
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("api key collision, retrying")
	}

	log.Error().Err(lastErr).Msg("exhausted api key generation attempts")
	return nil, apperrors.KeyExhaustion()
}

// AssertActive trims whitespace and returns the record iff it exists and is
// active. Missing and deactivated keys are reported identically so a caller
// can't distinguish non-existence from revocation.
func (r *Registry) AssertActive(ctx context.Context, key string) (*model.ApiKey, error) {
	trimmed := strings.TrimSpace(key)

	found, err := r.repo.FindByKey(ctx, trimmed)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if found == nil || !found.IsActive {
		return nil, apperrors.KeyNotRegistered()
	}
	return found, nil
}

// Deactivate flips isActive to false; returns apperrors.SessionNotFound-free
// nil, nil when the key did not exist (the caller maps that to 404 itself
// per the admin route contract).
func (r *Registry) Deactivate(ctx context.Context, key string) (*model.ApiKey, error) {
	if err := r.repo.Deactivate(ctx, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Database(err)
	}
	return r.repo.FindByKey(ctx, key)
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
