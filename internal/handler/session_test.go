package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/registry"
	"github.com/openclaw/wa-gateway/internal/repository"
)

type fakeSessionRepo struct {
	sessions []model.Session
}

func (f *fakeSessionRepo) FindByApiKey(ctx context.Context, apiKey string) (*model.Session, error) {
	for _, s := range f.sessions {
		if s.ApiKey == apiKey {
			copied := s
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionRepo) List(ctx context.Context) ([]model.Session, error) {
	return f.sessions, nil
}

func (f *fakeSessionRepo) Upsert(ctx context.Context, params model.UpsertSessionParams) (*model.Session, error) {
	s := model.Session{ApiKey: params.ApiKey, DisplayName: params.DisplayName, Status: model.StatusDisconnected}
	f.sessions = append(f.sessions, s)
	return &s, nil
}

func (f *fakeSessionRepo) UpdateStatus(ctx context.Context, apiKey string, status model.SessionStatus) error {
	return nil
}
func (f *fakeSessionRepo) SaveCreds(ctx context.Context, apiKey string, creds []byte) error { return nil }
func (f *fakeSessionRepo) Delete(ctx context.Context, apiKey string) error                  { return nil }
func (f *fakeSessionRepo) WithTx(tx *sqlx.Tx) repository.SessionRepository                  { return f }

func TestSessionHandler_List(t *testing.T) {
	repo := &fakeSessionRepo{sessions: []model.Session{
		{ApiKey: "wag_a", Status: model.StatusConnected, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	h := NewSessionHandler(registry.New(newFakeApiKeyRepo()), repo, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wag_a")
}

func TestSessionHandler_Stream_RejectsUnregisteredKey(t *testing.T) {
	h := NewSessionHandler(registry.New(newFakeApiKeyRepo()), &fakeSessionRepo{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/wag_unknown/stream", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
