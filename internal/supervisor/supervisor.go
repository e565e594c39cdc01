// Package supervisor implements the Session Supervisor: the finite-state
// machine that owns lease acquisition, socket creation, reconnection with
// exponential backoff, warm-up, and graceful shutdown for every tenant's
// WhatsApp Web session.
package supervisor

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/credstore"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/eventbus"
	"github.com/openclaw/wa-gateway/internal/lock"
	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/registry"
	"github.com/openclaw/wa-gateway/internal/repository"
	"github.com/openclaw/wa-gateway/internal/upstream"
)

// ConnectionStatus is the status/connected pair getConnectionStatus reports.
type ConnectionStatus struct {
	ApiKey    string              `json:"apiKey"`
	Status    model.SessionStatus `json:"status"`
	Connected bool                `json:"connected"`
}

// QrResult is what getQr returns.
type QrResult struct {
	ApiKey string              `json:"apiKey"`
	Status model.SessionStatus `json:"status"`
	QR     string              `json:"qr,omitempty"`
}

// WarmResult summarises a warmSessions() run.
type WarmResult struct {
	Total     int `json:"total"`
	Attempted int `json:"attempted"`
	Connected int `json:"connected"`
	Failed    int `json:"failed"`
}

// eventPublisher is the slice of *eventbus.Bus the Supervisor depends on;
// narrowing to an interface lets tests substitute an in-memory fake instead
// of a Bus wired to a live Redis connection.
type eventPublisher interface {
	PublishQr(ctx context.Context, apiKey string, qr *string) error
	PublishStatus(ctx context.Context, info eventbus.ConnectionInfo) error
}

// Supervisor is the process-wide Session Supervisor.
type Supervisor struct {
	registry    *registry.Registry
	sessionRepo repository.SessionRepository
	credStore   *credstore.Store
	lock        *lock.Lock
	bus         eventPublisher
	adapter     upstream.Adapter

	mu       sync.RWMutex
	sessions map[string]*managedSession
}

func New(
	reg *registry.Registry,
	sessionRepo repository.SessionRepository,
	credStore *credstore.Store,
	sessionLock *lock.Lock,
	bus eventPublisher,
	adapter upstream.Adapter,
) *Supervisor {
	return &Supervisor{
		registry:    reg,
		sessionRepo: sessionRepo,
		credStore:   credStore,
		lock:        sessionLock,
		bus:         bus,
		adapter:     adapter,
		sessions:    make(map[string]*managedSession),
	}
}

// ensureManaged returns the in-memory projection for apiKey, creating and
// upserting the durable row lazily on first use.
func (s *Supervisor) ensureManaged(ctx context.Context, apiKey string, displayName *string) (*managedSession, error) {
	s.mu.RLock()
	existing, ok := s.sessions[apiKey]
	s.mu.RUnlock()
	if ok {
		return existing, nil
	}

	row, err := s.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: apiKey, DisplayName: displayName})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[apiKey]; ok {
		return existing, nil
	}
	managed := newManagedSession(apiKey, row.ID, row.Status)
	s.sessions[apiKey] = managed
	return managed, nil
}

func (s *Supervisor) getManaged(apiKey string) *managedSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[apiKey]
}

func (s *Supervisor) discardManaged(apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, apiKey)
}

// ActiveKeys returns every API key whose in-memory projection holds the
// session lock, used by the lock refresh background job.
func (s *Supervisor) ActiveKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for key, managed := range s.sessions {
		managed.mu.Lock()
		held := managed.lockHeld
		managed.mu.Unlock()
		if held {
			keys = append(keys, key)
		}
	}
	return keys
}

// TouchLock refreshes the lease for apiKey; used by the lock refresh job.
func (s *Supervisor) TouchLock(ctx context.Context, apiKey string) (bool, error) {
	return s.lock.Touch(ctx, apiKey)
}

// GetConnectionStatus reports connected=true iff a live socket is bound and
// its last connection update was open. The status is the in-memory one when
// this process manages the session, since the durable row lags the latest
// event; otherwise it is the persisted row's status, or DISCONNECTED when
// no row exists.
func (s *Supervisor) GetConnectionStatus(ctx context.Context, apiKey string) (*ConnectionStatus, error) {
	if _, err := s.registry.AssertActive(ctx, apiKey); err != nil {
		return nil, err
	}

	if managed := s.getManaged(apiKey); managed != nil {
		managed.mu.Lock()
		status := managed.status
		connected := managed.connected()
		managed.mu.Unlock()
		return &ConnectionStatus{ApiKey: apiKey, Status: status, Connected: connected}, nil
	}

	row, err := s.sessionRepo.FindByApiKey(ctx, apiKey)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if row == nil {
		return &ConnectionStatus{ApiKey: apiKey, Status: model.StatusDisconnected, Connected: false}, nil
	}
	return &ConnectionStatus{ApiKey: apiKey, Status: row.Status, Connected: false}, nil
}

// GetCurrentQr returns the memory-only last QR; nil if none is buffered.
// New SSE subscribers are seeded from the event bus's own buffered QR, not
// from this method.
func (s *Supervisor) GetCurrentQr(apiKey string) *string {
	managed := s.getManaged(apiKey)
	if managed == nil {
		return nil
	}
	managed.mu.Lock()
	defer managed.mu.Unlock()
	return managed.lastQR
}

// Shutdown force-closes every live socket and releases every lease this
// process holds; the HTTP shell's graceful shutdown waits for this.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*managedSession, 0, len(s.sessions))
	for _, managed := range s.sessions {
		sessions = append(sessions, managed)
	}
	s.mu.Unlock()

	for _, managed := range sessions {
		managed.mu.Lock()
		if managed.socket != nil {
			managed.socket.Close()
		}
		managed.cancelReconnectTimer()
		managed.mu.Unlock()
	}

	if _, err := s.lock.ReleaseAll(ctx); err != nil {
		log.Error().Err(err).Msg("failed to release session locks on shutdown")
	}
}

