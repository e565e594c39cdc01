package supervisor

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/eventbus"
	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/upstream"
)

// statusConnecting is an in-memory-only transitional state; it is never
// persisted to the Session row, whose status column is one of the five
// durable values in model.SessionStatus.
const statusConnecting model.SessionStatus = "CONNECTING"

// initializeSocket is idempotent: concurrent callers for the same key share
// one in-flight connect attempt and all await its outcome.
func (s *Supervisor) initializeSocket(ctx context.Context, managed *managedSession) error {
	managed.mu.Lock()
	if managed.socket != nil {
		managed.mu.Unlock()
		return nil
	}
	if managed.connecting {
		waitCh := managed.connectWaitCh
		managed.mu.Unlock()
		select {
		case <-waitCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	managed.connecting = true
	managed.connectWaitCh = make(chan struct{})
	managed.mu.Unlock()

	err := s.doInitializeSocket(ctx, managed)

	managed.mu.Lock()
	managed.connecting = false
	close(managed.connectWaitCh)
	managed.mu.Unlock()

	return err
}

func (s *Supervisor) doInitializeSocket(ctx context.Context, managed *managedSession) error {
	held, err := s.lock.Acquire(ctx, managed.apiKey)
	if err != nil {
		return apperrors.Database(err)
	}
	if !held {
		// Another process owns this session; the caller must treat the
		// returned managed session as socket-less.
		return nil
	}

	managed.mu.Lock()
	managed.lockHeld = true
	managed.mu.Unlock()

	auth, err := s.buildAuthState(ctx, managed)
	if err != nil {
		return s.failConstruction(ctx, managed, err)
	}

	version := s.adapter.ResolveVersion(ctx)
	sock, err := s.adapter.NewSocket(ctx, auth, version, upstream.Options{})
	if err != nil {
		return s.failConstruction(ctx, managed, err)
	}

	managed.mu.Lock()
	managed.socket = sock
	managed.status = statusConnecting
	managed.mu.Unlock()

	go s.pumpConnectionUpdates(managed, sock)
	go s.pumpCredsUpdates(managed, sock)

	return nil
}

func (s *Supervisor) buildAuthState(ctx context.Context, managed *managedSession) (upstream.AuthState, error) {
	creds, err := s.credStore.LoadCreds(ctx, managed.apiKey)
	if err != nil {
		return upstream.AuthState{}, err
	}
	if creds == nil {
		creds = s.adapter.InitAuthCreds()
		if err := s.credStore.SaveCreds(ctx, managed.apiKey, creds); err != nil {
			return upstream.AuthState{}, err
		}
	}

	apiKey := managed.apiKey
	sessionID := managed.sessionID

	return upstream.AuthState{
		Creds: creds,
		GetKeys: func(ctx context.Context, keyType string, ids []string) (map[string]any, error) {
			return s.credStore.LoadKeys(ctx, sessionID, keyType, ids)
		},
		SetKeys: func(ctx context.Context, values map[string]map[string]any) error {
			return s.credStore.SetKeys(ctx, sessionID, values)
		},
		SaveCreds: func(ctx context.Context, creds upstream.AuthCreds) error {
			if err := s.credStore.SaveCreds(ctx, apiKey, creds); err != nil {
				log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to persist creds")
			}
			return nil
		},
	}, nil
}

// failConstruction implements the "upstream socket construction throws" row
// of the failure semantics table: status ERROR, QR-waiters rejected, lock
// released, error surfaced.
func (s *Supervisor) failConstruction(ctx context.Context, managed *managedSession, cause error) error {
	managed.mu.Lock()
	managed.status = model.StatusError
	managed.lockHeld = false
	managed.rejectAllWaiters(cause)
	managed.mu.Unlock()

	if err := s.sessionRepo.UpdateStatus(ctx, managed.apiKey, model.StatusError); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to persist ERROR status")
	}
	if err := s.lock.Release(ctx, managed.apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to release lock after construction failure")
	}

	return apperrors.Internal("failed to establish WhatsApp connection").WithCause(cause)
}

func (s *Supervisor) pumpCredsUpdates(managed *managedSession, sock upstream.Socket) {
	for creds := range sock.CredsUpdate() {
		if err := s.credStore.SaveCreds(context.Background(), managed.apiKey, creds); err != nil {
			log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to persist creds.update")
		}
	}
}

func (s *Supervisor) pumpConnectionUpdates(managed *managedSession, sock upstream.Socket) {
	for update := range sock.ConnectionUpdate() {
		s.handleConnectionUpdate(context.Background(), managed, sock, update)
	}
}

func (s *Supervisor) handleConnectionUpdate(ctx context.Context, managed *managedSession, sock upstream.Socket, update upstream.ConnectionUpdate) {
	if update.QR != "" {
		s.handleQR(ctx, managed, update.QR)
	}

	switch update.Connection {
	case "open":
		s.handleOpen(ctx, managed)
	case "close":
		s.handleClose(ctx, managed, sock, update)
	}
}

func (s *Supervisor) handleQR(ctx context.Context, managed *managedSession, qr string) {
	managed.mu.Lock()
	managed.lastQR = &qr
	managed.status = model.StatusQR
	managed.resolveQRWaiters(qr)
	managed.mu.Unlock()

	if err := s.bus.PublishQr(ctx, managed.apiKey, &qr); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to publish qr event")
	}
	if err := s.sessionRepo.UpdateStatus(ctx, managed.apiKey, model.StatusQR); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to persist QR status")
	}
}

func (s *Supervisor) handleOpen(ctx context.Context, managed *managedSession) {
	managed.mu.Lock()
	managed.lastQR = nil
	managed.status = model.StatusConnected
	managed.cancelReconnectTimer()
	managed.resolveConnWaiters()
	managed.reconnectAttempts = 0
	managed.mu.Unlock()

	if err := s.bus.PublishQr(ctx, managed.apiKey, nil); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to publish qr-clear event")
	}
	if err := s.sessionRepo.UpdateStatus(ctx, managed.apiKey, model.StatusConnected); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to persist CONNECTED status")
	}
	if err := s.bus.PublishStatus(ctx, eventbus.ConnectionInfo{ApiKey: managed.apiKey, Status: string(model.StatusConnected), Connected: true}); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to publish status event")
	}
	if _, err := s.lock.Touch(ctx, managed.apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to refresh lock on open")
	}
}

func (s *Supervisor) handleClose(ctx context.Context, managed *managedSession, sock upstream.Socket, update upstream.ConnectionUpdate) {
	loggedOut := update.LastDisconnect != nil && update.LastDisconnect.StatusCode == upstream.LoggedOutStatusCode

	managed.mu.Lock()
	managed.cancelReconnectTimer()
	sock.Close()
	managed.socket = nil
	closeErr := apperrors.New(apperrors.ErrCodeNotConnected, "WhatsApp connection closed")
	managed.rejectAllWaiters(closeErr)
	managed.mu.Unlock()

	if loggedOut {
		s.handleLoggedOut(ctx, managed)
		return
	}

	managed.mu.Lock()
	managed.status = model.StatusDisconnected
	managed.reconnectAttempts++
	attempt := managed.reconnectAttempts
	managed.mu.Unlock()

	if err := s.sessionRepo.UpdateStatus(ctx, managed.apiKey, model.StatusDisconnected); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to persist DISCONNECTED status")
	}
	if err := s.bus.PublishStatus(ctx, eventbus.ConnectionInfo{ApiKey: managed.apiKey, Status: string(model.StatusDisconnected), Connected: false}); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to publish status event")
	}

	s.scheduleReconnect(managed, attempt)
}

func (s *Supervisor) handleLoggedOut(ctx context.Context, managed *managedSession) {
	if err := s.credStore.ClearSessionData(ctx, managed.sessionID, managed.apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to clear credentials on logout")
	}
	if err := s.sessionRepo.UpdateStatus(ctx, managed.apiKey, model.StatusLoggedOut); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to persist LOGGED_OUT status")
	}
	if err := s.lock.Release(ctx, managed.apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to release lock on logout")
	}
	if err := s.bus.PublishStatus(ctx, eventbus.ConnectionInfo{ApiKey: managed.apiKey, Status: string(model.StatusLoggedOut), Connected: false}); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("failed to publish status event")
	}

	managed.mu.Lock()
	managed.status = model.StatusLoggedOut
	managed.lockHeld = false
	managed.reconnectAttempts = 0
	managed.mu.Unlock()

	s.discardManaged(managed.apiKey)
}
