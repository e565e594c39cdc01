package supervisor

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/config"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/eventbus"
	"github.com/openclaw/wa-gateway/internal/model"
	"github.com/openclaw/wa-gateway/internal/util"
)

// GetQr validates the key, ensures a managed session, and either returns an
// already-connected/buffered result immediately or blocks on a QR-waiter up
// to a 60 s deadline.
func (s *Supervisor) GetQr(ctx context.Context, apiKey string, displayName *string) (*QrResult, error) {
	if _, err := s.registry.AssertActive(ctx, apiKey); err != nil {
		return nil, err
	}

	row, err := s.sessionRepo.Upsert(ctx, model.UpsertSessionParams{ApiKey: apiKey, DisplayName: displayName})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if row.Status == model.StatusLoggedOut {
		return &QrResult{ApiKey: apiKey, Status: model.StatusLoggedOut}, nil
	}

	managed, err := s.ensureManaged(ctx, apiKey, displayName)
	if err != nil {
		return nil, err
	}

	if err := s.initializeSocket(ctx, managed); err != nil {
		return nil, err
	}

	managed.mu.Lock()
	if managed.connected() {
		managed.mu.Unlock()
		return &QrResult{ApiKey: apiKey, Status: model.StatusConnected}, nil
	}
	if managed.lastQR != nil {
		qr := *managed.lastQR
		managed.mu.Unlock()
		return &QrResult{ApiKey: apiKey, Status: model.StatusQR, QR: qr}, nil
	}
	w := managed.addQRWaiter()
	managed.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, config.QRWaitTimeout)
	defer cancel()

	qr, err := w.wait(waitCtx)
	if err != nil {
		return nil, apperrors.ValidationError("QR code generation timeout")
	}
	return &QrResult{ApiKey: apiKey, Status: model.StatusQR, QR: qr}, nil
}

// Logout validates the key, tears down any live socket, clears credentials,
// marks the session LOGGED_OUT, and releases the lock.
func (s *Supervisor) Logout(ctx context.Context, apiKey string) error {
	if _, err := s.registry.AssertActive(ctx, apiKey); err != nil {
		return err
	}

	row, err := s.sessionRepo.FindByApiKey(ctx, apiKey)
	if err != nil {
		return apperrors.Database(err)
	}
	if row == nil {
		return apperrors.SessionNotFound()
	}

	managed := s.getManaged(apiKey)
	if managed != nil {
		managed.mu.Lock()
		sock := managed.socket
		managed.mu.Unlock()

		if sock != nil {
			if err := sock.Logout(ctx); err != nil {
				log.Warn().Err(err).Str("apiKey", apiKey).Msg("upstream logout failed, proceeding to forceful close")
			}
			sock.Close()
		}
	}

	if err := s.credStore.ClearSessionData(ctx, row.ID, apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to clear credentials on explicit logout")
	}
	if err := s.sessionRepo.UpdateStatus(ctx, apiKey, model.StatusLoggedOut); err != nil {
		log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to persist LOGGED_OUT status")
	}
	if err := s.bus.PublishQr(ctx, apiKey, nil); err != nil {
		log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to publish qr-clear on logout")
	}
	if err := s.bus.PublishStatus(ctx, eventbus.ConnectionInfo{ApiKey: apiKey, Status: string(model.StatusLoggedOut), Connected: false}); err != nil {
		log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to publish status on logout")
	}
	if err := s.lock.Release(ctx, apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to release lock on logout")
	}

	s.discardManaged(apiKey)
	return nil
}

// SendText normalises the destination MSISDN, ensures a connected socket is
// owned by this process, and relays the message.
func (s *Supervisor) SendText(ctx context.Context, apiKey, to, text string) (string, error) {
	if _, err := s.registry.AssertActive(ctx, apiKey); err != nil {
		return "", err
	}

	row, err := s.sessionRepo.FindByApiKey(ctx, apiKey)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if row == nil {
		return "", apperrors.SessionNotFound()
	}
	if row.Status == model.StatusLoggedOut {
		return "", apperrors.SessionLoggedOut()
	}

	normalized, ok := util.NormalizeMSISDN(to)
	if !ok {
		return "", apperrors.ValidationError("Invalid 'to' (use digits, 8-15, with country code)")
	}
	if len(text) == 0 || len(text) > 1000 {
		return "", apperrors.ValidationError("Invalid 'text' (1-1000 chars)")
	}

	managed, err := s.ensureManaged(ctx, apiKey, nil)
	if err != nil {
		return "", err
	}

	if err := s.initializeSocket(ctx, managed); err != nil {
		return "", err
	}

	managed.mu.Lock()
	alreadyBound := managed.connected()
	lockHeld := managed.lockHeld
	managed.mu.Unlock()

	if !lockHeld && !alreadyBound {
		owner, err := s.lock.OwnerOf(ctx, apiKey)
		if err != nil {
			return "", apperrors.Database(err)
		}
		return "", apperrors.SessionLocked(owner)
	}

	if !alreadyBound {
		waitCtx, cancel := context.WithTimeout(ctx, config.ConnectionWaitTimeout)
		defer cancel()

		managed.mu.Lock()
		w := managed.addConnWaiter()
		managed.mu.Unlock()

		if _, err := w.wait(waitCtx); err != nil {
			return "", apperrors.NotConnected()
		}
	}

	managed.mu.Lock()
	sock := managed.socket
	managed.mu.Unlock()
	if sock == nil {
		return "", apperrors.NotConnected()
	}

	jid := normalized + "@s.whatsapp.net"
	result, err := sock.SendText(ctx, jid, text)
	if err != nil {
		return "", apperrors.Internal("failed to send message").WithCause(err)
	}

	if _, err := s.lock.Touch(ctx, apiKey); err != nil {
		log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to refresh lock after send")
	}

	return result.MessageID, nil
}

// WarmSessions enumerates all CONNECTED or DISCONNECTED sessions that have
// stored credentials and attempts to reconnect each, skipping any with no
// credentials so that warm-up never auto-triggers a QR prompt.
func (s *Supervisor) WarmSessions(ctx context.Context) (*WarmResult, error) {
	rows, err := s.sessionRepo.List(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	result := &WarmResult{}
	for _, row := range rows {
		if row.Status != model.StatusConnected && row.Status != model.StatusDisconnected {
			continue
		}
		result.Total++

		creds, err := s.credStore.LoadCreds(ctx, row.ApiKey)
		if err != nil {
			log.Error().Err(err).Str("apiKey", row.ApiKey).Msg("warm-up: failed to load credentials")
			continue
		}
		if creds == nil {
			continue
		}

		result.Attempted++
		managed, err := s.ensureManaged(ctx, row.ApiKey, row.DisplayName)
		if err != nil {
			result.Failed++
			continue
		}

		warmCtx, cancel := context.WithTimeout(ctx, config.WarmupWaitTimeout)
		if err := s.initializeSocket(warmCtx, managed); err != nil {
			cancel()
			result.Failed++
			continue
		}

		managed.mu.Lock()
		alreadyConnected := managed.connected()
		var w *waiter
		if !alreadyConnected {
			w = managed.addConnWaiter()
		}
		managed.mu.Unlock()

		if alreadyConnected {
			result.Connected++
			cancel()
			continue
		}

		if _, err := w.wait(warmCtx); err != nil {
			result.Failed++
		} else {
			result.Connected++
		}
		cancel()
	}

	return result, nil
}
