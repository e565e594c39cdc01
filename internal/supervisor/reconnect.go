package supervisor

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/config"
)

// reconnectDelay returns the delay for attempt n (n >= 1):
// min(30_000, 1000 * 2^min(n-1, 5)) + rand[0, 500) ms.
func reconnectDelay(attempt int) time.Duration {
	shift := attempt - 1
	if shift > config.ReconnectMaxShift {
		shift = config.ReconnectMaxShift
	}
	if shift < 0 {
		shift = 0
	}

	base := config.ReconnectBaseDelay * time.Duration(1<<uint(shift))
	if base > config.ReconnectMaxDelay {
		base = config.ReconnectMaxDelay
	}

	jitter := time.Duration(rand.Int63n(int64(config.ReconnectMaxJitter)))
	return base + jitter
}

// scheduleReconnect arms a single timer for managed; a new close always
// replaces any previously armed timer.
func (s *Supervisor) scheduleReconnect(managed *managedSession, attempt int) {
	delay := reconnectDelay(attempt)

	managed.mu.Lock()
	managed.cancelReconnectTimer()
	managed.reconnectTimer = time.AfterFunc(delay, func() {
		s.fireReconnect(managed)
	})
	managed.mu.Unlock()

	log.Info().Str("apiKey", managed.apiKey).Int("attempt", attempt).Dur("delay", delay).Msg("scheduled reconnect")
}

func (s *Supervisor) fireReconnect(managed *managedSession) {
	managed.mu.Lock()
	alreadyLive := managed.socket != nil || managed.connecting
	managed.mu.Unlock()
	if alreadyLive {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectionWaitTimeout)
	defer cancel()

	if err := s.initializeSocket(ctx, managed); err != nil {
		log.Error().Err(err).Str("apiKey", managed.apiKey).Msg("reconnect attempt failed")

		managed.mu.Lock()
		managed.reconnectAttempts++
		attempt := managed.reconnectAttempts
		managed.mu.Unlock()

		s.scheduleReconnect(managed, attempt)
	}
}
