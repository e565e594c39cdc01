// Package audit logs security-relevant events (admin key management,
// session lifecycle transitions) as structured lines alongside the regular
// request log, so they can be filtered independently in the log sink.
package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventApiKeyGenerate   EventType = "api_key_generate"
	EventApiKeyDeactivate EventType = "api_key_deactivate"
	EventAdminAuthFailure EventType = "admin_auth_failure"
	EventSessionQrIssued  EventType = "session_qr_issued"
	EventSessionConnected EventType = "session_connected"
	EventSessionLoggedOut EventType = "session_logged_out"
	EventMessageSent      EventType = "message_sent"
)

type Event struct {
	Type    EventType
	ApiKey  string
	IP      string
	Details map[string]any
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "security").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.ApiKey != "" {
		logger = logger.With().Str("api_key", event.ApiKey).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
