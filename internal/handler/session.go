package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/audit"
	"github.com/openclaw/wa-gateway/internal/eventbus"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/httputil"
	"github.com/openclaw/wa-gateway/internal/registry"
	"github.com/openclaw/wa-gateway/internal/repository"
	"github.com/openclaw/wa-gateway/internal/supervisor"
)

// SessionHandler serves the WhatsApp session lifecycle routes: list, QR
// issuance, logout, status, and the SSE status stream.
type SessionHandler struct {
	registry    *registry.Registry
	sessionRepo repository.SessionRepository
	supervisor  *supervisor.Supervisor
	bus         *eventbus.Bus
}

func NewSessionHandler(
	reg *registry.Registry,
	sessionRepo repository.SessionRepository,
	sup *supervisor.Supervisor,
	bus *eventbus.Bus,
) *SessionHandler {
	return &SessionHandler{registry: reg, sessionRepo: sessionRepo, supervisor: sup, bus: bus}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/{apiKey}/qr", h.getQr)
	r.Post("/{apiKey}/logout", h.logout)
	r.Get("/{apiKey}/status", h.status)
	r.Get("/{apiKey}/stream", h.stream)
	return r
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessionRepo.List(r.Context())
	if err != nil {
		httputil.WriteError(w, apperrors.Database(err))
		return
	}
	httputil.WriteData(w, http.StatusOK, sessions)
}

type getQrRequest struct {
	DisplayName *string `json:"displayName"`
}

func (h *SessionHandler) getQr(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "apiKey")

	var body getQrRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
			httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}

	result, err := h.supervisor.GetQr(r.Context(), apiKey, body.DisplayName)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionQrIssued, ApiKey: apiKey})
	httputil.WriteData(w, http.StatusOK, result)
}

func (h *SessionHandler) logout(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "apiKey")

	if err := h.supervisor.Logout(r.Context(), apiKey); err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionLoggedOut, ApiKey: apiKey})
	httputil.WriteMessage(w, http.StatusOK, "Logged out")
}

func (h *SessionHandler) status(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "apiKey")

	status, err := h.supervisor.GetConnectionStatus(r.Context(), apiKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, status)
}

// stream upgrades the connection to an SSE stream of status/qr events for
// apiKey, mirroring the teacher's events handler framing.
func (h *SessionHandler) stream(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "apiKey")
	if _, err := h.registry.AssertActive(r.Context(), apiKey); err != nil {
		httputil.WriteError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	status, err := h.supervisor.GetConnectionStatus(r.Context(), apiKey)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	sub := h.bus.Subscribe(apiKey, &eventbus.ConnectionInfo{
		ApiKey:    apiKey,
		Status:    string(status.Status),
		Connected: status.Connected,
	})
	defer h.bus.Unsubscribe(sub)

	log.Info().Str("apiKey", apiKey).Msg("sse stream established")

	ctx := r.Context()
	heartbeat := time.NewTicker(eventbus.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("apiKey", apiKey).Msg("sse stream closed by client")
			return

		case <-sub.Done:
			log.Info().Str("apiKey", apiKey).Msg("sse stream closed by event bus")
			return

		case event := <-sub.Events:
			if err := writeSSEEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Str("apiKey", apiKey).Msg("failed to write sse event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event eventbus.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
