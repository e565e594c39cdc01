package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/wa-gateway/internal/audit"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/httputil"
	"github.com/openclaw/wa-gateway/internal/supervisor"
)

// MessageHandler serves outbound message sends over an already-connected
// WhatsApp session.
type MessageHandler struct {
	supervisor *supervisor.Supervisor
}

func NewMessageHandler(sup *supervisor.Supervisor) *MessageHandler {
	return &MessageHandler{supervisor: sup}
}

func (h *MessageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{apiKey}/send", h.send)
	return r
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendMessageResponse struct {
	MessageID string `json:"messageId"`
}

func (h *MessageHandler) send(w http.ResponseWriter, r *http.Request) {
	apiKey := chi.URLParam(r, "apiKey")

	var body sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
		return
	}

	messageID, err := h.supervisor.SendText(r.Context(), apiKey, body.To, body.Text)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventMessageSent, ApiKey: apiKey})
	httputil.WriteData(w, http.StatusOK, sendMessageResponse{MessageID: messageID})
}
