package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/wa-gateway/internal/audit"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/httputil"
	"github.com/openclaw/wa-gateway/internal/registry"
)

// ApiKeyHandler serves the admin routes over the Tenant Key Registry.
// Every route is mounted behind middleware.AdminAuth.
type ApiKeyHandler struct {
	registry *registry.Registry
}

func NewApiKeyHandler(reg *registry.Registry) *ApiKeyHandler {
	return &ApiKeyHandler{registry: reg}
}

func (h *ApiKeyHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Delete("/{key}", h.deactivate)
	return r
}

func (h *ApiKeyHandler) list(w http.ResponseWriter, r *http.Request) {
	keys, err := h.registry.List(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteData(w, http.StatusOK, keys)
}

type createApiKeyRequest struct {
	Label *string `json:"label"`
}

func (h *ApiKeyHandler) create(w http.ResponseWriter, r *http.Request) {
	var body createApiKeyRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
			httputil.WriteError(w, apperrors.ValidationError("Invalid request body"))
			return
		}
	}

	key, err := h.registry.Generate(r.Context(), body.Label)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventApiKeyGenerate, ApiKey: key.Key})
	httputil.WriteData(w, http.StatusCreated, key)
}

func (h *ApiKeyHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	updated, err := h.registry.Deactivate(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if updated == nil {
		httputil.WriteError(w, apperrors.ApiKeyNotFound())
		return
	}

	audit.LogFromRequest(r, audit.Event{Type: audit.EventApiKeyDeactivate, ApiKey: key})
	httputil.WriteData(w, http.StatusOK, updated)
}
