package middleware

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-gateway/internal/audit"
	apperrors "github.com/openclaw/wa-gateway/internal/errors"
	"github.com/openclaw/wa-gateway/internal/httputil"
	"github.com/openclaw/wa-gateway/internal/util"
)

// AdminAuth guards the Tenant Key Registry's admin routes with the shared
// secret every caller must present in the x-secret-key header.
func AdminAuth(secretKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("x-secret-key")
			if provided == "" || !util.ConstantTimeEqual(provided, secretKey) {
				log.Warn().Str("path", r.URL.Path).Msg("admin auth: invalid secret key")
				audit.LogFromRequest(r, audit.Event{Type: audit.EventAdminAuthFailure})
				httputil.WriteError(w, apperrors.AuthRejected())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
