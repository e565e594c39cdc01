package handler

import (
	"net/http"

	"github.com/openclaw/wa-gateway/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
