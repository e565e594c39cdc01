package handler

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageHandler_RejectsMalformedBody(t *testing.T) {
	h := NewMessageHandler(nil)

	req := httptest.NewRequest(http.MethodPost, "/wag_a/send", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
