package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func authProbe(keys []string, provided string) int {
	handler := APIKey(keys)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	if provided != "" {
		req.Header.Set("X-API-Key", provided)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIKeyAcceptsConfiguredKey(t *testing.T) {
	assert.Equal(t, http.StatusOK, authProbe([]string{"secret-1", "secret-2"}, "secret-2"))
}

func TestAPIKeyRejectsWrongKey(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, authProbe([]string{"secret-1"}, "wrong"))
}

func TestAPIKeyRejectsMissingHeader(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, authProbe([]string{"secret-1"}, ""))
}

func TestAPIKeyRejectsAllWhenUnconfigured(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, authProbe(nil, "anything"))
	assert.Equal(t, http.StatusUnauthorized, authProbe([]string{""}, ""))
}
