package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/svgforge/internal/api"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/cache/cachetest"
	"github.com/kiranshivaraju/svgforge/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An empty store makes every authenticated request fail.
func newTestRouter() http.Handler {
	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(storetest.New()),
		RateLimit: mw.NewRateLimit(cachetest.New(), 60),
		HealthHandler: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		},
	})
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)["code"].(string)
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter()

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/generations"},
		{"GET", "/api/v1/generations/dddddddd-dddd-dddd-dddd-dddddddddddd"},
		{"GET", "/api/v1/artifacts/dddddddd-dddd-dddd-dddd-dddddddddddd"},
		{"GET", "/api/v1/gallery"},
		{"GET", "/api/v1/balance"},
		{"POST", "/api/v1/admin/users"},
		{"POST", "/api/v1/admin/users/dddddddd-dddd-dddd-dddd-dddddddddddd/keys"},
		{"POST", "/api/v1/admin/users/dddddddd-dddd-dddd-dddd-dddddddddddd/credits"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "INVALID_TOKEN", errorCode(t, w))
		})
	}
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errorCode(t, w))
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter()

	req := httptest.NewRequest("DELETE", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", errorCode(t, w))
}
