package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gatekeeper/internal/models"
	"gatekeeper/internal/version"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denyAll is an admission middleware that rejects everything it wraps.
func denyAll(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
}

func newTestRouter(t *testing.T, admission mux.MiddlewareFunc) *mux.Router {
	t.Helper()
	handlers := NewHandlers(version.Info{}, WithEngine(newTestEngine(t, healthyStore{})))
	return SetupRoutes(handlers, admission)
}

func TestSetupRoutes_Products(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/products", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"products":["item1","item2","item3"]}`, recorder.Body.String())
}

func TestSetupRoutes_Cart(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart", bytes.NewBufferString(`{"item":"apple"}`))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestSetupRoutes_Health(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestSetupRoutes_HealthBypassesAdmission(t *testing.T) {
	router := newTestRouter(t, denyAll)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusOK, recorder.Code, "health must stay reachable while clients are limited")

	req = httptest.NewRequest(http.MethodGet, "/products", nil)
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)

	req = httptest.NewRequest(http.MethodPost, "/cart", bytes.NewBufferString(`{"item":"apple"}`))
	recorder = httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
}

func TestSetupRoutes_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/products", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, models.ErrorCodeMethodNotAllowed, resp.Code)
}

func TestSetupRoutes_NotFound(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
