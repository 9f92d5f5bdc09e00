package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/version"
)

// Handlers contains the HTTP handlers for the storefront API.
type Handlers struct {
	engine    *ratelimit.Engine
	storeType string
	version   version.Info
	started   time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithEngine attaches the admission engine so health checks can report
// whether decisions come from the shared store or local fallback buckets.
func WithEngine(engine *ratelimit.Engine) HandlerOption {
	return func(h *Handlers) {
		h.engine = engine
	}
}

// WithStoreType records the configured bucket store backend for health
// reporting.
func WithStoreType(storeType string) HandlerOption {
	return func(h *Handlers) {
		h.storeType = storeType
	}
}

// NewHandlers creates a new handlers instance.
func NewHandlers(ver version.Info, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		version: ver,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ListProducts handles catalog requests
// GET /products
func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	response := models.ProductsResponse{
		Products: []string{"item1", "item2", "item3"},
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// AddToCart handles cart additions
// POST /cart
func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req models.CartAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeValidation, err.Error())
		return
	}

	response := models.CartResponse{
		Message: fmt.Sprintf("Added %s to cart", req.Item),
	}
	h.writeJSONResponse(w, http.StatusOK, response)
}

// HealthCheck handles health check requests
// GET /health
// Reports degraded while admission control is serving from local fallback
// buckets instead of the shared store.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := models.StatusHealthy
	if h.engine != nil && h.engine.Health().FallbackActive {
		status = models.StatusDegraded
	}

	response := models.NewHealthCheckResponse(status)
	response.Version = h.version.Version
	response.Uptime = time.Since(h.started).Round(time.Second).String()
	response.AddComponent("api", models.StatusHealthy, "API is operational")

	if h.engine != nil {
		health := h.engine.Health()
		if health.FallbackActive {
			response.AddComponent("store", models.StatusUnhealthy, "Serving from local fallback buckets")
		} else {
			response.AddComponent("store", models.StatusHealthy, "Shared bucket store is operational")
		}
		if h.storeType != "" {
			response.AddMetric("store_type", h.storeType)
		}
		response.AddMetric("store_configured", health.StoreConfigured)
		response.AddMetric("fallback_active", health.FallbackActive)
	}
	response.AddMetric("rate_limiting_enabled", h.engine != nil)
	response.AddMetric("instance_id", h.version.InstanceID)

	h.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written, so just log the failure.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
