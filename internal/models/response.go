// Package models - API response types and error handling.
// This file defines all outgoing API response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Rich error information with codes and details for debugging
// - Helper methods for easy response construction
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// ProductsResponse lists the catalog items served by the demo storefront
// endpoint that sits behind the admission layer.
type ProductsResponse struct {
	Products []string `json:"products"`
}

type CartResponse struct {
	Message string `json:"message"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Handling Design:
// - Consistent error structure across all endpoints
// - Machine-readable error codes for programmatic handling
// - Human-readable messages for user interfaces
// - Details map for field-specific context (the limited route, the bad field)
// - Timestamps for debugging and audit trails
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Errors map[string]string `json:"errors"`
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
//
// Health Monitoring:
// - Healthy: All systems operational
// - Degraded: Partial functionality (serving from local fallback buckets)
// - Unhealthy: Major issues affecting core functionality
// - Unknown: Health status cannot be determined
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
// - Extensible for service-specific errors
const (
	ErrorCodeNotFound           = "NOT_FOUND"            // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"          // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"      // 400: Invalid request data
	ErrorCodeValidation         = "VALIDATION_ERROR"     // 422: Input validation failed
	ErrorCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"   // 405: Wrong HTTP method
	ErrorCodeRateLimited        = "RATE_LIMIT_EXCEEDED"  // 429: Admission denied
	ErrorCodeInternalError      = "INTERNAL_ERROR"       // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE"  // 503: Service temporarily down
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// NewRateLimitResponse builds the 429 body. The limited route is carried
// in the details map so clients can tell which policy rejected them.
func NewRateLimitResponse(route string) *ErrorResponse {
	resp := NewErrorResponse("Rate limit exceeded", ErrorCodeRateLimited)
	resp.Details = map[string]string{"route": route}
	return resp
}

func NewValidationErrorResponse(errors map[string]string) *ValidationErrorResponse {
	return &ValidationErrorResponse{
		Error:  "validation_error",
		Errors: errors,
	}
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
