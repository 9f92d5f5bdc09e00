package models

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("something broke", ErrorCodeInternalError)

	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "something broke", resp.Message)
	assert.Equal(t, ErrorCodeInternalError, resp.Code)
	assert.False(t, resp.Timestamp.IsZero())
	assert.Empty(t, resp.Details)
}

func TestNewRateLimitResponse(t *testing.T) {
	resp := NewRateLimitResponse("/products")

	assert.Equal(t, "error", resp.Error)
	assert.Equal(t, "Rate limit exceeded", resp.Message)
	assert.Equal(t, ErrorCodeRateLimited, resp.Code)
	assert.Equal(t, "/products", resp.Details["route"])

	// The denial body names the limited route on the wire.
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "/products"))
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse(map[string]string{"item": "item is required"})

	assert.Equal(t, "validation_error", resp.Error)
	assert.Equal(t, "item is required", resp.Errors["item"])
}

func TestNewHealthCheckResponse(t *testing.T) {
	resp := NewHealthCheckResponse(StatusHealthy)

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
	assert.NotNil(t, resp.Components)
	assert.NotNil(t, resp.Metrics)

	resp.AddComponent("bucket_store", StatusDegraded, "serving from local fallback")
	comp, ok := resp.Components["bucket_store"]
	require.True(t, ok)
	assert.Equal(t, StatusDegraded, comp.Status)
	assert.Equal(t, "serving from local fallback", comp.Message)
	assert.False(t, comp.Timestamp.IsZero())

	resp.AddMetric("fallback_active", true)
	assert.Equal(t, true, resp.Metrics["fallback_active"])
}

func TestProductsResponseJSON(t *testing.T) {
	resp := ProductsResponse{Products: []string{"item1", "item2", "item3"}}

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"products":["item1","item2","item3"]}`, string(data))
}
