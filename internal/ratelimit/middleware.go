package ratelimit

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"gatekeeper/internal/models"
)

// DefaultUser identifies requests that carry no user header.
const DefaultUser = "default"

// DefaultUserHeader is the header consulted for the caller's identity when
// the configuration does not name one.
const DefaultUserHeader = "X-User-ID"

// Middleware returns HTTP middleware that runs every request through the
// admission engine. The caller's identity comes from the configured header,
// falling back to DefaultUser when absent, and the route is the request path.
// Denied requests receive a 429 with a JSON body naming the route and never
// reach the wrapped handler.
func Middleware(engine *Engine, userHeader string, metrics *Metrics) func(http.Handler) http.Handler {
	if userHeader == "" {
		userHeader = DefaultUserHeader
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := r.Header.Get(userHeader)
			if user == "" {
				user = DefaultUser
			}
			route := r.URL.Path

			decision := engine.Check(r.Context(), user, route)
			capacity := decision.Policy.Capacity()
			remaining := int(math.Max(0, math.Floor(decision.Remaining)))

			// Always set rate limit headers
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(capacity))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt(decision).Unix(), 10))

			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(decision)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)

				errorResp := models.NewRateLimitResponse(route)
				json.NewEncoder(w).Encode(errorResp)

				metrics.RecordLimited(r.Context(), route)
				metrics.RecordRequest(r.Context(), route, http.StatusTooManyRequests)

				slog.Warn("Rate limit exceeded",
					"route", route,
					"user", user,
					"source", decision.Source,
				)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			metrics.RecordRequest(r.Context(), route, rec.status)
		})
	}
}

// resetAt estimates when the bucket refills completely at the policy rate.
func resetAt(d Decision) time.Time {
	now := time.Now()
	deficit := float64(d.Policy.Capacity()) - d.Remaining
	if deficit <= 0 {
		return now
	}
	return now.Add(time.Duration(deficit / d.Policy.ReplenishRate() * float64(time.Second)))
}

// retryAfterSeconds estimates how long until the next whole token, rounded
// up and never less than one second.
func retryAfterSeconds(d Decision) int {
	needed := 1 - d.Remaining
	if needed <= 0 {
		return 1
	}
	secs := int(math.Ceil(needed / d.Policy.ReplenishRate()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// statusRecorder captures the status code written by the downstream handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
