// Package handlers provides HTTP request handlers for the API.
package handlers

import (
	"context"
	"net/http"
	"time"
)

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ReadyStatus represents the readiness check response.
type ReadyStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  string            `json:"timestamp"`
}

// HealthCheck returns a handler that reports basic service health.
// This endpoint should always return 200 OK if the service is running.
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   "docstack",
			Version:   "0.1.0",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyCheck returns a handler that checks if all dependencies are ready.
// This is used by orchestrators to determine if the service can receive traffic.
func ReadyCheck(db HealthChecker, storage ObjectStorage, broker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := ReadyStatus{
			Status:     "ready",
			Components: make(map[string]string),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}

		allReady := true
		allReady = checkComponent(ctx, status.Components, "database", db) && allReady
		allReady = checkComponent(ctx, status.Components, "object_storage", storage) && allReady
		allReady = checkComponent(ctx, status.Components, "broker", broker) && allReady

		if !allReady {
			status.Status = "not ready"
			RespondJSON(w, http.StatusServiceUnavailable, status)
			return
		}

		RespondJSON(w, http.StatusOK, status)
	}
}

// checkComponent records one component's health and reports whether it
// is ready. Unconfigured components do not fail readiness.
func checkComponent(ctx context.Context, components map[string]string, name string, checker HealthChecker) bool {
	if checker == nil {
		components[name] = "not configured"
		return true
	}
	if err := checker.Health(ctx); err != nil {
		components[name] = "unhealthy: " + err.Error()
		return false
	}
	components[name] = "healthy"
	return true
}
