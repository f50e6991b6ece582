package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler("test")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", status.Status)
	}
	if status.Service != "voice-agent" {
		t.Errorf("Expected service 'voice-agent', got '%s'", status.Service)
	}
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	ok := func(ctx context.Context) (bool, error) { return true, nil }
	h := ReadinessHandler("test", map[string]HealthCheckFunc{
		"knowledge": ok,
		"synthesis": ok,
		"skipped":   nil,
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(status.Dependencies) != 2 {
		t.Errorf("Expected 2 dependencies, got %d", len(status.Dependencies))
	}
	if _, ok := status.Dependencies["skipped"]; ok {
		t.Error("Expected nil check to be skipped")
	}
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	h := ReadinessHandler("test", map[string]HealthCheckFunc{
		"knowledge": func(ctx context.Context) (bool, error) { return false, errors.New("connection refused") },
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != "not_ready" {
		t.Errorf("Expected status 'not_ready', got '%s'", status.Status)
	}
	dep := status.Dependencies["knowledge"]
	if dep.Message != "connection refused" {
		t.Errorf("Expected message 'connection refused', got '%s'", dep.Message)
	}
}
