package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetHealth(t *testing.T) {
	t.Helper()
	healthChecker = NewHealthChecker(ComponentStore, ComponentRuntime, ComponentAPI)
}

func TestRegisterComponent(t *testing.T) {
	resetHealth(t)

	RegisterComponent("runner", true, "running")
	UpdateComponent("store", false, "disk full")

	comps := Components()
	require.Len(t, comps, 2)
	assert.Equal(t, "runner", comps[0].Name)
	assert.True(t, comps[0].Healthy)
	assert.Equal(t, "running", comps[0].Message)
	assert.Equal(t, "store", comps[1].Name)
	assert.False(t, comps[1].Healthy)
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]bool
		want       string
	}{
		{"all healthy", map[string]bool{ComponentStore: true, ComponentAPI: true}, StatusHealthy},
		{"non-critical failure degrades", map[string]bool{ComponentStore: true, ComponentDeciders: false}, StatusDegraded},
		{"critical failure", map[string]bool{ComponentStore: false, ComponentDeciders: false}, StatusUnhealthy},
		{"nothing registered", map[string]bool{}, StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			for name, ok := range tt.components {
				RegisterComponent(name, ok, "broken")
			}
			assert.Equal(t, tt.want, GetHealth().Status)
		})
	}
}

func TestGetHealth_Version(t *testing.T) {
	resetHealth(t)
	SetVersion("1.2.3")
	RegisterComponent(ComponentStore, false, "not opened")

	health := GetHealth()
	assert.Equal(t, "1.2.3", health.Version)
	assert.Equal(t, "unhealthy: not opened", health.Components[ComponentStore])
}

func TestGetReadiness(t *testing.T) {
	resetHealth(t)

	RegisterComponent(ComponentAPI, true, "")
	readiness := GetReadiness()
	assert.Equal(t, StatusNotReady, readiness.Status)
	assert.Equal(t, "waiting for store", readiness.Message)
	assert.Equal(t, "not registered", readiness.Components[ComponentRuntime])

	RegisterComponent(ComponentStore, true, "")
	RegisterComponent(ComponentRuntime, false, "docker unreachable")
	readiness = GetReadiness()
	assert.Equal(t, StatusNotReady, readiness.Status)
	assert.Equal(t, "not ready: docker unreachable", readiness.Components[ComponentRuntime])

	UpdateComponent(ComponentRuntime, true, "")
	RegisterComponent(ComponentDeciders, false, "whisper failed to install")
	assert.Equal(t, StatusReady, GetReadiness().Status, "non-critical components do not gate readiness")
}

func TestSetCriticalComponents(t *testing.T) {
	resetHealth(t)
	SetCriticalComponents(ComponentRunner)

	assert.Equal(t, StatusNotReady, GetReadiness().Status)
	RegisterComponent(ComponentRunner, true, "")
	assert.Equal(t, StatusReady, GetReadiness().Status)
}

func TestHealthHandlers(t *testing.T) {
	resetHealth(t)
	RegisterComponent(ComponentDeciders, false, "one decider failed")

	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    int
		status  string
	}{
		{"degraded health is still 200", HealthHandler(), http.StatusOK, StatusDegraded},
		{"not ready", ReadyHandler(), http.StatusServiceUnavailable, StatusNotReady},
		{"liveness", LivenessHandler(), http.StatusOK, "alive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.handler(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var body map[string]any
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth(t)
	RegisterComponent(ComponentStore, false, "closed")

	w := httptest.NewRecorder()
	HealthHandler()(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
