package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linguaquest/progression/internal/interface/http/handlers"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func serve(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name      string
		database  error
		cache     error
		wantCode  int
		wantReady bool
	}{
		{"all healthy", nil, nil, http.StatusOK, true},
		{"redis down is degraded", nil, errors.New("dial tcp: refused"), http.StatusOK, true},
		{"database down", errors.New("pool closed"), nil, http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health := handlers.NewCompositeHealthChecker("test")
			health.AddCritical("postgres", handlers.NewPingCheck(pinger{tt.database}))
			health.AddOptional("redis", handlers.NewPingCheck(pinger{tt.cache}))

			s := NewServer(DefaultConfig(), Dependencies{Health: health})

			rec, body := serve(t, s, "/readyz")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantReady, body["ready"])
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestServer_HealthReportsEveryCheck(t *testing.T) {
	health := handlers.NewCompositeHealthChecker("1.2.3")
	health.AddCritical("postgres", handlers.NewPingCheck(pinger{}))
	health.AddOptional("redis", handlers.NewPingCheck(pinger{errors.New("down")}))

	_, body := serve(t, NewServer(DefaultConfig(), Dependencies{Health: health}), "/health")

	assert.Equal(t, false, body["healthy"])
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "Degraded: redis", body["message"])
	assert.Equal(t, "1.2.3", body["version"])

	checks, ok := body["checks"].(map[string]interface{})
	require.True(t, ok)
	assert.Len(t, checks, 2)
}

func TestServer_Metrics(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{
		Metrics: map[string]MetricsFunc{
			"event_bus": func() interface{} { return map[string]int{"published": 3} },
			"scheduler": func() interface{} { return map[string]int{"runs": 1} },
		},
	})

	rec, body := serve(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "event_bus")
	assert.Contains(t, body, "scheduler")
}

func TestServer_Liveness(t *testing.T) {
	rec, body := serve(t, NewServer(DefaultConfig(), Dependencies{}), "/livez")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["alive"])
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{})
	assert.False(t, s.IsRunning())
	assert.NoError(t, s.Shutdown(context.Background()))
}
