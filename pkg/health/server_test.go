package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronetm/upload-dispatcher/pkg/circuitbreaker"
	"github.com/dronetm/upload-dispatcher/pkg/dispatcher"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
)

func newTestServer(apiKey string) (*Server, *circuitbreaker.Registry) {
	reg := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		Enabled:      true,
		Threshold:    2,
		Window:       time.Minute,
		ResetTimeout: time.Hour,
	}, &logger.EmptyLogger{})
	return NewServer("8080", dispatcher.DefaultRetryPolicy(), reg, apiKey, &logger.EmptyLogger{}), reg
}

func do(s *Server, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer("")

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/ready", nil).Code)

	s.SetReady(true)
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/ready", nil).Code)
}

func TestStatus(t *testing.T) {
	s, reg := newTestServer("")
	reg.For("uploads.example.com").RecordFailure()
	reg.For("uploads.example.com").RecordFailure()
	reg.For("imagery.example.com")

	rec := do(s, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var st status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, dispatcher.DefaultRetryBudget, st.RetryBudget)
	assert.Equal(t, "1s", st.RetryDelay)
	assert.True(t, st.CircuitBreakers)
	require.Len(t, st.Hosts, 2)
	assert.Equal(t, "open", st.Hosts["uploads.example.com"].Circuit)
	assert.NotEmpty(t, st.Hosts["uploads.example.com"].TripTime)
	assert.Equal(t, "closed", st.Hosts["imagery.example.com"].Circuit)
}

func TestCircuitReset(t *testing.T) {
	s, reg := newTestServer("")
	cb := reg.For("uploads.example.com")
	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/circuit/reset", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodPost, "/circuit/reset?host=other.example.com", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(s, http.MethodGet, "/circuit/reset?host=uploads.example.com", nil).Code)

	rec := do(s, http.MethodPost, "/circuit/reset?host=uploads.example.com", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, cb.IsOpen())
}

func TestMetricsAuth(t *testing.T) {
	t.Run("open without key", func(t *testing.T) {
		s, _ := newTestServer("")
		assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/metrics", nil).Code)
	})

	t.Run("key required", func(t *testing.T) {
		s, _ := newTestServer("secret")

		tests := []struct {
			name   string
			header map[string]string
			want   int
		}{
			{"missing header", nil, http.StatusUnauthorized},
			{"bad format", map[string]string{"Authorization": "secret"}, http.StatusUnauthorized},
			{"wrong key", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
			{"valid key", map[string]string{"Authorization": "Bearer secret"}, http.StatusOK},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				assert.Equal(t, tt.want, do(s, http.MethodGet, "/metrics", tt.header).Code)
			})
		}
	})
}
