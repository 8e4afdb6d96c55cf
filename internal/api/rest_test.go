package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/InfinityStatus/internal/config"
)

// =============================================================================
// Middleware tests
// =============================================================================

func TestRequestIDMiddleware(t *testing.T) {
	f := newTestServer(t)

	t.Run("generated", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/health", nil)
		assert.Len(t, w.Header().Get("X-Request-ID"), 36, "uuid expected")
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		w := httptest.NewRecorder()
		f.server.Router().ServeHTTP(w, req)
		assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
	})
}

func TestCORSMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		cors       string
		origin     string
		wantHeader string
	}{
		{"wildcard", "*", "http://a.example", "*"},
		{"allowed origin", "http://a.example, http://b.example", "http://b.example", "http://b.example"},
		{"disallowed origin", "http://a.example", "http://c.example", ""},
		{"not configured", "", "http://a.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(corsMiddleware(tt.cors))
			r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.wantHeader, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}

	t.Run("preflight", func(t *testing.T) {
		r := gin.New()
		r.Use(corsMiddleware("*"))
		r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")
	})
}

func TestRecoveryMiddleware(t *testing.T) {
	f := newTestServer(t)
	f.server.router.GET("/api/boom", func(c *gin.Context) { panic("boom") })

	w := f.do(t, http.MethodGet, "/api/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrMsgInternalError, errorOf(t, w))
	assert.Contains(t, w.Body.String(), "request_id")
}

// =============================================================================
// Routing tests
// =============================================================================

func TestNoRoute(t *testing.T) {
	f := newTestServer(t)
	w := f.do(t, http.MethodGet, "/api/nothing-here", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "API endpoint not found", errorOf(t, w))
}

func TestMetricsEndpoint(t *testing.T) {
	f := newTestServer(t)
	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "infinity_")
}

func TestBasePath(t *testing.T) {
	f := newTestServer(t, func(c *config.Config) { c.BasePath = "/timers/" })

	w := f.do(t, http.MethodGet, "/timers/api/timers", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/timers", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Metrics stay at the root.
	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleRuntimeConfig(t *testing.T) {
	f := newTestServer(t)

	w := f.do(t, http.MethodGet, "/api/config/runtime", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, "/", body["base_path"])
	assert.Equal(t, "local", body["sync_mode"])
	assert.Equal(t, float64(config.DefaultPollInterval.Milliseconds()), body["poll_interval_ms"])
}

func TestControlRoutesAreRateLimited(t *testing.T) {
	f := newTestServer(t)

	for i := 0; i < ControlBurst; i++ {
		w := f.do(t, http.MethodPost, "/api/timers/frame/start", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := f.do(t, http.MethodPost, "/api/timers/frame/start", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Reads are never limited.
	w = f.do(t, http.MethodGet, "/api/timers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShutdownWithoutStart(t *testing.T) {
	f := newTestServer(t)
	assert.NoError(t, f.server.Shutdown(t.Context()))
	// Shutdown again from the fixture cleanup must be safe.
	assert.NoError(t, f.server.Shutdown(t.Context()))
}
