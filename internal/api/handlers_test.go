package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/clock"
	"github.com/mescon/InfinityStatus/internal/config"
	"github.com/mescon/InfinityStatus/internal/db"
	"github.com/mescon/InfinityStatus/internal/eventbus"
	"github.com/mescon/InfinityStatus/internal/metrics"
	"github.com/mescon/InfinityStatus/internal/registry"
	"github.com/mescon/InfinityStatus/internal/services"
	"github.com/mescon/InfinityStatus/internal/testutil"
)

// =============================================================================
// Test fixture
// =============================================================================

type apiFixture struct {
	server    *RESTServer
	repo      *db.Repository
	bus       *eventbus.EventBus
	clock     *clock.MockClock
	timers    *services.TimerService
	board     *activity.Board
	scheduler *services.SchedulerService
	cfg       *config.Config
}

// newTestServer wires a full server on a temporary database with local timers
// driven by a mock clock. opts adjust the config before the server is built.
func newTestServer(t *testing.T, opts ...func(*config.Config)) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.NewTestConfig()
	dir := t.TempDir()
	cfg.DataDir = dir
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.DatabasePath = filepath.Join(dir, "infinity.db")
	for _, opt := range opts {
		opt(cfg)
	}
	config.SetForTesting(cfg)

	repo, cleanup, err := testutil.NewTestRepository()
	require.NoError(t, err)

	bus := eventbus.NewEventBus(repo.DB)
	clk := clock.NewMockClock(testutil.Epoch)
	timers := services.NewTimerService(registry.New(clk), nil, bus, testutil.DefaultPresets())
	require.NoError(t, timers.Open(context.Background()))

	board := activity.NewBoard(clk, repo)
	scheduler := services.NewSchedulerService(repo.DB, timers, bus)

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsServiceWithRegistry(bus, reg, reg)

	s := NewRESTServer(ServerDeps{
		Repo:      repo,
		EventBus:  bus,
		Timers:    timers,
		Board:     board,
		Scheduler: scheduler,
		Metrics:   m,
	})

	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
		bus.Shutdown()
		cleanup()
	})

	return &apiFixture{
		server:    s,
		repo:      repo,
		bus:       bus,
		clock:     clk,
		timers:    timers,
		board:     board,
		scheduler: scheduler,
		cfg:       cfg,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), "body: %s", w.Body.String())
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	decode(t, w, &body)
	msg, _ := body["error"].(string)
	return msg
}
