// internal/api/server_test.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/marketcache/internal/clock"
	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/intelligence"
	"github.com/FairForge/marketcache/internal/quality"
	"github.com/FairForge/marketcache/internal/warming"
)

func newTestServer(t *testing.T) (*Server, *intelligence.Service, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	cfg := config.Default()
	svc := intelligence.NewService(cfg, zap.NewNop(), clk, nil, warming.AlwaysIdle{})
	return NewServer(cfg, zap.NewNop(), svc), svc, clk
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Stats(t *testing.T) {
	srv, svc, _ := newTestServer(t)

	_, err := svc.Get(context.Background(), "stock-data:AAPL", func() ([]byte, error) {
		return []byte(`{"price":190}`), nil
	})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats intelligence.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Patterns)
	assert.Contains(t, stats.Tiers, "memory")
}

func TestServer_Insights(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/insights", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "generated_at")
}

func TestServer_QualityHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/quality/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report quality.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, quality.HealthExcellent, report.Status)
}

func TestServer_QuarantineRelease(t *testing.T) {
	srv, svc, clk := newTestServer(t)

	t.Run("NotQuarantined", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/v1/quarantine/stock-data:AAPL/release", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Quarantined", func(t *testing.T) {
		svc.Gate().CheckQuality(context.Background(), "stock-data:AAPL",
			[]byte("network error"), quality.Metadata{Now: clk.Now()})
		require.True(t, svc.Gate().IsQuarantined("stock-data:AAPL", clk.Now()))

		rec := doRequest(t, srv, http.MethodPost, "/v1/quarantine/stock-data:AAPL/release", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.False(t, svc.Gate().IsQuarantined("stock-data:AAPL", clk.Now()))
	})
}

func TestServer_WarmingTasks(t *testing.T) {
	srv, svc, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/v1/warming/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	svc.Warm("stock-data", "NVDA", "high")

	rec = doRequest(t, srv, http.MethodGet, "/v1/warming/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var tasks []warming.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "stock-data:NVDA", tasks[0].Key)
}

func TestServer_Warm(t *testing.T) {
	srv, _, _ := newTestServer(t)

	t.Run("Accepted", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/v1/warming/warm",
			`{"data_type":"stock-data","symbol":"AAPL","priority":"medium"}`)
		require.Equal(t, http.StatusAccepted, rec.Code)

		var task warming.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
		assert.Equal(t, "stock-data:AAPL", task.Key)
		assert.Equal(t, warming.StatusPending, task.Status)
	})

	t.Run("MissingDataType", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/v1/warming/warm", `{"symbol":"AAPL"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("BadPriority", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/v1/warming/warm",
			`{"data_type":"stock-data","priority":"urgent"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("BadBody", func(t *testing.T) {
		rec := doRequest(t, srv, http.MethodPost, "/v1/warming/warm", `{`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_WarmQueueFull(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC))
	cfg := config.Default()
	cfg.Warming.MaxPendingTasks = 1
	svc := intelligence.NewService(cfg, zap.NewNop(), clk, nil, warming.AlwaysIdle{})
	srv := NewServer(cfg, zap.NewNop(), svc)

	require.NotNil(t, svc.Warm("stock-data", "AAPL", "high"))

	rec := doRequest(t, srv, http.MethodPost, "/v1/warming/warm",
		`{"data_type":"stock-data","symbol":"MSFT","priority":"low"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv, svc, _ := newTestServer(t)

	_, err := svc.Get(context.Background(), "stock-data:AAPL", func() ([]byte, error) {
		return []byte(`{"price":190}`), nil
	})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marketcache_accesses_total")
	assert.Contains(t, rec.Body.String(), "marketcache_tracked_patterns 1")
}
