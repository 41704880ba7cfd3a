package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chrissnell/telematics/internal/dispatcher"
	"github.com/chrissnell/telematics/internal/sources"
	"github.com/chrissnell/telematics/internal/storage"
	"github.com/chrissnell/telematics/internal/storage/grpcstream"
	"github.com/chrissnell/telematics/internal/types"
	"github.com/chrissnell/telematics/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type fixedStats dispatcher.Stats

func (f fixedStats) Stats() dispatcher.Stats { return dispatcher.Stats(f) }

type fakeSource struct {
	name  string
	stats sources.StatsSnapshot
}

func (f fakeSource) StartSource() error           { return nil }
func (f fakeSource) SourceName() string           { return f.name }
func (f fakeSource) Stats() sources.StatsSnapshot { return f.stats }

func newTestController(t *testing.T, ctx context.Context, wg *sync.WaitGroup, hm *storage.HealthManager, stream *grpcstream.Storage) *Controller {
	t.Helper()
	c, err := NewController(ctx, wg, config.APIData{ListenAddr: "127.0.0.1:0", RecentAlerts: 50},
		fixedStats{Records: 1000, SpeedAlerts: 2, AvgSpeedAlerts: 3},
		[]sources.Source{fakeSource{name: "feed", stats: sources.StatsSnapshot{Lines: 1001, Records: 1000, Malformed: 1}}},
		hm, stream, zap.NewNop().Sugar())
	require.NoError(t, err)
	return c
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestAlertsEndpoint(t *testing.T) {
	c := newTestController(t, context.Background(), &sync.WaitGroup{}, storage.NewHealthManager(), nil)

	c.recent.Add(speedAlert(7, 10))
	c.recent.Add(types.NewAccidentAlert(types.AccidentAlert{VehicleID: 8, EndTime: 90}))
	c.recent.Add(speedAlert(8, 120))

	tests := []struct {
		name   string
		target string
		code   int
		count  int
	}{
		{name: "all", target: "/alerts", code: http.StatusOK, count: 3},
		{name: "kind query", target: "/alerts?kind=speed", code: http.StatusOK, count: 2},
		{name: "kind path", target: "/alerts/accident", code: http.StatusOK, count: 1},
		{name: "limit", target: "/alerts?limit=1", code: http.StatusOK, count: 1},
		{name: "vehicle", target: "/vehicles/8/alerts", code: http.StatusOK, count: 2},
		{name: "vehicle and kind", target: "/vehicles/8/alerts?kind=speed", code: http.StatusOK, count: 1},
		{name: "bad kind", target: "/alerts?kind=parking", code: http.StatusBadRequest},
		{name: "bad limit", target: "/alerts?limit=-3", code: http.StatusBadRequest},
		{name: "bad vehicle", target: "/vehicles/abc/alerts", code: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, c.Router, tt.target)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}

			var resp AlertsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.count, resp.Count)
			assert.Len(t, resp.Alerts, tt.count)
			assert.EqualValues(t, 3, resp.Total)
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	c := newTestController(t, context.Background(), &sync.WaitGroup{}, storage.NewHealthManager(), nil)
	for _, s := range []float64{70, 80, 90} {
		c.recent.Add(types.NewAvgSpeedAlert(types.AvgSpeedAlert{VehicleID: 1, AverageSpeed: s}))
	}

	rec := get(t, c.Router, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1000, resp.Pipeline.Records)
	assert.EqualValues(t, 1, resp.Sources["feed"].Malformed)
	assert.Equal(t, 3, resp.AvgSpeed.Count)
	assert.InDelta(t, 80, resp.AvgSpeed.Mean, 1e-9)
	assert.InDelta(t, 10, resp.AvgSpeed.StdDev, 1e-9)
	assert.Equal(t, float64(90), resp.AvgSpeed.Max)
}

func TestSummarizeAvgSpeed(t *testing.T) {
	assert.Equal(t, AvgSpeedSummary{}, summarizeAvgSpeed(nil))

	one := summarizeAvgSpeed([]types.Alert{types.NewAvgSpeedAlert(types.AvgSpeedAlert{AverageSpeed: 65})})
	assert.Equal(t, AvgSpeedSummary{Count: 1, Mean: 65, Max: 65}, one)
}

func TestHealthEndpoint(t *testing.T) {
	hm := storage.NewHealthManager()
	c := newTestController(t, context.Background(), &sync.WaitGroup{}, hm, nil)

	hm.UpdateHealth("csv", storage.CreateHealthData(storage.StatusHealthy, "ok", nil))
	rec := get(t, c.Router, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	hm.UpdateHealth("sqlite", storage.CreateHealthData(storage.StatusUnhealthy, "write failed", errors.New("disk full")))
	rec = get(t, c.Router, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, storage.StatusUnhealthy, resp.Status)
	assert.Equal(t, "disk full", resp.Engines["sqlite"].Error)
}

func TestControllerServesHTTPAndGRPC(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	hm := storage.NewHealthManager()
	logger := zap.NewNop().Sugar()

	stream := grpcstream.New(hm, logger)
	c := newTestController(t, ctx, &wg, hm, stream)

	alerts := c.StartStorageEngine(ctx, &wg)
	require.NoError(t, c.StartController())
	addr := c.Addr().String()

	alerts <- speedAlert(3, 42)
	require.Eventually(t, func() bool { return c.recent.Total() == 1 }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + addr + "/alerts")
	require.NoError(t, err)
	var body AlertsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, 1, body.Count)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	hc, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcstream.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, hc.Status)

	close(alerts)
	cancel()
	wg.Wait()
}
