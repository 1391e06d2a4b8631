package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/server"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type fakeProcessor struct {
	stored map[string]models.ProcessedDepthReading
}

func (f *fakeProcessor) Process(_ context.Context, readings []models.DepthReading) []gate.Outcome[models.ProcessedDepthReading] {
	out := make([]gate.Outcome[models.ProcessedDepthReading], len(readings))
	for i, r := range readings {
		if r.Depth < 0 {
			out[i].Err = errors.New("invalid depth reading: negative")
			continue
		}
		out[i].Value = models.ProcessedDepthReading{Reading: r, CorrectedDepth: r.Depth - 1, Reliability: models.ReliabilityMedium}
	}
	return out
}

func (f *fakeProcessor) Lookup(_ context.Context, id string) (models.ProcessedDepthReading, bool) {
	v, ok := f.stored[id]
	return v, ok
}

func newTestServer(readyErr error) *server.Server {
	reg := prometheus.NewRegistry()
	observability.NewMetrics(reg)
	return server.NewServer(":0", server.Deps{
		Ready: &mockReadiness{err: readyErr},
		Readings: &fakeProcessor{stored: map[string]models.ProcessedDepthReading{
			"r-1": {Reading: models.DepthReading{ID: "r-1"}, CorrectedDepth: 8.769},
		}},
		Status:   func(context.Context) any { return map[string]string{"connection": "offline"} },
		Gatherer: reg,
	}, slog.Default())
}

func serve(srv *server.Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	srv.ServeHTTP(rec, req)
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyz(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(newTestServer(fmt.Errorf("store: cache unavailable")), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "store: cache unavailable", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "marine_depth_sync_queue_depth")
}

func TestProcessReadings(t *testing.T) {
	body := `[{"id":"a","location":{"latitude":41.3,"longitude":-72},"timestamp":"2025-06-01T12:00:00Z","depth":10},
		{"id":"b","location":{"latitude":41.3,"longitude":-72},"timestamp":"2025-06-01T12:00:00Z","depth":-1}]`
	rec := serve(newTestServer(nil), http.MethodPost, "/v1/readings", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var results []struct {
		ID        string                        `json:"id"`
		Processed *models.ProcessedDepthReading `json:"processed"`
		Error     string                        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &results))
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Processed)
	assert.Equal(t, 9.0, results[0].Processed.CorrectedDepth)
	assert.Nil(t, results[1].Processed)
	assert.Contains(t, results[1].Error, "negative")
}

func TestProcessReadings_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "depth=10"},
		{"object instead of array", `{"depth":10}`},
		{"empty batch", `[]`},
	}
	srv := newTestServer(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, http.MethodPost, "/v1/readings", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestLookupReading(t *testing.T) {
	srv := newTestServer(nil)

	rec := serve(srv, http.MethodGet, "/v1/readings/r-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"corrected_depth":8.769`)

	rec = serve(srv, http.MethodGet, "/v1/readings/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusRoute(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"connection":"offline"}`, rec.Body.String())
}

func TestChecks(t *testing.T) {
	checks := server.Checks{
		"store":    func(context.Context) error { return nil },
		"realtime": func(context.Context) error { return errors.New("connection failed") },
	}
	err := checks.CheckReadiness(context.Background())
	require.Error(t, err)
	assert.Equal(t, "realtime: connection failed", err.Error())

	assert.NoError(t, server.Checks{}.CheckReadiness(context.Background()))
}
