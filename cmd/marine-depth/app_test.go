package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngmaloney/marine-depth/internal/config"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ListenAddr: ":0",
		LogFormat:  "text",
		DataDir:    dir,
		Storage:    config.StorageConfig{Driver: "memory", SQLite: config.SQLiteConfig{Path: filepath.Join(dir, "md.db")}},
		Cache: config.CacheConfig{
			Station: time.Hour, Predictions: time.Hour, WaterLevels: time.Minute, Meteorological: time.Minute,
			Weather: time.Minute, Forecast: time.Hour, Alerts: time.Minute, Processed: time.Hour,
		},
		Providers: []config.ProviderConfig{
			{Name: config.ProviderNOAA, Priority: 1, RequestsPerHour: 100},
			{Name: config.ProviderOpenMeteo, Priority: 2, RequestsPerHour: 50},
		},
		Acquisition: config.AcquisitionConfig{GateSize: 2, BatchSize: 5, StationRadiusKm: 50, PredictionWindow: 6 * time.Hour},
		Realtime:    config.RealtimeConfig{URL: "ws://127.0.0.1:1/rt", BaseDelay: time.Second, MaxDelay: time.Second, MaxAttempts: 1, HeartbeatInterval: time.Second},
		Sync:        config.SyncConfig{Endpoint: "http://127.0.0.1:1/sync"},
	}
}

func TestNewApp_WiresOptionalParts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := newApp(ctx, cfg, observability.Discard(), appOptions{realtime: true, sync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.distributor)
	assert.NotNil(t, a.drainer)
	assert.Nil(t, a.kafka, "no brokers configured")
	assert.Equal(t, []string{"noaa", "openmeteo"}, a.weather.Providers())

	require.NoError(t, a.readiness().CheckReadiness(ctx))

	doc, ok := a.status(ctx).(statusDoc)
	require.True(t, ok)
	assert.Equal(t, "memory", doc.Storage)
	assert.Equal(t, 2, doc.Gate.Limit)
	require.NotNil(t, doc.SyncQueue)
	assert.Zero(t, *doc.SyncQueue)
	require.NotNil(t, doc.Realtime)
	assert.Equal(t, "offline", doc.Realtime.Indicator)
}

func TestNewApp_WithoutOptionalParts(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), observability.Discard(), appOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.Nil(t, a.distributor)
	assert.Nil(t, a.drainer)

	doc := a.status(context.Background()).(statusDoc)
	assert.Nil(t, doc.Realtime)
	assert.Nil(t, doc.SyncQueue)
}
