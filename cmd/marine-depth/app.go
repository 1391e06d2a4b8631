package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/config"
	"github.com/ngmaloney/marine-depth/internal/correction"
	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/geo"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/noaa"
	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/openmeteo"
	"github.com/ngmaloney/marine-depth/internal/pipeline"
	"github.com/ngmaloney/marine-depth/internal/realtime"
	"github.com/ngmaloney/marine-depth/internal/server"
	"github.com/ngmaloney/marine-depth/internal/sink"
	"github.com/ngmaloney/marine-depth/internal/stations"
	"github.com/ngmaloney/marine-depth/internal/store"
	"github.com/ngmaloney/marine-depth/internal/syncqueue"
	"github.com/ngmaloney/marine-depth/internal/tides"
	"github.com/ngmaloney/marine-depth/internal/weather"
)

// app holds every component built from the config. Optional parts are nil
// when their config is empty.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    clockwork.Clock
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db      *store.SQLite
	kv      store.Store
	redis   *store.Redis
	cache   *cache.Offline
	gate    *gate.Gate
	catalog *stations.Repository
	locator *stations.Locator
	tides   *tides.Client
	weather *weather.MultiProvider
	engine  *correction.Engine

	distributor *realtime.Distributor
	drainer     *syncqueue.Drainer
	kafka       *sink.Writer
	processor   *pipeline.Processor
}

type appOptions struct {
	realtime bool
	sync     bool
	sink     bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	db, err := store.OpenSQLite(ctx, cfg.Storage.SQLite.Path, a.clock)
	if err != nil {
		return nil, err
	}
	a.db = db

	switch cfg.Storage.Driver {
	case "sqlite":
		a.kv = db
	case "memory":
		a.kv = store.NewMemory(a.clock)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		a.redis = store.NewRedis(client, cfg.Storage.Redis.Namespace, a.clock)
		a.kv = a.redis
	}
	logger.Info("storage ready", "driver", cfg.Storage.Driver, "catalogue", cfg.Storage.SQLite.Path)

	a.cache = cache.New(a.kv, cfg.Cache.TTLs(), a.clock, logger.With("component", "cache"), a.metrics)
	a.gate = gate.New(cfg.Acquisition.GateSize)

	a.catalog = stations.NewRepository(db.DB())
	a.locator = stations.NewLocator(a.catalog, a.cache, logger.With("component", "stations"))

	a.tides = tides.NewClient(noaa.NewTideClient(cfg.Endpoints.Coops), a.cache, a.gate, a.clock, logger.With("component", "tides"), a.metrics)
	a.weather = weather.NewMultiProvider(a.weatherProviders(), a.cache, a.gate, a.clock, logger.With("component", "weather"), a.metrics)

	coastline := a.loadCoastline(ctx)
	a.engine = correction.NewEngine(coastline, a.clock, logger.With("component", "correction"), a.metrics).
		WithGroupSize(cfg.Acquisition.BatchSize)

	var popts []pipeline.Option
	if opts.realtime && cfg.Realtime.URL != "" {
		a.distributor = realtime.NewDistributor(cfg.Realtime.URL, cfg.Realtime.Policy(), a.clock, logger.With("component", "realtime"), a.metrics)
		a.distributor.SetBatteryMode(cfg.Realtime.BatteryMode)
		popts = append(popts, pipeline.WithPublisher(a.distributor))
	}
	if opts.sync && cfg.Sync.Endpoint != "" {
		submitter := syncqueue.NewHTTPSubmitter(cfg.Sync.Endpoint)
		a.drainer = syncqueue.NewDrainer(db, submitter, cfg.Sync.Options(), a.clock, logger.With("component", "sync"), a.metrics)
		popts = append(popts, pipeline.WithSubmission(submitter, a.drainer))
	}
	if opts.sink && len(cfg.Kafka.Brokers) > 0 {
		a.kafka = sink.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.With("component", "sink"))
		popts = append(popts, pipeline.WithSink(a.kafka))
	}

	a.processor = pipeline.New(a.locator, a.tides, a.weather, a.engine, a.cache, pipeline.Options{
		StationRadiusKm:  cfg.Acquisition.StationRadiusKm,
		PredictionWindow: cfg.Acquisition.PredictionWindow,
	}, logger.With("component", "pipeline"), popts...)

	return a, nil
}

func (a *app) weatherProviders() []weather.ProviderConfig {
	configs := make([]weather.ProviderConfig, 0, len(a.cfg.Providers))
	for _, p := range a.cfg.Providers {
		var provider weather.Provider
		switch p.Name {
		case config.ProviderNOAA:
			provider = noaa.NewWeatherClient(a.cfg.Endpoints.NWS, a.cfg.Endpoints.MarineText, a.logger.With("provider", p.Name))
		case config.ProviderOpenMeteo:
			provider = openmeteo.NewClient(a.cfg.Endpoints.OpenMeteoForecast, a.cfg.Endpoints.OpenMeteoMarine, a.logger.With("provider", p.Name))
		default:
			continue
		}
		configs = append(configs, weather.ProviderConfig{
			Provider:        provider,
			Priority:        p.Priority,
			RequestsPerHour: p.RequestsPerHour,
		})
	}
	return configs
}

// loadCoastline falls back to the built-in outline when no shapefile can be
// read; salinity estimates get coarser but correction still works.
func (a *app) loadCoastline(ctx context.Context) *geo.Coastline {
	path := a.cfg.CoastlinePath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && a.cfg.Coastline.Provision && a.cfg.Coastline.Path == "" {
		if path, err = geo.ProvisionCoastline(ctx, filepath.Dir(path), a.logger); err != nil {
			a.logger.Warn("coastline provisioning failed", "error", err)
		}
	}
	c, err := geo.LoadCoastline(path)
	if err != nil {
		a.logger.Info("using built-in coastline", "path", path, "reason", err)
		return geo.DefaultCoastline()
	}
	a.logger.Info("coastline loaded", "path", path, "parts", c.Parts())
	return c
}

// ensureStations provisions the tide station catalogue on first run.
func (a *app) ensureStations(ctx context.Context) {
	p := stations.NewProvisioner(a.cfg.Endpoints.StationMetadata, a.catalog, a.logger.With("component", "stations"))
	n, err := p.EnsureProvisioned(ctx, models.StationTypeTidePredictions)
	if err != nil {
		a.logger.Warn("station provisioning failed; station lookups will be empty", "error", err)
		return
	}
	if n > 0 {
		a.logger.Info("station catalogue provisioned", "stations", n)
	}
}

func (a *app) readiness() server.Checks {
	checks := server.Checks{
		"sqlite": func(ctx context.Context) error { return a.db.DB().PingContext(ctx) },
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	if a.distributor != nil {
		checks["realtime"] = func(context.Context) error {
			if a.distributor.Status().State == realtime.StateFailed {
				return realtime.ErrConnectionFailed
			}
			return nil
		}
	}
	return checks
}

type statusDoc struct {
	Version   string          `json:"version"`
	Storage   string          `json:"storage"`
	Processed int64           `json:"processed"`
	Providers map[string]int  `json:"provider_requests_remaining"`
	Gate      gateStatus      `json:"gate"`
	SyncQueue *int            `json:"sync_queue,omitempty"`
	Realtime  *realtimeStatus `json:"realtime,omitempty"`
}

type gateStatus struct {
	Limit    int `json:"limit"`
	InFlight int `json:"in_flight"`
	Peak     int `json:"peak"`
}

type realtimeStatus struct {
	State         string  `json:"state"`
	Indicator     string  `json:"indicator"`
	Quality       string  `json:"quality"`
	LatencyMs     float64 `json:"latency_ms"`
	Subscriptions int     `json:"subscriptions"`
	Queued        int     `json:"queued"`
	BatteryMode   bool    `json:"battery_mode"`
}

func (a *app) status(ctx context.Context) any {
	doc := statusDoc{
		Version:   Version,
		Storage:   a.cfg.Storage.Driver,
		Processed: a.processor.Processed(),
		Providers: a.weather.Remaining(),
		Gate:      gateStatus{Limit: a.gate.Limit(), InFlight: a.gate.InFlight(), Peak: a.gate.Peak()},
	}
	if a.drainer != nil {
		if n, err := a.db.Len(ctx); err == nil {
			doc.SyncQueue = &n
		}
	}
	if a.distributor != nil {
		s := a.distributor.Status()
		doc.Realtime = &realtimeStatus{
			State:         s.State.String(),
			Indicator:     s.Indicator(),
			Quality:       string(s.Quality),
			LatencyMs:     float64(s.Latency.Microseconds()) / 1000,
			Subscriptions: s.Subscriptions,
			Queued:        s.Queued,
			BatteryMode:   s.BatteryMode,
		}
	}
	return doc
}

func (a *app) Close() error {
	var errs []error
	if a.distributor != nil {
		a.distributor.Close()
	}
	if a.kafka != nil {
		errs = append(errs, a.kafka.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.db.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing app: %w", err)
	}
	return nil
}
