// Package config loads marine-depth settings from YAML, environment
// variables and built-in defaults.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
	"github.com/ngmaloney/marine-depth/internal/syncqueue"
)

// EnvPrefix prefixes every environment override, e.g. MARINE_DEPTH_LISTEN_ADDR.
const EnvPrefix = "MARINE_DEPTH"

// Known weather provider names.
const (
	ProviderNOAA      = "noaa"
	ProviderOpenMeteo = "openmeteo"
)

// Config is the top-level configuration for marine-depth.
type Config struct {
	ListenAddr  string            `mapstructure:"listen_addr"`
	LogFormat   string            `mapstructure:"log_format"`
	LogLevel    string            `mapstructure:"log_level"`
	DataDir     string            `mapstructure:"data_dir"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Providers   []ProviderConfig  `mapstructure:"providers"`
	Endpoints   EndpointsConfig   `mapstructure:"endpoints"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Coastline   CoastlineConfig   `mapstructure:"coastline"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
}

// StorageConfig selects the offline cache backend. The station catalogue
// and the sync queue always live in the SQLite database.
type StorageConfig struct {
	Driver string       `mapstructure:"driver"` // "sqlite", "memory" or "redis"
	SQLite SQLiteConfig `mapstructure:"sqlite"`
	Redis  RedisConfig  `mapstructure:"redis"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig holds Redis-specific configuration.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Namespace string `mapstructure:"namespace"`
}

// CacheConfig sets the lifetime of each cached data kind.
type CacheConfig struct {
	Station             time.Duration `mapstructure:"station"`
	Predictions         time.Duration `mapstructure:"predictions"`
	WaterLevels         time.Duration `mapstructure:"water_levels"`
	Meteorological      time.Duration `mapstructure:"meteorological"`
	Weather             time.Duration `mapstructure:"weather"`
	Forecast            time.Duration `mapstructure:"forecast"`
	Alerts              time.Duration `mapstructure:"alerts"`
	Processed           time.Duration `mapstructure:"processed"`
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval"`
}

// TTLs converts the configured lifetimes for the offline cache.
func (c CacheConfig) TTLs() cache.TTLs {
	return cache.TTLs{
		cache.KindStation:        c.Station,
		cache.KindStations:       c.Station,
		cache.KindPredictions:    c.Predictions,
		cache.KindWaterLevels:    c.WaterLevels,
		cache.KindMeteorological: c.Meteorological,
		cache.KindWeather:        c.Weather,
		cache.KindForecast:       c.Forecast,
		cache.KindAlerts:         c.Alerts,
		cache.KindProcessed:      c.Processed,
	}
}

// ProviderConfig enables one weather provider.
type ProviderConfig struct {
	Name            string `mapstructure:"name"`
	Priority        int    `mapstructure:"priority"`
	RequestsPerHour int    `mapstructure:"requests_per_hour"`
}

// EndpointsConfig overrides upstream base URLs. Empty values use each
// client's default.
type EndpointsConfig struct {
	Coops             string `mapstructure:"coops"`
	StationMetadata   string `mapstructure:"station_metadata"`
	NWS               string `mapstructure:"nws"`
	MarineText        string `mapstructure:"marine_text"`
	OpenMeteoForecast string `mapstructure:"openmeteo_forecast"`
	OpenMeteoMarine   string `mapstructure:"openmeteo_marine"`
}

// AcquisitionConfig tunes upstream fetching and correction batches.
type AcquisitionConfig struct {
	GateSize         int           `mapstructure:"gate_size"`
	BatchSize        int           `mapstructure:"batch_size"`
	StationRadiusKm  float64       `mapstructure:"station_radius_km"`
	PredictionWindow time.Duration `mapstructure:"prediction_window"`
}

// RealtimeConfig configures the distributor connection. An empty URL
// disables it.
type RealtimeConfig struct {
	URL               string        `mapstructure:"url"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	BatteryMode       bool          `mapstructure:"battery_mode"`
}

// Policy converts the settings for realtime.NewDistributor.
func (r RealtimeConfig) Policy() realtime.Policy {
	p := realtime.DefaultPolicy()
	p.BaseDelay = r.BaseDelay
	p.MaxDelay = r.MaxDelay
	p.MaxAttempts = r.MaxAttempts
	p.HeartbeatInterval = r.HeartbeatInterval
	p.HeartbeatTimeout = r.HeartbeatTimeout
	return p
}

// SyncConfig configures offline submission. An empty endpoint disables it.
type SyncConfig struct {
	Endpoint      string        `mapstructure:"endpoint"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxAge        time.Duration `mapstructure:"max_age"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// Options converts the settings for syncqueue.NewDrainer.
func (s SyncConfig) Options() syncqueue.Options {
	return syncqueue.Options{
		BatchSize:     s.BatchSize,
		MaxAge:        s.MaxAge,
		MaxAttempts:   s.MaxAttempts,
		RetryInterval: s.RetryInterval,
	}
}

// KafkaConfig configures the processed-reading sink. No brokers disables it.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// CoastlineConfig points at the coastline shapefile used by the salinity
// heuristic. Provision downloads it into the data directory when missing.
type CoastlineConfig struct {
	Path      string `mapstructure:"path"`
	Provision bool   `mapstructure:"provision"`
}

// AlertsConfig lists locations whose marine alerts are watched.
type AlertsConfig struct {
	Interval  time.Duration    `mapstructure:"interval"`
	Locations []LocationConfig `mapstructure:"locations"`
}

// LocationConfig is a named coordinate.
type LocationConfig struct {
	Name      string  `mapstructure:"name"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
}

// Location returns the coordinate.
func (l LocationConfig) Location() models.Location {
	return models.Location{Latitude: l.Latitude, Longitude: l.Longitude}
}

// DefaultDataDir is ~/.local/share/marine-depth, or ./data when the home
// directory is unknown.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "marine-depth")
}

func setDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()
	ttls := cache.DefaultTTLs()
	policy := realtime.DefaultPolicy()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", dataDir)

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite.path", filepath.Join(dataDir, "marine-depth.db"))
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.namespace", "marine-depth")

	v.SetDefault("cache.station", ttls[cache.KindStation])
	v.SetDefault("cache.predictions", ttls[cache.KindPredictions])
	v.SetDefault("cache.water_levels", ttls[cache.KindWaterLevels])
	v.SetDefault("cache.meteorological", ttls[cache.KindMeteorological])
	v.SetDefault("cache.weather", ttls[cache.KindWeather])
	v.SetDefault("cache.forecast", ttls[cache.KindForecast])
	v.SetDefault("cache.alerts", ttls[cache.KindAlerts])
	v.SetDefault("cache.processed", ttls[cache.KindProcessed])
	v.SetDefault("cache.maintenance_interval", 10*time.Minute)

	v.SetDefault("providers", []map[string]any{
		{"name": ProviderNOAA, "priority": 1, "requests_per_hour": 1000},
		{"name": ProviderOpenMeteo, "priority": 2, "requests_per_hour": 500},
	})

	v.SetDefault("acquisition.gate_size", 5)
	v.SetDefault("acquisition.batch_size", 10)
	v.SetDefault("acquisition.station_radius_km", 50.0)
	v.SetDefault("acquisition.prediction_window", 6*time.Hour)

	v.SetDefault("realtime.base_delay", policy.BaseDelay)
	v.SetDefault("realtime.max_delay", policy.MaxDelay)
	v.SetDefault("realtime.max_attempts", policy.MaxAttempts)
	v.SetDefault("realtime.heartbeat_interval", policy.HeartbeatInterval)
	v.SetDefault("realtime.heartbeat_timeout", policy.HeartbeatTimeout)

	v.SetDefault("sync.batch_size", syncqueue.DefaultBatchSize)
	v.SetDefault("sync.max_age", syncqueue.DefaultMaxAge)
	v.SetDefault("sync.max_attempts", syncqueue.DefaultMaxAttempts)
	v.SetDefault("sync.retry_interval", syncqueue.DefaultRetryInterval)

	v.SetDefault("kafka.topic", "marine-depth.processed")
	v.SetDefault("alerts.interval", 5*time.Minute)
}

// Load reads configuration from flag path, env vars, then default file paths.
// Precedence: flag → $MARINE_DEPTH_CONFIG → ~/.config/marine-depth/config.yaml.
// Without any file the defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
		v.SetConfigFile(envPath)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "marine-depth"))
		}
		v.SetConfigName("config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else if cfgPath := v.ConfigFileUsed(); cfgPath != "" {
		if info, err := os.Stat(cfgPath); err == nil {
			if perm := info.Mode().Perm(); perm&0004 != 0 {
				slog.Warn("config file is world-readable", "path", cfgPath, "permissions", fmt.Sprintf("%04o", perm))
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// AutomaticEnv only resolves keys viper already knows, and a list of
	// brokers arrives as one comma separated string.
	if brokers := os.Getenv(EnvPrefix + "_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is complete and correct.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not a valid address: %w", c.ListenAddr, err)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}

	if c.Storage.SQLite.Path == "" {
		return fmt.Errorf("storage.sqlite.path is required: it holds the station catalogue and sync queue")
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr is required for redis driver")
		}
	default:
		return fmt.Errorf("storage.driver must be 'sqlite', 'memory' or 'redis', got %q", c.Storage.Driver)
	}

	ttls := map[string]time.Duration{
		"station":        c.Cache.Station,
		"predictions":    c.Cache.Predictions,
		"water_levels":   c.Cache.WaterLevels,
		"meteorological": c.Cache.Meteorological,
		"weather":        c.Cache.Weather,
		"forecast":       c.Cache.Forecast,
		"alerts":         c.Cache.Alerts,
		"processed":      c.Cache.Processed,
	}
	for name, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("cache.%s must be positive, got %s", name, ttl)
		}
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one weather provider is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		switch p.Name {
		case ProviderNOAA, ProviderOpenMeteo:
		default:
			return fmt.Errorf("providers[%d]: unknown provider %q", i, p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: %s listed twice", i, p.Name)
		}
		seen[p.Name] = true
		if p.RequestsPerHour <= 0 {
			return fmt.Errorf("providers[%d]: requests_per_hour must be positive", i)
		}
	}

	if c.Acquisition.GateSize <= 0 {
		return fmt.Errorf("acquisition.gate_size must be positive, got %d", c.Acquisition.GateSize)
	}
	if c.Acquisition.BatchSize <= 0 {
		return fmt.Errorf("acquisition.batch_size must be positive, got %d", c.Acquisition.BatchSize)
	}
	if c.Acquisition.StationRadiusKm <= 0 {
		return fmt.Errorf("acquisition.station_radius_km must be positive")
	}

	if c.Realtime.URL != "" {
		if err := checkURL(c.Realtime.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("realtime.url: %w", err)
		}
	}
	if c.Realtime.BaseDelay <= 0 || c.Realtime.MaxDelay < c.Realtime.BaseDelay {
		return fmt.Errorf("realtime delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Realtime.MaxAttempts <= 0 {
		return fmt.Errorf("realtime.max_attempts must be positive")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be positive")
	}

	if c.Sync.Endpoint != "" {
		if err := checkURL(c.Sync.Endpoint, "http", "https"); err != nil {
			return fmt.Errorf("sync.endpoint: %w", err)
		}
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when brokers are set")
	}

	for i, l := range c.Alerts.Locations {
		if !l.Location().Valid() {
			return fmt.Errorf("alerts.locations[%d]: %s is out of range", i, l.Location())
		}
	}
	if len(c.Alerts.Locations) > 0 && c.Alerts.Interval <= 0 {
		return fmt.Errorf("alerts.interval must be positive")
	}

	return nil
}

// CoastlinePath returns the configured shapefile, or the provisioned one in
// the data directory.
func (c *Config) CoastlinePath() string {
	if c.Coastline.Path != "" {
		return c.Coastline.Path
	}
	return filepath.Join(c.DataDir, "coastline", "ne_10m_coastline.shp")
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%q must be an absolute %s URL", raw, strings.Join(schemes, " or "))
}
