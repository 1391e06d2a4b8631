// Package tides serves tide predictions, observed water levels and station
// meteorology from the offline cache, fetching from CO-OPS through the shared
// fetch gate only when the cache cannot answer.
package tides

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/noaa"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

const providerName = "coops"

// Upstream is the tide data source. *noaa.TideClient satisfies it.
type Upstream interface {
	Predictions(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error)
	HighLow(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error)
	WaterLevels(ctx context.Context, stationID string, window models.TimeWindow) ([]models.WaterLevel, error)
	Meteorological(ctx context.Context, stationID string) (*models.MeteorologicalData, error)
}

// Client is the tide data client used by the pipeline.
type Client struct {
	upstream Upstream
	cache    *cache.Offline
	gate     *gate.Gate
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics
	flight   singleflight.Group
}

// NewClient wires a tide client. A nil gate gets a private one of the default size.
func NewClient(upstream Upstream, c *cache.Offline, g *gate.Gate, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Client {
	if g == nil {
		g = gate.New(gate.DefaultLimit)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		upstream: upstream,
		cache:    c,
		gate:     g,
		clock:    clock,
		logger:   logger,
		metrics:  observability.OrNop(metrics),
	}
}

// cachedPredictions and cachedLevels remember the window they were fetched
// for, so narrower requests inside it are served without a fetch.
type cachedPredictions struct {
	Window      models.TimeWindow       `json:"window"`
	Predictions []models.TidePrediction `json:"predictions"`
}

type cachedLevels struct {
	Window models.TimeWindow   `json:"window"`
	Levels []models.WaterLevel `json:"levels"`
}

// cachedMet keeps a nil reading distinguishable from a miss.
type cachedMet struct {
	Data *models.MeteorologicalData `json:"data"`
}

// Predictions returns predicted heights covering window. Predictions are
// deterministic, so a miss fetches whole UTC days around the window to make
// later requests more likely to hit.
func (c *Client) Predictions(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error) {
	return c.predictions(ctx, "predictions", stationID, window, func(ctx context.Context, w models.TimeWindow) ([]models.TidePrediction, error) {
		return c.upstream.Predictions(ctx, stationID, w)
	})
}

// HighLow returns the high and low tide events in window. Events are cached
// under their own key beside the interval predictions.
func (c *Client) HighLow(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error) {
	return c.predictions(ctx, "high_low", "hilo:"+stationID, window, func(ctx context.Context, w models.TimeWindow) ([]models.TidePrediction, error) {
		return c.upstream.HighLow(ctx, stationID, w)
	})
}

func (c *Client) predictions(ctx context.Context, kind, cacheID string, window models.TimeWindow, fetch func(context.Context, models.TimeWindow) ([]models.TidePrediction, error)) ([]models.TidePrediction, error) {
	if preds, ok := c.cachedPredictions(ctx, cacheID, window); ok {
		return preds, nil
	}

	fetchWindow := models.TimeWindow{
		Start: window.Start.UTC().Truncate(24 * time.Hour),
		End:   window.End.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour),
	}
	preds, err := shared(c, kind+":"+cacheID+":"+windowKey(fetchWindow), func() ([]models.TidePrediction, error) {
		if preds, ok := c.cachedPredictions(ctx, cacheID, fetchWindow); ok {
			return preds, nil
		}
		var preds []models.TidePrediction
		err := c.call(ctx, kind, func(ctx context.Context) error {
			var err error
			preds, err = fetch(ctx, fetchWindow)
			return err
		})
		if err != nil {
			return nil, err
		}
		c.cache.Put(ctx, cache.KindPredictions, cacheID, providerName, cachedPredictions{Window: fetchWindow, Predictions: preds})
		return preds, nil
	})
	if err != nil {
		return nil, err
	}
	return filterPredictions(preds, window), nil
}

func (c *Client) cachedPredictions(ctx context.Context, cacheID string, window models.TimeWindow) ([]models.TidePrediction, bool) {
	var cached cachedPredictions
	if _, ok := c.cache.Get(ctx, cache.KindPredictions, cacheID, &cached); ok && cached.Window.Contains(window) {
		return filterPredictions(cached.Predictions, window), true
	}
	return nil, false
}

// WaterLevels returns observed levels inside window.
func (c *Client) WaterLevels(ctx context.Context, stationID string, window models.TimeWindow) ([]models.WaterLevel, error) {
	if levels, ok := c.cachedLevels(ctx, stationID, window); ok {
		return levels, nil
	}

	return shared(c, "water_levels:"+stationID+":"+windowKey(window), func() ([]models.WaterLevel, error) {
		if levels, ok := c.cachedLevels(ctx, stationID, window); ok {
			return levels, nil
		}
		var levels []models.WaterLevel
		err := c.call(ctx, "water_levels", func(ctx context.Context) error {
			var err error
			levels, err = c.upstream.WaterLevels(ctx, stationID, window)
			return err
		})
		if errors.Is(err, noaa.ErrNoData) {
			// Prediction-only stations never report levels; remember that.
			levels, err = []models.WaterLevel{}, nil
		}
		if err != nil {
			return nil, err
		}
		c.cache.Put(ctx, cache.KindWaterLevels, stationID, providerName, cachedLevels{Window: window, Levels: levels})
		return levels, nil
	})
}

func (c *Client) cachedLevels(ctx context.Context, stationID string, window models.TimeWindow) ([]models.WaterLevel, bool) {
	var cached cachedLevels
	if _, ok := c.cache.Get(ctx, cache.KindWaterLevels, stationID, &cached); ok && cached.Window.Contains(window) {
		return filterLevels(cached.Levels, window), true
	}
	return nil, false
}

// Meteorological returns the station's latest met sensors, or nil when the
// station carries none. Both answers are cached.
func (c *Client) Meteorological(ctx context.Context, stationID string) (*models.MeteorologicalData, error) {
	var cached cachedMet
	if _, ok := c.cache.Get(ctx, cache.KindMeteorological, stationID, &cached); ok {
		return cached.Data, nil
	}

	return shared(c, "met:"+stationID, func() (*models.MeteorologicalData, error) {
		var again cachedMet
		if _, ok := c.cache.Get(ctx, cache.KindMeteorological, stationID, &again); ok {
			return again.Data, nil
		}
		var met *models.MeteorologicalData
		err := c.call(ctx, "met", func(ctx context.Context) error {
			var err error
			met, err = c.upstream.Meteorological(ctx, stationID)
			return err
		})
		if errors.Is(err, noaa.ErrNoData) {
			met, err = nil, nil
		}
		if err != nil {
			return nil, err
		}
		c.cache.Put(ctx, cache.KindMeteorological, stationID, providerName, cachedMet{Data: met})
		return met, nil
	})
}

// shared runs fn once for every caller asking for key at the same time.
func shared[T any](c *Client, key string, fn func() (T, error)) (T, error) {
	v, err, _ := c.flight.Do(key, func() (any, error) {
		v, err := fn()
		return v, err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func windowKey(w models.TimeWindow) string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

func (c *Client) call(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	start := c.clock.Now()
	err := c.gate.Do(ctx, fn)
	c.metrics.ProviderDuration.WithLabelValues(providerName).Observe(c.clock.Since(start).Seconds())

	outcome := "success"
	if err != nil && !errors.Is(err, noaa.ErrNoData) {
		outcome = "error"
		var statusErr *noaa.StatusError
		if errors.As(err, &statusErr) && statusErr.RateLimited() {
			outcome = "rate_limited"
		}
		c.logger.Warn("tide fetch failed", "kind", kind, "error", err)
	}
	c.metrics.ProviderRequests.WithLabelValues(providerName, kind, outcome).Inc()
	if err != nil {
		return fmt.Errorf("fetching %s: %w", kind, err)
	}
	return nil
}

func filterPredictions(preds []models.TidePrediction, w models.TimeWindow) []models.TidePrediction {
	out := make([]models.TidePrediction, 0, len(preds))
	for _, p := range preds {
		if w.Includes(p.Time) {
			out = append(out, p)
		}
	}
	return out
}

func filterLevels(levels []models.WaterLevel, w models.TimeWindow) []models.WaterLevel {
	out := make([]models.WaterLevel, 0, len(levels))
	for _, l := range levels {
		if w.Includes(l.Time) {
			out = append(out, l)
		}
	}
	return out
}
