package weather

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

type registered struct {
	provider Provider
	priority int
	limiter  *rateLimiter
}

// MultiProvider is the weather client used by the pipeline.
type MultiProvider struct {
	providers []registered
	cache     *cache.Offline
	gate      *gate.Gate
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	flight    singleflight.Group
}

// NewMultiProvider orders providers by priority. Providers with equal
// priority keep their configured order.
func NewMultiProvider(configs []ProviderConfig, c *cache.Offline, g *gate.Gate, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *MultiProvider {
	if g == nil {
		g = gate.New(gate.DefaultLimit)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	providers := make([]registered, 0, len(configs))
	for _, cfg := range configs {
		providers = append(providers, registered{
			provider: cfg.Provider,
			priority: cfg.Priority,
			limiter:  newRateLimiter(cfg.RequestsPerHour, clock),
		})
	}
	sort.SliceStable(providers, func(i, j int) bool { return providers[i].priority < providers[j].priority })

	return &MultiProvider{
		providers: providers,
		cache:     c,
		gate:      g,
		clock:     clock,
		logger:    logger,
		metrics:   observability.OrNop(metrics),
	}
}

// Providers returns the provider names in the order they are tried.
func (m *MultiProvider) Providers() []string {
	names := make([]string, len(m.providers))
	for i, p := range m.providers {
		names[i] = p.provider.Name()
	}
	return names
}

// Remaining reports each rate-limited provider's requests left this hour.
func (m *MultiProvider) Remaining() map[string]int {
	out := make(map[string]int, len(m.providers))
	for _, p := range m.providers {
		if n := p.limiter.Remaining(); n >= 0 {
			out[p.provider.Name()] = n
		}
	}
	return out
}

// Current returns current conditions at loc.
func (m *MultiProvider) Current(ctx context.Context, loc models.Location) (*models.WeatherSnapshot, error) {
	return fetch(ctx, m, "current", cache.KindWeather, loc,
		func(ctx context.Context, p Provider) (*models.WeatherSnapshot, error) {
			snap, err := p.Current(ctx, loc)
			if err == nil && snap != nil {
				snap.Source = p.Name()
			}
			return snap, err
		})
}

// Forecast returns the forecast for loc.
func (m *MultiProvider) Forecast(ctx context.Context, loc models.Location) (*models.WeatherForecast, error) {
	return fetch(ctx, m, "forecast", cache.KindForecast, loc,
		func(ctx context.Context, p Provider) (*models.WeatherForecast, error) {
			f, err := p.Forecast(ctx, loc)
			if err == nil && f != nil {
				f.Source = p.Name()
				for i := range f.Periods {
					f.Periods[i].Source = p.Name()
				}
			}
			return f, err
		})
}

// Alerts returns active marine alerts for loc, deduplicated by ID.
func (m *MultiProvider) Alerts(ctx context.Context, loc models.Location) ([]models.MarineAlert, error) {
	return fetch(ctx, m, "alerts", cache.KindAlerts, loc,
		func(ctx context.Context, p Provider) ([]models.MarineAlert, error) {
			alerts, err := p.Alerts(ctx, loc)
			if err != nil {
				return nil, err
			}
			for i := range alerts {
				if alerts[i].Source == "" {
					alerts[i].Source = p.Name()
				}
			}
			return models.DedupeAlerts(alerts), nil
		})
}

// fetch is the shared fallback pass: cache, then each provider in priority
// order until one answers.
func fetch[T any](ctx context.Context, m *MultiProvider, kind string, cacheKind cache.Kind, loc models.Location, call func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	if !loc.Valid() {
		return zero, &AllProvidersFailedError{Kind: kind, Failures: []*ProviderError{{Provider: "-", Reason: "invalid location " + loc.String()}}}
	}

	key := loc.Key()
	var cached T
	if _, ok := m.cache.Get(ctx, cacheKind, key, &cached); ok {
		return cached, nil
	}

	// Concurrent misses for one location share a single provider pass.
	v, err, _ := m.flight.Do(kind+":"+key, func() (any, error) {
		var again T
		if _, ok := m.cache.Get(ctx, cacheKind, key, &again); ok {
			return again, nil
		}
		v, err := fetchUpstream(ctx, m, kind, cacheKind, key, call)
		return v, err
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func fetchUpstream[T any](ctx context.Context, m *MultiProvider, kind string, cacheKind cache.Kind, key string, call func(context.Context, Provider) (T, error)) (T, error) {
	var zero T
	var failures []*ProviderError
	for _, r := range m.providers {
		name := r.provider.Name()
		if !r.limiter.Allow() {
			m.logger.Debug("skipping rate limited provider", "provider", name, "kind", kind)
			m.metrics.ProviderRequests.WithLabelValues(name, kind, "rate_limited").Inc()
			failures = append(failures, &ProviderError{Provider: name, Reason: ReasonRateLimited})
			continue
		}

		var result T
		start := m.clock.Now()
		err := m.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			result, err = call(ctx, r.provider)
			return err
		})
		m.metrics.ProviderDuration.WithLabelValues(name).Observe(m.clock.Since(start).Seconds())

		if err == nil {
			m.metrics.ProviderRequests.WithLabelValues(name, kind, "success").Inc()
			m.cache.Put(ctx, cacheKind, key, name, result)
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		pe := classify(name, err)
		m.metrics.ProviderRequests.WithLabelValues(name, kind, outcomeLabel(pe.Reason)).Inc()
		if pe.Reason != ReasonUnsupported {
			m.logger.Warn("weather provider failed", "provider", name, "kind", kind, "error", err)
		}
		failures = append(failures, pe)
	}

	m.metrics.AllProvidersFail.WithLabelValues(kind).Inc()
	return zero, &AllProvidersFailedError{Kind: kind, Failures: failures}
}

func classify(name string, err error) *ProviderError {
	if errors.Is(err, ErrUnsupported) {
		return &ProviderError{Provider: name, Reason: ReasonUnsupported, Err: err}
	}
	var limited interface{ RateLimited() bool }
	if errors.As(err, &limited) && limited.RateLimited() {
		return &ProviderError{Provider: name, Reason: ReasonRateLimited, Err: err}
	}
	return &ProviderError{Provider: name, Reason: "request failed", Err: err}
}

func outcomeLabel(reason string) string {
	switch reason {
	case ReasonUnsupported:
		return "unsupported"
	case ReasonRateLimited:
		return "rate_limited"
	default:
		return "error"
	}
}
