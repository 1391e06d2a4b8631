// Package weather aggregates weather providers behind a single client that
// caches by location, honours per-provider hourly request limits and falls
// through providers in priority order.
package weather

import (
	"context"
	"errors"

	"github.com/ngmaloney/marine-depth/internal/models"
)

// ErrUnsupported is returned by a provider for a capability it lacks.
var ErrUnsupported = errors.New("not supported by provider")

// Provider is a single upstream weather source.
type Provider interface {
	Name() string
	Current(ctx context.Context, loc models.Location) (*models.WeatherSnapshot, error)
	Forecast(ctx context.Context, loc models.Location) (*models.WeatherForecast, error)
	Alerts(ctx context.Context, loc models.Location) ([]models.MarineAlert, error)
}

// ProviderConfig places a provider in the fallback order. Lower Priority is
// tried first. RequestsPerHour of zero means unlimited.
type ProviderConfig struct {
	Provider        Provider
	Priority        int
	RequestsPerHour int
}
