// Package openmeteo is a weather provider backed by the Open-Meteo forecast
// and marine APIs. It needs no key and covers open water, but issues no alerts.
package openmeteo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/weather"
)

const (
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	DefaultMarineURL   = "https://marine-api.open-meteo.com/v1/marine"

	// ProviderName tags snapshots produced by Client.
	ProviderName = "openmeteo"

	timeLayout = "2006-01-02T15:04"
)

var (
	atmosphereFields = []string{"temperature_2m", "wind_speed_10m", "wind_direction_10m", "wind_gusts_10m", "pressure_msl", "visibility"}
	marineFields     = []string{"wave_height", "swell_wave_height", "swell_wave_period", "ocean_current_velocity", "ocean_current_direction", "sea_surface_temperature"}
)

// Client is the Open-Meteo provider.
type Client struct {
	forecastURL string
	marineURL   string
	client      *http.Client
	logger      *slog.Logger
	// ForecastDays is how far ahead Forecast looks.
	ForecastDays int
}

// NewClient creates an Open-Meteo client. Empty URLs use the public endpoints.
func NewClient(forecastURL, marineURL string, logger *slog.Logger) *Client {
	if forecastURL == "" {
		forecastURL = DefaultForecastURL
	}
	if marineURL == "" {
		marineURL = DefaultMarineURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		forecastURL:  forecastURL,
		marineURL:    marineURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
		ForecastDays: 2,
	}
}

func (c *Client) Name() string { return ProviderName }

// Params selects what one request asks for.
type Params struct {
	Latitude      float64
	Longitude     float64
	CurrentFields []string
	HourlyFields  []string
	ForecastDays  int
}

// BuildURL builds a request URL against base. Times are always GMT and
// speeds metres per second.
func BuildURL(base string, p Params) string {
	url := fmt.Sprintf("%s?latitude=%.4f&longitude=%.4f&timezone=GMT&wind_speed_unit=ms",
		base, p.Latitude, p.Longitude)

	if p.ForecastDays > 0 {
		url += fmt.Sprintf("&forecast_days=%d", p.ForecastDays)
	}
	if len(p.CurrentFields) > 0 {
		url += "&current=" + strings.Join(p.CurrentFields, ",")
	}
	if len(p.HourlyFields) > 0 {
		url += "&hourly=" + strings.Join(p.HourlyFields, ",")
	}
	return url
}

// values holds one time step. Open-Meteo reports null for fields it has no
// model output for, e.g. marine fields on land.
type values struct {
	Time                  string   `json:"time"`
	Temperature           *float64 `json:"temperature_2m"`
	WindSpeed             *float64 `json:"wind_speed_10m"`
	WindDirection         *float64 `json:"wind_direction_10m"`
	WindGust              *float64 `json:"wind_gusts_10m"`
	Pressure              *float64 `json:"pressure_msl"`
	Visibility            *float64 `json:"visibility"`
	WaveHeight            *float64 `json:"wave_height"`
	SwellHeight           *float64 `json:"swell_wave_height"`
	SwellPeriod           *float64 `json:"swell_wave_period"`
	CurrentVelocity       *float64 `json:"ocean_current_velocity"`
	CurrentDirection      *float64 `json:"ocean_current_direction"`
	SeaSurfaceTemperature *float64 `json:"sea_surface_temperature"`
}

type series struct {
	Time                  []string   `json:"time"`
	Temperature           []*float64 `json:"temperature_2m"`
	WindSpeed             []*float64 `json:"wind_speed_10m"`
	WindDirection         []*float64 `json:"wind_direction_10m"`
	WindGust              []*float64 `json:"wind_gusts_10m"`
	Pressure              []*float64 `json:"pressure_msl"`
	Visibility            []*float64 `json:"visibility"`
	WaveHeight            []*float64 `json:"wave_height"`
	SwellHeight           []*float64 `json:"swell_wave_height"`
	SwellPeriod           []*float64 `json:"swell_wave_period"`
	CurrentVelocity       []*float64 `json:"ocean_current_velocity"`
	CurrentDirection      []*float64 `json:"ocean_current_direction"`
	SeaSurfaceTemperature []*float64 `json:"sea_surface_temperature"`
}

func at(s []*float64, i int) *float64 {
	if i < len(s) {
		return s[i]
	}
	return nil
}

// step returns the i'th time step of the series.
func (s series) step(i int) values {
	return values{
		Time:                  s.Time[i],
		Temperature:           at(s.Temperature, i),
		WindSpeed:             at(s.WindSpeed, i),
		WindDirection:         at(s.WindDirection, i),
		WindGust:              at(s.WindGust, i),
		Pressure:              at(s.Pressure, i),
		Visibility:            at(s.Visibility, i),
		WaveHeight:            at(s.WaveHeight, i),
		SwellHeight:           at(s.SwellHeight, i),
		SwellPeriod:           at(s.SwellPeriod, i),
		CurrentVelocity:       at(s.CurrentVelocity, i),
		CurrentDirection:      at(s.CurrentDirection, i),
		SeaSurfaceTemperature: at(s.SeaSurfaceTemperature, i),
	}
}

type response struct {
	Current *values `json:"current"`
	Hourly  *series `json:"hourly"`
	Error   bool    `json:"error"`
	Reason  string  `json:"reason"`
}

// StatusError is a non-200 response.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: status %d: %s", e.StatusCode, e.Reason)
}

// RateLimited reports whether Open-Meteo refused for exceeding its quota.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func (c *Client) get(ctx context.Context, url string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var out response
	if err := json.Unmarshal(body, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error {
		return nil, &StatusError{StatusCode: resp.StatusCode, Reason: out.Reason}
	}
	return &out, nil
}

// Current merges the current atmosphere and marine state at loc. The marine
// half is optional; points with no ocean model simply carry no sea fields.
func (c *Client) Current(ctx context.Context, loc models.Location) (*models.WeatherSnapshot, error) {
	atmos, err := c.get(ctx, BuildURL(c.forecastURL, Params{
		Latitude: loc.Latitude, Longitude: loc.Longitude, CurrentFields: atmosphereFields,
	}))
	if err != nil {
		return nil, err
	}
	if atmos.Current == nil {
		return nil, fmt.Errorf("response has no current block")
	}

	snap := toSnapshot(loc, *atmos.Current, 0.8)

	marine, err := c.get(ctx, BuildURL(c.marineURL, Params{
		Latitude: loc.Latitude, Longitude: loc.Longitude, CurrentFields: marineFields,
	}))
	if err != nil {
		c.logger.Warn("open-meteo marine data unavailable", "location", loc.String(), "error", err)
	} else if marine.Current != nil {
		applyMarine(snap, *marine.Current)
	}
	return snap, nil
}

// Forecast returns hourly snapshots for ForecastDays.
func (c *Client) Forecast(ctx context.Context, loc models.Location) (*models.WeatherForecast, error) {
	params := Params{
		Latitude: loc.Latitude, Longitude: loc.Longitude,
		HourlyFields: atmosphereFields, ForecastDays: c.ForecastDays,
	}
	atmos, err := c.get(ctx, BuildURL(c.forecastURL, params))
	if err != nil {
		return nil, err
	}
	if atmos.Hourly == nil || len(atmos.Hourly.Time) == 0 {
		return nil, fmt.Errorf("response has no hourly block")
	}

	params.HourlyFields = marineFields
	marineSteps := map[string]values{}
	if marine, err := c.get(ctx, BuildURL(c.marineURL, params)); err != nil {
		c.logger.Warn("open-meteo marine forecast unavailable", "location", loc.String(), "error", err)
	} else if marine.Hourly != nil {
		for i := range marine.Hourly.Time {
			marineSteps[marine.Hourly.Time[i]] = marine.Hourly.step(i)
		}
	}

	hourly := atmos.Hourly
	forecast := &models.WeatherForecast{
		Location: loc,
		Source:   ProviderName,
		Periods:  make([]models.WeatherSnapshot, 0, len(hourly.Time)),
	}
	for i := range hourly.Time {
		snap := toSnapshot(loc, hourly.step(i), 0.7)
		if m, ok := marineSteps[hourly.Time[i]]; ok {
			applyMarine(snap, m)
		}
		forecast.Periods = append(forecast.Periods, *snap)
	}
	first, last := forecast.Periods[0].Timestamp, forecast.Periods[len(forecast.Periods)-1].Timestamp
	forecast.IssuedAt = first
	forecast.Horizon = last.Sub(first) + time.Hour
	return forecast, nil
}

// Alerts is not offered by Open-Meteo.
func (c *Client) Alerts(context.Context, models.Location) ([]models.MarineAlert, error) {
	return nil, weather.ErrUnsupported
}

func toSnapshot(loc models.Location, v values, confidence float64) *models.WeatherSnapshot {
	ts, _ := time.Parse(timeLayout, v.Time)
	snap := &models.WeatherSnapshot{
		Location:      loc,
		Timestamp:     ts,
		Source:        ProviderName,
		Confidence:    confidence,
		Temperature:   v.Temperature,
		WindSpeed:     models.ValueOr(v.WindSpeed, 0),
		WindDirection: models.ValueOr(v.WindDirection, 0),
		WindGust:      v.WindGust,
		Pressure:      v.Pressure,
	}
	if v.Visibility != nil {
		snap.Visibility = models.Float(*v.Visibility / 1000)
	}
	return snap
}

func applyMarine(snap *models.WeatherSnapshot, v values) {
	snap.WaveHeight = v.WaveHeight
	snap.SwellHeight = v.SwellHeight
	snap.SwellPeriod = v.SwellPeriod
	snap.CurrentDirection = v.CurrentDirection
	snap.WaterTemperature = v.SeaSurfaceTemperature
	if v.CurrentVelocity != nil {
		// ocean current velocity is always km/h
		snap.CurrentSpeed = models.Float(*v.CurrentVelocity / 3.6)
	}
}
