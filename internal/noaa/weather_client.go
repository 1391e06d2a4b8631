package noaa

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
)

// ProviderName tags snapshots produced by WeatherClient.
const ProviderName = "noaa"

// WeatherClient reads api.weather.gov. Current conditions come from the
// nearest observation station, with seas taken from the zone's marine text
// product when one covers the location.
type WeatherClient struct {
	baseURL       string
	marineTextURL string
	httpClient    *http.Client
	logger        *slog.Logger

	mu     sync.Mutex
	points map[string]pointProperties
	zones  map[string]string
}

// NewWeatherClient creates a weather.gov client. Empty URLs use the defaults.
func NewWeatherClient(baseURL, marineTextURL string, logger *slog.Logger) *WeatherClient {
	if baseURL == "" {
		baseURL = DefaultWeatherURL
	}
	if marineTextURL == "" {
		marineTextURL = DefaultMarineTextURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WeatherClient{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		marineTextURL: strings.TrimSuffix(marineTextURL, "/"),
		httpClient:    newHTTPClient(),
		logger:        logger,
		points:        make(map[string]pointProperties),
		zones:         make(map[string]string),
	}
}

func (c *WeatherClient) Name() string { return ProviderName }

type pointProperties struct {
	GridID              string `json:"gridId"`
	GridX               int    `json:"gridX"`
	GridY               int    `json:"gridY"`
	Forecast            string `json:"forecast"`
	ObservationStations string `json:"observationStations"`
}

type pointResponse struct {
	Properties pointProperties `json:"properties"`
}

// quantity is the weather.gov {value, unitCode} pair. Value is null when the
// sensor did not report.
type quantity struct {
	Value    *float64 `json:"value"`
	UnitCode string   `json:"unitCode"`
}

type observationResponse struct {
	Properties struct {
		Timestamp          time.Time `json:"timestamp"`
		Temperature        quantity  `json:"temperature"`
		WindDirection      quantity  `json:"windDirection"`
		WindSpeed          quantity  `json:"windSpeed"`
		WindGust           quantity  `json:"windGust"`
		BarometricPressure quantity  `json:"barometricPressure"`
		SeaLevelPressure   quantity  `json:"seaLevelPressure"`
		Visibility         quantity  `json:"visibility"`
	} `json:"properties"`
}

type stationsResponse struct {
	Features []struct {
		Properties struct {
			StationIdentifier string `json:"stationIdentifier"`
		} `json:"properties"`
	} `json:"features"`
}

type forecastResponse struct {
	Properties struct {
		GeneratedAt time.Time `json:"generatedAt"`
		Periods     []struct {
			Name             string    `json:"name"`
			StartTime        time.Time `json:"startTime"`
			EndTime          time.Time `json:"endTime"`
			Temperature      float64   `json:"temperature"`
			TemperatureUnit  string    `json:"temperatureUnit"`
			WindSpeed        string    `json:"windSpeed"`
			WindDirection    string    `json:"windDirection"`
			ShortForecast    string    `json:"shortForecast"`
			DetailedForecast string    `json:"detailedForecast"`
		} `json:"periods"`
	} `json:"properties"`
}

// point resolves and memoises the gridpoint metadata for loc.
func (c *WeatherClient) point(ctx context.Context, loc models.Location) (pointProperties, error) {
	key := loc.Key()
	c.mu.Lock()
	p, ok := c.points[key]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	var resp pointResponse
	url := fmt.Sprintf("%s/points/%.4f,%.4f", c.baseURL, loc.Latitude, loc.Longitude)
	if err := getJSON(ctx, c.httpClient, url, &resp); err != nil {
		return pointProperties{}, fmt.Errorf("failed to get grid point: %w", err)
	}
	p = resp.Properties
	if p.ObservationStations == "" {
		p.ObservationStations = fmt.Sprintf("%s/gridpoints/%s/%d,%d/stations", c.baseURL, p.GridID, p.GridX, p.GridY)
	}
	if p.Forecast == "" {
		p.Forecast = fmt.Sprintf("%s/gridpoints/%s/%d,%d/forecast", c.baseURL, p.GridID, p.GridX, p.GridY)
	}

	c.mu.Lock()
	c.points[key] = p
	c.mu.Unlock()
	return p, nil
}

// Current returns the latest observation from the nearest station.
func (c *WeatherClient) Current(ctx context.Context, loc models.Location) (*models.WeatherSnapshot, error) {
	p, err := c.point(ctx, loc)
	if err != nil {
		return nil, err
	}

	var stations stationsResponse
	if err := getJSON(ctx, c.httpClient, p.ObservationStations, &stations); err != nil {
		return nil, fmt.Errorf("listing observation stations: %w", err)
	}
	if len(stations.Features) == 0 {
		return nil, fmt.Errorf("no observation stations near %s", loc)
	}
	stationID := stations.Features[0].Properties.StationIdentifier

	var obs observationResponse
	url := fmt.Sprintf("%s/stations/%s/observations/latest", c.baseURL, stationID)
	if err := getJSON(ctx, c.httpClient, url, &obs); err != nil {
		return nil, fmt.Errorf("fetching observation from %s: %w", stationID, err)
	}

	props := obs.Properties
	snap := &models.WeatherSnapshot{
		Location:      loc,
		Timestamp:     props.Timestamp,
		Source:        ProviderName,
		Confidence:    0.9,
		Temperature:   props.Temperature.Value,
		WindSpeed:     models.ValueOr(speedMS(props.WindSpeed), 0),
		WindDirection: models.ValueOr(props.WindDirection.Value, 0),
		WindGust:      speedMS(props.WindGust),
		Pressure:      pressureHPa(props.SeaLevelPressure),
		Visibility:    scaled(props.Visibility, 0.001),
	}
	if snap.Pressure == nil {
		snap.Pressure = pressureHPa(props.BarometricPressure)
	}

	// Seas are best effort; many inland points have no marine zone.
	if zone, err := c.MarineZone(ctx, loc); err != nil {
		c.logger.Debug("no marine zone for location", "location", loc.String(), "error", err)
	} else if periods, err := c.MarineText(ctx, zone); err != nil {
		c.logger.Warn("marine text forecast unavailable", "zone", zone, "error", err)
	} else {
		for _, period := range periods {
			if period.Seas.HeightMax > 0 {
				applySeas(snap, period.Seas)
				break
			}
		}
	}

	return snap, nil
}

// Forecast returns the gridpoint forecast periods as snapshots.
func (c *WeatherClient) Forecast(ctx context.Context, loc models.Location) (*models.WeatherForecast, error) {
	p, err := c.point(ctx, loc)
	if err != nil {
		return nil, err
	}

	var resp forecastResponse
	if err := getJSON(ctx, c.httpClient, p.Forecast, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}

	forecast := &models.WeatherForecast{
		Location: loc,
		Source:   ProviderName,
		IssuedAt: resp.Properties.GeneratedAt,
		Periods:  make([]models.WeatherSnapshot, 0, len(resp.Properties.Periods)),
	}
	for _, period := range resp.Properties.Periods {
		temp := period.Temperature
		if strings.EqualFold(period.TemperatureUnit, "F") {
			temp = (temp - 32) * 5 / 9
		}
		forecast.Periods = append(forecast.Periods, models.WeatherSnapshot{
			Location:      loc,
			Timestamp:     period.StartTime,
			Source:        ProviderName,
			Confidence:    0.7,
			Temperature:   models.Float(temp),
			WindSpeed:     parseWindSpeed(period.WindSpeed),
			WindDirection: compassDegrees(period.WindDirection),
		})
	}
	if n := len(forecast.Periods); n > 0 {
		forecast.Horizon = resp.Properties.Periods[n-1].EndTime.Sub(forecast.Periods[0].Timestamp)
	}
	return forecast, nil
}

var windSpeedRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// parseWindSpeed turns "10 to 15 mph" into metres per second, using the
// upper bound of a range.
func parseWindSpeed(s string) float64 {
	matches := windSpeedRegex.FindAllString(s, -1)
	if len(matches) == 0 {
		return 0
	}
	v, _ := strconv.ParseFloat(matches[len(matches)-1], 64)
	switch {
	case strings.Contains(s, "kt"):
		return v * models.MetersPerSecondPerKnot
	case strings.Contains(s, "km/h"):
		return v / 3.6
	default:
		return v * 0.44704 // mph
	}
}

var compassPoints = []string{"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE", "S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW"}

func compassDegrees(dir string) float64 {
	dir = strings.ToUpper(strings.TrimSpace(dir))
	for i, p := range compassPoints {
		if p == dir {
			return float64(i) * 22.5
		}
	}
	return 0
}

// speedMS converts a weather.gov speed to m/s.
func speedMS(q quantity) *float64 {
	switch {
	case q.Value == nil:
		return nil
	case strings.HasSuffix(q.UnitCode, "km_h-1"):
		return scaled(q, 1/3.6)
	case strings.HasSuffix(q.UnitCode, "kt"):
		return scaled(q, models.MetersPerSecondPerKnot)
	default:
		return q.Value
	}
}

func pressureHPa(q quantity) *float64 {
	if strings.HasSuffix(q.UnitCode, "Pa") && !strings.HasSuffix(q.UnitCode, "hPa") {
		return scaled(q, 0.01)
	}
	return q.Value
}

func scaled(q quantity, factor float64) *float64 {
	if q.Value == nil {
		return nil
	}
	return models.Float(*q.Value * factor)
}
