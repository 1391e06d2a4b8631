package noaa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ngmaloney/marine-depth/internal/models"
)

// ErrNoData is returned when CO-OPS has nothing for the requested product.
var ErrNoData = errors.New("no data available")

const coopsTimeLayout = "2006-01-02 15:04"

// TideClient reads the CO-OPS datagetter API. All requests use metric units,
// GMT and the MLLW datum.
type TideClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTideClient creates a CO-OPS client. An empty baseURL uses DefaultCoopsURL.
func NewTideClient(baseURL string) *TideClient {
	if baseURL == "" {
		baseURL = DefaultCoopsURL
	}
	return &TideClient{baseURL: baseURL, httpClient: newHTTPClient()}
}

// coopsResponse covers the predictions and data shaped products. CO-OPS
// reports most failures as a 200 with an error object.
type coopsResponse struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Predictions []struct {
		Time   string `json:"t"`
		Height string `json:"v"`
		Type   string `json:"type"`
	} `json:"predictions"`
	Data []struct {
		Time    string `json:"t"`
		Value   string `json:"v"`
		Sigma   string `json:"s"`
		Quality string `json:"q"`
		// wind product only
		Direction string `json:"d"`
		Gust      string `json:"g"`
	} `json:"data"`
}

func (c *TideClient) fetch(ctx context.Context, stationID, product string, params url.Values) (*coopsResponse, error) {
	params.Set("station", stationID)
	params.Set("product", product)
	params.Set("datum", "MLLW")
	params.Set("time_zone", "gmt")
	params.Set("units", "metric")
	params.Set("format", "json")
	params.Set("application", application)

	var resp coopsResponse
	if err := getJSON(ctx, c.httpClient, c.baseURL+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("fetching %s for station %s: %w", product, stationID, err)
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if strings.Contains(strings.ToLower(msg), "no data") {
			return nil, fmt.Errorf("%s for station %s: %w", product, stationID, ErrNoData)
		}
		return nil, fmt.Errorf("%s for station %s: %s", product, stationID, msg)
	}
	return &resp, nil
}

func windowParams(w models.TimeWindow) url.Values {
	params := url.Values{}
	params.Set("begin_date", w.Start.UTC().Format("20060102 15:04"))
	params.Set("end_date", w.End.UTC().Format("20060102 15:04"))
	return params
}

// Predictions returns hourly predicted heights in metres for the window,
// ordered by time.
func (c *TideClient) Predictions(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error) {
	params := windowParams(window)
	params.Set("interval", "h")
	return c.predictions(ctx, stationID, params)
}

// HighLow returns only the high and low tide events in the window.
func (c *TideClient) HighLow(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error) {
	params := windowParams(window)
	params.Set("interval", "hilo")
	return c.predictions(ctx, stationID, params)
}

func (c *TideClient) predictions(ctx context.Context, stationID string, params url.Values) ([]models.TidePrediction, error) {
	resp, err := c.fetch(ctx, stationID, "predictions", params)
	if err != nil {
		return nil, err
	}

	out := make([]models.TidePrediction, 0, len(resp.Predictions))
	for _, p := range resp.Predictions {
		t, err := time.Parse(coopsTimeLayout, p.Time)
		if err != nil {
			continue
		}
		height, err := strconv.ParseFloat(p.Height, 64)
		if err != nil {
			continue
		}
		out = append(out, models.TidePrediction{
			StationID: stationID,
			Time:      t,
			Height:    height,
			Type:      models.TideType(p.Type),
		})
	}
	models.SortPredictions(out)
	return out, nil
}

// WaterLevels returns observed six-minute water levels for the window.
// Rows with an empty value (sensor gaps) are skipped.
func (c *TideClient) WaterLevels(ctx context.Context, stationID string, window models.TimeWindow) ([]models.WaterLevel, error) {
	resp, err := c.fetch(ctx, stationID, "water_level", windowParams(window))
	if err != nil {
		return nil, err
	}

	out := make([]models.WaterLevel, 0, len(resp.Data))
	for _, d := range resp.Data {
		t, err := time.Parse(coopsTimeLayout, d.Time)
		if err != nil {
			continue
		}
		height, err := strconv.ParseFloat(d.Value, 64)
		if err != nil {
			continue
		}
		sigma, _ := strconv.ParseFloat(d.Sigma, 64)
		out = append(out, models.WaterLevel{
			StationID: stationID,
			Time:      t,
			Height:    height,
			Sigma:     sigma,
			Quality:   d.Quality,
		})
	}
	return out, nil
}

// Meteorological fetches the latest air temperature, barometric pressure and
// wind speed from the station's own sensors. Products the station does not
// carry are left nil; it is an error only when none are available.
func (c *TideClient) Meteorological(ctx context.Context, stationID string) (*models.MeteorologicalData, error) {
	type reading struct {
		value *float64
		at    time.Time
	}
	latest := func(product string) (reading, error) {
		params := url.Values{}
		params.Set("date", "latest")
		resp, err := c.fetch(ctx, stationID, product, params)
		if err != nil {
			return reading{}, err
		}
		if len(resp.Data) == 0 {
			return reading{}, ErrNoData
		}
		last := resp.Data[len(resp.Data)-1]
		raw := last.Value
		if product == "wind" {
			raw = last.Sigma // wind speed is reported in "s"
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return reading{}, fmt.Errorf("parsing %s value %q: %w", product, raw, err)
		}
		t, _ := time.Parse(coopsTimeLayout, last.Time)
		return reading{value: &v, at: t}, nil
	}

	products := []string{"air_temperature", "air_pressure", "wind"}
	results := make([]reading, len(products))
	errs := make([]error, len(products))

	var g errgroup.Group
	for i, product := range products {
		g.Go(func() error {
			results[i], errs[i] = latest(product)
			return nil
		})
	}
	_ = g.Wait()

	met := &models.MeteorologicalData{
		StationID:      stationID,
		AirTemperature: results[0].value,
		AirPressure:    results[1].value,
		WindSpeed:      results[2].value,
	}
	for _, r := range results {
		if r.at.After(met.ObservedAt) {
			met.ObservedAt = r.at
		}
	}
	if met.AirTemperature == nil && met.AirPressure == nil && met.WindSpeed == nil {
		return nil, fmt.Errorf("meteorological data for station %s: %w", stationID, errors.Join(errs...))
	}
	return met, nil
}
