package noaa

import (
	"context"
	"fmt"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
)

type alertResponse struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			ID          string `json:"id"`
			Event       string `json:"event"`
			Headline    string `json:"headline"`
			Description string `json:"description"`
			Severity    string `json:"severity"`
			Urgency     string `json:"urgency"`
			Effective   string `json:"effective"`
			Onset       string `json:"onset"`
			Expires     string `json:"expires"`
			Ends        string `json:"ends"`
			AreaDesc    string `json:"areaDesc"`
		} `json:"properties"`
	} `json:"features"`
}

// Alerts returns the active marine alerts for a point, deduplicated by ID.
func (c *WeatherClient) Alerts(ctx context.Context, loc models.Location) ([]models.MarineAlert, error) {
	url := fmt.Sprintf("%s/alerts/active?point=%.4f,%.4f", c.baseURL, loc.Latitude, loc.Longitude)

	var resp alertResponse
	if err := getJSON(ctx, c.httpClient, url, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch alerts: %w", err)
	}

	alerts := make([]models.MarineAlert, 0, len(resp.Features))
	for _, feature := range resp.Features {
		props := feature.Properties
		id := props.ID
		if id == "" {
			id = feature.ID
		}

		alert := models.MarineAlert{
			ID:              id,
			HazardType:      props.Event,
			Headline:        props.Headline,
			Description:     props.Description,
			Severity:        mapSeverity(props.Severity),
			Urgency:         props.Urgency,
			AreaDescription: props.AreaDesc,
			Effective:       firstTime(props.Effective, props.Onset),
			Expires:         firstTime(props.Ends, props.Expires),
			Source:          ProviderName,
		}
		if alert.IsMarine() {
			alerts = append(alerts, alert)
		}
	}
	return models.DedupeAlerts(alerts), nil
}

func firstTime(values ...string) time.Time {
	for _, v := range values {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func mapSeverity(s string) models.AlertSeverity {
	switch s {
	case "Extreme":
		return models.SeverityExtreme
	case "Severe":
		return models.SeveritySevere
	case "Moderate":
		return models.SeverityModerate
	case "Minor":
		return models.SeverityMinor
	default:
		return models.SeverityUnknown
	}
}
