package noaa

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngmaloney/marine-depth/internal/models"
)

type zonesResponse struct {
	Features []struct {
		Properties struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"properties"`
	} `json:"features"`
}

// MarineZone finds the marine forecast zone (e.g. ANZ335) covering loc.
func (c *WeatherClient) MarineZone(ctx context.Context, loc models.Location) (string, error) {
	if zone, ok := c.zoneFor(loc); ok {
		return zone, nil
	}

	url := fmt.Sprintf("%s/zones?type=forecast&point=%.4f,%.4f", c.baseURL, loc.Latitude, loc.Longitude)
	var resp zonesResponse
	if err := getJSON(ctx, c.httpClient, url, &resp); err != nil {
		return "", fmt.Errorf("fetching zones: %w", err)
	}

	for _, feature := range resp.Features {
		name := strings.ToLower(feature.Properties.Name)
		if !strings.Contains(name, "waters") &&
			!strings.Contains(name, "marine") &&
			!strings.Contains(name, "offshore") &&
			!strings.Contains(name, "coastal") &&
			!strings.Contains(name, "sound") &&
			!strings.Contains(name, "bay") {
			continue
		}
		// IDs are URLs ending in the zone code
		parts := strings.Split(feature.Properties.ID, "/")
		zone := parts[len(parts)-1]
		c.rememberZone(loc, zone)
		return zone, nil
	}

	return "", fmt.Errorf("no marine zone found for location %s", loc)
}

func (c *WeatherClient) zoneFor(loc models.Location) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	zone, ok := c.zones[loc.Key()]
	return zone, ok
}

func (c *WeatherClient) rememberZone(loc models.Location, zone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones[loc.Key()] = zone
}
