package noaa

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ngmaloney/marine-depth/internal/models"
)

var (
	windRegex = regexp.MustCompile(`(?i)\b([NESW]+|variable)\s+(?:winds?\s+)?(?:around\s+)?(\d+)(?:\s+to\s+(\d+))?\s*kt`)
	gustRegex = regexp.MustCompile(`(?i)gusts?\s+(?:up\s+to\s+)?(\d+)\s*kt`)
	seasRegex = regexp.MustCompile(`(?i)(?:seas|waves)\s+(?:around\s+)?(\d+)(?:\s+to\s+(\d+))?\s*ft`)
	waveRegex = regexp.MustCompile(`(?i)\b([NESW]+)\s+(\d+)\s*ft\s+at\s+(\d+)\s+seconds?`)
)

// MarineText fetches and parses the NWS marine text product for a zone.
func (c *WeatherClient) MarineText(ctx context.Context, zone string) ([]models.MarineTextPeriod, error) {
	if zone == "" {
		return nil, fmt.Errorf("marine zone is required")
	}

	// The JSON API has no marine forecasts, so read the text product:
	// .../marine/coastal/an/anz254.txt
	url := fmt.Sprintf("%s/%s/%s/%s.txt",
		c.marineTextURL, zoneType(zone), zonePrefix(zone), strings.ToLower(zone))

	body, err := get(ctx, c.httpClient, url, "")
	if err != nil {
		return nil, fmt.Errorf("fetching marine text for zone %s: %w", zone, err)
	}
	return ParseMarineText(string(body))
}

func zoneType(zone string) string {
	zone = strings.ToUpper(zone)
	if strings.HasPrefix(zone, "AN") || strings.HasPrefix(zone, "GM") || strings.HasPrefix(zone, "PZ") {
		return "coastal"
	}
	return "offshore"
}

func zonePrefix(zone string) string {
	if len(zone) < 2 {
		return "an"
	}
	return strings.ToLower(zone[:2])
}

// ParseMarineText splits a marine text product into its forecast periods.
// Periods look like ".TONIGHT...SW winds 10 to 15 kt. Seas 2 to 4 ft."
// Headline blocks for advisories and warnings are skipped.
func ParseMarineText(text string) ([]models.MarineTextPeriod, error) {
	var periods []models.MarineTextPeriod
	for _, chunk := range strings.Split(text, "\n.") {
		chunk = strings.TrimSpace(chunk)
		name, body, ok := strings.Cut(chunk, "...")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		// the product header is multi-line; period names never are
		if name == "" || strings.HasPrefix(name, ".") || strings.Contains(name, "\n") {
			continue
		}
		upper := strings.ToUpper(name)
		if strings.HasPrefix(upper, "SYNOPSIS") ||
			strings.Contains(upper, "ADVISORY") ||
			strings.Contains(upper, "WARNING") ||
			strings.Contains(upper, "WATCH") {
			continue
		}

		body = strings.Join(strings.Fields(body), " ")
		if i := strings.Index(body, "$$"); i >= 0 {
			body = strings.TrimSpace(body[:i])
		}
		periods = append(periods, models.MarineTextPeriod{
			Name:    name,
			Wind:    parseWind(body),
			Seas:    parseSeas(body),
			RawText: body,
		})
	}

	if len(periods) == 0 {
		return nil, fmt.Errorf("no forecast periods found in text product")
	}
	return periods, nil
}

func parseWind(text string) models.WindData {
	match := windRegex.FindStringSubmatch(text)
	if match == nil {
		return models.WindData{}
	}
	speedMin, _ := strconv.ParseFloat(match[2], 64)
	speedMax := speedMin
	if match[3] != "" {
		speedMax, _ = strconv.ParseFloat(match[3], 64)
	}
	wind := models.WindData{
		Direction: strings.ToUpper(match[1]),
		SpeedMin:  speedMin,
		SpeedMax:  speedMax,
		RawText:   match[0],
	}
	if gust := gustRegex.FindStringSubmatch(text); gust != nil {
		wind.GustSpeed, _ = strconv.ParseFloat(gust[1], 64)
		wind.HasGust = true
	}
	return wind
}

func parseSeas(text string) models.SeaState {
	var seas models.SeaState
	if match := seasRegex.FindStringSubmatch(text); match != nil {
		seas.HeightMin, _ = strconv.ParseFloat(match[1], 64)
		seas.HeightMax = seas.HeightMin
		if match[2] != "" {
			seas.HeightMax, _ = strconv.ParseFloat(match[2], 64)
		}
		seas.RawText = match[0]
	}
	for _, match := range waveRegex.FindAllStringSubmatch(text, -1) {
		height, _ := strconv.ParseFloat(match[2], 64)
		period, _ := strconv.Atoi(match[3])
		seas.Components = append(seas.Components, models.WaveComponent{
			Direction: strings.ToUpper(match[1]),
			Height:    height,
			Period:    period,
		})
	}
	return seas
}

// applySeas copies the sea state of a text period onto a snapshot in SI units.
// Wave height is the midpoint of the forecast range; the first component, if
// any, is taken as the dominant swell.
func applySeas(s *models.WeatherSnapshot, seas models.SeaState) {
	if seas.HeightMax > 0 {
		h := (seas.HeightMin + seas.HeightMax) / 2 * models.MetersPerFoot
		s.WaveHeight = &h
	}
	if len(seas.Components) > 0 {
		c := seas.Components[0]
		s.SwellHeight = models.Float(c.Height * models.MetersPerFoot)
		s.SwellPeriod = models.Float(float64(c.Period))
	}
}
