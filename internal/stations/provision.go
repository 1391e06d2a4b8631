package stations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
)

// DefaultMetadataURL is the NOAA CO-OPS metadata API.
const DefaultMetadataURL = "https://api.tidesandcurrents.noaa.gov/mdapi/prod/webapi"

// Provisioner downloads the station list from the NOAA metadata API into the
// local catalogue.
type Provisioner struct {
	baseURL    string
	httpClient *http.Client
	repo       *Repository
	logger     *slog.Logger
}

// NewProvisioner creates a provisioner. An empty baseURL uses DefaultMetadataURL.
func NewProvisioner(baseURL string, repo *Repository, logger *slog.Logger) *Provisioner {
	if baseURL == "" {
		baseURL = DefaultMetadataURL
	}
	return &Provisioner{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		repo:       repo,
		logger:     logger,
	}
}

// mdapiStation is a station as returned by the metadata API. Coordinates
// have been seen as both JSON numbers and strings.
type mdapiStation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	State     string    `json:"state"`
	Latitude  flexFloat `json:"lat"`
	Longitude flexFloat `json:"lng"`
	Timezone  string    `json:"timezone"`
	Type      string    `json:"type"` // R or S for prediction stations
}

type stationResponse struct {
	Stations []mdapiStation `json:"stations"`
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// EnsureProvisioned downloads stations of stationType only when none are
// catalogued yet.
func (p *Provisioner) EnsureProvisioned(ctx context.Context, stationType string) (int, error) {
	n, err := p.repo.Count(ctx, stationType)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	return p.Provision(ctx, stationType)
}

// Provision fetches all stations of stationType and inserts the new ones.
func (p *Provisioner) Provision(ctx context.Context, stationType string) (int, error) {
	p.logger.Info("downloading tide stations", "type", stationType, "url", p.baseURL)

	stations, err := p.fetchStations(ctx, stationType)
	if err != nil {
		return 0, fmt.Errorf("fetching %s stations: %w", stationType, err)
	}

	inserted, err := p.repo.Insert(ctx, stations)
	if err != nil {
		return 0, fmt.Errorf("building station catalogue: %w", err)
	}

	p.logger.Info("tide stations provisioned", "type", stationType, "fetched", len(stations), "inserted", inserted)
	return inserted, nil
}

func (p *Provisioner) fetchStations(ctx context.Context, stationType string) ([]models.Station, error) {
	apiURL := fmt.Sprintf("%s/stations.json?type=%s", p.baseURL, stationType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching stations: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NOAA MDAPI returned status %d", resp.StatusCode)
	}

	var stationResp stationResponse
	if err := json.NewDecoder(resp.Body).Decode(&stationResp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	out := make([]models.Station, 0, len(stationResp.Stations))
	for _, s := range stationResp.Stations {
		if s.ID == "" {
			continue
		}
		out = append(out, models.Station{
			ID:   s.ID,
			Name: s.Name,
			Location: models.Location{
				Latitude:  float64(s.Latitude),
				Longitude: float64(s.Longitude),
			},
			Region:        s.State,
			Timezone:      s.Timezone,
			ReferenceType: s.Type,
			Type:          stationType,
		})
	}
	return out, nil
}
