package models

// Station types as understood by the NOAA metadata API.
const (
	StationTypeTidePredictions = "tidepredictions"
	StationTypeWaterLevels     = "waterlevels"
)

// Station is a tide reference station. Stations are immutable once fetched
// and only refreshed when the cached copy expires.
type Station struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Location      Location `json:"location"`
	Region        string   `json:"region"`
	Timezone      string   `json:"timezone"`
	ReferenceType string   `json:"reference_type"` // "R" reference, "S" subordinate
	Type          string   `json:"type"`
}

// IsReference reports whether the station publishes harmonic predictions
// of its own rather than offsets from another station.
func (s Station) IsReference() bool {
	return s.ReferenceType == "R"
}
