package models

import "time"

// WeatherSnapshot is a point-in-time set of marine weather fields for a
// location. Optional fields are nil when the provider did not report them.
type WeatherSnapshot struct {
	Location   Location  `json:"location"`
	Timestamp  time.Time `json:"timestamp"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`

	Temperature   *float64 `json:"temperature,omitempty"` // °C air
	WindSpeed     float64  `json:"wind_speed"`            // m/s
	WindDirection float64  `json:"wind_direction"`        // degrees true
	WindGust      *float64 `json:"wind_gust,omitempty"`   // m/s
	Pressure      *float64 `json:"pressure,omitempty"`    // hPa, sea level
	Visibility    *float64 `json:"visibility,omitempty"`  // km

	WaveHeight       *float64 `json:"wave_height,omitempty"`       // m
	SwellHeight      *float64 `json:"swell_height,omitempty"`      // m
	SwellPeriod      *float64 `json:"swell_period,omitempty"`      // s
	CurrentSpeed     *float64 `json:"current_speed,omitempty"`     // m/s
	CurrentDirection *float64 `json:"current_direction,omitempty"` // degrees
	WaterTemperature *float64 `json:"water_temperature,omitempty"` // °C
}

// WeatherForecast is a sequence of snapshots issued together.
type WeatherForecast struct {
	Location Location          `json:"location"`
	Source   string            `json:"source"`
	IssuedAt time.Time         `json:"issued_at"`
	Horizon  time.Duration     `json:"horizon"`
	Periods  []WeatherSnapshot `json:"periods"`
}

// MeteorologicalData is the latest meteorological observation from a tide
// station's own sensors.
type MeteorologicalData struct {
	StationID      string    `json:"station_id"`
	ObservedAt     time.Time `json:"observed_at"`
	AirTemperature *float64  `json:"air_temperature,omitempty"` // °C
	AirPressure    *float64  `json:"air_pressure,omitempty"`    // hPa
	WindSpeed      *float64  `json:"wind_speed,omitempty"`      // m/s
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// ValueOr dereferences p, returning def when p is nil.
func ValueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// WindData represents wind conditions in marine text format
type WindData struct {
	Direction string  // e.g., "W", "NW", "Variable"
	SpeedMin  float64 // knots
	SpeedMax  float64 // knots
	GustSpeed float64 // knots (0 if no gusts)
	HasGust   bool
	RawText   string
}

// WaveComponent represents a single wave/swell component
type WaveComponent struct {
	Direction string  // e.g., "S", "W", "NW"
	Height    float64 // feet
	Period    int     // seconds
}

// SeaState represents overall sea conditions
type SeaState struct {
	HeightMin  float64 // feet
	HeightMax  float64 // feet
	Components []WaveComponent
	RawText    string
}

// MarineTextPeriod is one period of a zone's marine text forecast.
type MarineTextPeriod struct {
	Name    string
	Wind    WindData
	Seas    SeaState
	RawText string
}

// Knots and feet conversions used by the text product parser.
const (
	MetersPerSecondPerKnot = 0.514444
	MetersPerFoot          = 0.3048
)
