package models

import (
	"sort"
	"time"
)

// TideType represents whether a tide is high or low
type TideType string

const (
	TideHigh TideType = "H"
	TideLow  TideType = "L"
)

// TidePrediction is a predicted water height at a station. Height is metres
// relative to MLLW (Mean Lower Low Water). Type is empty for interval
// predictions that are not a high or low.
type TidePrediction struct {
	StationID string    `json:"station_id"`
	Time      time.Time `json:"time"`
	Height    float64   `json:"height"`
	Type      TideType  `json:"type,omitempty"`
}

// WaterLevel is an observed water height at a station.
type WaterLevel struct {
	StationID string    `json:"station_id"`
	Time      time.Time `json:"time"`
	Height    float64   `json:"height"`
	Sigma     float64   `json:"sigma"`
	Quality   string    `json:"quality"` // "v" verified, "p" preliminary
}

// Verified reports whether the observation has passed NOAA quality control.
func (w WaterLevel) Verified() bool {
	return w.Quality == "v"
}

// TimeWindow is a closed time interval.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether other lies entirely inside w.
func (w TimeWindow) Contains(other TimeWindow) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// Includes reports whether t falls inside the window.
func (w TimeWindow) Includes(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// WindowAround returns the window [t-before, t+after].
func WindowAround(t time.Time, before, after time.Duration) TimeWindow {
	return TimeWindow{Start: t.Add(-before), End: t.Add(after)}
}

// TideData contains tide predictions for a station
type TideData struct {
	StationID   string           `json:"station_id"`
	StationName string           `json:"station_name,omitempty"`
	Predictions []TidePrediction `json:"predictions"` // Ordered by time
	UpdatedAt   time.Time        `json:"updated_at"`
}

// EventsForDay returns high/low events for a specific date
func (td *TideData) EventsForDay(date time.Time) []TidePrediction {
	var events []TidePrediction
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	for _, p := range td.Predictions {
		if p.Type == "" {
			continue
		}
		if p.Time.After(startOfDay) && p.Time.Before(endOfDay) {
			events = append(events, p)
		}
	}
	return events
}

// NextEvent returns the first high or low after t, or nil.
func (td *TideData) NextEvent(t time.Time) *TidePrediction {
	for i := range td.Predictions {
		p := td.Predictions[i]
		if p.Type != "" && p.Time.After(t) {
			return &p
		}
	}
	return nil
}

// SortPredictions orders predictions by time in place.
func SortPredictions(p []TidePrediction) {
	sort.Slice(p, func(i, j int) bool { return p[i].Time.Before(p[j].Time) })
}
