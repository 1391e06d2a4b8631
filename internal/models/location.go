package models

import (
	"fmt"
	"math"
)

// Location is a WGS84 coordinate in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the coordinate is inside the legal lat/lon ranges.
func (l Location) Valid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// Rounded returns the location rounded to the given number of decimal places.
// Two decimals is roughly a 1km grid, which is what cache keys use.
func (l Location) Rounded(places int) Location {
	p := math.Pow(10, float64(places))
	return Location{
		Latitude:  math.Round(l.Latitude*p) / p,
		Longitude: math.Round(l.Longitude*p) / p,
	}
}

// Key formats the rounded location for use in cache keys.
func (l Location) Key() string {
	r := l.Rounded(2)
	return fmt.Sprintf("%.2f,%.2f", r.Latitude, r.Longitude)
}

func (l Location) String() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}
