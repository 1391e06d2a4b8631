// Package geo provides great-circle distance and coastline proximity helpers.
package geo

import (
	"math"

	"github.com/ngmaloney/marine-depth/internal/models"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.32
)

// HaversineKm calculates the great-circle distance in kilometres between two lat/lon points
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DistanceKm returns the haversine distance between two locations in kilometres.
func DistanceKm(a, b models.Location) float64 {
	return HaversineKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// DistanceMeters returns the haversine distance between two locations in metres.
func DistanceMeters(a, b models.Location) float64 {
	return DistanceKm(a, b) * 1000
}

// BoundingBox is a lat/lon rectangle.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// BoxAround returns a box that contains every point within radiusKm of loc,
// with a 50% margin so the haversine pass is the only real filter.
func BoxAround(loc models.Location, radiusKm float64) BoundingBox {
	latDelta := radiusKm / kmPerDegree * 1.5
	cosLat := math.Cos(loc.Latitude * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := radiusKm / (kmPerDegree * cosLat) * 1.5

	return BoundingBox{
		MinLat: loc.Latitude - latDelta,
		MaxLat: loc.Latitude + latDelta,
		MinLon: loc.Longitude - lonDelta,
		MaxLon: loc.Longitude + lonDelta,
	}
}

// LonRanges returns the box's longitude span as one range, or two when it
// crosses the antimeridian.
func (b BoundingBox) LonRanges() [][2]float64 {
	switch {
	case b.MaxLon-b.MinLon >= 360:
		return [][2]float64{{-180, 180}}
	case b.MinLon < -180:
		return [][2]float64{{b.MinLon + 360, 180}, {-180, b.MaxLon}}
	case b.MaxLon > 180:
		return [][2]float64{{b.MinLon, 180}, {-180, b.MaxLon - 360}}
	}
	return [][2]float64{{b.MinLon, b.MaxLon}}
}

// Contains reports whether loc is inside the box.
func (b BoundingBox) Contains(loc models.Location) bool {
	if loc.Latitude < b.MinLat || loc.Latitude > b.MaxLat {
		return false
	}
	for _, r := range b.LonRanges() {
		if loc.Longitude >= r[0] && loc.Longitude <= r[1] {
			return true
		}
	}
	return false
}

// Intersects reports whether two boxes overlap.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	if b.MinLat > o.MaxLat || b.MaxLat < o.MinLat {
		return false
	}
	for _, r := range b.LonRanges() {
		for _, q := range o.LonRanges() {
			if r[0] <= q[1] && r[1] >= q[0] {
				return true
			}
		}
	}
	return false
}
