package geo

import (
	"fmt"
	"math"

	"github.com/jonas-p/go-shp"
	"github.com/ngmaloney/marine-depth/internal/models"
)

// Coastline is a set of shoreline polylines used to decide whether a point is
// near the coast. It is a coarse heuristic, not a bathymetric model.
type Coastline struct {
	parts []coastPart
}

type coastPart struct {
	box    BoundingBox
	points []models.Location
}

// NewCoastline builds a coastline from polylines given as ordered points.
func NewCoastline(lines [][]models.Location) *Coastline {
	c := &Coastline{}
	for _, line := range lines {
		c.addPart(line)
	}
	return c
}

func (c *Coastline) addPart(points []models.Location) {
	if len(points) == 0 {
		return
	}
	box := BoundingBox{MinLat: 90, MaxLat: -90, MinLon: 180, MaxLon: -180}
	for _, p := range points {
		box.MinLat = math.Min(box.MinLat, p.Latitude)
		box.MaxLat = math.Max(box.MaxLat, p.Latitude)
		box.MinLon = math.Min(box.MinLon, p.Longitude)
		box.MaxLon = math.Max(box.MaxLon, p.Longitude)
	}
	c.parts = append(c.parts, coastPart{box: box, points: points})
}

// Parts returns the number of polylines loaded.
func (c *Coastline) Parts() int {
	return len(c.parts)
}

// LoadCoastline reads polyline or polygon geometry from a shapefile.
func LoadCoastline(path string) (*Coastline, error) {
	shape, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening shapefile: %w", err)
	}
	defer shape.Close()

	c := &Coastline{}
	for shape.Next() {
		_, p := shape.Shape()

		var parts []int32
		var points []shp.Point
		switch g := p.(type) {
		case *shp.PolyLine:
			parts, points = g.Parts, g.Points
		case *shp.Polygon:
			parts, points = g.Parts, g.Points
		default:
			continue
		}

		for partIdx := 0; partIdx < len(parts); partIdx++ {
			startIdx := int(parts[partIdx])
			endIdx := len(points)
			if partIdx+1 < len(parts) {
				endIdx = int(parts[partIdx+1])
			}

			line := make([]models.Location, 0, endIdx-startIdx)
			for i := startIdx; i < endIdx; i++ {
				line = append(line, models.Location{Latitude: points[i].Y, Longitude: points[i].X})
			}
			c.addPart(line)
		}
	}

	if len(c.parts) == 0 {
		return nil, fmt.Errorf("no line geometry in %s", path)
	}
	return c, nil
}

// DistanceKm returns the distance from loc to the nearest coastline segment.
// Only parts whose box lies within searchKm are examined; +Inf means none did.
func (c *Coastline) DistanceKm(loc models.Location, searchKm float64) float64 {
	search := BoxAround(loc, searchKm)
	best := math.Inf(1)

	for _, part := range c.parts {
		if !part.box.Intersects(search) {
			continue
		}
		if len(part.points) == 1 {
			best = math.Min(best, DistanceKm(loc, part.points[0]))
			continue
		}
		for i := 0; i+1 < len(part.points); i++ {
			d := segmentDistanceKm(loc, part.points[i], part.points[i+1])
			if d < best {
				best = d
			}
		}
	}
	return best
}

// IsCoastal reports whether loc lies within bandKm of the coastline.
func (c *Coastline) IsCoastal(loc models.Location, bandKm float64) bool {
	if c == nil {
		return false
	}
	return c.DistanceKm(loc, bandKm) <= bandKm
}

// segmentDistanceKm projects onto a local equirectangular plane centred on p.
// Accurate enough for the few-kilometre distances the coastal band uses.
func segmentDistanceKm(p, a, b models.Location) float64 {
	cosLat := math.Cos(p.Latitude * math.Pi / 180)
	ax := lonDiff(a.Longitude, p.Longitude) * kmPerDegree * cosLat
	ay := (a.Latitude - p.Latitude) * kmPerDegree
	bx := lonDiff(b.Longitude, p.Longitude) * kmPerDegree * cosLat
	by := (b.Latitude - p.Latitude) * kmPerDegree

	dx, dy := bx-ax, by-ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = -(ax*dx + ay*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := ax+t*dx, ay+t*dy
	return math.Sqrt(cx*cx + cy*cy)
}

// lonDiff returns a−b in degrees, taking the short way round.
func lonDiff(a, b float64) float64 {
	return math.Mod(a-b+540, 360) - 180
}

// DefaultCoastline is a hand-drawn outline of the contiguous US shoreline,
// used when no coastline shapefile is configured.
func DefaultCoastline() *Coastline {
	return NewCoastline([][]models.Location{
		{ // Atlantic: Maine to Florida Keys
			{Latitude: 44.80, Longitude: -66.95}, {Latitude: 43.66, Longitude: -70.25},
			{Latitude: 42.36, Longitude: -71.05}, {Latitude: 41.68, Longitude: -69.95},
			{Latitude: 41.52, Longitude: -71.32}, {Latitude: 40.57, Longitude: -73.97},
			{Latitude: 39.36, Longitude: -74.43}, {Latitude: 38.93, Longitude: -74.92},
			{Latitude: 36.85, Longitude: -75.98}, {Latitude: 35.22, Longitude: -75.53},
			{Latitude: 34.69, Longitude: -76.67}, {Latitude: 32.78, Longitude: -79.93},
			{Latitude: 32.08, Longitude: -81.09}, {Latitude: 30.33, Longitude: -81.40},
			{Latitude: 28.39, Longitude: -80.60}, {Latitude: 26.71, Longitude: -80.04},
			{Latitude: 25.76, Longitude: -80.13}, {Latitude: 24.55, Longitude: -81.80},
		},
		{ // Gulf: Florida Keys to Texas
			{Latitude: 24.55, Longitude: -81.80}, {Latitude: 25.14, Longitude: -81.09},
			{Latitude: 26.64, Longitude: -82.07}, {Latitude: 27.77, Longitude: -82.64},
			{Latitude: 29.73, Longitude: -84.98}, {Latitude: 30.40, Longitude: -87.21},
			{Latitude: 30.24, Longitude: -88.08}, {Latitude: 29.15, Longitude: -89.25},
			{Latitude: 29.51, Longitude: -92.30}, {Latitude: 29.31, Longitude: -94.79},
			{Latitude: 27.80, Longitude: -97.39}, {Latitude: 25.96, Longitude: -97.15},
		},
		{ // Pacific: San Diego to Neah Bay
			{Latitude: 32.53, Longitude: -117.12}, {Latitude: 32.72, Longitude: -117.17},
			{Latitude: 33.74, Longitude: -118.29}, {Latitude: 34.40, Longitude: -119.69},
			{Latitude: 34.45, Longitude: -120.47}, {Latitude: 35.37, Longitude: -120.86},
			{Latitude: 36.60, Longitude: -121.89}, {Latitude: 37.81, Longitude: -122.48},
			{Latitude: 38.96, Longitude: -123.74}, {Latitude: 40.80, Longitude: -124.16},
			{Latitude: 42.05, Longitude: -124.27}, {Latitude: 43.37, Longitude: -124.22},
			{Latitude: 46.25, Longitude: -124.05}, {Latitude: 47.91, Longitude: -124.64},
			{Latitude: 48.38, Longitude: -124.72},
		},
	})
}
