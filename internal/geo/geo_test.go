package geo

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		delta                  float64
	}{
		{"same point", 41.68, -69.95, 41.68, -69.95, 0, 0.0001},
		{"one degree of latitude", 40.0, -70.0, 41.0, -70.0, 111.19, 0.1},
		{"boston to chatham", 42.3601, -71.0589, 41.6821, -69.9598, 118.0, 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.want, got, tt.delta)
		})
	}
}

func TestDistanceMeters(t *testing.T) {
	a := models.Location{Latitude: 40.0, Longitude: -70.0}
	b := models.Location{Latitude: 40.1, Longitude: -70.0}
	assert.InDelta(t, 11119.5, DistanceMeters(a, b), 5)
	assert.InDelta(t, DistanceMeters(a, b), DistanceMeters(b, a), 1e-9)
}

func TestBoxAround(t *testing.T) {
	center := models.Location{Latitude: 41.0, Longitude: -70.0}
	box := BoxAround(center, 50)

	assert.True(t, box.Contains(center))
	// A point 49km north must be inside the box.
	assert.True(t, box.Contains(models.Location{Latitude: 41.0 + 49/111.19, Longitude: -70.0}))
	assert.False(t, box.Contains(models.Location{Latitude: 43.0, Longitude: -70.0}))
}

func TestBoundingBox_Antimeridian(t *testing.T) {
	east := BoxAround(models.Location{Latitude: 51.9, Longitude: 179.9}, 50)
	assert.Len(t, east.LonRanges(), 2)
	assert.True(t, east.Contains(models.Location{Latitude: 51.9, Longitude: -179.9}))
	assert.True(t, east.Contains(models.Location{Latitude: 51.9, Longitude: 179.5}))
	assert.False(t, east.Contains(models.Location{Latitude: 51.9, Longitude: 0}))

	west := BoxAround(models.Location{Latitude: 51.9, Longitude: -179.9}, 50)
	assert.Len(t, west.LonRanges(), 2)
	assert.True(t, west.Contains(models.Location{Latitude: 51.9, Longitude: 179.9}))

	assert.Len(t, BoxAround(models.Location{Latitude: 41, Longitude: -70}, 50).LonRanges(), 1)
	assert.Equal(t, [][2]float64{{-180, 180}}, BoxAround(models.Location{Latitude: 89.99, Longitude: 0}, 500).LonRanges())

	c := NewCoastline([][]models.Location{
		{{Latitude: 52.0, Longitude: -179.95}, {Latitude: 52.0, Longitude: -179.5}},
	})
	got := c.DistanceKm(models.Location{Latitude: 51.9, Longitude: 179.95}, 50)
	assert.Less(t, got, 15.0, "coast just across 180 is found")
}

func TestCoastline_DistanceKm(t *testing.T) {
	c := NewCoastline([][]models.Location{
		{{Latitude: 41.1, Longitude: -71.0}, {Latitude: 41.1, Longitude: -69.0}},
	})

	got := c.DistanceKm(models.Location{Latitude: 41.0, Longitude: -70.0}, 50)
	assert.InDelta(t, 11.13, got, 0.1)

	assert.True(t, math.IsInf(c.DistanceKm(models.Location{Latitude: 30.0, Longitude: -60.0}, 5), 1))
}

func TestCoastline_IsCoastal(t *testing.T) {
	c := DefaultCoastline()

	tests := []struct {
		name string
		loc  models.Location
		want bool
	}{
		{"chatham harbor", models.Location{Latitude: 41.68, Longitude: -69.95}, true},
		{"inside cape cod bay shoreline band", models.Location{Latitude: 41.70, Longitude: -69.97}, true},
		{"georges bank", models.Location{Latitude: 41.0, Longitude: -67.5}, false},
		{"mid atlantic", models.Location{Latitude: 35.0, Longitude: -60.0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsCoastal(tt.loc, 5))
		})
	}
}

func TestCoastline_NilIsNeverCoastal(t *testing.T) {
	var c *Coastline
	assert.False(t, c.IsCoastal(models.Location{Latitude: 41.68, Longitude: -69.95}, 5))
}

func TestLoadCoastline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coast.shp")

	w, err := shp.Create(path, shp.POLYLINE)
	require.NoError(t, err)
	w.Write(shp.NewPolyLine([][]shp.Point{
		{{X: -71.0, Y: 41.1}, {X: -69.0, Y: 41.1}},
		{{X: -120.0, Y: 34.0}, {X: -121.0, Y: 35.0}},
	}))
	w.Close()

	c, err := LoadCoastline(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Parts())
	assert.True(t, c.IsCoastal(models.Location{Latitude: 41.12, Longitude: -70.0}, 5))
	assert.False(t, c.IsCoastal(models.Location{Latitude: 40.5, Longitude: -70.0}, 5))
}

func TestLoadCoastline_MissingFile(t *testing.T) {
	_, err := LoadCoastline(filepath.Join(t.TempDir(), "missing.shp"))
	assert.Error(t, err)
}

func TestProvisionCoastline(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create(shapefileBase + ".shp")
	require.NoError(t, err)
	_, err = f.Write([]byte("shape bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		_, _ = w.Write(buf.Bytes())
	}))
	defer server.Close()

	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	path, err := provisionCoastline(context.Background(), server.Client(), server.URL, dir, logger)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, shapefileBase+".shp"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "shape bytes", string(data))

	// Second call finds the file and does not download again.
	_, err = provisionCoastline(context.Background(), server.Client(), server.URL, dir, logger)
	require.NoError(t, err)
	assert.Equal(t, 1, requests)

	_, err = os.Stat(filepath.Join(dir, shapefileBase+".zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestUnzipFile_KeepsOnlyShapefileParts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bundle.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"ne/" + shapefileBase + ".shp", "ne/" + shapefileBase + ".dbf", "ne/README.html", "ne/" + shapefileBase + ".txt"} {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0644))

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, unzipFile(src, dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{shapefileBase + ".dbf", shapefileBase + ".shp"}, names)
}

func TestUnzipFile_NoShapefile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "empty.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, _ := zw.Create("README.txt")
	_, _ = f.Write([]byte("nothing here"))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(src, buf.Bytes(), 0644))

	assert.Error(t, unzipFile(src, dir))
}
