package stations

import (
	"context"
	"errors"
	"testing"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/store"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	repo := NewRepository(s.DB())
	// Boston, New York, Miami, plus a water level station at Boston.
	_, err = repo.Insert(context.Background(), []models.Station{
		{ID: "8443970", Name: "Boston", Region: "MA", Location: models.Location{Latitude: 42.3539, Longitude: -71.0503}, ReferenceType: "R", Type: models.StationTypeTidePredictions},
		{ID: "8518750", Name: "The Battery", Region: "NY", Location: models.Location{Latitude: 40.7006, Longitude: -74.0142}, ReferenceType: "R", Type: models.StationTypeTidePredictions},
		{ID: "8723214", Name: "Virginia Key", Region: "FL", Location: models.Location{Latitude: 25.7314, Longitude: -80.1618}, ReferenceType: "R", Type: models.StationTypeTidePredictions},
		{ID: "8443970", Name: "Boston", Region: "MA", Location: models.Location{Latitude: 42.3539, Longitude: -71.0503}, Type: models.StationTypeWaterLevels},
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return repo
}

func TestRepository_Nearby(t *testing.T) {
	repo := newTestRepository(t)

	tests := []struct {
		name      string
		loc       models.Location
		radiusKm  float64
		wantCount int
		wantFirst string
	}{
		{"at boston", models.Location{Latitude: 42.35, Longitude: -71.05}, 5, 1, "8443970"},
		{"at the battery", models.Location{Latitude: 40.70, Longitude: -74.01}, 5, 1, "8518750"},
		{"open ocean", models.Location{Latitude: 0, Longitude: 0}, 20, 0, ""},
		{"western long island sound", models.Location{Latitude: 41.0, Longitude: -73.0}, 400, 2, "8518750"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Nearby(context.Background(), tt.loc, tt.radiusKm, models.StationTypeTidePredictions)
			if err != nil {
				t.Fatalf("Nearby() error = %v", err)
			}
			if len(got) != tt.wantCount {
				t.Fatalf("Nearby() returned %d stations, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].ID != tt.wantFirst {
				t.Errorf("Nearby()[0].ID = %s, want %s", got[0].ID, tt.wantFirst)
			}
			for i := 1; i < len(got); i++ {
				if got[i].DistanceKm < got[i-1].DistanceKm {
					t.Errorf("Nearby() not sorted by distance: %v", got)
				}
			}
		})
	}
}

func TestRepository_NearbyAcrossAntimeridian(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.Insert(context.Background(), []models.Station{
		{ID: "9461710", Name: "Aleutian West", Region: "AK", Location: models.Location{Latitude: 51.9, Longitude: -179.9}, ReferenceType: "R", Type: models.StationTypeTidePredictions},
		{ID: "9461711", Name: "Aleutian East", Region: "AK", Location: models.Location{Latitude: 51.9, Longitude: 179.95}, ReferenceType: "S", Type: models.StationTypeTidePredictions},
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	tests := []struct {
		name      string
		loc       models.Location
		wantFirst string
	}{
		{"from the eastern hemisphere", models.Location{Latitude: 51.9, Longitude: 179.9}, "9461711"},
		{"from the western hemisphere", models.Location{Latitude: 51.9, Longitude: -179.85}, "9461710"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Nearby(context.Background(), tt.loc, 50, models.StationTypeTidePredictions)
			if err != nil {
				t.Fatalf("Nearby() error = %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("Nearby() returned %d stations, want both sides of 180", len(got))
			}
			if got[0].ID != tt.wantFirst {
				t.Errorf("Nearby()[0].ID = %s, want %s", got[0].ID, tt.wantFirst)
			}
		})
	}
}

func TestRepository_NearbyFiltersByType(t *testing.T) {
	repo := newTestRepository(t)

	got, err := repo.Nearby(context.Background(), models.Location{Latitude: 42.35, Longitude: -71.05}, 5, models.StationTypeWaterLevels)
	if err != nil {
		t.Fatalf("Nearby() error = %v", err)
	}
	if len(got) != 1 || got[0].Type != models.StationTypeWaterLevels {
		t.Errorf("Nearby() = %+v, want only the water level station", got)
	}
}

func TestRepository_ByID(t *testing.T) {
	repo := newTestRepository(t)

	s, err := repo.ByID(context.Background(), "8518750")
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if s.Name != "The Battery" || s.Region != "NY" || !s.IsReference() {
		t.Errorf("ByID() = %+v", s)
	}

	_, err = repo.ByID(context.Background(), "0000000")
	if !errors.Is(err, ErrStationNotFound) {
		t.Errorf("ByID() unknown error = %v, want ErrStationNotFound", err)
	}
}

func TestRepository_InsertIgnoresDuplicates(t *testing.T) {
	repo := newTestRepository(t)

	n, err := repo.Insert(context.Background(), []models.Station{
		{ID: "8443970", Name: "Boston again", Type: models.StationTypeTidePredictions},
		{ID: "8447435", Name: "Chatham", Region: "MA", Location: models.Location{Latitude: 41.6885, Longitude: -69.9510}, Type: models.StationTypeTidePredictions},
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Insert() inserted %d, want 1", n)
	}

	count, err := repo.Count(context.Background(), models.StationTypeTidePredictions)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 4 {
		t.Errorf("Count() = %d, want 4", count)
	}
}
