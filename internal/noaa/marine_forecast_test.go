package noaa

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ngmaloney/marine-depth/internal/models"
)

func TestParseMarineText(t *testing.T) {
	periods, err := ParseMarineText(string(fixture(t, "anz335.txt")))
	if err != nil {
		t.Fatalf("ParseMarineText() error = %v", err)
	}

	var names []string
	for _, p := range periods {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"TODAY", "TONIGHT", "MON"}, names); diff != "" {
		t.Errorf("period names mismatch (-want +got):\n%s", diff)
	}

	today := periods[0]
	wantWind := models.WindData{
		Direction: "SW",
		SpeedMin:  15,
		SpeedMax:  20,
		GustSpeed: 25,
		HasGust:   true,
		RawText:   "SW winds 15 to 20 kt",
	}
	if diff := cmp.Diff(wantWind, today.Wind); diff != "" {
		t.Errorf("TODAY wind mismatch (-want +got):\n%s", diff)
	}
	if today.Seas.HeightMin != 3 || today.Seas.HeightMax != 5 {
		t.Errorf("TODAY seas = %v-%v, want 3-5", today.Seas.HeightMin, today.Seas.HeightMax)
	}

	tonight := periods[1]
	wantComponents := []models.WaveComponent{
		{Direction: "S", Height: 3, Period: 7},
		{Direction: "E", Height: 1, Period: 10},
	}
	if diff := cmp.Diff(wantComponents, tonight.Seas.Components); diff != "" {
		t.Errorf("TONIGHT components mismatch (-want +got):\n%s", diff)
	}

	mon := periods[2]
	if mon.Wind.Direction != "NW" || mon.Wind.SpeedMax != 10 {
		t.Errorf("MON wind = %+v, want NW 10", mon.Wind)
	}
	if mon.Seas.HeightMax != 1 {
		t.Errorf("MON seas max = %v, want 1", mon.Seas.HeightMax)
	}
}

func TestParseMarineText_Empty(t *testing.T) {
	if _, err := ParseMarineText("no periods here"); err == nil {
		t.Error("expected error for text without periods")
	}
}

func TestApplySeas(t *testing.T) {
	var snap models.WeatherSnapshot
	applySeas(&snap, models.SeaState{
		HeightMin:  2,
		HeightMax:  4,
		Components: []models.WaveComponent{{Direction: "S", Height: 3, Period: 7}},
	})

	if !approx(models.ValueOr(snap.WaveHeight, 0), 3*models.MetersPerFoot) {
		t.Errorf("WaveHeight = %v", snap.WaveHeight)
	}
	if !approx(models.ValueOr(snap.SwellHeight, 0), 3*models.MetersPerFoot) {
		t.Errorf("SwellHeight = %v", snap.SwellHeight)
	}
	if models.ValueOr(snap.SwellPeriod, 0) != 7 {
		t.Errorf("SwellPeriod = %v, want 7", snap.SwellPeriod)
	}
}

func TestZoneType(t *testing.T) {
	tests := []struct {
		zone, wantType, wantPrefix string
	}{
		{"ANZ335", "coastal", "an"},
		{"gmz250", "coastal", "gm"},
		{"PZZ530", "coastal", "pz"},
		{"AMZ088", "offshore", "am"},
	}
	for _, tt := range tests {
		if got := zoneType(tt.zone); got != tt.wantType {
			t.Errorf("zoneType(%s) = %s, want %s", tt.zone, got, tt.wantType)
		}
		if got := zonePrefix(tt.zone); got != tt.wantPrefix {
			t.Errorf("zonePrefix(%s) = %s, want %s", tt.zone, got, tt.wantPrefix)
		}
	}
}

func TestMarineText_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client := NewWeatherClient(server.URL, server.URL, nil)
	if _, err := client.MarineText(context.Background(), "ANZ999"); err == nil {
		t.Error("expected error for missing product")
	}
}
