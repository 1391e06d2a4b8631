package models

import "testing"

func TestValueOr(t *testing.T) {
	if got := ValueOr(nil, 1013.25); got != 1013.25 {
		t.Errorf("ValueOr(nil) = %v, want default", got)
	}
	if got := ValueOr(Float(1020), 1013.25); got != 1020 {
		t.Errorf("ValueOr(1020) = %v, want 1020", got)
	}
}

func TestLocation_Valid(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
		want bool
	}{
		{"chatham", Location{41.68, -69.95}, true},
		{"north pole", Location{90, 0}, true},
		{"latitude too large", Location{91, 0}, false},
		{"longitude too small", Location{0, -181}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.loc.Valid(); got != tt.want {
				t.Errorf("Location.Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLocation_Key(t *testing.T) {
	a := Location{Latitude: 41.6834, Longitude: -69.9512}
	b := Location{Latitude: 41.6812, Longitude: -69.9541}

	if a.Key() != b.Key() {
		t.Errorf("nearby locations should share a key: %s vs %s", a.Key(), b.Key())
	}
	if a.Key() != "41.68,-69.95" {
		t.Errorf("Key() = %s, want 41.68,-69.95", a.Key())
	}
}
