package models

import (
	"testing"
	"time"
)

func TestMarineAlert_IsActive(t *testing.T) {
	now := time.Date(2025, 11, 27, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		alert MarineAlert
		want  bool
	}{
		{
			name: "currently active alert",
			alert: MarineAlert{
				Effective: now.Add(-1 * time.Hour),
				Expires:   now.Add(2 * time.Hour),
			},
			want: true,
		},
		{
			name: "expired alert",
			alert: MarineAlert{
				Effective: now.Add(-3 * time.Hour),
				Expires:   now.Add(-1 * time.Hour),
			},
			want: false,
		},
		{
			name: "future alert",
			alert: MarineAlert{
				Effective: now.Add(1 * time.Hour),
				Expires:   now.Add(3 * time.Hour),
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.alert.IsActive(now)
			if got != tt.want {
				t.Errorf("MarineAlert.IsActive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarineAlert_IsMarine(t *testing.T) {
	tests := []struct {
		name  string
		event string
		want  bool
	}{
		{"small craft advisory", "Small Craft Advisory", true},
		{"gale warning", "Gale Warning", true},
		{"special marine warning", "Special Marine Warning", true},
		{"hazardous seas", "Hazardous Seas Warning", true},
		{"not marine - tornado", "Tornado Warning", false},
		{"not marine - flood", "Flood Warning", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := MarineAlert{HazardType: tt.event}
			got := alert.IsMarine()
			if got != tt.want {
				t.Errorf("MarineAlert.IsMarine() for %q = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestMarineAlert_IsCritical(t *testing.T) {
	for sev, want := range map[AlertSeverity]bool{
		SeverityExtreme:  true,
		SeveritySevere:   true,
		SeverityModerate: false,
		SeverityMinor:    false,
		SeverityUnknown:  false,
	} {
		a := MarineAlert{Severity: sev}
		if got := a.IsCritical(); got != want {
			t.Errorf("IsCritical() for %s = %v, want %v", sev, got, want)
		}
	}
}

func TestDedupeAlerts(t *testing.T) {
	in := []MarineAlert{{ID: "a"}, {ID: "b"}, {ID: "a"}, {ID: "c"}, {ID: "b"}}
	got := DedupeAlerts(in)

	if len(got) != 3 {
		t.Fatalf("DedupeAlerts() returned %d alerts, want 3", len(got))
	}
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id {
			t.Errorf("DedupeAlerts()[%d].ID = %s, want %s", i, got[i].ID, id)
		}
	}
}
