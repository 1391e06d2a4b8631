package models

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	SeverityExtreme  AlertSeverity = "Extreme"
	SeveritySevere   AlertSeverity = "Severe"
	SeverityModerate AlertSeverity = "Moderate"
	SeverityMinor    AlertSeverity = "Minor"
	SeverityUnknown  AlertSeverity = "Unknown"
)

// MarineAlert is a hazard alert for an area. Alerts are de-duplicated by ID.
type MarineAlert struct {
	ID              string        `json:"id"`
	HazardType      string        `json:"hazard_type"` // e.g., "Small Craft Advisory", "Gale Warning"
	Headline        string        `json:"headline"`
	Description     string        `json:"description"`
	Severity        AlertSeverity `json:"severity"`
	Urgency         string        `json:"urgency"`
	AreaDescription string        `json:"area_description"`
	Effective       time.Time     `json:"effective"`
	Expires         time.Time     `json:"expires"`
	Source          string        `json:"source"`
}

// IsActive checks if an alert is in effect at now
func (a *MarineAlert) IsActive(now time.Time) bool {
	return now.After(a.Effective) && now.Before(a.Expires)
}

var marineEvents = map[string]bool{
	"Small Craft Advisory":         true,
	"Gale Warning":                 true,
	"Storm Warning":                true,
	"Hurricane Force Wind Warning": true,
	"Special Marine Warning":       true,
	"Marine Weather Statement":     true,
	"Hazardous Seas Warning":       true,
}

// IsMarine returns true if the alert is marine-related
func (a *MarineAlert) IsMarine() bool {
	return marineEvents[a.HazardType]
}

// IsCritical reports whether the alert should bypass delivery throttling.
func (a *MarineAlert) IsCritical() bool {
	return a.Severity == SeverityExtreme || a.Severity == SeveritySevere
}

// DedupeAlerts drops alerts whose ID has already been seen, keeping order.
func DedupeAlerts(alerts []MarineAlert) []MarineAlert {
	seen := make(map[string]bool, len(alerts))
	out := make([]MarineAlert, 0, len(alerts))
	for _, a := range alerts {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
