package correction

import (
	"fmt"
	"math"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
)

// Sub-score weights; they sum to 1.
const (
	weightAge           = 0.20
	weightDistance      = 0.20
	weightEnvironmental = 0.25
	weightSource        = 0.20
	weightInstrument    = 0.15
)

var sourceScores = map[models.ReadingSource]float64{
	models.SourceOfficial:     1.0,
	models.SourceCrowdsourced: 0.7,
	models.SourcePredicted:    0.4,
}

// CalculateQualityScore scores a reading in [0,1] and lists the conditions
// that lowered it.
func (e *Engine) CalculateQualityScore(reading models.DepthReading, tide models.TideCorrection, weather *models.WeatherSnapshot, now time.Time) models.QualityScore {
	var warnings []string

	ageHours := math.Max(0, now.Sub(reading.Timestamp).Hours())
	if ageHours > 6 {
		warnings = append(warnings, fmt.Sprintf("reading is %.1f hours old", ageHours))
	}

	distanceScore := 0.0
	if tide.StationID == "" {
		warnings = append(warnings, "no tide station within range")
	} else {
		km := tide.StationDistance / 1000
		distanceScore = math.Max(0, 1-km/50)
		if km > 20 {
			warnings = append(warnings, fmt.Sprintf("tide station %s is %.1f km away", tide.StationID, km))
		}
	}

	envScore := 0.5
	if weather != nil {
		envScore = 1.0
		if weather.WindSpeed > 10 {
			envScore -= 0.3
			warnings = append(warnings, fmt.Sprintf("high wind %.1f m/s", weather.WindSpeed))
		}
		if waves := models.ValueOr(weather.WaveHeight, 0); waves > 2 {
			envScore -= 0.3
			warnings = append(warnings, fmt.Sprintf("high waves %.1f m", waves))
		}
		if weather.Visibility != nil && *weather.Visibility < 1 {
			envScore -= 0.2
		}
		envScore = clamp(envScore, 0, 1)
	}

	source, ok := sourceScores[reading.Source]
	if !ok {
		source = 0.5
	}
	if reading.Source == models.SourcePredicted {
		warnings = append(warnings, "depth is predicted, not measured")
	}

	if reading.Confidence < 0.7 {
		warnings = append(warnings, fmt.Sprintf("low instrument confidence %.2f", reading.Confidence))
	}

	factors := models.QualityFactors{
		Age:           math.Max(0, 1-ageHours/24),
		Distance:      distanceScore,
		Environmental: envScore,
		Source:        source,
		Instrument:    clamp(reading.Confidence, 0, 1),
	}
	score := weightAge*factors.Age +
		weightDistance*factors.Distance +
		weightEnvironmental*factors.Environmental +
		weightSource*factors.Source +
		weightInstrument*factors.Instrument

	return models.QualityScore{
		Score:    clamp(score, 0, 1),
		Factors:  factors,
		Warnings: warnings,
	}
}
