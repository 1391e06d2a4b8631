// Package correction turns raw depth soundings into corrected depths with a
// quality score, safety margin and reliability class.
package correction

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ngmaloney/marine-depth/internal/geo"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

const (
	// ObservedWindow is how close an observed water level must be to the
	// reading to be used directly.
	ObservedWindow = time.Hour

	// CoastalBandKm is the distance from shore inside which the salinity
	// correction applies.
	CoastalBandKm = 5.0

	standardPressure = 1013.25 // hPa
	referenceTemp    = 15.0    // °C
)

// Inputs is the tide and weather context for one reading. Any field may be
// empty; the engine degrades confidence rather than failing.
type Inputs struct {
	Station     *models.Station
	Predictions []models.TidePrediction
	Observed    []models.WaterLevel
	Weather     *models.WeatherSnapshot
	Met         *models.MeteorologicalData
}

// Engine applies corrections. It holds no per-reading state and is safe for
// concurrent use.
type Engine struct {
	coastline *geo.Coastline
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	groupSize int
}

// NewEngine creates an engine. A nil coastline disables the salinity
// correction.
func NewEngine(coastline *geo.Coastline, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		coastline: coastline,
		clock:     clock,
		logger:    logger,
		metrics:   observability.OrNop(metrics),
		groupSize: DefaultGroupSize,
	}
}

// WithGroupSize sets the batch group size.
func (e *Engine) WithGroupSize(n int) *Engine {
	if n > 0 {
		e.groupSize = n
	}
	return e
}

// ApplyTideCorrection works out the tide height at the reading's time and
// place, preferring an observed level, then interpolated predictions, then the
// nearest prediction.
func (e *Engine) ApplyTideCorrection(reading models.DepthReading, station *models.Station, predictions []models.TidePrediction, observed []models.WaterLevel) models.TideCorrection {
	tc := tideHeight(reading.Timestamp, predictions, observed)
	if station == nil {
		return tc
	}
	tc.StationID = station.ID
	tc.StationDistance = geo.DistanceMeters(reading.Location, station.Location)
	tc.Confidence *= distancePenalty(tc.StationDistance)
	return tc
}

func tideHeight(t time.Time, predictions []models.TidePrediction, observed []models.WaterLevel) models.TideCorrection {
	if level, ok := nearestLevel(t, observed); ok {
		conf := 0.85
		if level.Verified() {
			conf = 0.95
		}
		return models.TideCorrection{Height: level.Height, Method: models.MethodObserved, Confidence: conf}
	}

	switch len(predictions) {
	case 0:
		return models.TideCorrection{Method: models.MethodEstimated, Confidence: 0.5}
	case 1:
		return models.TideCorrection{Height: predictions[0].Height, Method: models.MethodPredicted, Confidence: 0.7}
	}

	preds := make([]models.TidePrediction, len(predictions))
	copy(preds, predictions)
	models.SortPredictions(preds)

	before, after := bracket(t, preds)
	span := after.Time.Sub(before.Time)
	if span <= 0 {
		return models.TideCorrection{Height: before.Height, Method: models.MethodInterpolated, Confidence: 1}
	}

	ratio := float64(t.Sub(before.Time)) / float64(span)
	ratio = clamp(ratio, 0, 1)
	return models.TideCorrection{
		Height:     before.Height + ratio*(after.Height-before.Height),
		Method:     models.MethodInterpolated,
		Confidence: math.Max(0.7, 1-span.Hours()/12),
	}
}

// bracket returns the predictions either side of t. Outside the range the two
// nearest end points are used.
func bracket(t time.Time, preds []models.TidePrediction) (models.TidePrediction, models.TidePrediction) {
	i := sort.Search(len(preds), func(i int) bool { return !preds[i].Time.Before(t) })
	switch {
	case i == 0:
		return preds[0], preds[1]
	case i == len(preds):
		return preds[i-2], preds[i-1]
	default:
		return preds[i-1], preds[i]
	}
}

func nearestLevel(t time.Time, levels []models.WaterLevel) (models.WaterLevel, bool) {
	var (
		best  models.WaterLevel
		found bool
		gap   time.Duration
	)
	for _, l := range levels {
		d := absDuration(l.Time.Sub(t))
		if d > ObservedWindow {
			continue
		}
		if !found || d < gap {
			best, gap, found = l, d, true
		}
	}
	return best, found
}

// distancePenalty scales confidence down once the station is over 10km away.
func distancePenalty(meters float64) float64 {
	if meters <= 10000 {
		return 1
	}
	return math.Max(0.3, 1-(meters-10000)/50000)
}

// CalculateEnvironmentalFactors computes the additive non-tidal corrections.
// Station meteorology fills fields the weather snapshot lacks.
func (e *Engine) CalculateEnvironmentalFactors(reading models.DepthReading, weather *models.WeatherSnapshot, met *models.MeteorologicalData) models.EnvironmentalCorrection {
	var (
		wind, waves      float64
		currentSpeed     *float64
		pressure, temp   *float64
		visibility       *float64
		haveWeatherInput bool
	)
	if weather != nil {
		haveWeatherInput = true
		wind = weather.WindSpeed
		waves = models.ValueOr(weather.WaveHeight, 0)
		currentSpeed = weather.CurrentSpeed
		pressure = weather.Pressure
		visibility = weather.Visibility
		temp = weather.WaterTemperature
		if temp == nil {
			temp = weather.Temperature
		}
	}
	if met != nil {
		if weather == nil && met.WindSpeed != nil {
			wind = *met.WindSpeed
			haveWeatherInput = true
		}
		if pressure == nil {
			pressure = met.AirPressure
		}
		if temp == nil {
			temp = met.AirTemperature
		}
	}

	env := models.EnvironmentalCorrection{
		Wind:    windCorrection(wind),
		Current: currentCorrection(models.ValueOr(currentSpeed, 0)),
	}
	if pressure != nil {
		env.Barometric = (*pressure - standardPressure) * 0.01
	}
	if temp != nil {
		env.Temperature = -0.0002 * (*temp - referenceTemp)
	}
	if e.coastline.IsCoastal(reading.Location, CoastalBandKm) {
		env.Salinity = -0.01
	}
	env.Total = env.Wind + env.Current + env.Barometric + env.Temperature + env.Salinity

	conf := 1.0
	if !haveWeatherInput {
		conf -= 0.2
	}
	if wind > 10 {
		conf -= 0.2
	}
	if waves > 2 {
		conf -= 0.15
	}
	if visibility != nil && *visibility < 1 {
		conf -= 0.1
	}
	if met != nil && !met.ObservedAt.IsZero() && absDuration(reading.Timestamp.Sub(met.ObservedAt)) <= time.Hour {
		conf += 0.05
	}
	env.Confidence = clamp(conf, 0.3, 1)
	return env
}

func windCorrection(speed float64) float64 {
	switch {
	case speed < 5:
		return 0
	case speed < 10:
		return -0.05
	case speed < 15:
		return -0.1
	default:
		return -0.2
	}
}

func currentCorrection(speed float64) float64 {
	switch {
	case speed < 0.5:
		return 0
	case speed < 1:
		return -0.02
	case speed < 2:
		return -0.05
	default:
		return -0.1
	}
}

// SafetyMargin is the under-keel allowance in metres for a reading, in [0.5, 2].
func SafetyMargin(tideConfidence, envConfidence, score float64) float64 {
	margin := 0.5 +
		0.5*(1-clamp(tideConfidence, 0, 1)) +
		0.5*(1-clamp(envConfidence, 0, 1)) +
		1.0*(1-clamp(score, 0, 1))
	return math.Min(margin, 2.0)
}

// Classify maps a quality score and safety margin to a reliability class.
func Classify(score, margin float64) models.Reliability {
	switch {
	case score > 0.8 && margin < 0.8:
		return models.ReliabilityHigh
	case score > 0.6 && margin < 1.2:
		return models.ReliabilityMedium
	case score > 0.4 && margin < 1.8:
		return models.ReliabilityLow
	default:
		return models.ReliabilityUnreliable
	}
}

// Process corrects one reading. The result depends only on the reading, the
// inputs and the engine clock.
func (e *Engine) Process(reading models.DepthReading, in Inputs) models.ProcessedDepthReading {
	now := e.clock.Now()
	tide := e.ApplyTideCorrection(reading, in.Station, in.Predictions, in.Observed)
	env := e.CalculateEnvironmentalFactors(reading, in.Weather, in.Met)
	quality := e.CalculateQualityScore(reading, tide, in.Weather, now)
	margin := SafetyMargin(tide.Confidence, env.Confidence, quality.Score)

	p := models.ProcessedDepthReading{
		Reading:        reading,
		Tide:           tide,
		Environmental:  env,
		CorrectedDepth: reading.Depth - tide.Height + env.Total,
		Quality:        quality,
		SafetyMargin:   margin,
		Reliability:    Classify(quality.Score, margin),
		ProcessedAt:    now,
	}
	e.metrics.ReadingsProcessed.WithLabelValues(string(p.Reliability)).Inc()
	return p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
