package correction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngmaloney/marine-depth/internal/geo"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
)

var (
	now      = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offshore = models.Location{Latitude: 30.0, Longitude: -60.0}
)

func newEngine(t *testing.T, coast *geo.Coastline) (*Engine, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetricsForTesting()
	return NewEngine(coast, clockwork.NewFakeClockAt(now), observability.Discard(), m), m
}

func reading(depth float64) models.DepthReading {
	return models.DepthReading{
		ID:         "r1",
		Location:   offshore,
		Timestamp:  now,
		Depth:      depth,
		Source:     models.SourceOfficial,
		Confidence: 0.9,
	}
}

func station(loc models.Location) *models.Station {
	return &models.Station{ID: "8447435", Name: "Test Harbor", Location: loc}
}

func TestProcess_WorkedExample(t *testing.T) {
	e, m := newEngine(t, nil)

	in := Inputs{
		Station:  station(offshore),
		Observed: []models.WaterLevel{{StationID: "8447435", Time: now.Add(-20 * time.Minute), Height: 1.2, Quality: "p"}},
		Weather: &models.WeatherSnapshot{
			Location:         offshore,
			Timestamp:        now,
			WindSpeed:        7,
			Pressure:         models.Float(1015.25),
			WaterTemperature: models.Float(20),
		},
	}
	p := e.Process(reading(10.0), in)

	assert.Equal(t, models.MethodObserved, p.Tide.Method)
	assert.InDelta(t, 0.85, p.Tide.Confidence, 1e-9)
	assert.InDelta(t, -0.05, p.Environmental.Wind, 1e-9)
	assert.InDelta(t, 0.02, p.Environmental.Barometric, 1e-9)
	assert.InDelta(t, -0.001, p.Environmental.Temperature, 1e-9)
	assert.InDelta(t, -0.031, p.Environmental.Total, 1e-9)
	assert.InDelta(t, 8.769, p.CorrectedDepth, 1e-9)

	assert.InDelta(t, 0.985, p.Quality.Score, 1e-9)
	assert.InDelta(t, 0.59, p.SafetyMargin, 1e-9)
	assert.Equal(t, models.ReliabilityHigh, p.Reliability)
	assert.Equal(t, now, p.ProcessedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReadingsProcessed.WithLabelValues("high")))
}

func TestProcess_Deterministic(t *testing.T) {
	e, _ := newEngine(t, geo.DefaultCoastline())
	in := Inputs{
		Station:     station(models.Location{Latitude: 30.1, Longitude: -60.1}),
		Predictions: []models.TidePrediction{{Time: now.Add(-time.Hour), Height: 0.4}, {Time: now.Add(time.Hour), Height: 0.8}},
		Weather:     &models.WeatherSnapshot{WindSpeed: 12, WaveHeight: models.Float(2.5)},
	}
	assert.Equal(t, e.Process(reading(5), in), e.Process(reading(5), in))
}

func TestApplyTideCorrection_Interpolated(t *testing.T) {
	e, _ := newEngine(t, nil)
	preds := []models.TidePrediction{
		{Time: now.Add(2 * time.Hour), Height: 2.0},
		{Time: now.Add(-30 * time.Minute), Height: 1.0},
		{Time: now.Add(-3 * time.Hour), Height: 0.2},
	}
	// bracket is (-30m, 1.0) .. (+2h, 2.0); t is 1/5 of the way along
	tc := e.ApplyTideCorrection(reading(10), station(offshore), preds, nil)

	assert.Equal(t, models.MethodInterpolated, tc.Method)
	assert.InDelta(t, 1.2, tc.Height, 1e-9)
	assert.InDelta(t, 1-2.5/12, tc.Confidence, 1e-9)
}

func TestApplyTideCorrection_ConfidenceFallsWithSpan(t *testing.T) {
	e, _ := newEngine(t, nil)
	conf := func(span time.Duration) float64 {
		preds := []models.TidePrediction{
			{Time: now.Add(-span / 2), Height: 1},
			{Time: now.Add(span / 2), Height: 2},
		}
		return e.ApplyTideCorrection(reading(10), station(offshore), preds, nil).Confidence
	}

	assert.Greater(t, conf(time.Hour), conf(2*time.Hour))
	assert.Greater(t, conf(2*time.Hour), conf(3*time.Hour))
	assert.Equal(t, 0.7, conf(6*time.Hour), "confidence is floored at 0.7")
}

func TestApplyTideCorrection_OutsidePredictionRange(t *testing.T) {
	e, _ := newEngine(t, nil)
	preds := []models.TidePrediction{
		{Time: now.Add(time.Hour), Height: 1.0},
		{Time: now.Add(2 * time.Hour), Height: 1.5},
	}
	tc := e.ApplyTideCorrection(reading(10), station(offshore), preds, nil)
	assert.Equal(t, models.MethodInterpolated, tc.Method)
	assert.Equal(t, 1.0, tc.Height, "ratio is clamped to the nearest end")
}

func TestApplyTideCorrection_Fallbacks(t *testing.T) {
	e, _ := newEngine(t, nil)
	st := station(offshore)

	tests := []struct {
		name       string
		preds      []models.TidePrediction
		observed   []models.WaterLevel
		wantMethod models.CorrectionMethod
		wantHeight float64
		wantConf   float64
	}{
		{
			name:       "verified observation",
			observed:   []models.WaterLevel{{Time: now.Add(50 * time.Minute), Height: 0.9, Quality: "v"}},
			wantMethod: models.MethodObserved, wantHeight: 0.9, wantConf: 0.95,
		},
		{
			name: "closest observation wins",
			observed: []models.WaterLevel{
				{Time: now.Add(-40 * time.Minute), Height: 0.5, Quality: "v"},
				{Time: now.Add(6 * time.Minute), Height: 0.7, Quality: "p"},
			},
			wantMethod: models.MethodObserved, wantHeight: 0.7, wantConf: 0.85,
		},
		{
			name:       "stale observation ignored",
			observed:   []models.WaterLevel{{Time: now.Add(-61 * time.Minute), Height: 0.9, Quality: "v"}},
			preds:      []models.TidePrediction{{Time: now.Add(3 * time.Hour), Height: 1.4}},
			wantMethod: models.MethodPredicted, wantHeight: 1.4, wantConf: 0.7,
		},
		{
			name:       "nothing available",
			wantMethod: models.MethodEstimated, wantHeight: 0, wantConf: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := e.ApplyTideCorrection(reading(10), st, tt.preds, tt.observed)
			assert.Equal(t, tt.wantMethod, tc.Method)
			assert.InDelta(t, tt.wantHeight, tc.Height, 1e-9)
			assert.InDelta(t, tt.wantConf, tc.Confidence, 1e-9)
			assert.Equal(t, st.ID, tc.StationID)
		})
	}
}

func TestApplyTideCorrection_NoStation(t *testing.T) {
	e, _ := newEngine(t, nil)
	tc := e.ApplyTideCorrection(reading(10), nil, nil, nil)
	assert.Equal(t, models.MethodEstimated, tc.Method)
	assert.Empty(t, tc.StationID)
	assert.Equal(t, 0.5, tc.Confidence)
}

func TestApplyTideCorrection_DistantStation(t *testing.T) {
	e, _ := newEngine(t, nil)
	far := models.Location{Latitude: offshore.Latitude + 0.3, Longitude: offshore.Longitude}
	observed := []models.WaterLevel{{Time: now, Height: 1, Quality: "v"}}

	tc := e.ApplyTideCorrection(reading(10), station(far), nil, observed)

	d := geo.DistanceMeters(offshore, far)
	require.Greater(t, d, 30000.0)
	assert.InDelta(t, d, tc.StationDistance, 1e-6)
	assert.InDelta(t, 0.95*(1-(d-10000)/50000), tc.Confidence, 1e-9)
}

func TestDistancePenalty(t *testing.T) {
	tests := map[float64]float64{
		0:      1,
		10000:  1,
		20000:  0.8,
		35000:  0.5,
		60000:  0.3,
		250000: 0.3,
	}
	for meters, want := range tests {
		assert.InDelta(t, want, distancePenalty(meters), 1e-9, "distance %v", meters)
	}
}

func TestCalculateEnvironmentalFactors_Steps(t *testing.T) {
	e, _ := newEngine(t, nil)

	windTests := map[float64]float64{0: 0, 4.9: 0, 5: -0.05, 9.9: -0.05, 10: -0.1, 14.9: -0.1, 15: -0.2, 30: -0.2}
	for speed, want := range windTests {
		env := e.CalculateEnvironmentalFactors(reading(10), &models.WeatherSnapshot{WindSpeed: speed}, nil)
		assert.Equal(t, want, env.Wind, "wind %v", speed)
	}

	currentTests := map[float64]float64{0.2: 0, 0.5: -0.02, 1.5: -0.05, 2.5: -0.1}
	for speed, want := range currentTests {
		env := e.CalculateEnvironmentalFactors(reading(10), &models.WeatherSnapshot{CurrentSpeed: models.Float(speed)}, nil)
		assert.Equal(t, want, env.Current, "current %v", speed)
	}
}

func TestCalculateEnvironmentalFactors_Salinity(t *testing.T) {
	coast := geo.NewCoastline([][]models.Location{{
		{Latitude: 41.0, Longitude: -72.0},
		{Latitude: 41.0, Longitude: -71.0},
	}})
	e, _ := newEngine(t, coast)

	near := reading(10)
	near.Location = models.Location{Latitude: 41.02, Longitude: -71.5}
	assert.Equal(t, -0.01, e.CalculateEnvironmentalFactors(near, nil, nil).Salinity)

	far := reading(10)
	far.Location = models.Location{Latitude: 41.5, Longitude: -71.5}
	assert.Zero(t, e.CalculateEnvironmentalFactors(far, nil, nil).Salinity)
}

func TestCalculateEnvironmentalFactors_Confidence(t *testing.T) {
	e, _ := newEngine(t, nil)
	rough := &models.WeatherSnapshot{WindSpeed: 12, WaveHeight: models.Float(3), Visibility: models.Float(0.5)}

	env := e.CalculateEnvironmentalFactors(reading(10), rough, nil)
	assert.InDelta(t, 0.55, env.Confidence, 1e-9)

	met := &models.MeteorologicalData{ObservedAt: now.Add(-30 * time.Minute), AirPressure: models.Float(1003.25)}
	env = e.CalculateEnvironmentalFactors(reading(10), rough, met)
	assert.InDelta(t, 0.6, env.Confidence, 1e-9)
	assert.InDelta(t, -0.1, env.Barometric, 1e-9, "station pressure fills the gap")

	staleMet := &models.MeteorologicalData{ObservedAt: now.Add(-3 * time.Hour)}
	env = e.CalculateEnvironmentalFactors(reading(10), &models.WeatherSnapshot{WindSpeed: 2}, staleMet)
	assert.Equal(t, 1.0, env.Confidence, "stale met data gives no boost and the cap holds")

	env = e.CalculateEnvironmentalFactors(reading(10), nil, nil)
	assert.InDelta(t, 0.8, env.Confidence, 1e-9)
}

func TestCalculateEnvironmentalFactors_TemperaturePrefersWater(t *testing.T) {
	e, _ := newEngine(t, nil)
	w := &models.WeatherSnapshot{Temperature: models.Float(30), WaterTemperature: models.Float(10)}
	env := e.CalculateEnvironmentalFactors(reading(10), w, nil)
	assert.InDelta(t, 0.001, env.Temperature, 1e-12)
}

func TestCalculateQualityScore_Warnings(t *testing.T) {
	e, _ := newEngine(t, nil)
	r := reading(10)
	r.Timestamp = now.Add(-12 * time.Hour)
	r.Source = models.SourcePredicted
	r.Confidence = 0.5

	tide := models.TideCorrection{StationID: "8447435", StationDistance: 30000}
	w := &models.WeatherSnapshot{WindSpeed: 11, WaveHeight: models.Float(2.5)}
	q := e.CalculateQualityScore(r, tide, w, now)

	assert.Len(t, q.Warnings, 6)
	assert.InDelta(t, 0.5, q.Factors.Age, 1e-9)
	assert.InDelta(t, 0.4, q.Factors.Distance, 1e-9)
	assert.InDelta(t, 0.4, q.Factors.Environmental, 1e-9)
	assert.InDelta(t, 0.4, q.Factors.Source, 1e-9)
	assert.InDelta(t, 0.5, q.Factors.Instrument, 1e-9)
	assert.InDelta(t, 0.2*0.5+0.2*0.4+0.25*0.4+0.2*0.4+0.15*0.5, q.Score, 1e-9)
}

func TestCalculateQualityScore_NoStationNoWeather(t *testing.T) {
	e, _ := newEngine(t, nil)
	q := e.CalculateQualityScore(reading(10), models.TideCorrection{}, nil, now)
	assert.Zero(t, q.Factors.Distance)
	assert.Equal(t, 0.5, q.Factors.Environmental)
	assert.Contains(t, q.Warnings, "no tide station within range")
}

func TestScoreAndMarginBounds(t *testing.T) {
	e, _ := newEngine(t, nil)
	sources := []models.ReadingSource{models.SourceOfficial, models.SourceCrowdsourced, models.SourcePredicted, "unknown"}

	for _, src := range sources {
		for _, conf := range []float64{-1, 0, 0.3, 0.7, 1, 2} {
			for _, age := range []time.Duration{-time.Hour, 0, 6 * time.Hour, 48 * time.Hour} {
				for _, dist := range []float64{0, 20000, 200000} {
					r := reading(10)
					r.Source, r.Confidence, r.Timestamp = src, conf, now.Add(-age)
					tide := models.TideCorrection{StationID: "x", StationDistance: dist, Confidence: conf}
					q := e.CalculateQualityScore(r, tide, &models.WeatherSnapshot{WindSpeed: 20, WaveHeight: models.Float(5), Visibility: models.Float(0.1)}, now)

					name := fmt.Sprintf("%s/%v/%v/%v", src, conf, age, dist)
					assert.GreaterOrEqual(t, q.Score, 0.0, name)
					assert.LessOrEqual(t, q.Score, 1.0, name)

					margin := SafetyMargin(tide.Confidence, conf, q.Score)
					assert.GreaterOrEqual(t, margin, 0.5, name)
					assert.LessOrEqual(t, margin, 2.0, name)
				}
			}
		}
	}
}

func TestSafetyMargin(t *testing.T) {
	assert.Equal(t, 0.5, SafetyMargin(1, 1, 1))
	assert.InDelta(t, 1.0, SafetyMargin(0.5, 0.5, 1), 1e-9)
	assert.InDelta(t, 1.25, SafetyMargin(0.5, 0.5, 0.75), 1e-9)
	assert.Equal(t, 2.0, SafetyMargin(0, 0, 0), "capped")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score, margin float64
		want          models.Reliability
	}{
		{0.9, 0.6, models.ReliabilityHigh},
		{0.9, 0.8, models.ReliabilityMedium},
		{0.7, 1.0, models.ReliabilityMedium},
		{0.7, 1.2, models.ReliabilityLow},
		{0.5, 1.5, models.ReliabilityLow},
		{0.5, 1.8, models.ReliabilityUnreliable},
		{0.3, 0.5, models.ReliabilityUnreliable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.score, tt.margin), "score %v margin %v", tt.score, tt.margin)
	}
}

func TestProcessBatch_GroupsAndPerItemOutcomes(t *testing.T) {
	e, _ := newEngine(t, nil)
	e.WithGroupSize(10)

	readings := make([]models.DepthReading, 25)
	for i := range readings {
		readings[i] = reading(float64(i + 1))
		readings[i].ID = fmt.Sprintf("r%02d", i)
	}

	var (
		inFlight, peak atomic.Int32
		mu             sync.Mutex
		seen           []string
	)
	errLookup := errors.New("station lookup failed")
	inputs := func(ctx context.Context, r models.DepthReading) (Inputs, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		mu.Lock()
		seen = append(seen, r.ID)
		mu.Unlock()
		if r.ID == "r13" {
			return Inputs{}, errLookup
		}
		return Inputs{Station: station(offshore)}, nil
	}

	out := e.ProcessBatch(context.Background(), readings, inputs)

	require.Len(t, out, 25)
	assert.Len(t, seen, 25)
	assert.LessOrEqual(t, peak.Load(), int32(10))
	for i, o := range out {
		if i == 13 {
			assert.ErrorIs(t, o.Err, errLookup)
			continue
		}
		require.NoError(t, o.Err)
		assert.Equal(t, readings[i].ID, o.Value.Reading.ID)
		assert.Equal(t, readings[i].Depth, o.Value.CorrectedDepth, "no tide or weather means no correction")
	}
}

func TestProcessBatch_Cancelled(t *testing.T) {
	e, _ := newEngine(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	out := e.ProcessBatch(ctx, []models.DepthReading{reading(1), reading(2)}, func(context.Context, models.DepthReading) (Inputs, error) {
		calls++
		return Inputs{}, nil
	})
	assert.Zero(t, calls)
	for _, o := range out {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}
