// Package pipeline runs raw depth readings through station lookup, tide and
// weather acquisition and correction, then hands the results to the cache,
// the Kafka sink, the remote API and the realtime distributor.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/correction"
	"github.com/ngmaloney/marine-depth/internal/gate"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
	"github.com/ngmaloney/marine-depth/internal/stations"
	"github.com/ngmaloney/marine-depth/internal/store"
)

// ErrInvalidReading rejects readings that cannot be corrected at all.
var ErrInvalidReading = errors.New("invalid depth reading")

// SubmitType is the sync item type for processed readings bound for the
// remote API.
const SubmitType = "reading.submit"

// StationFinder finds reference stations near a point.
type StationFinder interface {
	FindNearest(ctx context.Context, loc models.Location, maxDistanceKm float64, maxResults int, stationType string) ([]stations.NearbyStation, error)
}

// TideSource supplies tide predictions, observations and station meteorology.
type TideSource interface {
	Predictions(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error)
	HighLow(ctx context.Context, stationID string, window models.TimeWindow) ([]models.TidePrediction, error)
	WaterLevels(ctx context.Context, stationID string, window models.TimeWindow) ([]models.WaterLevel, error)
	Meteorological(ctx context.Context, stationID string) (*models.MeteorologicalData, error)
}

// WeatherSource supplies current conditions and marine alerts.
type WeatherSource interface {
	Current(ctx context.Context, loc models.Location) (*models.WeatherSnapshot, error)
	Alerts(ctx context.Context, loc models.Location) ([]models.MarineAlert, error)
}

// BatchSink receives every batch of processed readings.
type BatchSink interface {
	WriteBatch(ctx context.Context, readings []models.ProcessedDepthReading) error
}

// Publisher fans updates out to realtime subscribers.
type Publisher interface {
	Publish(u realtime.Update) int
}

// Submitter sends one item to the remote API.
type Submitter interface {
	Submit(ctx context.Context, item store.SyncItem) error
}

// Enqueuer holds items for later submission.
type Enqueuer interface {
	Enqueue(ctx context.Context, itemType string, payload []byte) (store.SyncItem, error)
}

// Options tunes acquisition. Zero values take the defaults.
type Options struct {
	StationRadiusKm  float64
	PredictionWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.StationRadiusKm <= 0 {
		o.StationRadiusKm = 50
	}
	if o.PredictionWindow <= 0 {
		o.PredictionWindow = 6 * time.Hour
	}
	return o
}

// Processor wires the pipeline stages together. Sink, publisher, submitter
// and queue are optional.
type Processor struct {
	stations StationFinder
	tides    TideSource
	weather  WeatherSource
	engine   *correction.Engine
	cache    *cache.Offline
	opts     Options
	logger   *slog.Logger

	sink      BatchSink
	publisher Publisher
	submitter Submitter
	queue     Enqueuer

	processed atomic.Int64

	mu         sync.Mutex
	seenAlerts map[string]time.Time
	nextTide   map[string]time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithSink sends every processed batch to s.
func WithSink(s BatchSink) Option { return func(p *Processor) { p.sink = s } }

// WithPublisher publishes processed readings and new alerts to pub.
func WithPublisher(pub Publisher) Option { return func(p *Processor) { p.publisher = pub } }

// WithSubmission submits processed readings to the remote API, queueing them
// in q when the API cannot be reached.
func WithSubmission(s Submitter, q Enqueuer) Option {
	return func(p *Processor) {
		p.submitter = s
		p.queue = q
	}
}

// New creates a Processor.
func New(finder StationFinder, tides TideSource, weather WeatherSource, engine *correction.Engine, c *cache.Offline, opts Options, logger *slog.Logger, options ...Option) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		stations:   finder,
		tides:      tides,
		weather:    weather,
		engine:     engine,
		cache:      c,
		opts:       opts.withDefaults(),
		logger:     logger,
		seenAlerts: make(map[string]time.Time),
		nextTide:   make(map[string]time.Time),
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Process corrects a batch. Every reading gets an outcome in input order;
// successful ones are then cached, sunk, submitted and published.
func (p *Processor) Process(ctx context.Context, readings []models.DepthReading) []gate.Outcome[models.ProcessedDepthReading] {
	for i := range readings {
		if readings[i].ID == "" {
			readings[i].ID = uuid.NewString()
		}
	}

	outcomes := p.engine.ProcessBatch(ctx, readings, p.gather)

	done := make([]models.ProcessedDepthReading, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err == nil {
			done = append(done, o.Value)
		}
	}
	p.deliver(ctx, done)
	p.processed.Add(int64(len(done)))
	return outcomes
}

// Processed is how many readings have been corrected since start.
func (p *Processor) Processed() int64 {
	return p.processed.Load()
}

// Lookup returns a previously processed reading from the cache.
func (p *Processor) Lookup(ctx context.Context, id string) (models.ProcessedDepthReading, bool) {
	var out models.ProcessedDepthReading
	_, ok := p.cache.Get(ctx, cache.KindProcessed, id, &out)
	return out, ok
}

func validate(r models.DepthReading) error {
	switch {
	case !r.Location.Valid():
		return fmt.Errorf("%w: location %s", ErrInvalidReading, r.Location)
	case r.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	case math.IsNaN(r.Depth) || math.IsInf(r.Depth, 0) || r.Depth < 0:
		return fmt.Errorf("%w: depth %v", ErrInvalidReading, r.Depth)
	}
	return nil
}

// gather collects everything the engine needs for one reading. Upstream
// failures leave the matching input empty; the engine lowers confidence
// instead.
func (p *Processor) gather(ctx context.Context, r models.DepthReading) (correction.Inputs, error) {
	var in correction.Inputs
	if err := validate(r); err != nil {
		return in, err
	}

	near, err := p.stations.FindNearest(ctx, r.Location, p.opts.StationRadiusKm, 1, models.StationTypeTidePredictions)
	if err != nil {
		p.logger.Warn("station lookup failed", "reading", r.ID, "error", err)
	}
	if len(near) > 0 {
		st := near[0].Station
		in.Station = &st
	}

	// Each lookup fills its own field of in; a failed one leaves it empty.
	lookups := []lookup{{
		name: "weather",
		run: func(ctx context.Context) (err error) {
			in.Weather, err = p.weather.Current(ctx, r.Location)
			return err
		},
	}}
	if in.Station != nil {
		id := in.Station.ID
		lookups = append(lookups,
			lookup{name: "tide predictions", station: id, run: func(ctx context.Context) (err error) {
				in.Predictions, err = p.tides.Predictions(ctx, id, models.WindowAround(r.Timestamp, p.opts.PredictionWindow, p.opts.PredictionWindow))
				return err
			}},
			lookup{name: "water levels", station: id, run: func(ctx context.Context) (err error) {
				in.Observed, err = p.tides.WaterLevels(ctx, id, models.WindowAround(r.Timestamp, correction.ObservedWindow, correction.ObservedWindow))
				return err
			}},
			lookup{name: "station meteorology", station: id, optional: true, run: func(ctx context.Context) (err error) {
				in.Met, err = p.tides.Meteorological(ctx, id)
				return err
			}},
		)
	}

	tasks := make([]func(context.Context) (struct{}, error), len(lookups))
	for i, l := range lookups {
		tasks[i] = func(ctx context.Context) (struct{}, error) { return struct{}{}, l.run(ctx) }
	}
	for i, o := range gate.RunAll(ctx, nil, tasks) {
		if o.Err == nil {
			continue
		}
		l := lookups[i]
		level := slog.LevelWarn
		if l.optional {
			level = slog.LevelDebug
		}
		p.logger.Log(ctx, level, l.name+" unavailable", "reading", r.ID, "station", l.station, "error", o.Err)
	}
	return in, ctx.Err()
}

type lookup struct {
	name     string
	station  string
	optional bool
	run      func(ctx context.Context) error
}

func (p *Processor) deliver(ctx context.Context, done []models.ProcessedDepthReading) {
	if len(done) == 0 {
		return
	}
	for _, pr := range done {
		p.cache.Put(ctx, cache.KindProcessed, pr.Reading.ID, "engine", pr)
	}

	if p.sink != nil {
		if err := p.sink.WriteBatch(ctx, done); err != nil {
			p.logger.Error("sink write failed", "count", len(done), "error", err)
		}
	}

	for _, pr := range done {
		payload, err := json.Marshal(pr)
		if err != nil {
			p.logger.Error("encoding processed reading failed", "reading", pr.Reading.ID, "error", err)
			continue
		}
		p.submit(ctx, pr.Reading.ID, payload)
		if p.publisher != nil {
			p.publisher.Publish(realtime.Update{
				ID:        pr.Reading.ID,
				Type:      realtime.DataDepth,
				Location:  pr.Reading.Location,
				Severity:  depthSeverity(pr.Reliability),
				Data:      payload,
				Timestamp: pr.ProcessedAt,
			})
		}
	}
}

func (p *Processor) submit(ctx context.Context, id string, payload []byte) {
	if p.submitter == nil {
		return
	}
	err := p.submitter.Submit(ctx, store.SyncItem{ID: id, Type: SubmitType, Payload: payload})
	if err == nil {
		return
	}
	if p.queue == nil {
		p.logger.Warn("reading submission failed", "reading", id, "error", err)
		return
	}
	p.logger.Info("remote unreachable, queueing reading", "reading", id, "error", err)
	if _, qerr := p.queue.Enqueue(ctx, SubmitType, payload); qerr != nil {
		p.logger.Error("queueing reading failed", "reading", id, "error", qerr)
	}
}

func depthSeverity(r models.Reliability) realtime.Severity {
	if r == models.ReliabilityUnreliable {
		return realtime.SeverityWarning
	}
	return realtime.SeverityInfo
}
