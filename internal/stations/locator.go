package stations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/models"
)

// ErrInvalidLocation rejects searches with out-of-range coordinates or radius.
var ErrInvalidLocation = errors.New("invalid search location")

// Catalogue is the station source the locator searches.
type Catalogue interface {
	Nearby(ctx context.Context, loc models.Location, radiusKm float64, stationType string) ([]NearbyStation, error)
	ByID(ctx context.Context, id string) (*models.Station, error)
}

// Locator finds the nearest reference stations and caches the answers.
type Locator struct {
	catalogue Catalogue
	cache     *cache.Offline
	logger    *slog.Logger
}

// NewLocator creates a locator over a catalogue.
func NewLocator(catalogue Catalogue, c *cache.Offline, logger *slog.Logger) *Locator {
	return &Locator{catalogue: catalogue, cache: c, logger: logger}
}

// FindNearest returns up to maxResults stations of stationType within
// maxDistanceKm of loc, nearest first. No station in range yields an empty
// slice: the caller has no reference, which is not a fault.
func (l *Locator) FindNearest(ctx context.Context, loc models.Location, maxDistanceKm float64, maxResults int, stationType string) ([]NearbyStation, error) {
	if !loc.Valid() || maxDistanceKm <= 0 {
		return nil, fmt.Errorf("%w: %s within %.1fkm", ErrInvalidLocation, loc, maxDistanceKm)
	}
	if stationType == "" {
		stationType = models.StationTypeTidePredictions
	}

	key := fmt.Sprintf("%s|%.1f|%s|%d", loc.Key(), maxDistanceKm, stationType, maxResults)
	var cached []NearbyStation
	if _, ok := l.cache.Get(ctx, cache.KindStations, key, &cached); ok {
		return cached, nil
	}

	found, err := l.catalogue.Nearby(ctx, loc, maxDistanceKm, stationType)
	if err != nil {
		return nil, fmt.Errorf("finding stations near %s: %w", loc, err)
	}
	if maxResults > 0 && len(found) > maxResults {
		found = found[:maxResults]
	}
	if found == nil {
		found = []NearbyStation{}
	}

	l.cache.Put(ctx, cache.KindStations, key, "catalogue", found)
	if len(found) == 0 {
		l.logger.Debug("no reference station in range", "location", loc.String(), "radius_km", maxDistanceKm)
	}
	return found, nil
}

// Station returns station metadata by id, cached for a day.
func (l *Locator) Station(ctx context.Context, id string) (*models.Station, error) {
	var s models.Station
	if _, ok := l.cache.Get(ctx, cache.KindStation, id, &s); ok {
		return &s, nil
	}
	st, err := l.catalogue.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	l.cache.Put(ctx, cache.KindStation, id, "catalogue", st)
	return st, nil
}
