package stations

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/ngmaloney/marine-depth/internal/cache"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCatalogue struct {
	Catalogue
	nearbyCalls int
	byIDCalls   int
}

func (c *countingCatalogue) Nearby(ctx context.Context, loc models.Location, radiusKm float64, stationType string) ([]NearbyStation, error) {
	c.nearbyCalls++
	return c.Catalogue.Nearby(ctx, loc, radiusKm, stationType)
}

func (c *countingCatalogue) ByID(ctx context.Context, id string) (*models.Station, error) {
	c.byIDCalls++
	return c.Catalogue.ByID(ctx, id)
}

func newTestLocator(t *testing.T) (*Locator, *countingCatalogue, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	cat := &countingCatalogue{Catalogue: newTestRepository(t)}
	c := cache.New(store.NewMemory(clock), nil, clock, observability.Discard(), nil)
	return NewLocator(cat, c, observability.Discard()), cat, clock
}

func TestLocator_FindNearestCachesForADay(t *testing.T) {
	ctx := context.Background()
	l, cat, clock := newTestLocator(t)
	loc := models.Location{Latitude: 41.0, Longitude: -73.0}

	first, err := l.FindNearest(ctx, loc, 400, 1, "")
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "8518750", first[0].ID)

	// Same rounded location hits the cache.
	second, err := l.FindNearest(ctx, models.Location{Latitude: 41.001, Longitude: -72.999}, 400, 1, "")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cat.nearbyCalls)

	clock.Advance(25 * time.Hour)
	_, err = l.FindNearest(ctx, loc, 400, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 2, cat.nearbyCalls)
}

func TestLocator_RadiusAndTypeAreKeyed(t *testing.T) {
	ctx := context.Background()
	l, cat, _ := newTestLocator(t)
	loc := models.Location{Latitude: 42.35, Longitude: -71.05}

	_, err := l.FindNearest(ctx, loc, 10, 5, models.StationTypeTidePredictions)
	require.NoError(t, err)
	_, err = l.FindNearest(ctx, loc, 20, 5, models.StationTypeTidePredictions)
	require.NoError(t, err)
	_, err = l.FindNearest(ctx, loc, 20, 5, models.StationTypeWaterLevels)
	require.NoError(t, err)

	assert.Equal(t, 3, cat.nearbyCalls)
}

func TestLocator_NoStationIsEmptyNotError(t *testing.T) {
	l, _, _ := newTestLocator(t)

	got, err := l.FindNearest(context.Background(), models.Location{Latitude: -40, Longitude: -30}, 50, 3, "")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestLocator_RejectsInvalidInput(t *testing.T) {
	l, _, _ := newTestLocator(t)

	_, err := l.FindNearest(context.Background(), models.Location{Latitude: 95, Longitude: 0}, 50, 3, "")
	assert.ErrorIs(t, err, ErrInvalidLocation)

	_, err = l.FindNearest(context.Background(), models.Location{Latitude: 41, Longitude: -70}, 0, 3, "")
	assert.ErrorIs(t, err, ErrInvalidLocation)
}

func TestLocator_StationCached(t *testing.T) {
	ctx := context.Background()
	l, cat, _ := newTestLocator(t)

	s, err := l.Station(ctx, "8443970")
	require.NoError(t, err)
	assert.Equal(t, "Boston", s.Name)

	_, err = l.Station(ctx, "8443970")
	require.NoError(t, err)
	assert.Equal(t, 1, cat.byIDCalls)
}
