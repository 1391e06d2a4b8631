// Package stations locates NOAA tide reference stations near a point.
package stations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/ngmaloney/marine-depth/internal/geo"
	"github.com/ngmaloney/marine-depth/internal/models"
)

// ErrStationNotFound is returned by ByID for unknown station ids.
var ErrStationNotFound = errors.New("tide station not found")

// NearbyStation is a station together with its distance from the search point.
type NearbyStation struct {
	models.Station
	DistanceKm float64 `json:"distance_km"`
}

// Repository reads and writes the tide_stations catalogue.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database whose schema has been migrated.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Nearby returns stations of stationType within radiusKm of loc, nearest first.
// An empty result is not an error.
func (r *Repository) Nearby(ctx context.Context, loc models.Location, radiusKm float64, stationType string) ([]NearbyStation, error) {
	// Bounding box prefilter, then the real haversine check.
	// Near the antimeridian the longitude span splits in two; a single span
	// is passed twice.
	box := geo.BoxAround(loc, radiusKm)
	lons := box.LonRanges()
	east, west := lons[0], lons[len(lons)-1]

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, state, latitude, longitude, timezone, reference_type, type
		FROM tide_stations
		WHERE type = ?
		  AND latitude BETWEEN ? AND ?
		  AND (longitude BETWEEN ? AND ? OR longitude BETWEEN ? AND ?)`,
		stationType, box.MinLat, box.MaxLat, east[0], east[1], west[0], west[1])
	if err != nil {
		return nil, fmt.Errorf("querying stations: %w", err)
	}
	defer rows.Close()

	var found []NearbyStation
	for rows.Next() {
		s, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		d := geo.DistanceKm(loc, s.Location)
		if d <= radiusKm {
			found = append(found, NearbyStation{Station: s, DistanceKm: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading stations: %w", err)
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].DistanceKm < found[j].DistanceKm
	})
	return found, nil
}

// ByID retrieves a single tide station by its ID.
func (r *Repository) ByID(ctx context.Context, id string) (*models.Station, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, state, latitude, longitude, timezone, reference_type, type
		FROM tide_stations WHERE id = ? ORDER BY type LIMIT 1`, id)

	s, err := scanStation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrStationNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Count returns how many stations of a type are catalogued.
func (r *Repository) Count(ctx context.Context, stationType string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tide_stations WHERE type = ?`, stationType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting stations: %w", err)
	}
	return n, nil
}

// Insert adds stations in one transaction, ignoring ids already present.
func (r *Repository) Insert(ctx context.Context, stations []models.Station) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO tide_stations
			(id, name, state, latitude, longitude, timezone, reference_type, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, s := range stations {
		res, err := stmt.ExecContext(ctx, s.ID, s.Name, s.Region, s.Location.Latitude, s.Location.Longitude,
			s.Timezone, s.ReferenceType, s.Type)
		if err != nil {
			return 0, fmt.Errorf("inserting station %s: %w", s.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStation(row scanner) (models.Station, error) {
	var s models.Station
	err := row.Scan(&s.ID, &s.Name, &s.Region, &s.Location.Latitude, &s.Location.Longitude,
		&s.Timezone, &s.ReferenceType, &s.Type)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scanning station: %w", err)
	}
	return s, nil
}
