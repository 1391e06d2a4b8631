package stations

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisioner_Provision(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/stations.json" || r.URL.Query().Get("type") != "tidepredictions" {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"stations": [
			{"id": "8447435", "name": "Chatham", "lat": 41.6885, "lng": -69.951, "state": "MA", "timezone": "EST", "type": "R"},
			{"id": "8447505", "name": "Chatham, Stage Harbor", "lat": "41.6717", "lng": "-69.9617", "state": "MA", "type": "S"},
			{"id": "", "name": "broken"}
		]}`)
	}))
	defer server.Close()

	s, err := store.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	repo := NewRepository(s.DB())
	p := NewProvisioner(server.URL, repo, observability.Discard())

	n, err := p.EnsureProvisioned(context.Background(), models.StationTypeTidePredictions)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err := repo.ByID(context.Background(), "8447505")
	require.NoError(t, err)
	assert.InDelta(t, 41.6717, st.Location.Latitude, 1e-9)
	assert.Equal(t, "S", st.ReferenceType)

	// Already provisioned: no second download.
	n, err = p.EnsureProvisioned(context.Background(), models.StationTypeTidePredictions)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, requests)
}

func TestProvisioner_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	s, err := store.OpenSQLite(context.Background(), ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	p := NewProvisioner(server.URL, NewRepository(s.DB()), observability.Discard())
	_, err = p.Provision(context.Background(), models.StationTypeTidePredictions)
	assert.ErrorContains(t, err, "status 502")
}
