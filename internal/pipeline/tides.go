package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
)

// PublishTides publishes the high and low tide events of the station nearest
// loc whenever its next event changes. It reports whether an update went out.
func (p *Processor) PublishTides(ctx context.Context, loc models.Location, now time.Time) (bool, error) {
	near, err := p.stations.FindNearest(ctx, loc, p.opts.StationRadiusKm, 1, models.StationTypeTidePredictions)
	if err != nil {
		return false, fmt.Errorf("finding tide station near %s: %w", loc, err)
	}
	if len(near) == 0 {
		return false, nil
	}
	st := near[0].Station

	events, err := p.tides.HighLow(ctx, st.ID, models.TimeWindow{Start: now.Add(-12 * time.Hour), End: now.Add(36 * time.Hour)})
	if err != nil {
		return false, fmt.Errorf("fetching tide events for %s: %w", st.ID, err)
	}
	models.SortPredictions(events)
	td := models.TideData{StationID: st.ID, StationName: st.Name, Predictions: events, UpdatedAt: now}
	next := td.NextEvent(now)
	if next == nil {
		return false, nil
	}

	p.mu.Lock()
	if last, ok := p.nextTide[st.ID]; ok && last.Equal(next.Time) {
		p.mu.Unlock()
		return false, nil
	}
	p.nextTide[st.ID] = next.Time
	p.mu.Unlock()

	if p.publisher == nil {
		return true, nil
	}
	data, err := json.Marshal(td)
	if err != nil {
		return false, fmt.Errorf("encoding tide events: %w", err)
	}
	p.publisher.Publish(realtime.Update{
		ID:        st.ID + "@" + next.Time.UTC().Format(time.RFC3339),
		Type:      realtime.DataTide,
		Location:  loc,
		Severity:  realtime.SeverityInfo,
		Data:      data,
		Timestamp: now,
	})
	return true, nil
}
