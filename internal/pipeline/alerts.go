package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
)

// PublishAlerts fetches the active marine alerts for loc and publishes the
// ones not published before. It returns how many were new.
func (p *Processor) PublishAlerts(ctx context.Context, loc models.Location, now time.Time) (int, error) {
	alerts, err := p.weather.Alerts(ctx, loc)
	if err != nil {
		return 0, fmt.Errorf("fetching alerts for %s: %w", loc, err)
	}

	p.mu.Lock()
	for id, until := range p.seenAlerts {
		if now.After(until) {
			delete(p.seenAlerts, id)
		}
	}
	var fresh []models.MarineAlert
	for _, a := range alerts {
		if !a.IsActive(now) {
			continue
		}
		if _, seen := p.seenAlerts[a.ID]; seen {
			continue
		}
		p.seenAlerts[a.ID] = a.Expires
		fresh = append(fresh, a)
	}
	p.mu.Unlock()

	if p.publisher == nil {
		return len(fresh), nil
	}
	for _, a := range fresh {
		data, err := json.Marshal(a)
		if err != nil {
			p.logger.Error("encoding alert failed", "alert", a.ID, "error", err)
			continue
		}
		severity := realtime.SeverityWarning
		if a.IsCritical() {
			severity = realtime.SeverityCritical
		}
		n := p.publisher.Publish(realtime.Update{
			ID:        a.ID,
			Type:      realtime.DataAlert,
			Location:  loc,
			Severity:  severity,
			Data:      data,
			Timestamp: now,
		})
		p.logger.Info("marine alert published", "alert", a.ID, "headline", a.Headline, "subscribers", n)
	}
	return len(fresh), nil
}

// Watch polls alerts and tide events for every location each interval until
// ctx is cancelled.
func (p *Processor) Watch(ctx context.Context, clock clockwork.Clock, locs []models.Location, interval time.Duration) {
	if len(locs) == 0 {
		return
	}
	poll := func() {
		for _, loc := range locs {
			if _, err := p.PublishAlerts(ctx, loc, clock.Now()); err != nil && ctx.Err() == nil {
				p.logger.Warn("alert poll failed", "location", loc.String(), "error", err)
			}
			if _, err := p.PublishTides(ctx, loc, clock.Now()); err != nil && ctx.Err() == nil {
				p.logger.Warn("tide poll failed", "location", loc.String(), "error", err)
			}
		}
	}

	poll()
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			poll()
		}
	}
}
