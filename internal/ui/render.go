package ui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
)

// updateRow is one received update, summarised for display.
type updateRow struct {
	at          time.Time
	dataType    string
	severity    realtime.Severity
	emergency   bool
	summary     string
	reliability models.Reliability
}

func newUpdateRow(u realtime.Update, emergency bool) updateRow {
	row := updateRow{
		at:        u.Timestamp,
		dataType:  u.Type,
		severity:  u.Severity,
		emergency: emergency,
	}

	switch u.Type {
	case realtime.DataDepth:
		var pr models.ProcessedDepthReading
		if err := json.Unmarshal(u.Data, &pr); err == nil {
			row.summary = fmt.Sprintf("%.2fm → %.2fm (%s tide, margin %.1fm)",
				pr.Reading.Depth, pr.CorrectedDepth, pr.Tide.Method, pr.SafetyMargin)
			row.reliability = pr.Reliability
		}
	case realtime.DataTide:
		var td models.TideData
		if err := json.Unmarshal(u.Data, &td); err == nil {
			row.summary = tideSummary(&td, u.Timestamp)
		}
	case realtime.DataAlert:
		var a models.MarineAlert
		if err := json.Unmarshal(u.Data, &a); err == nil {
			row.summary = a.HazardType
			if a.Headline != "" {
				row.summary += ": " + a.Headline
			}
		}
	}
	if row.summary == "" {
		row.summary = fmt.Sprintf("%s update at %s", u.Type, u.Location)
	}
	return row
}

func tideSummary(td *models.TideData, at time.Time) string {
	station := td.StationID
	if td.StationName != "" {
		station = td.StationName
	}
	next := td.NextEvent(at)
	if next == nil {
		return fmt.Sprintf("%s: no upcoming high or low", station)
	}
	kind := "low"
	if next.Type == models.TideHigh {
		kind = "high"
	}
	return fmt.Sprintf("%s: next %s %.2fm at %s (%d events today)",
		station, kind, next.Height, next.Time.Local().Format("15:04"), len(td.EventsForDay(at)))
}

func (r updateRow) render() string {
	var b strings.Builder
	b.WriteString(mutedStyle.Render(r.at.Local().Format("15:04:05")))
	b.WriteString(" ")
	label := strings.ToUpper(r.dataType)
	if r.emergency {
		label = "EMERGENCY " + label
	}
	b.WriteString(severityStyle(r.severity).Render(fmt.Sprintf("%-8s", label)))
	b.WriteString(" ")
	b.WriteString(valueStyle.Render(r.summary))
	if r.reliability != "" {
		b.WriteString(" ")
		b.WriteString(reliabilityStyle(r.reliability).Render("[" + string(r.reliability) + "]"))
	}
	return b.String()
}

func (m Model) renderStatusLine() string {
	indicator := m.status.Indicator()
	parts := []string{
		indicatorStyle(indicator).Render("● " + indicator),
		labelStyle.Render("State: ") + valueStyle.Render(m.status.State.String()),
	}

	quality := string(m.status.Quality)
	if m.status.Latency > 0 {
		quality = fmt.Sprintf("%s (%s)", quality, m.status.Latency.Round(time.Millisecond))
	}
	parts = append(parts, labelStyle.Render("Link: ")+qualityStyle(m.status.Quality).Render(quality))

	if m.status.Attempts > 0 {
		parts = append(parts, labelStyle.Render("Attempts: ")+valueStyle.Render(fmt.Sprint(m.status.Attempts)))
	}
	if m.status.Queued > 0 {
		parts = append(parts, labelStyle.Render("Queued: ")+valueStyle.Render(fmt.Sprint(m.status.Queued)))
	}
	if m.status.BatteryMode {
		parts = append(parts, reliabilityStyle(models.ReliabilityLow).Render("battery saver"))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderRecent() string {
	if len(m.recent) == 0 {
		return mutedStyle.Render("No updates yet")
	}
	lines := make([]string, len(m.recent))
	for i, r := range m.recent {
		lines[i] = r.render()
	}
	return strings.Join(lines, "\n")
}

// subscriptionItem wraps a Subscription for use in a list
type subscriptionItem struct {
	sub realtime.Subscription
}

// FilterValue implements list.Item
func (s subscriptionItem) FilterValue() string {
	return s.sub.ID
}

// Title implements list.DefaultItem
func (s subscriptionItem) Title() string {
	title := fmt.Sprintf("%s  %s", s.sub.Location, strings.Join(s.sub.DataTypes, ","))
	if s.sub.Emergency {
		title = "⚠ " + title
	}
	return title
}

// Description implements list.DefaultItem
func (s subscriptionItem) Description() string {
	return fmt.Sprintf("%.1f km radius • every %s • %s priority", s.sub.RadiusKm, s.sub.Interval, s.sub.Priority)
}

func subscriptionItems(subs []realtime.Subscription) []list.Item {
	items := make([]list.Item, len(subs))
	for i, s := range subs {
		items[i] = subscriptionItem{sub: s}
	}
	return items
}

func newSubscriptionList(subs []realtime.Subscription, width, height int) list.Model {
	l := list.New(subscriptionItems(subs), list.NewDefaultDelegate(), width, height)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return l
}
