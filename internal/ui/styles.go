package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
)

var (
	// Color palette
	colorPrimary = lipgloss.Color("#00BFFF") // Deep sky blue
	colorDanger  = lipgloss.Color("#FF6B6B") // Red for alerts
	colorWarning = lipgloss.Color("#FFD93D") // Yellow for warnings
	colorOrange  = lipgloss.Color("#FF8C42")
	colorSuccess = lipgloss.Color("#6BCF7F") // Green
	colorMuted   = lipgloss.Color("#6C757D") // Gray
	colorBorder  = lipgloss.Color("#4A90E2") // Border blue

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(1, 0)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorDanger).
			Bold(true)

	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorPrimary).
				Bold(true).
				Padding(0, 1).
				MarginTop(1)

	sectionBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	activeBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
)

func indicatorStyle(indicator string) lipgloss.Style {
	switch indicator {
	case "connected":
		return lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	case "degraded":
		return lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	}
}

func qualityStyle(q realtime.Quality) lipgloss.Style {
	switch q {
	case realtime.QualityExcellent:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	case realtime.QualityGood:
		return lipgloss.NewStyle().Foreground(colorPrimary)
	case realtime.QualityPoor:
		return lipgloss.NewStyle().Foreground(colorOrange)
	default:
		return mutedStyle
	}
}

func reliabilityStyle(r models.Reliability) lipgloss.Style {
	switch r {
	case models.ReliabilityHigh:
		return lipgloss.NewStyle().Foreground(colorSuccess)
	case models.ReliabilityMedium:
		return lipgloss.NewStyle().Foreground(colorPrimary)
	case models.ReliabilityLow:
		return lipgloss.NewStyle().Foreground(colorWarning)
	case models.ReliabilityUnreliable:
		return lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	default:
		return valueStyle
	}
}

func severityStyle(s realtime.Severity) lipgloss.Style {
	switch s {
	case realtime.SeverityEmergency:
		return lipgloss.NewStyle().Foreground(colorDanger).Bold(true).Reverse(true)
	case realtime.SeverityCritical:
		return lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	case realtime.SeverityWarning:
		return lipgloss.NewStyle().Foreground(colorWarning)
	default:
		return valueStyle
	}
}
