package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/observability"
	"github.com/ngmaloney/marine-depth/internal/realtime"
	"github.com/ngmaloney/marine-depth/internal/ui"
)

var (
	monitorLat       float64
	monitorLon       float64
	monitorRadius    float64
	monitorTypes     string
	monitorInterval  time.Duration
	monitorPriority  string
	monitorEmergency bool
	monitorBattery   bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the realtime connection and incoming updates in a terminal UI",
	RunE:  runMonitor,
}

func init() {
	monitorCmd.Flags().Float64Var(&monitorLat, "lat", 0, "latitude to subscribe around")
	monitorCmd.Flags().Float64Var(&monitorLon, "lon", 0, "longitude to subscribe around")
	monitorCmd.Flags().Float64Var(&monitorRadius, "radius", 25, "subscription radius in km")
	monitorCmd.Flags().StringVar(&monitorTypes, "types", "depth,tide,weather,alert", "comma separated data types")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 30*time.Second, "minimum time between updates")
	monitorCmd.Flags().StringVar(&monitorPriority, "priority", string(realtime.PriorityNormal), "subscription priority (low, normal, high, critical)")
	monitorCmd.Flags().BoolVar(&monitorEmergency, "emergency", false, "also request emergency updates for the location")
	monitorCmd.Flags().BoolVar(&monitorBattery, "battery", false, "start in battery saving mode")
	_ = monitorCmd.MarkFlagRequired("lat")
	_ = monitorCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is not configured")
	}

	// The TUI owns the terminal; connection errors surface as events instead.
	d := realtime.NewDistributor(cfg.Realtime.URL, cfg.Realtime.Policy(), nil, observability.Discard(), nil)
	defer d.Close()
	d.SetBatteryMode(monitorBattery || cfg.Realtime.BatteryMode)

	events, stop := d.Listen(64)
	defer stop()

	loc := models.Location{Latitude: monitorLat, Longitude: monitorLon}
	ignore := func(realtime.Update) {}
	if _, err := d.Subscribe(loc, monitorRadius, strings.Split(monitorTypes, ","), monitorInterval, realtime.Priority(monitorPriority), ignore); err != nil {
		return err
	}

	ctx := cmd.Context()
	if err := d.Connect(ctx); err != nil {
		return err
	}
	if monitorEmergency {
		if _, err := d.RequestEmergencyUpdates(ctx, loc, realtime.DataAlert, ignore); err != nil {
			return err
		}
	}

	p := tea.NewProgram(ui.NewModel(d, events, cfg.Realtime.URL), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running monitor: %w", err)
	}
	return nil
}
