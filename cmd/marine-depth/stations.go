package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/stations"
)

var (
	findLat      float64
	findLon      float64
	findRadiusKm float64
	findLimit    int
	stationType  string
)

var stationsCmd = &cobra.Command{
	Use:   "stations",
	Short: "Inspect and provision the tide station catalogue",
}

var stationsFindCmd = &cobra.Command{
	Use:   "find",
	Short: "List the nearest stations to a coordinate",
	RunE:  runStationsFind,
}

var stationsShowCmd = &cobra.Command{
	Use:   "show <station-id>",
	Short: "Show a station and its high and low tides for today",
	Args:  cobra.ExactArgs(1),
	RunE:  runStationsShow,
}

var stationsProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Download the station list from NOAA CO-OPS into the catalogue",
	RunE:  runStationsProvision,
}

func init() {
	stationsFindCmd.Flags().Float64Var(&findLat, "lat", 0, "latitude in decimal degrees")
	stationsFindCmd.Flags().Float64Var(&findLon, "lon", 0, "longitude in decimal degrees")
	stationsFindCmd.Flags().Float64Var(&findRadiusKm, "radius", 50, "search radius in km")
	stationsFindCmd.Flags().IntVar(&findLimit, "limit", 5, "maximum stations to list")
	_ = stationsFindCmd.MarkFlagRequired("lat")
	_ = stationsFindCmd.MarkFlagRequired("lon")

	stationsCmd.PersistentFlags().StringVar(&stationType, "type", models.StationTypeTidePredictions, "station type")
	stationsCmd.AddCommand(stationsFindCmd, stationsShowCmd, stationsProvisionCmd)
	rootCmd.AddCommand(stationsCmd)
}

func runStationsFind(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	loc := models.Location{Latitude: findLat, Longitude: findLon}
	found, err := a.locator.FindNearest(ctx, loc, findRadiusKm, findLimit, stationType)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		n, _ := a.catalog.Count(ctx, stationType)
		if n == 0 {
			return fmt.Errorf("station catalogue is empty; run 'marine-depth stations provision' first")
		}
		fmt.Fprintf(cmd.OutOrStdout(), "No %s stations within %.0f km of %s\n", stationType, findRadiusKm, loc)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tREGION\tDISTANCE")
	for _, s := range found {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f km\n", s.ID, s.Name, s.Region, s.DistanceKm)
	}
	return w.Flush()
}

func runStationsShow(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	st, err := a.locator.Station(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s  %s, %s\n", st.ID, st.Name, st.Region)
	fmt.Fprintf(out, "  location  %s\n", st.Location)
	if st.Timezone != "" {
		fmt.Fprintf(out, "  timezone  %s\n", st.Timezone)
	}

	now := a.clock.Now()
	if tz, err := time.LoadLocation(st.Timezone); err == nil && st.Timezone != "" {
		now = now.In(tz)
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := a.tides.HighLow(ctx, st.ID, models.TimeWindow{Start: day, End: day.Add(24 * time.Hour)})
	if err != nil {
		return fmt.Errorf("loading tides: %w", err)
	}
	models.SortPredictions(events)
	td := models.TideData{StationID: st.ID, StationName: st.Name, Predictions: events, UpdatedAt: now}

	today := td.EventsForDay(now)
	if len(today) == 0 {
		fmt.Fprintln(out, "  no tide events today")
		return nil
	}
	next := td.NextEvent(now)
	for _, e := range today {
		marker := " "
		if next != nil && e.Time.Equal(next.Time) {
			marker = ">"
		}
		fmt.Fprintf(out, "  %s %s %s  %6.2f m\n", marker, e.Time.In(now.Location()).Format("15:04"), e.Type, e.Height)
	}
	return nil
}

func runStationsProvision(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	p := stations.NewProvisioner(cfg.Endpoints.StationMetadata, a.catalog, logger)
	n, err := p.Provision(ctx, stationType)
	if err != nil {
		return err
	}
	total, err := a.catalog.Count(ctx, stationType)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added %d %s stations (%d catalogued)\n", n, stationType, total)
	return nil
}
