package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ngmaloney/marine-depth/internal/models"
)

var processSubmit bool

var processCmd = &cobra.Command{
	Use:   "process [file]",
	Short: "Correct a JSON array of depth readings and print the results",
	Long: `process reads a JSON array of depth readings from file, or stdin when no
file is given, corrects them and writes one result per reading to stdout.
With --submit the results are also sent to the Kafka sink and the sync
endpoint, queueing them when the endpoint cannot be reached.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().BoolVar(&processSubmit, "submit", false, "deliver results to the configured sink and sync endpoint")
	rootCmd.AddCommand(processCmd)
}

type processResult struct {
	ID        string                        `json:"id"`
	Processed *models.ProcessedDepthReading `json:"processed,omitempty"`
	Error     string                        `json:"error,omitempty"`
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening readings: %w", err)
		}
		defer f.Close()
		in = f
	}

	var readings []models.DepthReading
	if err := json.NewDecoder(in).Decode(&readings); err != nil {
		return fmt.Errorf("decoding readings: %w", err)
	}
	if len(readings) == 0 {
		return fmt.Errorf("no readings to process")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger, appOptions{sync: processSubmit, sink: processSubmit})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	a.ensureStations(ctx)

	outcomes := a.processor.Process(ctx, readings)
	results := make([]processResult, len(outcomes))
	for i, o := range outcomes {
		results[i].ID = readings[i].ID
		if o.Err != nil {
			results[i].Error = o.Err.Error()
			continue
		}
		v := o.Value
		results[i].Processed = &v
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
