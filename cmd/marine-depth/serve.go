package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ngmaloney/marine-depth/internal/config"
	"github.com/ngmaloney/marine-depth/internal/models"
	"github.com/ngmaloney/marine-depth/internal/realtime"
	"github.com/ngmaloney/marine-depth/internal/server"
)

var (
	listenAddr    string
	storageDriver string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the depth correction service (default command)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "cache storage driver (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// Make serve the default command.
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger.Info("starting marine-depth",
		"version", Version,
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
		"providers", len(cfg.Providers),
		"realtime", cfg.Realtime.URL != "",
		"sync", cfg.Sync.Endpoint != "",
	)

	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, logger, appOptions{realtime: true, sync: true, sink: true})
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	a.ensureStations(ctx)

	srv := server.NewServer(cfg.ListenAddr, server.Deps{
		Ready:    a.readiness(),
		Readings: a.processor,
		Status:   a.status,
		Gatherer: a.registry,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		a.cache.RunMaintenance(gctx, cfg.Cache.MaintenanceInterval)
		return nil
	})
	if a.drainer != nil {
		g.Go(func() error {
			a.drainer.Run(gctx)
			return nil
		})
	}
	if a.distributor != nil {
		if err := startRealtime(gctx, g, a, cfg); err != nil {
			return err
		}
	}
	if len(cfg.Alerts.Locations) > 0 {
		locs := make([]models.Location, len(cfg.Alerts.Locations))
		for i, l := range cfg.Alerts.Locations {
			locs[i] = l.Location()
		}
		g.Go(func() error {
			a.processor.Watch(gctx, a.clock, locs, cfg.Alerts.Interval)
			return nil
		})
	}

	logger.Info("marine-depth ready", "addr", cfg.ListenAddr)

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		logger.Error("marine-depth exited with error", "error", waitErr)
		return waitErr
	}
	logger.Info("marine-depth shutdown complete")
	return nil
}

// startRealtime connects the distributor, watches the alert locations over
// it and kicks the sync drainer whenever the connection comes back.
func startRealtime(ctx context.Context, g *errgroup.Group, a *app, cfg *config.Config) error {
	events, stop := a.distributor.Listen(32)

	for _, l := range cfg.Alerts.Locations {
		name := l.Name
		_, err := a.distributor.Subscribe(l.Location(), realtime.EmergencyRadiusKm*5,
			[]string{realtime.DataAlert, realtime.DataDepth, realtime.DataTide}, 30*time.Second, realtime.PriorityNormal,
			func(u realtime.Update) {
				a.logger.Info("realtime update", "watch", name, "type", u.Type, "severity", u.Severity, "id", u.ID)
			})
		if err != nil {
			stop()
			return err
		}
	}

	if err := a.distributor.Connect(ctx); err != nil {
		stop()
		return err
	}

	g.Go(func() error {
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				switch ev.Type {
				case realtime.EventConnected:
					a.logger.Info("realtime connected")
					if a.drainer != nil {
						a.drainer.NotifyOnline()
					}
				case realtime.EventDisconnected:
					a.logger.Warn("realtime disconnected")
				case realtime.EventError:
					a.logger.Error("realtime error", "error", ev.Err)
				}
			}
		}
	})
	return nil
}
