package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/ancsbridge/internal/events"
	"github.com/srg/ancsbridge/internal/groutine"
	"github.com/srg/ancsbridge/internal/manager"
	"github.com/srg/ancsbridge/internal/store"
	"github.com/srg/ancsbridge/internal/transport/bluez"
	"github.com/srg/ancsbridge/internal/transport/goble"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the phone and print its events",
	Long: `Scans for the phone advertising the discovery service, connects, subscribes to
the notification and media services and prints every event until interrupted.

The connection is re-established automatically when it drops.`,
	Example: `  # Print events, colored on a terminal
  ancsbridge run

  # JSON lines with battery updates, using a config file
  ancsbridge run --format json --battery --config ancsbridge.yaml`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

var (
	runFormat  string
	runBattery bool
	runAdapter string
	runNoBond  bool
)

func init() {
	runCmd.Flags().StringVarP(&runFormat, "format", "f", formatAuto, "Output format (auto, text, json)")
	runCmd.Flags().BoolVar(&runBattery, "battery", false, "Read the phone battery level after each write")
	runCmd.Flags().StringVar(&runAdapter, "adapter", bluez.DefaultAdapter, "BlueZ adapter used for pairing (Linux)")
	runCmd.Flags().BoolVar(&runNoBond, "no-bond", false, "Do not manage pairing through BlueZ")
	runCmd.Flags().Bool("verbose", false, "Enable debug logging")
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return err
	}
	r, err := newRenderer(cmd.OutOrStdout(), runFormat)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	opts := []goble.Option{goble.WithLogger(logger)}
	if bonder := connectBonder(logger); bonder != nil {
		defer bonder.Close()
		opts = append(opts, goble.WithBonder(bonder))
	}
	transport := goble.New(opts...)
	defer transport.Close()

	ch := events.NewChannel(cfg.EventBuffer, events.WithLogger(logger), events.WithBatteryReads(runBattery))
	history := store.NewMemory(cfg.HistorySize, logger)
	mgr := manager.New(transport, ch, cfg, manager.WithLogger(logger), manager.WithStore(history))

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	logger.WithField("service", cfg.DiscoveryService).Info("Scanning for phone")

	done := make(chan struct{})
	groutine.Go(ctx, "event-printer", func(context.Context) {
		defer close(done)
		printEvents(ch.Events(), r, history, logger)
	})

	<-ctx.Done()
	if err := mgr.Close(); err != nil {
		logger.WithField("error", err).Warn("Failed to close manager")
	}
	ch.Close()
	<-done

	updates, overwritten := history.Stats()
	logger.WithFields(logrus.Fields{
		"stored":      updates,
		"overwritten": overwritten,
		"dropped":     ch.Metrics().Overwritten,
	}).Debug("Bridge stopped")
	return ctx.Err()
}

// printEvents renders events until the stream closes. Canceled notifications leave the store.
func printEvents(stream <-chan events.Event, r *renderer, history *store.Memory, logger *logrus.Logger) {
	for ev := range stream {
		if ev.Kind == events.KindNotificationCanceled {
			history.Remove(ev.ID)
		}
		if err := r.Render(ev); err != nil {
			logger.WithField("error", err).Warn("Failed to print event")
		}
	}
}

// connectBonder opens BlueZ on Linux. Without it, pairing is left to the OS.
func connectBonder(logger *logrus.Logger) *bluez.Bonder {
	if runNoBond || runtime.GOOS != "linux" {
		return nil
	}
	bonder, err := bluez.Connect(runAdapter, logger)
	if err != nil {
		logger.WithField("error", err).Warn("BlueZ unavailable, pairing is left to the system")
		return nil
	}
	return bonder
}
