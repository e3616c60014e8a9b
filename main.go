// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"bandcast/cmd"
	"bandcast/internal/audio/device"
	"bandcast/internal/build"
	"bandcast/internal/client"
	"bandcast/internal/config"
	applog "bandcast/internal/log"
	"bandcast/internal/pipeline"
	"bandcast/internal/tui"
)

// main is the entry point for the band loudness broadcaster.
// The program flow is divided into three distinct phases:
//
// 1. Startup Phase (Cold Path):
//   - Initialize build information
//   - Configure runtime settings
//   - Parse command line arguments and load configuration
//   - Execute one-off commands if requested
//
// 2. Concurrent Phase (Hot Path):
//   - serve: source, analyzer and every network sink
//   - client: read the feed, optionally into the terminal monitor
//
// 3. Shutdown Phase (Cold Path):
//   - Handle termination signals
//   - Wait for the server or client to wind down
func main() {
	// ==================== STARTUP PHASE (Cold Path) ====================

	// Initialize build information including version, commit hash, and build time
	missing := build.Initialize()

	// Limit OS threads: the analyzer and the broadcast sweep are the only
	// busy goroutines.
	runtime.GOMAXPROCS(max(2, min(runtime.NumCPU(), 4)))

	// Parse command line arguments and build configuration
	cfg, err := cmd.ParseArgs()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if cfg == nil {
		return
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	if cfg.Debug {
		level = applog.LevelDebug
	}
	applog.SetLevel(level)
	if len(missing) > 0 {
		applog.Debugf("development build, no build flags for: %s", strings.Join(missing, ", "))
	}

	// Handle one-off commands that don't need a context
	switch cfg.Command {
	case config.CommandVersion:
		fmt.Println(build.GetBuildFlags())
		return
	case config.CommandDevices:
		if err := executeDevices(cfg); err != nil {
			applog.Fatalf("%v", err)
		}
		return
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Command {
	case config.CommandClient:
		err = runClient(ctx, cfg)
	default:
		applog.Infof("%s starting", build.GetBuildFlags().Name)
		err = pipeline.Run(ctx, cfg)
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	stop()
	if err != nil {
		applog.Errorf("%v", err)
		os.Exit(1)
	}
	applog.Infof("%s stopped", build.GetBuildFlags().Name)
}

// executeDevices lists the host's audio devices, or runs the interactive
// picker and prints the flags for the chosen one.
func executeDevices(cfg *config.Config) error {
	if !cfg.PickDevice {
		return device.ListDevices(os.Stdout)
	}
	sel, err := tui.PickDevice()
	if err != nil {
		return err
	}
	if sel != nil {
		fmt.Printf("%s serve %s\n", build.GetBuildFlags().Name, sel.Flags())
	}
	return nil
}

// runClient connects to a server and reads the feed until ctx is done or
// the server goes away. With the TUI the feed drives the band meters,
// otherwise receive statistics are logged once per second.
func runClient(ctx context.Context, cfg *config.Config) error {
	opts := client.Options{ReadTimeout: cfg.Client.ReadTimeout}
	c, err := client.Dial(ctx, cfg.Client.Address, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	if !cfg.Client.TUI {
		err := c.Run(ctx, nil, func(s client.Stats) {
			applog.Infof("average receive period %s, received %d, skipped %d",
				s.AveragePeriod, s.Received, s.Skipped)
		})
		if errors.Is(err, client.ErrClosed) {
			applog.Infof("server closed the connection")
			return nil
		}
		return err
	}

	// The monitor owns the terminal, log lines would tear it.
	applog.SetLevel(applog.LevelError)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitor := tui.NewMonitor(cfg.Client.Address, c.Config())
	done := make(chan error, 1)
	go func() {
		err := c.Run(ctx, monitor.OnFrame, monitor.OnStats)
		monitor.Done(err)
		done <- err
	}()

	if err := monitor.Run(); err != nil {
		return err
	}
	// Quitting the monitor stops the reader.
	cancel()
	if err := <-done; err != nil && !errors.Is(err, client.ErrClosed) {
		return err
	}
	return nil
}
