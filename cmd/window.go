package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/config"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/surface/headless"
	"github.com/zjrosen/chartbus/internal/surface/web"
	"github.com/zjrosen/chartbus/internal/tracing"
	"github.com/zjrosen/chartbus/internal/transport"
	"github.com/zjrosen/chartbus/internal/watcher"
	"github.com/zjrosen/chartbus/internal/window"
)

var windowCmd = &cobra.Command{
	Use:    "window",
	Short:  "Run the window process (started by the controller)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWindow,
}

func init() {
	rootCmd.AddCommand(windowCmd)
}

// runWindow serves the bus over the command's stdin/stdout. Nothing else may
// write to stdout.
func runWindow(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := setupLogging("chartbus-window")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tcfg := cfg.Tracing
	if tcfg.Exporter == "stdout" {
		log.Warn(log.CatConfig, "stdout trace exporter unavailable in the window process")
		tcfg.Exporter = "none"
	}
	tp, err := tracing.NewProvider(tcfg)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	provider, closeProvider, err := newSurfaceProvider(cfg.Surface)
	if err != nil {
		return err
	}
	defer func() { _ = closeProvider() }()

	link := bus.NewLink(cfg.MaxWindows)
	host := window.NewHost(link, provider, window.WithTracer(tp.Tracer()))
	conn := transport.Attach(ctx, transport.Window, link, cmd.InOrStdin(), cmd.OutOrStdout())
	defer conn.Close()

	// A vanished controller stops the window process.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			log.Info(log.CatWindow, "controller stream closed")
			cancel()
		case <-runCtx.Done():
		}
	}()

	if cfg.Surface.WatchMarkup {
		w, err := watcher.New(watcher.Config{Path: cfg.Surface.MarkupFile})
		if err != nil {
			return err
		}
		go func() { _ = w.Run(runCtx, host.Reload) }()
	}

	log.Info(log.CatWindow, "window process ready", "max_windows", cfg.MaxWindows, "surface", cfg.Surface.Kind)
	return host.Run(runCtx)
}

// newSurfaceProvider builds the configured provider and its cleanup.
func newSurfaceProvider(sc config.SurfaceConfig) (window.Provider, func() error, error) {
	switch sc.Kind {
	case "headless":
		return headless.New(headless.WithScreenSize(sc.ScreenWidth, sc.ScreenHeight)), func() error { return nil }, nil
	case "", "web":
		p, err := web.New(sc.Web())
		if err != nil {
			return nil, nil, fmt.Errorf("web surface: %w", err)
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown surface kind %q", sc.Kind)
}
