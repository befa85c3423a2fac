package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/chartbus/internal/config"
	"github.com/zjrosen/chartbus/internal/dispatch"
	"github.com/zjrosen/chartbus/internal/drawings"
	"github.com/zjrosen/chartbus/internal/feed"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/pubsub"
	"github.com/zjrosen/chartbus/internal/session"
	"github.com/zjrosen/chartbus/internal/surface/headless"
	"github.com/zjrosen/chartbus/internal/tracing"
	"github.com/zjrosen/chartbus/internal/window"
)

// Scripts the demo sends to its chart markup.
const (
	setSymbolScript = `if (window.chartbus.setSymbol) { window.chartbus.setSymbol(%s); }`
	updateBarScript = `if (window.chartbus.updateBar) { window.chartbus.updateBar(%s); }`
	noMatchScript   = `if (window.chartbus.noMatch) { window.chartbus.noMatch(%s); }`
)

const exitTimeout = 5 * time.Second

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Open chart windows and route their events",
	Long: `Open one or more chart windows in a child window process, bind a symbol
selector and search box to each, persist toolbox drawings per symbol, and
stream live bars from the configured AMQP feed until the windows close or
the command is interrupted.

Example:
  chartbus demo                       # one chart, web surface
  chartbus demo --charts 3            # three charts in one window process
  chartbus demo --in-process          # headless host inside this process
  chartbus demo --markup chart.html   # serve this markup in every window`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var (
	demoCharts    int
	demoInProcess bool
)

func init() {
	rootCmd.AddCommand(demoCmd)

	demoCmd.Flags().IntVarP(&demoCharts, "charts", "n", 1, "number of chart windows")
	demoCmd.Flags().BoolVar(&demoInProcess, "in-process", false, "run a headless window host in this process")
}

// demo holds the per-run state the handlers share.
type demo struct {
	symbols *feed.Symbols

	mu      sync.Mutex
	widgets map[string]*session.Widget // chart id -> symbol selector
	charts  []*session.Chart
}

func runDemo(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := setupLogging("chartbus")
	if err != nil {
		return err
	}
	defer cleanup()

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if demoCharts < 1 || demoCharts > cfg.MaxWindows {
		return fmt.Errorf("--charts must be between 1 and %d", cfg.MaxWindows)
	}

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	store, err := drawings.Open(ctx, cfg.Drawings)
	if err != nil {
		return fmt.Errorf("drawings: %w", err)
	}
	defer func() { _ = store.Close() }()

	events := pubsub.NewBroker[pubsub.Lifecycle]()
	defer events.Close()
	go logLifecycle(ctx, events)

	d := &demo{
		symbols: feed.NewSymbols(cfg.Symbols...),
		widgets: make(map[string]*session.Widget),
	}
	bars := feed.NewQueue()

	sess := session.New(newLauncher(),
		session.WithMaxWindows(cfg.MaxWindows),
		session.WithFeed(bars),
		session.WithDrawingStore(store),
		session.WithEventBus(events),
		session.WithMiddleware(
			dispatch.RecoverMiddleware(),
			dispatch.LoggingMiddleware(),
			tracing.DispatchMiddleware(tp.Tracer()),
		),
		session.WithSearchHandler(dispatch.HandlerFunc(d.onSearch)),
		session.WithLineMoveHandler(dispatch.HandlerFunc(d.onLineMove)),
	)
	defer func() { _ = sess.Close() }()

	for i := range demoCharts {
		if err := d.addChart(ctx, sess, i); err != nil {
			return err
		}
	}

	if cfg.Feed.Enabled() {
		consumer, err := feed.Dial(ctx, cfg.Feed.Consumer(), bars)
		if err != nil {
			return fmt.Errorf("feed: %w", err)
		}
		defer func() { _ = consumer.Close() }()
		go func() {
			if err := consumer.Consume(ctx, d.onBar); err != nil {
				log.ErrorErr(log.CatFeed, "feed stopped", err)
			}
		}()
	}

	last := d.charts[len(d.charts)-1]
	for _, c := range d.charts[:len(d.charts)-1] {
		if err := c.Show(ctx); err != nil {
			return d.exit(err)
		}
	}
	return d.exit(last.ShowBlocking(ctx))
}

// newLauncher starts the window process as a child of this executable,
// or in-process and headless with --in-process.
func newLauncher() session.Launcher {
	if demoInProcess {
		return session.InProcessLauncher{NewProvider: func() window.Provider {
			return headless.New(headless.WithScreenSize(cfg.Surface.ScreenWidth, cfg.Surface.ScreenHeight))
		}}
	}
	args := []string{"window"}
	if used := viper.ConfigFileUsed(); used != "" {
		args = append(args, "--config", used)
	}
	if cfg.Surface.MarkupFile != "" {
		args = append(args, "--markup", cfg.Surface.MarkupFile)
	}
	return session.ExecLauncher{Args: args}
}

func (d *demo) addChart(ctx context.Context, sess *session.Session, i int) error {
	opts := cfg.Window.Options("")
	if demoCharts > 1 {
		opts.Title = fmt.Sprintf("%s %d", opts.Title, i+1)
	}
	c, err := session.NewChart(ctx, sess, opts)
	if err != nil {
		return err
	}

	symbol := c.BindWidget("symbol", dispatch.HandlerFunc(func(ctx context.Context, _ dispatch.Invocation) error {
		return d.loadSymbol(ctx, c)
	}))
	if known := d.symbols.Known(); len(known) > 0 {
		symbol.SetValue(known[i%len(known)])
	}
	if tb := c.Toolbox(); tb != nil {
		tb.SaveDrawingsUnder(symbol)
	}
	if err := c.OnLoad(ctx, func(ctx context.Context) error { return d.loadSymbol(ctx, c) }); err != nil {
		return err
	}

	d.mu.Lock()
	d.widgets[c.ID()] = symbol
	d.charts = append(d.charts, c)
	d.mu.Unlock()
	return nil
}

func (d *demo) symbolOf(c *session.Chart) *session.Widget {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.widgets[c.ID()]
}

// loadSymbol tells the chart its symbol and restores its drawings.
func (d *demo) loadSymbol(ctx context.Context, c *session.Chart) error {
	symbol := d.symbolOf(c).Value()
	if err := c.Run(fmt.Sprintf(setSymbolScript, jsonString(symbol))); err != nil {
		return err
	}
	if tb := c.Toolbox(); tb != nil {
		if _, err := tb.LoadDrawings(ctx, symbol); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) onSearch(ctx context.Context, inv dispatch.Invocation) error {
	c, ok := inv.Window.(*session.Chart)
	if !ok {
		return errors.New("search from unknown window")
	}
	query := inv.Arg(0)
	symbol, found := d.symbols.Resolve(query)
	if !found {
		log.Debug(log.CatSession, "search without match", "query", query)
		return c.Run(fmt.Sprintf(noMatchScript, jsonString(query)))
	}
	d.symbolOf(c).SetValue(symbol)
	return d.loadSymbol(ctx, c)
}

func (d *demo) onLineMove(_ context.Context, inv dispatch.Invocation) error {
	log.Info(log.CatSession, "horizontal line moved", "window", inv.Window.ID(), "line", inv.Arg(0), "price", inv.Arg(1))
	return nil
}

// onBar runs on the dispatch loop and forwards a bar to charts showing its instrument.
func (d *demo) onBar(_ context.Context, bar feed.Bar) error {
	body, err := json.Marshal(bar)
	if err != nil {
		return err
	}
	d.mu.Lock()
	charts := append([]*session.Chart(nil), d.charts...)
	d.mu.Unlock()

	for _, c := range charts {
		if d.symbolOf(c).Value() != bar.Instrument {
			continue
		}
		if err := c.Run(fmt.Sprintf(updateBarScript, body)); err != nil {
			return err
		}
	}
	return nil
}

// exit closes the window process after the dispatch loop ends. An interrupt
// counts as a clean stop.
func (d *demo) exit(runErr error) error {
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	if len(d.charts) == 0 {
		return runErr
	}
	ctx, cancel := context.WithTimeout(context.Background(), exitTimeout)
	defer cancel()
	if err := d.charts[0].Exit(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func logLifecycle(ctx context.Context, events pubsub.Subscriber[pubsub.Lifecycle]) {
	for ev := range events.Subscribe(ctx) {
		log.Debug(log.CatSession, string(ev.Type), "window", ev.Payload.WindowID, "index", ev.Payload.Index)
	}
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
