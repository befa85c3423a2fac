package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/feed"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/wire"
)

// Config wires a Loop to its sources and routing tables.
type Config struct {
	Exit    *bus.Gate
	Emit    *bus.Queue[bus.Event]
	Feed    *feed.Queue // optional
	Windows Resolver

	// Special maps the reserved event names to their handlers.
	Special map[string]Handler

	// Middlewares wrap every routed event handler, outermost first.
	Middlewares []Middleware
}

// Loop is the controller's dispatch loop.
type Loop struct {
	cfg Config
}

// NewLoop creates a Loop.
func NewLoop(cfg Config) *Loop {
	return &Loop{cfg: cfg}
}

// Run processes events until the exit gate is set, a handler fails, or ctx
// is cancelled.
//
// Each iteration checks, in order: exit gate, emit queue, feed queue. Only
// when all three are empty does it block, waking on whichever source becomes
// ready first. An observed exit gate is cleared before Run returns nil, so a
// later Run starts fresh. Cancellation returns nil.
func (l *Loop) Run(ctx context.Context) error {
	var feedReady <-chan struct{}
	if l.cfg.Feed != nil {
		feedReady = l.cfg.Feed.Ready()
	}

	for {
		if l.cfg.Exit.IsSet() {
			l.cfg.Exit.Clear()
			log.Debug(log.CatDispatch, "exit gate observed")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		if ev, ok := l.cfg.Emit.TryPop(); ok {
			if err := l.route(ctx, ev); err != nil {
				return interrupted(ctx, err)
			}
			continue
		}

		if l.cfg.Feed != nil {
			if call, ok := l.cfg.Feed.TryPop(); ok {
				if err := call.Invoke(ctx); err != nil {
					return interrupted(ctx, fmt.Errorf("feed call %s: %w", call.Name, err))
				}
				continue
			}
		}

		select {
		case <-l.cfg.Exit.Done():
		case <-l.cfg.Emit.Ready():
		case <-feedReady:
		case <-ctx.Done():
		}
	}
}

// interrupted maps a cancellation-caused failure to a clean stop.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Loop) route(ctx context.Context, ev bus.Event) error {
	if ev.IsReturn() {
		// Replies travel on the return queue; one here is a protocol slip, not a handler.
		log.Warn(log.CatDispatch, "return value on emit queue dropped", "window", ev.WindowID)
		return nil
	}

	inv, h, err := l.Resolve(ev)
	if err != nil {
		return err
	}
	return Chain(h, l.cfg.Middlewares...).Handle(ctx, inv)
}

// Resolve finds the handler for ev. Lookup order is fixed: a widget bound to
// the name, then the reserved names, then the window's method table.
func (l *Loop) Resolve(ev bus.Event) (Invocation, Handler, error) {
	win, ok := l.cfg.Windows.Lookup(ev.WindowID)
	if !ok {
		return Invocation{}, nil, fmt.Errorf("%w: %q (event %s)", ErrUnknownWindow, ev.WindowID, ev.Name)
	}

	inv := Invocation{Name: ev.Name, Window: win, Args: ev.Args}

	if w, ok := win.Widget(ev.Name); ok {
		inv.Args = nil
		return inv, widgetHandler{widget: w, value: wire.JoinArgs(ev.Args)}, nil
	}
	if h, ok := l.cfg.Special[ev.Name]; ok && h != nil {
		return inv, h, nil
	}
	if h, ok := win.Method(ev.Name); ok && h != nil {
		return inv, h, nil
	}
	return Invocation{}, nil, fmt.Errorf("%w: %q on window %q", ErrNoHandler, ev.Name, ev.WindowID)
}

// widgetHandler assigns the raw value before invoking the bound handler.
type widgetHandler struct {
	widget Widget
	value  string
}

func (h widgetHandler) Handle(ctx context.Context, inv Invocation) error {
	h.widget.SetValue(h.value)
	next := h.widget.Handler()
	if next == nil {
		return nil
	}
	return next.Handle(ctx, inv)
}
