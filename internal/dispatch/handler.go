// Package dispatch runs the controller-side loop that multiplexes UI events
// from the window process with external feed calls and routes each event to
// its handler.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/chartbus/internal/log"
)

// Reserved event names with fixed routing.
const (
	SaveDrawings         = "save_drawings"
	OnSearch             = "on_search"
	OnHorizontalLineMove = "on_horizontal_line_move"
)

var (
	// ErrNoHandler is returned when an event name resolves to nothing.
	ErrNoHandler = errors.New("no handler for event")
	// ErrUnknownWindow is returned when an event names a window id that is not registered.
	ErrUnknownWindow = errors.New("unknown window")
)

// Invocation is one routed event: the handler name, the window that raised
// it, and the positional arguments. Widget handlers get nil Args.
type Invocation struct {
	Name   string
	Window Window
	Args   []string
}

// Arg returns the i-th argument or "" when absent.
func (inv Invocation) Arg(i int) string {
	if i < 0 || i >= len(inv.Args) {
		return ""
	}
	return inv.Args[i]
}

// Handler processes an Invocation.
type Handler interface {
	Handle(ctx context.Context, inv Invocation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// Widget is a UI element bound to an event name. Its value is replaced with
// the event's raw argument before its handler runs.
type Widget interface {
	SetValue(value string)
	Handler() Handler
}

// Window is the routing view of a registered window.
type Window interface {
	ID() string
	Widget(name string) (Widget, bool)
	Method(name string) (Handler, bool)
}

// Resolver looks windows up by id.
type Resolver interface {
	Lookup(id string) (Window, bool)
}

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so that the first one is the outermost wrapper.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// LoggingMiddleware logs every routed event with its duration and outcome.
func LoggingMiddleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, inv Invocation) error {
			start := time.Now()
			err := next.Handle(ctx, inv)
			duration := time.Since(start)

			windowID := ""
			if inv.Window != nil {
				windowID = inv.Window.ID()
			}

			if err != nil {
				log.Error(log.CatDispatch, "handler failed",
					"name", inv.Name,
					"window", windowID,
					"args", len(inv.Args),
					"duration", duration,
					"error", err.Error(),
				)
			} else {
				log.Debug(log.CatDispatch, "handler completed",
					"name", inv.Name,
					"window", windowID,
					"args", len(inv.Args),
					"duration", duration,
				)
			}
			return err
		})
	}
}

// RecoverMiddleware converts a handler panic into an error so the loop ends
// cleanly instead of crashing the process.
func RecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, inv Invocation) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("handler %s panicked: %v", inv.Name, r)
				}
			}()
			return next.Handle(ctx, inv)
		})
	}
}
