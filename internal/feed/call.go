// Package feed is the external data source multiplexed by the dispatch loop.
// Producers enqueue Calls; the loop pops and invokes them one at a time on
// its own goroutine, so chart updates never race UI handlers.
package feed

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/chartbus/internal/bus"
)

// ErrNoFunc is returned when a Call without a function is invoked.
var ErrNoFunc = errors.New("feed call has no function")

// Call is one deferred invocation: Fn(ctx, Args...).
type Call struct {
	Name string
	Fn   func(ctx context.Context, args ...any) error
	Args []any
}

// Invoke runs the call.
func (c Call) Invoke(ctx context.Context) error {
	if c.Fn == nil {
		return fmt.Errorf("%w: %s", ErrNoFunc, c.Name)
	}
	return c.Fn(ctx, c.Args...)
}

// Queue is the unbounded FIFO of pending calls.
type Queue = bus.Queue[Call]

// NewQueue creates an empty feed queue.
func NewQueue() *Queue {
	return bus.NewQueue[Call]()
}
