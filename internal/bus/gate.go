package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrGateIndex is returned when a gate slot outside the configured capacity is requested.
var ErrGateIndex = errors.New("gate index out of range")

// Gate is a set/wait signal. It is not a mutex: any number of goroutines may
// wait for it, and setting an already-set gate is a no-op.
//
// A reusable gate can be cleared after it has been observed. A one-shot gate
// ignores Clear, so once set it stays set.
type Gate struct {
	mu      sync.Mutex
	set     bool
	oneShot bool
	done    chan struct{}
	hooks   []func()
}

// NewGate creates an unset, reusable gate.
func NewGate() *Gate {
	return &Gate{done: make(chan struct{})}
}

// NewOneShotGate creates an unset gate that can never be cleared.
func NewOneShotGate() *Gate {
	return &Gate{done: make(chan struct{}), oneShot: true}
}

// Set sets the gate and runs the OnSet hooks if it was unset.
func (g *Gate) Set() {
	if g.transition() {
		g.mu.Lock()
		hooks := append([]func(){}, g.hooks...)
		g.mu.Unlock()
		for _, hook := range hooks {
			hook()
		}
	}
}

// Mirror sets the gate without running hooks.
// Transports use it to apply a set that originated on the other side of a pipe.
func (g *Gate) Mirror() {
	g.transition()
}

func (g *Gate) transition() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.set {
		return false
	}
	g.set = true
	close(g.done)
	return true
}

// Clear resets a reusable gate. One-shot gates are left untouched.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.oneShot || !g.set {
		return
	}
	g.set = false
	g.done = make(chan struct{})
}

// IsSet reports whether the gate is currently set.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

// Done returns a channel closed when the gate is set.
// After Clear a new channel is handed out, so callers re-read it every wait.
func (g *Gate) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Wait blocks until the gate is set or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnSet registers fn to run on every unset → set transition caused by Set.
func (g *Gate) OnSet(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hooks = append(g.hooks, fn)
}

// GateSet is a fixed-size array of one-shot gates, one per window slot.
type GateSet struct {
	gates []*Gate
}

// NewGateSet creates n one-shot gates.
func NewGateSet(n int) *GateSet {
	gates := make([]*Gate, n)
	for i := range gates {
		gates[i] = NewOneShotGate()
	}
	return &GateSet{gates: gates}
}

// At returns the gate for slot i.
func (s *GateSet) At(i int) (*Gate, error) {
	if i < 0 || i >= len(s.gates) {
		return nil, fmt.Errorf("%w: %d (capacity %d)", ErrGateIndex, i, len(s.gates))
	}
	return s.gates[i], nil
}

// Len returns the number of slots.
func (s *GateSet) Len() int {
	return len(s.gates)
}
