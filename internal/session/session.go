// Package session owns the controller side of a chart session: it launches
// the window process on the first chart, hands out window indices, keeps the
// window registry, and runs the dispatch loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/dispatch"
	"github.com/zjrosen/chartbus/internal/drawings"
	"github.com/zjrosen/chartbus/internal/feed"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/pubsub"
)

var (
	// ErrWindowLimit is returned when a new chart would exceed the window capacity.
	ErrWindowLimit = errors.New("window limit reached")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotRunning is returned when no window process is running.
	ErrNotRunning = errors.New("window process not running")
)

// Session is the explicit coordinator shared by every chart of one window
// process.
type Session struct {
	launcher    Launcher
	maxWindows  int
	feed        *feed.Queue
	store       drawings.Store
	events      pubsub.Publisher[pubsub.Lifecycle]
	middlewares []dispatch.Middleware
	onSearch    dispatch.Handler
	onLineMove  dispatch.Handler

	// evalMu serializes evaluations: the return queue is shared by every window.
	evalMu sync.Mutex

	mu       sync.Mutex
	proc     Process
	next     int
	registry *Registry
	closed   bool
}

// Option configures a Session.
type Option func(*Session)

// WithMaxWindows sets the window capacity. n <= 0 keeps bus.DefaultMaxWindows.
func WithMaxWindows(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.maxWindows = n
		}
	}
}

// WithFeed multiplexes calls from q into the dispatch loop.
func WithFeed(q *feed.Queue) Option {
	return func(s *Session) {
		s.feed = q
	}
}

// WithDrawingStore enables chart toolboxes backed by store.
func WithDrawingStore(store drawings.Store) Option {
	return func(s *Session) {
		s.store = store
	}
}

// WithEventBus publishes window lifecycle events to b.
func WithEventBus(b pubsub.Publisher[pubsub.Lifecycle]) Option {
	return func(s *Session) {
		s.events = b
	}
}

// WithMiddleware wraps every routed event handler.
func WithMiddleware(mw ...dispatch.Middleware) Option {
	return func(s *Session) {
		s.middlewares = append(s.middlewares, mw...)
	}
}

// WithSearchHandler handles the on_search event.
func WithSearchHandler(h dispatch.Handler) Option {
	return func(s *Session) {
		s.onSearch = h
	}
}

// WithLineMoveHandler handles the on_horizontal_line_move event.
func WithLineMoveHandler(h dispatch.Handler) Option {
	return func(s *Session) {
		s.onLineMove = h
	}
}

// New creates a Session. No process is started until the first chart.
func New(launcher Launcher, opts ...Option) *Session {
	s := &Session{
		launcher:   launcher,
		maxWindows: bus.DefaultMaxWindows,
		registry:   NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxWindows returns the window capacity.
func (s *Session) MaxWindows() int {
	return s.maxWindows
}

// Registry returns the live window registry.
func (s *Session) Registry() *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry
}

// Store returns the drawing store, or nil when toolboxes are disabled.
func (s *Session) Store() drawings.Store {
	return s.store
}

// reserve takes the next window index and submits create for it, launching
// the process when this is the first window. Indices follow the order create
// commands reach the window process, so both happen under one lock.
func (s *Session) reserve(ctx context.Context, create bus.Command) (Process, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, 0, ErrSessionClosed
	}
	if s.next >= s.maxWindows {
		return nil, 0, fmt.Errorf("%w: %d windows", ErrWindowLimit, s.maxWindows)
	}
	if s.proc == nil {
		proc, err := s.launcher.Launch(ctx, s.maxWindows)
		if err != nil {
			return nil, 0, fmt.Errorf("launch window process: %w", err)
		}
		log.Info(log.CatSession, "window process launched", "max_windows", s.maxWindows)
		s.proc = proc
	}

	index := s.next
	if err := s.proc.Link().Submit(create); err != nil {
		return nil, 0, fmt.Errorf("create window %d: %w", index, err)
	}
	s.next++
	return s.proc, index, nil
}

// Process returns the running window process, or nil.
func (s *Session) Process() Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Reset forgets the process, the registry and the index counter, so the next
// chart starts a fresh window process. It does not terminate the process.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.proc = nil
	s.next = 0
	s.registry = NewRegistry()
	log.Debug(log.CatSession, "session reset")
}

// resetIf resets only while proc is still the session's process.
func (s *Session) resetIf(proc Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == proc {
		s.resetLocked()
	}
}

// terminate ends proc and, if it is still the session's process, resets.
func (s *Session) terminate(proc Process) error {
	if proc == nil {
		return nil
	}
	err := proc.Terminate()
	s.resetIf(proc)
	if err != nil {
		return fmt.Errorf("terminate window process: %w", err)
	}
	return nil
}

func (s *Session) publish(t pubsub.EventType, c *Chart) {
	if s.events == nil {
		return
	}
	s.events.Publish(t, pubsub.Lifecycle{WindowID: c.id, Index: c.index, Title: c.opts.Title})
}

// Dispatch runs the dispatch loop over the current process until its exit
// gate is set, a handler fails, or ctx is cancelled.
func (s *Session) Dispatch(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	proc, registry := s.proc, s.registry
	s.mu.Unlock()
	if proc == nil {
		return ErrNotRunning
	}

	link := proc.Link()
	loop := dispatch.NewLoop(dispatch.Config{
		Exit:        link.Exit,
		Emit:        link.Emit,
		Feed:        s.feed,
		Windows:     registry,
		Special:     s.specialHandlers(),
		Middlewares: s.middlewares,
	})
	log.Debug(log.CatSession, "dispatch loop started", "windows", registry.Len())
	return loop.Run(ctx)
}

func (s *Session) specialHandlers() map[string]dispatch.Handler {
	special := map[string]dispatch.Handler{
		dispatch.SaveDrawings: dispatch.HandlerFunc(s.saveDrawings),
	}
	if s.onSearch != nil {
		special[dispatch.OnSearch] = s.onSearch
	}
	if s.onLineMove != nil {
		special[dispatch.OnHorizontalLineMove] = s.onLineMove
	}
	return special
}

// saveDrawings routes save_drawings to the raising chart's toolbox.
func (s *Session) saveDrawings(ctx context.Context, inv dispatch.Invocation) error {
	chart, ok := inv.Window.(*Chart)
	if !ok {
		return fmt.Errorf("%w: %s from foreign window", dispatch.ErrNoHandler, inv.Name)
	}
	tb := chart.Toolbox()
	if tb == nil {
		return fmt.Errorf("%w: %s without a drawing store", dispatch.ErrNoHandler, inv.Name)
	}
	return tb.Handle(ctx, inv)
}

// Close terminates the window process and rejects further charts.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	proc := s.proc
	s.mu.Unlock()

	return s.terminate(proc)
}
