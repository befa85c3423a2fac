// Package headless provides an in-memory window.Provider. It renders
// nothing; it records what each surface was asked to do and lets callers
// play the part of the window script. It backs tests and `--surface headless`.
package headless

import (
	"context"
	"sync"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/window"
	"github.com/zjrosen/chartbus/internal/wire"
)

// ScriptFunc observes every script a surface evaluates. Tests use it to
// answer evaluations through the bridge.
type ScriptFunc func(s *Surface, script string)

// Provider is an in-memory window.Provider.
type Provider struct {
	mu         sync.Mutex
	surfaces   []*Surface
	running    bool
	width      int
	height     int
	onScript   ScriptFunc
	created    chan *Surface
	allClosed  chan struct{}
	closedOnce sync.Once
}

// Option configures a Provider.
type Option func(*Provider)

// WithScreenSize sets the size reported by ScreenSize.
func WithScreenSize(width, height int) Option {
	return func(p *Provider) {
		p.width, p.height = width, height
	}
}

// WithScriptFunc registers fn for every evaluated script.
func WithScriptFunc(fn ScriptFunc) Option {
	return func(p *Provider) {
		p.onScript = fn
	}
}

// New creates a Provider with a 1920x1080 screen.
func New(opts ...Option) *Provider {
	p := &Provider{
		width:     1920,
		height:    1080,
		created:   make(chan *Surface, bus.DefaultMaxWindows*4),
		allClosed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateWindow implements window.Provider.
func (p *Provider) CreateWindow(opts bus.WindowOptions, bridge *window.Bridge) (window.Surface, error) {
	p.mu.Lock()
	s := &Surface{
		provider: p,
		bridge:   bridge,
		index:    len(p.surfaces),
		opts:     opts,
	}
	p.surfaces = append(p.surfaces, s)
	running := p.running
	p.mu.Unlock()

	select {
	case p.created <- s:
	default:
	}
	if running {
		s.load()
	}
	return s, nil
}

// ScreenSize implements window.Provider.
func (p *Provider) ScreenSize() (int, int) {
	return p.width, p.height
}

// Run loads every surface created so far, then blocks until ctx is done or
// every surface was closed by the user.
func (p *Provider) Run(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	pending := append([]*Surface(nil), p.surfaces...)
	p.mu.Unlock()

	for _, s := range pending {
		s.load()
	}

	select {
	case <-ctx.Done():
		return nil
	case <-p.allClosed:
		log.Debug(log.CatSurface, "all headless surfaces closed")
		return nil
	}
}

// Created delivers each surface as it is created.
func (p *Provider) Created() <-chan *Surface {
	return p.created
}

// Surfaces returns every surface created so far, in index order.
func (p *Provider) Surfaces() []*Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Surface(nil), p.surfaces...)
}

// Surface returns the surface at index, or nil.
func (p *Provider) Surface(index int) *Surface {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.surfaces) {
		return nil
	}
	return p.surfaces[index]
}

// CloseAll simulates the user closing every window.
func (p *Provider) CloseAll() {
	for _, s := range p.Surfaces() {
		s.UserClose()
	}
}

func (p *Provider) checkAllClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.surfaces {
		if !s.isGone() {
			return
		}
	}
	p.closedOnce.Do(func() { close(p.allClosed) })
}

func (p *Provider) scriptFunc() ScriptFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onScript
}

// Surface is an in-memory window.Surface.
type Surface struct {
	provider *Provider
	bridge   *window.Bridge
	index    int
	opts     bus.WindowOptions

	mu       sync.Mutex
	visible  bool
	gone     bool
	loaded   bool
	scripts  []string
	onLoaded []func()
}

// Index is the creation index of the surface.
func (s *Surface) Index() int { return s.index }

// Options returns the resolved window options.
func (s *Surface) Options() bus.WindowOptions { return s.opts }

// Show implements window.Surface.
func (s *Surface) Show() error {
	return s.setVisible(true)
}

// Hide implements window.Surface.
func (s *Surface) Hide() error {
	return s.setVisible(false)
}

func (s *Surface) setVisible(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return window.ErrSurfaceGone
	}
	s.visible = v
	return nil
}

// EvaluateScript implements window.Surface.
func (s *Surface) EvaluateScript(script string) error {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return window.ErrSurfaceGone
	}
	s.scripts = append(s.scripts, script)
	s.mu.Unlock()

	if fn := s.provider.scriptFunc(); fn != nil {
		fn(s, script)
	}
	return nil
}

// OnLoaded implements window.Surface.
func (s *Surface) OnLoaded(fn func()) {
	s.mu.Lock()
	if !s.loaded {
		s.onLoaded = append(s.onLoaded, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

func (s *Surface) load() {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return
	}
	s.loaded = true
	hooks := s.onLoaded
	s.onLoaded = nil
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Close implements window.Surface.
func (s *Surface) Close() error {
	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()
	return nil
}

// UserClose simulates the user closing the window.
func (s *Surface) UserClose() {
	s.mu.Lock()
	s.gone = true
	s.mu.Unlock()
	s.provider.checkAllClosed()
}

func (s *Surface) isGone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}

// Visible reports whether the surface is shown.
func (s *Surface) Visible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible
}

// Loaded reports whether the loaded hooks have fired.
func (s *Surface) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Scripts returns every evaluated script in order.
func (s *Surface) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scripts...)
}

// Emit sends ev through the bridge as the window script would.
func (s *Surface) Emit(ev bus.Event) error {
	return s.bridge.Callback(wire.FormatCallback(ev))
}

// Return answers an evaluation through the bridge.
func (s *Surface) Return(windowID, value string) error {
	return s.bridge.Callback(wire.FormatCallback(bus.Event{
		Name:     bus.ReturnName,
		WindowID: windowID,
		Args:     []string{value},
	}))
}
