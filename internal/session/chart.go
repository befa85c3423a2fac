package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/dispatch"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/pubsub"
	"github.com/zjrosen/chartbus/internal/wire"
)

// LoadHook runs once, right after a chart's window reports loaded.
type LoadHook func(ctx context.Context) error

// Chart is the controller's handle to one window of the window process.
type Chart struct {
	id     string
	index  int
	opts   bus.WindowOptions
	sess   *Session
	proc   Process
	loaded *bus.Gate

	loadOnce sync.Once
	loadErr  error

	mu       sync.Mutex
	isLoaded bool
	pending  []string
	hooks    []LoadHook
	widgets  map[string]*Widget
	methods  map[string]dispatch.Handler
	toolbox  *Toolbox
}

// NewChart creates the next window of sess. The first chart launches the
// window process.
func NewChart(ctx context.Context, sess *Session, opts bus.WindowOptions) (*Chart, error) {
	opts.WindowID = uuid.New().String()
	proc, index, err := sess.reserve(ctx, bus.NewCreateWindow(opts))
	if err != nil {
		return nil, err
	}
	link := proc.Link()

	gate, err := link.Loaded.At(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWindowLimit, err)
	}

	c := &Chart{
		id:      opts.WindowID,
		index:   index,
		opts:    opts,
		sess:    sess,
		proc:    proc,
		loaded:  gate,
		widgets: make(map[string]*Widget),
		methods: make(map[string]dispatch.Handler),
	}

	if err := sess.Registry().Add(c); err != nil {
		return nil, err
	}

	log.Info(log.CatSession, "chart created", "window", c.id, "index", index, "title", opts.Title)
	sess.publish(pubsub.WindowCreated, c)
	return c, nil
}

// ID returns the window id used in callbacks.
func (c *Chart) ID() string { return c.id }

// Index returns the window's position in the window process.
func (c *Chart) Index() int { return c.index }

// Options returns the options the window was created with.
func (c *Chart) Options() bus.WindowOptions { return c.opts }

// IsLoaded reports whether the chart has been shown and its window loaded.
func (c *Chart) IsLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isLoaded
}

// Show shows the window. The first Show releases the start gate, blocks until
// this window has loaded, then runs the post-load hooks. Later calls submit a
// Show command and return immediately.
func (c *Chart) Show(ctx context.Context) error {
	if c.IsLoaded() {
		if err := c.submit(bus.NewShow(c.index)); err != nil {
			return err
		}
		c.sess.publish(pubsub.WindowShown, c)
		return nil
	}

	c.proc.Link().Start.Set()
	select {
	case <-c.loaded.Done():
	case <-c.proc.Done():
		return fmt.Errorf("%w: window %d never loaded", ErrNotRunning, c.index)
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.afterLoad(ctx)
}

// ShowBlocking shows the window and runs the dispatch loop until exit.
func (c *Chart) ShowBlocking(ctx context.Context) error {
	if err := c.Show(ctx); err != nil {
		return err
	}
	return c.sess.Dispatch(ctx)
}

// afterLoad flushes the scripts queued before load and runs the load hooks,
// exactly once.
func (c *Chart) afterLoad(ctx context.Context) error {
	c.loadOnce.Do(func() {
		c.mu.Lock()
		c.isLoaded = true
		pending, hooks := c.pending, c.hooks
		c.pending, c.hooks = nil, nil
		for _, script := range pending {
			if err := c.submit(bus.NewEvaluateScript(c.index, script)); err != nil {
				c.loadErr = err
				break
			}
		}
		c.mu.Unlock()
		if c.loadErr != nil {
			return
		}

		for _, hook := range hooks {
			if err := hook(ctx); err != nil {
				c.loadErr = fmt.Errorf("load hook for window %d: %w", c.index, err)
				return
			}
		}
		log.Debug(log.CatSession, "chart loaded", "window", c.id, "index", c.index, "scripts", len(pending))
		c.sess.publish(pubsub.WindowLoaded, c)
	})
	return c.loadErr
}

// OnLoad registers hook to run after load. A hook added after load runs now.
func (c *Chart) OnLoad(ctx context.Context, hook LoadHook) error {
	c.mu.Lock()
	if !c.isLoaded {
		c.hooks = append(c.hooks, hook)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return hook(ctx)
}

// Hide submits a Hide command and returns without waiting.
func (c *Chart) Hide() error {
	if err := c.submit(bus.NewHide(c.index)); err != nil {
		return err
	}
	c.sess.publish(pubsub.WindowHidden, c)
	return nil
}

// Exit closes the window process. A chart that never loaded only resets the
// session; a loaded one submits Exit and waits for the exit gate. The process
// is terminated in both cases.
func (c *Chart) Exit(ctx context.Context) (err error) {
	proc := c.proc
	defer func() {
		if terr := c.sess.terminate(proc); err == nil {
			err = terr
		}
	}()

	if !c.IsLoaded() {
		c.sess.resetIf(proc)
		log.Debug(log.CatSession, "exit before load, session reset", "window", c.id)
		return nil
	}

	link := proc.Link()
	if err := link.Submit(bus.NewExit(c.index)); err != nil {
		return fmt.Errorf("exit window %d: %w", c.index, err)
	}
	select {
	case <-link.Exit.Done():
	case <-proc.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Info(log.CatSession, "chart exited", "window", c.id, "index", c.index)
	c.sess.publish(pubsub.WindowExited, c)
	return nil
}

// Run evaluates script in the window. Scripts run before load are held and
// submitted in order once the window has loaded.
func (c *Chart) Run(script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isLoaded {
		c.pending = append(c.pending, script)
		return nil
	}
	return c.submit(bus.NewEvaluateScript(c.index, script))
}

// evaluateTemplate reports the value of an expression back on the return channel.
const evaluateTemplate = `(function () { let v; try { v = (%s); } catch (e) { v = "error: " + e; } window.chartbus.callback(%s + String(v)); })()`

// Evaluate runs expr in the window and waits for its value.
func (c *Chart) Evaluate(ctx context.Context, expr string) (string, error) {
	c.sess.evalMu.Lock()
	defer c.sess.evalMu.Unlock()

	ret := c.proc.Link().Return
	if stale := ret.Drain(); len(stale) > 0 {
		log.Warn(log.CatSession, "discarding stale return values", "count", len(stale))
	}

	prefix := wire.FormatCallback(bus.Event{Name: bus.ReturnName, WindowID: c.id}) + wire.Delimiter
	if err := c.Run(fmt.Sprintf(evaluateTemplate, expr, quote(prefix))); err != nil {
		return "", err
	}

	popCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.proc.Done():
			cancel()
		case <-popCtx.Done():
		}
	}()

	v, err := ret.Pop(popCtx)
	if err != nil {
		if ctx.Err() == nil {
			return "", fmt.Errorf("evaluate in window %d: %w", c.index, ErrNotRunning)
		}
		return "", fmt.Errorf("evaluate in window %d: %w", c.index, err)
	}
	return v, nil
}

// BindWidget binds a widget to the event name. Events with that name set the
// widget's value and then call h, which may be nil.
func (c *Chart) BindWidget(name string, h dispatch.Handler) *Widget {
	w := &Widget{name: name, handler: h}
	c.mu.Lock()
	c.widgets[name] = w
	c.mu.Unlock()
	return w
}

// SetMethod registers h under name in the window's method table.
func (c *Chart) SetMethod(name string, h dispatch.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.methods[name] = h
}

// Widget implements dispatch.Window.
func (c *Chart) Widget(name string) (dispatch.Widget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.widgets[name]
	if !ok {
		return nil, false
	}
	return w, true
}

// Method implements dispatch.Window.
func (c *Chart) Method(name string) (dispatch.Handler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.methods[name]
	return h, ok
}

// Toolbox returns the chart's drawing toolbox, or nil when the session has no
// drawing store.
func (c *Chart) Toolbox() *Toolbox {
	store := c.sess.Store()
	if store == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.toolbox == nil {
		c.toolbox = newToolbox(c, store)
	}
	return c.toolbox
}

func (c *Chart) submit(cmd bus.Command) error {
	if err := c.proc.Link().Submit(cmd); err != nil {
		return fmt.Errorf("%s to window %d: %w", cmd.Kind, c.index, err)
	}
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Widget is a UI element whose value is driven by the window.
type Widget struct {
	name    string
	handler dispatch.Handler

	mu    sync.Mutex
	value string
}

// Name returns the event name the widget is bound to.
func (w *Widget) Name() string { return w.name }

// Value returns the last value reported by the window.
func (w *Widget) Value() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

// SetValue implements dispatch.Widget.
func (w *Widget) SetValue(value string) {
	w.mu.Lock()
	w.value = value
	w.mu.Unlock()
}

// Handler implements dispatch.Widget.
func (w *Widget) Handler() dispatch.Handler {
	return w.handler
}
