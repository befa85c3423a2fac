package window

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
)

// ReloadScript makes a surface reload its markup.
const ReloadScript = "location.reload()"

// Host is the window process command loop. It owns every surface; surfaces
// are addressed by creation order, so the n-th CreateWindow is index n.
type Host struct {
	link     *bus.Link
	provider Provider
	bridge   *Bridge
	tracer   trace.Tracer

	mu       sync.Mutex
	surfaces []Surface
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithTracer records one span per executed command.
func WithTracer(t trace.Tracer) HostOption {
	return func(h *Host) {
		if t != nil {
			h.tracer = t
		}
	}
}

// NewHost creates a Host serving link with provider.
func NewHost(link *bus.Link, provider Provider, opts ...HostOption) *Host {
	h := &Host{
		link:     link,
		provider: provider,
		bridge:   NewBridge(link),
		tracer:   noop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Bridge returns the callback bridge handed to every surface.
func (h *Host) Bridge() *Bridge {
	return h.bridge
}

// Run executes commands until an Exit command, a stale window reference, or
// ctx is done. The provider's GUI loop starts once the start gate is set;
// when it returns because the user closed every window, the exit gate is set.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopDone := make(chan error, 1)
	go func() {
		err := h.loop(ctx)
		cancel()
		loopDone <- err
	}()
	// The controller may end the process by setting the exit gate directly.
	go func() {
		select {
		case <-h.link.Exit.Done():
			log.Debug(log.CatWindow, "exit gate set, stopping host")
			cancel()
		case <-ctx.Done():
		}
	}()

	var runErr error
	select {
	case <-h.link.Start.Done():
		log.Debug(log.CatWindow, "start gate released, entering GUI loop")
		runErr = h.provider.Run(ctx)
	case <-ctx.Done():
	}

	h.link.Exit.Set()
	cancel()
	loopErr := <-loopDone
	h.closeAll()

	if loopErr != nil {
		return loopErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("gui loop: %w", runErr)
	}
	return nil
}

func (h *Host) loop(ctx context.Context) error {
	for {
		cmd, err := h.link.Commands.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrQueueClosed) {
				return nil
			}
			return err
		}

		exit, err := h.execute(ctx, cmd)
		if err != nil {
			log.ErrorErr(log.CatWindow, "command loop stopped", err,
				"command", cmd.Kind, "index", cmd.Index, "command_id", cmd.ID)
			return err
		}
		if exit {
			return nil
		}
	}
}

// execute runs one command and reports whether it was Exit.
func (h *Host) execute(ctx context.Context, cmd bus.Command) (exit bool, err error) {
	_, span := h.tracer.Start(ctx, "window.command."+cmd.Kind.String(),
		trace.WithAttributes(
			attribute.String("command.id", cmd.ID),
			attribute.Int("window.index", cmd.Index),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	switch cmd.Kind {
	case bus.CmdCreateWindow:
		return false, h.createWindow(cmd)
	case bus.CmdShow:
		return false, h.apply(cmd, Surface.Show)
	case bus.CmdHide:
		return false, h.apply(cmd, Surface.Hide)
	case bus.CmdEvaluateScript:
		return false, h.apply(cmd, func(s Surface) error { return s.EvaluateScript(cmd.Script) })
	case bus.CmdExit:
		log.Debug(log.CatWindow, "exit command received")
		h.link.Exit.Set()
		return true, nil
	}
	return false, fmt.Errorf("%w: %s", bus.ErrInvalidCommand, cmd.Kind)
}

func (h *Host) createWindow(cmd bus.Command) error {
	if cmd.Create == nil {
		return fmt.Errorf("%w: create without options", bus.ErrInvalidCommand)
	}
	opts := *cmd.Create
	if opts.Maximize {
		opts.Width, opts.Height = h.provider.ScreenSize()
		opts.X, opts.Y, opts.HasPosition = 0, 0, true
	}

	h.mu.Lock()
	index := len(h.surfaces)
	h.mu.Unlock()

	gate, err := h.link.Loaded.At(index)
	if err != nil {
		return err
	}

	surface, err := h.provider.CreateWindow(opts, h.bridge)
	if err != nil {
		return fmt.Errorf("create window %d: %w", index, err)
	}

	h.mu.Lock()
	h.surfaces = append(h.surfaces, surface)
	h.mu.Unlock()

	surface.OnLoaded(func() {
		log.Debug(log.CatWindow, "window loaded", "index", index)
		gate.Set()
	})
	log.Info(log.CatWindow, "window created", "index", index, "title", opts.Title,
		"width", opts.Width, "height", opts.Height)
	return nil
}

func (h *Host) apply(cmd bus.Command, fn func(Surface) error) error {
	surface, ok := h.surface(cmd.Index)
	if !ok {
		return fmt.Errorf("%w: %s to index %d", ErrStaleWindow, cmd.Kind, cmd.Index)
	}
	if err := fn(surface); err != nil {
		if errors.Is(err, ErrSurfaceGone) {
			return fmt.Errorf("%w: %s to index %d: %w", ErrStaleWindow, cmd.Kind, cmd.Index, err)
		}
		return fmt.Errorf("%s to index %d: %w", cmd.Kind, cmd.Index, err)
	}
	return nil
}

func (h *Host) surface(index int) (Surface, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.surfaces) {
		return nil, false
	}
	return h.surfaces[index], true
}

// Len returns how many windows have been created.
func (h *Host) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.surfaces)
}

// Reload asks every live surface to reload its markup. Surfaces that are
// already gone are skipped.
func (h *Host) Reload() error {
	h.mu.Lock()
	surfaces := append([]Surface(nil), h.surfaces...)
	h.mu.Unlock()

	var errs []error
	for i, s := range surfaces {
		if err := s.EvaluateScript(ReloadScript); err != nil && !errors.Is(err, ErrSurfaceGone) {
			errs = append(errs, fmt.Errorf("reload window %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Host) closeAll() {
	h.mu.Lock()
	surfaces := h.surfaces
	h.mu.Unlock()

	for i, s := range surfaces {
		if err := s.Close(); err != nil && !errors.Is(err, ErrSurfaceGone) {
			log.Warn(log.CatWindow, "close window failed", "index", i, "error", err)
		}
	}
}
