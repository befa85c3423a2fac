package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/dispatch"
	"github.com/zjrosen/chartbus/internal/drawings"
	"github.com/zjrosen/chartbus/internal/pubsub"
	"github.com/zjrosen/chartbus/internal/surface/headless"
	"github.com/zjrosen/chartbus/internal/window"
	"github.com/zjrosen/chartbus/internal/wire"
)

const waitFor = 2 * time.Second

// headlessLauncher hands out a fresh headless provider per launch.
type headlessLauncher struct {
	mu        sync.Mutex
	providers []*headless.Provider
	opts      []headless.Option
}

func (l *headlessLauncher) Launch(ctx context.Context, maxWindows int) (Process, error) {
	return InProcessLauncher{NewProvider: func() window.Provider {
		p := headless.New(l.opts...)
		l.mu.Lock()
		l.providers = append(l.providers, p)
		l.mu.Unlock()
		return p
	}}.Launch(ctx, maxWindows)
}

func (l *headlessLauncher) launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.providers)
}

func (l *headlessLauncher) provider(i int) *headless.Provider {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.providers[i]
}

func newTestSession(t *testing.T, launcher *headlessLauncher, opts ...Option) *Session {
	t.Helper()
	sess := New(launcher, opts...)
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// surfaceOf waits until the host has created the chart's surface.
func surfaceOf(t *testing.T, launcher *headlessLauncher, c *Chart) *headless.Surface {
	t.Helper()
	var s *headless.Surface
	require.Eventually(t, func() bool {
		s = launcher.provider(launcher.launches() - 1).Surface(c.Index())
		return s != nil
	}, waitFor, time.Millisecond)
	return s
}

func TestNewChart_DenseIndicesUpToLimit(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxWindows := rapid.IntRange(1, 12).Draw(rt, "maxWindows")
		n := rapid.IntRange(1, maxWindows).Draw(rt, "charts")

		launcher := &headlessLauncher{}
		sess := New(launcher, WithMaxWindows(maxWindows))
		defer sess.Close()

		ctx := context.Background()
		ids := make(map[string]bool)
		for i := range n {
			c, err := NewChart(ctx, sess, bus.WindowOptions{})
			require.NoError(rt, err)
			require.Equal(rt, i, c.Index())
			require.False(rt, ids[c.ID()], "ids are never reused")
			ids[c.ID()] = true
		}
		require.Equal(rt, 1, launcher.launches(), "only the first chart launches a process")
		require.Equal(rt, n, sess.Registry().Len())

		for range maxWindows - n {
			_, err := NewChart(ctx, sess, bus.WindowOptions{})
			require.NoError(rt, err)
		}
		_, err := NewChart(ctx, sess, bus.WindowOptions{})
		require.ErrorIs(rt, err, ErrWindowLimit)
	})
}

func TestChart_ShowBlocksUntilLoadedAndFlushesScripts(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{Title: "AAPL"})
	require.NoError(t, err)
	require.NoError(t, c.Run("drawSeries()"))

	surface := surfaceOf(t, launcher, c)
	require.False(t, surface.Loaded(), "nothing loads before the start gate")
	require.Empty(t, surface.Scripts(), "scripts are held until load")

	var hooked atomic.Int32
	require.NoError(t, c.OnLoad(ctx, func(context.Context) error {
		hooked.Add(1)
		return nil
	}))

	require.NoError(t, c.Show(ctx))
	require.True(t, c.IsLoaded())
	require.True(t, surface.Loaded())
	require.Equal(t, int32(1), hooked.Load())

	require.Eventually(t, func() bool { return len(surface.Scripts()) == 1 }, waitFor, time.Millisecond)
	require.Equal(t, []string{"drawSeries()"}, surface.Scripts())
	require.Equal(t, c.ID(), surface.Options().WindowID, "the id travels with the create command")

	// A second Show only submits a Show command; hooks do not rerun.
	require.NoError(t, c.Show(ctx))
	require.Eventually(t, surface.Visible, waitFor, time.Millisecond)
	require.Equal(t, int32(1), hooked.Load())

	require.NoError(t, c.OnLoad(ctx, func(context.Context) error {
		hooked.Add(1)
		return nil
	}))
	require.Equal(t, int32(2), hooked.Load(), "hooks added after load run immediately")
}

func TestChart_HideIsFireAndForget(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Show(ctx))
	require.NoError(t, c.Show(ctx))

	surface := surfaceOf(t, launcher, c)
	require.Eventually(t, surface.Visible, waitFor, time.Millisecond)

	require.NoError(t, c.Hide())
	require.NoError(t, c.Hide())
	require.Eventually(t, func() bool { return !surface.Visible() }, waitFor, time.Millisecond)
}

func TestChart_HideBeforeShow(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Hide())

	surface := surfaceOf(t, launcher, c)
	time.Sleep(20 * time.Millisecond)
	require.False(t, surface.Visible())
	require.False(t, c.proc.Link().Exit.IsSet(), "hiding an unshown window keeps the process up")
	select {
	case <-c.proc.Done():
		require.FailNow(t, "window process stopped")
	default:
	}

	require.NoError(t, c.Show(ctx))
	require.True(t, c.IsLoaded())
}

func TestChart_ExitBeforeLoadResetsSession(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	first, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	proc := sess.Process()
	require.NotNil(t, proc)

	require.NoError(t, first.Exit(ctx))
	require.Nil(t, sess.Process())
	require.Zero(t, sess.Registry().Len())
	select {
	case <-proc.Done():
	default:
		t.Fatal("process still running after exit")
	}

	second, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	require.Equal(t, 0, second.Index(), "indices restart after reset")
	require.Equal(t, 2, launcher.launches())
}

func TestChart_ExitAfterLoadWaitsForExitGate(t *testing.T) {
	launcher := &headlessLauncher{}
	events := pubsub.NewBroker[pubsub.Lifecycle]()
	defer events.Close()
	sess := newTestSession(t, launcher, WithEventBus(events))
	ctx := testContext(t)
	sub := events.Subscribe(ctx)

	c, err := NewChart(ctx, sess, bus.WindowOptions{Title: "exit"})
	require.NoError(t, err)
	require.NoError(t, c.Show(ctx))
	proc := sess.Process()

	require.NoError(t, c.Exit(ctx))
	require.True(t, proc.Link().Exit.IsSet())
	<-proc.Done()
	require.Nil(t, sess.Process())

	var got []pubsub.EventType
	for len(got) < 3 {
		select {
		case ev := <-sub:
			require.Equal(t, c.ID(), ev.Payload.WindowID)
			got = append(got, ev.Type)
		case <-ctx.Done():
			t.Fatalf("lifecycle events missing, got %v", got)
		}
	}
	require.Equal(t, []pubsub.EventType{pubsub.WindowCreated, pubsub.WindowLoaded, pubsub.WindowExited}, got)
}

func TestChart_Evaluate(t *testing.T) {
	launcher := &headlessLauncher{opts: []headless.Option{
		headless.WithScriptFunc(func(s *headless.Surface, script string) {
			if strings.Contains(script, "return_~_") {
				_ = s.Return("ignored", "42")
			}
		}),
	}}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Show(ctx))

	v, err := c.Evaluate(ctx, "6 * 7")
	require.NoError(t, err)
	require.Equal(t, "42", v)

	scripts := surfaceOf(t, launcher, c).Scripts()
	last := scripts[len(scripts)-1]
	require.Contains(t, last, "(6 * 7)")
	require.Contains(t, last, `"return_~_`+c.ID()+`_~_"`)
}

func TestChart_ShowBlockingRoutesEventsUntilWindowsClose(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)

	var mu sync.Mutex
	var calls []string
	record := func(s string) {
		mu.Lock()
		calls = append(calls, s)
		mu.Unlock()
	}
	symbol := c.BindWidget("symbol", dispatch.HandlerFunc(func(_ context.Context, inv dispatch.Invocation) error {
		record("widget:" + inv.Name + ":" + strings.Join(inv.Args, ","))
		return nil
	}))
	c.SetMethod("range_change", dispatch.HandlerFunc(func(_ context.Context, inv dispatch.Invocation) error {
		record("method:" + strings.Join(inv.Args, ","))
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- c.ShowBlocking(ctx) }()

	surface := surfaceOf(t, launcher, c)
	require.Eventually(t, surface.Loaded, waitFor, time.Millisecond)
	require.NoError(t, surface.Emit(bus.Event{Name: "symbol", WindowID: c.ID(), Args: []string{"TSLA"}}))
	require.NoError(t, surface.Emit(bus.Event{Name: "range_change", WindowID: c.ID(), Args: []string{"1", "2"}}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, waitFor, time.Millisecond)
	require.Equal(t, []string{"widget:symbol:", "method:1,2"}, calls)
	require.Equal(t, "TSLA", symbol.Value())

	surface.UserClose()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("dispatch did not stop when the window closed")
	}
}

func TestChart_UnknownEventStopsDispatch(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Show(ctx))

	surface := surfaceOf(t, launcher, c)
	require.NoError(t, surface.Emit(bus.Event{Name: "nobody_listens", WindowID: c.ID()}))
	require.ErrorIs(t, sess.Dispatch(ctx), dispatch.ErrNoHandler)
}

func TestToolbox_SaveRejoinsDelimitedDrawings(t *testing.T) {
	launcher := &headlessLauncher{}
	store := drawings.NewMemoryStore()
	sess := newTestSession(t, launcher, WithDrawingStore(store))
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	symbol := c.BindWidget("symbol", nil)
	symbol.SetValue("AAPL")
	c.Toolbox().SaveDrawingsUnder(symbol)

	body := `[{"type":"text","text":"buy;;;sell"}]`
	inv := dispatch.Invocation{Name: dispatch.SaveDrawings, Args: wire.SplitArgs(body)}
	require.Len(t, inv.Args, 2)
	require.NoError(t, c.Toolbox().Handle(ctx, inv))

	saved, found, err := store.Load(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, body, string(saved))
}

// recordingPublisher keeps every published lifecycle event type.
type recordingPublisher struct {
	mu    sync.Mutex
	types []pubsub.EventType
}

func (r *recordingPublisher) Publish(t pubsub.EventType, _ pubsub.Lifecycle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, t)
}

func (r *recordingPublisher) published() []pubsub.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pubsub.EventType(nil), r.types...)
}

func TestWithEventBus_AcceptsAnyPublisher(t *testing.T) {
	launcher := &headlessLauncher{}
	events := &recordingPublisher{}
	sess := newTestSession(t, launcher, WithEventBus(events))
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	require.NoError(t, c.Hide())
	require.Equal(t, []pubsub.EventType{pubsub.WindowCreated, pubsub.WindowHidden}, events.published())
}

func TestToolbox_SavesUnderWidgetValue(t *testing.T) {
	launcher := &headlessLauncher{}
	store := drawings.NewMemoryStore()
	var searched atomic.Value
	sess := newTestSession(t, launcher,
		WithDrawingStore(store),
		WithSearchHandler(dispatch.HandlerFunc(func(_ context.Context, inv dispatch.Invocation) error {
			searched.Store(inv.Arg(0))
			return nil
		})),
	)
	ctx := testContext(t)

	c, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	tb := c.Toolbox()
	require.NotNil(t, tb)
	require.Same(t, tb, c.Toolbox())

	symbol := c.BindWidget("symbol", nil)
	tb.SaveDrawingsUnder(symbol)
	require.NoError(t, c.Show(ctx))

	surface := surfaceOf(t, launcher, c)
	require.NoError(t, surface.Emit(bus.Event{Name: "symbol", WindowID: c.ID(), Args: []string{"AAPL"}}))
	require.NoError(t, surface.Emit(bus.Event{Name: dispatch.SaveDrawings, WindowID: c.ID(), Args: []string{`[{"type":"ray"}]`}}))
	require.NoError(t, surface.Emit(bus.Event{Name: dispatch.OnSearch, WindowID: c.ID(), Args: []string{"msft"}}))

	dispatchCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- sess.Dispatch(dispatchCtx) }()

	require.Eventually(t, func() bool { return searched.Load() != nil }, waitFor, time.Millisecond)
	stop()
	require.NoError(t, <-done)
	require.Equal(t, "msft", searched.Load())

	body, found, err := store.Load(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, found)
	require.JSONEq(t, `[{"type":"ray"}]`, string(body))

	found, err = tb.LoadDrawings(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, found)
	require.Eventually(t, func() bool {
		scripts := surface.Scripts()
		return len(scripts) > 0 && strings.Contains(scripts[len(scripts)-1],`loadDrawings([{"type":"ray"}])`)
	}, waitFor, time.Millisecond)

	found, err = tb.LoadDrawings(ctx, "NONE")
	require.NoError(t, err)
	require.False(t, found)
}

func TestToolbox_SaveWithoutWidget(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := newTestSession(t, launcher, WithDrawingStore(drawings.NewMemoryStore()))

	c, err := NewChart(testContext(t), sess, bus.WindowOptions{})
	require.NoError(t, err)
	err = c.Toolbox().Handle(context.Background(), dispatch.Invocation{Name: dispatch.SaveDrawings, Args: []string{"[]"}})
	require.ErrorIs(t, err, ErrNoSaveWidget)
}

func TestSession_ClosedRejectsCharts(t *testing.T) {
	launcher := &headlessLauncher{}
	sess := New(launcher)
	ctx := testContext(t)

	_, err := NewChart(ctx, sess, bus.WindowOptions{})
	require.NoError(t, err)
	proc := sess.Process()

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	<-proc.Done()

	_, err = NewChart(ctx, sess, bus.WindowOptions{})
	require.ErrorIs(t, err, ErrSessionClosed)
	require.ErrorIs(t, sess.Dispatch(ctx), ErrSessionClosed)
}

type failingLauncher struct{}

func (failingLauncher) Launch(context.Context, int) (Process, error) {
	return nil, errors.New("no display")
}

func TestSession_LaunchFailure(t *testing.T) {
	sess := New(failingLauncher{})
	_, err := NewChart(context.Background(), sess, bus.WindowOptions{})
	require.ErrorContains(t, err, "no display")
	require.ErrorIs(t, sess.Dispatch(context.Background()), ErrNotRunning)
}
