package session

import (
	"context"
	"os"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/surface/headless"
	"github.com/zjrosen/chartbus/internal/transport"
	"github.com/zjrosen/chartbus/internal/window"
)

// helperEnv marks a re-exec of the test binary that serves as a window process.
const helperEnv = "CHARTBUS_SESSION_WINDOW_HELPER"

func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(runWindowHelper())
	}
	os.Exit(m.Run())
}

// runWindowHelper serves a headless window host over stdin and stdout, the
// way the window command does.
func runWindowHelper() int {
	maxWindows := 1
	if i := slices.Index(os.Args, "--max-windows"); i >= 0 && i+1 < len(os.Args) {
		n, err := strconv.Atoi(os.Args[i+1])
		if err != nil {
			return 2
		}
		maxWindows = n
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link := bus.NewLink(maxWindows)
	host := window.NewHost(link, headless.New())
	conn := transport.Attach(ctx, transport.Window, link, os.Stdin, os.Stdout)
	defer conn.Close()
	go func() {
		<-conn.Done()
		cancel()
	}()

	if err := host.Run(ctx); err != nil {
		return 1
	}
	return 0
}

func helperLauncher(t *testing.T) ExecLauncher {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return ExecLauncher{
		Path: exe,
		Args: []string{"window"},
		Env:  append(os.Environ(), helperEnv+"=1"),
	}
}

func TestExecLauncher_ChildProcessLifecycle(t *testing.T) {
	sess := New(helperLauncher(t), WithMaxWindows(2))
	t.Cleanup(func() { _ = sess.Close() })
	ctx := testContext(t)

	first, err := NewChart(ctx, sess, bus.WindowOptions{Title: "first"})
	require.NoError(t, err)
	second, err := NewChart(ctx, sess, bus.WindowOptions{Title: "second"})
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, []int{first.Index(), second.Index()})

	proc := sess.Process()
	require.NotNil(t, proc)
	require.IsType(t, &childProcess{}, proc)

	// Load gates cross the pipe from the child.
	require.NoError(t, first.Show(ctx))
	require.True(t, first.IsLoaded())
	require.NoError(t, second.Show(ctx))
	require.True(t, second.IsLoaded())

	require.NoError(t, first.Hide())
	require.NoError(t, first.Show(ctx))

	require.NoError(t, first.Exit(ctx))
	require.True(t, proc.Link().Exit.IsSet())
	select {
	case <-proc.Done():
	case <-time.After(waitFor):
		require.FailNow(t, "child process was not reaped")
	}
	require.Nil(t, sess.Process(), "the session resets once its process ends")
	require.NoError(t, proc.Terminate(), "terminating a reaped child is a no-op")
}

func TestExecLauncher_TerminateBeforeShow(t *testing.T) {
	launcher := helperLauncher(t)
	proc, err := launcher.Launch(testContext(t), 1)
	require.NoError(t, err)

	require.NoError(t, proc.Terminate())
	select {
	case <-proc.Done():
	default:
		require.FailNow(t, "Terminate returned before the child was reaped")
	}
}

func TestExecLauncher_MissingProgram(t *testing.T) {
	_, err := ExecLauncher{Path: "/nonexistent/chartbus-window"}.Launch(context.Background(), 1)
	require.Error(t, err)
}
