package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/config"
	"github.com/zjrosen/chartbus/internal/surface/headless"
	"github.com/zjrosen/chartbus/internal/transport"
)

func TestNewSurfaceProvider(t *testing.T) {
	p, closeFn, err := newSurfaceProvider(config.SurfaceConfig{Kind: "headless", ScreenWidth: 800, ScreenHeight: 600})
	require.NoError(t, err)
	require.IsType(t, &headless.Provider{}, p)
	w, h := p.ScreenSize()
	require.Equal(t, 800, w)
	require.Equal(t, 600, h)
	require.NoError(t, closeFn())

	p, closeFn, err = newSurfaceProvider(config.SurfaceConfig{Kind: "web", Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, closeFn())

	_, _, err = newSurfaceProvider(config.SurfaceConfig{Kind: "gtk"})
	require.Error(t, err)
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestSymbolsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, config.WriteDefaultConfig(path))

	require.Contains(t, runRoot(t, "--config", path, "symbols", "resolve", "aapl"), "AAPL")

	runRoot(t, "--config", path, "symbols", "add", "eurusd", "AAPL")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "- EURUSD")
	require.Contains(t, string(data), "# Windows one window process can hold")
}

func TestWindowCommand_ServesBusOverStdio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("surface:\n  kind: headless\ntracing:\n  exporter: none\n"), 0o600))

	childIn, controllerOut := io.Pipe()
	controllerIn, childOut := io.Pipe()
	var stderr bytes.Buffer
	rootCmd.SetIn(childIn)
	rootCmd.SetOut(childOut)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--config", path, "--max-windows", "2", "window"})
	t.Cleanup(func() {
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	done := make(chan error, 1)
	go func() {
		done <- rootCmd.Execute()
		_ = childOut.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	link := bus.NewLink(2)
	conn := transport.Attach(ctx, transport.Controller, link, controllerIn, controllerOut)
	defer conn.Close()

	require.NoError(t, link.Submit(bus.NewCreateWindow(bus.WindowOptions{WindowID: "w0"})))
	require.NoError(t, link.Submit(bus.NewCreateWindow(bus.WindowOptions{WindowID: "w1"})))
	link.Start.Set()
	for i := range 2 {
		loaded, err := link.Loaded.At(i)
		require.NoError(t, err)
		require.NoError(t, loaded.Wait(ctx))
	}

	require.NoError(t, link.Submit(bus.NewShow(1)))
	require.NoError(t, link.Submit(bus.NewHide(1)))
	require.NoError(t, link.Submit(bus.NewExit(0)))
	require.NoError(t, link.Exit.Wait(ctx))

	select {
	case err := <-done:
		require.NoError(t, err, stderr.String())
	case <-ctx.Done():
		require.FailNow(t, "window command did not return after Exit")
	}
}

func TestJSONString(t *testing.T) {
	require.Equal(t, `"a\"b"`, jsonString(`a"b`))
}
