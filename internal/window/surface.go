// Package window implements the window process: the command loop that owns
// every window surface, and the bridge surfaces use to send callbacks back.
package window

import (
	"context"
	"errors"

	"github.com/zjrosen/chartbus/internal/bus"
)

var (
	// ErrSurfaceGone is returned by a Surface whose native window no longer exists.
	ErrSurfaceGone = errors.New("window surface is gone")
	// ErrStaleWindow ends the command loop when a command targets a window
	// that does not exist or whose surface is gone.
	ErrStaleWindow = errors.New("stale window reference")
)

// Surface is one rendered window.
type Surface interface {
	Show() error
	Hide() error
	EvaluateScript(script string) error
	// OnLoaded registers fn to run once, when the surface's content has loaded.
	OnLoaded(fn func())
	Close() error
}

// Provider creates surfaces and runs the GUI main loop.
type Provider interface {
	CreateWindow(opts bus.WindowOptions, bridge *Bridge) (Surface, error)
	// ScreenSize returns the primary screen size, used to resolve Maximize.
	ScreenSize() (width, height int)
	// Run blocks in the GUI main loop until every surface is closed or ctx is done.
	Run(ctx context.Context) error
}
