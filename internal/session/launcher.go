package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/transport"
	"github.com/zjrosen/chartbus/internal/window"
)

// TerminateGrace is how long a child gets to exit after the terminate
// signal before it is killed.
const TerminateGrace = 3 * time.Second

// Process is a running window process as seen by the controller.
type Process interface {
	// Link is the controller's end of the bus.
	Link() *bus.Link
	// Terminate stops the process and waits for it. Calling it again is a no-op.
	Terminate() error
	// Done is closed once the process has stopped.
	Done() <-chan struct{}
}

// Launcher starts window processes.
type Launcher interface {
	Launch(ctx context.Context, maxWindows int) (Process, error)
}

// ExecLauncher runs the window process as a child program speaking the wire
// protocol on its stdin and stdout.
type ExecLauncher struct {
	// Path is the program to run. Empty runs the current executable.
	Path string
	// Args are the arguments before --max-windows. Nil means {"window"}.
	Args []string
	// Stderr receives the child's stderr. Nil means os.Stderr.
	Stderr io.Writer
	// Env is the child's environment. Nil inherits this process's.
	Env []string
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(ctx context.Context, maxWindows int) (Process, error) {
	path := l.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}
	args := l.Args
	if args == nil {
		args = []string{"window"}
	}
	args = append(slices.Clone(args), "--max-windows", strconv.Itoa(maxWindows))

	// The child outlives the caller's ctx; Terminate ends it.
	cmd := exec.Command(path, args...) //nolint:gosec // G204: path is our own executable or configured
	cmd.Env = l.Env
	cmd.Stderr = l.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	link := bus.NewLink(maxWindows)
	p := &childProcess{
		cmd:  cmd,
		link: link,
		conn: transport.Attach(context.WithoutCancel(ctx), transport.Controller, link, stdout, stdin),
		done: make(chan struct{}),
	}
	go p.wait()
	log.Debug(log.CatSession, "window process started", "pid", cmd.Process.Pid, "path", path)
	return p, nil
}

type childProcess struct {
	cmd  *exec.Cmd
	link *bus.Link
	conn *transport.Conn

	done    chan struct{}
	waitErr error
	once    sync.Once
}

// wait reaps the child after the transport has drained its stdout.
func (p *childProcess) wait() {
	<-p.conn.Done()
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *childProcess) Link() *bus.Link       { return p.link }
func (p *childProcess) Done() <-chan struct{} { return p.done }

func (p *childProcess) Terminate() error {
	p.once.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.conn.Close()
		if err := terminateProcess(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warn(log.CatSession, "terminate signal failed", "pid", p.cmd.Process.Pid, "error", err)
		}
		select {
		case <-p.done:
		case <-time.After(TerminateGrace):
			log.Warn(log.CatSession, "window process ignored terminate, killing", "pid", p.cmd.Process.Pid)
			_ = p.cmd.Process.Kill()
			<-p.done
		}
	})
	return nil
}

// InProcessLauncher runs the window host on goroutines of this process,
// sharing one Link with the controller.
type InProcessLauncher struct {
	// NewProvider builds the surface provider for each launch.
	NewProvider func() window.Provider
	HostOptions []window.HostOption
}

// Launch implements Launcher.
func (l InProcessLauncher) Launch(ctx context.Context, maxWindows int) (Process, error) {
	if l.NewProvider == nil {
		return nil, errors.New("in-process launcher: no provider")
	}
	link := bus.NewLink(maxWindows)
	host := window.NewHost(link, l.NewProvider(), l.HostOptions...)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &inProcess{link: link, cancel: cancel, done: make(chan struct{})}
	go func() {
		p.err = host.Run(runCtx)
		close(p.done)
	}()
	return p, nil
}

type inProcess struct {
	link   *bus.Link
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (p *inProcess) Link() *bus.Link       { return p.link }
func (p *inProcess) Done() <-chan struct{} { return p.done }

func (p *inProcess) Terminate() error {
	p.cancel()
	<-p.done
	return p.err
}
