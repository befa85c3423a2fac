// Package transport carries a bus.Link across a byte stream pair, normally
// the window process's stdin and stdout. Each side owns a full Link; the
// transport mirrors queue traffic and gate transitions onto the peer's Link.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/wire"
)

// Side selects which direction each queue flows.
type Side int

const (
	// Controller sends commands and start/exit gates; it receives events,
	// returns, loaded gates and exit.
	Controller Side = iota
	// Window is the mirror image of Controller.
	Window
)

func (s Side) String() string {
	if s == Controller {
		return "controller"
	}
	return "window"
}

// Conn is a running transport. It ends when the peer closes its stream,
// a frame cannot be read or written, or ctx is cancelled.
type Conn struct {
	side   Side
	link   *bus.Link
	reader *wire.Reader
	writer *wire.Writer
	closer io.Closer

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Attach starts pumping link over r and w. w is closed when the Conn ends
// if it implements io.Closer, so the peer sees EOF.
func Attach(ctx context.Context, side Side, link *bus.Link, r io.Reader, w io.Writer) *Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		side:   side,
		link:   link,
		reader: wire.NewReader(r, 0),
		writer: wire.NewWriter(w),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}

	c.hookGates()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.fail(c.readLoop(ctx))
	}()
	go func() {
		defer wg.Done()
		c.fail(c.writeLoop(ctx))
	}()
	go func() {
		wg.Wait()
		close(c.done)
	}()

	return c
}

// hookGates forwards local gate sets to the peer. Sets that arrive from the
// peer use Mirror, which skips these hooks, so nothing echoes back.
func (c *Conn) hookGates() {
	send := func(kind wire.GateKind, index int) func() {
		return func() {
			err := c.writer.WriteFrame(wire.Frame{Kind: wire.FrameGate, Gate: kind, GateIndex: index})
			if err != nil {
				log.Warn(log.CatTransport, "gate frame not sent", "side", c.side, "gate", kind, "error", err)
			}
		}
	}

	c.link.Exit.OnSet(send(wire.GateExit, 0))

	switch c.side {
	case Controller:
		c.link.Start.OnSet(send(wire.GateStart, 0))
	case Window:
		for i := 0; i < c.link.Loaded.Len(); i++ {
			g, _ := c.link.Loaded.At(i)
			g.OnSet(send(wire.GateLoaded, i))
		}
	}
}

func (c *Conn) readLoop(ctx context.Context) error {
	defer c.cancel()
	for {
		f, err := c.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				c.peerGone()
				return nil
			}
			c.peerGone()
			return fmt.Errorf("%s read: %w", c.side, err)
		}
		if err := c.apply(f); err != nil {
			return err
		}
	}
}

// peerGone unblocks anything waiting on the exit gate when the other side
// disappears without saying goodbye.
func (c *Conn) peerGone() {
	log.Debug(log.CatTransport, "peer stream closed", "side", c.side)
	c.link.Exit.Mirror()
}

func (c *Conn) apply(f wire.Frame) error {
	switch f.Kind {
	case wire.FrameCommand:
		if c.side != Window {
			return c.unexpected(f)
		}
		return ignoreClosed(c.link.Commands.Push(f.Command))
	case wire.FrameEmit:
		if c.side != Controller {
			return c.unexpected(f)
		}
		return ignoreClosed(c.link.Emit.Push(f.Event))
	case wire.FrameReturn:
		if c.side != Controller {
			return c.unexpected(f)
		}
		return ignoreClosed(c.link.Return.Push(f.Value))
	case wire.FrameGate:
		return c.applyGate(f)
	}
	return c.unexpected(f)
}

func (c *Conn) applyGate(f wire.Frame) error {
	switch f.Gate {
	case wire.GateStart:
		c.link.Start.Mirror()
	case wire.GateExit:
		c.link.Exit.Mirror()
	case wire.GateLoaded:
		g, err := c.link.Loaded.At(f.GateIndex)
		if err != nil {
			return fmt.Errorf("%s: %w", c.side, err)
		}
		g.Mirror()
	default:
		return c.unexpected(f)
	}
	return nil
}

func (c *Conn) unexpected(f wire.Frame) error {
	return fmt.Errorf("%w: %s side got %s frame", wire.ErrMalformed, c.side, f.Kind)
}

func ignoreClosed(err error) error {
	if errors.Is(err, bus.ErrQueueClosed) {
		return nil
	}
	return err
}

func (c *Conn) writeLoop(ctx context.Context) error {
	defer func() {
		if c.closer != nil {
			_ = c.closer.Close()
		}
	}()

	if c.side == Controller {
		for {
			cmd, err := c.link.Commands.Pop(ctx)
			if err != nil {
				return stopped(ctx, err)
			}
			if err := c.writer.WriteFrame(wire.Frame{Kind: wire.FrameCommand, Command: cmd}); err != nil {
				return fmt.Errorf("controller write: %w", err)
			}
		}
	}

	for {
		if ev, ok := c.link.Emit.TryPop(); ok {
			if err := c.writer.WriteFrame(wire.Frame{Kind: wire.FrameEmit, Event: ev}); err != nil {
				return fmt.Errorf("window write: %w", err)
			}
			continue
		}
		if v, ok := c.link.Return.TryPop(); ok {
			if err := c.writer.WriteFrame(wire.Frame{Kind: wire.FrameReturn, Value: v}); err != nil {
				return fmt.Errorf("window write: %w", err)
			}
			continue
		}
		select {
		case <-c.link.Emit.Ready():
		case <-c.link.Return.Ready():
		case <-ctx.Done():
			return nil
		}
	}
}

func stopped(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, bus.ErrQueueClosed) {
		return nil
	}
	return err
}

func (c *Conn) fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	log.ErrorErr(log.CatTransport, "transport failed", err, "side", c.side)
	c.cancel()
}

// Done is closed once both pumps have stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the Conn ends and returns the first pump error.
func (c *Conn) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the write pump, which closes the outgoing stream. The read
// pump ends when the peer closes its end.
func (c *Conn) Close() {
	c.cancel()
}
