package window

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/zjrosen/chartbus/internal/bus"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/wire"
)

// Bridge is the object window scripts call into. It never blocks: both
// queues are unbounded, so a callback from a UI thread returns immediately.
type Bridge struct {
	emit *bus.Queue[bus.Event]
	ret  *bus.Queue[string]
}

// NewBridge creates a bridge onto link's emit and return queues.
func NewBridge(link *bus.Link) *Bridge {
	return &Bridge{emit: link.Emit, ret: link.Return}
}

// Callback accepts a message in the delimited text format.
// A "return" message is pushed to the return queue with its raw value;
// anything else becomes an event.
func (b *Bridge) Callback(message string) error {
	msg, err := wire.ParseCallback(message)
	if err != nil {
		log.Warn(log.CatWindow, "dropping malformed callback", "error", err)
		return err
	}
	if msg.IsReturn() {
		return b.ret.Push(msg.Raw)
	}
	return b.emit.Push(msg.Event())
}

// CallbackFrame accepts one or more length-prefixed binary events.
// A return event carries its value as the single argument.
func (b *Bridge) CallbackFrame(data []byte) error {
	r := wire.NewReader(bytes.NewReader(data), len(data))
	for {
		f, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			log.Warn(log.CatWindow, "dropping malformed frame", "error", err)
			return err
		}
		if f.Kind != wire.FrameEmit {
			return fmt.Errorf("%w: surface sent %s frame", wire.ErrMalformed, f.Kind)
		}
		if err := b.push(f.Event); err != nil {
			return err
		}
	}
}

func (b *Bridge) push(ev bus.Event) error {
	if !ev.IsReturn() {
		return b.emit.Push(ev)
	}
	if len(ev.Args) == 1 {
		return b.ret.Push(ev.Args[0])
	}
	return b.ret.Push(wire.JoinArgs(ev.Args))
}
