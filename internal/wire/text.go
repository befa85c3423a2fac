// Package wire encodes the messages exchanged between window surfaces, the
// window process and the controller.
//
// Two encodings exist. The callback text format is what window-surface script
// code sends through the bridge: fields joined by Delimiter, positional args
// joined by ArgDelimiter. The frame format is a length-prefixed protobuf
// tagged-field encoding used across the process pipe; it has no delimiter
// collisions and round-trips any payload.
package wire

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/chartbus/internal/bus"
)

const (
	// Delimiter separates name, window id and args in a callback message.
	Delimiter = "_~_"
	// ArgDelimiter separates positional args inside the args field.
	ArgDelimiter = ";;;"
)

// ErrMalformed is returned for messages that cannot be decoded.
var ErrMalformed = errors.New("malformed message")

// Message is a parsed callback message before its args are split.
type Message struct {
	Name     string
	WindowID string
	Raw      string // everything after the window id, still joined
	HasArgs  bool
}

// ParseCallback splits a callback message into name, window id and raw args.
// Delimiters after the second one are kept inside Raw, so a payload that
// happens to contain Delimiter reaches the handler intact.
func ParseCallback(message string) (Message, error) {
	parts := strings.SplitN(message, Delimiter, 3)
	if len(parts) < 2 {
		return Message{}, fmt.Errorf("%w: %q has no window id", ErrMalformed, message)
	}
	if parts[0] == "" {
		return Message{}, fmt.Errorf("%w: %q has no name", ErrMalformed, message)
	}

	msg := Message{Name: parts[0], WindowID: parts[1]}
	if len(parts) == 3 {
		msg.Raw = parts[2]
		msg.HasArgs = true
	}
	return msg, nil
}

// IsReturn reports whether the message is a synchronous reply.
func (m Message) IsReturn() bool {
	return m.Name == bus.ReturnName
}

// Event converts the message into an Event, splitting Raw on ArgDelimiter.
func (m Message) Event() bus.Event {
	ev := bus.Event{Name: m.Name, WindowID: m.WindowID}
	if m.HasArgs {
		ev.Args = SplitArgs(m.Raw)
	}
	return ev
}

// FormatCallback renders ev in the callback text format.
func FormatCallback(ev bus.Event) string {
	if ev.Args == nil {
		return ev.Name + Delimiter + ev.WindowID
	}
	return ev.Name + Delimiter + ev.WindowID + Delimiter + JoinArgs(ev.Args)
}

// JoinArgs joins positional args into one field.
func JoinArgs(args []string) string {
	return strings.Join(args, ArgDelimiter)
}

// SplitArgs splits one field into positional args. An empty field is one
// empty argument, matching what script code sends for a blank input.
func SplitArgs(raw string) []string {
	return strings.Split(raw, ArgDelimiter)
}
