package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zjrosen/chartbus/internal/bus"
)

// FrameKind identifies the payload carried by a Frame.
type FrameKind int

const (
	// FrameCommand carries a bus.Command from the controller to the window process.
	FrameCommand FrameKind = iota + 1
	// FrameEmit carries a bus.Event from the window process to the controller.
	FrameEmit
	// FrameReturn carries a synchronous script reply.
	FrameReturn
	// FrameGate carries a gate transition.
	FrameGate
)

func (k FrameKind) String() string {
	switch k {
	case FrameCommand:
		return "command"
	case FrameEmit:
		return "emit"
	case FrameReturn:
		return "return"
	case FrameGate:
		return "gate"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// GateKind identifies which gate a FrameGate sets.
type GateKind int

const (
	GateStart GateKind = iota + 1
	GateLoaded
	GateExit
)

// Frame is one unit on the process pipe. Only the field matching Kind is used.
type Frame struct {
	Kind      FrameKind
	Command   bus.Command
	Event     bus.Event
	Value     string
	Gate      GateKind
	GateIndex int
}

// Field numbers. They are part of the wire format and must not be renumbered.
const (
	frameKindField      protowire.Number = 1
	frameCommandField   protowire.Number = 2
	frameEventField     protowire.Number = 3
	frameValueField     protowire.Number = 4
	frameGateField      protowire.Number = 5
	frameGateIndexField protowire.Number = 6

	cmdIDField      protowire.Number = 1
	cmdKindField    protowire.Number = 2
	cmdIndexField   protowire.Number = 3
	cmdScriptField  protowire.Number = 4
	cmdCreateField  protowire.Number = 5
	cmdCreatedField protowire.Number = 6

	optMarkupField      protowire.Number = 1
	optTitleField       protowire.Number = 2
	optOnTopField       protowire.Number = 3
	optWidthField       protowire.Number = 4
	optHeightField      protowire.Number = 5
	optXField           protowire.Number = 6
	optYField           protowire.Number = 7
	optHasPositionField protowire.Number = 8
	optMaximizeField    protowire.Number = 9
	optDebugField       protowire.Number = 10
	optWindowIDField    protowire.Number = 11

	evNameField     protowire.Number = 1
	evWindowIDField protowire.Number = 2
	evArgField      protowire.Number = 3
)

// AppendFrame appends the encoding of f to b.
func AppendFrame(b []byte, f Frame) []byte {
	b = appendVarintField(b, frameKindField, uint64(f.Kind))
	switch f.Kind {
	case FrameCommand:
		b = appendMessageField(b, frameCommandField, appendCommand(nil, f.Command))
	case FrameEmit:
		b = appendMessageField(b, frameEventField, AppendEvent(nil, f.Event))
	case FrameReturn:
		b = appendStringField(b, frameValueField, f.Value)
	case FrameGate:
		b = appendVarintField(b, frameGateField, uint64(f.Gate))
		b = appendVarintField(b, frameGateIndexField, uint64(f.GateIndex))
	}
	return b
}

// DecodeFrame decodes one frame body.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == frameKindField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Kind = FrameKind(v)
			return n, nil
		case num == frameCommandField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			cmd, err := decodeCommand(v)
			f.Command = cmd
			return n, err
		case num == frameEventField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			ev, err := DecodeEvent(v)
			f.Event = ev
			return n, err
		case num == frameValueField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			f.Value = v
			return n, nil
		case num == frameGateField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Gate = GateKind(v)
			return n, nil
		case num == frameGateIndexField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.GateIndex = int(v)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return Frame{}, err
	}
	if f.Kind < FrameCommand || f.Kind > FrameGate {
		return Frame{}, fmt.Errorf("%w: frame kind %s", ErrMalformed, f.Kind)
	}
	return f, nil
}

// AppendEvent appends the tagged-field encoding of ev to b. Args are a
// repeated field, so an empty argument list and one empty argument differ.
func AppendEvent(b []byte, ev bus.Event) []byte {
	b = appendStringField(b, evNameField, ev.Name)
	b = appendStringField(b, evWindowIDField, ev.WindowID)
	for _, arg := range ev.Args {
		b = appendStringField(b, evArgField, arg)
	}
	return b
}

// DecodeEvent decodes an event encoded by AppendEvent.
func DecodeEvent(b []byte) (bus.Event, error) {
	var ev bus.Event
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeString(b)
		switch num {
		case evNameField:
			ev.Name = v
		case evWindowIDField:
			ev.WindowID = v
		case evArgField:
			ev.Args = append(ev.Args, v)
		}
		return n, nil
	})
	if err != nil {
		return bus.Event{}, err
	}
	if ev.Name == "" {
		return bus.Event{}, fmt.Errorf("%w: event without name", ErrMalformed)
	}
	return ev, nil
}

func appendCommand(b []byte, cmd bus.Command) []byte {
	b = appendStringField(b, cmdIDField, cmd.ID)
	b = appendVarintField(b, cmdKindField, uint64(cmd.Kind))
	b = appendVarintField(b, cmdIndexField, protowire.EncodeZigZag(int64(cmd.Index)))
	if cmd.Script != "" {
		b = appendStringField(b, cmdScriptField, cmd.Script)
	}
	if cmd.Create != nil {
		b = appendMessageField(b, cmdCreateField, appendOptions(nil, *cmd.Create))
	}
	if !cmd.CreatedAt.IsZero() {
		b = appendVarintField(b, cmdCreatedField, protowire.EncodeZigZag(cmd.CreatedAt.UnixNano()))
	}
	return b
}

func decodeCommand(b []byte) (bus.Command, error) {
	var cmd bus.Command
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == cmdIDField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			cmd.ID = v
			return n, nil
		case num == cmdKindField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			cmd.Kind = bus.CommandKind(v)
			return n, nil
		case num == cmdIndexField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			cmd.Index = int(protowire.DecodeZigZag(v))
			return n, nil
		case num == cmdScriptField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			cmd.Script = v
			return n, nil
		case num == cmdCreateField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			opts, err := decodeOptions(v)
			cmd.Create = &opts
			return n, err
		case num == cmdCreatedField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			cmd.CreatedAt = time.Unix(0, protowire.DecodeZigZag(v))
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return cmd, err
}

func appendOptions(b []byte, o bus.WindowOptions) []byte {
	b = appendStringField(b, optMarkupField, o.Markup)
	b = appendStringField(b, optTitleField, o.Title)
	b = appendVarintField(b, optOnTopField, protowire.EncodeBool(o.OnTop))
	b = appendVarintField(b, optWidthField, protowire.EncodeZigZag(int64(o.Width)))
	b = appendVarintField(b, optHeightField, protowire.EncodeZigZag(int64(o.Height)))
	b = appendVarintField(b, optXField, protowire.EncodeZigZag(int64(o.X)))
	b = appendVarintField(b, optYField, protowire.EncodeZigZag(int64(o.Y)))
	b = appendVarintField(b, optHasPositionField, protowire.EncodeBool(o.HasPosition))
	b = appendVarintField(b, optMaximizeField, protowire.EncodeBool(o.Maximize))
	b = appendVarintField(b, optDebugField, protowire.EncodeBool(o.Debug))
	b = appendStringField(b, optWindowIDField, o.WindowID)
	return b
}

func decodeOptions(b []byte) (bus.WindowOptions, error) {
	var o bus.WindowOptions
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ == protowire.BytesType {
			v, n := protowire.ConsumeString(b)
			switch num {
			case optMarkupField:
				o.Markup = v
			case optTitleField:
				o.Title = v
			case optWindowIDField:
				o.WindowID = v
			}
			return n, nil
		}
		if typ != protowire.VarintType {
			return protowire.ConsumeFieldValue(num, typ, b), nil
		}
		v, n := protowire.ConsumeVarint(b)
		switch num {
		case optOnTopField:
			o.OnTop = protowire.DecodeBool(v)
		case optWidthField:
			o.Width = int(protowire.DecodeZigZag(v))
		case optHeightField:
			o.Height = int(protowire.DecodeZigZag(v))
		case optXField:
			o.X = int(protowire.DecodeZigZag(v))
		case optYField:
			o.Y = int(protowire.DecodeZigZag(v))
		case optHasPositionField:
			o.HasPosition = protowire.DecodeBool(v)
		case optMaximizeField:
			o.Maximize = protowire.DecodeBool(v)
		case optDebugField:
			o.Debug = protowire.DecodeBool(v)
		}
		return n, nil
	})
	return o, err
}

// consumeFields walks the tagged fields of b, calling fn with the bytes after
// each tag. fn returns how many bytes the field value used, or a negative
// protowire error code.
func consumeFields(b []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessageField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
