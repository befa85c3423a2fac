package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/chartbus/internal/bus"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected bus.Event
		isReturn bool
		raw      string
	}{
		{
			name:     "event with one arg",
			message:  "on_search_~_win1_~_AAPL",
			expected: bus.Event{Name: "on_search", WindowID: "win1", Args: []string{"AAPL"}},
			raw:      "AAPL",
		},
		{
			name:     "event with several args",
			message:  "on_horizontal_line_move_~_win2_~_line-7;;;101.5",
			expected: bus.Event{Name: "on_horizontal_line_move", WindowID: "win2", Args: []string{"line-7", "101.5"}},
			raw:      "line-7;;;101.5",
		},
		{
			name:     "return reply",
			message:  "return_~_win1_~_42",
			expected: bus.Event{Name: "return", WindowID: "win1", Args: []string{"42"}},
			isReturn: true,
			raw:      "42",
		},
		{
			name:     "no args field",
			message:  "on_click_~_win3",
			expected: bus.Event{Name: "on_click", WindowID: "win3"},
		},
		{
			name:     "empty args field is one empty arg",
			message:  "on_search_~_win1_~_",
			expected: bus.Event{Name: "on_search", WindowID: "win1", Args: []string{""}},
		},
		{
			name:     "delimiter inside payload stays in raw",
			message:  "save_drawings_~_win1_~_{\"a\":\"x_~_y\"}",
			expected: bus.Event{Name: "save_drawings", WindowID: "win1", Args: []string{"{\"a\":\"x_~_y\"}"}},
			raw:      "{\"a\":\"x_~_y\"}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseCallback(tt.message)
			require.NoError(t, err)
			require.Equal(t, tt.isReturn, msg.IsReturn())
			if tt.raw != "" {
				require.Equal(t, tt.raw, msg.Raw)
			}
			require.Equal(t, tt.expected, msg.Event())
		})
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	for _, message := range []string{"", "no-delimiter", "_~_win1_~_x"} {
		_, err := ParseCallback(message)
		require.ErrorIs(t, err, ErrMalformed, "message %q", message)
	}
}

func TestFormatCallback_RoundTrip(t *testing.T) {
	ev := bus.Event{Name: "on_search", WindowID: "w", Args: []string{"a", "b"}}
	msg, err := ParseCallback(FormatCallback(ev))
	require.NoError(t, err)
	require.Equal(t, ev, msg.Event())

	bare := bus.Event{Name: "on_click", WindowID: "w"}
	msg, err = ParseCallback(FormatCallback(bare))
	require.NoError(t, err)
	require.Equal(t, bare, msg.Event())
}

// argGen draws strings that contain no delimiter characters.
func argGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[A-Za-z0-9 .,:{}"\-]{0,12}`)
}

func TestProperty_JoinSplitIsIdentity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		args := rapid.SliceOfN(argGen(), 1, 8).Draw(t, "args")
		require.Equal(t, args, SplitArgs(JoinArgs(args)))
	})
}

func TestProperty_EventCodecRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ev := bus.Event{
			Name:     rapid.StringN(1, 20, -1).Draw(t, "name"),
			WindowID: rapid.String().Draw(t, "windowID"),
		}
		// Arbitrary strings, delimiters included: the frame encoding has no reserved bytes.
		args := rapid.SliceOfN(rapid.String(), 0, 6).Draw(t, "args")
		if len(args) > 0 {
			ev.Args = args
		}

		got, err := DecodeEvent(AppendEvent(nil, ev))
		require.NoError(t, err)
		require.Equal(t, ev, got)
	})
}

func TestProperty_FrameStreamRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(t, "frames")
		frames := make([]Frame, 0, n)
		for i := range n {
			frames = append(frames, frameGen().Draw(t, "frame"+string(rune('a'+i))))
		}

		var buf bytes.Buffer
		w := NewWriter(&buf)
		for _, f := range frames {
			require.NoError(t, w.WriteFrame(f))
		}

		r := NewReader(&buf, 0)
		for _, expected := range frames {
			got, err := r.ReadFrame()
			require.NoError(t, err)
			requireFrameEqual(t, expected, got)
		}
		_, err := r.ReadFrame()
		require.ErrorIs(t, err, io.EOF)
	})
}

func frameGen() *rapid.Generator[Frame] {
	return rapid.Custom(func(t *rapid.T) Frame {
		switch rapid.IntRange(1, 4).Draw(t, "kind") {
		case 1:
			cmd := bus.NewEvaluateScript(rapid.IntRange(0, 9).Draw(t, "index"), rapid.String().Draw(t, "script"))
			if rapid.Bool().Draw(t, "create") {
				cmd = bus.NewCreateWindow(bus.WindowOptions{
					Markup:      rapid.String().Draw(t, "markup"),
					Title:       rapid.String().Draw(t, "title"),
					OnTop:       rapid.Bool().Draw(t, "onTop"),
					Width:       rapid.IntRange(0, 4000).Draw(t, "width"),
					Height:      rapid.IntRange(0, 4000).Draw(t, "height"),
					X:           rapid.IntRange(-2000, 2000).Draw(t, "x"),
					Y:           rapid.IntRange(-2000, 2000).Draw(t, "y"),
					HasPosition: rapid.Bool().Draw(t, "hasPosition"),
					Maximize:    rapid.Bool().Draw(t, "maximize"),
					Debug:       rapid.Bool().Draw(t, "debug"),
					WindowID:    rapid.String().Draw(t, "windowID"),
				})
			}
			return Frame{Kind: FrameCommand, Command: cmd}
		case 2:
			return Frame{Kind: FrameEmit, Event: bus.Event{
				Name:     rapid.StringN(1, 10, -1).Draw(t, "name"),
				WindowID: rapid.String().Draw(t, "id"),
				Args:     rapid.SliceOfN(rapid.String(), 1, 4).Draw(t, "args"),
			}}
		case 3:
			return Frame{Kind: FrameReturn, Value: rapid.String().Draw(t, "value")}
		default:
			return Frame{
				Kind:      FrameGate,
				Gate:      GateKind(rapid.IntRange(1, 3).Draw(t, "gate")),
				GateIndex: rapid.IntRange(0, 9).Draw(t, "gateIndex"),
			}
		}
	})
}

func requireFrameEqual(t require.TestingT, expected, got Frame) {
	require.Equal(t, expected.Kind, got.Kind)
	switch expected.Kind {
	case FrameCommand:
		require.Equal(t, expected.Command.ID, got.Command.ID)
		require.Equal(t, expected.Command.Kind, got.Command.Kind)
		require.Equal(t, expected.Command.Index, got.Command.Index)
		require.Equal(t, expected.Command.Script, got.Command.Script)
		require.Equal(t, expected.Command.Create, got.Command.Create)
		require.True(t, expected.Command.CreatedAt.Equal(got.Command.CreatedAt))
	case FrameEmit:
		require.Equal(t, expected.Event, got.Event)
	case FrameReturn:
		require.Equal(t, expected.Value, got.Value)
	case FrameGate:
		require.Equal(t, expected.Gate, got.Gate)
		require.Equal(t, expected.GateIndex, got.GateIndex)
	}
}

func TestReader_RejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteFrame(Frame{Kind: FrameReturn, Value: strings.Repeat("x", 64)}))

	_, err := NewReader(&buf, 16).ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReader_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteFrame(Frame{Kind: FrameReturn, Value: "hello"}))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := NewReader(bytes.NewReader(truncated), 0).ReadFrame()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeFrame_UnknownKind(t *testing.T) {
	body := appendVarintField(nil, frameKindField, 99)
	_, err := DecodeFrame(body)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeFrame_SkipsUnknownFields(t *testing.T) {
	body := AppendFrame(nil, Frame{Kind: FrameReturn, Value: "ok"})
	body = appendStringField(body, 99, "from a newer peer")

	f, err := DecodeFrame(body)
	require.NoError(t, err)
	require.Equal(t, "ok", f.Value)
}

func TestDecodeFrame_CreatedAtPreserved(t *testing.T) {
	cmd := bus.NewShow(3)
	cmd.CreatedAt = time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)

	f, err := DecodeFrame(AppendFrame(nil, Frame{Kind: FrameCommand, Command: cmd}))
	require.NoError(t, err)
	require.True(t, cmd.CreatedAt.Equal(f.Command.CreatedAt))
	require.Equal(t, 3, f.Command.Index)
	require.Nil(t, f.Command.Create)
}
