package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCommand is returned by Validate for malformed commands.
var ErrInvalidCommand = errors.New("invalid command")

// CommandKind identifies the operation a Command asks the window process to perform.
type CommandKind int

const (
	// CmdCreateWindow constructs a new native window at the next index.
	CmdCreateWindow CommandKind = iota + 1
	// CmdShow shows the window at Index.
	CmdShow
	// CmdHide hides the window at Index.
	CmdHide
	// CmdExit sets the exit gate and stops the command loop.
	CmdExit
	// CmdEvaluateScript runs Script in the content context of the window at Index.
	CmdEvaluateScript
)

// String returns the wire name of the kind.
func (k CommandKind) String() string {
	switch k {
	case CmdCreateWindow:
		return "create_window"
	case CmdShow:
		return "show"
	case CmdHide:
		return "hide"
	case CmdExit:
		return "exit"
	case CmdEvaluateScript:
		return "evaluate_script"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// WindowOptions are the construction parameters of a window.
type WindowOptions struct {
	Markup      string
	Title       string
	OnTop       bool
	Width       int
	Height      int
	X           int
	Y           int
	HasPosition bool // X and Y are only applied when set
	Maximize    bool
	Debug       bool
	// WindowID is the id the window reports its events under. Surfaces that
	// render a page embed it so a reload keeps routing.
	WindowID string
}

// Command is an instruction addressed to one window of the window process.
// Commands are values: they are not modified after Submit.
type Command struct {
	ID        string
	Kind      CommandKind
	Index     int
	Create    *WindowOptions // CmdCreateWindow only
	Script    string         // CmdEvaluateScript only
	CreatedAt time.Time
}

func newCommand(kind CommandKind, index int) Command {
	return Command{
		ID:        uuid.New().String(),
		Kind:      kind,
		Index:     index,
		CreatedAt: time.Now(),
	}
}

// NewCreateWindow builds a CreateWindow command. The window index is implied by
// the order in which create commands reach the window process.
func NewCreateWindow(opts WindowOptions) Command {
	cmd := newCommand(CmdCreateWindow, -1)
	cmd.Create = &opts
	return cmd
}

// NewShow builds a Show command for window index.
func NewShow(index int) Command {
	return newCommand(CmdShow, index)
}

// NewHide builds a Hide command for window index.
func NewHide(index int) Command {
	return newCommand(CmdHide, index)
}

// NewExit builds an Exit command for window index.
func NewExit(index int) Command {
	return newCommand(CmdExit, index)
}

// NewEvaluateScript builds an EvaluateScript command for window index.
func NewEvaluateScript(index int, script string) Command {
	cmd := newCommand(CmdEvaluateScript, index)
	cmd.Script = script
	return cmd
}

// Validate checks the fields required by the command kind.
func (c Command) Validate() error {
	switch c.Kind {
	case CmdCreateWindow:
		if c.Create == nil {
			return fmt.Errorf("%w: create_window without options", ErrInvalidCommand)
		}
		if c.Create.Width < 0 || c.Create.Height < 0 {
			return fmt.Errorf("%w: negative window size %dx%d", ErrInvalidCommand, c.Create.Width, c.Create.Height)
		}
	case CmdShow, CmdHide, CmdExit, CmdEvaluateScript:
		if c.Index < 0 {
			return fmt.Errorf("%w: %s for window %d", ErrInvalidCommand, c.Kind, c.Index)
		}
	default:
		return fmt.Errorf("%w: kind %s", ErrInvalidCommand, c.Kind)
	}
	return nil
}
