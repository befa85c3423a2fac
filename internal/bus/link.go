package bus

// ReturnName is the reserved event name for synchronous script replies.
const ReturnName = "return"

// DefaultMaxWindows is the number of loaded-gate slots when none is configured.
const DefaultMaxWindows = 10

// Event is a UI-originated callback: a name, the id of the window that raised
// it, and its positional arguments.
type Event struct {
	Name     string
	WindowID string
	Args     []string
}

// IsReturn reports whether the event is a synchronous reply rather than an event.
func (e Event) IsReturn() bool {
	return e.Name == ReturnName
}

// Link bundles every channel between the controller and the window process:
// the command queue, the emit and return queues, and the start, loaded and
// exit gates. In-process both sides share one Link; across processes each
// side owns one and a transport mirrors them.
type Link struct {
	Commands *Queue[Command]
	Emit     *Queue[Event]
	Return   *Queue[string]

	Start  *Gate
	Loaded *GateSet
	Exit   *Gate
}

// NewLink creates a Link with maxWindows loaded-gate slots.
// maxWindows <= 0 uses DefaultMaxWindows.
func NewLink(maxWindows int) *Link {
	if maxWindows <= 0 {
		maxWindows = DefaultMaxWindows
	}
	return &Link{
		Commands: NewQueue[Command](),
		Emit:     NewQueue[Event](),
		Return:   NewQueue[string](),
		Start:    NewOneShotGate(),
		Loaded:   NewGateSet(maxWindows),
		Exit:     NewGate(),
	}
}

// Submit validates cmd and enqueues it without blocking.
func (l *Link) Submit(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return l.Commands.Push(cmd)
}

// Close closes all three queues.
func (l *Link) Close() {
	l.Commands.Close()
	l.Emit.Close()
	l.Return.Close()
}
