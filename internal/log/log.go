// Package log provides structured logging for chartbus.
// Entries carry a level, a category and key=value fields, and are written to a
// file. Logging is off until InitWithTeaLog or InitWriter is called, so the
// window process never writes log lines onto the stdout frame stream.
package log

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/chartbus/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a config string to a Level. Unknown strings map to LevelDebug.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelDebug
	}
}

// Category groups related log messages.
type Category string

const (
	CatBus       Category = "bus"       // Queues and gates
	CatWindow    Category = "window"    // Window process command loop
	CatDispatch  Category = "dispatch"  // Controller dispatch loop and handlers
	CatTransport Category = "transport" // Frame pumps over the process pipe
	CatSurface   Category = "surface"   // Native/web window surfaces
	CatSession   Category = "session"   // Chart handles, registry, launcher
	CatFeed      Category = "feed"      // External data feed
	CatStore     Category = "store"     // Drawing persistence
	CatCache     Category = "cache"     // Drawing read cache
	CatConfig    Category = "config"    // Configuration loading/saving
	CatWatcher   Category = "watcher"   // Markup file watcher
)

// Field is one key=value pair of an Entry.
type Field struct {
	Key   string
	Value any
}

// Entry is a single log record.
type Entry struct {
	Time     time.Time
	Level    Level
	Category Category
	Message  string
	Fields   []Field
}

// Format renders the entry as one line:
//
//	2025-12-06T10:45:00 [ERROR] [dispatch] message key=value key2=value2
func (e Entry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] %s", e.Time.Format("2006-01-02T15:04:05"), e.Level, e.Category, e.Message)
	for _, f := range e.Fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteByte('\n')
	return b.String()
}

// pairFields turns alternating key, value arguments into fields. A trailing
// key with no value is kept with the value <missing>.
func pairFields(kv []any) []Field {
	if len(kv) == 0 {
		return nil
	}
	out := make([]Field, 0, (len(kv)+1)/2)
	for i := 0; i < len(kv); i += 2 {
		f := Field{Key: fmt.Sprint(kv[i]), Value: "<missing>"}
		if i+1 < len(kv) {
			f.Value = kv[i+1]
		}
		out = append(out, f)
	}
	return out
}

// Logger writes entries to a sink and fans them out to subscribers.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	enabled  bool
	minLevel Level
	broker   *pubsub.Broker[Entry]
}

var defaultLogger *Logger

func newLogger(w io.Writer) *Logger {
	return &Logger{
		writer:   w,
		enabled:  true,
		minLevel: LevelDebug,
		broker:   pubsub.NewBroker[Entry](),
	}
}

// InitWithTeaLog opens path with tea.LogToFile and logs there.
// The prefix distinguishes the controller and window process in a shared file.
// It returns a function that closes the file.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	defaultLogger = newLogger(f)
	return func() {
		defaultLogger.broker.Close()
		_ = f.Close()
	}, nil
}

// InitWriter routes log output to w.
func InitWriter(w io.Writer) {
	defaultLogger = newLogger(w)
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := defaultLogger; l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := defaultLogger; l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields)
}

// ErrorErr logs at error level with err appended as the "error" field.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	errText := "<nil>"
	if err != nil {
		errText = err.Error()
	}
	write(LevelError, cat, msg, append(fields, "error", errText))
}

func write(level Level, cat Category, msg string, kv []any) {
	l := defaultLogger
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || level < l.minLevel {
		return
	}

	e := Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
		Fields:   pairFields(kv),
	}
	if l.writer != nil {
		_, _ = io.WriteString(l.writer, e.Format())
	}
	l.broker.Publish(pubsub.LogEntry, e)
}

// Subscribe returns a channel of log entries that closes when ctx is
// cancelled. It returns nil when logging is not initialized.
func Subscribe(ctx context.Context) <-chan pubsub.Event[Entry] {
	if defaultLogger == nil {
		return nil
	}
	return defaultLogger.broker.Subscribe(ctx)
}
