package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/zjrosen/chartbus/internal/dispatch"
	"github.com/zjrosen/chartbus/internal/drawings"
	"github.com/zjrosen/chartbus/internal/log"
	"github.com/zjrosen/chartbus/internal/wire"
)

// ErrNoSaveWidget is returned when drawings are saved before SaveDrawingsUnder.
var ErrNoSaveWidget = errors.New("no widget to save drawings under")

// loadDrawingsScript hands saved drawings to the chart markup.
const loadDrawingsScript = `if (window.chartbus.loadDrawings) { window.chartbus.loadDrawings(%s); }`

// Toolbox persists a chart's drawings, keyed by the current value of a
// widget (usually the symbol selector).
type Toolbox struct {
	chart *Chart
	store drawings.Store

	mu        sync.Mutex
	saveUnder *Widget
}

func newToolbox(c *Chart, store drawings.Store) *Toolbox {
	return &Toolbox{chart: c, store: store}
}

// SaveDrawingsUnder keys saved drawings by w's value at save time.
func (t *Toolbox) SaveDrawingsUnder(w *Widget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saveUnder = w
}

// Handle stores the drawings carried by a save_drawings event.
func (t *Toolbox) Handle(ctx context.Context, inv dispatch.Invocation) error {
	t.mu.Lock()
	w := t.saveUnder
	t.mu.Unlock()
	if w == nil {
		return ErrNoSaveWidget
	}

	tag := w.Value()
	// The drawings JSON may itself contain the argument delimiter.
	body := json.RawMessage(wire.JoinArgs(inv.Args))
	if err := t.store.Save(ctx, tag, body); err != nil {
		return fmt.Errorf("save drawings for %q: %w", tag, err)
	}
	log.Debug(log.CatStore, "drawings saved", "window", t.chart.ID(), "tag", tag, "bytes", len(body))
	return nil
}

// LoadDrawings sends the drawings saved under tag to the window. It reports
// whether any were found.
func (t *Toolbox) LoadDrawings(ctx context.Context, tag string) (bool, error) {
	body, found, err := t.store.Load(ctx, tag)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return true, t.chart.Run(fmt.Sprintf(loadDrawingsScript, string(body)))
}

// ImportDrawings loads a JSON drawings file into the store.
func (t *Toolbox) ImportDrawings(ctx context.Context, path string) (int, error) {
	return drawings.Import(ctx, t.store, path)
}

// ExportDrawings writes every saved tag to a JSON file.
func (t *Toolbox) ExportDrawings(ctx context.Context, path string) error {
	return drawings.Export(ctx, t.store, path)
}
