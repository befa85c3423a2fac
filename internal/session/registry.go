package session

import (
	"fmt"
	"sync"

	"github.com/zjrosen/chartbus/internal/dispatch"
)

// Registry maps window ids to charts. Ids are never reused in one session.
type Registry struct {
	mu     sync.RWMutex
	charts map[string]*Chart
	order  []*Chart
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{charts: make(map[string]*Chart)}
}

// Add registers c under its id.
func (r *Registry) Add(c *Chart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.charts[c.id]; exists {
		return fmt.Errorf("window %q already registered", c.id)
	}
	r.charts[c.id] = c
	r.order = append(r.order, c)
	return nil
}

// Get returns the chart registered under id.
func (r *Registry) Get(id string) (*Chart, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.charts[id]
	return c, ok
}

// Lookup implements dispatch.Resolver.
func (r *Registry) Lookup(id string) (dispatch.Window, bool) {
	c, ok := r.Get(id)
	if !ok {
		return nil, false
	}
	return c, true
}

// Charts returns every registered chart in index order.
func (r *Registry) Charts() []*Chart {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Chart(nil), r.order...)
}

// Len returns the number of registered charts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
