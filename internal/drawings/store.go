// Package drawings persists the user's chart drawings, keyed by a tag such
// as the symbol the chart was showing when they were saved.
package drawings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrInvalidDrawings is returned for a payload that is not valid JSON.
	ErrInvalidDrawings = errors.New("drawings are not valid JSON")
	// ErrEmptyTag is returned when saving under an empty tag.
	ErrEmptyTag = errors.New("drawings tag is empty")
)

// Store saves and loads drawings as opaque JSON documents.
type Store interface {
	Save(ctx context.Context, tag string, drawings json.RawMessage) error
	// Load returns the drawings for tag and whether any were saved.
	Load(ctx context.Context, tag string) (json.RawMessage, bool, error)
	Delete(ctx context.Context, tag string) error
	// Tags returns every saved tag in sorted order.
	Tags(ctx context.Context) ([]string, error)
	Close() error
}

func validate(tag string, drawings json.RawMessage) error {
	if tag == "" {
		return ErrEmptyTag
	}
	if !json.Valid(drawings) {
		return fmt.Errorf("%w: tag %q", ErrInvalidDrawings, tag)
	}
	return nil
}

// MemoryStore keeps drawings in a map. It is the default when no database is configured.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]json.RawMessage)}
}

func (m *MemoryStore) Save(_ context.Context, tag string, drawings json.RawMessage) error {
	if err := validate(tag, drawings); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[tag] = append(json.RawMessage(nil), drawings...)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, tag string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.data[tag]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), d...), true, nil
}

func (m *MemoryStore) Delete(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, tag)
	return nil
}

func (m *MemoryStore) Tags(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tags := make([]string, 0, len(m.data))
	for tag := range m.data {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

func (m *MemoryStore) Close() error { return nil }
