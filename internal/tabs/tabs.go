// Package tabs tracks the browser contexts (tabs) that talk to Guardian.
package tabs

import (
	"sort"
	"sync"
	"time"
)

// State is a context's page lifecycle.
type State string

const (
	StateReady      State = "ready"
	StateNavigating State = "navigating"
)

// Context is one source context. Values returned by Table are copies.
type Context struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	LastSeen time.Time `json:"lastSeen"`
	State    State     `json:"state"`
}

// Table holds live source contexts. Safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	contexts map[string]*Context
	now      func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	t := &Table{
		contexts: make(map[string]*Context),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Ready marks id as loaded at url. An empty url keeps the previous one.
func (t *Table) Ready(id, url string) Context {
	return t.upsert(id, url, StateReady)
}

// Navigate marks id as navigating to url.
func (t *Table) Navigate(id, url string) Context {
	return t.upsert(id, url, StateNavigating)
}

func (t *Table) upsert(id, url string, state State) Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contexts[id]
	if !ok {
		c = &Context{ID: id}
		t.contexts[id] = c
	}
	if url != "" {
		c.URL = url
	}
	c.State = state
	c.LastSeen = t.now()
	return *c
}

// Get returns the context with id.
func (t *Table) Get(id string) (Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.contexts[id]
	if !ok {
		return Context{}, false
	}
	return *c, true
}

// Remove drops id and reports whether it was present.
func (t *Table) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.contexts[id]; !ok {
		return false
	}
	delete(t.contexts, id)
	return true
}

// List returns all contexts ordered by id.
func (t *Table) List() []Context {
	t.mu.Lock()
	out := make([]Context, 0, len(t.contexts))
	for _, c := range t.contexts {
		out = append(out, *c)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of live contexts.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.contexts)
}
