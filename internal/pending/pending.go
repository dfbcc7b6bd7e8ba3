// Package pending tracks actions that are waiting for a human decision.
//
// An action lives in the registry from the moment analysis decides it needs
// approval until one of: a decision arrives (Remove), it outlives the
// decision timeout (Sweep), or newer actions push it out of the bounded set.
package pending

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Kind is the type of request awaiting approval.
type Kind string

const (
	KindTransaction      Kind = "transaction"
	KindWalletConnection Kind = "wallet-connection"
	KindSigning          Kind = "signing"
)

// RemoveReason explains why the registry dropped an action on its own.
type RemoveReason string

const (
	ReasonExpired  RemoveReason = "expired"
	ReasonEvicted  RemoveReason = "evicted"
	ReasonReplaced RemoveReason = "replaced" // a newer action reused the id
)

// ErrNotFound is returned when a decision references an id that is not live,
// either because it was already decided or because it expired.
var ErrNotFound = errors.New("pending action not found")

// Action is one approval-requiring request.
type Action struct {
	ID              string    `json:"id"`
	Kind            Kind      `json:"kind"`
	Request         any       `json:"request"`
	Verdict         any       `json:"verdict,omitempty"`
	SourceContextID string    `json:"sourceContextId,omitempty"`
	Origin          string    `json:"origin,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`

	seq uint64 // insertion order; breaks CreatedAt ties
}

// Config bounds the registry.
type Config struct {
	Timeout       time.Duration // max age before an undecided action expires
	MaxEntries    int           // live actions kept; oldest dropped beyond this
	SweepInterval time.Duration // period of the background Timer
}

// DefaultConfig returns the defaults: 5 minute decision window, 10 live
// actions, sweep every minute.
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Minute,
		MaxEntries:    10,
		SweepInterval: time.Minute,
	}
}

// Registry holds live pending actions keyed by id. Safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	actions  map[string]*Action
	seq      uint64
	now      func() time.Time
	onRemove func(a *Action, reason RemoveReason)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// OnRemove registers a callback fired for every action the registry drops
// by itself (expiry, eviction or replacement by a newer action with the
// same id). It is called without the lock held.
func OnRemove(fn func(a *Action, reason RemoveReason)) Option {
	return func(r *Registry) {
		r.onRemove = fn
	}
}

// NewRegistry creates a registry. Zero config fields fall back to defaults.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}

	r := &Registry{
		cfg:     cfg,
		actions: make(map[string]*Action),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the registry bounds.
func (r *Registry) Config() Config {
	return r.cfg
}

// Add inserts a, replacing any live action with the same id. Expired
// actions are swept first; afterwards the oldest actions are evicted until
// the registry is within MaxEntries. a itself is never evicted.
func (r *Registry) Add(a *Action) {
	r.mu.Lock()
	now := r.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	expired := r.sweepLocked(now)
	var replaced []*Action
	if old, ok := r.actions[a.ID]; ok && old != a {
		replaced = append(replaced, old)
	}
	r.seq++
	a.seq = r.seq
	r.actions[a.ID] = a
	evicted := r.evictLocked(a.ID)
	r.mu.Unlock()

	r.notify(expired, ReasonExpired)
	r.notify(replaced, ReasonReplaced)
	r.notify(evicted, ReasonEvicted)
}

// Get returns the live action with id.
func (r *Registry) Get(id string) (*Action, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.actions[id]
	if !ok || r.expiredLocked(a, r.now()) {
		return nil, false
	}
	return a, true
}

// Remove deletes and returns the action with id. An action that has
// outlived the timeout but not yet been swept counts as absent.
func (r *Registry) Remove(id string) (*Action, error) {
	r.mu.Lock()
	a, ok := r.actions[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(r.actions, id)
	expired := r.expiredLocked(a, r.now())
	r.mu.Unlock()

	if expired {
		r.notify([]*Action{a}, ReasonExpired)
		return nil, ErrNotFound
	}
	return a, nil
}

// Sweep removes and returns every action older than the timeout.
func (r *Registry) Sweep() []*Action {
	r.mu.Lock()
	expired := r.sweepLocked(r.now())
	r.mu.Unlock()

	r.notify(expired, ReasonExpired)
	return expired
}

// List returns live actions, oldest first.
func (r *Registry) List() []*Action {
	r.mu.Lock()
	now := r.now()
	result := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		if !r.expiredLocked(a, now) {
			result = append(result, a)
		}
	}
	r.mu.Unlock()

	sortOldestFirst(result)
	return result
}

// Len returns the number of stored actions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

func (r *Registry) expiredLocked(a *Action, now time.Time) bool {
	return now.Sub(a.CreatedAt) > r.cfg.Timeout
}

func (r *Registry) sweepLocked(now time.Time) []*Action {
	var expired []*Action
	for id, a := range r.actions {
		if r.expiredLocked(a, now) {
			delete(r.actions, id)
			expired = append(expired, a)
		}
	}
	sortOldestFirst(expired)
	return expired
}

func (r *Registry) evictLocked(keep string) []*Action {
	over := len(r.actions) - r.cfg.MaxEntries
	if over <= 0 {
		return nil
	}

	all := make([]*Action, 0, len(r.actions))
	for id, a := range r.actions {
		if id != keep {
			all = append(all, a)
		}
	}
	sortOldestFirst(all)

	evicted := all[:over]
	for _, a := range evicted {
		delete(r.actions, a.ID)
	}
	return evicted
}

func (r *Registry) notify(actions []*Action, reason RemoveReason) {
	if r.onRemove == nil {
		return
	}
	for _, a := range actions {
		r.onRemove(a, reason)
	}
}

// sortOldestFirst orders by CreatedAt, breaking ties by insertion order.
func sortOldestFirst(actions []*Action) {
	sort.Slice(actions, func(i, j int) bool {
		if actions[i].CreatedAt.Equal(actions[j].CreatedAt) {
			return actions[i].seq < actions[j].seq
		}
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
}
