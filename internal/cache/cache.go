// Package cache provides a bounded, expiring key/value store.
//
// Entries expire a fixed TTL after insertion and are dropped lazily on
// lookup. When the store is full, the entry inserted longest ago is evicted
// to make room; lookups do not refresh an entry's position.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guardian",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Cache lookups by cache name and result (hit, miss, expired).",
}, []string{"cache", "result"})

var evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guardian",
	Subsystem: "cache",
	Name:      "evictions_total",
	Help:      "Entries evicted to stay within the configured maximum.",
}, []string{"cache"})

func init() {
	prometheus.MustRegister(lookups, evictions)
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
}

// Store is a TTL cache with a hard entry ceiling. Safe for concurrent use.
type Store[V any] struct {
	mu         sync.Mutex
	name       string
	ttl        time.Duration
	maxEntries int
	items      map[string]*list.Element
	order      *list.List // front = oldest insertion
	now        func() time.Time
}

// Option configures a Store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a store. name labels its metrics. A non-positive maxEntries
// is treated as 1.
func New[V any](name string, ttl time.Duration, maxEntries int, opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Store[V]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
		now:        o.now,
	}
}

// Get returns the value for key if present and younger than the TTL.
// An expired entry is removed.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	el, ok := s.items[key]
	if !ok {
		lookups.WithLabelValues(s.name, "miss").Inc()
		return zero, false
	}

	e := el.Value.(*entry[V])
	if s.now().Sub(e.insertedAt) >= s.ttl {
		s.removeElement(el)
		lookups.WithLabelValues(s.name, "expired").Inc()
		return zero, false
	}

	lookups.WithLabelValues(s.name, "hit").Inc()
	return e.value, true
}

// Put stores value under key. Re-putting a key replaces it and makes it the
// newest entry. When the store is full, exactly one entry (the oldest
// inserted) is evicted first.
func (s *Store[V]) Put(key string, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}

	if s.order.Len() >= s.maxEntries {
		if oldest := s.order.Front(); oldest != nil {
			s.removeElement(oldest)
			evictions.WithLabelValues(s.name).Inc()
		}
	}

	s.items[key] = s.order.PushBack(&entry[V]{
		key:        key,
		value:      value,
		insertedAt: s.now(),
	})
}

// Delete removes key if present.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
}

// Clear drops every entry.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.order.Init()
}

// Len reports the number of stored entries, including ones that have
// expired but not yet been looked up.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// removeElement unlinks el. Caller must hold s.mu.
func (s *Store[V]) removeElement(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(s.items, e.key)
	s.order.Remove(el)
}
