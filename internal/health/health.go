// Package health provides a registry of named subsystem health checkers.
//
// Guardian's external collaborators are all optional: an unhealthy
// non-critical subsystem is reported but does not make the service unready,
// since analysis falls back to local results.
package health

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single checker.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name     string
	critical bool
	check    Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// Register adds a critical checker: its failure makes CheckAll unhealthy.
func (r *Registry) Register(name string, check Checker) {
	r.add(name, true, check)
}

// RegisterOptional adds a checker that is reported but never fails CheckAll.
func (r *Registry) RegisterOptional(name string, check Checker) {
	r.add(name, false, check)
}

func (r *Registry) add(name string, critical bool, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, critical: critical, check: check})
	r.mu.Unlock()
}

// CheckAll runs every checker concurrently, each under its own timeout,
// and returns the aggregate over critical checkers plus every result in
// registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var g errgroup.Group
	for i, nc := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			s := nc.check(cctx)
			if s.Name == "" {
				s.Name = nc.name
			}
			s.Critical = nc.critical
			statuses[i] = s
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, s := range statuses {
		if s.Critical && !s.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

// DBChecker pings db.
func DBChecker(name string, db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// StateChecker reports healthy while state() is one of the ok values.
func StateChecker[S comparable](name string, state func() S, ok ...S) Checker {
	return func(context.Context) Status {
		s := state()
		for _, want := range ok {
			if s == want {
				return Status{Name: name, Healthy: true}
			}
		}
		return Status{Name: name, Healthy: false, Detail: "state " + stringOf(s)}
	}
}

func stringOf(v any) string {
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unavailable"
}
