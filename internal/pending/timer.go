package pending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps expired actions out of a Registry.
type Timer struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates a sweep timer using the registry's SweepInterval.
func NewTimer(registry *Registry, logger *slog.Logger) *Timer {
	return &Timer{
		registry: registry,
		interval: registry.Config().SweepInterval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start runs the sweep loop until ctx is done or Stop is called. Call in a
// goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep()
		}
	}
}

// Stop makes the loop exit, including one started after Stop. Safe to
// call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeSweep() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in pending sweep", "panic", fmt.Sprint(r))
		}
	}()

	expired := t.registry.Sweep()
	for _, a := range expired {
		t.logger.Info("pending action expired",
			"id", a.ID,
			"kind", a.Kind,
			"age", time.Since(a.CreatedAt).Round(time.Second).String(),
		)
	}
}
