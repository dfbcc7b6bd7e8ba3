package router

import (
	"fmt"
	"sync"

	"github.com/mbd888/guardian/internal/metrics"
)

// State is a step in one analysis/approval flow.
type State string

const (
	StateReceived  State = "received"
	StateAnalyzing State = "analyzing"
	StateCached    State = "cached"
	StateAnalyzed  State = "analyzed"
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateExpired   State = "expired"
	StateFailed    State = "failed"
)

var transitions = map[State][]State{
	StateReceived:  {StateAnalyzing, StateFailed},
	StateAnalyzing: {StateCached, StateAnalyzed, StateFailed},
	StateCached:    {StatePending},
	StateAnalyzed:  {StatePending},
	StatePending:   {StateApproved, StateRejected, StateExpired},
}

// ErrInvalidTransition is returned for a move the state machine forbids.
type ErrInvalidTransition struct {
	From, To State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid flow transition %s -> %s", e.From, e.To)
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Flow tracks one request through the state machine.
type Flow struct {
	mu    sync.Mutex
	state State
	done  bool
}

func newFlow() *Flow {
	return &Flow{state: StateReceived}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// To moves the flow to next, refusing moves not in the table. Entering a
// state with no outgoing moves finishes the flow.
func (f *Flow) To(next State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done || !canTransition(f.state, next) {
		return &ErrInvalidTransition{From: f.state, To: next}
	}
	f.state = next
	if len(transitions[next]) == 0 {
		f.finishLocked()
	}
	return nil
}

// Finish ends the flow in its current state; used when cached or analyzed
// needs no approval. Only the first call is counted.
func (f *Flow) Finish() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishLocked()
	return f.state
}

// Done reports whether the flow reached a terminal state.
func (f *Flow) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *Flow) finishLocked() {
	if f.done {
		return
	}
	f.done = true
	metrics.FlowsTotal.WithLabelValues(string(f.state)).Inc()
}
