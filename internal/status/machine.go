// internal/status/machine.go
package status

import (
	"errors"
	"sync"
)

// ErrNotTerminal is returned by Reset while a job is still running.
var ErrNotTerminal = errors.New("status can only be reset from a terminal state")

// Listener observes a transition. Listeners run synchronously, in subscription
// order, while the machine is locked; they must not call back into it.
type Listener func(jobID string, prev, next AnalysisStatus)

// Machine holds the status of a single job and publishes every accepted
// transition to its listeners in the order it was made.
type Machine struct {
	mu        sync.Mutex
	jobID     string
	current   AnalysisStatus
	listeners []Listener
}

func NewMachine(jobID string) *Machine {
	return &Machine{jobID: jobID, current: Idle{}}
}

func (m *Machine) JobID() string { return m.jobID }

func (m *Machine) Current() AnalysisStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Transition moves to next if the lifecycle allows it. Rejected transitions
// are not published.
func (m *Machine) Transition(next AnalysisStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ValidateTransition(m.current, next); err != nil {
		return err
	}
	m.publish(next)
	return nil
}

// Reset returns a finished job to Idle.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !IsTerminal(m.current) {
		return ErrNotTerminal
	}
	m.publish(Idle{})
	return nil
}

func (m *Machine) publish(next AnalysisStatus) {
	prev := m.current
	m.current = next
	for _, l := range m.listeners {
		l(m.jobID, prev, next)
	}
}
