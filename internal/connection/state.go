// Package connection holds the delta stream connection state machine, the
// reconnect backoff and the connect retry loop.
package connection

import (
	"errors"
	"sync"

	"github.com/bft-labs/opstream/pkg/log"
)

// ErrInvalidTransition is returned for transitions the machine forbids.
var ErrInvalidTransition = errors.New("connection: invalid state transition")

// State represents the connection state of a delta manager.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// EventEmitter is called when the connection state changes.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(previous, current State, reason string)

// OnStateChange calls f.
func (f EmitterFunc) OnStateChange(previous, current State, reason string) { f(previous, current, reason) }

// Machine validates and records state transitions.
// Closed is terminal.
type Machine struct {
	mu      sync.RWMutex
	state   State
	logger  log.Logger
	emitter EventEmitter
}

// NewMachine creates a machine in StateDisconnected. emitter may be nil.
func NewMachine(logger log.Logger, emitter EventEmitter) *Machine {
	return &Machine{
		state:   StateDisconnected,
		logger:  log.OrNoop(logger),
		emitter: emitter,
	}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// TransitionTo attempts to move to newState.
// Returns ErrInvalidTransition if the transition is not valid.
func (m *Machine) TransitionTo(newState State, reason string) error {
	m.mu.Lock()
	oldState := m.state

	if !validTransition(oldState, newState) {
		m.mu.Unlock()
		return ErrInvalidTransition
	}

	m.state = newState
	m.mu.Unlock()

	// Emit event outside of lock
	if m.emitter != nil {
		m.emitter.OnStateChange(oldState, newState, reason)
	}

	m.logger.Info("connection state transition",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)

	return nil
}

func validTransition(from, to State) bool {
	switch from {
	case StateDisconnected:
		return to == StateConnecting || to == StateClosed
	case StateConnecting:
		return to == StateConnected || to == StateDisconnected || to == StateClosed
	case StateConnected:
		return to == StateDisconnected || to == StateClosed
	default:
		return false
	}
}
