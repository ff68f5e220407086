package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes voice state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// Machine implements the finite state machine that owns the voice state.
// StateOff is both the initial state and reachable from every other state,
// so deactivation is always a valid move.
type Machine struct {
	currentState State
	mu           sync.RWMutex

	// State tracking
	listeningStartTime time.Time
	speakingStartTime  time.Time

	// Event emission
	stateChangeListeners []StateListener
}

func NewMachine() *Machine {
	return &Machine{currentState: StateOff}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentState
}

// transitionValid checks if a state transition is valid (must be called with lock held).
func (m *Machine) transitionValid(from, to State) bool {
	// Define valid state transitions. A typed submission may supersede a turn
	// mid-speech, so SPEAKING can move straight back to PROCESSING.
	validTransitions := map[State][]State{
		StateOff:        {StateListening},
		StateListening:  {StateProcessing, StateOff},
		StateProcessing: {StateSpeaking, StateListening, StateOff},
		StateSpeaking:   {StateListening, StateProcessing, StateOff},
	}

	allowedStates, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, allowed := range allowedStates {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation. A same-state transition is
// a harmless no-op, which keeps deactivation and supersession idempotent.
func (m *Machine) Transition(state State, reason string) error {
	m.mu.Lock()

	if m.currentState == state {
		m.mu.Unlock()
		return nil
	}

	if !m.transitionValid(m.currentState, state) {
		from := m.currentState
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: state}
	}

	oldState := m.currentState
	m.currentState = state

	// Track state-specific timestamps
	switch state {
	case StateListening:
		m.listeningStartTime = time.Now()
	case StateSpeaking:
		m.speakingStartTime = time.Now()
	}

	event := StateChange{
		FromState: oldState,
		ToState:   state,
		Timestamp: time.Now(),
		Reason:    reason,
	}

	// Notify listeners outside the lock to avoid deadlocks
	listeners := make([]StateListener, len(m.stateChangeListeners))
	copy(listeners, m.stateChangeListeners)
	m.mu.Unlock()

	for _, listener := range listeners {
		listener.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (m *Machine) AddListener(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateChangeListeners = append(m.stateChangeListeners, listener)
}

// SpeakingSince returns when the machine last entered SPEAKING.
func (m *Machine) SpeakingSince() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speakingStartTime
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
