package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dtavares/wamcp/internal/bus"
)

// State represents the connection lifecycle state.
type State string

const (
	Disconnected   State = "DISCONNECTED"
	Connecting     State = "CONNECTING"
	AwaitingQRScan State = "AWAITING_QR_SCAN"
	Connected      State = "CONNECTED"
	LoggedOut      State = "LOGGED_OUT"
)

// validTransitions defines allowed state transitions. LoggedOut is terminal
// for automatic recovery; only an explicit connect (fresh QR auth) leaves it.
var validTransitions = map[State][]State{
	Disconnected:   {Connecting, LoggedOut},
	Connecting:     {AwaitingQRScan, Connected, Disconnected, LoggedOut},
	AwaitingQRScan: {Connected, Disconnected, LoggedOut},
	Connected:      {Disconnected, LoggedOut},
	LoggedOut:      {Connecting},
}

// Status is a point-in-time snapshot returned to callers. Reading it has
// no side effects.
type Status struct {
	State          State
	Connected      bool
	Identity       string
	LastActivityMs int64
}

// Machine tracks and enforces connection state transitions. It is the single
// owner of the process-wide connection state: current state, reconnect
// attempt counter, authenticated identity and last-activity timestamp.
type Machine struct {
	mu           sync.RWMutex
	current      State
	attempts     int
	identity     string
	lastActivity int64
	bus          *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if the
// transition is invalid. Reaching Connected resets the reconnect counter.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	if m.current == to {
		m.mu.Unlock()
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		from := m.current
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := m.current
	m.current = to
	if to == Connected {
		m.attempts = 0
		m.lastActivity = time.Now().UnixMilli()
	}
	b := m.bus
	m.mu.Unlock()

	if b != nil {
		b.Publish(bus.Event{
			Kind:      "conn.state_changed",
			Timestamp: time.Now(),
			Payload:   Change{From: from, To: to},
		})
	}
	return nil
}

// ReconnectAttempt returns the current reconnect attempt count.
func (m *Machine) ReconnectAttempt() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// BumpReconnect increments the reconnect attempt counter and returns the
// new value.
func (m *Machine) BumpReconnect() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.attempts
}

// ResetReconnect zeroes the reconnect attempt counter. Called on an explicit
// connect request so manual intervention gets a fresh budget.
func (m *Machine) ResetReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
}

// SetIdentity records the authenticated identity.
func (m *Machine) SetIdentity(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = identity
}

// MarkActivity records the given activity timestamp if it is newer than the
// one already held.
func (m *Machine) MarkActivity(tsMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tsMs > m.lastActivity {
		m.lastActivity = tsMs
	}
}

// Snapshot returns the current status. Pure read.
func (m *Machine) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		State:          m.current,
		Connected:      m.current == Connected,
		Identity:       m.identity,
		LastActivityMs: m.lastActivity,
	}
}

// Change is the payload for state change events.
type Change struct {
	From State
	To   State
}
