package advance

import (
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/storybox/internal/app/queue"
)

// State is the advance state.
type State int

const (
	StateIdle      State = iota // No current entry
	StateAdvancing              // An entry was selected and its playback is being started
	StateActive                 // An entry is current, playing or paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvancing:
		return "advancing"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Cursor is the queue view the machine selects from and moves.
type Cursor interface {
	Snapshot() queue.Snapshot
	SetCurrent(id string) error
	ClearCurrent()
}

// Machine applies policy decisions to the queue's current entry.
// It is agnostic to where audio plays; callers execute the returned step.
type Machine struct {
	mu     sync.Mutex
	policy *Policy
	cursor Cursor
	state  State
}

// NewMachine creates an idle machine.
func NewMachine(policy *Policy, cursor Cursor) *Machine {
	return &Machine{policy: policy, cursor: cursor, state: StateIdle}
}

// Policy returns the underlying policy.
func (m *Machine) Policy() *Policy {
	return m.policy
}

// State returns the state. A machine whose current entry has disappeared
// from the queue reports idle.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateIdle && m.cursor.Snapshot().CurrentIndex < 0 {
		m.state = StateIdle
	}
	return m.state
}

// PlayAt selects the entry at index, skipping forward past entries without audio.
func (m *Machine) PlayAt(index int) (Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.cursor.Snapshot()
	step, err := m.policy.From(snap.Entries, index)
	if err != nil {
		return step, err
	}
	m.applyLocked(step)
	return step, nil
}

// Next advances from the live current entry.
func (m *Machine) Next() Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.cursor.Snapshot()
	step := m.policy.Next(snap.Entries, snap.CurrentIndex)
	m.applyLocked(step)
	return step
}

// Prev steps back from the live current entry.
func (m *Machine) Prev() Step {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.cursor.Snapshot()
	step := m.policy.Prev(snap.Entries, snap.CurrentIndex)
	m.applyLocked(step)
	return step
}

// Confirm marks the selected entry as started. It is ignored when id is no
// longer the current entry.
func (m *Machine) Confirm(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateAdvancing && m.cursor.Snapshot().CurrentID == id {
		m.state = StateActive
	}
}

// Adopt makes id the current entry as already started, for playback begun
// outside the machine such as a remote toggle.
func (m *Machine) Adopt(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.cursor.SetCurrent(id); err != nil {
		return err
	}
	m.state = StateActive
	return nil
}

// Stop clears the current entry.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(idle())
}

func (m *Machine) applyLocked(step Step) {
	switch step.Decision {
	case DecisionPlay:
		if err := m.cursor.SetCurrent(step.ID); err != nil {
			// Entry vanished between snapshot and selection.
			zlog.Warn().Err(err).Msgf("advance: selected entry %s is gone", step.ID)
			m.cursor.ClearCurrent()
			m.state = StateIdle
			return
		}
		m.state = StateAdvancing
	case DecisionStay:
		if m.state == StateIdle {
			m.state = StateActive
		}
	default:
		m.cursor.ClearCurrent()
		m.state = StateIdle
	}
	zlog.Debug().Msgf("advance: %s index=%d id=%s state=%s", step.Decision, step.Index, step.ID, m.state)
}
