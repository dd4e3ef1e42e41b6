package nilm

import (
	"sort"
	"time"
)

// StateTracker holds the current believed on/off state per appliance name.
// It is both an output (live state reporting) and a feedback input to the
// matcher's transition-validity scoring. Not safe for concurrent use on its
// own — the pipeline serializes access; Snapshot copies are safe to share.
type StateTracker struct {
	states map[string]ApplianceState
}

// NewStateTracker creates an empty tracker.
func NewStateTracker() *StateTracker {
	return &StateTracker{states: make(map[string]ApplianceState)}
}

// Get returns the state for name, defaulting to off with zero power and
// confidence when the appliance has never been observed.
func (t *StateTracker) Get(name string) ApplianceState {
	if s, ok := t.states[name]; ok {
		return s
	}
	return ApplianceState{Name: name, State: StateOff}
}

// Set overwrites the state for name. Last writer wins.
func (t *StateTracker) Set(name string, state OnOff, power, confidence float64, at time.Time) ApplianceState {
	s := ApplianceState{
		Name:       name,
		State:      state,
		Power:      power,
		Confidence: confidence,
		UpdatedAt:  at,
	}
	t.states[name] = s
	return s
}

// Seed loads previously persisted states, typically at startup.
func (t *StateTracker) Seed(states []ApplianceState) {
	for _, s := range states {
		t.states[s.Name] = s
	}
}

// Forget removes the state for name, if present.
func (t *StateTracker) Forget(name string) {
	delete(t.states, name)
}

// Snapshot returns a copy of all known states sorted by name.
func (t *StateTracker) Snapshot() []ApplianceState {
	out := make([]ApplianceState, 0, len(t.states))
	for _, s := range t.states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveCount returns the number of appliances currently believed on.
func (t *StateTracker) ActiveCount() int {
	n := 0
	for _, s := range t.states {
		if s.State == StateOn {
			n++
		}
	}
	return n
}

// Reset forgets all states.
func (t *StateTracker) Reset() {
	t.states = make(map[string]ApplianceState)
}
