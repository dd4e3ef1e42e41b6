// Package nilm contains the load-monitoring core: sliding-window statistics,
// event detection, appliance matching, and online profile learning.
// This package performs no I/O of its own; persistence and broadcast are
// delegated to injected collaborators, and time always arrives on the sample.
package nilm

import "time"

// OnOff is the logical state of an appliance.
type OnOff string

const (
	StateOn  OnOff = "on"
	StateOff OnOff = "off"
)

// Sample is a single reading from the metering point. Power is the primary
// analytic signal; the remaining fields are optional context used for
// secondary scoring.
type Sample struct {
	Timestamp   time.Time
	Voltage     float64
	Current     float64
	Power       float64
	Energy      float64
	Frequency   float64
	PowerFactor float64 // 0 means not reported
}

// ApplianceProfile is the learned reference for a named appliance.
// Mutated only through the learning updater.
type ApplianceProfile struct {
	Name            string
	TypicalPower    float64
	TypicalDuration int // minutes
	PowerVariance   float64
	MinPower        float64
	MaxPower        float64
	StartupPattern  string
	ShutdownPattern string
	PFRangeLow      float64 // 0,0 means no declared power-factor range
	PFRangeHigh     float64
	FrequencySig    float64
	LearningCount   int
	LastUpdated     time.Time
}

// HasPFRange reports whether the profile declares a valid power-factor range.
func (p ApplianceProfile) HasPFRange() bool {
	return p.PFRangeHigh > 0
}

// ApplianceState is the current believed state of one appliance.
// One record per name, overwritten on every match or label.
type ApplianceState struct {
	Name       string
	State      OnOff
	Power      float64
	Confidence float64
	UpdatedAt  time.Time
}

// PowerEvent is a detected load change. Immutable after creation except for
// Identified, which flips once a match or user label is attached.
type PowerEvent struct {
	ID                 int64 // assigned by the event sink on record
	DetectedAt         time.Time
	PowerBefore        float64
	PowerAfter         float64
	PowerChange        float64
	TransientMagnitude float64
	WasSteadyBefore    bool
	Confidence         float64
	Identified         bool
}

// Direction returns "on" for a positive power change and "off" otherwise.
func (e PowerEvent) Direction() OnOff {
	if e.PowerChange > 0 {
		return StateOn
	}
	return StateOff
}

// MatchResult is the best candidate returned by the matcher for one event.
// Ephemeral: computed per event, never persisted as its own entity.
type MatchResult struct {
	Name       string
	Confidence float64
	Power      float64 // magnitude of the matched power change
	Score      ScoreBreakdown
}

// ScoreBreakdown records the per-term contributions behind a candidate's
// confidence so matches stay explainable.
type ScoreBreakdown struct {
	PowerFit          float64
	PowerFactorFit    float64
	Transition        float64
	TransitionPenalty bool // running score was halved for an implausible transition
	LearningBonus     float64
	Total             float64
	Reasons           []string
}
