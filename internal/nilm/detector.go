package nilm

import (
	"math"
	"time"
)

// DetectionConfig holds the tunable constants of the detection pipeline.
// Zero values are replaced by the defaults below.
type DetectionConfig struct {
	// PowerThreshold is the minimum absolute power change (watts) for both
	// the transient test and the event gate.
	PowerThreshold float64
	// WindowSize is the minimum buffer length before events can fire.
	WindowSize int
	// StdDevThreshold is the steady-state variance bound (watts).
	StdDevThreshold float64
	// MinEventInterval debounces event detection.
	MinEventInterval time.Duration
	// PowerHistorySize caps the sample ring buffer.
	PowerHistorySize int
	// SteadyStateSamples is the tail length examined for steadiness.
	SteadyStateSamples int
	// TransientWindow is the tail length scanned for a sharp step; the same
	// number of trailing samples is excluded when judging pre-event
	// steadiness.
	TransientWindow int
	// CandidateFloor is the minimum confidence for a profile to be
	// considered a candidate at all.
	CandidateFloor float64
	// AcceptFloor is the minimum confidence to commit a match.
	AcceptFloor float64
}

// DefaultDetectionConfig returns the tuned defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		PowerThreshold:     30.0,
		WindowSize:         15,
		StdDevThreshold:    1.5,
		MinEventInterval:   3 * time.Second,
		PowerHistorySize:   100,
		SteadyStateSamples: 5,
		TransientWindow:    10,
		CandidateFloor:     0.3,
		AcceptFloor:        0.4,
	}
}

// withDefaults fills zero fields from DefaultDetectionConfig.
func (c DetectionConfig) withDefaults() DetectionConfig {
	d := DefaultDetectionConfig()
	if c.PowerThreshold <= 0 {
		c.PowerThreshold = d.PowerThreshold
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.StdDevThreshold <= 0 {
		c.StdDevThreshold = d.StdDevThreshold
	}
	if c.MinEventInterval <= 0 {
		c.MinEventInterval = d.MinEventInterval
	}
	if c.PowerHistorySize <= 0 {
		c.PowerHistorySize = d.PowerHistorySize
	}
	if c.SteadyStateSamples <= 0 {
		c.SteadyStateSamples = d.SteadyStateSamples
	}
	if c.TransientWindow <= 0 {
		c.TransientWindow = d.TransientWindow
	}
	if c.CandidateFloor <= 0 {
		c.CandidateFloor = d.CandidateFloor
	}
	if c.AcceptFloor <= 0 {
		c.AcceptFloor = d.AcceptFloor
	}
	return c
}

// IsSteady reports whether the last sampleCount values of powers form a
// low-variance plateau. Appliance loads settle between switching events, so
// a low-variance tail means no transition is in progress. A single-value
// tail has zero deviation and is trivially steady.
func IsSteady(powers []float64, sampleCount int, threshold float64) bool {
	if len(powers) < sampleCount {
		return false
	}
	tail := powers[len(powers)-sampleCount:]
	return stdDev(tail) < threshold
}

// DetectTransient scans the last window values of powers for a single sharp
// step and returns the largest absolute successive difference. A run of
// small steps below the threshold is deliberately not flagged even when the
// cumulative drift is large.
func DetectTransient(powers []float64, window int, threshold float64) (bool, float64) {
	if len(powers) < window || window < 2 {
		return false, 0
	}
	recent := powers[len(powers)-window:]
	var maxChange float64
	for i := 1; i < len(recent); i++ {
		if d := math.Abs(recent[i] - recent[i-1]); d > maxChange {
			maxChange = d
		}
	}
	return maxChange > threshold, maxChange
}

// stdDev is the population standard deviation; zero for one value or fewer.
func stdDev(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	m := sum / n
	var sq float64
	for _, v := range values {
		d := v - m
		sq += d * d
	}
	return math.Sqrt(sq / n)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Observation is the outcome of feeding one sample to the event detector.
// Steady and Transient describe the buffer as of this sample and are
// archived with the raw reading; Event is nil in the normal no-event case.
type Observation struct {
	Event     *PowerEvent
	Steady    bool
	Transient bool
	MaxChange float64
}

// EventDetector consumes one sample at a time and decides whether a load
// change just occurred. State: the sample ring buffer, the debounce clock,
// and the last settled power level.
type EventDetector struct {
	cfg             DetectionConfig
	buffer          *SampleBuffer
	lastEventTime   time.Time
	lastSteadyPower float64
}

// NewEventDetector creates a detector with the given configuration.
// Zero config fields fall back to the defaults.
func NewEventDetector(cfg DetectionConfig) *EventDetector {
	cfg = cfg.withDefaults()
	return &EventDetector{
		cfg:    cfg,
		buffer: NewSampleBuffer(cfg.PowerHistorySize),
	}
}

// Config returns the effective detection configuration.
func (d *EventDetector) Config() DetectionConfig {
	return d.cfg
}

// Buffer exposes the sample ring for read-side consumers.
func (d *EventDetector) Buffer() *SampleBuffer {
	return d.buffer
}

// LastSteadyPower returns the power level recorded at the last event.
func (d *EventDetector) LastSteadyPower() float64 {
	return d.lastSteadyPower
}

// Observe appends the sample and evaluates the event conditions. An event
// fires only when the power change clears the threshold, a transient step
// is present, and the debounce interval since the previous event has
// elapsed. Insufficient history is a defined no-event outcome, not an
// error.
func (d *EventDetector) Observe(s Sample) Observation {
	d.buffer.Append(s)

	powers := d.buffer.Powers()
	obs := Observation{
		Steady: IsSteady(powers, d.cfg.SteadyStateSamples, d.cfg.StdDevThreshold),
	}
	obs.Transient, obs.MaxChange = DetectTransient(powers, d.cfg.TransientWindow, d.cfg.PowerThreshold)

	if d.buffer.Len() < d.cfg.WindowSize {
		return obs
	}

	// Judge steadiness of the period before the disturbance: everything
	// except the trailing transient window.
	var pre []float64
	if len(powers) > d.cfg.TransientWindow {
		pre = powers[:len(powers)-d.cfg.TransientWindow]
	}
	wasSteady := IsSteady(pre, d.cfg.SteadyStateSamples, d.cfg.StdDevThreshold)

	hasTransient, maxChange := DetectTransient(powers, d.cfg.TransientWindow, d.cfg.PowerThreshold)

	// Baseline: the pre-disturbance mean when it was steady, otherwise the
	// previous sample's power. The fallback can produce small spurious
	// changes on noisy signals; that sensitivity is part of the contract.
	var baseline float64
	if wasSteady {
		baseline = mean(pre)
	} else {
		baseline = powers[len(powers)-2]
	}

	change := s.Power - baseline
	if math.Abs(change) <= d.cfg.PowerThreshold {
		return obs
	}
	if !hasTransient {
		return obs
	}
	if !d.lastEventTime.IsZero() && s.Timestamp.Sub(d.lastEventTime) <= d.cfg.MinEventInterval {
		return obs
	}

	d.lastEventTime = s.Timestamp
	d.lastSteadyPower = s.Power

	obs.Event = &PowerEvent{
		DetectedAt:         s.Timestamp,
		PowerBefore:        baseline,
		PowerAfter:         s.Power,
		PowerChange:        change,
		TransientMagnitude: maxChange,
		WasSteadyBefore:    wasSteady,
		Confidence:         eventConfidence(change, hasTransient, wasSteady),
	}
	return obs
}

// Reset clears the buffer and detection state.
func (d *EventDetector) Reset() {
	d.buffer.Reset()
	d.lastEventTime = time.Time{}
	d.lastSteadyPower = 0
}

// eventConfidence scores a detection: large, clean, well-isolated steps
// earn more. Deterministic, no learned weights.
func eventConfidence(change float64, hasTransient, wasSteady bool) float64 {
	confidence := 0.5

	switch {
	case math.Abs(change) > 100:
		confidence += 0.2
	case math.Abs(change) > 50:
		confidence += 0.1
	}

	if hasTransient {
		confidence += 0.2
	}
	if wasSteady {
		confidence += 0.1
	}

	return math.Min(1.0, confidence)
}
