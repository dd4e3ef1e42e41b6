package nilm

import (
	"math"
	"time"
)

// Profile learning constants: how a confirmed observation reshapes a
// profile's typical power, variance, and bounds.
const (
	varianceFraction = 0.2
	minPowerFraction = 0.7
	maxPowerFraction = 1.3

	defaultDuration = 60 // minutes
	unknownPattern  = "unknown"

	defaultPFRangeLow  = 0.80
	defaultPFRangeHigh = 0.95
	defaultFrequency   = 50.0
)

// LearnProfile folds one confirmed power observation into an existing
// profile: typical power moves halfway toward the observation, the variance
// and bounds only widen, and the learning count increments. The magnitude
// of the observation is used, so on and off events teach equally.
func LearnProfile(p ApplianceProfile, observedPower float64, at time.Time) ApplianceProfile {
	magnitude := math.Abs(observedPower)

	p.TypicalPower = (p.TypicalPower + magnitude) / 2
	p.PowerVariance = math.Max(p.PowerVariance, magnitude*varianceFraction)
	p.MinPower = math.Min(p.MinPower, magnitude*minPowerFraction)
	p.MaxPower = math.Max(p.MaxPower, magnitude*maxPowerFraction)
	p.LearningCount++
	p.LastUpdated = at
	return p
}

// NewLearnedProfile creates a profile for a previously unknown appliance
// from a single user-labeled observation.
func NewLearnedProfile(name string, observedPower float64, at time.Time) ApplianceProfile {
	magnitude := math.Abs(observedPower)

	return ApplianceProfile{
		Name:            name,
		TypicalPower:    magnitude,
		TypicalDuration: defaultDuration,
		PowerVariance:   magnitude * varianceFraction,
		MinPower:        magnitude * minPowerFraction,
		MaxPower:        magnitude * maxPowerFraction,
		StartupPattern:  unknownPattern,
		ShutdownPattern: unknownPattern,
		PFRangeLow:      defaultPFRangeLow,
		PFRangeHigh:     defaultPFRangeHigh,
		FrequencySig:    defaultFrequency,
		LearningCount:   1,
		LastUpdated:     at,
	}
}

// NewManualProfile creates a profile from user-supplied typical power and
// duration, deriving variance and bounds the same way learning does.
func NewManualProfile(name string, typicalPower float64, durationMinutes int, at time.Time) ApplianceProfile {
	if typicalPower <= 0 {
		typicalPower = 100
	}
	if durationMinutes <= 0 {
		durationMinutes = defaultDuration
	}
	return ApplianceProfile{
		Name:            name,
		TypicalPower:    typicalPower,
		TypicalDuration: durationMinutes,
		PowerVariance:   typicalPower * varianceFraction,
		MinPower:        typicalPower * minPowerFraction,
		MaxPower:        typicalPower * maxPowerFraction,
		StartupPattern:  unknownPattern,
		ShutdownPattern: unknownPattern,
		PFRangeLow:      defaultPFRangeLow,
		PFRangeHigh:     defaultPFRangeHigh,
		FrequencySig:    defaultFrequency,
		LastUpdated:     at,
	}
}
