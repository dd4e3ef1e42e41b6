package nilm

import (
	"fmt"
	"math"
	"sort"
)

// Matching weights and bonuses. Hand-tuned, not learned.
const (
	powerFitWeight    = 0.6
	powerFactorWeight = 0.2
	transitionWeight  = 0.1
	transitionPenalty = 0.5
	learningBonusStep = 0.01
	learningBonusCap  = 0.1
)

// StateReader is the matcher's view of the state tracker.
type StateReader interface {
	Get(name string) ApplianceState
}

// Matcher scores detected events against the known appliance profiles.
type Matcher struct {
	candidateFloor float64
	acceptFloor    float64
}

// NewMatcher creates a matcher with the given confidence floors. The
// candidate floor keeps near-misses visible for diagnostics; only the
// higher accept floor commits a state change.
func NewMatcher(candidateFloor, acceptFloor float64) *Matcher {
	return &Matcher{candidateFloor: candidateFloor, acceptFloor: acceptFloor}
}

// Match scores every profile against the event's power change and optional
// power factor (0 = not reported) and returns the best candidate above the
// accept floor, or nil when nothing qualifies. Profiles are considered in
// descending learning-count order so frequently confirmed appliances win
// ties. Candidates lists every profile above the candidate floor, best
// first.
func (m *Matcher) Match(profiles []ApplianceProfile, states StateReader, powerChange, powerFactor float64) (best *MatchResult, candidates []MatchResult) {
	ordered := make([]ApplianceProfile, len(profiles))
	copy(ordered, profiles)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LearningCount > ordered[j].LearningCount
	})

	for _, p := range ordered {
		score := scoreProfile(p, states.Get(p.Name), powerChange, powerFactor)
		if score.Total <= m.candidateFloor {
			continue
		}
		candidates = append(candidates, MatchResult{
			Name:       p.Name,
			Confidence: score.Total,
			Power:      math.Abs(powerChange),
			Score:      score,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) > 0 && candidates[0].Confidence > m.acceptFloor {
		r := candidates[0]
		best = &r
	}
	return best, candidates
}

// scoreProfile computes one candidate's confidence as a pure function of
// the profile, the appliance's current state, and the event parameters.
func scoreProfile(p ApplianceProfile, current ApplianceState, powerChange, powerFactor float64) ScoreBreakdown {
	var score ScoreBreakdown
	magnitude := math.Abs(powerChange)

	// Power fit, the primary factor. Only profiles whose declared range
	// covers the observed magnitude participate; a zero variance
	// contributes nothing rather than dividing by zero.
	if p.MinPower <= magnitude && magnitude <= p.MaxPower {
		if p.PowerVariance > 0 {
			diff := math.Abs(magnitude - p.TypicalPower)
			fit := math.Max(0, 1-diff/p.PowerVariance)
			score.PowerFit = fit * powerFitWeight
			score.Reasons = append(score.Reasons, fmt.Sprintf("power match: %.2f", fit))
		}
	}

	if powerFactor > 0 && p.HasPFRange() {
		if p.PFRangeLow <= powerFactor && powerFactor <= p.PFRangeHigh {
			score.PowerFactorFit = powerFactorWeight
			score.Reasons = append(score.Reasons, "power factor match")
		}
	}

	score.Total = score.PowerFit + score.PowerFactorFit

	// Transition validity: turning on an appliance believed off (or off an
	// appliance believed on) is rewarded; the implausible double
	// transition halves the running score instead.
	if powerChange > 0 {
		if current.State == StateOff {
			score.Transition = transitionWeight
			score.Reasons = append(score.Reasons, "valid ON transition")
		} else {
			score.TransitionPenalty = true
		}
	} else {
		if current.State == StateOn {
			score.Transition = transitionWeight
			score.Reasons = append(score.Reasons, "valid OFF transition")
		} else {
			score.TransitionPenalty = true
		}
	}
	if score.TransitionPenalty {
		score.Total *= transitionPenalty
	} else {
		score.Total += score.Transition
	}

	score.LearningBonus = math.Min(learningBonusCap, float64(p.LearningCount)*learningBonusStep)
	score.Total += score.LearningBonus

	return score
}
