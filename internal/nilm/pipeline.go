package nilm

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Broadcast topics published by the pipeline.
const (
	TopicDataUpdate        = "data_update"
	TopicApplianceUpdate   = "appliance_update"
	TopicApplianceList     = "appliance_list"
	TopicUnidentifiedEvent = "unidentified_event"
	TopicApplianceLabeled  = "appliance_labeled"
)

// labelConfidence is assigned to states set by an explicit user label.
const labelConfidence = 0.9

// ProfileRepository is the durable catalogue of known appliances.
// Reads must observe prior writes within the same process.
type ProfileRepository interface {
	// List returns all profiles ordered by descending learning count.
	List() ([]ApplianceProfile, error)
	// Get returns the named profile, or nil when it does not exist.
	Get(name string) (*ApplianceProfile, error)
	Upsert(p ApplianceProfile) error
	Delete(name string) error
}

// EventSink persists detected power events.
type EventSink interface {
	// Record stores the event and returns its assigned id.
	Record(e PowerEvent) (int64, error)
	MarkIdentified(id int64) error
}

// SampleSink archives raw readings together with the buffer flags computed
// at ingest time.
type SampleSink interface {
	Record(s Sample, steady, transient bool) error
}

// DetectionSink persists per-event appliance attributions.
type DetectionSink interface {
	Record(eventID int64, name string, state OnOff, power, confidence float64, at time.Time) error
}

// StateSink mirrors the in-memory state tracker into durable storage.
type StateSink interface {
	Upsert(s ApplianceState) error
}

// FeedbackSink records user-supplied labels.
type FeedbackSink interface {
	Record(eventID int64, name string, powerChange float64, at time.Time) error
}

// Notifier broadcasts pipeline outcomes. Publish must not block: slow
// subscribers are dropped or buffered by the implementation, never awaited
// here.
type Notifier interface {
	Publish(topic string, payload any)
}

// IngestResult is the outcome of processing one sample. Event and Match are
// nil in the (normal) no-event and no-match cases.
type IngestResult struct {
	Event *PowerEvent
	Match *MatchResult
}

// PipelineDeps bundles the collaborators injected into the pipeline. Sinks
// left nil are skipped; a nil Notifier disables broadcasting.
type PipelineDeps struct {
	Profiles   ProfileRepository
	Events     EventSink
	Samples    SampleSink
	Detections DetectionSink
	States     StateSink
	Feedback   FeedbackSink
	Notifier   Notifier
	Logger     *slog.Logger
}

// Pipeline runs the detection sequence for each incoming sample as a single
// atomic unit: append, detect, match, and update complete under one lock
// before the next sample begins. In-memory state is always updated;
// persistence failures are joined and returned for the caller to retry.
type Pipeline struct {
	mu       sync.Mutex
	detector *EventDetector
	matcher  *Matcher
	tracker  *StateTracker
	deps     PipelineDeps
	log      *slog.Logger
}

// NewPipeline wires a pipeline from the detection config and collaborators.
func NewPipeline(cfg DetectionConfig, deps PipelineDeps) *Pipeline {
	detector := NewEventDetector(cfg)
	eff := detector.Config()

	log := deps.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Pipeline{
		detector: detector,
		matcher:  NewMatcher(eff.CandidateFloor, eff.AcceptFloor),
		tracker:  NewStateTracker(),
		deps:     deps,
		log:      log.With(slog.String("component", "pipeline")),
	}
}

// SeedStates loads persisted appliance states into the tracker, typically
// once at startup before ingestion begins.
func (p *Pipeline) SeedStates(states []ApplianceState) {
	p.mu.Lock()
	p.tracker.Seed(states)
	p.mu.Unlock()
}

// IngestSample processes one reading end to end. The returned error, if
// any, reports persistence failures only: detection state is consistent
// regardless, and the result reflects what was detected.
func (p *Pipeline) IngestSample(s Sample) (IngestResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	obs := p.detector.Observe(s)

	if p.deps.Samples != nil {
		if err := p.deps.Samples.Record(s, obs.Steady, obs.Transient); err != nil {
			errs = append(errs, err)
		}
	}
	p.publish(TopicDataUpdate, dataUpdatePayload(s, obs))

	if obs.Event == nil {
		return IngestResult{}, errors.Join(errs...)
	}
	ev := obs.Event

	if p.deps.Events != nil {
		id, err := p.deps.Events.Record(*ev)
		if err != nil {
			errs = append(errs, err)
		} else {
			ev.ID = id
		}
	}

	p.log.Info("power event detected",
		slog.Float64("power_change", ev.PowerChange),
		slog.Float64("confidence", ev.Confidence),
		slog.Bool("was_steady", ev.WasSteadyBefore))

	match, err := p.identify(ev, s.PowerFactor)
	if err != nil {
		errs = append(errs, err)
	}
	if match == nil {
		p.publish(TopicUnidentifiedEvent, unidentifiedPayload(*ev))
		return IngestResult{Event: ev}, errors.Join(errs...)
	}

	ev.Identified = true
	p.publish(TopicApplianceUpdate, applianceUpdatePayload(*match, ev.Direction(), ev.DetectedAt))
	p.publish(TopicApplianceList, stateListPayload(p.tracker.Snapshot()))

	return IngestResult{Event: ev, Match: match}, errors.Join(errs...)
}

// identify matches the event against the profile catalogue and, on an
// accepted match, applies the state and learning updates. Returns nil when
// no candidate clears the accept floor — a defined outcome, not an error.
func (p *Pipeline) identify(ev *PowerEvent, powerFactor float64) (*MatchResult, error) {
	if p.deps.Profiles == nil {
		return nil, nil
	}

	profiles, err := p.deps.Profiles.List()
	if err != nil {
		return nil, err
	}

	best, _ := p.matcher.Match(profiles, p.tracker, ev.PowerChange, powerFactor)
	if best == nil {
		p.log.Info("unidentified power event", slog.Float64("power_change", ev.PowerChange))
		return nil, nil
	}

	state := ev.Direction()
	var errs []error

	// In-memory update first: tracker consistency never depends on
	// persistence success.
	p.tracker.Set(best.Name, state, best.Power, best.Confidence, ev.DetectedAt)

	if p.deps.Detections != nil && ev.ID > 0 {
		if err := p.deps.Detections.Record(ev.ID, best.Name, state, best.Power, best.Confidence, ev.DetectedAt); err != nil {
			errs = append(errs, err)
		}
	}
	if p.deps.States != nil {
		if err := p.deps.States.Upsert(p.tracker.Get(best.Name)); err != nil {
			errs = append(errs, err)
		}
	}

	for i := range profiles {
		if profiles[i].Name != best.Name {
			continue
		}
		learned := LearnProfile(profiles[i], best.Power, ev.DetectedAt)
		if err := p.deps.Profiles.Upsert(learned); err != nil {
			errs = append(errs, err)
		}
		break
	}

	if p.deps.Events != nil && ev.ID > 0 {
		if err := p.deps.Events.MarkIdentified(ev.ID); err != nil {
			errs = append(errs, err)
		}
	}

	p.log.Info("appliance identified",
		slog.String("appliance", best.Name),
		slog.String("state", string(state)),
		slog.Float64("power", best.Power),
		slog.Float64("confidence", best.Confidence))

	return best, errors.Join(errs...)
}

// LabelAppliance applies a user-supplied correction: the named profile
// learns from the observed change (created if unknown), the event is marked
// identified, and the appliance state is overwritten exactly as for an
// automatic match.
func (p *Pipeline) LabelAppliance(eventID int64, name string, powerChange float64, at time.Time) (ApplianceState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error

	if p.deps.Feedback != nil {
		if err := p.deps.Feedback.Record(eventID, name, powerChange, at); err != nil {
			errs = append(errs, err)
		}
	}

	if powerChange != 0 && p.deps.Profiles != nil {
		existing, err := p.deps.Profiles.Get(name)
		if err != nil {
			errs = append(errs, err)
		} else {
			var learned ApplianceProfile
			if existing != nil {
				learned = LearnProfile(*existing, powerChange, at)
			} else {
				learned = NewLearnedProfile(name, powerChange, at)
			}
			if err := p.deps.Profiles.Upsert(learned); err != nil {
				errs = append(errs, err)
			}
		}
	}

	state := StateOff
	if powerChange > 0 {
		state = StateOn
	}
	magnitude := math.Abs(powerChange)
	st := p.tracker.Set(name, state, magnitude, labelConfidence, at)

	if eventID > 0 {
		if p.deps.Events != nil {
			if err := p.deps.Events.MarkIdentified(eventID); err != nil {
				errs = append(errs, err)
			}
		}
		if p.deps.Detections != nil {
			if err := p.deps.Detections.Record(eventID, name, state, magnitude, labelConfidence, at); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if p.deps.States != nil {
		if err := p.deps.States.Upsert(st); err != nil {
			errs = append(errs, err)
		}
	}

	p.log.Info("appliance labeled",
		slog.String("appliance", name),
		slog.Int64("event_id", eventID),
		slog.Float64("power_change", powerChange))

	p.publish(TopicApplianceLabeled, labeledPayload(eventID, name, powerChange, at))
	p.publish(TopicApplianceList, stateListPayload(p.tracker.Snapshot()))

	return st, errors.Join(errs...)
}

// ForgetAppliance drops the tracked state for a removed appliance.
func (p *Pipeline) ForgetAppliance(name string) {
	p.mu.Lock()
	p.tracker.Forget(name)
	p.mu.Unlock()
}

// States returns a snapshot of all tracked appliance states.
func (p *Pipeline) States() []ApplianceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.Snapshot()
}

// Status is a point-in-time view of the pipeline for health reporting.
type Status struct {
	BufferLen        int
	CurrentPower     float64
	ActiveAppliances int
}

// Snapshot returns the live pipeline status.
func (p *Pipeline) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		BufferLen:        p.detector.Buffer().Len(),
		ActiveAppliances: p.tracker.ActiveCount(),
	}
	if last, ok := p.detector.Buffer().Last(); ok {
		st.CurrentPower = last.Power
	}
	return st
}

// Reset clears the in-memory buffers, detection state, and tracked states.
// Persisted data is the storage layer's concern.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detector.Reset()
	p.tracker.Reset()
}

func (p *Pipeline) publish(topic string, payload any) {
	if p.deps.Notifier == nil {
		return
	}
	p.deps.Notifier.Publish(topic, payload)
}
