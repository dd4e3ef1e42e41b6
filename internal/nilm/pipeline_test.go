package nilm

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeRepo is an in-memory ProfileRepository.
type fakeRepo struct {
	profiles map[string]ApplianceProfile
	listErr  error
	upserts  int
}

func newFakeRepo(seed ...ApplianceProfile) *fakeRepo {
	r := &fakeRepo{profiles: make(map[string]ApplianceProfile)}
	for _, p := range seed {
		r.profiles[p.Name] = p
	}
	return r
}

func (r *fakeRepo) List() ([]ApplianceProfile, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]ApplianceProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (r *fakeRepo) Get(name string) (*ApplianceProfile, error) {
	p, ok := r.profiles[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakeRepo) Upsert(p ApplianceProfile) error {
	r.profiles[p.Name] = p
	r.upserts++
	return nil
}

func (r *fakeRepo) Delete(name string) error {
	delete(r.profiles, name)
	return nil
}

// fakeSinks implements every persistence sink and records calls.
type fakeSinks struct {
	samples    int
	sampleErr  error
	events     []PowerEvent
	identified []int64
	detections []string
	states     []ApplianceState
	feedback   []string
}

func (f *fakeSinks) Record(s Sample, steady, transient bool) error {
	if f.sampleErr != nil {
		return f.sampleErr
	}
	f.samples++
	return nil
}

func (f *fakeSinks) RecordEvent(e PowerEvent) (int64, error) {
	f.events = append(f.events, e)
	return int64(len(f.events)), nil
}

func (f *fakeSinks) MarkIdentified(id int64) error {
	f.identified = append(f.identified, id)
	return nil
}

func (f *fakeSinks) RecordDetection(eventID int64, name string, state OnOff, power, confidence float64, at time.Time) error {
	f.detections = append(f.detections, name)
	return nil
}

func (f *fakeSinks) Upsert(s ApplianceState) error {
	f.states = append(f.states, s)
	return nil
}

func (f *fakeSinks) RecordFeedback(eventID int64, name string, powerChange float64, at time.Time) error {
	f.feedback = append(f.feedback, name)
	return nil
}

// Adapter types so one fakeSinks value can serve all interfaces.
type eventSinkFunc struct{ f *fakeSinks }

func (a eventSinkFunc) Record(e PowerEvent) (int64, error) { return a.f.RecordEvent(e) }
func (a eventSinkFunc) MarkIdentified(id int64) error      { return a.f.MarkIdentified(id) }

type detectionSinkFunc struct{ f *fakeSinks }

func (a detectionSinkFunc) Record(eventID int64, name string, state OnOff, power, confidence float64, at time.Time) error {
	return a.f.RecordDetection(eventID, name, state, power, confidence, at)
}

type feedbackSinkFunc struct{ f *fakeSinks }

func (a feedbackSinkFunc) Record(eventID int64, name string, powerChange float64, at time.Time) error {
	return a.f.RecordFeedback(eventID, name, powerChange, at)
}

// fakeNotifier records published topics.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	payloads []any
}

func (n *fakeNotifier) Publish(topic string, payload any) {
	n.mu.Lock()
	n.messages = append(n.messages, topic)
	n.payloads = append(n.payloads, payload)
	n.mu.Unlock()
}

func (n *fakeNotifier) count(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages {
		if m == topic {
			c++
		}
	}
	return c
}

func newTestPipeline(repo *fakeRepo, sinks *fakeSinks, notifier *fakeNotifier) *Pipeline {
	return NewPipeline(DetectionConfig{}, PipelineDeps{
		Profiles:   repo,
		Events:     eventSinkFunc{sinks},
		Samples:    sinks,
		Detections: detectionSinkFunc{sinks},
		States:     sinks,
		Feedback:   feedbackSinkFunc{sinks},
		Notifier:   notifier,
	})
}

func TestPipelineIdentifiesMicrowave(t *testing.T) {
	repo := newFakeRepo(microwaveProfile())
	sinks := &fakeSinks{}
	notifier := &fakeNotifier{}
	p := newTestPipeline(repo, sinks, notifier)

	var result IngestResult
	var err error
	for i := 0; i < 15; i++ {
		if result, err = p.IngestSample(sampleAt(i, 200)); err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if result.Event != nil {
			t.Fatalf("sample %d: unexpected event on flat baseline", i)
		}
	}
	result, err = p.IngestSample(sampleAt(15, 1300))
	if err != nil {
		t.Fatalf("IngestSample: %v", err)
	}

	if result.Event == nil {
		t.Fatal("expected an event")
	}
	if result.Match == nil {
		t.Fatal("expected a match")
	}
	if result.Match.Name != "Microwave" {
		t.Errorf("matched %q, want Microwave", result.Match.Name)
	}
	if result.Match.Confidence <= 0.4 {
		t.Errorf("confidence %v not above accept floor", result.Match.Confidence)
	}
	if !result.Event.Identified {
		t.Error("event should be marked identified after an accepted match")
	}

	// Persistence trail: every sample archived, one event recorded and
	// marked, one detection, one state write.
	if sinks.samples != 16 {
		t.Errorf("samples recorded = %d, want 16", sinks.samples)
	}
	if len(sinks.events) != 1 {
		t.Fatalf("events recorded = %d, want 1", len(sinks.events))
	}
	if len(sinks.identified) != 1 || sinks.identified[0] != result.Event.ID {
		t.Errorf("identified = %v, want [%d]", sinks.identified, result.Event.ID)
	}
	if len(sinks.detections) != 1 || sinks.detections[0] != "Microwave" {
		t.Errorf("detections = %v, want [Microwave]", sinks.detections)
	}
	if len(sinks.states) != 1 || sinks.states[0].State != StateOn {
		t.Errorf("states = %+v, want one on-state write", sinks.states)
	}

	// Tracker reflects the match.
	states := p.States()
	if len(states) != 1 || states[0].Name != "Microwave" || states[0].State != StateOn {
		t.Errorf("tracker states = %+v", states)
	}

	// The matched profile learned from the observation.
	learned, _ := repo.Get("Microwave")
	if learned.LearningCount != 1 {
		t.Errorf("learning count = %d, want 1", learned.LearningCount)
	}
	if learned.TypicalPower != 1100 { // (1100 + 1100) / 2
		t.Errorf("typical power = %v, want 1100", learned.TypicalPower)
	}

	// Broadcasts: a data_update per sample plus the match announcements.
	if got := notifier.count(TopicDataUpdate); got != 16 {
		t.Errorf("data_update broadcasts = %d, want 16", got)
	}
	if notifier.count(TopicApplianceUpdate) != 1 {
		t.Error("expected one appliance_update broadcast")
	}
	if notifier.count(TopicApplianceList) != 1 {
		t.Error("expected one appliance_list broadcast")
	}
	if notifier.count(TopicUnidentifiedEvent) != 0 {
		t.Error("unexpected unidentified_event broadcast")
	}
}

func TestPipelineUnidentifiedEvent(t *testing.T) {
	repo := newFakeRepo() // empty catalogue
	sinks := &fakeSinks{}
	notifier := &fakeNotifier{}
	p := newTestPipeline(repo, sinks, notifier)

	for i := 0; i < 15; i++ {
		p.IngestSample(sampleAt(i, 200))
	}
	result, err := p.IngestSample(sampleAt(15, 1100))
	if err != nil {
		t.Fatalf("IngestSample: %v", err)
	}

	if result.Event == nil {
		t.Fatal("expected an event")
	}
	if result.Match != nil {
		t.Fatalf("unexpected match %q with an empty catalogue", result.Match.Name)
	}
	if result.Event.Identified {
		t.Error("unmatched event must stay unidentified")
	}
	if notifier.count(TopicUnidentifiedEvent) != 1 {
		t.Error("expected one unidentified_event broadcast")
	}
	if len(sinks.identified) != 0 {
		t.Errorf("MarkIdentified calls = %v, want none", sinks.identified)
	}
	if len(sinks.states) != 0 {
		t.Errorf("state writes = %+v, want none", sinks.states)
	}
}

func TestPipelineSurvivesPersistenceFailure(t *testing.T) {
	repo := newFakeRepo(microwaveProfile())
	sinks := &fakeSinks{sampleErr: errors.New("disk full")}
	notifier := &fakeNotifier{}
	p := newTestPipeline(repo, sinks, notifier)

	for i := 0; i < 15; i++ {
		if _, err := p.IngestSample(sampleAt(i, 200)); err == nil {
			t.Fatalf("sample %d: expected the sink error to propagate", i)
		}
	}

	// The archive failure propagates but detection still works: in-memory
	// state stayed consistent across the failing calls.
	result, err := p.IngestSample(sampleAt(15, 1300))
	if err == nil {
		t.Fatal("expected the sink error to propagate")
	}
	if result.Event == nil {
		t.Fatal("expected detection to proceed despite persistence failure")
	}
	if result.Match == nil || result.Match.Name != "Microwave" {
		t.Fatal("expected matching to proceed despite persistence failure")
	}
}

func TestPipelineLabelCreatesProfile(t *testing.T) {
	repo := newFakeRepo()
	sinks := &fakeSinks{}
	notifier := &fakeNotifier{}
	p := newTestPipeline(repo, sinks, notifier)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st, err := p.LabelAppliance(7, "Fish Tank Pump", 250, now)
	if err != nil {
		t.Fatalf("LabelAppliance: %v", err)
	}

	if st.State != StateOn || st.Power != 250 || st.Confidence != labelConfidence {
		t.Errorf("labeled state = %+v", st)
	}

	created, _ := repo.Get("Fish Tank Pump")
	if created == nil {
		t.Fatal("expected a new profile for the unknown appliance")
	}
	if created.LearningCount != 1 || created.TypicalPower != 250 {
		t.Errorf("created profile = %+v", created)
	}

	if len(sinks.identified) != 1 || sinks.identified[0] != 7 {
		t.Errorf("identified = %v, want [7]", sinks.identified)
	}
	if len(sinks.feedback) != 1 {
		t.Errorf("feedback records = %v, want one", sinks.feedback)
	}
	if notifier.count(TopicApplianceLabeled) != 1 {
		t.Error("expected one appliance_labeled broadcast")
	}
}

func TestPipelineLabelUpdatesExistingProfile(t *testing.T) {
	repo := newFakeRepo(microwaveProfile())
	p := newTestPipeline(repo, &fakeSinks{}, &fakeNotifier{})

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := p.LabelAppliance(1, "Microwave", -1000, now); err != nil {
		t.Fatalf("LabelAppliance: %v", err)
	}

	updated, _ := repo.Get("Microwave")
	if updated.LearningCount != 1 {
		t.Errorf("learning count = %d, want 1", updated.LearningCount)
	}
	if updated.TypicalPower != 1050 { // (1100 + 1000) / 2
		t.Errorf("typical power = %v, want 1050", updated.TypicalPower)
	}

	// A negative change labels the appliance off.
	if st := p.States(); len(st) != 1 || st[0].State != StateOff {
		t.Errorf("states = %+v, want Microwave off", st)
	}
}

func TestPipelineReset(t *testing.T) {
	repo := newFakeRepo(microwaveProfile())
	p := newTestPipeline(repo, &fakeSinks{}, &fakeNotifier{})

	for i := 0; i < 15; i++ {
		p.IngestSample(sampleAt(i, 200))
	}
	p.IngestSample(sampleAt(15, 1100))

	p.Reset()

	snap := p.Snapshot()
	if snap.BufferLen != 0 || snap.ActiveAppliances != 0 || snap.CurrentPower != 0 {
		t.Errorf("snapshot after reset = %+v, want zeros", snap)
	}
	if len(p.States()) != 0 {
		t.Errorf("states after reset = %+v, want none", p.States())
	}
}

func TestPipelineConcurrentIngest(t *testing.T) {
	repo := newFakeRepo(microwaveProfile())
	sinks := &fakeSinks{}
	p := newTestPipeline(repo, sinks, &fakeNotifier{})

	const workers = 8
	const perWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				p.IngestSample(sampleAt(w*perWorker+i, 200))
			}
		}(w)
	}
	wg.Wait()

	// Every append+evaluate ran as one atomic unit: nothing lost, buffer
	// bounded at its capacity.
	if sinks.samples != workers*perWorker {
		t.Errorf("samples recorded = %d, want %d", sinks.samples, workers*perWorker)
	}
	snap := p.Snapshot()
	if snap.BufferLen != DefaultDetectionConfig().PowerHistorySize {
		t.Errorf("buffer length = %d, want %d", snap.BufferLen, DefaultDetectionConfig().PowerHistorySize)
	}
}
