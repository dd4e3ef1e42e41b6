package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/nilm-server/internal/nilm"
	"github.com/sweeney/nilm-server/internal/store"
)

func newTestServer(t *testing.T, apiKey string, ratePerMinute int) (*Server, *store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.UpsertProfile(nilm.ApplianceProfile{
		Name:          "Microwave",
		TypicalPower:  1100,
		PowerVariance: 200,
		MinPower:      800,
		MaxPower:      1500,
	}); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	pipeline := nilm.NewPipeline(nilm.DetectionConfig{}, nilm.PipelineDeps{
		Profiles:   st.Profiles(),
		Events:     st.Events(),
		Samples:    st.Samples(),
		Detections: st.Detections(),
		States:     st.States(),
		Feedback:   st.Feedback(),
	})

	srv := New(":0", Deps{
		Pipeline:      pipeline,
		Store:         st,
		APIKey:        apiKey,
		RatePerMinute: ratePerMinute,
	})
	return srv, st
}

func doJSON(t *testing.T, handler http.Handler, method, path, apiKey string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
}

func ingestBody(sec int, power float64) map[string]any {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return map[string]any{
		"timestamp": base.Add(time.Duration(sec) * time.Second).Format(time.RFC3339),
		"power":     power,
	}
}

func TestIngestDetectsAndIdentifies(t *testing.T) {
	srv, st := newTestServer(t, "", 0)
	h := srv.Handler()

	for i := 0; i < 15; i++ {
		rec := doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(i, 200))
		if rec.Code != http.StatusOK {
			t.Fatalf("sample %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
	}
	rec := doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(15, 1300))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Status        string  `json:"status"`
		EventDetected bool    `json:"event_detected"`
		EventID       int64   `json:"event_id"`
		Appliance     string  `json:"appliance"`
		State         string  `json:"appliance_state"`
		Confidence    float64 `json:"confidence"`
	}
	decode(t, rec, &resp)

	if !resp.EventDetected {
		t.Fatal("expected an event on the 1100W step")
	}
	if resp.Appliance != "Microwave" || resp.State != "on" {
		t.Errorf("identified %q/%q, want Microwave/on", resp.Appliance, resp.State)
	}
	if resp.Confidence <= 0.4 {
		t.Errorf("confidence %v not above accept floor", resp.Confidence)
	}
	if resp.EventID <= 0 {
		t.Errorf("event_id = %d, want assigned", resp.EventID)
	}

	// The event landed in storage, identified.
	events, err := st.EventsSince(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("EventsSince: %v", err)
	}
	if len(events) != 1 || !events[0].Identified {
		t.Errorf("stored events = %+v", events)
	}
}

func TestIngestRejectsMissingPower(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/data", "", map[string]any{"voltage": 230})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp map[string]string
	decode(t, rec, &resp)
	if resp["error"] == "" {
		t.Error("expected an error message")
	}
}

func TestIngestRejectsBadTimestamp(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/data", "",
		map[string]any{"power": 200, "timestamp": "yesterday"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t, "hunter2", 0)
	h := srv.Handler()

	if rec := doJSON(t, h, http.MethodGet, "/api/events", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/events", "wrong", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/events", "hunter2", nil); rec.Code != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", rec.Code)
	}

	// Health stays open for probes.
	if rec := doJSON(t, h, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health without key: status = %d, want 200", rec.Code)
	}
}

func TestRateLimitEnforced(t *testing.T) {
	srv, _ := newTestServer(t, "", 2)
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		if rec := doJSON(t, h, http.MethodGet, "/api/events", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	if rec := doJSON(t, h, http.MethodGet, "/api/events", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
}

func TestRateLimiterWindowRollover(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, func() time.Time { return now })

	if !rl.allow("a") || !rl.allow("a") {
		t.Fatal("first two requests must pass")
	}
	if rl.allow("a") {
		t.Fatal("third request in the window must fail")
	}
	if !rl.allow("b") {
		t.Fatal("other clients are budgeted independently")
	}

	now = now.Add(time.Minute)
	if !rl.allow("a") {
		t.Fatal("budget must reset after the window")
	}
}

func TestLabelApplianceCreatesProfile(t *testing.T) {
	srv, st := newTestServer(t, "", 0)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/label_appliance", "", map[string]any{
		"appliance_name": "Fish Tank Pump",
		"power_change":   250.0,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	decode(t, rec, &resp)
	if resp["appliance"] != "Fish Tank Pump" || resp["state"] != "on" {
		t.Errorf("response = %v", resp)
	}

	p, err := st.GetProfile("Fish Tank Pump")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p == nil || p.TypicalPower != 250 {
		t.Errorf("profile = %+v", p)
	}
}

func TestLabelApplianceRequiresName(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/label_appliance", "",
		map[string]any{"power_change": 250.0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAddAndDeleteAppliance(t *testing.T) {
	srv, st := newTestServer(t, "", 0)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/add_appliance", "", map[string]any{
		"name":             "Heat Pump",
		"typical_power":    2000.0,
		"typical_duration": 120,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add: status = %d body %s", rec.Code, rec.Body.String())
	}
	if p, _ := st.GetProfile("Heat Pump"); p == nil || p.TypicalPower != 2000 {
		t.Errorf("profile after add = %+v", p)
	}

	// Duplicates are rejected.
	rec = doJSON(t, h, http.MethodPost, "/api/add_appliance", "", map[string]any{"name": "Heat Pump"})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate add: status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/delete_appliance/Heat%20Pump", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d body %s", rec.Code, rec.Body.String())
	}
	if p, _ := st.GetProfile("Heat Pump"); p != nil {
		t.Error("profile survived delete")
	}

	rec = doJSON(t, h, http.MethodDelete, "/api/delete_appliance/Heat%20Pump", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want 404", rec.Code)
	}
}

func TestHistoricalReturnsIngestedReadings(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(i, float64(200+i)))
	}

	rec := doJSON(t, h, http.MethodGet, "/api/historical", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Readings []struct {
			Power  float64 `json:"power"`
			Steady bool    `json:"steady_state"`
		} `json:"readings"`
	}
	decode(t, rec, &resp)
	if len(resp.Readings) != 3 {
		t.Fatalf("readings = %d, want 3", len(resp.Readings))
	}
	if resp.Readings[0].Power != 200 || resp.Readings[2].Power != 202 {
		t.Errorf("readings out of order: %+v", resp.Readings)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)
	h := srv.Handler()

	for i := 0; i < 15; i++ {
		doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(i, 200))
	}
	doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(15, 1300))

	rec := doJSON(t, h, http.MethodGet, "/api/statistics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		TotalReadings      int64   `json:"total_readings"`
		TotalEvents        int64   `json:"total_events"`
		IdentifiedEvents   int64   `json:"identified_events"`
		IdentificationRate float64 `json:"identification_rate"`
	}
	decode(t, rec, &resp)
	if resp.TotalReadings != 16 {
		t.Errorf("total_readings = %d, want 16", resp.TotalReadings)
	}
	if resp.TotalEvents != 1 || resp.IdentifiedEvents != 1 {
		t.Errorf("events = %d/%d, want 1/1", resp.TotalEvents, resp.IdentifiedEvents)
	}
	if resp.IdentificationRate != 1 {
		t.Errorf("identification_rate = %v, want 1", resp.IdentificationRate)
	}
}

func TestKnownAppliancesEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/known_appliances", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Appliances []struct {
			Name         string  `json:"name"`
			TypicalPower float64 `json:"typical_power"`
		} `json:"appliances"`
	}
	decode(t, rec, &resp)
	if len(resp.Appliances) != 1 || resp.Appliances[0].Name != "Microwave" {
		t.Errorf("appliances = %+v", resp.Appliances)
	}
}

func TestResetSystem(t *testing.T) {
	srv, st := newTestServer(t, "", 0)
	h := srv.Handler()

	for i := 0; i < 5; i++ {
		doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(i, 200))
	}

	rec := doJSON(t, h, http.MethodPost, "/api/reset_system", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	readings, _ := st.RecentReadings(10)
	if len(readings) != 0 {
		t.Errorf("readings survived reset: %d", len(readings))
	}
	profiles, _ := st.ListProfiles()
	if len(profiles) != len(nilm.SeedProfiles()) {
		t.Errorf("profiles after reset = %d, want the seed catalogue", len(profiles))
	}

	var health struct {
		BufferSize int `json:"buffer_size"`
	}
	rec = doJSON(t, h, http.MethodGet, "/api/health", "", nil)
	decode(t, rec, &health)
	if health.BufferSize != 0 {
		t.Errorf("buffer_size after reset = %d, want 0", health.BufferSize)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "", 0)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	decode(t, rec, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("status = %v", resp["status"])
	}
	if resp["database"] != "ok" {
		t.Errorf("database = %v", resp["database"])
	}
	if resp["redis"] != "disabled" {
		t.Errorf("redis = %v", resp["redis"])
	}
}

func TestUnlabeledEventsEndpoint(t *testing.T) {
	srv, st := newTestServer(t, "", 0)
	h := srv.Handler()

	// A change no profile explains: far below the Microwave's minimum.
	for i := 0; i < 15; i++ {
		doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(i, 200))
	}
	doJSON(t, h, http.MethodPost, "/api/data", "", ingestBody(15, 280))

	rec := doJSON(t, h, http.MethodGet, "/api/unlabeled_events", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Events []struct {
			ID          int64   `json:"id"`
			PowerChange float64 `json:"power_change"`
			Identified  bool    `json:"identified"`
		} `json:"events"`
	}
	decode(t, rec, &resp)
	if len(resp.Events) != 1 {
		t.Fatalf("events = %+v, want one unlabeled event", resp.Events)
	}
	if resp.Events[0].PowerChange != 80 || resp.Events[0].Identified {
		t.Errorf("event = %+v", resp.Events[0])
	}

	// Labeling it clears the queue.
	doJSON(t, h, http.MethodPost, "/api/label_appliance", "", map[string]any{
		"event_id":       resp.Events[0].ID,
		"appliance_name": "Aquarium Heater",
		"power_change":   80.0,
	})
	rec = doJSON(t, h, http.MethodGet, "/api/unlabeled_events", "", nil)
	decode(t, rec, &resp)
	if len(resp.Events) != 0 {
		t.Errorf("events after label = %+v, want none", resp.Events)
	}

	if p, _ := st.GetProfile("Aquarium Heater"); p == nil {
		t.Error("label did not create a profile")
	}
}
