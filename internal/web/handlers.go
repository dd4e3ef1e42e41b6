package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/sweeney/nilm-server/internal/cache"
	"github.com/sweeney/nilm-server/internal/metrics"
	"github.com/sweeney/nilm-server/internal/nilm"
)

const (
	historicalLimit = 100
	unlabeledLimit  = 50
	eventsWindow    = 24 * time.Hour
)

type ingestRequest struct {
	Timestamp   string   `json:"timestamp,omitempty"`
	Voltage     float64  `json:"voltage"`
	Current     float64  `json:"current"`
	Power       *float64 `json:"power"`
	Energy      float64  `json:"energy"`
	Frequency   float64  `json:"frequency"`
	PowerFactor float64  `json:"power_factor"`
}

type ingestResponse struct {
	Status        string   `json:"status"`
	EventDetected bool     `json:"event_detected"`
	EventID       int64    `json:"event_id,omitempty"`
	Appliance     string   `json:"appliance,omitempty"`
	ApplianceState string  `json:"appliance_state,omitempty"`
	Confidence    *float64 `json:"confidence,omitempty"`
}

// handleIngest accepts one power sample and runs it through the pipeline.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Power == nil {
		respondError(w, "missing required field: power", http.StatusBadRequest)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			respondError(w, "invalid timestamp: "+err.Error(), http.StatusBadRequest)
			return
		}
		ts = parsed
	}

	sample := nilm.Sample{
		Timestamp:   ts,
		Voltage:     req.Voltage,
		Current:     req.Current,
		Power:       *req.Power,
		Energy:      req.Energy,
		Frequency:   req.Frequency,
		PowerFactor: req.PowerFactor,
	}

	result, err := s.deps.Pipeline.IngestSample(sample)
	if err != nil {
		// In-memory detection succeeded; only archival failed. Report the
		// outcome and let the caller decide whether to resend.
		s.log.Error("persisting sample", "error", err)
	}

	snap := s.deps.Pipeline.Snapshot()
	metrics.ObserveIngest(sample.Power, snap.ActiveAppliances,
		result.Event != nil, result.Match != nil)

	resp := ingestResponse{Status: "ok", EventDetected: result.Event != nil}
	if result.Event != nil {
		resp.EventID = result.Event.ID
	}
	if result.Match != nil {
		resp.Appliance = result.Match.Name
		resp.ApplianceState = string(result.Event.Direction())
		resp.Confidence = &result.Match.Confidence
		s.invalidateCaches(r)
	}
	respondJSON(w, resp, http.StatusOK)
}

type readingJSON struct {
	Timestamp   string  `json:"timestamp"`
	Power       float64 `json:"power"`
	Voltage     float64 `json:"voltage,omitempty"`
	Current     float64 `json:"current,omitempty"`
	PowerFactor float64 `json:"power_factor,omitempty"`
	Steady      bool    `json:"steady_state"`
	Transient   bool    `json:"transient_detected"`
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	readings, err := s.deps.Store.RecentReadings(historicalLimit)
	if err != nil {
		respondError(w, "querying readings: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]readingJSON, 0, len(readings))
	for _, rd := range readings {
		out = append(out, readingJSON{
			Timestamp:   rd.Sample.Timestamp.UTC().Format(time.RFC3339),
			Power:       rd.Sample.Power,
			Voltage:     rd.Sample.Voltage,
			Current:     rd.Sample.Current,
			PowerFactor: rd.Sample.PowerFactor,
			Steady:      rd.Steady,
			Transient:   rd.Transient,
		})
	}
	respondJSON(w, map[string]any{"readings": out}, http.StatusOK)
}

func (s *Server) handleAppliances(w http.ResponseWriter, r *http.Request) {
	states := s.deps.Pipeline.States()
	out := make([]map[string]any, 0, len(states))
	for _, st := range states {
		out = append(out, map[string]any{
			"appliance_name":    st.Name,
			"state":             string(st.State),
			"power_consumption": st.Power,
			"confidence":        st.Confidence,
			"timestamp":         st.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	respondJSON(w, map[string]any{"appliances": out}, http.StatusOK)
}

type eventJSON struct {
	ID          int64   `json:"id"`
	Timestamp   string  `json:"timestamp"`
	PowerBefore float64 `json:"power_before"`
	PowerAfter  float64 `json:"power_after"`
	PowerChange float64 `json:"power_change"`
	Confidence  float64 `json:"confidence"`
	Identified  bool    `json:"identified"`
}

func eventsJSON(events []nilm.PowerEvent) []eventJSON {
	out := make([]eventJSON, 0, len(events))
	for _, e := range events {
		out = append(out, eventJSON{
			ID:          e.ID,
			Timestamp:   e.DetectedAt.UTC().Format(time.RFC3339),
			PowerBefore: e.PowerBefore,
			PowerAfter:  e.PowerAfter,
			PowerChange: e.PowerChange,
			Confidence:  e.Confidence,
			Identified:  e.Identified,
		})
	}
	return out
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.EventsSince(time.Now().Add(-eventsWindow))
	if err != nil {
		respondError(w, "querying events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"events": eventsJSON(events)}, http.StatusOK)
}

func (s *Server) handleUnlabeledEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.UnidentifiedEvents(unlabeledLimit)
	if err != nil {
		respondError(w, "querying events: "+err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]any{"events": eventsJSON(events)}, http.StatusOK)
}

type labelRequest struct {
	EventID       int64   `json:"event_id"`
	ApplianceName string  `json:"appliance_name"`
	PowerChange   float64 `json:"power_change"`
}

func (s *Server) handleLabelAppliance(w http.ResponseWriter, r *http.Request) {
	var req labelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.ApplianceName = strings.TrimSpace(req.ApplianceName)
	if req.ApplianceName == "" {
		respondError(w, "missing required field: appliance_name", http.StatusBadRequest)
		return
	}

	st, err := s.deps.Pipeline.LabelAppliance(req.EventID, req.ApplianceName, req.PowerChange, time.Now().UTC())
	if err != nil {
		s.log.Error("persisting label", "error", err)
	}
	metrics.LabelsApplied.Inc()
	s.invalidateCaches(r)

	respondJSON(w, map[string]any{
		"status":     "ok",
		"appliance":  st.Name,
		"state":      string(st.State),
		"confidence": st.Confidence,
	}, http.StatusOK)
}

type statisticsJSON struct {
	TotalReadings      int64            `json:"total_readings"`
	TotalEvents        int64            `json:"total_events"`
	IdentifiedEvents   int64            `json:"identified_events"`
	IdentificationRate float64          `json:"identification_rate"`
	EventsLast24h      int64            `json:"events_last_24h"`
	KnownAppliances    int64            `json:"known_appliances"`
	TopAppliances      []topApplianceJSON `json:"top_appliances"`
}

type topApplianceJSON struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	var cached statisticsJSON
	if err := s.deps.Cache.Get(r.Context(), cache.StatisticsKey, &cached); err == nil {
		respondJSON(w, cached, http.StatusOK)
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("statistics cache read", "error", err)
	}

	stats, err := s.deps.Store.GetStatistics(time.Now())
	if err != nil {
		respondError(w, "computing statistics: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := statisticsJSON{
		TotalReadings:      stats.TotalReadings,
		TotalEvents:        stats.TotalEvents,
		IdentifiedEvents:   stats.IdentifiedEvents,
		IdentificationRate: stats.IdentificationRate,
		EventsLast24h:      stats.EventsLast24h,
		KnownAppliances:    stats.KnownAppliances,
		TopAppliances:      make([]topApplianceJSON, 0, len(stats.TopAppliances)),
	}
	for _, ac := range stats.TopAppliances {
		out.TopAppliances = append(out.TopAppliances, topApplianceJSON{Name: ac.Name, Count: ac.Count})
	}

	if err := s.deps.Cache.Set(r.Context(), cache.StatisticsKey, out, cache.StatisticsTTL); err != nil {
		s.log.Warn("statistics cache write", "error", err)
	}
	respondJSON(w, out, http.StatusOK)
}

type profileJSON struct {
	Name            string  `json:"name"`
	TypicalPower    float64 `json:"typical_power"`
	TypicalDuration int     `json:"typical_duration"`
	PowerVariance   float64 `json:"power_variance"`
	MinPower        float64 `json:"min_power"`
	MaxPower        float64 `json:"max_power"`
	LearningCount   int     `json:"learning_count"`
	LastUpdated     string  `json:"last_updated,omitempty"`
}

func (s *Server) handleKnownAppliances(w http.ResponseWriter, r *http.Request) {
	var cached []profileJSON
	if err := s.deps.Cache.Get(r.Context(), cache.AppliancesKey, &cached); err == nil {
		respondJSON(w, map[string]any{"appliances": cached}, http.StatusOK)
		return
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("appliances cache read", "error", err)
	}

	profiles, err := s.deps.Store.ListProfiles()
	if err != nil {
		respondError(w, "querying appliances: "+err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]profileJSON, 0, len(profiles))
	for _, p := range profiles {
		pj := profileJSON{
			Name:            p.Name,
			TypicalPower:    p.TypicalPower,
			TypicalDuration: p.TypicalDuration,
			PowerVariance:   p.PowerVariance,
			MinPower:        p.MinPower,
			MaxPower:        p.MaxPower,
			LearningCount:   p.LearningCount,
		}
		if !p.LastUpdated.IsZero() {
			pj.LastUpdated = p.LastUpdated.UTC().Format(time.RFC3339)
		}
		out = append(out, pj)
	}

	if err := s.deps.Cache.Set(r.Context(), cache.AppliancesKey, out, cache.AppliancesTTL); err != nil {
		s.log.Warn("appliances cache write", "error", err)
	}
	respondJSON(w, map[string]any{"appliances": out}, http.StatusOK)
}

type addApplianceRequest struct {
	Name            string  `json:"name"`
	TypicalPower    float64 `json:"typical_power"`
	TypicalDuration int     `json:"typical_duration"`
}

func (s *Server) handleAddAppliance(w http.ResponseWriter, r *http.Request) {
	var req addApplianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, "missing required field: name", http.StatusBadRequest)
		return
	}

	if existing, err := s.deps.Store.GetProfile(req.Name); err != nil {
		respondError(w, "checking appliance: "+err.Error(), http.StatusInternalServerError)
		return
	} else if existing != nil {
		respondError(w, "appliance already exists: "+req.Name, http.StatusConflict)
		return
	}

	profile := nilm.NewManualProfile(req.Name, req.TypicalPower, req.TypicalDuration, time.Now().UTC())
	if err := s.deps.Store.UpsertProfile(profile); err != nil {
		respondError(w, "storing appliance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.invalidateCaches(r)

	respondJSON(w, map[string]string{"status": "ok", "appliance": req.Name}, http.StatusCreated)
}

func (s *Server) handleDeleteAppliance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	existing, err := s.deps.Store.GetProfile(name)
	if err != nil {
		respondError(w, "checking appliance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		respondError(w, "unknown appliance: "+name, http.StatusNotFound)
		return
	}

	if err := s.deps.Store.DeleteProfile(name); err != nil {
		respondError(w, "deleting appliance: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.deps.Pipeline.ForgetAppliance(name)
	s.invalidateCaches(r)

	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleResetSystem(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.Reset(); err != nil {
		respondError(w, "resetting storage: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.deps.Pipeline.Reset()
	s.invalidateCaches(r)
	s.log.Info("system reset")

	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Pipeline.Snapshot()

	database := "ok"
	if err := s.deps.Store.Ping(); err != nil {
		database = "error: " + err.Error()
	}
	redis := "disabled"
	if s.deps.Cache != nil {
		redis = "ok"
		if err := s.deps.Cache.Ping(r.Context()); err != nil {
			redis = "error: " + err.Error()
		}
	}

	respondJSON(w, map[string]any{
		"status":            "healthy",
		"buffer_size":       snap.BufferLen,
		"current_power":     snap.CurrentPower,
		"active_appliances": snap.ActiveAppliances,
		"database":          database,
		"redis":             redis,
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
	}, http.StatusOK)
}

// invalidateCaches drops the query caches after any write that changes what
// they would serve.
func (s *Server) invalidateCaches(r *http.Request) {
	if err := s.deps.Cache.Invalidate(r.Context(), cache.StatisticsKey, cache.AppliancesKey); err != nil {
		s.log.Warn("cache invalidation", "error", err)
	}
}
