package nilm

import "time"

// Broadcast payloads. These are the wire shapes pushed to subscribers over
// the notifier; field names match what the dashboard consumes.

// DataUpdatePayload mirrors one raw reading to live subscribers.
type DataUpdatePayload struct {
	Timestamp   string  `json:"timestamp"`
	Power       float64 `json:"power"`
	Voltage     float64 `json:"voltage,omitempty"`
	Current     float64 `json:"current,omitempty"`
	PowerFactor float64 `json:"power_factor,omitempty"`
	Steady      bool    `json:"steady_state"`
	Transient   bool    `json:"transient_detected"`
}

// ApplianceUpdatePayload announces an accepted match.
type ApplianceUpdatePayload struct {
	ApplianceName string  `json:"appliance_name"`
	Power         float64 `json:"power_consumption"`
	State         string  `json:"state"`
	Confidence    float64 `json:"confidence"`
	Timestamp     string  `json:"timestamp"`
}

// ApplianceStatePayload is one entry of an appliance_list broadcast.
type ApplianceStatePayload struct {
	ApplianceName string  `json:"appliance_name"`
	State         string  `json:"state"`
	Power         float64 `json:"power_consumption"`
	Confidence    float64 `json:"confidence"`
	Timestamp     string  `json:"timestamp"`
}

// UnidentifiedEventPayload surfaces an event for manual labeling.
type UnidentifiedEventPayload struct {
	ID          int64   `json:"id"`
	PowerChange float64 `json:"power_change"`
	PowerBefore float64 `json:"power_before"`
	PowerAfter  float64 `json:"power_after"`
	Confidence  float64 `json:"confidence"`
	Timestamp   string  `json:"timestamp"`
}

// ApplianceLabeledPayload confirms a user label was applied.
type ApplianceLabeledPayload struct {
	ApplianceName string  `json:"appliance_name"`
	EventID       int64   `json:"event_id,omitempty"`
	PowerChange   float64 `json:"power_change"`
	Timestamp     string  `json:"timestamp"`
}

func dataUpdatePayload(s Sample, obs Observation) DataUpdatePayload {
	return DataUpdatePayload{
		Timestamp:   s.Timestamp.UTC().Format(time.RFC3339),
		Power:       s.Power,
		Voltage:     s.Voltage,
		Current:     s.Current,
		PowerFactor: s.PowerFactor,
		Steady:      obs.Steady,
		Transient:   obs.Transient,
	}
}

func applianceUpdatePayload(m MatchResult, state OnOff, at time.Time) ApplianceUpdatePayload {
	return ApplianceUpdatePayload{
		ApplianceName: m.Name,
		Power:         m.Power,
		State:         string(state),
		Confidence:    m.Confidence,
		Timestamp:     at.UTC().Format(time.RFC3339),
	}
}

func stateListPayload(states []ApplianceState) []ApplianceStatePayload {
	out := make([]ApplianceStatePayload, 0, len(states))
	for _, s := range states {
		out = append(out, ApplianceStatePayload{
			ApplianceName: s.Name,
			State:         string(s.State),
			Power:         s.Power,
			Confidence:    s.Confidence,
			Timestamp:     s.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func unidentifiedPayload(e PowerEvent) UnidentifiedEventPayload {
	return UnidentifiedEventPayload{
		ID:          e.ID,
		PowerChange: e.PowerChange,
		PowerBefore: e.PowerBefore,
		PowerAfter:  e.PowerAfter,
		Confidence:  e.Confidence,
		Timestamp:   e.DetectedAt.UTC().Format(time.RFC3339),
	}
}

func labeledPayload(eventID int64, name string, powerChange float64, at time.Time) ApplianceLabeledPayload {
	return ApplianceLabeledPayload{
		ApplianceName: name,
		EventID:       eventID,
		PowerChange:   powerChange,
		Timestamp:     at.UTC().Format(time.RFC3339),
	}
}
