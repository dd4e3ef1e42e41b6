package store

import (
	"fmt"
	"time"

	"github.com/sweeney/nilm-server/internal/nilm"
)

// Reading is a stored power sample with the buffer flags computed at ingest
type Reading struct {
	ID        int64
	Sample    nilm.Sample
	Steady    bool
	Transient bool
}

// InsertReading archives a raw sample
func (s *Store) InsertReading(sample nilm.Sample, steady, transient bool) error {
	query := `
	INSERT INTO readings (timestamp, voltage, current, power, energy, frequency, power_factor, steady, transient)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.Exec(query,
		sample.Timestamp.UTC().Format(time.RFC3339Nano),
		sample.Voltage, sample.Current, sample.Power, sample.Energy,
		sample.Frequency, sample.PowerFactor,
		boolInt(steady), boolInt(transient))
	if err != nil {
		return fmt.Errorf("inserting reading: %w", err)
	}
	return nil
}

// RecentReadings retrieves the newest limit readings in chronological order
func (s *Store) RecentReadings(limit int) ([]Reading, error) {
	query := `
	SELECT id, timestamp, voltage, current, power, energy, frequency, power_factor, steady, transient
	FROM readings
	ORDER BY id DESC
	LIMIT ?
	`

	rows, err := s.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close()

	var results []Reading
	for rows.Next() {
		var r Reading
		var tsStr string
		var steady, transient int
		if err := rows.Scan(&r.ID, &tsStr, &r.Sample.Voltage, &r.Sample.Current,
			&r.Sample.Power, &r.Sample.Energy, &r.Sample.Frequency, &r.Sample.PowerFactor,
			&steady, &transient); err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		r.Sample.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		r.Steady = steady != 0
		r.Transient = transient != 0
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query, oldest-first for the caller.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// InsertEvent stores a detected power event and returns its assigned id
func (s *Store) InsertEvent(e nilm.PowerEvent) (int64, error) {
	query := `
	INSERT INTO events (detected_at, power_before, power_after, power_change,
		transient_magnitude, was_steady, confidence, identified)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.conn.Exec(query,
		e.DetectedAt.UTC().Format(time.RFC3339Nano),
		e.PowerBefore, e.PowerAfter, e.PowerChange,
		e.TransientMagnitude, boolInt(e.WasSteadyBefore), e.Confidence,
		boolInt(e.Identified))
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}
	return id, nil
}

// MarkEventIdentified flags an event as attributed to an appliance
func (s *Store) MarkEventIdentified(id int64) error {
	if _, err := s.conn.Exec(`UPDATE events SET identified = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("marking event identified: %w", err)
	}
	return nil
}

// EventsSince retrieves events detected at or after the cutoff, newest first
func (s *Store) EventsSince(cutoff time.Time) ([]nilm.PowerEvent, error) {
	query := `
	SELECT id, detected_at, power_before, power_after, power_change,
		transient_magnitude, was_steady, confidence, identified
	FROM events
	WHERE detected_at >= ?
	ORDER BY detected_at DESC
	`
	return s.queryEvents(query, cutoff.UTC().Format(time.RFC3339Nano))
}

// UnidentifiedEvents retrieves the newest unattributed events
func (s *Store) UnidentifiedEvents(limit int) ([]nilm.PowerEvent, error) {
	query := `
	SELECT id, detected_at, power_before, power_after, power_change,
		transient_magnitude, was_steady, confidence, identified
	FROM events
	WHERE identified = 0
	ORDER BY detected_at DESC
	LIMIT ?
	`
	return s.queryEvents(query, limit)
}

func (s *Store) queryEvents(query string, args ...any) ([]nilm.PowerEvent, error) {
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var results []nilm.PowerEvent
	for rows.Next() {
		var e nilm.PowerEvent
		var tsStr string
		var wasSteady, identified int
		if err := rows.Scan(&e.ID, &tsStr, &e.PowerBefore, &e.PowerAfter, &e.PowerChange,
			&e.TransientMagnitude, &wasSteady, &e.Confidence, &identified); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.DetectedAt, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing detected_at: %w", err)
		}
		e.WasSteadyBefore = wasSteady != 0
		e.Identified = identified != 0
		results = append(results, e)
	}
	return results, rows.Err()
}

// Detection is a stored appliance attribution
type Detection struct {
	ID         int64
	EventID    int64
	Appliance  string
	State      nilm.OnOff
	Power      float64
	Confidence float64
	DetectedAt time.Time
}

// InsertDetection stores an appliance attribution for an event
func (s *Store) InsertDetection(eventID int64, name string, state nilm.OnOff, power, confidence float64, at time.Time) error {
	query := `
	INSERT INTO detections (event_id, appliance, state, power, confidence, detected_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.conn.Exec(query, eventID, name, string(state), power, confidence,
		at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting detection: %w", err)
	}
	return nil
}

// InsertFeedback records a user-supplied label
func (s *Store) InsertFeedback(eventID int64, name string, powerChange float64, at time.Time) error {
	query := `
	INSERT INTO feedback (event_id, appliance, power_change, created_at)
	VALUES (?, ?, ?, ?)
	`

	_, err := s.conn.Exec(query, eventID, name, powerChange, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type samplesView struct{ s *Store }

func (v samplesView) Record(sample nilm.Sample, steady, transient bool) error {
	return v.s.InsertReading(sample, steady, transient)
}

type eventsView struct{ s *Store }

func (v eventsView) Record(e nilm.PowerEvent) (int64, error) { return v.s.InsertEvent(e) }
func (v eventsView) MarkIdentified(id int64) error           { return v.s.MarkEventIdentified(id) }

type detectionsView struct{ s *Store }

func (v detectionsView) Record(eventID int64, name string, state nilm.OnOff, power, confidence float64, at time.Time) error {
	return v.s.InsertDetection(eventID, name, state, power, confidence, at)
}

type feedbackView struct{ s *Store }

func (v feedbackView) Record(eventID int64, name string, powerChange float64, at time.Time) error {
	return v.s.InsertFeedback(eventID, name, powerChange, at)
}
