package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sweeney/nilm-server/internal/nilm"
)

// UpsertProfile inserts or replaces an appliance profile
func (s *Store) UpsertProfile(p nilm.ApplianceProfile) error {
	query := `
	INSERT INTO appliances (
		name, typical_power, typical_duration, power_variance, min_power, max_power,
		startup_pattern, shutdown_pattern, pf_range_low, pf_range_high,
		frequency_signature, learning_count, last_updated
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		typical_power = excluded.typical_power,
		typical_duration = excluded.typical_duration,
		power_variance = excluded.power_variance,
		min_power = excluded.min_power,
		max_power = excluded.max_power,
		startup_pattern = excluded.startup_pattern,
		shutdown_pattern = excluded.shutdown_pattern,
		pf_range_low = excluded.pf_range_low,
		pf_range_high = excluded.pf_range_high,
		frequency_signature = excluded.frequency_signature,
		learning_count = excluded.learning_count,
		last_updated = excluded.last_updated
	`

	var updatedStr string
	if !p.LastUpdated.IsZero() {
		updatedStr = p.LastUpdated.UTC().Format(time.RFC3339)
	}

	_, err := s.conn.Exec(query,
		p.Name, p.TypicalPower, p.TypicalDuration, p.PowerVariance, p.MinPower, p.MaxPower,
		p.StartupPattern, p.ShutdownPattern, p.PFRangeLow, p.PFRangeHigh,
		p.FrequencySig, p.LearningCount, updatedStr)
	if err != nil {
		return fmt.Errorf("upserting profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by name, or nil when it does not exist
func (s *Store) GetProfile(name string) (*nilm.ApplianceProfile, error) {
	query := `
	SELECT name, typical_power, typical_duration, power_variance, min_power, max_power,
		startup_pattern, shutdown_pattern, pf_range_low, pf_range_high,
		frequency_signature, learning_count, last_updated
	FROM appliances
	WHERE name = ?
	`

	row := s.conn.QueryRow(query, name)
	p, err := scanProfile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying profile: %w", err)
	}
	return &p, nil
}

// ListProfiles retrieves all profiles ordered by descending learning count
func (s *Store) ListProfiles() ([]nilm.ApplianceProfile, error) {
	query := `
	SELECT name, typical_power, typical_duration, power_variance, min_power, max_power,
		startup_pattern, shutdown_pattern, pf_range_low, pf_range_high,
		frequency_signature, learning_count, last_updated
	FROM appliances
	ORDER BY learning_count DESC, name ASC
	`

	rows, err := s.conn.Query(query)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	var results []nilm.ApplianceProfile
	for rows.Next() {
		p, err := scanProfile(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// DeleteProfile removes a profile and its tracked state
func (s *Store) DeleteProfile(name string) error {
	if _, err := s.conn.Exec(`DELETE FROM appliances WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	if _, err := s.conn.Exec(`DELETE FROM appliance_states WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting appliance state: %w", err)
	}
	return nil
}

func scanProfile(scan func(dest ...any) error) (nilm.ApplianceProfile, error) {
	var p nilm.ApplianceProfile
	var updatedStr string

	err := scan(&p.Name, &p.TypicalPower, &p.TypicalDuration, &p.PowerVariance,
		&p.MinPower, &p.MaxPower, &p.StartupPattern, &p.ShutdownPattern,
		&p.PFRangeLow, &p.PFRangeHigh, &p.FrequencySig, &p.LearningCount, &updatedStr)
	if err != nil {
		return p, err
	}

	if updatedStr != "" {
		p.LastUpdated, err = time.Parse(time.RFC3339, updatedStr)
		if err != nil {
			return p, fmt.Errorf("parsing last_updated: %w", err)
		}
	}
	return p, nil
}

// UpsertState inserts or replaces a tracked appliance state
func (s *Store) UpsertState(st nilm.ApplianceState) error {
	query := `
	INSERT INTO appliance_states (name, state, power, confidence, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		state = excluded.state,
		power = excluded.power,
		confidence = excluded.confidence,
		updated_at = excluded.updated_at
	`

	_, err := s.conn.Exec(query, st.Name, string(st.State), st.Power, st.Confidence,
		st.UpdatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting appliance state: %w", err)
	}
	return nil
}

// LoadStates retrieves all persisted appliance states, typically to seed the
// in-memory tracker at startup
func (s *Store) LoadStates() ([]nilm.ApplianceState, error) {
	rows, err := s.conn.Query(`SELECT name, state, power, confidence, updated_at FROM appliance_states`)
	if err != nil {
		return nil, fmt.Errorf("querying appliance states: %w", err)
	}
	defer rows.Close()

	var results []nilm.ApplianceState
	for rows.Next() {
		var st nilm.ApplianceState
		var stateStr, updatedStr string
		if err := rows.Scan(&st.Name, &stateStr, &st.Power, &st.Confidence, &updatedStr); err != nil {
			return nil, fmt.Errorf("scanning appliance state: %w", err)
		}
		st.State = nilm.OnOff(stateStr)
		st.UpdatedAt, err = time.Parse(time.RFC3339, updatedStr)
		if err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, st)
	}
	return results, rows.Err()
}

type profilesView struct{ s *Store }

func (v profilesView) List() ([]nilm.ApplianceProfile, error)      { return v.s.ListProfiles() }
func (v profilesView) Get(name string) (*nilm.ApplianceProfile, error) { return v.s.GetProfile(name) }
func (v profilesView) Upsert(p nilm.ApplianceProfile) error        { return v.s.UpsertProfile(p) }
func (v profilesView) Delete(name string) error                    { return v.s.DeleteProfile(name) }

type statesView struct{ s *Store }

func (v statesView) Upsert(st nilm.ApplianceState) error { return v.s.UpsertState(st) }
