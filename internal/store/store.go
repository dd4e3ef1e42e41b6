package store

import (
	"database/sql"
	"fmt"

	"github.com/sweeney/nilm-server/internal/nilm"
	_ "modernc.org/sqlite"
)

// Store wraps the database connection
type Store struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*Store, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows one writer; the pipeline serializes writes anyway.
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the database connection
func (s *Store) Ping() error {
	return s.conn.Ping()
}

// initSchema creates the necessary tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		voltage REAL NOT NULL DEFAULT 0,
		current REAL NOT NULL DEFAULT 0,
		power REAL NOT NULL,
		energy REAL NOT NULL DEFAULT 0,
		frequency REAL NOT NULL DEFAULT 0,
		power_factor REAL NOT NULL DEFAULT 0,
		steady INTEGER NOT NULL DEFAULT 0,
		transient INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		detected_at TEXT NOT NULL,
		power_before REAL NOT NULL,
		power_after REAL NOT NULL,
		power_change REAL NOT NULL,
		transient_magnitude REAL NOT NULL DEFAULT 0,
		was_steady INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		identified INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_detected_at ON events(detected_at);
	CREATE INDEX IF NOT EXISTS idx_events_identified ON events(identified);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL,
		appliance TEXT NOT NULL,
		state TEXT NOT NULL,
		power REAL NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		detected_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_detections_detected_at ON detections(detected_at);
	CREATE INDEX IF NOT EXISTS idx_detections_appliance ON detections(appliance);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL DEFAULT 0,
		appliance TEXT NOT NULL,
		power_change REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS appliances (
		name TEXT PRIMARY KEY,
		typical_power REAL NOT NULL,
		typical_duration REAL NOT NULL DEFAULT 0,
		power_variance REAL NOT NULL DEFAULT 0,
		min_power REAL NOT NULL DEFAULT 0,
		max_power REAL NOT NULL DEFAULT 0,
		startup_pattern TEXT NOT NULL DEFAULT '',
		shutdown_pattern TEXT NOT NULL DEFAULT '',
		pf_range_low REAL NOT NULL DEFAULT 0,
		pf_range_high REAL NOT NULL DEFAULT 0,
		frequency_signature REAL NOT NULL DEFAULT 0,
		learning_count INTEGER NOT NULL DEFAULT 0,
		last_updated TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS appliance_states (
		name TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		power REAL NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// Reset clears all stored data and re-seeds the appliance catalogue.
func (s *Store) Reset() error {
	tables := []string{"readings", "events", "detections", "feedback", "appliances", "appliance_states"}
	for _, table := range tables {
		if _, err := s.conn.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return s.Seed(nilm.SeedProfiles())
}

// Seed inserts the given profiles, skipping any that already exist.
func (s *Store) Seed(profiles []nilm.ApplianceProfile) error {
	for _, p := range profiles {
		exists, err := s.GetProfile(p.Name)
		if err != nil {
			return err
		}
		if exists != nil {
			continue
		}
		if err := s.UpsertProfile(p); err != nil {
			return err
		}
	}
	return nil
}

// Profiles returns the store as a nilm.ProfileRepository.
func (s *Store) Profiles() nilm.ProfileRepository { return profilesView{s} }

// Events returns the store as a nilm.EventSink.
func (s *Store) Events() nilm.EventSink { return eventsView{s} }

// Samples returns the store as a nilm.SampleSink.
func (s *Store) Samples() nilm.SampleSink { return samplesView{s} }

// Detections returns the store as a nilm.DetectionSink.
func (s *Store) Detections() nilm.DetectionSink { return detectionsView{s} }

// States returns the store as a nilm.StateSink.
func (s *Store) States() nilm.StateSink { return statesView{s} }

// Feedback returns the store as a nilm.FeedbackSink.
func (s *Store) Feedback() nilm.FeedbackSink { return feedbackView{s} }
