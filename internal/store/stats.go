package store

import (
	"fmt"
	"time"
)

// ApplianceCount pairs an appliance name with a detection tally
type ApplianceCount struct {
	Name  string
	Count int
}

// Statistics summarizes detection activity for reporting
type Statistics struct {
	TotalReadings      int64
	TotalEvents        int64
	IdentifiedEvents   int64
	IdentificationRate float64
	EventsLast24h      int64
	KnownAppliances    int64
	TopAppliances      []ApplianceCount
}

// GetStatistics computes summary statistics relative to now
func (s *Store) GetStatistics(now time.Time) (*Statistics, error) {
	var stats Statistics

	counts := []struct {
		query string
		dest  *int64
		args  []any
	}{
		{`SELECT COUNT(*) FROM readings`, &stats.TotalReadings, nil},
		{`SELECT COUNT(*) FROM events`, &stats.TotalEvents, nil},
		{`SELECT COUNT(*) FROM events WHERE identified = 1`, &stats.IdentifiedEvents, nil},
		{`SELECT COUNT(*) FROM events WHERE detected_at >= ?`, &stats.EventsLast24h,
			[]any{now.Add(-24 * time.Hour).UTC().Format(time.RFC3339Nano)}},
		{`SELECT COUNT(*) FROM appliances`, &stats.KnownAppliances, nil},
	}
	for _, c := range counts {
		if err := s.conn.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("counting rows: %w", err)
		}
	}

	if stats.TotalEvents > 0 {
		stats.IdentificationRate = float64(stats.IdentifiedEvents) / float64(stats.TotalEvents)
	}

	rows, err := s.conn.Query(`
	SELECT appliance, COUNT(*) AS n
	FROM detections
	GROUP BY appliance
	ORDER BY n DESC, appliance ASC
	LIMIT 5
	`)
	if err != nil {
		return nil, fmt.Errorf("querying top appliances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ac ApplianceCount
		if err := rows.Scan(&ac.Name, &ac.Count); err != nil {
			return nil, fmt.Errorf("scanning top appliance: %w", err)
		}
		stats.TopAppliances = append(stats.TopAppliances, ac)
	}
	return &stats, rows.Err()
}
