package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retention holds the per-table retention windows
type Retention struct {
	Readings   time.Duration
	Events     time.Duration
	Detections time.Duration
}

// Sweeper periodically deletes rows older than the retention windows
type Sweeper struct {
	store     *Store
	retention Retention
	log       *slog.Logger
}

// NewSweeper creates a retention sweeper
func NewSweeper(s *Store, retention Retention, log *slog.Logger) *Sweeper {
	return &Sweeper{
		store:     s,
		retention: retention,
		log:       log.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled
func (sw *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sw.sweep(time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sw.sweep(now)
		}
	}
}

func (sw *Sweeper) sweep(now time.Time) {
	deleted, err := sw.store.SweepExpired(now, sw.retention)
	if err != nil {
		sw.log.Error("retention sweep failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		sw.log.Info("retention sweep complete", slog.Int64("rows_deleted", deleted))
	}
}

// SweepExpired deletes rows older than the retention windows and returns the
// total number of rows removed. Zero or negative windows disable deletion for
// that table.
func (s *Store) SweepExpired(now time.Time, retention Retention) (int64, error) {
	targets := []struct {
		table  string
		column string
		window time.Duration
	}{
		{"readings", "timestamp", retention.Readings},
		{"events", "detected_at", retention.Events},
		{"detections", "detected_at", retention.Detections},
	}

	var total int64
	for _, t := range targets {
		if t.window <= 0 {
			continue
		}
		cutoff := now.Add(-t.window).UTC().Format(time.RFC3339Nano)
		res, err := s.conn.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column), cutoff)
		if err != nil {
			return total, fmt.Errorf("sweeping %s: %w", t.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("counting swept %s rows: %w", t.table, err)
		}
		total += n
	}
	return total, nil
}
