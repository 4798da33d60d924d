package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
	"github.com/banshee-data/drowsiness.monitor/internal/sensor"
)

// AlertRecord is one journaled alert.
type AlertRecord struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id,omitempty"`
	Source        alert.Source    `json:"source"`
	Rule          string          `json:"rule,omitempty"`
	Tick          uint32          `json:"tick"`
	OccurredAt    time.Time       `json:"occurred_at"`
	BlinkInterval uint32          `json:"blink_interval,omitempty"`
	Snapshot      sensor.Snapshot `json:"snapshot"`
}

// RecordAlert stores ev under sessionID, which may be empty.
func (db *DB) RecordAlert(ctx context.Context, sessionID string, ev alert.Event) error {
	id := ev.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var session any
	if sessionID != "" {
		session = sessionID
	}
	s := ev.Snapshot
	_, err := db.ExecContext(ctx, `
		INSERT INTO alert_events (
			alert_id, session_id, source, rule, tick, occurred_at_ns, blink_interval,
			proximity_value, proximity_delta, distance_ft100, grip_value, grip_delta,
			pulse_ibi_ms, pulse_bpm
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), session, string(ev.Source), ev.Rule, ev.Tick, ev.Time.UnixNano(), ev.BlinkInterval,
		s.ProximityValue, s.ProximityDelta, s.DistanceFt100, s.GripValue, s.GripDelta,
		s.PulseIBI, s.PulseBPM,
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", id, err)
	}
	if sessionID != "" {
		if _, err := db.ExecContext(ctx,
			`UPDATE sessions SET alert_count = alert_count + 1 WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("bump session %s: %w", sessionID, err)
		}
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (db *DB) RecentAlerts(limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT alert_id, COALESCE(session_id, ''), source, rule, tick, occurred_at_ns, blink_interval,
			proximity_value, proximity_delta, distance_ft100, grip_value, grip_delta,
			pulse_ibi_ms, pulse_bpm
		FROM alert_events ORDER BY occurred_at_ns DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []AlertRecord{}
	for rows.Next() {
		var (
			r          AlertRecord
			source     string
			occurredNs int64
		)
		if err := rows.Scan(
			&r.ID, &r.SessionID, &source, &r.Rule, &r.Tick, &occurredNs, &r.BlinkInterval,
			&r.Snapshot.ProximityValue, &r.Snapshot.ProximityDelta, &r.Snapshot.DistanceFt100,
			&r.Snapshot.GripValue, &r.Snapshot.GripDelta,
			&r.Snapshot.PulseIBI, &r.Snapshot.PulseBPM,
		); err != nil {
			return nil, err
		}
		r.Source = alert.Source(source)
		r.OccurredAt = time.Unix(0, occurredNs).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// AlertCounts returns the number of alerts per source since the given time.
// A zero since counts everything.
func (db *DB) AlertCounts(since time.Time) (map[alert.Source]int64, error) {
	var sinceNs int64
	if !since.IsZero() {
		sinceNs = since.UnixNano()
	}
	rows, err := db.Query(`
		SELECT source, COUNT(*) FROM alert_events
		WHERE occurred_at_ns >= ? GROUP BY source`, sinceNs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[alert.Source]int64)
	for rows.Next() {
		var (
			source string
			n      int64
		)
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		counts[alert.Source(source)] = n
	}
	return counts, rows.Err()
}
