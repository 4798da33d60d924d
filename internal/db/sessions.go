package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/drowsiness.monitor/internal/alert"
)

// Session is one daemon run.
type Session struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Version    string     `json:"version"`
	ADCBackend string     `json:"adc_backend"`
	AlertCount int64      `json:"alert_count"`
}

// StartSession opens a session row and returns its id.
func (db *DB) StartSession(ctx context.Context, at time.Time, version, backend string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at_ns, version, adc_backend) VALUES (?, ?, ?, ?)`,
		id, at.UnixNano(), version, backend)
	if err != nil {
		return "", fmt.Errorf("start session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(ctx context.Context, id string, at time.Time) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended_at_ns = ? WHERE session_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end session %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// GetSession loads one session.
func (db *DB) GetSession(id string) (*Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	err := db.QueryRow(`
		SELECT session_id, started_at_ns, ended_at_ns, version, adc_backend, alert_count
		FROM sessions WHERE session_id = ?`, id).
		Scan(&s.ID, &started, &ended, &s.Version, &s.ADCBackend, &s.AlertCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s not found: %w", id, err)
	}
	if err != nil {
		return nil, err
	}
	s.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		s.EndedAt = &t
	}
	return &s, nil
}

// Journal adapts a DB session to the notify.Sink interface.
type Journal struct {
	DB        *DB
	SessionID string
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Publish(ctx context.Context, ev alert.Event) error {
	return j.DB.RecordAlert(ctx, j.SessionID, ev)
}
