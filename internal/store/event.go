package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// FindSourceEvent returns the incident id already ingested for
// (source, sourceEventID), or ErrNotFound if this event has not been seen.
func FindSourceEvent(ctx context.Context, q Queryer, source, sourceEventID string) (string, error) {
	var incidentID string
	err := q.QueryRowContext(ctx, `
		SELECT incident_id FROM source_events WHERE source = ? AND source_event_id = ?`,
		source, sourceEventID,
	).Scan(&incidentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: find source event: %w", err)
	}
	return incidentID, nil
}

// RecordSourceEvent inserts the per-source dedup ledger row. It is an error
// to call this for a (source, sourceEventID) pair already recorded — the
// orchestrator must check FindSourceEvent first.
func RecordSourceEvent(ctx context.Context, q Queryer, source, sourceEventID, incidentID string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO source_events (source, source_event_id, incident_id, first_seen_at)
		VALUES (?, ?, ?, ?)`,
		source, sourceEventID, incidentID, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: record source event: %w", err)
	}
	return nil
}

// AppendAttribution records a (incident, source, source_event_id) claim.
// Idempotent: re-recording the same triple is a no-op, matching the
// append-only, at-least-once-per-event invariant.
func AppendAttribution(ctx context.Context, q Queryer, a SourceAttribution) error {
	if a.FirstSeenAt.IsZero() {
		a.FirstSeenAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO incident_sources
			(incident_id, source, source_event_id, first_seen_at, confidence)
		VALUES (?, ?, ?, ?, ?)`,
		a.IncidentID, a.Source, a.SourceEventID, a.FirstSeenAt.UnixMilli(), string(a.Confidence),
	)
	if err != nil {
		return fmt.Errorf("store: append attribution: %w", err)
	}
	return nil
}

// ListAttributions returns every source attribution for an incident.
func ListAttributions(ctx context.Context, q Queryer, incidentID string) ([]SourceAttribution, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT incident_id, source, source_event_id, first_seen_at, confidence
		FROM incident_sources WHERE incident_id = ?`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("store: list attributions: %w", err)
	}
	defer rows.Close()

	var out []SourceAttribution
	for rows.Next() {
		var a SourceAttribution
		var confidence string
		var firstSeenMs int64
		if err := rows.Scan(&a.IncidentID, &a.Source, &a.SourceEventID, &firstSeenMs, &confidence); err != nil {
			return nil, fmt.Errorf("store: scan attribution: %w", err)
		}
		a.Confidence = Confidence(confidence)
		a.FirstSeenAt = time.UnixMilli(firstSeenMs)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetCheckpoint returns the last published timestamp consumed for source.
func GetCheckpoint(ctx context.Context, q Queryer, source string) (time.Time, bool, error) {
	var ms int64
	err := q.QueryRowContext(ctx, `SELECT last_pubdate FROM source_state WHERE source = ?`, source).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: get checkpoint: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetCheckpoint upserts the last published timestamp for source.
func SetCheckpoint(ctx context.Context, q Queryer, source string, t time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO source_state (source, last_pubdate) VALUES (?, ?)
		ON CONFLICT(source) DO UPDATE SET last_pubdate = excluded.last_pubdate`,
		source, t.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: set checkpoint: %w", err)
	}
	return nil
}
