package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx. Store methods take it
// explicitly so callers can choose whether an operation runs standalone or
// as part of a larger transaction — short transactions are a hard
// requirement here; the LLM call and HTTP fetches never happen while one is
// open.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ErrNotFound is returned by Get-style lookups that find no row.
var ErrNotFound = errors.New("store: not found")

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(q Queryer) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func jsonMarshal(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

// InsertIncident inserts a new incident row. The caller has already
// computed its identity per the source-tag/hash rule.
func InsertIncident(ctx context.Context, q Queryer, inc *Incident) error {
	now := time.Now()
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = now
	}
	inc.LastUpdatedAt = now

	_, err := q.ExecContext(ctx, `
		INSERT INTO incidents (
			id, victim_raw_name, victim_normalized_name, institution_type,
			country, region, city, incident_date, date_precision,
			source_published_date, title, subtitle, primary_url,
			all_urls_json, broken_urls_json, attack_type_hint, status,
			confidence, notes, enriched, enriched_at, skip_reason, summary,
			timeline_json, mitre_techniques_json, attack_dynamics_json,
			extraction_confidence, created_at, last_updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		inc.ID, inc.VictimRawName, inc.VictimNormalizedName, string(inc.InstitutionType),
		inc.Country, inc.Region, inc.City, inc.IncidentDate, string(inc.DatePrecision),
		inc.SourcePublishedDate, inc.Title, inc.Subtitle, inc.PrimaryURL,
		jsonMarshal(orEmptySlice(inc.AllURLs)), jsonMarshal(orEmptySlice(inc.BrokenURLs)), inc.AttackTypeHint, string(inc.Status),
		string(inc.Confidence), inc.Notes, boolToInt(inc.Enriched), optTime(inc.EnrichedAt), inc.SkipReason, inc.Summary,
		jsonMarshal(orEmptyTimeline(inc.Timeline)), jsonMarshal(orEmptySlice(inc.MITRETechniques)), jsonMarshal(orEmptyMap(inc.AttackDynamics)),
		inc.ExtractionConfidence, inc.CreatedAt.UnixMilli(), inc.LastUpdatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert incident: %w", err)
	}
	return nil
}

// UpdateIncident overwrites every mutable column of an existing incident
// row (used for merge writes and enrichment saves).
func UpdateIncident(ctx context.Context, q Queryer, inc *Incident) error {
	inc.LastUpdatedAt = time.Now()
	res, err := q.ExecContext(ctx, `
		UPDATE incidents SET
			victim_raw_name = ?, victim_normalized_name = ?, institution_type = ?,
			country = ?, region = ?, city = ?, incident_date = ?, date_precision = ?,
			source_published_date = ?, title = ?, subtitle = ?, primary_url = ?,
			all_urls_json = ?, broken_urls_json = ?, attack_type_hint = ?, status = ?,
			confidence = ?, notes = ?, enriched = ?, enriched_at = ?, skip_reason = ?,
			summary = ?, timeline_json = ?, mitre_techniques_json = ?,
			attack_dynamics_json = ?, extraction_confidence = ?, last_updated_at = ?
		WHERE id = ?`,
		inc.VictimRawName, inc.VictimNormalizedName, string(inc.InstitutionType),
		inc.Country, inc.Region, inc.City, inc.IncidentDate, string(inc.DatePrecision),
		inc.SourcePublishedDate, inc.Title, inc.Subtitle, inc.PrimaryURL,
		jsonMarshal(orEmptySlice(inc.AllURLs)), jsonMarshal(orEmptySlice(inc.BrokenURLs)), inc.AttackTypeHint, string(inc.Status),
		string(inc.Confidence), inc.Notes, boolToInt(inc.Enriched), optTime(inc.EnrichedAt), inc.SkipReason,
		inc.Summary, jsonMarshal(orEmptyTimeline(inc.Timeline)), jsonMarshal(orEmptySlice(inc.MITRETechniques)),
		jsonMarshal(orEmptyMap(inc.AttackDynamics)), inc.ExtractionConfidence, inc.LastUpdatedAt.UnixMilli(),
		inc.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update incident: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIncident removes an incident and (by foreign key cascade) its
// attributions, source events, and articles.
func DeleteIncident(ctx context.Context, q Queryer, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM incidents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete incident: %w", err)
	}
	return nil
}

// GetIncident loads one incident by id.
func GetIncident(ctx context.Context, q Queryer, id string) (*Incident, error) {
	row := q.QueryRowContext(ctx, incidentSelect+` WHERE id = ?`, id)
	return scanIncident(row)
}

// FindIncidentsByURLs returns every incident whose all_urls set intersects
// normalizedURLs, using SQLite's json_each table-valued function over the
// stored JSON array.
func FindIncidentsByURLs(ctx context.Context, q Queryer, normalizedURLs []string) ([]*Incident, error) {
	if len(normalizedURLs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(normalizedURLs))
	args := make([]any, 0, len(normalizedURLs))
	for i, u := range normalizedURLs {
		placeholders[i] = "?"
		args = append(args, u)
	}
	query := incidentSelect + `
		WHERE id IN (
			SELECT DISTINCT incidents.id
			FROM incidents, json_each(incidents.all_urls_json) je
			WHERE je.value IN (` + strings.Join(placeholders, ",") + `)
		)`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find incidents by urls: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// ListUnenriched returns up to limit unenriched incidents in random order,
// for the smart selector's over-fetch pool.
func ListUnenriched(ctx context.Context, q Queryer, limit int) ([]*Incident, error) {
	rows, err := q.QueryContext(ctx, incidentSelect+`
		WHERE enriched = 0 AND skip_reason = ''
		ORDER BY RANDOM() LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list unenriched: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// ListEnriched returns every enriched incident, for the institutional
// post-dedup pass.
func ListEnriched(ctx context.Context, q Queryer) ([]*Incident, error) {
	rows, err := q.QueryContext(ctx, incidentSelect+` WHERE enriched = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: list enriched: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// ListAll returns every incident, for CSV export.
func ListAll(ctx context.Context, q Queryer) ([]*Incident, error) {
	rows, err := q.QueryContext(ctx, incidentSelect+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list all: %w", err)
	}
	defer rows.Close()
	return scanIncidents(rows)
}

const incidentSelect = `
	SELECT id, victim_raw_name, victim_normalized_name, institution_type,
		country, region, city, incident_date, date_precision,
		source_published_date, title, subtitle, primary_url,
		all_urls_json, broken_urls_json, attack_type_hint, status,
		confidence, notes, enriched, enriched_at, skip_reason, summary,
		timeline_json, mitre_techniques_json, attack_dynamics_json,
		extraction_confidence, created_at, last_updated_at
	FROM incidents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var inc Incident
	var institutionType, datePrecision, status, confidence string
	var allURLsJSON, brokenURLsJSON, timelineJSON, mitreJSON, dynamicsJSON string
	var enrichedInt int
	var enrichedAtMs sql.NullInt64
	var createdAtMs, updatedAtMs int64
	var primaryURL sql.NullString

	err := row.Scan(
		&inc.ID, &inc.VictimRawName, &inc.VictimNormalizedName, &institutionType,
		&inc.Country, &inc.Region, &inc.City, &inc.IncidentDate, &datePrecision,
		&inc.SourcePublishedDate, &inc.Title, &inc.Subtitle, &primaryURL,
		&allURLsJSON, &brokenURLsJSON, &inc.AttackTypeHint, &status,
		&confidence, &inc.Notes, &enrichedInt, &enrichedAtMs, &inc.SkipReason, &inc.Summary,
		&timelineJSON, &mitreJSON, &dynamicsJSON,
		&inc.ExtractionConfidence, &createdAtMs, &updatedAtMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan incident: %w", err)
	}

	inc.InstitutionType = InstitutionType(institutionType)
	inc.DatePrecision = DatePrecision(datePrecision)
	inc.Status = Status(status)
	inc.Confidence = Confidence(confidence)
	inc.Enriched = enrichedInt != 0
	inc.CreatedAt = time.UnixMilli(createdAtMs)
	inc.LastUpdatedAt = time.UnixMilli(updatedAtMs)
	if primaryURL.Valid {
		v := primaryURL.String
		inc.PrimaryURL = &v
	}
	if enrichedAtMs.Valid {
		t := time.UnixMilli(enrichedAtMs.Int64)
		inc.EnrichedAt = &t
	}
	_ = json.Unmarshal([]byte(allURLsJSON), &inc.AllURLs)
	_ = json.Unmarshal([]byte(brokenURLsJSON), &inc.BrokenURLs)
	_ = json.Unmarshal([]byte(timelineJSON), &inc.Timeline)
	_ = json.Unmarshal([]byte(mitreJSON), &inc.MITRETechniques)
	_ = json.Unmarshal([]byte(dynamicsJSON), &inc.AttackDynamics)
	return &inc, nil
}

func scanIncidents(rows *sql.Rows) ([]*Incident, error) {
	var out []*Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyTimeline(t []TimelineEntry) []TimelineEntry {
	if t == nil {
		return []TimelineEntry{}
	}
	return t
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
