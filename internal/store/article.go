package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveArticle upserts an article row keyed by (incident_id, url). url_score,
// url_score_reasoning, and is_primary are left as-is on conflict unless the
// incoming article explicitly sets IsPrimary, in which case SetPrimary
// should be used instead so the single-primary invariant holds.
func SaveArticle(ctx context.Context, q Queryer, a *Article) error {
	if a.FetchedAt.IsZero() {
		a.FetchedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO articles (
			incident_id, url, title, body, author, publish_date,
			fetch_successful, error_message, content_length, fetched_at,
			url_score, url_score_reasoning, is_primary
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(incident_id, url) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			author = excluded.author,
			publish_date = excluded.publish_date,
			fetch_successful = excluded.fetch_successful,
			error_message = excluded.error_message,
			content_length = excluded.content_length,
			fetched_at = excluded.fetched_at`,
		a.IncidentID, a.URL, a.Title, a.Body, a.Author, a.PublishDate,
		boolToInt(a.FetchSuccessful), a.ErrorMessage, a.ContentLength, a.FetchedAt.UnixMilli(),
		a.URLScore, a.URLScoreReasoning, boolToInt(a.IsPrimary),
	)
	if err != nil {
		return fmt.Errorf("store: save article: %w", err)
	}
	return nil
}

// ListArticles returns every cached article for an incident.
func ListArticles(ctx context.Context, q Queryer, incidentID string) ([]*Article, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT incident_id, url, title, body, author, publish_date,
			fetch_successful, error_message, content_length, fetched_at,
			url_score, url_score_reasoning, is_primary
		FROM articles WHERE incident_id = ?`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("store: list articles: %w", err)
	}
	defer rows.Close()

	var out []*Article
	for rows.Next() {
		a := &Article{}
		var fetchSuccessfulInt, isPrimaryInt int
		var fetchedAtMs int64
		var urlScore sql.NullFloat64
		var urlScoreReasoning sql.NullString
		if err := rows.Scan(
			&a.IncidentID, &a.URL, &a.Title, &a.Body, &a.Author, &a.PublishDate,
			&fetchSuccessfulInt, &a.ErrorMessage, &a.ContentLength, &fetchedAtMs,
			&urlScore, &urlScoreReasoning, &isPrimaryInt,
		); err != nil {
			return nil, fmt.Errorf("store: scan article: %w", err)
		}
		a.FetchSuccessful = fetchSuccessfulInt != 0
		a.IsPrimary = isPrimaryInt != 0
		a.FetchedAt = time.UnixMilli(fetchedAtMs)
		if urlScore.Valid {
			v := urlScore.Float64
			a.URLScore = &v
		}
		if urlScoreReasoning.Valid {
			v := urlScoreReasoning.String
			a.URLScoreReasoning = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetPrimary clears is_primary on every article for incidentID and sets it
// on the row matching url, enforcing the at-most-one-primary invariant in
// the same statement pair. Call within a transaction alongside the
// enrichment save.
func SetPrimary(ctx context.Context, q Queryer, incidentID, url string, score float64, reasoning string) error {
	if _, err := q.ExecContext(ctx, `UPDATE articles SET is_primary = 0 WHERE incident_id = ?`, incidentID); err != nil {
		return fmt.Errorf("store: clear primary: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE articles SET is_primary = 1, url_score = ?, url_score_reasoning = ?
		WHERE incident_id = ? AND url = ?`,
		score, reasoning, incidentID, url,
	)
	if err != nil {
		return fmt.Errorf("store: set primary: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetURLScore records the LLM-assigned relevance score for a non-primary
// article without disturbing the primary flag.
func SetURLScore(ctx context.Context, q Queryer, incidentID, url string, score float64, reasoning string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE articles SET url_score = ?, url_score_reasoning = ?
		WHERE incident_id = ? AND url = ?`,
		score, reasoning, incidentID, url,
	)
	if err != nil {
		return fmt.Errorf("store: set url score: %w", err)
	}
	return nil
}

// PurgeNonPrimary deletes every non-primary article row for an incident,
// returning the number of rows removed. Called after an accepted
// enrichment save.
func PurgeNonPrimary(ctx context.Context, q Queryer, incidentID string) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM articles WHERE incident_id = ? AND is_primary = 0`, incidentID)
	if err != nil {
		return 0, fmt.Errorf("store: purge non-primary articles: %w", err)
	}
	return res.RowsAffected()
}
