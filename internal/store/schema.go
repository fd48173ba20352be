package store

// Schema is the complete edu-cti schema: incidents, their source
// attributions, the per-source dedup ledger, per-source checkpoints, and
// the article cache.
const Schema = `
CREATE TABLE IF NOT EXISTS incidents (
    id                     TEXT PRIMARY KEY,
    victim_raw_name        TEXT NOT NULL DEFAULT '',
    victim_normalized_name TEXT NOT NULL DEFAULT '',
    institution_type       TEXT NOT NULL DEFAULT 'unknown',
    country                TEXT NOT NULL DEFAULT '',
    region                 TEXT NOT NULL DEFAULT '',
    city                   TEXT NOT NULL DEFAULT '',
    incident_date          TEXT NOT NULL DEFAULT '',
    date_precision         TEXT NOT NULL DEFAULT 'unknown',
    source_published_date  TEXT NOT NULL DEFAULT '',
    title                  TEXT NOT NULL DEFAULT '',
    subtitle               TEXT NOT NULL DEFAULT '',
    primary_url            TEXT,
    all_urls_json          TEXT NOT NULL DEFAULT '[]',
    broken_urls_json       TEXT NOT NULL DEFAULT '[]',
    attack_type_hint       TEXT NOT NULL DEFAULT '',
    status                 TEXT NOT NULL DEFAULT 'suspected',
    confidence             TEXT NOT NULL DEFAULT 'low',
    notes                  TEXT NOT NULL DEFAULT '',
    enriched               INTEGER NOT NULL DEFAULT 0,
    enriched_at            INTEGER,
    skip_reason            TEXT NOT NULL DEFAULT '',
    summary                TEXT NOT NULL DEFAULT '',
    timeline_json          TEXT NOT NULL DEFAULT '[]',
    mitre_techniques_json  TEXT NOT NULL DEFAULT '[]',
    attack_dynamics_json   TEXT NOT NULL DEFAULT '{}',
    extraction_confidence  REAL NOT NULL DEFAULT 0,
    created_at             INTEGER NOT NULL,
    last_updated_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_country ON incidents(country);
CREATE INDEX IF NOT EXISTS idx_incidents_date ON incidents(incident_date);
CREATE INDEX IF NOT EXISTS idx_incidents_enriched ON incidents(enriched);

CREATE TABLE IF NOT EXISTS incident_sources (
    incident_id     TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
    source          TEXT NOT NULL,
    source_event_id TEXT NOT NULL DEFAULT '',
    first_seen_at   INTEGER NOT NULL,
    confidence      TEXT NOT NULL DEFAULT 'low',
    PRIMARY KEY (incident_id, source, source_event_id)
);
CREATE INDEX IF NOT EXISTS idx_incident_sources_incident ON incident_sources(incident_id);
CREATE INDEX IF NOT EXISTS idx_incident_sources_source ON incident_sources(source);

CREATE TABLE IF NOT EXISTS source_events (
    source          TEXT NOT NULL,
    source_event_id TEXT NOT NULL,
    incident_id     TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
    first_seen_at   INTEGER NOT NULL,
    PRIMARY KEY (source, source_event_id)
);

CREATE TABLE IF NOT EXISTS source_state (
    source       TEXT PRIMARY KEY,
    last_pubdate INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS articles (
    incident_id         TEXT NOT NULL REFERENCES incidents(id) ON DELETE CASCADE,
    url                 TEXT NOT NULL,
    title               TEXT NOT NULL DEFAULT '',
    body                TEXT NOT NULL DEFAULT '',
    author              TEXT NOT NULL DEFAULT '',
    publish_date        TEXT NOT NULL DEFAULT '',
    fetch_successful    INTEGER NOT NULL DEFAULT 0,
    error_message       TEXT NOT NULL DEFAULT '',
    content_length      INTEGER NOT NULL DEFAULT 0,
    fetched_at          INTEGER NOT NULL,
    url_score           REAL,
    url_score_reasoning TEXT,
    is_primary          INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (incident_id, url)
);
CREATE INDEX IF NOT EXISTS idx_articles_incident_primary ON articles(incident_id, is_primary);
`
