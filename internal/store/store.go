// Package store provides the SQLite persistence layer for edu-cti: incidents,
// their multi-source attribution, the per-source dedup ledger, per-source
// checkpoints, and the article cache.
package store

import (
	"database/sql"

	"github.com/sagarkishore-7/edu-cti/dbopen"
	_ "modernc.org/sqlite" // registers the "sqlite" driver dbopen opens
)

// Store is the edu-cti database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the edu-cti SQLite database at path and applies
// the schema. Writer handles get a 30s busy-timeout; pass ReadOnly() for a
// handle that never acquires write locks and gives up after 5s.
func Open(path string, opts ...Option) (*Store, error) {
	cfg := config{busyTimeoutMs: 30_000}
	for _, o := range opts {
		o(&cfg)
	}

	dbOpts := []dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithBusyTimeout(cfg.busyTimeoutMs),
		dbopen.WithCacheSize(-64000),
	}
	if cfg.readOnly {
		dbOpts = append(dbOpts, dbopen.WithReadOnly())
	} else {
		dbOpts = append(dbOpts, dbopen.WithSchema(Schema))
	}

	db, err := dbopen.Open(path, dbOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Option configures Open.
type Option func(*config)

type config struct {
	readOnly      bool
	busyTimeoutMs int
}

// ReadOnly opens the store as a reader: query_only pragma, 5s busy-timeout,
// and no schema migration attempt.
func ReadOnly() Option {
	return func(c *config) {
		c.readOnly = true
		c.busyTimeoutMs = 5_000
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
