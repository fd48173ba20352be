// Package source defines the uniform contract every ingestion source
// implements (§4.4), along with the tag-keyed adapter registry the
// orchestrator is handed at construction time.
package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

// RawIncident is the record shape every adapter produces. It carries enough
// to identify the source event and to seed a store.Incident.
type RawIncident struct {
	Source        string
	SourceEventID string
	Incident      *store.Incident
}

// IdentityKey returns the deterministic incident id for (sourceTag,
// canonicalKey): sourceTag + "_" + first 16 hex chars of sha256(canonicalKey).
// canonicalKey should be the most stable identifying string the adapter has
// (a native event id, a canonical URL, or a title+date composite) — never
// derived from content that later enrichment might rewrite.
func IdentityKey(sourceTag, canonicalKey string) string {
	sum := sha256.Sum256([]byte(canonicalKey))
	return sourceTag + "_" + hex.EncodeToString(sum[:])[:16]
}

// AdaptOptions is the per-adapter option bag (§9 "Dynamic config objects").
// Only these fields are recognized; a YAML config that carries unknown
// per-adapter keys is rejected at load time by internal/config, not here.
type AdaptOptions struct {
	MaxPages        int
	MaxAgeDays      int
	SinceCheckpoint *time.Time
	// SaveBatch is called with batches of at most 50 raw incidents as they
	// become available. May be nil in tests that only want the final
	// return value, but production adapters must not assume that.
	SaveBatch func(ctx context.Context, batch []RawIncident) error
}

// Adapter is the uniform interface every ingestion source implements. An
// adapter is a pure data producer: it never touches the store directly, it
// only calls opts.SaveBatch.
type Adapter interface {
	// Tag is the stable source identifier used as the "source" column
	// throughout the store (e.g. "curated:k12-six", "rss:bleepingcomputer").
	Tag() string
	Adapt(ctx context.Context, opts AdaptOptions) error
}

// BatchSink accumulates raw incidents and flushes in chunks of at most
// maxBatch, matching the ingestion orchestrator's batch-sink contract.
type BatchSink struct {
	maxBatch int
	flush    func(ctx context.Context, batch []RawIncident) error
	pending  []RawIncident
}

// NewBatchSink creates a sink that calls flush whenever pending reaches
// maxBatch, or on Close with whatever remains.
func NewBatchSink(maxBatch int, flush func(ctx context.Context, batch []RawIncident) error) *BatchSink {
	if maxBatch <= 0 {
		maxBatch = 50
	}
	return &BatchSink{maxBatch: maxBatch, flush: flush}
}

// Add appends a single record, flushing if the batch threshold is reached.
func (s *BatchSink) Add(ctx context.Context, r RawIncident) error {
	return s.AddBatch(ctx, []RawIncident{r})
}

// AddBatch appends a batch of records, flushing whenever pending reaches
// the threshold (possibly more than once for a large incoming batch).
func (s *BatchSink) AddBatch(ctx context.Context, batch []RawIncident) error {
	s.pending = append(s.pending, batch...)
	for len(s.pending) >= s.maxBatch {
		if err := s.flush(ctx, s.pending[:s.maxBatch]); err != nil {
			return err
		}
		s.pending = s.pending[s.maxBatch:]
	}
	return nil
}

// Close flushes whatever remains buffered, even a partial batch.
func (s *BatchSink) Close(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	rest := s.pending
	s.pending = nil
	return s.flush(ctx, rest)
}
