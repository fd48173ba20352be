// Package ingest drives ingestion sources, applying per-source and
// cross-source deduplication and persisting incrementally.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sagarkishore-7/edu-cti/internal/dedup"
	"github.com/sagarkishore-7/edu-cti/internal/source"
	"github.com/sagarkishore-7/edu-cti/internal/store"
)

// Stats summarizes one RunSource call.
type Stats struct {
	Source      string
	SeenTotal   int
	AlreadySeen int
	Inserted    int
	Merged      int
	SubsetDrops int
	Upgraded    int
}

// Orchestrator runs a registry's adapters against a store, one at a time.
type Orchestrator struct {
	st     *store.Store
	logger *slog.Logger
}

// New builds an orchestrator writing to st.
func New(st *store.Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{st: st, logger: logger}
}

// RunTag looks up tag in reg and runs it with opts.
func (o *Orchestrator) RunTag(ctx context.Context, reg source.Registry, tag string, opts source.AdaptOptions) (Stats, error) {
	a := reg.Lookup(tag)
	if a == nil {
		return Stats{}, fmt.Errorf("ingest: unknown source tag %q", tag)
	}
	return o.RunSource(ctx, a, opts)
}

// RunSource drives a single adapter to completion: a batch sink flushes
// records to the ingest step in chunks of up to 50, committing after each
// flushed batch, per the orchestrator contract. On adapter error, whatever
// is already buffered is flushed before the error propagates.
func (o *Orchestrator) RunSource(ctx context.Context, a source.Adapter, opts source.AdaptOptions) (Stats, error) {
	stats := Stats{Source: a.Tag()}
	log := o.logger.With("source", a.Tag())

	sink := source.NewBatchSink(50, func(ctx context.Context, batch []source.RawIncident) error {
		return o.st.WithTx(ctx, func(q store.Queryer) error {
			for _, raw := range batch {
				outcome, err := ingestOne(ctx, q, raw)
				if err != nil {
					return fmt.Errorf("ingest %s: record %s: %w", a.Tag(), raw.SourceEventID, err)
				}
				stats.SeenTotal++
				switch outcome {
				case outcomeAlreadySeen:
					stats.AlreadySeen++
				case outcomeInserted:
					stats.Inserted++
				case outcomeMerged:
					stats.Merged++
				case outcomeSubsetDrop:
					stats.SubsetDrops++
				case outcomeUpgraded:
					stats.Upgraded++
				}
			}
			return nil
		})
	})

	opts.SaveBatch = sink.AddBatch
	adaptErr := a.Adapt(ctx, opts)
	if closeErr := sink.Close(ctx); closeErr != nil && adaptErr == nil {
		adaptErr = closeErr
	}
	if adaptErr != nil {
		log.Error("ingest: adapter run failed", "error", adaptErr)
		return stats, adaptErr
	}
	log.Info("ingest: adapter run complete",
		"seen", stats.SeenTotal, "already_seen", stats.AlreadySeen,
		"inserted", stats.Inserted, "merged", stats.Merged,
		"subset_drops", stats.SubsetDrops, "upgraded", stats.Upgraded)
	return stats, nil
}

type recordOutcome int

const (
	outcomeAlreadySeen recordOutcome = iota
	outcomeInserted
	outcomeMerged
	outcomeSubsetDrop
	outcomeUpgraded
)

// ingestOne implements the §4.5.1 per-record ingest step.
func ingestOne(ctx context.Context, q store.Queryer, raw source.RawIncident) (recordOutcome, error) {
	eventKey := eventKeyOf(raw)

	if _, err := store.FindSourceEvent(ctx, q, raw.Source, eventKey); err == nil {
		return outcomeAlreadySeen, nil
	} else if err != store.ErrNotFound {
		return 0, fmt.Errorf("find source event: %w", err)
	}

	candidate := raw.Incident
	candidate.AllURLs = dedup.ExtractURLs(candidate)

	result, err := dedup.ResolveAgainstStore(ctx, q, candidate)
	if err != nil {
		return 0, err
	}

	var outcome recordOutcome
	switch result.Resolution {
	case dedup.New:
		if err := store.InsertIncident(ctx, q, result.ToWrite); err != nil {
			return 0, fmt.Errorf("insert incident: %w", err)
		}
		outcome = outcomeInserted
	case dedup.MergedIntoUnenriched:
		if err := store.UpdateIncident(ctx, q, result.ToWrite); err != nil {
			return 0, fmt.Errorf("update merged incident: %w", err)
		}
		outcome = outcomeMerged
	case dedup.SubsetDropOfEnriched:
		outcome = outcomeSubsetDrop
	case dedup.URLUpgradeOfEnriched:
		if err := store.UpdateIncident(ctx, q, result.ToWrite); err != nil {
			return 0, fmt.Errorf("update upgraded incident: %w", err)
		}
		outcome = outcomeUpgraded
	}

	if err := store.AppendAttribution(ctx, q, store.SourceAttribution{
		IncidentID:    result.TargetID,
		Source:        raw.Source,
		SourceEventID: eventKey,
		Confidence:    candidate.Confidence,
	}); err != nil {
		return 0, fmt.Errorf("append attribution: %w", err)
	}
	if err := store.RecordSourceEvent(ctx, q, raw.Source, eventKey, result.TargetID); err != nil {
		return 0, fmt.Errorf("record source event: %w", err)
	}

	return outcome, nil
}

// eventKeyOf computes the per-source event key: SourceEventID if present,
// else the first URL of the incident's URL set, else the incident id.
func eventKeyOf(raw source.RawIncident) string {
	if raw.SourceEventID != "" {
		return raw.SourceEventID
	}
	if len(raw.Incident.AllURLs) > 0 {
		return raw.Incident.AllURLs[0]
	}
	return raw.Incident.ID
}
