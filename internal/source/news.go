package source

import (
	"context"
	"fmt"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

// NewsResult is one hit returned by a NewsSearcher, loose enough to cover
// whatever a given provider's API shape looks like.
type NewsResult struct {
	ID          string
	Title       string
	Snippet     string
	URL         string
	Source      string
	PublishedAt string
}

// NewsSearcher is the pluggable boundary a real news-search API (a paid
// search API, a scrape of an aggregator, whatever a deployment wires in)
// implements. NewsAdapter itself knows nothing about any particular
// provider — it only knows how to turn NewsResults into RawIncidents.
type NewsSearcher interface {
	Search(ctx context.Context, query string, maxPages int) ([]NewsResult, error)
}

// NewsAdapter runs a fixed set of search queries against a NewsSearcher and
// emits one raw incident per hit. Victim name, institution type and date
// are left for enrichment to fill in — a news search result alone rarely
// carries them reliably.
type NewsAdapter struct {
	tag      string
	queries  []string
	searcher NewsSearcher
	attack   string
}

// NewNewsAdapter builds a news-search adapter tagged tag, running queries
// against searcher. attack seeds AttackTypeHint when the query itself names
// an attack type (e.g. "ransomware").
func NewNewsAdapter(tag string, queries []string, searcher NewsSearcher, attack string) *NewsAdapter {
	return &NewsAdapter{tag: tag, queries: queries, searcher: searcher, attack: attack}
}

// Tag implements Adapter.
func (a *NewsAdapter) Tag() string { return a.tag }

// Adapt implements Adapter.
func (a *NewsAdapter) Adapt(ctx context.Context, opts AdaptOptions) error {
	var batch []RawIncident
	for _, q := range a.queries {
		results, err := a.searcher.Search(ctx, q, opts.MaxPages)
		if err != nil {
			return fmt.Errorf("news %s: search %q: %w", a.tag, q, err)
		}
		for _, r := range results {
			eventID := r.ID
			if eventID == "" {
				eventID = r.URL
			}
			if eventID == "" {
				continue
			}
			raw := RawIncident{
				Source:        a.tag,
				SourceEventID: eventID,
				Incident: &store.Incident{
					ID:                  IdentityKey(a.tag, eventID),
					Title:               r.Title,
					Subtitle:            r.Snippet,
					AllURLs:             nonEmptySlice(r.URL),
					AttackTypeHint:      a.attack,
					SourcePublishedDate: r.PublishedAt,
					Status:              store.StatusSuspected,
					Confidence:          store.ConfidenceLow,
				},
			}
			batch = append(batch, raw)
			if len(batch) >= 50 {
				if opts.SaveBatch != nil {
					if err := opts.SaveBatch(ctx, batch); err != nil {
						return err
					}
				}
				batch = nil
			}
		}
	}
	if len(batch) > 0 && opts.SaveBatch != nil {
		return opts.SaveBatch(ctx, batch)
	}
	return nil
}
