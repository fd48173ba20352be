// Package enrich drives the enrichment pipeline: a producer goroutine
// fetches articles for selected incidents and enqueues tasks; a single
// background consumer goroutine calls the LLM Extraction Adapter and
// writes results back, strictly sequentially.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sagarkishore-7/edu-cti/internal/fetch"
	"github.com/sagarkishore-7/edu-cti/internal/llm"
	"github.com/sagarkishore-7/edu-cti/internal/ratelimit"
	"github.com/sagarkishore-7/edu-cti/internal/store"
	"github.com/sagarkishore-7/edu-cti/internal/urlnorm"
)

// task is the minimal payload the producer enqueues; the consumer reloads
// the full incident and article set from the store rather than trusting
// the snapshot it was built from.
type task struct {
	incidentID string
}

// ArticleFetcher is the subset of *fetch.Fetcher the producer depends on,
// narrowed to an interface so tests can substitute a fake.
type ArticleFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.ArticleContent, error)
}

// Enricher is the subset of *llm.Client the consumer depends on.
type Enricher interface {
	Enrich(ctx context.Context, incident *store.Incident, articles []llm.Article) (*llm.EnrichmentResult, error)
}

// Stats summarizes one enrichment run.
type Stats struct {
	Processed   int
	Fetched     int
	Enriched    int
	Skipped     int
	Errored     int
	NotAttempted int
	RateLimitHalt bool
}

// Config configures a Run.
type Config struct {
	QueueSize       int
	MaxFetchWorkers int
	RateLimitDelay  time.Duration
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 16
	}
	if c.MaxFetchWorkers <= 0 {
		c.MaxFetchWorkers = 4
	}
	if c.RateLimitDelay <= 0 {
		c.RateLimitDelay = 2 * time.Second
	}
}

// Run fetches articles for each of candidates and enriches them, returning
// once both the producer and consumer have finished (or the consumer
// halted on an LLM rate limit).
func Run(ctx context.Context, st *store.Store, fetcher ArticleFetcher, limiter *ratelimit.Limiter, client Enricher, candidates []*store.Incident, cfg Config, logger *slog.Logger) Stats {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	queue := make(chan task, cfg.QueueSize)
	var fetchComplete atomic.Bool
	stats := &Stats{}
	done := make(chan struct{})

	go consume(ctx, st, client, queue, &fetchComplete, stats, cfg.RateLimitDelay, logger, done)
	produce(ctx, st, fetcher, limiter, candidates, queue, stats, cfg.MaxFetchWorkers, logger)
	fetchComplete.Store(true)

	<-done
	return *stats
}

// produce fetches 1..K articles per candidate and enqueues an enrichment
// task iff at least one article was successfully stored.
func produce(ctx context.Context, st *store.Store, fetcher ArticleFetcher, limiter *ratelimit.Limiter, candidates []*store.Incident, queue chan<- task, stats *Stats, maxWorkers int, logger *slog.Logger) {
	for _, inc := range candidates {
		stats.Processed++
		anySuccess := false

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxWorkers)
		results := make([]*fetch.ArticleContent, len(inc.AllURLs))
		for i, u := range inc.AllURLs {
			i, u := i, u
			g.Go(func() error {
				domain := urlnorm.Domain(u)
				if domain != "" && limiter != nil {
					if !limiter.CanFetch(domain) {
						return nil
					}
					if err := limiter.Wait(gctx, domain); err != nil {
						return err
					}
				}
				content, err := fetcher.Fetch(gctx, u)
				if err != nil {
					return fmt.Errorf("fetch %s: %w", u, err)
				}
				if limiter != nil {
					limiter.Record(domain, content.FetchSuccessful)
					if content.ErrorMessage == "http 403" {
						limiter.RecordForbidden(domain)
					}
				}
				results[i] = content
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			logger.Warn("enrich: producer fetch error", "incident", inc.ID, "error", err)
		}

		err := st.WithTx(ctx, func(q store.Queryer) error {
			for _, content := range results {
				if content == nil {
					continue
				}
				if err := fetch.Save(ctx, q, inc.ID, content); err != nil {
					return err
				}
				if content.FetchSuccessful {
					anySuccess = true
				}
			}
			return nil
		})
		if err != nil {
			logger.Error("enrich: save fetched articles", "incident", inc.ID, "error", err)
			stats.Errored++
			continue
		}
		if anySuccess {
			stats.Fetched++
			select {
			case queue <- task{incidentID: inc.ID}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// consume blocks on queue with a 5s poll; on timeout it checks
// fetchComplete (a signal distinct from the channel itself) and exits once
// the producer is done and the queue is empty.
func consume(ctx context.Context, st *store.Store, client Enricher, queue <-chan task, fetchComplete *atomic.Bool, stats *Stats, delay time.Duration, logger *slog.Logger, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-queue:
			if !ok {
				return
			}
			halt := processTask(ctx, st, client, t, stats, logger)
			if halt {
				drain(queue, fetchComplete, stats)
				stats.RateLimitHalt = true
				return
			}
			time.Sleep(delay)
		case <-time.After(5 * time.Second):
			if fetchComplete.Load() && len(queue) == 0 {
				return
			}
		}
	}
}

// drain marks every remaining task as not-attempted without processing it;
// the consumer calls it after a rate-limit halt.
func drain(queue <-chan task, fetchComplete *atomic.Bool, stats *Stats) {
	for {
		select {
		case _, ok := <-queue:
			if !ok {
				return
			}
			stats.NotAttempted++
		case <-time.After(5 * time.Second):
			if fetchComplete.Load() && len(queue) == 0 {
				return
			}
		}
	}
}

// processTask re-reads the incident fresh, invokes the LLM adapter, and
// saves the result. Returns true if the consumer should halt (rate limit).
func processTask(ctx context.Context, st *store.Store, client Enricher, t task, stats *Stats, logger *slog.Logger) (halt bool) {
	var result *llm.EnrichmentResult
	var articles []llm.Article
	var incident *store.Incident

	err := st.WithTx(ctx, func(q store.Queryer) error {
		var err error
		incident, err = store.GetIncident(ctx, q, t.incidentID)
		if err != nil {
			return err
		}
		if incident.Enriched {
			incident = nil // already enriched by a previous run; nothing to do
			return nil
		}
		stored, err := store.ListArticles(ctx, q, t.incidentID)
		if err != nil {
			return err
		}
		for _, a := range stored {
			if a.FetchSuccessful {
				articles = append(articles, llm.Article{URL: a.URL, Title: a.Title, Body: a.Body})
			}
		}
		return nil
	})
	if err != nil {
		logger.Error("enrich: reload incident", "incident", t.incidentID, "error", err)
		stats.Errored++
		return false
	}
	if incident == nil {
		return false
	}

	result, llmErr := client.Enrich(ctx, incident, articles)
	if llmErr != nil {
		var rlErr *llm.RateLimitError
		if errors.As(llmErr, &rlErr) {
			logger.Warn("enrich: llm rate limited, halting run", "incident", t.incidentID)
			stats.Errored++
			return true
		}
		if errors.Is(llmErr, llm.ErrNotEducationRelated) {
			_ = save(ctx, st, incident, nil, true, llmErr.Error())
			stats.Skipped++
			return false
		}
		logger.Warn("enrich: llm enrichment failed, leaving incident untouched", "incident", t.incidentID, "error", llmErr)
		stats.Errored++
		return false
	}

	if err := save(ctx, st, incident, result, false, ""); err != nil {
		logger.Error("enrich: save enrichment", "incident", t.incidentID, "error", err)
		stats.Errored++
		return false
	}
	stats.Enriched++
	return false
}

// save applies the upgrade rule: a new enrichment only overwrites an
// already-enriched row if its extraction confidence is strictly greater.
// A row whose enriched flag was reset by a URL upgrade keeps its previous
// enrichment on a result that is not strictly more confident, and is marked
// enriched again. URLScores keys are normalized before they are matched
// against the stored article URLs.
func save(ctx context.Context, st *store.Store, incident *store.Incident, result *llm.EnrichmentResult, skip bool, skipReason string) error {
	return st.WithTx(ctx, func(q store.Queryer) error {
		if skip {
			incident.SkipReason = skipReason
			if incident.SkipReason == "" {
				incident.SkipReason = "not education-related"
			}
			return store.UpdateIncident(ctx, q, incident)
		}
		if (incident.Enriched || incident.EnrichedAt != nil) && result.ExtractionConfidence <= incident.ExtractionConfidence {
			// skipped-lower-confidence: preserve the existing enrichment
			if incident.Enriched {
				return nil
			}
			incident.Enriched = true
			return store.UpdateIncident(ctx, q, incident)
		}

		incident.Summary = result.Summary
		incident.Timeline = result.Timeline
		incident.MITRETechniques = result.MITRETechniques
		incident.AttackDynamics = result.AttackDynamics
		incident.ExtractionConfidence = result.ExtractionConfidence
		incident.Enriched = true
		now := time.Now()
		incident.EnrichedAt = &now
		if result.PrimaryURL != "" {
			primary := urlnorm.Normalize(result.PrimaryURL)
			incident.PrimaryURL = &primary
		}
		if err := store.UpdateIncident(ctx, q, incident); err != nil {
			return err
		}

		scores := make(map[string]llm.URLScore, len(result.URLScores))
		for u, s := range result.URLScores {
			scores[urlnorm.Normalize(u)] = s
		}
		if incident.PrimaryURL != nil {
			score := scores[*incident.PrimaryURL]
			if err := store.SetPrimary(ctx, q, incident.ID, *incident.PrimaryURL, score.Score, score.Reasoning); err != nil {
				return err
			}
		}
		for u, s := range scores {
			if incident.PrimaryURL != nil && u == *incident.PrimaryURL {
				continue
			}
			_ = store.SetURLScore(ctx, q, incident.ID, u, s.Score, s.Reasoning)
		}
		_, err := store.PurgeNonPrimary(ctx, q, incident.ID)
		return err
	})
}
