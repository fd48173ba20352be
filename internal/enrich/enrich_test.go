package enrich

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sagarkishore-7/edu-cti/dbopen"
	"github.com/sagarkishore-7/edu-cti/internal/fetch"
	"github.com/sagarkishore-7/edu-cti/internal/llm"
	"github.com/sagarkishore-7/edu-cti/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	return &store.Store{DB: db}
}

type fakeFetcher struct {
	bodies map[string]string
}

func (f fakeFetcher) Fetch(ctx context.Context, rawURL string) (*fetch.ArticleContent, error) {
	body, ok := f.bodies[rawURL]
	if !ok || len(strings.TrimSpace(body)) < fetch.MinBodyChars {
		return &fetch.ArticleContent{URL: rawURL, FetchSuccessful: false, ErrorMessage: "not found"}, nil
	}
	return &fetch.ArticleContent{URL: rawURL, Body: body, ContentLength: len(body), FetchSuccessful: true}, nil
}

type fakeEnricher struct {
	result *llm.EnrichmentResult
	err    error
}

func (f fakeEnricher) Enrich(ctx context.Context, incident *store.Incident, articles []llm.Article) (*llm.EnrichmentResult, error) {
	return f.result, f.err
}

func TestRunEnrichesFetchedIncident(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	inc := &store.Incident{ID: "test_1", AllURLs: []string{"https://a.example/story"}}
	if err := store.InsertIncident(ctx, st.DB, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	fetcher := fakeFetcher{bodies: map[string]string{
		"https://a.example/story": strings.Repeat("breach details ", 10),
	}}
	enricher := fakeEnricher{result: &llm.EnrichmentResult{
		IsEducationRelated:   true,
		Summary:              "A university disclosed a breach.",
		ExtractionConfidence: 0.8,
		PrimaryURL:           "https://a.example/story",
		URLScores:            map[string]llm.URLScore{"https://a.example/story": {Score: 0.9}},
	}}

	stats := Run(ctx, st, fetcher, nil, enricher, []*store.Incident{inc}, Config{RateLimitDelay: 1}, nil)
	if stats.Enriched != 1 {
		t.Fatalf("expected 1 enriched, got %+v", stats)
	}

	got, err := store.GetIncident(ctx, st.DB, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if !got.Enriched || got.Summary == "" {
		t.Fatalf("expected incident enriched with summary, got %+v", got)
	}
}

// TestRunReconcilesNonCanonicalPrimaryURL exercises the case where the
// model echoes back a differently-formatted URL (www, trailing slash,
// casing) for primary_url and url_scores than the canonical form the
// article was stored under: both must still resolve to the same row.
func TestRunReconcilesNonCanonicalPrimaryURL(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	inc := &store.Incident{ID: "test_1", AllURLs: []string{"https://a.example/story"}}
	if err := store.InsertIncident(ctx, st.DB, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	fetcher := fakeFetcher{bodies: map[string]string{
		"https://a.example/story": strings.Repeat("breach details ", 10),
	}}
	enricher := fakeEnricher{result: &llm.EnrichmentResult{
		IsEducationRelated:   true,
		Summary:              "A university disclosed a breach.",
		ExtractionConfidence: 0.8,
		PrimaryURL:           "https://WWW.A.Example/story",
		URLScores:            map[string]llm.URLScore{"https://a.example/story/": {Score: 0.9, Reasoning: "primary source"}},
	}}

	stats := Run(ctx, st, fetcher, nil, enricher, []*store.Incident{inc}, Config{RateLimitDelay: 1}, nil)
	if stats.Enriched != 1 {
		t.Fatalf("expected 1 enriched, got %+v", stats)
	}

	got, err := store.GetIncident(ctx, st.DB, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got.PrimaryURL == nil || *got.PrimaryURL != "https://a.example/story" {
		t.Fatalf("expected normalized primary url, got %+v", got.PrimaryURL)
	}

	arts, err := store.ListArticles(ctx, st.DB, inc.ID)
	if err != nil {
		t.Fatalf("ListArticles: %v", err)
	}
	if len(arts) != 1 {
		t.Fatalf("expected PurgeNonPrimary to leave exactly the primary article, got %d", len(arts))
	}
	if !arts[0].IsPrimary || arts[0].URLScore == nil || *arts[0].URLScore != 0.9 {
		t.Fatalf("expected the stored article to be marked primary with score 0.9, got %+v", arts[0])
	}
}

func TestRunSkipsNotEducationRelated(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	inc := &store.Incident{ID: "test_1", AllURLs: []string{"https://a.example/story"}}
	if err := store.InsertIncident(ctx, st.DB, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	fetcher := fakeFetcher{bodies: map[string]string{
		"https://a.example/story": strings.Repeat("unrelated local news story ", 5),
	}}
	enricher := fakeEnricher{err: fmt.Errorf("%w: no education victim", llm.ErrNotEducationRelated)}

	stats := Run(ctx, st, fetcher, nil, enricher, []*store.Incident{inc}, Config{RateLimitDelay: 1}, nil)
	if stats.Skipped != 1 {
		t.Fatalf("expected the incident to be counted as skipped, got %+v", stats)
	}

	got, err := store.GetIncident(ctx, st.DB, inc.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got.Enriched {
		t.Fatal("expected a not-education-related incident to remain unenriched")
	}
}

func TestRunHaltsOnRateLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	inc1 := &store.Incident{ID: "test_1", AllURLs: []string{"https://a.example/one"}}
	inc2 := &store.Incident{ID: "test_2", AllURLs: []string{"https://a.example/two"}}
	if err := store.InsertIncident(ctx, st.DB, inc1); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}
	if err := store.InsertIncident(ctx, st.DB, inc2); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	fetcher := fakeFetcher{bodies: map[string]string{
		"https://a.example/one": strings.Repeat("details ", 10),
		"https://a.example/two": strings.Repeat("details ", 10),
	}}
	enricher := fakeEnricher{err: &llm.RateLimitError{}}

	stats := Run(ctx, st, fetcher, nil, enricher, []*store.Incident{inc1, inc2}, Config{RateLimitDelay: 1}, nil)
	if !stats.RateLimitHalt {
		t.Fatal("expected the run to report a rate-limit halt")
	}
}

func TestSaveRespectsUpgradeRule(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	existing := &store.Incident{
		ID: "test_1", Enriched: true, ExtractionConfidence: 0.8, Summary: "old summary",
	}
	if err := store.InsertIncident(ctx, st.DB, existing); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	lower := &llm.EnrichmentResult{ExtractionConfidence: 0.5, Summary: "should not apply"}
	if err := save(ctx, st, existing, lower, false, ""); err != nil {
		t.Fatalf("save (lower confidence): %v", err)
	}
	got, err := store.GetIncident(ctx, st.DB, existing.ID)
	if err != nil {
		t.Fatalf("GetIncident: %v", err)
	}
	if got.Summary != "old summary" {
		t.Fatalf("expected lower-confidence save to be rejected, got summary %q", got.Summary)
	}
}
