package ingest

import (
	"context"
	"testing"

	"github.com/sagarkishore-7/edu-cti/dbopen"
	"github.com/sagarkishore-7/edu-cti/internal/source"
	"github.com/sagarkishore-7/edu-cti/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	return &store.Store{DB: db}
}

func TestRunSourceInsertsNewIncidents(t *testing.T) {
	st := openTestStore(t)
	entries := []source.CuratedEntry{
		{EventID: "1", VictimName: "Example University", Country: "US", Title: "Breach", URLs: []string{"https://a.example/x"}, Confidence: store.ConfidenceHigh},
		{EventID: "2", VictimName: "Other College", Country: "US", Title: "Ransomware", URLs: []string{"https://b.example/y"}, Confidence: store.ConfidenceMedium},
	}
	adapter := source.NewCuratedAdapter("curated:test", entries)

	o := New(st, nil)
	stats, err := o.RunSource(context.Background(), adapter, source.AdaptOptions{})
	if err != nil {
		t.Fatalf("RunSource: %v", err)
	}
	if stats.Inserted != 2 || stats.SeenTotal != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	all, err := store.ListAll(context.Background(), st.DB)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 incidents persisted, got %d", len(all))
	}
}

func TestRunSourceSkipsAlreadyIngestedEvents(t *testing.T) {
	st := openTestStore(t)
	entries := []source.CuratedEntry{
		{EventID: "1", VictimName: "Example University", Country: "US", Title: "Breach", URLs: []string{"https://a.example/x"}, Confidence: store.ConfidenceHigh},
	}
	adapter := source.NewCuratedAdapter("curated:test", entries)
	o := New(st, nil)

	ctx := context.Background()
	if _, err := o.RunSource(ctx, adapter, source.AdaptOptions{}); err != nil {
		t.Fatalf("first RunSource: %v", err)
	}
	stats, err := o.RunSource(ctx, adapter, source.AdaptOptions{})
	if err != nil {
		t.Fatalf("second RunSource: %v", err)
	}
	if stats.AlreadySeen != 1 || stats.Inserted != 0 {
		t.Fatalf("expected the re-run to be fully deduped, got %+v", stats)
	}

	all, err := store.ListAll(ctx, st.DB)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 incident, got %d", len(all))
	}
}

func TestRunSourceMergesCrossSourceSameURL(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	o := New(st, nil)

	first := source.NewCuratedAdapter("curated:s1", []source.CuratedEntry{
		{EventID: "e1", VictimName: "Example University", Country: "US", Title: "Breach",
			URLs: []string{"https://news.example/story"}, Confidence: store.ConfidenceMedium},
	})
	if _, err := o.RunSource(ctx, first, source.AdaptOptions{}); err != nil {
		t.Fatalf("first RunSource: %v", err)
	}

	second := source.NewCuratedAdapter("curated:s2", []source.CuratedEntry{
		{EventID: "e2", VictimName: "Example University", Country: "US", Title: "Breach confirmed",
			URLs: []string{"https://news.example/story"}, Confidence: store.ConfidenceHigh},
	})
	stats, err := o.RunSource(ctx, second, source.AdaptOptions{})
	if err != nil {
		t.Fatalf("second RunSource: %v", err)
	}
	if stats.Merged != 1 {
		t.Fatalf("expected the second source to merge into the first, got %+v", stats)
	}

	all, err := store.ListAll(ctx, st.DB)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single merged incident, got %d", len(all))
	}
	if all[0].Confidence != store.ConfidenceHigh {
		t.Fatalf("expected merged confidence to take the higher source's rank, got %v", all[0].Confidence)
	}
}
