package store

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/sagarkishore-7/edu-cti/dbopen"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return &Store{DB: db}
}

func TestApplySchema(t *testing.T) {
	s := openTestStore(t)
	for _, table := range []string{"incidents", "incident_sources", "source_events", "source_state", "articles"} {
		var name string
		err := s.DB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestInsertAndGetIncident(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inc := &Incident{
		ID:             "edu_abc123",
		VictimRawName:  "Test University",
		InstitutionType: InstitutionUniversity,
		Country:        "US",
		AllURLs:        []string{"https://example.com/breach"},
		Status:         StatusSuspected,
		Confidence:     ConfidenceHigh,
	}
	if err := InsertIncident(ctx, s.DB, inc); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := GetIncident(ctx, s.DB, inc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.VictimRawName != "Test University" {
		t.Errorf("victim_raw_name = %q, want %q", got.VictimRawName, "Test University")
	}
	if len(got.AllURLs) != 1 || got.AllURLs[0] != "https://example.com/breach" {
		t.Errorf("all_urls = %v", got.AllURLs)
	}
	if got.PrimaryURL != nil {
		t.Errorf("primary_url = %v, want nil", got.PrimaryURL)
	}
}

func TestFindIncidentsByURLs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := &Incident{ID: "a", AllURLs: []string{"https://x.test/1"}, Status: StatusSuspected, Confidence: ConfidenceLow}
	b := &Incident{ID: "b", AllURLs: []string{"https://y.test/1"}, Status: StatusSuspected, Confidence: ConfidenceLow}
	if err := InsertIncident(ctx, s.DB, a); err != nil {
		t.Fatal(err)
	}
	if err := InsertIncident(ctx, s.DB, b); err != nil {
		t.Fatal(err)
	}

	found, err := FindIncidentsByURLs(ctx, s.DB, []string{"https://x.test/1"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].ID != "a" {
		t.Fatalf("found = %+v, want only incident a", found)
	}
}

func TestSourceEventLedgerIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inc := &Incident{ID: "edu_1", Status: StatusSuspected, Confidence: ConfidenceLow}
	if err := InsertIncident(ctx, s.DB, inc); err != nil {
		t.Fatal(err)
	}
	if err := RecordSourceEvent(ctx, s.DB, "news1", "evt-1", inc.ID); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := FindSourceEvent(ctx, s.DB, "news1", "evt-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != inc.ID {
		t.Errorf("incident id = %q, want %q", got, inc.ID)
	}

	if _, err := FindSourceEvent(ctx, s.DB, "news1", "nope"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSetPrimaryEnforcesSingleFlag(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	inc := &Incident{ID: "edu_2", Status: StatusSuspected, Confidence: ConfidenceLow}
	if err := InsertIncident(ctx, s.DB, inc); err != nil {
		t.Fatal(err)
	}
	for _, u := range []string{"https://a.test", "https://b.test"} {
		if err := SaveArticle(ctx, s.DB, &Article{IncidentID: inc.ID, URL: u, FetchSuccessful: true}); err != nil {
			t.Fatal(err)
		}
	}

	if err := SetPrimary(ctx, s.DB, inc.ID, "https://a.test", 0.9, "best match"); err != nil {
		t.Fatalf("set primary a: %v", err)
	}
	if err := SetPrimary(ctx, s.DB, inc.ID, "https://b.test", 0.8, "reconsidered"); err != nil {
		t.Fatalf("set primary b: %v", err)
	}

	arts, err := ListArticles(ctx, s.DB, inc.ID)
	if err != nil {
		t.Fatal(err)
	}
	primaries := 0
	for _, a := range arts {
		if a.IsPrimary {
			primaries++
			if a.URL != "https://b.test" {
				t.Errorf("primary = %q, want https://b.test", a.URL)
			}
		}
	}
	if primaries != 1 {
		t.Errorf("primaries = %d, want 1", primaries)
	}
}
