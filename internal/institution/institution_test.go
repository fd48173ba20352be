package institution

import (
	"context"
	"testing"

	"github.com/sagarkishore-7/edu-cti/dbopen"
	"github.com/sagarkishore-7/edu-cti/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	return &store.Store{DB: db}
}

func TestNormalizeNameStripsStopwordsAndPunctuation(t *testing.T) {
	cases := map[string]string{
		"University of Test State": "test",
		"Test College":             "test",
		"  TEST,  Institute.  ":    "test",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Errorf("NormalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithinWindow(t *testing.T) {
	if !withinWindow("2025-01-15", "2025-01-17", 14) {
		t.Fatal("expected dates 2 days apart to be within a 14-day window")
	}
	if withinWindow("2025-01-15", "2025-03-01", 14) {
		t.Fatal("expected dates 6 weeks apart to fall outside a 14-day window")
	}
	if withinWindow("not-a-date", "2025-01-15", 14) {
		t.Fatal("expected an unparseable date to never match")
	}
}

func seedEnriched(t *testing.T, st *store.Store, id, name, date string, confidence float64) {
	t.Helper()
	inc := &store.Incident{
		ID:                   id,
		VictimRawName:        name,
		VictimNormalizedName: NormalizeName(name),
		IncidentDate:         date,
		Enriched:             true,
		ExtractionConfidence: confidence,
	}
	if err := store.InsertIncident(context.Background(), st.DB, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}
}

func TestRunKeepsOnlyHighestConfidenceInGroup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedEnriched(t, st, "inc_a", "Test University", "2025-01-15", 0.70)
	seedEnriched(t, st, "inc_b", "Test University", "2025-01-16", 0.90)
	seedEnriched(t, st, "inc_c", "Test University", "2025-01-17", 0.80)

	stats, err := Run(ctx, st, 14, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Deleted != 2 {
		t.Fatalf("expected 2 incidents deleted, got %+v", stats)
	}

	remaining, err := store.ListAll(ctx, st.DB)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "inc_b" {
		t.Fatalf("expected only inc_b to survive, got %+v", remaining)
	}
}

func TestRunLeavesDistinctInstitutionsAlone(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedEnriched(t, st, "inc_a", "Test University", "2025-01-15", 0.70)
	seedEnriched(t, st, "inc_b", "Other College", "2025-01-15", 0.90)

	stats, err := Run(ctx, st, 14, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Deleted != 0 {
		t.Fatalf("expected no deletions across distinct institutions, got %+v", stats)
	}
}

func TestRunLeavesOutOfWindowDatesAlone(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	seedEnriched(t, st, "inc_a", "Test University", "2025-01-01", 0.70)
	seedEnriched(t, st, "inc_b", "Test University", "2025-06-01", 0.90)

	stats, err := Run(ctx, st, 14, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Deleted != 0 {
		t.Fatalf("expected no deletions outside the date window, got %+v", stats)
	}
}
