package csvexport

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/sagarkishore-7/edu-cti/dbopen"
	"github.com/sagarkishore-7/edu-cti/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	return &store.Store{DB: db}
}

func TestWriteEmitsHeaderAndOneRowPerEnrichedIncident(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	primary := "https://a.example/story"
	inc := &store.Incident{
		ID: "test_1", VictimRawName: "Test University", Enriched: true,
		ExtractionConfidence: 0.9, PrimaryURL: &primary,
		AllURLs: []string{primary, "https://b.example/story"},
		MITRETechniques: []string{"T1566"},
	}
	if err := store.InsertIncident(ctx, st.DB, inc); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}
	unenriched := &store.Incident{ID: "test_2", VictimRawName: "Other School"}
	if err := store.InsertIncident(ctx, st.DB, unenriched); err != nil {
		t.Fatalf("InsertIncident: %v", err)
	}

	var buf bytes.Buffer
	if err := Write(ctx, st, &buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 enriched row, got %d rows", len(rows))
	}
	if rows[1][0] != "test_1" {
		t.Fatalf("expected the enriched incident's row, got %v", rows[1])
	}
	if rows[1][11] != primary+";https://b.example/story" {
		t.Fatalf("expected semicolon-joined URLs, got %q", rows[1][11])
	}
}
