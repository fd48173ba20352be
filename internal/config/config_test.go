package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
source_groups:
  - name: curated
    adapters:
      - tag: k12six
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DBPath != "edu-cti.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.DedupWindowDays != 14 {
		t.Fatalf("expected default dedup window 14, got %d", cfg.DedupWindowDays)
	}
	if cfg.Enrichment.FetchesPerHourCap != 10 {
		t.Fatalf("expected default fetches-per-hour cap, got %d", cfg.Enrichment.FetchesPerHourCap)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
db_path: test.db
bogus_field: true
`)
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected an error for an unknown top-level key")
	}
}

func TestEnabledTagsFlattensGroups(t *testing.T) {
	path := writeConfig(t, `
source_groups:
  - name: curated
    adapters:
      - tag: k12six
      - tag: doe-ocr
  - name: news
    adapters:
      - tag: newsapi
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	tags := cfg.EnabledTags()
	if len(tags) != 3 {
		t.Fatalf("expected 3 enabled tags, got %v", tags)
	}
}

func TestAdapterOverrideLookup(t *testing.T) {
	path := writeConfig(t, `
source_groups:
  - name: news
    adapters:
      - tag: newsapi
        max_pages: 5
        max_age_days: 30
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	override, ok := cfg.AdapterOverride("newsapi")
	if !ok || override.MaxPages != 5 || override.MaxAgeDays != 30 {
		t.Fatalf("unexpected override: %+v, ok=%v", override, ok)
	}
	if _, ok := cfg.AdapterOverride("missing"); ok {
		t.Fatal("expected no override for an unconfigured tag")
	}
}
