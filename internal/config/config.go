// Package config loads the YAML-driven pipeline configuration: which source
// groups and adapters run, enrichment tuning, and the institutional dedup
// window.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceGroup selects one named group of adapters to enable, e.g. "curated"
// or "news".
type SourceGroup struct {
	Name     string         `yaml:"name"`
	Adapters []AdapterEntry `yaml:"adapters"`
}

// AdapterEntry enables one adapter within a group, with optional per-adapter
// tuning. Kind selects which adapter constructor to use ("curated", "rss",
// "news"); the remaining fields are consumed by whichever kind applies.
type AdapterEntry struct {
	Tag        string   `yaml:"tag"`
	Kind       string   `yaml:"kind"`
	MaxPages   int      `yaml:"max_pages"`
	MaxAgeDays int      `yaml:"max_age_days"`
	FeedURL    string   `yaml:"feed_url"`
	Victim     string   `yaml:"victim"`
	Country    string   `yaml:"country"`
	AttackType string   `yaml:"attack_type"`
	Queries    []string `yaml:"queries"`
}

// EnrichmentConfig tunes the enrichment pipeline run.
type EnrichmentConfig struct {
	Limit                 int     `yaml:"limit"`
	SkipNonEducation       bool    `yaml:"skip_non_education"`
	RateLimitDelaySeconds int     `yaml:"rate_limit_delay_seconds"`
	FetchMinDelaySeconds  float64 `yaml:"fetch_min_delay"`
	FetchMaxDelaySeconds  float64 `yaml:"fetch_max_delay"`
	FetchesPerHourCap     int     `yaml:"fetches_per_hour_cap"`
}

// Config is the top-level pipeline configuration.
type Config struct {
	DBPath           string          `yaml:"db_path"`
	SourceGroups     []SourceGroup   `yaml:"source_groups"`
	Enrichment       EnrichmentConfig `yaml:"enrichment"`
	DedupWindowDays  int             `yaml:"dedup_window_days"`
	AnthropicAPIKey  string          `yaml:"anthropic_api_key"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "edu-cti.db"
	}
	if c.Enrichment.RateLimitDelaySeconds <= 0 {
		c.Enrichment.RateLimitDelaySeconds = 2
	}
	if c.Enrichment.FetchMinDelaySeconds <= 0 {
		c.Enrichment.FetchMinDelaySeconds = 2
	}
	if c.Enrichment.FetchMaxDelaySeconds <= 0 {
		c.Enrichment.FetchMaxDelaySeconds = 5
	}
	if c.Enrichment.FetchesPerHourCap <= 0 {
		c.Enrichment.FetchesPerHourCap = 10
	}
	if c.DedupWindowDays <= 0 {
		c.DedupWindowDays = 14
	}
}

// RateLimitDelay returns the consumer's pacing delay as a time.Duration.
func (c *Config) RateLimitDelay() time.Duration {
	return time.Duration(c.Enrichment.RateLimitDelaySeconds) * time.Second
}

// FetchDelayRange returns the per-domain jitter window as durations.
func (c *Config) FetchDelayRange() (time.Duration, time.Duration) {
	min := time.Duration(c.Enrichment.FetchMinDelaySeconds * float64(time.Second))
	max := time.Duration(c.Enrichment.FetchMaxDelaySeconds * float64(time.Second))
	return min, max
}

// LoadFile reads and strictly decodes a YAML config file at path: unknown
// keys are rejected rather than silently ignored, so a misspelled config
// key fails loudly rather than silently no-op.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.defaults()
	return &cfg, nil
}

// EnabledTags returns the flattened set of adapter tags enabled across every
// selected source group.
func (c *Config) EnabledTags() []string {
	var tags []string
	for _, g := range c.SourceGroups {
		for _, a := range g.Adapters {
			tags = append(tags, a.Tag)
		}
	}
	return tags
}

// AdapterOverride looks up the per-adapter tuning for tag, if configured.
func (c *Config) AdapterOverride(tag string) (AdapterEntry, bool) {
	for _, g := range c.SourceGroups {
		for _, a := range g.Adapters {
			if a.Tag == tag {
				return a, true
			}
		}
	}
	return AdapterEntry{}, false
}
