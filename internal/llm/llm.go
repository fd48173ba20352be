// Package llm implements the LLM Extraction Adapter: turns a fetched
// incident snapshot into a structured enrichment result via a single
// tool-call-style request to Claude.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/sagarkishore-7/edu-cti/internal/store"
	"github.com/sagarkishore-7/edu-cti/internal/urlnorm"
)

// ErrNotEducationRelated is returned when the model determines the
// incident is not actually about an education-sector victim.
var ErrNotEducationRelated = errors.New("llm: incident is not education-related")

// ErrEnrichmentFailed is returned when the response cannot be parsed or
// validated into an EnrichmentResult after bounded retries.
var ErrEnrichmentFailed = errors.New("llm: enrichment failed")

// RateLimitError is returned when the API reports a rate limit; the
// enrichment consumer treats this as a distinct signal to halt and drain.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("llm: rate limited, retry after %s", e.RetryAfter)
}

// Article is the minimal article shape the adapter consumes: just enough
// to build the prompt and to return per-article scores against.
type Article struct {
	URL   string
	Title string
	Body  string
}

// EnrichmentResult is the full structured field set the LLM stage produces
// for one incident.
type EnrichmentResult struct {
	Summary              string
	Timeline             []store.TimelineEntry
	MITRETechniques      []string
	AttackDynamics        map[string]any
	IsEducationRelated   bool
	SkipReason           string
	ExtractionConfidence float64
	PrimaryURL           string
	URLScores            map[string]URLScore
}

// URLScore is the per-article relevance assessment the model assigns.
type URLScore struct {
	Score     float64
	Reasoning string
}

const maxPromptChars = 60_000

// extractionTool is the single tool the model is forced to call, encoding
// the enrichment schema as JSON Schema input.
var extractionTool = anthropic.ToolParam{
	Name:        "report_incident_enrichment",
	Description: anthropic.String("Report structured enrichment for an education-sector cyber incident."),
	InputSchema: anthropic.ToolInputSchemaParam{
		Type: "object",
		Properties: map[string]any{
			"is_education_related": map[string]any{"type": "boolean"},
			"skip_reason":           map[string]any{"type": "string"},
			"summary":               map[string]any{"type": "string"},
			"timeline": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"date":  map[string]any{"type": "string"},
						"event": map[string]any{"type": "string"},
					},
				},
			},
			"mitre_techniques":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"attack_dynamics":      map[string]any{"type": "object"},
			"extraction_confidence": map[string]any{"type": "number"},
			"primary_url":          map[string]any{"type": "string"},
			"url_scores": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url":       map[string]any{"type": "string"},
						"score":     map[string]any{"type": "number"},
						"reasoning": map[string]any{"type": "string"},
					},
				},
			},
		},
		Required: []string{"is_education_related", "extraction_confidence"},
	},
}

// toolResponse mirrors extractionTool's schema for decoding.
type toolResponse struct {
	IsEducationRelated  bool                   `json:"is_education_related"`
	SkipReason          string                 `json:"skip_reason"`
	Summary             string                 `json:"summary"`
	Timeline            []store.TimelineEntry  `json:"timeline"`
	MITRETechniques     []string               `json:"mitre_techniques"`
	AttackDynamics      map[string]any         `json:"attack_dynamics"`
	ExtractionConfidence float64               `json:"extraction_confidence"`
	PrimaryURL          string                 `json:"primary_url"`
	URLScores           []struct {
		URL       string  `json:"url"`
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	} `json:"url_scores"`
}

// Client wraps the Anthropic API client with the rate limiting and retry
// discipline the enrichment consumer depends on.
type Client struct {
	api     anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
	retries int
}

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   anthropic.Model
	// QPS caps outbound request rate to the API, independent of any
	// per-domain fetch pacing — this is a ceiling on our own call rate,
	// not a reflection of Anthropic's published limits.
	QPS     float64
	Retries int
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = anthropic.ModelClaudeSonnet4_5
	}
	if cfg.QPS <= 0 {
		cfg.QPS = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	return &Client{
		api:     anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), 1),
		retries: cfg.Retries,
	}
}

// Enrich runs the extraction request for one incident and its fetched
// articles. On a non-education-related verdict it returns
// ErrNotEducationRelated wrapped with the model's stated reason. On
// malformed output after bounded retries it returns ErrEnrichmentFailed.
// A rate-limit response from the API surfaces as *RateLimitError.
func (c *Client) Enrich(ctx context.Context, incident *store.Incident, articles []Article) (*EnrichmentResult, error) {
	prompt := buildPrompt(incident, articles)

	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			// Exponential backoff between attempts: 1s, 2s, 4s, ...
			select {
			case <-time.After(time.Duration(1<<(attempt-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("llm: rate limiter wait: %w", err)
		}

		resp, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     c.model,
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
			Tools:      []anthropic.ToolUnionParam{{OfTool: &extractionTool}},
			ToolChoice: anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: extractionTool.Name}},
		})
		if err != nil {
			if rlErr, ok := asRateLimit(err); ok {
				return nil, rlErr
			}
			lastErr = err
			continue
		}

		parsed, err := decodeToolResponse(resp)
		if err != nil {
			lastErr = err
			continue
		}
		if !parsed.IsEducationRelated {
			reason := parsed.SkipReason
			if reason == "" {
				reason = "model reported no education-sector victim"
			}
			return nil, fmt.Errorf("%w: %s", ErrNotEducationRelated, reason)
		}
		return toResult(parsed), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrEnrichmentFailed, lastErr)
}

func decodeToolResponse(resp *anthropic.Message) (*toolResponse, error) {
	for _, block := range resp.Content {
		if block.Type != "tool_use" {
			continue
		}
		var out toolResponse
		if err := json.Unmarshal(block.Input, &out); err != nil {
			return nil, fmt.Errorf("llm: decode tool response: %w", err)
		}
		return &out, nil
	}
	return nil, errors.New("llm: response contained no tool_use block")
}

// toResult normalizes every URLScores key the model echoed back, so it
// lines up with both the normalized primary URL enrich.save derives from
// PrimaryURL and the normalized URLs articles are stored under, regardless
// of how the model reformatted them (trailing slash, www, casing, ...).
func toResult(t *toolResponse) *EnrichmentResult {
	scores := make(map[string]URLScore, len(t.URLScores))
	for _, s := range t.URLScores {
		u := urlnorm.Normalize(s.URL)
		if u == "" {
			continue
		}
		scores[u] = URLScore{Score: s.Score, Reasoning: s.Reasoning}
	}
	return &EnrichmentResult{
		Summary:              t.Summary,
		Timeline:             t.Timeline,
		MITRETechniques:      t.MITRETechniques,
		AttackDynamics:       t.AttackDynamics,
		IsEducationRelated:   t.IsEducationRelated,
		SkipReason:           t.SkipReason,
		ExtractionConfidence: t.ExtractionConfidence,
		PrimaryURL:           t.PrimaryURL,
		URLScores:            scores,
	}
}

// asRateLimit reports whether err represents an HTTP 429 from the API.
func asRateLimit(err error) (*RateLimitError, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return &RateLimitError{RetryAfter: 30 * time.Second}, true
	}
	return nil, false
}

// buildPrompt assembles the incident snapshot and article bodies, longest
// articles first, trimmed to maxPromptChars.
func buildPrompt(incident *store.Incident, articles []Article) string {
	sorted := append([]Article(nil), articles...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i].Body) > len(sorted[j].Body) })

	var b strings.Builder
	fmt.Fprintf(&b, "Incident candidate: %q (%s, %s)\n", incident.Title, incident.VictimRawName, incident.Country)
	fmt.Fprintf(&b, "Attack type hint: %s\nDate: %s\n\n", incident.AttackTypeHint, incident.IncidentDate)

	for _, a := range sorted {
		remaining := maxPromptChars - b.Len()
		if remaining <= 0 {
			break
		}
		body := a.Body
		if len(body) > remaining {
			body = body[:remaining]
		}
		fmt.Fprintf(&b, "--- ARTICLE %s (%s) ---\n%s\n\n", a.URL, a.Title, body)
	}
	return b.String()
}
