package llm

import (
	"strings"
	"testing"

	"github.com/sagarkishore-7/edu-cti/internal/store"
)

func TestBuildPromptOrdersArticlesLongestFirst(t *testing.T) {
	incident := &store.Incident{Title: "Breach", VictimRawName: "Test University", Country: "US"}
	articles := []Article{
		{URL: "https://a.example/short", Body: "short body"},
		{URL: "https://b.example/long", Body: strings.Repeat("x", 500)},
	}
	prompt := buildPrompt(incident, articles)

	longIdx := strings.Index(prompt, "b.example")
	shortIdx := strings.Index(prompt, "a.example")
	if longIdx == -1 || shortIdx == -1 {
		t.Fatalf("expected both articles in prompt, got %q", prompt)
	}
	if longIdx > shortIdx {
		t.Fatal("expected the longer article to appear first")
	}
}

func TestBuildPromptTrimsToCharBudget(t *testing.T) {
	incident := &store.Incident{Title: "Breach"}
	articles := []Article{{URL: "https://a.example", Body: strings.Repeat("y", maxPromptChars*2)}}
	prompt := buildPrompt(incident, articles)
	if len(prompt) > maxPromptChars+1000 {
		t.Fatalf("expected prompt trimmed near the budget, got %d chars", len(prompt))
	}
}

func TestToResultMapsURLScores(t *testing.T) {
	parsed := &toolResponse{
		IsEducationRelated:   true,
		ExtractionConfidence: 0.85,
		PrimaryURL:           "https://a.example",
		URLScores: []struct {
			URL       string  `json:"url"`
			Score     float64 `json:"score"`
			Reasoning string  `json:"reasoning"`
		}{
			{URL: "https://a.example", Score: 0.9, Reasoning: "primary coverage"},
		},
	}
	result := toResult(parsed)
	if result.ExtractionConfidence != 0.85 || !result.IsEducationRelated {
		t.Fatalf("unexpected result: %+v", result)
	}
	score, ok := result.URLScores["https://a.example"]
	if !ok || score.Score != 0.9 {
		t.Fatalf("expected url score carried through, got %+v", result.URLScores)
	}
}

func TestToResultNormalizesURLScoreKeys(t *testing.T) {
	parsed := &toolResponse{
		IsEducationRelated:   true,
		ExtractionConfidence: 0.85,
		URLScores: []struct {
			URL       string  `json:"url"`
			Score     float64 `json:"score"`
			Reasoning string  `json:"reasoning"`
		}{
			{URL: "https://WWW.A.Example/story/", Score: 0.9, Reasoning: "primary coverage"},
		},
	}
	result := toResult(parsed)
	score, ok := result.URLScores["https://a.example/story"]
	if !ok || score.Score != 0.9 {
		t.Fatalf("expected url score keyed by normalized url, got %+v", result.URLScores)
	}
}

func TestAsRateLimitFalseForOrdinaryError(t *testing.T) {
	_, ok := asRateLimit(errPlain("boom"))
	if ok {
		t.Fatal("expected a plain error not to be classified as rate limit")
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
