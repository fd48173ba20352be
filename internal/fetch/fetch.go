// Package fetch retrieves article URLs, extracts readable content, and
// persists the result as a cached store.Article row.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	readability "github.com/go-shiori/go-readability"

	"github.com/sagarkishore-7/edu-cti/horosafe"
	"github.com/sagarkishore-7/edu-cti/internal/store"
	"github.com/sagarkishore-7/edu-cti/internal/urlnorm"
)

// MinBodyChars is the minimum non-whitespace body length for a fetch to
// count as successful (§4.6).
const MinBodyChars = 50

// ArticleContent is the outcome of fetching and extracting one URL.
type ArticleContent struct {
	URL             string
	Title           string
	Body            string // Markdown, converted from the extracted HTML
	Author          string
	PublishDate     string
	FetchSuccessful bool
	ErrorMessage    string
	ContentLength   int
}

// Fetcher retrieves URLs with SSRF protection on both the initial request
// and every redirect hop, then extracts readable content.
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBytes     int64
	urlValidator func(string) error
	mdConverter  *converter.Converter
}

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	MaxBytes     int64
	MaxRedirects int
	UserAgent    string
	URLValidator func(string) error
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 5 * 1024 * 1024
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (compatible; edu-cti/1.0; +https://example.invalid/bot)"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
}

// New builds a Fetcher from cfg.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	validate := cfg.URLValidator
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= cfg.MaxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked (SSRF): %w", err)
				}
				return nil
			},
		},
		userAgent:    cfg.UserAgent,
		maxBytes:     cfg.MaxBytes,
		urlValidator: validate,
		mdConverter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

// Fetch retrieves rawURL and extracts its readable content. It never
// returns an error for ordinary fetch/extraction failures — those are
// reported via ArticleContent.FetchSuccessful/ErrorMessage so callers can
// persist a failed-fetch row rather than lose the attempt. The returned
// error is reserved for caller misuse (a malformed rawURL so broken it
// cannot even be attempted).
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*ArticleContent, error) {
	storedURL := rawURL
	if n := urlnorm.Normalize(rawURL); n != "" {
		storedURL = n
	}
	content := &ArticleContent{URL: storedURL}

	if err := f.urlValidator(rawURL); err != nil {
		content.ErrorMessage = err.Error()
		return content, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		content.ErrorMessage = err.Error()
		return content, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		content.ErrorMessage = fmt.Sprintf("http %d", resp.StatusCode)
		return content, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		content.ErrorMessage = fmt.Sprintf("read body: %v", err)
		return content, nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		content.ErrorMessage = fmt.Sprintf("parse url: %v", err)
		return content, nil
	}

	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		content.ErrorMessage = fmt.Sprintf("extract: %v", err)
		return content, nil
	}

	markdown, err := f.mdConverter.ConvertString(article.Content)
	if err != nil {
		markdown = article.TextContent
	}

	content.Title = article.Title
	content.Author = article.Byline
	content.Body = strings.TrimSpace(markdown)
	if article.PublishedTime != nil {
		content.PublishDate = article.PublishedTime.Format("2006-01-02")
	}
	content.ContentLength = len(content.Body)
	content.FetchSuccessful = nonWhitespaceCount(content.Body) >= MinBodyChars
	if !content.FetchSuccessful && content.ErrorMessage == "" {
		content.ErrorMessage = fmt.Sprintf("extracted body below %d-char minimum", MinBodyChars)
	}
	return content, nil
}

func nonWhitespaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Save persists content idempotently keyed by (incidentID, url). On a
// failed fetch the incident's broken-URL set is updated in the same
// transaction scope the caller supplies via q.
func Save(ctx context.Context, q store.Queryer, incidentID string, content *ArticleContent) error {
	art := &store.Article{
		IncidentID:      incidentID,
		URL:             content.URL,
		Title:           content.Title,
		Body:            content.Body,
		Author:          content.Author,
		PublishDate:     content.PublishDate,
		FetchSuccessful: content.FetchSuccessful,
		ErrorMessage:    content.ErrorMessage,
		ContentLength:   content.ContentLength,
		FetchedAt:       time.Now(),
	}
	if err := store.SaveArticle(ctx, q, art); err != nil {
		return fmt.Errorf("fetch: save article: %w", err)
	}
	if !content.FetchSuccessful {
		if err := markBroken(ctx, q, incidentID, content.URL); err != nil {
			return fmt.Errorf("fetch: mark broken url: %w", err)
		}
	}
	return nil
}

func markBroken(ctx context.Context, q store.Queryer, incidentID, brokenURL string) error {
	inc, err := store.GetIncident(ctx, q, incidentID)
	if err != nil {
		return err
	}
	for _, u := range inc.BrokenURLs {
		if u == brokenURL {
			return nil
		}
	}
	inc.BrokenURLs = append(inc.BrokenURLs, brokenURL)
	return store.UpdateIncident(ctx, q, inc)
}
