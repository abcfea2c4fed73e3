// Package newsapi provides a NewsAPI-backed lookup provider. It implements
// the lookup.Provider interface over the NewsAPI "everything" endpoint,
// sorted by publication time so results skew recent.
package newsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/MrWong99/voxrelay/pkg/provider/lookup"
)

const (
	defaultBaseURL = "https://newsapi.org/v2"
	maxPageSize    = 100
)

// Option is a functional option for configuring the NewsAPI Provider.
type Option func(*Provider)

// WithBaseURL overrides the API base URL. Primarily used in tests to point at
// a local mock server.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) { p.baseURL = baseURL }
}

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements lookup.Provider backed by NewsAPI.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Compile-time assertion that Provider satisfies lookup.Provider.
var _ lookup.Provider = (*Provider)(nil)

// New creates a new NewsAPI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("newsapi: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- response types ----

// searchResponse is the top-level response from GET /v2/everything.
type searchResponse struct {
	Status   string    `json:"status"`
	Message  string    `json:"message"`
	Articles []article `json:"articles"`
}

// article is a single result entry from NewsAPI.
type article struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"source"`
}

// Search implements lookup.Provider. It returns up to limit recent articles
// matching query.
func (p *Provider) Search(ctx context.Context, query string, limit int) ([]lookup.Result, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	u, err := url.Parse(p.baseURL + "/everything")
	if err != nil {
		return nil, fmt.Errorf("newsapi: parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("pageSize", strconv.Itoa(limit))
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("newsapi: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi: search HTTP: %w", err)
	}
	defer resp.Body.Close()

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("newsapi: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || sr.Status != "ok" {
		return nil, fmt.Errorf("newsapi: search failed: status %d: %s", resp.StatusCode, sr.Message)
	}

	return convertArticles(sr.Articles, limit), nil
}

// convertArticles maps NewsAPI articles onto lookup results, dropping entries
// without a title or URL.
func convertArticles(articles []article, limit int) []lookup.Result {
	results := make([]lookup.Result, 0, len(articles))
	for _, a := range articles {
		if a.Title == "" || a.URL == "" {
			continue
		}
		source := a.Source.ID
		if source == "" {
			source = a.Source.Name
		}
		results = append(results, lookup.Result{
			Title:  a.Title,
			URL:    a.URL,
			Source: source,
		})
		if len(results) == limit {
			break
		}
	}
	return results
}
