// Package search wraps the external web-search API used by both the
// info_search_web agent tool and the single-shot web-search executor.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vantagesec/vantage/internal/observability"
)

// Result is one structured search hit.
type Result struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// Searcher performs web searches.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Client calls the search provider's HTTP API. A location hint is attached
// by default; when the provider rejects it with invalid_country_code the
// request is retried once without the hint, since a stale hint must not
// fail the turn.
type Client struct {
	baseURL     string
	apiKey      string
	countryCode string
	http        *http.Client
	logger      *observability.Logger
}

// NewClient creates a search client.
func NewClient(baseURL, apiKey, countryCode string, logger *observability.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		countryCode: countryCode,
		http:        &http.Client{Timeout: 20 * time.Second},
		logger:      logger,
	}
}

// Search runs one query.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	results, err := c.search(ctx, query, c.countryCode)
	if err != nil && strings.Contains(err.Error(), "invalid_country_code") && c.countryCode != "" {
		c.logger.Warn(ctx, "search rejected country hint, retrying without it", "country", c.countryCode)
		return c.search(ctx, query, "")
	}
	return results, err
}

func (c *Client) search(ctx context.Context, query, country string) ([]Result, error) {
	body := map[string]any{"query": query}
	if country != "" {
		body["country"] = country
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("search: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search: %s: %s", resp.Status, msg)
	}

	var out struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode response: %w", err)
	}
	return out.Results, nil
}

// FormatResults renders hits as the structured block streamed to clients
// and fed to the model.
func FormatResults(query string, results []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	if len(results) == 0 {
		b.WriteString("(no results)\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return b.String()
}
