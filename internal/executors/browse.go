// Package executors holds the single-shot plugin executors: browse, web
// search, and title generation. Unlike the agent loop, each executor owns
// exactly one provider round trip and streams its output as it arrives.
package executors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/pkg/models"
)

const (
	defaultFetchTimeout = 15 * time.Second
	stealthFetchTimeout = 20 * time.Second

	stealthUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
)

// PageFetcher retrieves the textual content of a URL. A non-nil error means
// the fetch itself failed; status carries the upstream HTTP code when one
// was observed.
type PageFetcher interface {
	Fetch(ctx context.Context, target string) (status int, content string, err error)
}

// ProxyFetcher scrapes through the default rendering proxy.
type ProxyFetcher struct {
	BaseURL string
	APIKey  string
	client  *http.Client
}

// NewProxyFetcher builds the default-proxy fetcher with the 15s budget.
func NewProxyFetcher(baseURL, apiKey string) *ProxyFetcher {
	return &ProxyFetcher{
		BaseURL: baseURL,
		APIKey:  apiKey,
		client:  &http.Client{Timeout: defaultFetchTimeout},
	}
}

func (f *ProxyFetcher) Fetch(ctx context.Context, target string) (int, string, error) {
	endpoint := f.BaseURL + "?url=" + url.QueryEscape(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, "", err
	}
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, "", fmt.Errorf("proxy fetch of %s: status %d", target, resp.StatusCode)
	}
	return resp.StatusCode, string(body), nil
}

// ChromeFetcher renders the page in a headless browser. It is the stealth
// fallback for targets that reject the plain proxy.
type ChromeFetcher struct {
	// DebugURL attaches to a running Chrome DevTools endpoint. Empty
	// launches a local headless instance.
	DebugURL string
	Timeout  time.Duration
}

// NewChromeFetcher builds the stealth fetcher with the 20s budget.
func NewChromeFetcher(debugURL string) *ChromeFetcher {
	return &ChromeFetcher{DebugURL: debugURL, Timeout: stealthFetchTimeout}
}

func (f *ChromeFetcher) Fetch(ctx context.Context, target string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if f.DebugURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, f.DebugURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, chromedp.DefaultExecAllocatorOptions[:]...)
	}
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var content string
	err := chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(stealthUserAgent).Do(ctx)
		}),
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.Text("body", &content, chromedp.ByQuery),
	)
	if err != nil {
		return 0, "", fmt.Errorf("headless render of %s: %w", target, err)
	}
	return http.StatusOK, content, nil
}

// BrowseRequest carries one browse turn: the resolved URL plus the
// pipeline-processed conversation for the answering round trip.
type BrowseRequest struct {
	URL       string
	Model     string
	System    string
	MaxTokens int
	Messages  []agent.CompletionMessage
}

// Result is what a single-shot executor hands back for finalization.
type Result struct {
	Text         string
	Citations    []string
	FinishReason models.FinishReason
}

// Browser answers a question about one web page. Fetch policy: the default
// proxy gets 15 seconds; upstream 401, 403, and 500 trigger exactly one
// stealth retry with 20 seconds. Every other failure becomes descriptive
// text fed to the model as if it were page content, so the model explains
// the failure instead of the turn hard-failing.
type Browser struct {
	Provider agent.LLMProvider
	Default  PageFetcher
	Stealth  PageFetcher
	Logger   *observability.Logger
}

func stealthRetryStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError:
		return true
	}
	return false
}

// fetchPage never fails: it returns either page content or a description of
// why the page could not be read.
func (b *Browser) fetchPage(ctx context.Context, target string) string {
	status, content, err := b.Default.Fetch(ctx, target)
	if err == nil && strings.TrimSpace(content) != "" {
		return content
	}

	if stealthRetryStatus(status) {
		b.Logger.Info(ctx, "stealth retry", "url", target, "status", status)
		_, content, retryErr := b.Stealth.Fetch(ctx, target)
		if retryErr == nil && strings.TrimSpace(content) != "" {
			return content
		}
		if retryErr != nil {
			err = retryErr
		}
	}

	if err != nil {
		return fmt.Sprintf("The page at %s could not be retrieved: %v. Explain this to the user and suggest an alternative.", target, err)
	}
	return fmt.Sprintf("The page at %s returned no readable content. Explain this to the user and suggest an alternative.", target)
}

// Execute fetches the page and runs the single answering round trip,
// streaming text to the sink as it arrives.
func (b *Browser) Execute(ctx context.Context, req BrowseRequest, sink agent.EventSink) (*Result, error) {
	if err := sink.Send(ctx, models.StatusEvent(models.StatusBrowsing, req.URL)); err != nil {
		return nil, err
	}

	page := b.fetchPage(ctx, req.URL)

	messages := append([]agent.CompletionMessage{}, req.Messages...)
	messages = append(messages, agent.CompletionMessage{
		Role:    "user",
		Content: fmt.Sprintf("Content of %s:\n\n%s\n\nAnswer my previous request using this page.", req.URL, page),
	})

	chunks, err := b.Provider.Complete(ctx, &agent.CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if err := sink.Send(ctx, models.TextDelta(chunk.Text)); err != nil {
				return nil, err
			}
		}
		if ctx.Err() != nil {
			return &Result{Text: text.String(), Citations: []string{req.URL}, FinishReason: models.FinishAborted}, nil
		}
	}

	citations := []string{req.URL}
	if err := sink.Send(ctx, models.StreamEvent{Type: models.EventCitations, Citations: citations}); err != nil {
		return nil, err
	}
	return &Result{Text: text.String(), Citations: citations, FinishReason: models.FinishStop}, nil
}
