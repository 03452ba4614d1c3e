package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/search"
	"github.com/vantagesec/vantage/pkg/models"
)

// SearchRequest carries one web-search turn.
type SearchRequest struct {
	Query     string
	Model     string
	System    string
	MaxTokens int
	Messages  []agent.CompletionMessage
}

// WebSearch runs one search call and one answering round trip. The search
// client itself handles the location-hint retry; any failure that survives
// it aborts the turn rather than letting the model answer from nothing.
type WebSearch struct {
	Provider agent.LLMProvider
	Searcher search.Searcher
}

// Execute performs the search, streams the answer, and reports result URLs
// as citations.
func (w *WebSearch) Execute(ctx context.Context, req SearchRequest, sink agent.EventSink) (*Result, error) {
	if err := sink.Send(ctx, models.StatusEvent(models.StatusSearchingWeb, req.Query)); err != nil {
		return nil, err
	}

	results, err := w.Searcher.Search(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("web search %q: %w", req.Query, err)
	}
	block := search.FormatResults(req.Query, results)
	var citations []string
	for _, r := range results {
		citations = append(citations, r.URL)
	}

	messages := append([]agent.CompletionMessage{}, req.Messages...)
	messages = append(messages, agent.CompletionMessage{
		Role:    "user",
		Content: block + "\n\nAnswer my previous request using these results. Cite the sources you rely on.",
	})

	chunks, err := w.Provider.Complete(ctx, &agent.CompletionRequest{
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
			return &Result{Text: text.String(), Citations: citations, FinishReason: models.FinishAborted}, nil
		}
	}

	if len(citations) > 0 {
		if err := sink.Send(ctx, models.StreamEvent{Type: models.EventCitations, Citations: citations}); err != nil {
			return nil, err
		}
	}
	return &Result{Text: text.String(), Citations: citations, FinishReason: models.FinishStop}, nil
}
