package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/search"
	"github.com/vantagesec/vantage/pkg/models"
)

// InfoSearchWeb queries the external search API and returns structured
// results. No truncation; the result count is capped at the source.
type InfoSearchWeb struct {
	Searcher search.Searcher
}

func (t *InfoSearchWeb) Name() string { return "info_search_web" }
func (t *InfoSearchWeb) Description() string {
	return "Search the web. Returns structured results with title, URL, and description."
}

func (t *InfoSearchWeb) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1}
		},
		"required": ["query"]
	}`)
}

func (t *InfoSearchWeb) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("info_search_web arguments: %w", err)
	}
	if err := sink.Send(ctx, models.StatusEvent(models.StatusSearchingWeb, args.Query)); err != nil {
		return "", err
	}

	results, err := t.Searcher.Search(ctx, args.Query)
	if err != nil {
		return "", err
	}

	formatted := search.FormatResults(args.Query, results)
	if err := sink.Send(ctx, models.TextDelta(formatted)); err != nil {
		return "", err
	}
	return formatted, nil
}
