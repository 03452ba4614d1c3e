package executors

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/pkg/models"
)

const (
	titleMaxTokens = 64
	titleMaxRunes  = 80
	titleTimeout   = 20 * time.Second

	titlePrompt = "Write a short title (at most six words) for a conversation that starts with the following message. Reply with the title only, no quotes or punctuation around it."
)

// TitleGenerator produces a display name for a brand-new chat from its first
// user message. Generation runs concurrently with the main stream; the
// caller awaits the channel at finalization while the client sees the title
// as soon as it resolves.
type TitleGenerator struct {
	Provider agent.LLMProvider
	Model    string
	Logger   *observability.Logger
}

// Generate runs the small-model call and sanitizes the output. Failures
// fall back to a heuristic built from the message itself.
func (g *TitleGenerator) Generate(ctx context.Context, firstMessage string) string {
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	chunks, err := g.Provider.Complete(ctx, &agent.CompletionRequest{
		Model:     g.Model,
		System:    titlePrompt,
		Messages:  []agent.CompletionMessage{{Role: "user", Content: firstMessage}},
		MaxTokens: titleMaxTokens,
	})
	if err != nil {
		g.Logger.Warn(ctx, "title generation failed", "error", err)
		return fallbackTitle(firstMessage)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			g.Logger.Warn(ctx, "title stream failed", "error", chunk.Error)
			return fallbackTitle(firstMessage)
		}
		text.WriteString(chunk.Text)
	}

	title := sanitizeTitle(text.String())
	if title == "" {
		return fallbackTitle(firstMessage)
	}
	return title
}

// Start kicks off generation in the background. The returned channel yields
// exactly one title; the chatTitle event is pushed to the sink as soon as
// the title resolves.
func (g *TitleGenerator) Start(ctx context.Context, firstMessage string, sink agent.EventSink) <-chan string {
	ch := make(chan string, 1)
	go func() {
		defer close(ch)
		title := g.Generate(ctx, firstMessage)
		if err := sink.Send(ctx, models.StreamEvent{Type: models.EventChatTitle, Title: title}); err != nil {
			g.Logger.Warn(ctx, "title event dropped", "error", err)
		}
		ch <- title
	}()
	return ch
}

func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	r := []rune(title)
	if len(r) > titleMaxRunes {
		title = strings.TrimRightFunc(string(r[:titleMaxRunes]), unicode.IsSpace)
	}
	return title
}

// fallbackTitle takes the first few words of the message.
func fallbackTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	r := []rune(title)
	if len(r) > titleMaxRunes {
		title = string(r[:titleMaxRunes])
	}
	if title == "" {
		return "New chat"
	}
	return title
}
