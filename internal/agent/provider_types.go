package agent

import (
	"context"
	"encoding/json"

	"github.com/vantagesec/vantage/pkg/models"
)

// LLMProvider is the streaming interface every model backend presents to
// the orchestration code.
//
// Implementations must be safe for concurrent use; multiple turns may call
// Complete simultaneously.
type LLMProvider interface {
	// Complete sends a request and returns a channel of streamed chunks.
	// The channel is closed when the stream ends; a chunk with Error set
	// terminates the stream.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}

// CompletionRequest carries one provider round trip.
type CompletionRequest struct {
	// Model is the concrete provider model identifier.
	Model string `json:"model"`

	// System sets the assistant's behavior. Handled separately from
	// messages in both provider APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may call. Empty disables tool use.
	Tools []ToolDef `json:"tools,omitempty"`

	// MaxTokens bounds the completion. 0 uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking turns on extended reasoning for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`
}

// CompletionMessage is one conversation entry sent to a provider. A message
// may carry text, tool calls (assistant requesting execution), or tool
// results (outputs fed back to the model).
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
	// ImageURLs are attached for vision-capable models.
	ImageURLs []string `json:"image_urls,omitempty"`
	// DocumentParts are inline document payloads (PDFs are always sent
	// this way rather than as extracted text).
	DocumentParts []DocumentPart `json:"document_parts,omitempty"`
}

// DocumentPart is a binary document attached to a message.
type DocumentPart struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
	Filename string `json:"filename,omitempty"`
}

// ToolDef is the provider-facing declaration of a callable tool.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

// CompletionChunk is one streamed piece of a provider response.
type CompletionChunk struct {
	// Text is a partial response delta.
	Text string `json:"text,omitempty"`

	// Thinking is a partial extended-reasoning delta, streamed separately
	// from response text.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall is a complete tool invocation request. Providers buffer
	// argument deltas and emit the call only once its JSON is whole.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done marks successful stream completion.
	Done bool `json:"done,omitempty"`

	// StopReason is the provider's stop reason, set on the Done chunk.
	StopReason string `json:"stop_reason,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`
}

// EventSink receives the ordered event stream for one turn. Implementations
// must tolerate being called from the turn goroutine only; sends after the
// client disconnects return the context error.
type EventSink interface {
	Send(ctx context.Context, ev models.StreamEvent) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev models.StreamEvent) error

func (f SinkFunc) Send(ctx context.Context, ev models.StreamEvent) error {
	return f(ctx, ev)
}
