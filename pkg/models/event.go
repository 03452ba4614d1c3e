package models

// EventType tags entries in the streamed response envelope. Consumers must
// tolerate unknown tags; the union is forward-compatible on the wire.
type EventType string

const (
	EventRateLimit    EventType = "ratelimit"
	EventTextDelta    EventType = "text-delta"
	EventReasoning    EventType = "reasoning"
	EventThinkingTime EventType = "thinking-time"
	EventAgentStatus  EventType = "agent-status"
	EventAttachment   EventType = "file-attachment"
	EventError        EventType = "error"
	EventCitations    EventType = "citations"
	EventChatTitle    EventType = "chatTitle"
	EventMessageID    EventType = "messageId"
	EventFinishReason EventType = "finishReason"
	EventToolCall     EventType = "tool-call"
	EventToolResult   EventType = "tool-result"
)

// RateLimitInfo is the quota metadata attached to ratelimit events and 429
// responses.
type RateLimitInfo struct {
	Remaining     int    `json:"remaining"`
	Limit         int    `json:"limit"`
	ResetAt       int64  `json:"reset_at,omitempty"`
	IsPremiumUser bool   `json:"isPremiumUser"`
	Message       string `json:"message,omitempty"`
}

// StreamEvent is one entry in the append-only, order-preserving response
// stream. Exactly the fields relevant to Type are populated; no event is
// revised after being sent.
type StreamEvent struct {
	Type EventType `json:"type"`

	Text         string         `json:"text,omitempty"`
	Status       AgentStatus    `json:"status,omitempty"`
	RateLimit    *RateLimitInfo `json:"ratelimit,omitempty"`
	Citations    []string       `json:"citations,omitempty"`
	Title        string         `json:"title,omitempty"`
	MessageID    string         `json:"message_id,omitempty"`
	FinishReason FinishReason   `json:"finish_reason,omitempty"`
	Attachment   *Attachment    `json:"attachment,omitempty"`
	ErrorText    string         `json:"error,omitempty"`
	ToolCall     *ToolCall      `json:"tool_call,omitempty"`
	ToolResult   *ToolResult    `json:"tool_result,omitempty"`
	ThinkingSecs float64        `json:"thinking_secs,omitempty"`
}

// TextDelta builds a text-delta event.
func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

// ReasoningDelta builds a reasoning event.
func ReasoningDelta(text string) StreamEvent {
	return StreamEvent{Type: EventReasoning, Text: text}
}

// StatusEvent builds an agent-status event with optional detail text.
func StatusEvent(status AgentStatus, detail string) StreamEvent {
	return StreamEvent{Type: EventAgentStatus, Status: status, Text: detail}
}

// ErrorEvent builds an error event.
func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Type: EventError, ErrorText: msg}
}
