// Package models defines the shared data model for chats, messages, tool
// calls, and the streamed event vocabulary.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single persisted conversation message. SequenceNumber is the
// per-chat ordering and identity key: edits at sequence N discard everything
// at sequence >= N before regenerating.
type Message struct {
	ID                  string       `json:"id"`
	ChatID              string       `json:"chat_id"`
	UserID              string       `json:"user_id"`
	Role                Role         `json:"role"`
	Content             string       `json:"content"`
	SequenceNumber      int          `json:"sequence_number"`
	ThinkingContent     string       `json:"thinking_content,omitempty"`
	ThinkingElapsedSecs float64      `json:"thinking_elapsed_secs,omitempty"`
	Citations           []string     `json:"citations,omitempty"`
	Attachments         []Attachment `json:"attachments,omitempty"`
	ImagePaths          []string     `json:"image_paths,omitempty"`
	Model               string       `json:"model,omitempty"`
	Plugin              Plugin       `json:"plugin,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Chat is a persisted conversation. FinishReason records the terminal state
// of the most recent turn and drives client UI state.
type Chat struct {
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Name         string       `json:"name"`
	Model        string       `json:"model"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	// DraftCommand is the shell command awaiting confirmation after an
	// ask_shell_exec suspension; cleared when the turn resumes.
	DraftCommand string    `json:"draft_command,omitempty"`
	Sharing      string    `json:"sharing,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Attachment is a structured file reference carried by a message.
type Attachment struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // image, document, pdf
	URL      string `json:"url,omitempty"`
	Path     string `json:"path,omitempty"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolCall is an LLM request to execute a named tool with schema-validated
// arguments.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the output of a tool execution appended to model context.
// Errors are communicated as values with IsError set, never as panics, so
// the model can see and react to its own tool failures.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
