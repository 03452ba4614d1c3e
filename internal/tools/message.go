package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/google/uuid"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/sandbox"
	"github.com/vantagesec/vantage/pkg/models"
)

// AttachmentRecorder stores files a tool surfaces to the user, so the
// reconciler can associate them with the assistant message at finish time.
type AttachmentRecorder interface {
	RecordAttachment(att models.Attachment)
}

// MessageNotifyUser streams one-way status text to the user and flushes any
// referenced sandbox files as attachments.
type MessageNotifyUser struct {
	Handle   sandbox.Handle
	Recorder AttachmentRecorder
}

func (t *MessageNotifyUser) Name() string { return "message_notify_user" }
func (t *MessageNotifyUser) Description() string {
	return "Send a progress update to the user, optionally attaching sandbox files. Does not wait for a reply."
}

func (t *MessageNotifyUser) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "minLength": 1},
			"attachments": {
				"type": "array",
				"items": {"type": "string"},
				"description": "Sandbox file paths to attach"
			}
		},
		"required": ["text"]
	}`)
}

func (t *MessageNotifyUser) Execute(ctx context.Context, params json.RawMessage, sink agent.EventSink) (string, error) {
	var args struct {
		Text        string   `json:"text"`
		Attachments []string `json:"attachments"`
	}
	if err := json.Unmarshal(params, &args); err != nil {
		return "", fmt.Errorf("message_notify_user arguments: %w", err)
	}

	if err := sink.Send(ctx, models.TextDelta(args.Text)); err != nil {
		return "", err
	}

	for _, p := range args.Attachments {
		content, err := t.Handle.ReadFile(ctx, p, 0, 0)
		if err != nil {
			return "", fmt.Errorf("attach %s: %w", p, err)
		}
		att := models.Attachment{
			ID:       uuid.NewString(),
			Type:     "document",
			Path:     p,
			Filename: path.Base(p),
			Size:     int64(len(content)),
		}
		if t.Recorder != nil {
			t.Recorder.RecordAttachment(att)
		}
		if err := sink.Send(ctx, models.StreamEvent{Type: models.EventAttachment, Attachment: &att}); err != nil {
			return "", err
		}
	}

	return "message delivered", nil
}

// Terminating tool declarations. These have no executor: the loop stops
// when the model calls them.

// MessageAskUser suspends the loop until the user replies.
type MessageAskUser struct{}

func (MessageAskUser) Name() string { return "message_ask_user" }
func (MessageAskUser) Description() string {
	return "Ask the user a question and wait for their reply. Use when you need input or a decision."
}
func (MessageAskUser) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"text": {"type": "string", "minLength": 1}
		},
		"required": ["text"]
	}`)
}

// Idle signals the task is complete.
type Idle struct{}

func (Idle) Name() string { return "idle" }
func (Idle) Description() string {
	return "Signal that the current task is finished and there is nothing left to do."
}
func (Idle) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

// AskShellExec is the confirmation-mode shell variant: instead of running,
// it suspends the loop with the command persisted as a draft for the user
// to approve.
type AskShellExec struct{}

func (AskShellExec) Name() string { return "ask_shell_exec" }
func (AskShellExec) Description() string {
	return "Propose a shell command for the user to approve before it runs."
}
func (AskShellExec) Schema() json.RawMessage { return json.RawMessage(shellSchema) }
