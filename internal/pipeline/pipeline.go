// Package pipeline prepares raw turn messages for a provider call. The
// steps run in a fixed order; each may short-circuit the turn with a typed
// error the route handler maps to a client response.
package pipeline

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/vantagesec/vantage/internal/agent"
	"github.com/vantagesec/vantage/internal/catalog"
	"github.com/vantagesec/vantage/internal/moderation"
	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/tokens"
	"github.com/vantagesec/vantage/pkg/models"
)

// AttachmentLoader resolves an attachment reference to its bytes. The server
// wires this to the upload store; tests use an in-memory map.
type AttachmentLoader interface {
	Load(ctx context.Context, att models.Attachment) ([]byte, error)
}

// Input is one turn's raw material.
type Input struct {
	Messages []models.Message
	// Selection is the resolved model, prompt, and limits for this turn.
	Selection catalog.Selection
	Plugin    models.Plugin
	Tier      models.Tier
	// Continuation marks terminal-continuation and regeneration turns;
	// moderation and the profile block are skipped for these.
	Continuation bool
	// Reasoning marks extended-thinking turns, which also skip
	// moderation.
	Reasoning bool
	// UserProfile is the personalization block appended to the system
	// prompt on fresh turns.
	UserProfile string
}

// Output is what the orchestration layer consumes.
type Output struct {
	Messages     []agent.CompletionMessage
	SystemPrompt string
	// StagedFiles are attachments to write into the sandbox before an
	// agent loop starts. Empty outside agent mode.
	StagedFiles []agent.StagedFile
}

// Pipeline is the ordered message-preparation chain.
type Pipeline struct {
	Counter    tokens.Counter
	Classifier moderation.Classifier
	Loader     AttachmentLoader
	Logger     *observability.Logger
}

// Process runs every step and produces the provider-ready turn.
func (p *Pipeline) Process(ctx context.Context, in Input) (*Output, error) {
	msgs := copyMessages(in.Messages)
	msgs = dropTrailingEmptyAssistant(msgs)

	if !in.Selection.Model.SupportsImages {
		stripImages(msgs)
	}

	if !in.Continuation && !in.Reasoning {
		p.moderate(ctx, msgs)
	}

	if err := tokens.CheckMessages(p.Counter, msgs, in.Tier); err != nil {
		return nil, err
	}

	msgs = dropMalformedPairs(msgs)

	agentMode := in.Plugin == models.PluginTerminal || in.Plugin == models.PluginDeepResearch
	completion, staged, err := p.expandAttachments(ctx, msgs, agentMode)
	if err != nil {
		return nil, err
	}

	system := in.Selection.SystemPrompt
	if in.UserProfile != "" && !in.Continuation {
		system += "\n\nAbout the user (apply only when directly relevant to the request):\n" + in.UserProfile
	}

	return &Output{Messages: completion, SystemPrompt: system, StagedFiles: staged}, nil
}

// copyMessages deep-copies the turn so later steps never mutate caller
// state.
func copyMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		out[i].Citations = append([]string(nil), m.Citations...)
		out[i].Attachments = append([]models.Attachment(nil), m.Attachments...)
		out[i].ImagePaths = append([]string(nil), m.ImagePaths...)
	}
	return out
}

// dropTrailingEmptyAssistant removes the leftover of a previously failed
// stream.
func dropTrailingEmptyAssistant(msgs []models.Message) []models.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == models.RoleAssistant && strings.TrimSpace(msgs[n-1].Content) == "" {
		return msgs[:n-1]
	}
	return msgs
}

func stripImages(msgs []models.Message) {
	for i := range msgs {
		msgs[i].ImagePaths = nil
		kept := msgs[i].Attachments[:0]
		for _, att := range msgs[i].Attachments {
			if att.Type != "image" {
				kept = append(kept, att)
			}
		}
		msgs[i].Attachments = kept
	}
}

// moderate appends the authorization clause to the last user message when
// the classifier flags the conversation. Classifier failures already
// degrade inside the classifier; a flagged turn is never rejected.
func (p *Pipeline) moderate(ctx context.Context, msgs []models.Message) {
	refs := make([]*models.Message, len(msgs))
	for i := range msgs {
		refs[i] = &msgs[i]
	}
	verdict, err := p.Classifier.Classify(ctx, refs)
	if err != nil {
		p.Logger.Warn(ctx, "moderation failed, continuing", "error", err)
		return
	}
	if !verdict.ShouldUncensorResponse {
		return
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			msgs[i].Content += moderation.AuthorizationClause
			return
		}
	}
}

// dropMalformedPairs removes a user message directly followed by an empty
// assistant message, the residue of an interrupted turn mid-history.
func dropMalformedPairs(msgs []models.Message) []models.Message {
	out := msgs[:0]
	for i := 0; i < len(msgs); i++ {
		if msgs[i].Role == models.RoleUser && i+1 < len(msgs) &&
			msgs[i+1].Role == models.RoleAssistant && strings.TrimSpace(msgs[i+1].Content) == "" {
			i++
			continue
		}
		out = append(out, msgs[i])
	}
	return out
}

func isPDF(att models.Attachment) bool {
	return att.Type == "pdf" || att.MimeType == "application/pdf" || strings.HasSuffix(strings.ToLower(att.Filename), ".pdf")
}

// expandAttachments converts persisted messages into provider messages. The
// last message's attachments are expanded: PDFs become binary document
// parts, text documents are inlined, images pass through as URLs. In agent
// mode attachments instead become sandbox path references plus staging
// entries, since the model will read them with its file tools.
func (p *Pipeline) expandAttachments(ctx context.Context, msgs []models.Message, agentMode bool) ([]agent.CompletionMessage, []agent.StagedFile, error) {
	out := make([]agent.CompletionMessage, 0, len(msgs))
	var staged []agent.StagedFile

	for i, m := range msgs {
		cm := agent.CompletionMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			ImageURLs: append([]string(nil), m.ImagePaths...),
		}
		if i < len(msgs)-1 || len(m.Attachments) == 0 {
			out = append(out, cm)
			continue
		}

		for _, att := range m.Attachments {
			switch {
			case att.Type == "image":
				if att.URL != "" {
					cm.ImageURLs = append(cm.ImageURLs, att.URL)
				}
			case agentMode:
				name := att.Filename
				if name == "" {
					name = path.Base(att.Path)
				}
				data, err := p.Loader.Load(ctx, att)
				if err != nil {
					return nil, nil, fmt.Errorf("stage attachment %s: %w", name, err)
				}
				mount := path.Join(agent.UploadMountPath, name)
				staged = append(staged, agent.StagedFile{Name: name, Content: string(data)})
				cm.Content += fmt.Sprintf("\n\nUploaded file available at %s", mount)
			case isPDF(att):
				data, err := p.Loader.Load(ctx, att)
				if err != nil {
					return nil, nil, fmt.Errorf("load attachment %s: %w", att.Filename, err)
				}
				cm.DocumentParts = append(cm.DocumentParts, agent.DocumentPart{
					MimeType: "application/pdf",
					Data:     data,
					Filename: att.Filename,
				})
			default:
				data, err := p.Loader.Load(ctx, att)
				if err != nil {
					return nil, nil, fmt.Errorf("load attachment %s: %w", att.Filename, err)
				}
				cm.Content += fmt.Sprintf("\n\nContents of %s:\n%s", att.Filename, string(data))
			}
		}
		out = append(out, cm)
	}
	return out, staged, nil
}
