// Package reconcile writes turn state back into the store. Initial
// reconciliation (chat row + user message) runs concurrently with provider
// streaming; final reconciliation runs once in the stream's completion
// callback. Per-chat locks serialize writers so two requests against the
// same chat cannot interleave sequence allocation with deletion.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantagesec/vantage/internal/observability"
	"github.com/vantagesec/vantage/internal/store"
	"github.com/vantagesec/vantage/pkg/models"
)

// Variant selects how the incoming user message lands.
type Variant string

const (
	// VariantPlain appends the user message as-is.
	VariantPlain Variant = "plain"
	// VariantEdit replaces history from the edited sequence forward.
	VariantEdit Variant = "edit"
	// VariantRegenerate discards the previous assistant message before
	// the new turn streams.
	VariantRegenerate Variant = "regenerate"
)

// Reconciler owns all store writes for chat turns.
type Reconciler struct {
	store  store.Store
	logger *observability.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a reconciler over the given store.
func New(s store.Store, logger *observability.Logger) *Reconciler {
	return &Reconciler{store: s, logger: logger, locks: make(map[string]*sync.Mutex)}
}

// lockChat returns the mutex serializing writes for one chat.
func (r *Reconciler) lockChat(chatID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[chatID] = l
	}
	return l
}

// InitialRequest describes the start-of-turn write.
type InitialRequest struct {
	ChatID    string
	UserID    string
	Model     string
	Plugin    models.Plugin
	Variant   Variant
	Temporary bool

	// UserMessage is the incoming message. Nil for regeneration and
	// continuation turns, which reuse existing history.
	UserMessage *models.Message
	// EditSequence is the sequence being edited under VariantEdit;
	// history from this sequence forward is discarded first.
	EditSequence int
}

// HandleInitial creates the chat row if absent and lands the user message
// per the variant. Temporary conversations skip persistence entirely.
func (r *Reconciler) HandleInitial(ctx context.Context, req InitialRequest) error {
	if req.Temporary {
		return nil
	}
	l := r.lockChat(req.ChatID)
	l.Lock()
	defer l.Unlock()

	if _, err := r.store.GetChat(ctx, req.ChatID); err == store.ErrNotFound {
		chat := &models.Chat{
			ID:     req.ChatID,
			UserID: req.UserID,
			Model:  req.Model,
		}
		if err := r.store.CreateChat(ctx, chat); err != nil {
			return fmt.Errorf("create chat: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get chat: %w", err)
	}

	switch req.Variant {
	case VariantEdit:
		if err := r.store.DeleteMessagesFrom(ctx, req.ChatID, req.EditSequence); err != nil {
			return fmt.Errorf("discard edited history: %w", err)
		}
	case VariantRegenerate:
		if err := r.store.DeleteLatestAssistantMessage(ctx, req.ChatID); err != nil {
			return fmt.Errorf("discard regenerated message: %w", err)
		}
	}

	if req.UserMessage == nil {
		return nil
	}
	msg := *req.UserMessage
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.ChatID = req.ChatID
	msg.UserID = req.UserID
	msg.Role = models.RoleUser
	msg.Model = req.Model
	msg.Plugin = req.Plugin
	if err := r.store.AppendMessage(ctx, &msg); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	for _, att := range msg.Attachments {
		if err := r.store.AttachFile(ctx, msg.ID, att); err != nil {
			return fmt.Errorf("associate file %s: %w", att.Filename, err)
		}
	}
	return nil
}

// StartInitial runs HandleInitial in the background so persistence never
// blocks model output. The returned channel reports the write's outcome;
// the final reconciliation awaits it so the assistant row cannot land
// before its chat and user rows.
func (r *Reconciler) StartInitial(ctx context.Context, req InitialRequest) <-chan error {
	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		err := r.HandleInitial(ctx, req)
		if err != nil {
			r.logger.Error(ctx, "initial reconciliation failed", "chat_id", req.ChatID, "error", err)
		}
		ch <- err
	}()
	return ch
}

// FinalRequest describes the end-of-turn write.
type FinalRequest struct {
	ChatID    string
	UserID    string
	Model     string
	Plugin    models.Plugin
	Temporary bool

	// Continuation patches the latest assistant message cumulatively
	// instead of inserting a new row.
	Continuation bool

	Text         string
	Thinking     string
	ThinkingSecs float64
	Citations    []string
	Attachments  []models.Attachment
	FinishReason models.FinishReason
	// DraftCommand persists an ask_shell_exec suspension on the chat.
	DraftCommand string
	// Title is the resolved chat title; empty leaves the name unchanged.
	Title string
}

// HandleFinal updates chat metadata and lands the assistant message. A
// continuation turn must find exactly one assistant message to patch;
// finding none is a broken invariant reported as an error, never papered
// over with a fresh insert.
func (r *Reconciler) HandleFinal(ctx context.Context, req FinalRequest) (*models.Message, error) {
	if req.Temporary {
		return nil, nil
	}
	l := r.lockChat(req.ChatID)
	l.Lock()
	defer l.Unlock()

	var msg *models.Message
	if req.Continuation {
		existing, err := r.store.LatestAssistantMessage(ctx, req.ChatID)
		if err != nil {
			return nil, fmt.Errorf("continuation target: %w", err)
		}
		existing.Content += req.Text
		existing.ThinkingContent += req.Thinking
		existing.ThinkingElapsedSecs += req.ThinkingSecs
		existing.Citations = append(existing.Citations, req.Citations...)
		existing.Attachments = append(existing.Attachments, req.Attachments...)
		if err := r.store.UpdateMessage(ctx, existing); err != nil {
			return nil, fmt.Errorf("patch assistant message: %w", err)
		}
		msg = existing
	} else {
		msg = &models.Message{
			ID:                  uuid.NewString(),
			ChatID:              req.ChatID,
			UserID:              req.UserID,
			Role:                models.RoleAssistant,
			Content:             req.Text,
			ThinkingContent:     req.Thinking,
			ThinkingElapsedSecs: req.ThinkingSecs,
			Citations:           req.Citations,
			Attachments:         req.Attachments,
			Model:               req.Model,
			Plugin:              req.Plugin,
		}
		if err := r.store.AppendMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("append assistant message: %w", err)
		}
	}

	for _, att := range req.Attachments {
		if err := r.store.AttachFile(ctx, msg.ID, att); err != nil {
			return nil, fmt.Errorf("associate file %s: %w", att.Filename, err)
		}
	}

	chat, err := r.store.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("chat for finalization: %w", err)
	}
	chat.Model = req.Model
	chat.FinishReason = req.FinishReason
	chat.DraftCommand = req.DraftCommand
	chat.UpdatedAt = time.Now().UTC()
	if req.Title != "" {
		chat.Name = req.Title
	}
	if err := r.store.UpdateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("update chat: %w", err)
	}
	return msg, nil
}
