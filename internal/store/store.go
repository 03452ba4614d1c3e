// Package store persists chats, messages, and file associations.
package store

import (
	"context"
	"errors"

	"github.com/vantagesec/vantage/pkg/models"
)

var (
	// ErrNotFound is returned when a chat or message does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNoAssistantMessage is returned when a continuation turn finds no
	// assistant message to patch. This is a broken invariant, never a cue
	// to insert silently.
	ErrNoAssistantMessage = errors.New("store: no assistant message found to continue")
)

// Store is the persistence interface for the chat core. Sequence numbers
// are allocated by the store inside the insert so concurrent writers cannot
// mint duplicates.
type Store interface {
	CreateChat(ctx context.Context, chat *models.Chat) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	UpdateChat(ctx context.Context, chat *models.Chat) error
	// DeleteChat cascades to the chat's messages and file associations.
	DeleteChat(ctx context.Context, id string) error
	ListChats(ctx context.Context, userID string, limit, offset int) ([]*models.Chat, error)

	// AppendMessage inserts msg at the chat's next sequence number and
	// writes the allocated sequence back into msg.
	AppendMessage(ctx context.Context, msg *models.Message) error
	GetMessages(ctx context.Context, chatID string, limit, offset int) ([]*models.Message, error)
	// LatestAssistantMessage returns the highest-sequence assistant
	// message, or ErrNoAssistantMessage.
	LatestAssistantMessage(ctx context.Context, chatID string) (*models.Message, error)
	// UpdateMessage patches content, thinking, citations, and attachments
	// in place; sequence and identity are immutable.
	UpdateMessage(ctx context.Context, msg *models.Message) error
	// DeleteMessagesFrom removes every message with sequence >= seq.
	DeleteMessagesFrom(ctx context.Context, chatID string, seq int) error
	// DeleteLatestAssistantMessage removes the highest-sequence assistant
	// message, if any.
	DeleteLatestAssistantMessage(ctx context.Context, chatID string) error

	AttachFile(ctx context.Context, messageID string, att models.Attachment) error
	FilesForMessage(ctx context.Context, messageID string) ([]models.Attachment, error)

	Close() error
}
