package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vantagesec/vantage/pkg/models"
)

// SQLiteStore implements Store on a sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a sqlite database at path. Use ":memory:"
// for an ephemeral database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// sqlite handles one writer; serialize at the pool level.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStore wraps an existing database handle. Migrations are the
// caller's responsibility. Useful with sqlmock in tests.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateChat inserts a new chat row.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *models.Chat) error {
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now
	if chat.Sharing == "" {
		chat.Sharing = "private"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats (id, user_id, name, model, finish_reason, draft_command, sharing, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		chat.ID, chat.UserID, chat.Name, chat.Model, string(chat.FinishReason), chat.DraftCommand,
		chat.Sharing, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: create chat: %w", err)
	}
	return nil
}

// GetChat fetches a chat by id.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, model, finish_reason, draft_command, sharing, created_at, updated_at
		 FROM chats WHERE id = ?`, id)
	var chat models.Chat
	var finish string
	err := row.Scan(&chat.ID, &chat.UserID, &chat.Name, &chat.Model, &finish, &chat.DraftCommand,
		&chat.Sharing, &chat.CreatedAt, &chat.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get chat: %w", err)
	}
	chat.FinishReason = models.FinishReason(finish)
	return &chat, nil
}

// UpdateChat updates a chat's mutable fields.
func (s *SQLiteStore) UpdateChat(ctx context.Context, chat *models.Chat) error {
	chat.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET name = ?, model = ?, finish_reason = ?, draft_command = ?, sharing = ?, updated_at = ?
		 WHERE id = ?`,
		chat.Name, chat.Model, string(chat.FinishReason), chat.DraftCommand, chat.Sharing,
		chat.UpdatedAt, chat.ID)
	if err != nil {
		return fmt.Errorf("store: update chat: %w", err)
	}
	return checkAffected(res)
}

// DeleteChat removes a chat; messages and file items cascade.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete chat: %w", err)
	}
	return checkAffected(res)
}

// ListChats returns a user's chats, most recently updated first.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string, limit, offset int) ([]*models.Chat, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, model, finish_reason, draft_command, sharing, created_at, updated_at
		 FROM chats WHERE user_id = ? ORDER BY updated_at DESC LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		var chat models.Chat
		var finish string
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Name, &chat.Model, &finish,
			&chat.DraftCommand, &chat.Sharing, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, err
		}
		chat.FinishReason = models.FinishReason(finish)
		chats = append(chats, &chat)
	}
	return chats, rows.Err()
}

// AppendMessage inserts msg with the chat's next sequence number. The
// allocation happens inside the INSERT so two writers cannot observe the
// same max and mint duplicates.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now

	citations, attachments, imagePaths, err := encodeLists(msg)
	if err != nil {
		return err
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, chat_id, user_id, role, content, sequence_number,
			thinking_content, thinking_elapsed_secs, citations, attachments, image_paths,
			model, plugin, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM messages WHERE chat_id = ?),
			?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING sequence_number`,
		msg.ID, msg.ChatID, msg.UserID, string(msg.Role), msg.Content, msg.ChatID,
		msg.ThinkingContent, msg.ThinkingElapsedSecs, citations, attachments, imagePaths,
		msg.Model, string(msg.Plugin), msg.CreatedAt, msg.UpdatedAt)
	if err := row.Scan(&msg.SequenceNumber); err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}
	return nil
}

// GetMessages returns a chat's messages in sequence order.
func (s *SQLiteStore) GetMessages(ctx context.Context, chatID string, limit, offset int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx,
		selectMessageColumns+` FROM messages WHERE chat_id = ?
		 ORDER BY sequence_number LIMIT ? OFFSET ?`,
		chatID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// LatestAssistantMessage returns the highest-sequence assistant message.
func (s *SQLiteStore) LatestAssistantMessage(ctx context.Context, chatID string) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		selectMessageColumns+` FROM messages WHERE chat_id = ? AND role = ?
		 ORDER BY sequence_number DESC LIMIT 1`,
		chatID, string(models.RoleAssistant))
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAssistantMessage
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest assistant message: %w", err)
	}
	return msg, nil
}

// UpdateMessage patches a message's content and metadata in place.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, msg *models.Message) error {
	msg.UpdatedAt = time.Now().UTC()
	citations, attachments, imagePaths, err := encodeLists(msg)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content = ?, thinking_content = ?, thinking_elapsed_secs = ?,
			citations = ?, attachments = ?, image_paths = ?, updated_at = ?
		 WHERE id = ?`,
		msg.Content, msg.ThinkingContent, msg.ThinkingElapsedSecs,
		citations, attachments, imagePaths, msg.UpdatedAt, msg.ID)
	if err != nil {
		return fmt.Errorf("store: update message: %w", err)
	}
	return checkAffected(res)
}

// DeleteMessagesFrom removes every message at sequence >= seq.
func (s *SQLiteStore) DeleteMessagesFrom(ctx context.Context, chatID string, seq int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ? AND sequence_number >= ?`, chatID, seq)
	if err != nil {
		return fmt.Errorf("store: delete messages from %d: %w", seq, err)
	}
	return nil
}

// DeleteLatestAssistantMessage removes the highest-sequence assistant
// message, if one exists.
func (s *SQLiteStore) DeleteLatestAssistantMessage(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id = (
			SELECT id FROM messages WHERE chat_id = ? AND role = ?
			ORDER BY sequence_number DESC LIMIT 1)`,
		chatID, string(models.RoleAssistant))
	if err != nil {
		return fmt.Errorf("store: delete latest assistant message: %w", err)
	}
	return nil
}

// AttachFile records a file association for a message.
func (s *SQLiteStore) AttachFile(ctx context.Context, messageID string, att models.Attachment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_items (id, message_id, type, url, path, filename, mime_type, size)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, messageID, att.Type, att.URL, att.Path, att.Filename, att.MimeType, att.Size)
	if err != nil {
		return fmt.Errorf("store: attach file: %w", err)
	}
	return nil
}

// FilesForMessage lists a message's file associations.
func (s *SQLiteStore) FilesForMessage(ctx context.Context, messageID string) ([]models.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, url, path, filename, mime_type, size
		 FROM file_items WHERE message_id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: files for message: %w", err)
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var att models.Attachment
		if err := rows.Scan(&att.ID, &att.Type, &att.URL, &att.Path, &att.Filename,
			&att.MimeType, &att.Size); err != nil {
			return nil, err
		}
		atts = append(atts, att)
	}
	return atts, rows.Err()
}

const selectMessageColumns = `SELECT id, chat_id, user_id, role, content, sequence_number,
	thinking_content, thinking_elapsed_secs, citations, attachments, image_paths,
	model, plugin, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var msg models.Message
	var role, plugin, citations, attachments, imagePaths string
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &role, &msg.Content, &msg.SequenceNumber,
		&msg.ThinkingContent, &msg.ThinkingElapsedSecs, &citations, &attachments, &imagePaths,
		&msg.Model, &plugin, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = models.Role(role)
	msg.Plugin = models.Plugin(plugin)
	if err := json.Unmarshal([]byte(citations), &msg.Citations); err != nil {
		return nil, fmt.Errorf("store: decode citations: %w", err)
	}
	if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
		return nil, fmt.Errorf("store: decode attachments: %w", err)
	}
	if err := json.Unmarshal([]byte(imagePaths), &msg.ImagePaths); err != nil {
		return nil, fmt.Errorf("store: decode image paths: %w", err)
	}
	return &msg, nil
}

func encodeLists(msg *models.Message) (citations, attachments, imagePaths string, err error) {
	c, err := json.Marshal(orEmpty(msg.Citations))
	if err != nil {
		return "", "", "", fmt.Errorf("store: encode citations: %w", err)
	}
	a, err := json.Marshal(orEmptyAtt(msg.Attachments))
	if err != nil {
		return "", "", "", fmt.Errorf("store: encode attachments: %w", err)
	}
	p, err := json.Marshal(orEmpty(msg.ImagePaths))
	if err != nil {
		return "", "", "", fmt.Errorf("store: encode image paths: %w", err)
	}
	return string(c), string(a), string(p), nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyAtt(s []models.Attachment) []models.Attachment {
	if s == nil {
		return []models.Attachment{}
	}
	return s
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
