package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations are applied in order; schema_version tracks the last applied
// index.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS chats (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		name          TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		finish_reason TEXT NOT NULL DEFAULT '',
		sharing       TEXT NOT NULL DEFAULT 'private',
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC);`,

	`CREATE TABLE IF NOT EXISTS messages (
		id                    TEXT PRIMARY KEY,
		chat_id               TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		user_id               TEXT NOT NULL,
		role                  TEXT NOT NULL,
		content               TEXT NOT NULL DEFAULT '',
		sequence_number       INTEGER NOT NULL,
		thinking_content      TEXT NOT NULL DEFAULT '',
		thinking_elapsed_secs REAL NOT NULL DEFAULT 0,
		citations             TEXT NOT NULL DEFAULT '[]',
		attachments           TEXT NOT NULL DEFAULT '[]',
		image_paths           TEXT NOT NULL DEFAULT '[]',
		model                 TEXT NOT NULL DEFAULT '',
		plugin                TEXT NOT NULL DEFAULT '',
		created_at            TIMESTAMP NOT NULL,
		updated_at            TIMESTAMP NOT NULL,
		UNIQUE (chat_id, sequence_number)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, sequence_number);`,

	`CREATE TABLE IF NOT EXISTS file_items (
		id         TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		type       TEXT NOT NULL DEFAULT '',
		url        TEXT NOT NULL DEFAULT '',
		path       TEXT NOT NULL DEFAULT '',
		filename   TEXT NOT NULL DEFAULT '',
		mime_type  TEXT NOT NULL DEFAULT '',
		size       INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_file_items_message ON file_items(message_id);`,

	// draft_command holds the shell command awaiting user confirmation
	// after an ask_shell_exec suspension.
	`ALTER TABLE chats ADD COLUMN draft_command TEXT NOT NULL DEFAULT '';`,
}

// Migrate applies pending migrations to db.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	var version int
	row := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
