package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// migrations are applied in order exactly once; version numbers are
// monotonic and never reused.
var migrations = []struct {
	version int
	name    string
	up      string
}{
	{1, "users", `
CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(64) PRIMARY KEY,
    email VARCHAR(320) NOT NULL UNIQUE,
    credential_hash VARCHAR(128) NOT NULL,
    api_key_hash VARCHAR(128) NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);`},
	{2, "collections", `
CREATE TABLE IF NOT EXISTS collections (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    metadata TEXT,
    config TEXT,
    document_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collections_user ON collections(user_id);`},
	{3, "documents", `
CREATE TABLE IF NOT EXISTS documents (
    id VARCHAR(64) PRIMARY KEY,
    collection_id VARCHAR(64) NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    title TEXT,
    filename TEXT,
    content_type VARCHAR(255) NOT NULL,
    size_bytes BIGINT NOT NULL DEFAULT 0,
    content_hash VARCHAR(64) NOT NULL,
    unique_identifier_hash VARCHAR(64),
    status VARCHAR(16) NOT NULL DEFAULT 'pending',
    metadata TEXT,
    processing_info TEXT,
    summary TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    processed_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_user_hash ON documents(user_id, content_hash);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_user_uid_hash ON documents(user_id, unique_identifier_hash)
    WHERE unique_identifier_hash IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection_id);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);`},
	{4, "chunks", `
CREATE TABLE IF NOT EXISTS chunks (
    id VARCHAR(64) PRIMARY KEY,
    document_id VARCHAR(64) NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
    collection_id VARCHAR(64) NOT NULL,
    chunk_index INTEGER NOT NULL,
    content TEXT NOT NULL,
    token_count INTEGER NOT NULL DEFAULT 0,
    metadata TEXT,
    annotations TEXT,
    UNIQUE (document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection_id);`},
	{5, "chat_sessions", `
CREATE TABLE IF NOT EXISTS chat_sessions (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(64) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    collection_id VARCHAR(64),
    title TEXT,
    created_at TIMESTAMP NOT NULL,
    last_message_at TIMESTAMP,
    message_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id);`},
	{6, "chat_messages", `
CREATE TABLE IF NOT EXISTS chat_messages (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    role VARCHAR(16) NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON chat_messages(session_id, created_at);`},
	{7, "document_summaries", `
CREATE TABLE IF NOT EXISTS document_summaries (
    document_id VARCHAR(64) PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
    collection_id VARCHAR(64) NOT NULL,
    summary_text TEXT NOT NULL,
    embedding TEXT
);
CREATE INDEX IF NOT EXISTS idx_summaries_collection ON document_summaries(collection_id);`},
}

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMP NOT NULL
);`

// Migrate applies all pending migrations in version order.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createMigrationsTableSQL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		for _, stmt := range strings.Split(m.up, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := s.exec(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
			m.version, m.name); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		slog.Debug("Applied migration", "version", m.version, "name", m.name)
	}

	return nil
}
