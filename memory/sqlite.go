package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/convoloop/convoloop/core"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by a single SQLite database. The
// turn id is the primary key, so redelivered appends are absorbed by
// INSERT OR IGNORE. A monotonic seq column preserves append order even when
// two turns share a created_at timestamp.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// ensures the conversation schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode for concurrent readers alongside the single writer.
	dsn := dbPath + "?_journal=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS conversation_turns (
		id TEXT PRIMARY KEY,
		seq INTEGER UNIQUE,
		conversation_key TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_call_id TEXT NOT NULL DEFAULT '',
		tool_calls TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_key_seq ON conversation_turns(conversation_key, seq);`
	_, err := s.db.Exec(query)
	return err
}

// Append stores the turn, silently ignoring a turn id that already exists.
func (s *SQLiteStore) Append(ctx context.Context, key string, turn core.Turn) error {
	var toolCalls string
	if len(turn.ToolCalls) > 0 {
		raw, err := json.Marshal(turn.ToolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		toolCalls = string(raw)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_turns
			(id, seq, conversation_key, role, content, tool_call_id, tool_calls, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_turns), ?, ?, ?, ?, ?, ?)`,
		turn.ID, key, string(turn.Role), turn.Content, turn.ToolCallID, toolCalls, turn.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// Read returns the most recent limit turns for the key in chronological
// order. Unknown keys yield an empty slice.
func (s *SQLiteStore) Read(ctx context.Context, key string, limit int) ([]core.Turn, error) {
	query := `
		SELECT id, role, content, tool_call_id, tool_calls, created_at
		FROM conversation_turns
		WHERE conversation_key = ?
		ORDER BY seq DESC`
	args := []any{key}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	defer rows.Close()

	var turns []core.Turn
	for rows.Next() {
		var t core.Turn
		var role, toolCalls string
		var createdAt int64
		if err := rows.Scan(&t.ID, &role, &t.Content, &t.ToolCallID, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		t.Role = core.Role(role)
		t.CreatedAt = time.Unix(0, createdAt).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Rows arrive newest-first; reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	if turns == nil {
		turns = []core.Turn{}
	}
	return turns, nil
}

// Clear deletes every turn for the key.
func (s *SQLiteStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_turns WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
