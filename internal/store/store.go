// Package store persists preferences, per-user memory, the conversation log
// and the allowed-channel registry in a single sqlite database.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/stellarlinkco/lum/internal/conversation"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const pragmas = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

type Store struct {
	db *sql.DB
}

// Channel is a registered channel.
type Channel struct {
	ID        string
	Name      string
	CreatedAt string
}

// Stats counts rows per table.
type Stats struct {
	Preferences int
	Facts       int
	Turns       int
	Channels    int
}

// Open opens (creating if needed) the database at path and applies pending
// migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes every write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Printf("[store] applied migration %s", filepath.Base(r.Source.Path))
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetPreference returns the value for key. ok is false when the key was
// never set.
func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE preference_key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get preference: %w", err)
	}
	return value, true, nil
}

func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preferences (preference_key, value) VALUES (?, ?)
		ON CONFLICT(preference_key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value)
	if err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// ListPreferences returns every preference keyed by name.
func (s *Store) ListPreferences(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT preference_key, value FROM preferences ORDER BY preference_key`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (s *Store) GetMemory(ctx context.Context, userKey, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_memory WHERE user_id = ? AND memory_key = ?`, userKey, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get memory: %w", err)
	}
	return value, true, nil
}

func (s *Store) SetMemory(ctx context.Context, userKey, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_memory (user_id, memory_key, value) VALUES (?, ?, ?)
		ON CONFLICT(user_id, memory_key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		userKey, key, value)
	if err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

// AppendTurn adds one turn to the user's log. role must be user or assistant.
func (s *Store) AppendTurn(ctx context.Context, userKey, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_history (user_id, role, content) VALUES (?, ?, ?)`,
		userKey, role, content)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// AppendExchange records a user turn and the assistant reply in one
// transaction. Either both turns are stored or neither is.
func (s *Store) AppendExchange(ctx context.Context, userKey, userContent, reply string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	defer tx.Rollback()

	for _, t := range []conversation.Turn{
		{Role: conversation.RoleUser, Content: userContent},
		{Role: conversation.RoleAssistant, Content: reply},
	} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_history (user_id, role, content) VALUES (?, ?, ?)`,
			userKey, t.Role, t.Content); err != nil {
			return fmt.Errorf("append exchange: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit turns for userKey, oldest first.
func (s *Store) RecentTurns(ctx context.Context, userKey string, limit int) ([]conversation.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM conversation_history
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`, userKey, limit)
	if err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	defer rows.Close()

	var turns []conversation.Turn
	for rows.Next() {
		var t conversation.Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent turns: %w", err)
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AddChannel registers a channel. Registering an existing id is a no-op and
// keeps the original name.
func (s *Store) AddChannel(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO allowed_channels (channel_id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return fmt.Errorf("add channel: %w", err)
	}
	return nil
}

func (s *Store) HasChannel(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM allowed_channels WHERE channel_id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has channel: %w", err)
	}
	return n > 0, nil
}

func (s *Store) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_id, name, created_at FROM allowed_channels ORDER BY created_at, channel_id`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats reports row counts for status output.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"preferences", &st.Preferences},
		{"user_memory", &st.Facts},
		{"conversation_history", &st.Turns},
		{"allowed_channels", &st.Channels},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}

// Maintain truncates the WAL and refreshes query planner statistics.
func (s *Store) Maintain(ctx context.Context) error {
	for _, stmt := range []string{"PRAGMA wal_checkpoint(TRUNCATE)", "PRAGMA optimize"} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("maintain %q: %w", stmt, err)
		}
	}
	return nil
}
