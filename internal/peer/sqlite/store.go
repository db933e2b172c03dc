// Package sqlite persists the last server status reported to the peer.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/omochice/chat-relay/internal/peer"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS server_state (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  is_online INTEGER NOT NULL DEFAULT 0,
  player_count INTEGER NOT NULL DEFAULT 0,
  public_ip TEXT NOT NULL DEFAULT '',
  updated_at INTEGER NOT NULL DEFAULT 0
);
INSERT OR IGNORE INTO server_state (id, is_online, player_count, updated_at) VALUES (1, 0, 0, 0);
`

// Store keeps a single server_state row.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the database at path, creating the table when needed.
// ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" to a single database.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveStatus records status as of at.
func (s *Store) SaveStatus(ctx context.Context, status peer.Status, at time.Time) error {
	online := 0
	if status.Online {
		online = 1
	}
	_, err := s.sqlDB.ExecContext(ctx,
		`UPDATE server_state SET is_online = ?, player_count = ?, updated_at = ? WHERE id = 1`,
		online, status.PlayerCount, at.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save status: %w", err)
	}
	return nil
}

// SavePublicIP records the server's public address.
func (s *Store) SavePublicIP(ctx context.Context, ip string) error {
	_, err := s.sqlDB.ExecContext(ctx, `UPDATE server_state SET public_ip = ? WHERE id = 1`, ip)
	if err != nil {
		return fmt.Errorf("save public ip: %w", err)
	}
	return nil
}

// LoadPublicIP returns the saved public address, or "" if none was saved.
func (s *Store) LoadPublicIP(ctx context.Context) (string, error) {
	var ip string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT public_ip FROM server_state WHERE id = 1`).Scan(&ip)
	if err != nil {
		return "", fmt.Errorf("load public ip: %w", err)
	}
	return ip, nil
}

// LoadStatus returns the last saved status and when it was saved. The time
// is zero if nothing was saved yet.
func (s *Store) LoadStatus(ctx context.Context) (peer.Status, time.Time, error) {
	var (
		online    int
		count     int
		updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT is_online, player_count, updated_at FROM server_state WHERE id = 1`,
	).Scan(&online, &count, &updatedAt)
	if err != nil {
		return peer.Status{}, time.Time{}, fmt.Errorf("load status: %w", err)
	}

	var at time.Time
	if updatedAt != 0 {
		at = time.UnixMilli(updatedAt).UTC()
	}
	return peer.Status{Online: online == 1, PlayerCount: count}, at, nil
}
