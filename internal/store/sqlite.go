// Package store persists the per-room message log and eviction alarms in
// SQLite. Keys are opaque strings chosen by callers; entries scan in key
// order, so fixed-width chronological keys give chronological scans.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"github.com/avdeyev/parley/internal/core"
	"github.com/avdeyev/parley/internal/domain"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The room actor serializes its own writes; a single connection keeps
	// sqlite happy under concurrent rooms.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			room TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			PRIMARY KEY (room, key)
		)`,
		`CREATE TABLE IF NOT EXISTS alarms (
			room TEXT PRIMARY KEY,
			wake_at INTEGER NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Put(ctx context.Context, room domain.RoomName, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (room, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(room, key) DO UPDATE SET value = excluded.value`,
		string(room), key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", room, key, err)
	}
	return nil
}

func (s *SQLiteStore) ScanReverse(ctx context.Context, room domain.RoomName, prefix string, limit int) ([]core.Entry, error) {
	end := prefixEnd(prefix)
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM entries
		 WHERE room = ? AND key >= ? AND (? = '' OR key < ?)
		 ORDER BY key DESC LIMIT ?`,
		string(room), prefix, end, end, limit)
	if err != nil {
		return nil, fmt.Errorf("scan %s/%s: %w", room, prefix, err)
	}
	defer rows.Close()

	var out []core.Entry
	for rows.Next() {
		var e core.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeletePrefix(ctx context.Context, room domain.RoomName, prefix string) error {
	end := prefixEnd(prefix)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE room = ? AND key >= ? AND (? = '' OR key < ?)`,
		string(room), prefix, end, end)
	if err != nil {
		return fmt.Errorf("delete prefix %s/%s: %w", room, prefix, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Info().Str("module", "store.sqlite").Str("room", string(room)).Int64("deleted", n).Msg("prefix truncated")
	}
	return nil
}

func (s *SQLiteStore) Arm(ctx context.Context, room domain.RoomName, at time.Time) (time.Time, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms (room, wake_at) VALUES (?, ?)
		 ON CONFLICT(room) DO NOTHING`,
		string(room), at.UnixMilli())
	if err != nil {
		return time.Time{}, fmt.Errorf("arm alarm %s: %w", room, err)
	}
	var wakeAt int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT wake_at FROM alarms WHERE room = ?`, string(room)).Scan(&wakeAt); err != nil {
		return time.Time{}, fmt.Errorf("read alarm %s: %w", room, err)
	}
	return time.UnixMilli(wakeAt), nil
}

func (s *SQLiteStore) Reset(ctx context.Context, room domain.RoomName, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms (room, wake_at) VALUES (?, ?)
		 ON CONFLICT(room) DO UPDATE SET wake_at = excluded.wake_at`,
		string(room), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("reset alarm %s: %w", room, err)
	}
	return nil
}

// prefixEnd is the smallest key greater than every key with the prefix, or
// "" when no such bound exists (all-0xff prefix); callers treat "" as
// "no upper bound".
func prefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
