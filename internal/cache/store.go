// Package cache is the per-room warm-start store: last-known presence entries
// and map viewport, persisted across restarts. It is never authoritative once
// a server snapshot has arrived.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dayplan-app/waypoint/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS presence (
	room       TEXT NOT NULL,
	member_id  TEXT NOT NULL,
	nickname   TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT '',
	color      TEXT NOT NULL DEFAULT '',
	joined_at  INTEGER NOT NULL,
	PRIMARY KEY (room, member_id)
);
CREATE TABLE IF NOT EXISTS viewport (
	room       TEXT PRIMARY KEY,
	lat        REAL NOT NULL,
	lng        REAL NOT NULL,
	zoom       REAL NOT NULL,
	updated_at INTEGER NOT NULL
);`

// Viewport is the last-known map center and zoom for a room.
type Viewport struct {
	Lat  float64
	Lng  float64
	Zoom float64
}

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveMember upserts one presence entry for a room.
func (s *Store) SaveMember(ctx context.Context, room domain.RoomKey, m *domain.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO presence (room, member_id, nickname, avatar_url, color, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (room, member_id) DO UPDATE SET
			nickname = excluded.nickname,
			avatar_url = excluded.avatar_url,
			color = excluded.color,
			joined_at = excluded.joined_at`,
		string(room), string(m.ID), m.Nickname, m.AvatarURL, string(m.Color), m.JoinedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (s *Store) DeleteMember(ctx context.Context, room domain.RoomKey, id domain.MemberID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM presence WHERE room = ? AND member_id = ?`, string(room), string(id))
	if err != nil {
		return fmt.Errorf("delete member: %w", err)
	}
	return nil
}

// Members returns the cached presence entries for a room in join order.
func (s *Store) Members(ctx context.Context, room domain.RoomKey) ([]*domain.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, nickname, avatar_url, color, joined_at
		FROM presence WHERE room = ? ORDER BY joined_at, member_id`, string(room))
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var out []*domain.Member
	for rows.Next() {
		var (
			m        domain.Member
			joinedAt int64
		)
		if err := rows.Scan(&m.ID, &m.Nickname, &m.AvatarURL, &m.Color, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.JoinedAt = time.UnixMilli(joinedAt)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// ReplaceRoom rewrites a room's cached presence set in one transaction.
// Called after every reconciled server snapshot.
func (s *Store) ReplaceRoom(ctx context.Context, room domain.RoomKey, members []*domain.Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM presence WHERE room = ?`, string(room)); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	for _, m := range members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO presence (room, member_id, nickname, avatar_url, color, joined_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(room), string(m.ID), m.Nickname, m.AvatarURL, string(m.Color), m.JoinedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) SaveViewport(ctx context.Context, room domain.RoomKey, v Viewport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO viewport (room, lat, lng, zoom, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (room) DO UPDATE SET
			lat = excluded.lat, lng = excluded.lng,
			zoom = excluded.zoom, updated_at = excluded.updated_at`,
		string(room), v.Lat, v.Lng, v.Zoom, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save viewport: %w", err)
	}
	return nil
}

// Viewport returns the cached map center for a room; ok is false when the
// room has never been seen.
func (s *Store) Viewport(ctx context.Context, room domain.RoomKey) (Viewport, bool, error) {
	var v Viewport
	err := s.db.QueryRowContext(ctx,
		`SELECT lat, lng, zoom FROM viewport WHERE room = ?`, string(room)).
		Scan(&v.Lat, &v.Lng, &v.Zoom)
	if err == sql.ErrNoRows {
		return Viewport{}, false, nil
	}
	if err != nil {
		return Viewport{}, false, fmt.Errorf("load viewport: %w", err)
	}
	return v, true, nil
}
