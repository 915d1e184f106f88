package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	occurred_at INTEGER NOT NULL,
	detail      TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_actor_kind_time ON events(actor, kind, occurred_at);
CREATE INDEX IF NOT EXISTS idx_events_time ON events(occurred_at);

CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	actor       TEXT NOT NULL,
	kind        TEXT NOT NULL,
	occurred_at INTEGER NOT NULL,
	detail      TEXT NOT NULL,
	dedup_key   TEXT UNIQUE
);
CREATE INDEX IF NOT EXISTS idx_alerts_time ON alerts(occurred_at);
`

// SQLite is a durable EventStore and AlertStore on a single database file.
type SQLite struct {
	db   *sql.DB
	path string
	opts options
}

// NewSQLite opens (creating if needed) the database at path and applies the schema.
// ":memory:" opens a private in-memory database.
func NewSQLite(path string, opts ...Option) (*SQLite, error) {
	dsn := path
	if path == ":memory:" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	} else if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %w", ErrUnavailable, path, err)
	}
	// Single connection: one writer, and every caller sees the same in-memory database.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: apply schema: %w", ErrUnavailable, err)
	}

	slog.Info("sqlite store opened", "path", path)
	return &SQLite{db: db, path: path, opts: buildOptions(opts)}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping sqlite: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLite) Append(ctx context.Context, ev *event.Event) (*event.Event, error) {
	stored := *ev
	stored.ID = uuid.New().String()
	stored.OccurredAt = s.opts.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, actor, kind, occurred_at, detail) VALUES (?, ?, ?, ?, ?)`,
		stored.ID, stored.Actor, string(stored.Kind), stored.OccurredAt.UnixNano(), nullString(stored.Detail))
	if err != nil {
		return nil, fmt.Errorf("%w: insert event: %w", ErrUnavailable, err)
	}
	return &stored, nil
}

func (s *SQLite) CountSince(ctx context.Context, actor string, kind event.Kind, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE actor = ? AND kind = ? AND occurred_at >= ?`,
		actor, string(kind), since.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count events: %w", ErrUnavailable, err)
	}
	return n, nil
}

func (s *SQLite) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, actor, kind, occurred_at, detail FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get event: %w", ErrUnavailable, err)
	}
	return ev, nil
}

func (s *SQLite) ListEvents(ctx context.Context, f Filter) ([]*event.Event, error) {
	where, args := f.sqlWhere()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, kind, occurred_at, detail FROM events`+where+` ORDER BY occurred_at DESC`+f.sqlLimit(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list events: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]*event.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", ErrUnavailable, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list events: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (s *SQLite) Create(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	stored := s.stampAlert(a)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, actor, kind, occurred_at, detail) VALUES (?, ?, ?, ?, ?)`,
		stored.ID, stored.Actor, string(stored.Kind), stored.OccurredAt.UnixNano(), stored.Detail)
	if err != nil {
		return nil, fmt.Errorf("%w: insert alert: %w", ErrUnavailable, err)
	}
	return stored, nil
}

// CreateIfAbsent relies on the UNIQUE dedup_key so concurrent writers, even
// from other processes, cannot both create the latched alert.
func (s *SQLite) CreateIfAbsent(ctx context.Context, actor string, kind alert.Kind, build func() *alert.Alert) (*alert.Alert, bool, error) {
	a := build()
	a.Actor, a.Kind = actor, kind
	stored := s.stampAlert(a)
	key := dedupKey(actor, kind)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, actor, kind, occurred_at, detail, dedup_key) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(dedup_key) DO NOTHING`,
		stored.ID, stored.Actor, string(stored.Kind), stored.OccurredAt.UnixNano(), stored.Detail, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: insert alert: %w", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%w: insert alert: %w", ErrUnavailable, err)
	}
	if n == 1 {
		return stored, true, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, actor, kind, occurred_at, detail FROM alerts WHERE dedup_key = ?`, key)
	existing, err := scanAlert(row)
	if err != nil {
		return nil, false, fmt.Errorf("%w: load latched alert: %w", ErrUnavailable, err)
	}
	return existing, false, nil
}

func (s *SQLite) ListAlerts(ctx context.Context, f Filter) ([]*alert.Alert, error) {
	where, args := f.sqlWhere()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor, kind, occurred_at, detail FROM alerts`+where+` ORDER BY occurred_at DESC`+f.sqlLimit(), args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list alerts: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	out := make([]*alert.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan alert: %w", ErrUnavailable, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list alerts: %w", ErrUnavailable, err)
	}
	return out, nil
}

func (s *SQLite) stampAlert(a *alert.Alert) *alert.Alert {
	stored := *a
	stored.ID = uuid.New().String()
	stored.OccurredAt = s.opts.now()
	return &stored
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(sc scanner) (*event.Event, error) {
	var (
		ev     event.Event
		kind   string
		at     int64
		detail sql.NullString
	)
	if err := sc.Scan(&ev.ID, &ev.Actor, &kind, &at, &detail); err != nil {
		return nil, err
	}
	ev.Kind = event.Kind(kind)
	ev.OccurredAt = time.Unix(0, at).UTC()
	ev.Detail = detail.String
	return &ev, nil
}

func scanAlert(sc scanner) (*alert.Alert, error) {
	var (
		a    alert.Alert
		kind string
		at   int64
	)
	if err := sc.Scan(&a.ID, &a.Actor, &kind, &at, &a.Detail); err != nil {
		return nil, err
	}
	a.Kind = alert.Kind(kind)
	a.OccurredAt = time.Unix(0, at).UTC()
	return &a, nil
}

func (f Filter) sqlWhere() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.Actor != "" {
		conds = append(conds, "actor = ?")
		args = append(args, f.Actor)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		conds = append(conds, "occurred_at < ?")
		args = append(args, f.Until.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) sqlLimit() string {
	if f.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", f.Limit)
}

func dedupKey(actor string, kind alert.Kind) string {
	return string(kind) + ":" + actor
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
