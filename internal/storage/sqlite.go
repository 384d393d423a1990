package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "nybot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u UserProfile, seenAt time.Time) error {
	seen := formatTime(seenAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (tg_user_id, first_name, last_name, username, first_seen_at, last_seen_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(tg_user_id) DO UPDATE SET
		     first_name=excluded.first_name,
		     last_name=excluded.last_name,
		     username=excluded.username,
		     last_seen_at=excluded.last_seen_at,
		     first_seen_at=COALESCE(users.first_seen_at, excluded.first_seen_at)`,
		u.TgUserID, nullStr(u.FirstName), nullStr(u.LastName), nullStr(u.Username), seen, seen,
	)
	return err
}

func (s *sqliteStore) AddGreeting(ctx context.Context, tgUserID int64, text string, sentAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO greetings_log (tg_user_id, greeting_text, sent_at) VALUES (?, ?, ?)`,
		tgUserID, text, formatTime(sentAt),
	)
	return err
}

func (s *sqliteStore) AddMessage(ctx context.Context, m Message) error {
	at := m.ReceivedAt
	if at == "" {
		at = formatTime(time.Now())
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages_log (tg_user_id, message_text, message_type, raw_payload, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		m.TgUserID, m.MessageText, m.MessageType, m.RawPayload, at,
	)
	return err
}

const userSelect = `
	SELECT u.id, u.tg_user_id, u.first_name, u.last_name, u.username,
	       u.first_seen_at, u.last_seen_at, IFNULL(g.count, 0) AS greetings_count
	FROM users u
	LEFT JOIN (
	    SELECT tg_user_id, COUNT(*) AS count FROM greetings_log GROUP BY tg_user_id
	) g ON g.tg_user_id = u.tg_user_id`

func scanUser(sc interface{ Scan(...any) error }) (User, error) {
	var u User
	err := sc.Scan(&u.ID, &u.TgUserID, &u.FirstName, &u.LastName, &u.Username,
		&u.FirstSeenAt, &u.LastSeenAt, &u.GreetingsCount)
	return u, err
}

func (s *sqliteStore) ListUsers(ctx context.Context, p Page) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, userSelect+` ORDER BY u.last_seen_at DESC LIMIT ? OFFSET ?`, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetUser(ctx context.Context, tgUserID int64) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, userSelect+` WHERE u.tg_user_id = ?`, tgUserID))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *sqliteStore) ListGreetings(ctx context.Context, p Page, f GreetingFilter) ([]Greeting, error) {
	q := `SELECT tg_user_id, greeting_text, sent_at FROM greetings_log`
	var args []any
	if f.TgUserID != nil {
		q += ` WHERE tg_user_id = ?`
		args = append(args, *f.TgUserID)
	}
	q += ` ORDER BY sent_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Greeting{}
	for rows.Next() {
		var g Greeting
		if err := rows.Scan(&g.TgUserID, &g.GreetingText, &g.SentAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListMessages(ctx context.Context, p Page, f MessageFilter) ([]Message, error) {
	q := `SELECT tg_user_id, message_text, message_type, raw_payload, received_at FROM messages_log`
	var (
		clauses []string
		args    []any
	)
	if f.TgUserID != nil {
		clauses = append(clauses, "tg_user_id = ?")
		args = append(args, *f.TgUserID)
	}
	if f.MessageType != nil {
		clauses = append(clauses, "message_type = ?")
		args = append(args, *f.MessageType)
	}
	if len(clauses) > 0 {
		q += " WHERE " + strings.Join(clauses, " AND ")
	}
	q += ` ORDER BY received_at DESC LIMIT ? OFFSET ?`
	args = append(args, p.Limit, p.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.TgUserID, &m.MessageText, &m.MessageType, &m.RawPayload, &m.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	for _, c := range []struct {
		q   string
		dst *int64
	}{
		{`SELECT COUNT(*) FROM users`, &st.TotalUsers},
		{`SELECT COUNT(*) FROM greetings_log`, &st.TotalGreetings},
		{`SELECT COUNT(*) FROM messages_log`, &st.TotalMessages},
	} {
		if err := s.db.QueryRowContext(ctx, c.q).Scan(c.dst); err != nil {
			return Stats{}, err
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT tg_user_id, COUNT(*) AS greetings_count
		 FROM greetings_log
		 GROUP BY tg_user_id
		 ORDER BY greetings_count DESC
		 LIMIT 10`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st.TopUsers = []UserGreetings{}
	for rows.Next() {
		var ug UserGreetings
		if err := rows.Scan(&ug.TgUserID, &ug.GreetingsCount); err != nil {
			return Stats{}, err
		}
		st.TopUsers = append(st.TopUsers, ug)
	}
	return st, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
