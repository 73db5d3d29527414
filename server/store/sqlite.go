package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"oracle-bluff/server/match"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is the single-file repository used for local runs and tests.
type SQLite struct{ db *sql.DB }

// OpenSQLite opens path with WAL and a busy timeout. One connection keeps
// read-modify-write transactions serialized.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close()                         { _ = s.db.Close() }
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLite) CreateMatch(ctx context.Context, m *match.Match) error {
	raw, err := encode(m)
	if err != nil {
		return err
	}
	now := nowUTC().UnixNano()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO matches(id, status, total_rounds, completed_rounds, participants, snapshot, created_unix_ns, updated_unix_ns)
		VALUES (?,?,?,?,?,?,?,?)
	`, m.ID.String(), string(m.Status), m.Config.TotalRounds, m.CompletedRounds(),
		strings.Join(m.Config.Participants, ","), string(raw), m.CreatedAt.UnixNano(), now)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", m.ID, err)
	}
	return nil
}

type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) GetMatch(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	return sqliteGet(ctx, s.db, id)
}

func sqliteGet(ctx context.Context, q sqlQuerier, id uuid.UUID) (*match.Match, error) {
	var status, raw string
	err := q.QueryRowContext(ctx, `SELECT status, snapshot FROM matches WHERE id = ?`, id.String()).Scan(&status, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, match.ErrNotFound
		}
		return nil, fmt.Errorf("select match %s: %w", id, err)
	}
	return decode([]byte(raw), status)
}

func (s *SQLite) ListMatches(ctx context.Context, statuses ...match.Status) ([]*match.Match, error) {
	query := `SELECT status, snapshot FROM matches`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(`,?`, len(statuses)-1) + `)`
		for _, st := range statusStrings(statuses) {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_unix_ns DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []*match.Match
	for rows.Next() {
		var status, raw string
		if err := rows.Scan(&status, &raw); err != nil {
			return nil, err
		}
		m, err := decode([]byte(raw), status)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveMatch(ctx context.Context, m *match.Match) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var stored string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM matches WHERE id = ?`, m.ID.String()).Scan(&stored); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return match.ErrNotFound
		}
		return fmt.Errorf("read status %s: %w", m.ID, err)
	}
	m.Status = match.MergeStatus(match.Status(stored), m.Status)
	if err := sqliteWrite(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) TransitionStatus(ctx context.Context, id uuid.UUID, to match.Status) (match.Status, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	m, err := sqliteGet(ctx, tx, id)
	if err != nil {
		return "", err
	}
	prev := m.Status
	if err := transition(m, to); err != nil {
		return prev, err
	}
	if err := sqliteWrite(ctx, tx, m); err != nil {
		return prev, err
	}
	return prev, tx.Commit()
}

func sqliteWrite(ctx context.Context, tx *sql.Tx, m *match.Match) error {
	raw, err := encode(m)
	if err != nil {
		return err
	}
	var msg any
	if m.Error != "" {
		msg = m.Error
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE matches
		   SET status = ?, completed_rounds = ?, snapshot = ?, error = ?, updated_unix_ns = ?
		 WHERE id = ?
	`, string(m.Status), m.CompletedRounds(), string(raw), msg, nowUTC().UnixNano(), m.ID.String())
	if err != nil {
		return fmt.Errorf("update match %s: %w", m.ID, err)
	}
	return nil
}
