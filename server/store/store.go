package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"oracle-bluff/server/match"
)

//go:embed schema.sql
var schema string

// DB is the Postgres repository.
type DB struct{ *pgxpool.Pool }

func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &DB{p}, nil
}

func (db *DB) Close()                         { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.Exec(ctx, schema)
	return err
}

func nowUTC() time.Time { return time.Now().UTC() }

func (db *DB) CreateMatch(ctx context.Context, m *match.Match) error {
	raw, err := encode(m)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO matches(id, status, total_rounds, completed_rounds, participants, snapshot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, m.ID.String(), string(m.Status), m.Config.TotalRounds, m.CompletedRounds(), m.Config.Participants, raw, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert match %s: %w", m.ID, err)
	}
	return nil
}

func (db *DB) GetMatch(ctx context.Context, id uuid.UUID) (*match.Match, error) {
	return getMatch(ctx, db.Pool, id, "")
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getMatch(ctx context.Context, q pgQuerier, id uuid.UUID, suffix string) (*match.Match, error) {
	var (
		status string
		raw    []byte
	)
	err := q.QueryRow(ctx, `SELECT status, snapshot FROM matches WHERE id = $1`+suffix, id.String()).Scan(&status, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, match.ErrNotFound
		}
		return nil, fmt.Errorf("select match %s: %w", id, err)
	}
	return decode(raw, status)
}

// ListMatches returns matches newest first, optionally filtered by status.
func (db *DB) ListMatches(ctx context.Context, statuses ...match.Status) ([]*match.Match, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = db.Query(ctx, `SELECT status, snapshot FROM matches ORDER BY created_at DESC`)
	} else {
		rows, err = db.Query(ctx, `
			SELECT status, snapshot
			  FROM matches
			 WHERE status = ANY($1)
			 ORDER BY created_at DESC
		`, statusStrings(statuses))
	}
	if err != nil {
		return nil, fmt.Errorf("list matches: %w", err)
	}
	defer rows.Close()

	var out []*match.Match
	for rows.Next() {
		var (
			status string
			raw    []byte
		)
		if err := rows.Scan(&status, &raw); err != nil {
			return nil, err
		}
		m, err := decode(raw, status)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveMatch writes the snapshot under a row lock. A Paused or Cancelled
// status stored by someone else survives; m.Status is updated to match.
func (db *DB) SaveMatch(ctx context.Context, m *match.Match) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	var stored string
	if err := tx.QueryRow(ctx, `SELECT status FROM matches WHERE id = $1 FOR UPDATE`, m.ID.String()).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return match.ErrNotFound
		}
		return fmt.Errorf("lock match %s: %w", m.ID, err)
	}
	m.Status = match.MergeStatus(match.Status(stored), m.Status)
	if err := db.write(ctx, tx, m); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// TransitionStatus changes the status of a stored match if the status
// machine allows it and returns the previous status.
func (db *DB) TransitionStatus(ctx context.Context, id uuid.UUID, to match.Status) (match.Status, error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	m, err := getMatch(ctx, tx, id, " FOR UPDATE")
	if err != nil {
		return "", err
	}
	prev := m.Status
	if err := transition(m, to); err != nil {
		return prev, err
	}
	if err := db.write(ctx, tx, m); err != nil {
		return prev, err
	}
	return prev, tx.Commit(ctx)
}

func (db *DB) write(ctx context.Context, tx pgx.Tx, m *match.Match) error {
	raw, err := encode(m)
	if err != nil {
		return err
	}
	var msg any
	if m.Error != "" {
		msg = m.Error
	}
	_, err = tx.Exec(ctx, `
		UPDATE matches
		   SET status = $2,
		       completed_rounds = $3,
		       snapshot = $4,
		       error = $5,
		       updated_at = now()
		 WHERE id = $1
	`, m.ID.String(), string(m.Status), m.CompletedRounds(), raw, msg)
	if err != nil {
		return fmt.Errorf("update match %s: %w", m.ID, err)
	}
	return nil
}
