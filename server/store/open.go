package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"oracle-bluff/server/match"
)

// Store is a match repository plus lifecycle hooks.
type Store interface {
	match.Repository
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()
}

// Open picks the backend from the DSN: postgres:// URLs go to Postgres,
// anything else is a SQLite path (an optional sqlite:// prefix is stripped).
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if path == "" {
		path = "oracle-bluff.db"
	}
	s, err := OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func encode(m *match.Match) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode match %s: %w", m.ID, err)
	}
	return raw, nil
}

// decode restores a snapshot; the status column is authoritative.
func decode(raw []byte, status string) (*match.Match, error) {
	var m match.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match: %w", err)
	}
	m.Status = match.Status(status)
	if m.Scores == nil {
		m.Scores = map[string]int{}
	}
	return &m, nil
}

// transition applies an externally requested status change to a snapshot.
func transition(m *match.Match, to match.Status) error {
	if err := m.Transition(to); err != nil {
		return err
	}
	if to.Terminal() && m.CompletedAt == nil {
		now := nowUTC()
		m.CompletedAt = &now
	}
	return nil
}

func statusStrings(statuses []match.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
