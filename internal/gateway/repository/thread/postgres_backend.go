package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatwire/internal/types"
)

func (s *Store) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS threads (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL DEFAULT '',
  user_id TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
  data JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threads_user_id ON threads (user_id);
CREATE INDEX IF NOT EXISTS idx_threads_steps ON threads USING GIN ((data->'steps') jsonb_path_ops);
`)
	})
	return s.schemaErr
}

func scanThread(row interface{ Scan(...any) error }) (types.Thread, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Thread{}, ErrNotFound
		}
		return types.Thread{}, err
	}
	var t types.Thread
	if err := json.Unmarshal(raw, &t); err != nil {
		return types.Thread{}, fmt.Errorf("decode thread: %w", err)
	}
	return t, nil
}

func (s *Store) getDB(ctx context.Context, id string) (types.Thread, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return types.Thread{}, err
	}
	return scanThread(s.db.QueryRowContext(ctx, `SELECT data FROM threads WHERE id = $1`, id))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeThread(ctx context.Context, db execer, t types.Thread) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT INTO threads (id, name, user_id, created_at, data)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id)
DO UPDATE SET name=EXCLUDED.name,
  user_id=EXCLUDED.user_id,
  data=EXCLUDED.data`,
		t.ID, t.Name, t.UserID, t.CreatedAt, raw)
	return err
}

func (s *Store) putDB(ctx context.Context, t types.Thread) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	return writeThread(ctx, s.db, t)
}

func (s *Store) updateDB(ctx context.Context, id string, fn func(*types.Thread) error) (types.Thread, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return types.Thread{}, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Thread{}, err
	}
	defer func() { _ = tx.Rollback() }()

	cur, err := scanThread(tx.QueryRowContext(ctx, `SELECT data FROM threads WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return types.Thread{}, err
	}
	if err := fn(&cur); err != nil {
		return types.Thread{}, err
	}
	cur.ID = id
	if err := writeThread(ctx, tx, cur); err != nil {
		return types.Thread{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Thread{}, err
	}
	return cur, nil
}

func (s *Store) deleteDB(ctx context.Context, id string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) findByStepDB(ctx context.Context, stepID string) (string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	probe, err := json.Marshal([]map[string]string{{"id": stepID}})
	if err != nil {
		return "", err
	}
	var id string
	err = s.db.QueryRowContext(ctx, `SELECT id FROM threads WHERE data->'steps' @> $1::jsonb LIMIT 1`, string(probe)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return id, err
}

func (s *Store) listDB(ctx context.Context, userID string) ([]types.Thread, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	uid := strings.TrimSpace(userID)
	var (
		rows *sql.Rows
		err  error
	)
	if uid == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT data FROM threads ORDER BY created_at DESC`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT data FROM threads WHERE user_id = $1 ORDER BY created_at DESC`, uid)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.Thread, 0, 32)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
