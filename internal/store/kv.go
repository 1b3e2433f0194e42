package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Record is a stored key-value pair.
type Record struct {
	Key   string
	Value string
	Stamp int64
}

// Get reads a record. ok is false when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, true, nil
}

// Put inserts or replaces a record.
//
// A record whose stored stamp is newer than stamp is left as is and Put
// reports written=false. Equal stamps overwrite. Singleton keys that do not
// need ordering are written with stamp 0.
func (s *Store) Put(ctx context.Context, key, value string, stamp int64) (written bool, err error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, stamp, written_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stamp = excluded.stamp,
			written_at = excluded.written_at
		WHERE excluded.stamp >= kv.stamp
	`, key, value, stamp, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("kv put %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv put %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes a record. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// List returns records whose key starts with prefix, newest stamp first.
func (s *Store) List(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, stamp FROM kv
		WHERE substr(key, 1, length(?)) = ?
		ORDER BY stamp DESC, key ASC
	`, prefix, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Key, &r.Value, &r.Stamp); err != nil {
			return nil, fmt.Errorf("kv list %s: %w", prefix, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv list %s: %w", prefix, err)
	}
	return out, nil
}

// Move re-keys a record atomically: the value under from is written to to
// (only if to does not exist yet) and from is deleted. It reports whether a
// record was moved.
func (s *Store) Move(ctx context.Context, from, to string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("kv move: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var value string
	var stamp int64
	err = tx.QueryRowContext(ctx, `SELECT value, stamp FROM kv WHERE key = ?`, from).Scan(&value, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kv move: read %s: %w", from, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO kv (key, value, stamp, written_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, to, value, stamp, time.Now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("kv move: write %s: %w", to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("kv move: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, from); err != nil {
		return false, fmt.Errorf("kv move: delete %s: %w", from, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("kv move: commit: %w", err)
	}
	return true, nil
}
