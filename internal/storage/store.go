package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"vlwatch/internal/config"
)

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

// Store is a durable key/value map of JSON documents. Set and Remove apply
// all of their keys atomically; Keys enumerates everything stored.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
	Remove(ctx context.Context, keys ...string) error
	Keys(ctx context.Context) ([]string, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "redis":
		return NewRedis(cfg.DSN, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// baseStore holds the SQL shared by the sqlite and postgres drivers; only
// placeholder syntax and DDL differ between them.
type baseStore struct {
	db          *sql.DB
	placeholder func(n int) string
	valueExpr   string
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if b.db == nil || len(keys) == 0 {
		return out, nil
	}
	args := make([]any, len(keys))
	marks := make([]string, len(keys))
	for i, k := range keys {
		args[i] = k
		marks[i] = b.placeholder(i + 1)
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, `+b.valueExpr+` FROM kv WHERE key IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = []byte(value)
	}
	return out, rows.Err()
}

func (b *baseStore) set(ctx context.Context, upsert string, values map[string][]byte) error {
	if b.db == nil || len(values) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, upsert)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := nowUTC()
	for key, value := range values {
		if _, err := stmt.ExecContext(ctx, key, string(value), now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) Remove(ctx context.Context, keys ...string) error {
	if b.db == nil || len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	marks := make([]string, len(keys))
	for i, k := range keys {
		args[i] = k
		marks[i] = b.placeholder(i + 1)
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv WHERE key IN (`+strings.Join(marks, ", ")+`)`, args...)
	return err
}

func (b *baseStore) Keys(ctx context.Context) ([]string, error) {
	if b.db == nil {
		return nil, nil
	}
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
