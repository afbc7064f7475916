// Package sqlstore implements storage.Store on top of database/sql.
// Dialect specific packages (sqlite, postgres) open the connection,
// run migrations and wrap the result with New.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/gophsync/internal/dbx"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// Store SQL implementation of storage.Store
type Store struct {
	db      *sql.DB
	dialect dbx.Dialect
	logger  *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// New wraps an opened and migrated database
func New(db *sql.DB, dialect dbx.Dialect, logger *slog.Logger) *Store {
	return &Store{db: db, dialect: dialect, logger: logger}
}

// DB returns the underlying database connection for testing purposes
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// scoped returns a querier bound to sc outside of a transaction
func (s *Store) scoped(sc scope.Scope) scopedQuerier {
	return newScopedQuerier(s.db, s.dialect, sc)
}

// rebind prepares statements that are not user scoped (accounts, tokens)
func (s *Store) rebind(query string) string {
	return s.dialect.Rebind(query)
}

// WithUserTx runs fn in a transaction bound to sc.
// The user's version counter row is created on first use and locked
// for the rest of the transaction, so pushes of one user serialize
// while different users never wait on each other.
func (s *Store) WithUserTx(ctx context.Context, sc scope.Scope, fn func(ctx context.Context, tx storage.UserTx) error) error {
	if !sc.Valid() {
		return scope.ErrUnscoped
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		q := newScopedQuerier(tx, s.dialect, sc)

		_, err := q.ExecContext(ctx, `
			INSERT INTO user_versions (user_id, current_version)
			VALUES (:user_id, 0)
			ON CONFLICT (user_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("failed to init version counter: %w", err)
		}

		row, err := q.QueryRow(ctx, `SELECT current_version FROM user_versions WHERE user_id = :user_id`+s.dialect.ForUpdate())
		if err != nil {
			return err
		}
		var current int64
		if err := row.Scan(&current); err != nil {
			return fmt.Errorf("failed to lock version counter: %w", err)
		}

		return fn(ctx, &userTx{q: q, scope: sc})
	})
}

// CurrentVersion returns the highest allocated version of the user
func (s *Store) CurrentVersion(ctx context.Context, sc scope.Scope) (uint64, error) {
	row, err := s.scoped(sc).QueryRow(ctx, `SELECT current_version FROM user_versions WHERE user_id = :user_id`)
	if err != nil {
		return 0, err
	}
	var v int64
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return uint64(v), nil
}

// время хранится как unix наносекунды в BIGINT, одинаково для обоих диалектов.
// LWW сравнивает updated_at клиента с сохранённым, точность должна совпадать.
func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json: %w", err)
	}
	return string(data), nil
}

// unmarshalJSON принимает []byte, потому что pgx отдаёт JSONB как байты, а sqlite как текст
func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("failed to unmarshal json: %w", err)
	}
	return nil
}
