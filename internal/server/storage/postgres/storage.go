// Package postgres открывает PostgreSQL хранилище сервера через pgx stdlib.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/pressly/goose/v3"

	"github.com/iudanet/gophsync/internal/dbx"
	"github.com/iudanet/gophsync/internal/server/storage/sqlstore"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const uniqueViolation = "23505"

// Dialect PostgreSQL: позиционные плейсхолдеры и SELECT ... FOR UPDATE
// для строки счётчика версий
type Dialect struct{}

func (Dialect) Name() string               { return "postgres" }
func (Dialect) Rebind(query string) string { return dbx.RebindDollar(query) }
func (Dialect) ForUpdate() string          { return " FOR UPDATE" }

func (Dialect) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// Storage represents PostgreSQL storage implementation
type Storage struct {
	*sqlstore.Store
}

// New connects to PostgreSQL using dsn and applies migrations
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Storage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("postgres storage ready")

	return NewWithDB(db, logger), nil
}

// NewWithDB wraps an already migrated connection, used by tests with sqlmock
func NewWithDB(db *sql.DB, logger *slog.Logger) *Storage {
	return &Storage{Store: sqlstore.New(db, Dialect{}, logger)}
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	migrations, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	for _, r := range results {
		if r.Source != nil {
			logger.Debug("migration applied", slog.String("path", r.Source.Path), slog.Duration("duration", r.Duration))
		}
	}

	return nil
}
