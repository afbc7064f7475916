// Package dbx содержит минимальные абстракции над database/sql, общие для SQL-хранилищ:
// интерфейс DBTX, который реализуют и *sql.DB, и *sql.Tx, диалект плейсхолдеров
// и помощник для выполнения функции в транзакции.
package dbx

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// DBTX подмножество database/sql, которым пользуются хранилища
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect различия SQL-движков, которые видны хранилищу
type Dialect interface {
	// Name имя диалекта для goose и логов
	Name() string
	// Rebind переписывает плейсхолдеры '?' в синтаксис движка
	Rebind(query string) string
	// ForUpdate суффикс блокировки строки или пустая строка
	ForUpdate() string
	// IsUniqueViolation сообщает, что ошибка вызвана нарушением уникального ключа
	IsUniqueViolation(err error) bool
}

// RebindDollar заменяет '?' на $1, $2, ...
func RebindDollar(query string) string {
	n := strings.Count(query, "?")
	if n == 0 {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + n*2)
	idx := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(idx))
			idx++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// WithTx открывает транзакцию, выполняет fn и делает commit при успехе.
// При ошибке или панике транзакция откатывается, паника пробрасывается дальше.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    _, err := tx.ExecContext(ctx, "UPDATE ...")
//	    return err
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
