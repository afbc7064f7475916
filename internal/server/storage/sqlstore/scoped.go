package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/iudanet/gophsync/internal/dbx"
	"github.com/iudanet/gophsync/internal/scope"
)

// userParam маркер, вместо которого подставляется user_id из Scope.
// Все запросы к пользовательским таблицам пишутся через него.
const userParam = ":user_id"

// rawUserPredicate ловит попытку передать user_id обычным аргументом
var rawUserPredicate = regexp.MustCompile(`(?i)\buser_id\s*(=|IN)\s*\(?\s*\?`)

// scopedQuerier единственная точка, через которую идут запросы к данным пользователя.
// Он сам связывает user_id, поэтому вызывающий код не может подставить чужой.
type scopedQuerier struct {
	q       dbx.DBTX
	dialect dbx.Dialect
	scope   scope.Scope
}

func newScopedQuerier(q dbx.DBTX, dialect dbx.Dialect, sc scope.Scope) scopedQuerier {
	return scopedQuerier{q: q, dialect: dialect, scope: sc}
}

// bind подставляет user_id на место каждого маркера, сохраняя порядок аргументов,
// и переписывает плейсхолдеры под диалект.
func (s scopedQuerier) bind(query string, args []any) (string, []any, error) {
	if !s.scope.Valid() {
		return "", nil, scope.ErrUnscoped
	}
	if !strings.Contains(query, userParam) {
		return "", nil, fmt.Errorf("%w: statement is not restricted by user_id", scope.ErrScopeViolation)
	}
	if rawUserPredicate.MatchString(query) {
		return "", nil, fmt.Errorf("%w: user_id must not be passed as a plain argument", scope.ErrScopeViolation)
	}

	var b strings.Builder
	b.Grow(len(query))
	out := make([]any, 0, len(args)+1)
	next := 0
	for i := 0; i < len(query); {
		if strings.HasPrefix(query[i:], userParam) {
			b.WriteByte('?')
			out = append(out, s.scope.UserID())
			i += len(userParam)
			continue
		}
		if query[i] == '?' {
			if next >= len(args) {
				return "", nil, fmt.Errorf("not enough arguments for statement")
			}
			out = append(out, args[next])
			next++
		}
		b.WriteByte(query[i])
		i++
	}
	if next != len(args) {
		return "", nil, fmt.Errorf("too many arguments for statement: got %d, used %d", len(args), next)
	}

	return s.dialect.Rebind(b.String()), out, nil
}

func (s scopedQuerier) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	q, bound, err := s.bind(query, args)
	if err != nil {
		return nil, err
	}
	return s.q.ExecContext(ctx, q, bound...)
}

func (s scopedQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	q, bound, err := s.bind(query, args)
	if err != nil {
		return nil, err
	}
	return s.q.QueryContext(ctx, q, bound...)
}

// QueryRow возвращает ошибку привязки отдельно, потому что *sql.Row нельзя создать с ошибкой
func (s scopedQuerier) QueryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	q, bound, err := s.bind(query, args)
	if err != nil {
		return nil, err
	}
	return s.q.QueryRowContext(ctx, q, bound...), nil
}
