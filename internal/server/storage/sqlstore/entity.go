package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// ScanEntities streams the compacted entity state in ascending version order
func (s *Store) ScanEntities(ctx context.Context, sc scope.Scope, q storage.PullQuery, fn func(*models.Entity) error) error {
	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE user_id = :user_id AND sync_version > ?`
	args := []any{int64(q.SinceVersion)}

	if len(q.Types) > 0 {
		query += ` AND entity_type IN (?` + strings.Repeat(", ?", len(q.Types)-1) + `)`
		for _, t := range q.Types {
			args = append(args, t)
		}
	}

	query += ` ORDER BY sync_version ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.scoped(sc).QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return fmt.Errorf("failed to scan entity: %w", err)
		}
		e.UserID = sc.UserID()
		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating entities: %w", err)
	}
	return nil
}
