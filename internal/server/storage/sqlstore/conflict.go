package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

func insertConflict(ctx context.Context, q scopedQuerier, rec *models.ConflictRecord) error {
	fields, err := marshalJSON(stringsOrEmpty(rec.Fields))
	if err != nil {
		return err
	}
	change, err := marshalJSON(rec.ClientChange)
	if err != nil {
		return err
	}
	var server any
	if rec.ServerState != nil {
		s, err := marshalJSON(rec.ServerState)
		if err != nil {
			return err
		}
		server = s
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO conflicts (id, user_id, entity_type, entity_id, resolution, fields, client_change, server_state, created_at)
		VALUES (?, :user_id, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Type,
		rec.EntityID,
		string(rec.Resolution),
		fields,
		change,
		server,
		toNanos(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save conflict: %w", err)
	}
	return nil
}

// ListConflicts returns conflict records of the user, newest first
func (s *Store) ListConflicts(ctx context.Context, sc scope.Scope, resolution models.Resolution) ([]*models.ConflictRecord, error) {
	query := `
		SELECT id, entity_type, entity_id, resolution, fields, client_change, server_state, created_at
		FROM conflicts
		WHERE user_id = :user_id`
	var args []any
	if resolution != "" {
		query += ` AND resolution = ?`
		args = append(args, string(resolution))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.scoped(sc).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var out []*models.ConflictRecord
	for rows.Next() {
		var (
			rec        models.ConflictRecord
			res        string
			fields     []byte
			change     []byte
			server     []byte
			createdAt  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.EntityID, &res, &fields, &change, &server, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		if err := unmarshalJSON(fields, &rec.Fields); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(change, &rec.ClientChange); err != nil {
			return nil, err
		}
		if len(server) > 0 {
			rec.ServerState = &models.Entity{}
			if err := unmarshalJSON(server, rec.ServerState); err != nil {
				return nil, err
			}
		}
		rec.UserID = sc.UserID()
		rec.Resolution = models.Resolution(res)
		rec.CreatedAt = fromNanos(createdAt)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return out, nil
}

// DeleteConflict removes one record
func (s *Store) DeleteConflict(ctx context.Context, sc scope.Scope, id string) error {
	result, err := s.scoped(sc).ExecContext(ctx, `DELETE FROM conflicts WHERE user_id = :user_id AND id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conflict: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrConflictNotFound
	}
	return nil
}

// DeleteConflictsBefore removes records created before the given time
func (s *Store) DeleteConflictsBefore(ctx context.Context, sc scope.Scope, before time.Time) (int, error) {
	result, err := s.scoped(sc).ExecContext(ctx,
		`DELETE FROM conflicts WHERE user_id = :user_id AND created_at < ?`, toNanos(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete conflicts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(affected), nil
}
