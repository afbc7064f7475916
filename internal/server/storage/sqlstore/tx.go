package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// userTx implements storage.UserTx
type userTx struct {
	q     scopedQuerier
	scope scope.Scope
}

func (t *userTx) Scope() scope.Scope {
	return t.scope
}

// AllocateVersions reserves n consecutive versions and returns the first one
func (t *userTx) AllocateVersions(ctx context.Context, n int) (uint64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("invalid version count %d", n)
	}

	row, err := t.q.QueryRow(ctx, `
		UPDATE user_versions
		SET current_version = current_version + ?
		WHERE user_id = :user_id
		RETURNING current_version`, int64(n))
	if err != nil {
		return 0, err
	}

	var last int64
	if err := row.Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to allocate versions: %w", err)
	}

	return uint64(last) - uint64(n) + 1, nil
}

const entityColumns = `entity_type, entity_id, payload, updated_at, sync_version, created_version, deleted_at`

func (t *userTx) GetEntity(ctx context.Context, key models.EntityKey) (*models.Entity, error) {
	row, err := t.q.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE user_id = :user_id AND entity_type = ? AND entity_id = ?`, key.Type, key.ID)
	if err != nil {
		return nil, err
	}

	e, err := scanEntity(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	e.UserID = t.scope.UserID()
	return e, nil
}

func (t *userTx) PutEntity(ctx context.Context, e *models.Entity) error {
	if err := t.scope.Check(e.UserID); err != nil {
		return err
	}

	payload, err := marshalJSON(payloadOrEmpty(e.Payload))
	if err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO entities (user_id, entity_type, entity_id, payload, updated_at, sync_version, created_version, deleted_at)
		VALUES (:user_id, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, entity_type, entity_id) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			sync_version = excluded.sync_version,
			created_version = excluded.created_version,
			deleted_at = excluded.deleted_at`,
		e.Type,
		e.ID,
		payload,
		toNanos(e.UpdatedAt),
		int64(e.SyncVersion),
		int64(e.CreatedVersion),
		nullNanos(e.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to put entity: %w", err)
	}
	return nil
}

func (t *userTx) AppendChange(ctx context.Context, entry *models.ChangeLogEntry) error {
	if err := t.scope.Check(entry.UserID); err != nil {
		return err
	}

	payload, err := marshalJSON(payloadOrEmpty(entry.Payload))
	if err != nil {
		return err
	}
	fields, err := marshalJSON(stringsOrEmpty(entry.ChangedFields))
	if err != nil {
		return err
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO entity_changes (user_id, sync_version, entity_type, entity_id, op, payload, changed_fields, updated_at, device_id)
		VALUES (:user_id, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(entry.SyncVersion),
		entry.Type,
		entry.ID,
		string(entry.Op),
		payload,
		fields,
		toNanos(entry.UpdatedAt),
		entry.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	return nil
}

const changeColumns = `sync_version, entity_type, entity_id, op, payload, changed_fields, updated_at, device_id`

func (t *userTx) ChangesSince(ctx context.Context, key models.EntityKey, after uint64) ([]*models.ChangeLogEntry, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+changeColumns+`
		FROM entity_changes
		WHERE user_id = :user_id AND entity_type = ? AND entity_id = ? AND sync_version > ?
		ORDER BY sync_version ASC`, key.Type, key.ID, int64(after))
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var out []*models.ChangeLogEntry
	for rows.Next() {
		entry, err := scanChange(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		entry.UserID = t.scope.UserID()
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}
	return out, nil
}

func (t *userTx) ChangeAt(ctx context.Context, key models.EntityKey, version uint64) (*models.ChangeLogEntry, error) {
	row, err := t.q.QueryRow(ctx, `
		SELECT `+changeColumns+`
		FROM entity_changes
		WHERE user_id = :user_id AND entity_type = ? AND entity_id = ? AND sync_version = ?`,
		key.Type, key.ID, int64(version))
	if err != nil {
		return nil, err
	}

	entry, err := scanChange(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrChangeNotFound
		}
		return nil, fmt.Errorf("failed to get change: %w", err)
	}
	entry.UserID = t.scope.UserID()
	return entry, nil
}

func (t *userTx) SaveConflict(ctx context.Context, rec *models.ConflictRecord) error {
	if err := t.scope.Check(rec.UserID); err != nil {
		return err
	}
	return insertConflict(ctx, t.q, rec)
}

func (t *userTx) CountLiveEntities(ctx context.Context) (int, error) {
	row, err := t.q.QueryRow(ctx, `SELECT COUNT(*) FROM entities WHERE user_id = :user_id AND deleted_at IS NULL`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return n, nil
}

func scanEntity(scan func(dest ...any) error) (*models.Entity, error) {
	var (
		e              models.Entity
		payload        []byte
		updatedAt      int64
		syncVersion    int64
		createdVersion int64
		deletedAt      sql.NullInt64
	)
	if err := scan(&e.Type, &e.ID, &payload, &updatedAt, &syncVersion, &createdVersion, &deletedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &e.Payload); err != nil {
		return nil, err
	}
	e.UpdatedAt = fromNanos(updatedAt)
	e.SyncVersion = uint64(syncVersion)
	e.CreatedVersion = uint64(createdVersion)
	e.DeletedAt = fromNullNanos(deletedAt)
	return &e, nil
}

func scanChange(scan func(dest ...any) error) (*models.ChangeLogEntry, error) {
	var (
		entry       models.ChangeLogEntry
		op          string
		payload     []byte
		fields      []byte
		updatedAt   int64
		syncVersion int64
	)
	if err := scan(&syncVersion, &entry.Type, &entry.ID, &op, &payload, &fields, &updatedAt, &entry.DeviceID); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(payload, &entry.Payload); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(fields, &entry.ChangedFields); err != nil {
		return nil, err
	}
	entry.Op = models.Op(op)
	entry.UpdatedAt = fromNanos(updatedAt)
	entry.SyncVersion = uint64(syncVersion)
	return &entry, nil
}

func payloadOrEmpty(p models.Payload) models.Payload {
	if p == nil {
		return models.Payload{}
	}
	return p
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
