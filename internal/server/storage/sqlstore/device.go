package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

const deviceColumns = `device_id, name, kind, last_pulled_version, last_seen_at, revoked_at, created_at`

// UpsertDevice registers a device. Logging in again on a revoked device clears the revocation.
func (s *Store) UpsertDevice(ctx context.Context, sc scope.Scope, d *models.Device) error {
	if err := sc.Check(d.UserID); err != nil {
		return err
	}

	_, err := s.scoped(sc).ExecContext(ctx, `
		INSERT INTO devices (user_id, device_id, name, kind, last_pulled_version, last_seen_at, revoked_at, created_at)
		VALUES (:user_id, ?, ?, ?, 0, ?, NULL, ?)
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			last_seen_at = excluded.last_seen_at,
			revoked_at = NULL`,
		d.DeviceID,
		d.Name,
		string(d.Kind),
		toNanos(d.LastSeenAt),
		toNanos(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// GetDevice returns a registered device of the user
func (s *Store) GetDevice(ctx context.Context, sc scope.Scope, deviceID string) (*models.Device, error) {
	row, err := s.scoped(sc).QueryRow(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE user_id = :user_id AND device_id = ?`, deviceID)
	if err != nil {
		return nil, err
	}

	d, err := scanDevice(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	d.UserID = sc.UserID()
	return d, nil
}

// ListDevices returns all devices of the user
func (s *Store) ListDevices(ctx context.Context, sc scope.Scope) ([]*models.Device, error) {
	rows, err := s.scoped(sc).QueryContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE user_id = :user_id
		ORDER BY created_at ASC, device_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var out []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.UserID = sc.UserID()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating devices: %w", err)
	}
	return out, nil
}

// RecordPull advances the server-side cursor of the device
func (s *Store) RecordPull(ctx context.Context, sc scope.Scope, deviceID string, version uint64, seenAt time.Time) error {
	_, err := s.scoped(sc).ExecContext(ctx, `
		UPDATE devices
		SET last_pulled_version = CASE WHEN last_pulled_version < ? THEN ? ELSE last_pulled_version END,
			last_seen_at = ?
		WHERE user_id = :user_id AND device_id = ?`,
		int64(version), int64(version), toNanos(seenAt), deviceID)
	if err != nil {
		return fmt.Errorf("failed to record pull: %w", err)
	}
	return nil
}

// RevokeDevice marks the device revoked
func (s *Store) RevokeDevice(ctx context.Context, sc scope.Scope, deviceID string, at time.Time) error {
	result, err := s.scoped(sc).ExecContext(ctx, `
		UPDATE devices SET revoked_at = ?
		WHERE user_id = :user_id AND device_id = ?`, toNanos(at), deviceID)
	if err != nil {
		return fmt.Errorf("failed to revoke device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

func scanDevice(scan func(dest ...any) error) (*models.Device, error) {
	var (
		d          models.Device
		kind       string
		lastPulled int64
		lastSeen   int64
		revokedAt  sql.NullInt64
		createdAt  int64
	)
	if err := scan(&d.DeviceID, &d.Name, &kind, &lastPulled, &lastSeen, &revokedAt, &createdAt); err != nil {
		return nil, err
	}
	d.Kind = models.DeviceKind(kind)
	d.LastPulledVersion = uint64(lastPulled)
	d.LastSeenAt = fromNanos(lastSeen)
	d.RevokedAt = fromNullNanos(revokedAt)
	d.CreatedAt = fromNanos(createdAt)
	return &d, nil
}
