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

// SaveRefreshToken stores a new refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	query := s.rebind(`
		INSERT INTO refresh_tokens (id, user_id, device_id, token_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.DeviceID,
		token.TokenHash,
		toNanos(token.ExpiresAt),
		toNanos(token.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves refresh token by its hash
func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := s.rebind(`
		SELECT id, user_id, device_id, token_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = ?
	`)

	token := &models.RefreshToken{}
	var expiresAt, createdAt int64
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(
		&token.ID,
		&token.UserID,
		&token.DeviceID,
		&token.TokenHash,
		&expiresAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	token.ExpiresAt = fromNanos(expiresAt)
	token.CreatedAt = fromNanos(createdAt)
	return token, nil
}

// DeleteRefreshToken deletes refresh token by its hash
func (s *Store) DeleteRefreshToken(ctx context.Context, tokenHash string) error {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM refresh_tokens WHERE token_hash = ?`), tokenHash)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// DeleteDeviceTokens deletes all refresh tokens issued to a device
func (s *Store) DeleteDeviceTokens(ctx context.Context, sc scope.Scope, deviceID string) (int, error) {
	result, err := s.scoped(sc).ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = :user_id AND device_id = ?`, deviceID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete device tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(affected), nil
}

// DeleteExpiredTokens removes all expired tokens
func (s *Store) DeleteExpiredTokens(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM refresh_tokens WHERE expires_at < ?`), toNanos(time.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(affected), nil
}
