package storage

import (
	"context"
)

//go:generate moq -out auth_mock.go . AuthStorage

// AuthStorage хранит данные аутентификации клиента.
// Файл базы создаётся с правами 0600, токены лежат как есть.
type AuthStorage interface {
	// SaveAuth сохраняет данные аутентификации, перезаписывая прежние
	SaveAuth(ctx context.Context, auth *AuthData) error

	// GetAuth возвращает сохранённые данные.
	// Returns ErrAuthNotFound if no auth data exists
	GetAuth(ctx context.Context) (*AuthData, error)

	// DeleteAuth удаляет данные аутентификации (logout)
	DeleteAuth(ctx context.Context) error
}

// AuthData данные аутентификации одного пользователя на этом устройстве
type AuthData struct {
	Username     string `json:"username"`
	UserID       string `json:"user_id"`
	DeviceID     string `json:"device_id"`
	DeviceKind   string `json:"device_kind"` // full или capture
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // unix время истечения access token
}
