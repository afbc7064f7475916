// Package auth вход устройства и жизненный цикл его токенов.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	clientapi "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
	"github.com/iudanet/gophsync/pkg/api"
)

// refreshSkew access token обновляется заранее, чтобы не получить 401 посреди синхронизации
const refreshSkew = 30 * time.Second

var (
	// ErrNotAuthenticated на устройстве нет сохранённой сессии
	ErrNotAuthenticated = errors.New("not logged in")

	// ErrSessionExpired сервер отверг refresh token, нужен повторный вход
	ErrSessionExpired = errors.New("session expired, please login again")
)

// LoginParams параметры входа с этого устройства
type LoginParams struct {
	Username   string
	Password   string
	DeviceName string
	DeviceKind models.DeviceKind
}

// Service предоставляет функции авторизации.
// Реализует api.TokenSource для защищённых запросов.
type Service struct {
	api    API
	store  storage.AuthStorage
	meta   storage.MetadataStorage
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex // сериализует refresh, старый refresh token одноразовый
}

var _ clientapi.TokenSource = (*Service)(nil)

// NewService создает новый сервис авторизации
func NewService(apiClient API, store storage.AuthStorage, meta storage.MetadataStorage, logger *slog.Logger) *Service {
	return &Service{
		api:    apiClient,
		store:  store,
		meta:   meta,
		logger: logger,
		now:    time.Now,
	}
}

// Register регистрирует нового пользователя
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if err := validation.ValidateUsername(username); err != nil {
		return "", fmt.Errorf("invalid username: %w", err)
	}
	if err := validation.ValidatePassword(password); err != nil {
		return "", fmt.Errorf("invalid password: %w", err)
	}

	resp, err := s.api.Register(ctx, api.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", resp.UserID))
	return resp.UserID, nil
}

// Login выполняет вход и сохраняет токены устройства
func (s *Service) Login(ctx context.Context, p LoginParams) (*storage.AuthData, error) {
	if p.Username == "" || p.Password == "" {
		return nil, errors.New("username and password are required")
	}
	if p.DeviceKind == "" {
		p.DeviceKind = models.DeviceKindFull
	}

	deviceID, err := s.DeviceID(ctx)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateDevice(deviceID, p.DeviceName); err != nil {
		return nil, err
	}

	resp, err := s.api.Login(ctx, api.LoginRequest{
		Username:   p.Username,
		Password:   p.Password,
		DeviceID:   deviceID,
		DeviceName: p.DeviceName,
		DeviceKind: string(p.DeviceKind),
	})
	if err != nil {
		return nil, err
	}

	auth := &storage.AuthData{
		Username:     p.Username,
		UserID:       resp.UserID,
		DeviceID:     deviceID,
		DeviceKind:   string(p.DeviceKind),
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix(),
	}
	if err := s.store.SaveAuth(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to save auth data: %w", err)
	}

	s.logger.InfoContext(ctx, "logged in",
		slog.String("user_id", auth.UserID),
		slog.String("device_id", deviceID))

	return auth, nil
}

// DeviceID возвращает идентификатор устройства, создавая его при первом обращении
func (s *Service) DeviceID(ctx context.Context) (string, error) {
	id, err := s.meta.DeviceID(ctx)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.meta.SaveDeviceID(ctx, id); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	return id, nil
}

// Current возвращает сохранённую сессию
func (s *Service) Current(ctx context.Context) (*storage.AuthData, error) {
	auth, err := s.store.GetAuth(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrAuthNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}
	return auth, nil
}

// Token возвращает действующий access token, при необходимости обновляя его
func (s *Service) Token(ctx context.Context) (string, error) {
	auth, err := s.Current(ctx)
	if err != nil {
		return "", err
	}

	if s.now().Add(refreshSkew).Before(time.Unix(auth.ExpiresAt, 0)) {
		return auth.AccessToken, nil
	}

	if err := s.Refresh(ctx); err != nil {
		return "", err
	}
	auth, err = s.Current(ctx)
	if err != nil {
		return "", err
	}
	return auth.AccessToken, nil
}

// Refresh обновляет пару токенов
func (s *Service) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.Current(ctx)
	if err != nil {
		return err
	}

	resp, err := s.api.Refresh(ctx, auth.RefreshToken)
	if err != nil {
		if clientapi.StatusCode(err) == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return err
	}

	auth.AccessToken = resp.AccessToken
	auth.RefreshToken = resp.RefreshToken
	auth.ExpiresAt = s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix()
	if err := s.store.SaveAuth(ctx, auth); err != nil {
		return fmt.Errorf("failed to save refreshed tokens: %w", err)
	}

	s.logger.DebugContext(ctx, "tokens refreshed", slog.String("device_id", auth.DeviceID))
	return nil
}

// Logout завершает сессию устройства.
// Локальные данные удаляются даже если сервер недоступен.
func (s *Service) Logout(ctx context.Context) error {
	if _, err := s.Current(ctx); err != nil {
		return err
	}

	if err := s.api.Logout(ctx); err != nil {
		s.logger.WarnContext(ctx, "server logout failed", slog.Any("error", err))
	}

	if err := s.store.DeleteAuth(ctx); err != nil && !errors.Is(err, storage.ErrAuthNotFound) {
		return fmt.Errorf("failed to delete auth data: %w", err)
	}
	return nil
}
