package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// RegistryStorage то, что реестру нужно от хранилища
type RegistryStorage interface {
	storage.DeviceStorage
	DeleteDeviceTokens(ctx context.Context, sc scope.Scope, deviceID string) (int, error)
}

// Registry реестр устройств: регистрация при входе, проверка отзыва,
// серверный курсор и отзыв
type Registry struct {
	store  RegistryStorage
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry создаёт реестр устройств
func NewRegistry(store RegistryStorage, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger, now: time.Now}
}

// Register регистрирует устройство Scope или обновляет его имя.
// Повторный вход с отозванного устройства регистрирует его заново.
func (r *Registry) Register(ctx context.Context, sc scope.Scope, name string, kind models.DeviceKind) (*models.Device, error) {
	if sc.DeviceID() == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if kind == "" {
		kind = models.DeviceKindFull
	}

	now := r.now()
	device := &models.Device{
		UserID:     sc.UserID(),
		DeviceID:   sc.DeviceID(),
		Name:       name,
		Kind:       kind,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := r.store.UpsertDevice(ctx, sc, device); err != nil {
		return nil, storageError(err)
	}

	r.logger.Info("device registered",
		slog.String("user_id", sc.UserID()),
		slog.String("device_id", sc.DeviceID()),
		slog.String("kind", string(kind)))

	return device, nil
}

// Authorize проверяет, что устройство зарегистрировано и не отозвано
func (r *Registry) Authorize(ctx context.Context, sc scope.Scope) error {
	device, err := r.store.GetDevice(ctx, sc, sc.DeviceID())
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return fmt.Errorf("%w: unknown device", ErrAuthentication)
		}
		return storageError(err)
	}
	if device.Revoked() {
		return fmt.Errorf("%w: device revoked", ErrAuthentication)
	}
	return nil
}

// RecordPull сохраняет позицию устройства. Ошибки только логируются:
// курсор устройства на сервере служит для наблюдения, а не для корректности.
func (r *Registry) RecordPull(ctx context.Context, sc scope.Scope, version uint64) {
	if err := r.store.RecordPull(ctx, sc, sc.DeviceID(), version, r.now()); err != nil {
		r.logger.Warn("failed to record pull cursor",
			slog.String("user_id", sc.UserID()),
			slog.String("device_id", sc.DeviceID()),
			slog.Any("error", err))
	}
}

// List возвращает устройства пользователя
func (r *Registry) List(ctx context.Context, sc scope.Scope) ([]*models.Device, error) {
	devices, err := r.store.ListDevices(ctx, sc)
	if err != nil {
		return nil, storageError(err)
	}
	return devices, nil
}

// Revoke отзывает устройство и удаляет его refresh токены.
// Следующий запрос устройства получит ErrAuthentication.
func (r *Registry) Revoke(ctx context.Context, sc scope.Scope, deviceID string) error {
	if err := r.store.RevokeDevice(ctx, sc, deviceID, r.now()); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return err
		}
		return storageError(err)
	}

	n, err := r.store.DeleteDeviceTokens(ctx, sc, deviceID)
	if err != nil {
		return storageError(err)
	}

	r.logger.Info("device revoked",
		slog.String("user_id", sc.UserID()),
		slog.String("device_id", deviceID),
		slog.Int("tokens_deleted", n))

	return nil
}
