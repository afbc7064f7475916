package storage

import (
	"context"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
)

// DeviceStorage persists the device registry
type DeviceStorage interface {
	// UpsertDevice registers a device or refreshes its name, kind and last seen time.
	// A revoked device stays revoked until it is registered again through login.
	UpsertDevice(ctx context.Context, sc scope.Scope, device *models.Device) error

	// GetDevice returns ErrDeviceNotFound if the device is unknown for the user
	GetDevice(ctx context.Context, sc scope.Scope, deviceID string) (*models.Device, error)

	// ListDevices returns all devices of the user ordered by creation time
	ListDevices(ctx context.Context, sc scope.Scope) ([]*models.Device, error)

	// RecordPull stores last_pulled_version and last_seen_at.
	// The cursor never moves backwards.
	RecordPull(ctx context.Context, sc scope.Scope, deviceID string, version uint64, seenAt time.Time) error

	// RevokeDevice marks the device revoked
	// Returns ErrDeviceNotFound if the device is unknown for the user
	RevokeDevice(ctx context.Context, sc scope.Scope, deviceID string, at time.Time) error
}
