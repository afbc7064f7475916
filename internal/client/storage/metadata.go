package storage

import (
	"context"
	"time"
)

//go:generate moq -out metadata_mock.go . MetadataStorage

// MetadataStorage defines interface for storing client metadata
type MetadataStorage interface {
	// DeviceID возвращает идентификатор устройства или пустую строку
	DeviceID(ctx context.Context) (string, error)

	// SaveDeviceID сохраняет идентификатор устройства.
	// Он переживает logout и используется при следующем входе.
	SaveDeviceID(ctx context.Context, deviceID string) error

	// SaveLastSync saves the time of the last successful sync
	SaveLastSync(ctx context.Context, t time.Time) error

	// LastSync возвращает время последней успешной синхронизации.
	// Нулевое время, если синхронизации ещё не было.
	LastSync(ctx context.Context) (time.Time, error)
}
