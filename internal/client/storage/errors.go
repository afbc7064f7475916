package storage

import "errors"

// Common client storage errors
var (
	// ErrAuthNotFound indicates that no authentication data exists
	ErrAuthNotFound = errors.New("authentication data not found")

	// ErrEntityNotFound сущности нет в локальной копии
	ErrEntityNotFound = errors.New("entity not found")

	// ErrPendingNotFound для сущности нет неотправленного изменения
	ErrPendingNotFound = errors.New("pending change not found")

	// ErrConflictNotFound конфликта нет в локальном журнале
	ErrConflictNotFound = errors.New("conflict not found")

	// ErrStorageClosed indicates that storage is closed
	ErrStorageClosed = errors.New("storage is closed")
)
