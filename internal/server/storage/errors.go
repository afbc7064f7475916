package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this username already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrEntityNotFound indicates that entity does not exist for the user
	ErrEntityNotFound = errors.New("entity not found")

	// ErrChangeNotFound indicates that change log has no row for the requested version
	ErrChangeNotFound = errors.New("change not found")

	// ErrDeviceNotFound indicates that device is not registered for the user
	ErrDeviceNotFound = errors.New("device not found")

	// ErrConflictNotFound indicates that conflict record does not exist
	ErrConflictNotFound = errors.New("conflict not found")
)
