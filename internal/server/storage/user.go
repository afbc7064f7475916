package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
)

// UserStorage defines interface for user account persistence.
// Accounts are looked up before a scope exists, so these methods take plain ids.
type UserStorage interface {
	// CreateUser creates a new user in the storage
	// Returns ErrUserAlreadyExists if username is taken
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByUsername retrieves user by username
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// GetUserByID retrieves user by ID
	// Returns ErrUserNotFound if user doesn't exist
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// ListUserIDs returns ids of all users, used by maintenance jobs
	// to open a scope per user
	ListUserIDs(ctx context.Context) ([]string, error)
}
