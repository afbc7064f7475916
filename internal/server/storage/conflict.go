package storage

import (
	"context"
	"time"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
)

// ConflictStorage reads and maintains stored conflict records.
// Records are written inside UserTx together with the push that produced them.
type ConflictStorage interface {
	// ListConflicts returns conflict records of the user, newest first.
	// Empty resolution means all records.
	ListConflicts(ctx context.Context, sc scope.Scope, resolution models.Resolution) ([]*models.ConflictRecord, error)

	// DeleteConflict removes one record
	// Returns ErrConflictNotFound if it does not exist for the user
	DeleteConflict(ctx context.Context, sc scope.Scope, id string) error

	// DeleteConflictsBefore removes records created before the given time
	DeleteConflictsBefore(ctx context.Context, sc scope.Scope, before time.Time) (int, error)
}
