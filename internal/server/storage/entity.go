package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
)

// PullQuery filters the compacted entity stream
type PullQuery struct {
	Types        []string
	SinceVersion uint64
	Limit        int
}

// EntityReader streams the compacted entity state of one user
type EntityReader interface {
	// ScanEntities calls fn for every entity with sync_version > SinceVersion
	// in ascending version order, at most Limit rows.
	// Returning a non-nil error from fn stops the scan and returns that error.
	ScanEntities(ctx context.Context, sc scope.Scope, q PullQuery, fn func(*models.Entity) error) error

	// CurrentVersion returns the highest sync_version allocated for the user, 0 if none
	CurrentVersion(ctx context.Context, sc scope.Scope) (uint64, error)
}

// UserTx is a transaction bound to one user. The store holds the user's
// version counter row locked for the lifetime of the transaction.
type UserTx interface {
	// Scope returns the user the transaction is bound to
	Scope() scope.Scope

	// AllocateVersions reserves n consecutive versions and returns the first one
	AllocateVersions(ctx context.Context, n int) (uint64, error)

	// GetEntity returns ErrEntityNotFound if the entity never existed.
	// Tombstones are returned with DeletedAt set.
	GetEntity(ctx context.Context, key models.EntityKey) (*models.Entity, error)

	// PutEntity inserts or replaces the compacted entity row
	PutEntity(ctx context.Context, entity *models.Entity) error

	// AppendChange writes one change log row
	AppendChange(ctx context.Context, entry *models.ChangeLogEntry) error

	// ChangesSince returns change log rows of the entity with version > after, ascending
	ChangesSince(ctx context.Context, key models.EntityKey, after uint64) ([]*models.ChangeLogEntry, error)

	// ChangeAt returns the change log row written at version
	// Returns ErrChangeNotFound if there is none for this entity
	ChangeAt(ctx context.Context, key models.EntityKey, version uint64) (*models.ChangeLogEntry, error)

	// SaveConflict stores a conflict record
	SaveConflict(ctx context.Context, record *models.ConflictRecord) error

	// CountLiveEntities returns the number of non-deleted entities
	CountLiveEntities(ctx context.Context) (int, error)
}

// Store is the full server storage surface
type Store interface {
	UserStorage
	TokenStorage
	DeviceStorage
	ConflictStorage
	EntityReader

	// WithUserTx runs fn in a transaction bound to sc.
	// fn's error rolls the whole transaction back.
	WithUserTx(ctx context.Context, sc scope.Scope, fn func(ctx context.Context, tx UserTx) error) error

	// Ping checks the database connection
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}
