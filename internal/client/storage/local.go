package storage

import (
	"context"

	"github.com/iudanet/gophsync/internal/models"
)

//go:generate moq -out local_mock.go . LocalStorage

// LocalEntity локальная копия сущности.
// Entity то, что видит пользователь, Server последнее состояние, подтверждённое сервером.
type LocalEntity struct {
	Server *models.Entity `json:"server,omitempty"` // nil, если сервер о сущности ещё не знает
	Entity models.Entity  `json:"entity"`
}

// Key возвращает ключ сущности
func (l *LocalEntity) Key() models.EntityKey {
	return l.Entity.Key()
}

// PendingChange неотправленное изменение сущности.
// На сущность приходится не больше одного, последующие правки сливаются в него.
type PendingChange struct {
	LastError string              `json:"last_error,omitempty"`
	Change    models.EntityChange `json:"change"`
	Seq       uint64              `json:"seq"` // порядок правки, 0 при сохранении означает выдать новый
	Attempts  int                 `json:"attempts"`
}

// LocalTx операции внутри одной транзакции локального хранилища
type LocalTx interface {
	// Get возвращает сущность или ErrEntityNotFound
	Get(key models.EntityKey) (*LocalEntity, error)
	Put(local *LocalEntity) error
	Delete(key models.EntityKey) error

	// Pending возвращает изменение сущности или ErrPendingNotFound
	Pending(key models.EntityKey) (*PendingChange, error)
	// PutPending сохраняет изменение, при Seq == 0 выдаёт новый номер
	PutPending(p *PendingChange) error
	DeletePending(key models.EntityKey) error

	SaveConflict(c *models.ConflictRecord) error

	Cursor() (uint64, error)
	SetCursor(v uint64) error
}

// LocalStorage локальная копия данных пользователя и очередь изменений
type LocalStorage interface {
	// Update выполняет fn в транзакции записи, ошибка fn откатывает всё
	Update(ctx context.Context, fn func(tx LocalTx) error) error

	GetEntity(ctx context.Context, key models.EntityKey) (*LocalEntity, error)
	// ListEntities возвращает сущности типа, пустой тип означает все
	ListEntities(ctx context.Context, entityType string) ([]*LocalEntity, error)

	// ListPending возвращает изменения с Seq > afterSeq в порядке Seq
	ListPending(ctx context.Context, afterSeq uint64, limit int) ([]*PendingChange, error)
	CountPending(ctx context.Context) (int, error)

	Cursor(ctx context.Context) (uint64, error)

	ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error)
	DeleteConflict(ctx context.Context, id string) error
}
