package engine

import (
	"context"

	"github.com/iudanet/gophsync/internal/server/storage"
)

// Quota решает, можно ли пользователю создать ещё одну сущность.
// pending число создания, уже запланированных в этом батче.
type Quota interface {
	AllowCreate(ctx context.Context, tx storage.UserTx, pending int) (bool, error)
}

// EntityLimit ограничивает число живых сущностей пользователя. Max 0 снимает ограничение.
type EntityLimit struct {
	Max int
}

func (l EntityLimit) AllowCreate(ctx context.Context, tx storage.UserTx, pending int) (bool, error) {
	if l.Max <= 0 {
		return true, nil
	}
	n, err := tx.CountLiveEntities(ctx)
	if err != nil {
		return false, err
	}
	return n+pending < l.Max, nil
}
