package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

// applyPulled применяет одно изменение с сервера.
// Состояние сервера обновляется всегда, локальный вид только если нет неотправленной правки.
func applyPulled(tx storage.LocalTx, ch models.EntityChange) error {
	key := ch.Key()
	local, pending, err := load(tx, key)
	if err != nil {
		return err
	}
	if local != nil && local.Server != nil && local.Server.SyncVersion >= ch.SyncVersion {
		// повтор уже применённой страницы или эхо собственного push
		return nil
	}

	server := entityFromChange(ch)
	if local == nil {
		local = &storage.LocalEntity{}
	} else if local.Server != nil && ch.Op != models.OpCreate {
		server.CreatedVersion = local.Server.CreatedVersion
	}
	local.Server = server

	if pending == nil {
		local.Entity = *server.Clone()
	} else {
		local.Entity.SyncVersion = server.SyncVersion
	}
	return tx.Put(local)
}

func entityFromChange(ch models.EntityChange) *models.Entity {
	e := &models.Entity{
		UserID:      ch.UserID,
		Type:        ch.Type,
		ID:          ch.ID,
		Payload:     ch.Payload.Clone(),
		UpdatedAt:   ch.UpdatedAt,
		SyncVersion: ch.SyncVersion,
	}
	if ch.Op == models.OpCreate {
		e.CreatedVersion = ch.SyncVersion
	}
	if ch.Op == models.OpDelete {
		deletedAt := ch.UpdatedAt
		if ch.DeletedAt != nil {
			deletedAt = *ch.DeletedAt
		}
		e.DeletedAt = &deletedAt
		e.Payload = nil
	}
	return e
}

// reconcile переносит итоги push в локальное хранилище одной транзакцией
func (s *service) reconcile(ctx context.Context, sent []*storage.PendingChange, outcomes []api.PushOutcome) error {
	now := s.now().UTC()
	return s.store.Update(ctx, func(tx storage.LocalTx) error {
		for i, out := range outcomes {
			if err := reconcileOne(tx, sent[i], out, now); err != nil {
				return fmt.Errorf("%s: %w", sent[i].Change.Key(), err)
			}
		}
		return nil
	})
}

func reconcileOne(tx storage.LocalTx, sent *storage.PendingChange, out api.PushOutcome, now time.Time) error {
	key := sent.Change.Key()
	local, cur, err := load(tx, key)
	if err != nil {
		return err
	}
	// пока батч был в пути, сущность правили ещё раз
	edited := cur != nil && cur.Seq != sent.Seq

	switch out.Status {
	case api.StatusAccepted, api.StatusMerged:
		return acknowledge(tx, local, cur, edited, acknowledged(local, sent.Change, out, now), now)

	case api.StatusDeferred:
		conflict := &models.ConflictRecord{
			ID:           out.ConflictID,
			UserID:       sent.Change.UserID,
			Type:         sent.Change.Type,
			EntityID:     sent.Change.ID,
			Resolution:   models.ResolutionDeferredToUser,
			Fields:       sent.Change.ChangedFields,
			ClientChange: sent.Change,
			CreatedAt:    now,
		}
		if local != nil {
			conflict.ServerState = local.Server.Clone()
		}
		if conflict.ID != "" {
			if err := tx.SaveConflict(conflict); err != nil {
				return err
			}
		}
		if edited {
			return nil
		}
		return revert(tx, key, local, cur)

	case api.StatusRejected:
		if out.Reason == api.ReasonQuotaExceeded || edited {
			// остаётся в очереди до следующей сессии
			if cur == nil {
				return nil
			}
			cur.Attempts++
			cur.LastError = out.Reason
			return tx.PutPending(cur)
		}
		return revert(tx, key, local, cur)

	default:
		return fmt.Errorf("unknown push status %q", out.Status)
	}
}

// acknowledged строит состояние сервера после принятого изменения
func acknowledged(local *storage.LocalEntity, ch models.EntityChange, out api.PushOutcome, now time.Time) *models.Entity {
	e := &models.Entity{
		UserID:      ch.UserID,
		Type:        ch.Type,
		ID:          ch.ID,
		UpdatedAt:   ch.UpdatedAt,
		SyncVersion: out.NewVersion,
	}
	if local != nil && local.Server != nil {
		e.UserID = local.Server.UserID
		e.CreatedVersion = local.Server.CreatedVersion
	}
	if ch.Op == models.OpCreate {
		e.CreatedVersion = out.NewVersion
	}

	switch {
	case out.Status == api.StatusMerged:
		e.Payload = models.Payload(out.Payload).Clone()
		if out.Deleted {
			e.DeletedAt = &now
			e.Payload = nil
		}
	case ch.Op == models.OpDelete:
		deletedAt := ch.UpdatedAt
		e.DeletedAt = &deletedAt
	default:
		e.Payload = ch.Payload.Clone()
	}
	return e
}

// acknowledge фиксирует подтверждённое состояние.
// Более новая правка перебазируется на новую версию и остаётся в очереди.
func acknowledge(tx storage.LocalTx, local *storage.LocalEntity, cur *storage.PendingChange, edited bool, server *models.Entity, now time.Time) error {
	key := server.Key()

	if local == nil {
		// неподтверждённую сущность удалили локально, пока create был в пути
		if server.Deleted() {
			return nil
		}
		local = &storage.LocalEntity{Server: server, Entity: *server.Clone()}
		local.Entity.Payload = nil
		local.Entity.UpdatedAt = now
		local.Entity.DeletedAt = &now
		if err := tx.Put(local); err != nil {
			return err
		}
		return tx.PutPending(&storage.PendingChange{Change: models.EntityChange{
			Type:        server.Type,
			ID:          server.ID,
			Op:          models.OpDelete,
			BaseVersion: server.SyncVersion,
			UpdatedAt:   now,
		}})
	}

	local.Server = server
	if !edited {
		if cur != nil {
			if err := tx.DeletePending(key); err != nil {
				return err
			}
		}
		local.Entity = *server.Clone()
		return tx.Put(local)
	}

	switch {
	case server.Deleted() && cur.Change.Op == models.OpDelete:
		if err := tx.DeletePending(key); err != nil {
			return err
		}
		local.Entity = *server.Clone()
		return tx.Put(local)
	case server.Deleted():
		// сервер удалил сущность, новая правка воскрешает её
		cur.Change.Op = models.OpCreate
		cur.Change.BaseVersion = 0
		cur.Change.ChangedFields = nil
	case cur.Change.Op == models.OpCreate:
		cur.Change.Op = models.OpUpdate
		cur.Change.BaseVersion = server.SyncVersion
		cur.Change.ChangedFields = cur.Change.Payload.Diff(server.Payload)
	case cur.Change.Op == models.OpUpdate:
		cur.Change.BaseVersion = server.SyncVersion
		cur.Change.ChangedFields = cur.Change.Payload.Diff(server.Payload)
	default:
		cur.Change.BaseVersion = server.SyncVersion
	}

	local.Entity.SyncVersion = server.SyncVersion
	if err := tx.Put(local); err != nil {
		return err
	}
	return tx.PutPending(cur)
}

// revert возвращает локальный вид к состоянию сервера и снимает правку с очереди
func revert(tx storage.LocalTx, key models.EntityKey, local *storage.LocalEntity, cur *storage.PendingChange) error {
	if cur != nil {
		if err := tx.DeletePending(key); err != nil {
			return err
		}
	}
	if local == nil {
		return nil
	}
	if local.Server == nil {
		return tx.Delete(key)
	}
	local.Entity = *local.Server.Clone()
	return tx.Put(local)
}

// load читает сущность и её неотправленное изменение, отсутствие не ошибка
func load(tx storage.LocalTx, key models.EntityKey) (*storage.LocalEntity, *storage.PendingChange, error) {
	local, err := tx.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrEntityNotFound) {
			return nil, nil, err
		}
		local = nil
	}
	pending, err := tx.Pending(key)
	if err != nil {
		if !errors.Is(err, storage.ErrPendingNotFound) {
			return nil, nil, err
		}
		pending = nil
	}
	return local, pending, nil
}
