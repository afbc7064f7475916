// Package data локальные изменения сущностей: правка локальной копии и очередь на push.
package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/validation"
)

// ErrNotFound сущности нет или она удалена
var ErrNotFound = errors.New("entity not found")

// Service определяет интерфейс для клиентского data сервиса
type Service interface {
	// Put создаёт или заменяет payload сущности. Пустой id создаёт новую сущность.
	Put(ctx context.Context, entityType, id string, payload models.Payload) (*models.Entity, error)
	// Delete помечает сущность удалённой
	Delete(ctx context.Context, entityType, id string) error
	Get(ctx context.Context, entityType, id string) (*models.Entity, error)
	// List возвращает сущности типа, пустой тип означает все
	List(ctx context.Context, entityType string, includeDeleted bool) ([]*models.Entity, error)
	// Pending возвращает неотправленные изменения
	Pending(ctx context.Context) ([]*storage.PendingChange, error)
}

// service handles client-side entity mutations
type service struct {
	store storage.LocalStorage
	now   func() time.Time
}

// NewService creates a new data service
func NewService(store storage.LocalStorage) Service {
	return &service{
		store: store,
		now:   time.Now,
	}
}

func (s *service) Put(ctx context.Context, entityType, id string, payload models.Payload) (*models.Entity, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateKey(entityType, id); err != nil {
		return nil, err
	}
	if payload == nil {
		payload = models.Payload{}
	}

	key := models.EntityKey{Type: entityType, ID: id}
	now := s.now().UTC()
	var result *models.Entity

	err := s.store.Update(ctx, func(tx storage.LocalTx) error {
		local, pending, err := load(tx, key)
		if err != nil {
			return err
		}

		change := models.EntityChange{
			Type:      entityType,
			ID:        id,
			Payload:   payload.Clone(),
			UpdatedAt: now,
		}

		switch {
		case local == nil:
			local = &storage.LocalEntity{}
			change.Op = models.OpCreate
		case local.Server == nil || local.Server.Deleted():
			// сервер о сущности не знает или хранит tombstone: create, поверх tombstone он воскрешает
			change.Op = models.OpCreate
		case payload.Equal(local.Server.Payload):
			// правка вернула состояние сервера, отправлять нечего
			if pending != nil {
				if err := tx.DeletePending(key); err != nil {
					return err
				}
			}
			local.Entity = *local.Server.Clone()
			result = local.Entity.Clone()
			return tx.Put(local)
		default:
			change.Op = models.OpUpdate
			change.BaseVersion = local.Server.SyncVersion
			change.ChangedFields = payload.Diff(local.Server.Payload)
		}

		local.Entity = models.Entity{
			Type:      entityType,
			ID:        id,
			Payload:   payload.Clone(),
			UpdatedAt: now,
		}
		if local.Server != nil {
			local.Entity.UserID = local.Server.UserID
			local.Entity.SyncVersion = local.Server.SyncVersion
			local.Entity.CreatedVersion = local.Server.CreatedVersion
		}

		if err := tx.Put(local); err != nil {
			return err
		}
		if err := tx.PutPending(&storage.PendingChange{Change: change}); err != nil {
			return err
		}
		result = local.Entity.Clone()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return result, nil
}

func (s *service) Delete(ctx context.Context, entityType, id string) error {
	if err := validateKey(entityType, id); err != nil {
		return err
	}

	key := models.EntityKey{Type: entityType, ID: id}
	now := s.now().UTC()

	err := s.store.Update(ctx, func(tx storage.LocalTx) error {
		local, pending, err := load(tx, key)
		if err != nil {
			return err
		}
		if local == nil || local.Entity.Deleted() {
			return ErrNotFound
		}

		// Сервер не знает о живой сущности: отменяем локальную правку целиком
		if local.Server == nil || local.Server.Deleted() {
			if pending != nil {
				if err := tx.DeletePending(key); err != nil {
					return err
				}
			}
			if local.Server == nil {
				return tx.Delete(key)
			}
			local.Entity = *local.Server.Clone()
			return tx.Put(local)
		}

		local.Entity.Payload = nil
		local.Entity.UpdatedAt = now
		local.Entity.DeletedAt = &now
		if err := tx.Put(local); err != nil {
			return err
		}
		return tx.PutPending(&storage.PendingChange{Change: models.EntityChange{
			Type:        entityType,
			ID:          id,
			Op:          models.OpDelete,
			BaseVersion: local.Server.SyncVersion,
			UpdatedAt:   now,
		}})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, entityType, id string) (*models.Entity, error) {
	local, err := s.store.GetEntity(ctx, models.EntityKey{Type: entityType, ID: id})
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if local.Entity.Deleted() {
		return nil, ErrNotFound
	}
	return local.Entity.Clone(), nil
}

func (s *service) List(ctx context.Context, entityType string, includeDeleted bool) ([]*models.Entity, error) {
	locals, err := s.store.ListEntities(ctx, entityType)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Entity, 0, len(locals))
	for _, l := range locals {
		if l.Entity.Deleted() && !includeDeleted {
			continue
		}
		out = append(out, l.Entity.Clone())
	}
	return out, nil
}

func (s *service) Pending(ctx context.Context) ([]*storage.PendingChange, error) {
	return s.store.ListPending(ctx, 0, 0)
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

func validateKey(entityType, id string) error {
	if !validation.EntityTypePattern.MatchString(entityType) {
		return fmt.Errorf("invalid entity type %q", entityType)
	}
	if err := validation.ValidateEntityID(id); err != nil {
		return err
	}
	return nil
}
