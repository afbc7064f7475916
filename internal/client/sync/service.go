// Package sync сессия синхронизации устройства: pull, применение, push, согласование итогов.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	clientapi "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// ErrSyncInProgress на устройстве уже идёт сессия синхронизации
var ErrSyncInProgress = errors.New("sync already in progress")

//go:generate moq -out api_mock.go . API

// API запросы синхронизации к серверу
type API interface {
	Pull(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error)
	Push(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error)
	Events(ctx context.Context) (<-chan api.ChangeEvent, error)
}

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс для sync.Service
type Service interface {
	// Sync выполняет одну сессию: pull всех страниц, затем push очереди
	Sync(ctx context.Context) (*SyncResult, error)

	// Watch синхронизирует по уведомлениям сервера и по интервалу до отмены ctx
	Watch(ctx context.Context, interval time.Duration, report func(*SyncResult, error)) error

	// PendingCount возвращает количество изменений, ожидающих отправки
	PendingCount(ctx context.Context) (int, error)
}

// Config параметры сессии
type Config struct {
	PageSize        int           // размер страницы pull, 0 означает значение сервера
	PushBatch       int           // изменений в одном push
	InitialInterval time.Duration // первая пауза между попытками
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration // сколько повторять один запрос
	PushOnly        bool          // capture-устройство не забирает чужие изменения
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		PageSize:        200,
		PushBatch:       100,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
	}
}

// SyncResult contains sync operation results
type SyncResult struct {
	Pulled   int    // изменений получено
	Pushed   int    // изменений отправлено
	Accepted int    // применены как есть
	Merged   int    // применены после слияния
	Deferred int    // отложены до решения пользователя
	Rejected int    // отклонены
	Cursor   uint64 // курсор после сессии
}

// service handles synchronization between client and server
type service struct {
	api    API
	store  storage.LocalStorage
	meta   storage.MetadataStorage
	logger *slog.Logger
	now    func() time.Time
	cfg    Config
	mu     gosync.Mutex // одна сессия на устройство
}

// NewService creates a new sync service
func NewService(apiClient API, store storage.LocalStorage, meta storage.MetadataStorage, cfg Config, logger *slog.Logger) Service {
	def := DefaultConfig()
	if cfg.PushBatch <= 0 {
		cfg.PushBatch = def.PushBatch
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = def.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = def.MaxInterval
	}
	if cfg.MaxElapsedTime <= 0 {
		cfg.MaxElapsedTime = def.MaxElapsedTime
	}
	return &service{
		api:    apiClient,
		store:  store,
		meta:   meta,
		logger: logger,
		now:    time.Now,
		cfg:    cfg,
	}
}

// Sync performs full synchronization with server
// 1. Pulls server changes page by page, each page and cursor in one local transaction
// 2. Pushes pending local changes in batches
// 3. Reconciles push outcomes into the local store
func (s *service) Sync(ctx context.Context) (*SyncResult, error) {
	if !s.mu.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.mu.Unlock()

	result := &SyncResult{}
	start := s.now()

	if !s.cfg.PushOnly {
		if err := s.pull(ctx, result); err != nil {
			return result, fmt.Errorf("pull failed: %w", err)
		}
	}

	if err := s.push(ctx, result); err != nil {
		return result, fmt.Errorf("push failed: %w", err)
	}

	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return result, err
	}
	result.Cursor = cursor

	if err := s.meta.SaveLastSync(ctx, s.now()); err != nil {
		s.logger.Warn("Failed to save last sync time", "error", err)
	}

	s.logger.Info("Synchronization completed",
		"pulled", result.Pulled,
		"pushed", result.Pushed,
		"merged", result.Merged,
		"deferred", result.Deferred,
		"rejected", result.Rejected,
		"cursor", result.Cursor,
		"duration", s.now().Sub(start))

	return result, nil
}

func (s *service) PendingCount(ctx context.Context) (int, error) {
	return s.store.CountPending(ctx)
}

// pull забирает страницы, пока сервер сообщает has_more
func (s *service) pull(ctx context.Context, result *SyncResult) error {
	cursor, err := s.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cursor: %w", err)
	}

	for {
		page, err := retry(ctx, s, "pull", func() (*api.PullResponse, error) {
			return s.api.Pull(ctx, cursor, nil, s.cfg.PageSize)
		})
		if err != nil {
			return err
		}

		// курсор двигается только вместе с применённой страницей
		err = s.store.Update(ctx, func(tx storage.LocalTx) error {
			for _, ch := range page.Changes {
				if err := applyPulled(tx, ch.ToModel("")); err != nil {
					return err
				}
			}
			if page.HighestVersion > cursor {
				return tx.SetCursor(page.HighestVersion)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to apply page after %d: %w", cursor, err)
		}

		result.Pulled += len(page.Changes)
		s.logger.Debug("Applied pull page", "since", cursor, "changes", len(page.Changes), "highest", page.HighestVersion)

		if !page.HasMore || page.HighestVersion <= cursor {
			return nil
		}
		cursor = page.HighestVersion
	}
}

// push отправляет очередь батчами в порядке правок
func (s *service) push(ctx context.Context, result *SyncResult) error {
	var after uint64
	for {
		batch, err := s.store.ListPending(ctx, after, s.cfg.PushBatch)
		if err != nil {
			return fmt.Errorf("failed to list pending changes: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		start := after
		after = batch[len(batch)-1].Seq

		changes := make([]api.EntityChange, 0, len(batch))
		for _, p := range batch {
			changes = append(changes, api.FromModel(p.Change))
		}

		resp, err := retry(ctx, s, "push", func() (*api.PushResponse, error) {
			return s.api.Push(ctx, changes)
		})
		if err != nil {
			var apiErr *clientapi.Error
			if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
				return err
			}
			// невалидное изменение не пройдёт никогда, снимаем его и повторяем остаток батча
			parked, perr := s.parkViolations(ctx, batch, apiErr)
			if perr != nil {
				return errors.Join(err, perr)
			}
			if parked == 0 {
				return err
			}
			result.Rejected += parked
			after = start
			continue
		}
		if len(resp.Outcomes) != len(batch) {
			return fmt.Errorf("server returned %d outcomes for %d changes", len(resp.Outcomes), len(batch))
		}

		if err := s.reconcile(ctx, batch, resp.Outcomes); err != nil {
			return fmt.Errorf("failed to reconcile push outcomes: %w", err)
		}

		result.Pushed += len(batch)
		for _, o := range resp.Outcomes {
			switch o.Status {
			case api.StatusAccepted:
				result.Accepted++
			case api.StatusMerged:
				result.Merged++
			case api.StatusDeferred:
				result.Deferred++
				s.logger.Warn("Change deferred for review", "entity_type", o.Type, "entity_id", o.ID, "conflict_id", o.ConflictID)
			case api.StatusRejected:
				result.Rejected++
				s.logger.Warn("Change rejected", "entity_type", o.Type, "entity_id", o.ID, "reason", o.Reason)
			}
		}
	}
}

// parkViolations откатывает изменения, которые сервер отверг валидацией.
// Локальный вид возвращается к состоянию сервера, правка уходит из очереди.
// Возвращает число снятых изменений.
func (s *service) parkViolations(ctx context.Context, batch []*storage.PendingChange, apiErr *clientapi.Error) (int, error) {
	parked := 0
	err := s.store.Update(ctx, func(tx storage.LocalTx) error {
		seen := make(map[int]struct{}, len(apiErr.Violations))
		for _, v := range apiErr.Violations {
			if v.Index < 0 || v.Index >= len(batch) {
				continue
			}
			if _, ok := seen[v.Index]; ok {
				continue
			}
			seen[v.Index] = struct{}{}

			sent := batch[v.Index]
			key := sent.Change.Key()
			local, cur, err := load(tx, key)
			if err != nil {
				return err
			}
			s.logger.Warn("Change rejected by validation",
				"entity_type", key.Type, "entity_id", key.ID, "seq", sent.Seq, "reason", v.Reason)
			parked++
			if cur == nil || cur.Seq != sent.Seq {
				// отправленную правку уже заменила новая, она уйдёт следующим батчем
				continue
			}
			if err := revert(tx, key, local, cur); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to park rejected changes: %w", err)
	}
	return parked, nil
}
