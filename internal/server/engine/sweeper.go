package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

// SweeperStorage операции хранилища, нужные для периодической очистки
type SweeperStorage interface {
	ListUserIDs(ctx context.Context) ([]string, error)
	DeleteConflictsBefore(ctx context.Context, sc scope.Scope, before time.Time) (int, error)
	DeleteExpiredTokens(ctx context.Context) (int, error)
}

var _ SweeperStorage = (storage.Store)(nil)

// sweeperDevice служебный device id, под которым работает очистка
const sweeperDevice = "server-sweeper"

// Sweeper удаляет просроченные записи конфликтов и refresh токены.
// Конфликты удаляются по одному пользователю за раз, каждый в своём scope.
type Sweeper struct {
	store    SweeperStorage
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
	interval time.Duration
}

// NewSweeper создаёт Sweeper. ttl 0 означает, что конфликты не истекают.
func NewSweeper(store SweeperStorage, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		logger:   logger,
		now:      time.Now,
		ttl:      ttl,
		interval: interval,
	}
}

// Run выполняет очистку каждые interval до отмены ctx
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// SweepOnce один проход очистки. Ошибка по одному пользователю не останавливает остальных.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	tokens, err := s.store.DeleteExpiredTokens(ctx)
	if err != nil {
		return err
	}
	if tokens > 0 {
		s.logger.Info("expired refresh tokens removed", slog.Int("count", tokens))
	}

	if s.ttl <= 0 {
		return nil
	}

	users, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return err
	}

	before := s.now().Add(-s.ttl)
	total := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sc, err := scope.New(userID, sweeperDevice)
		if err != nil {
			continue
		}
		n, err := s.store.DeleteConflictsBefore(ctx, sc, before)
		if err != nil {
			s.logger.Warn("failed to expire conflicts",
				slog.String("user_id", userID),
				slog.Any("error", err))
			continue
		}
		total += n
	}

	if total > 0 {
		s.logger.Info("expired conflict records removed", slog.Int("count", total))
	}
	return nil
}
