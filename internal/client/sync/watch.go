package sync

import (
	"context"
	"errors"
	"time"

	"github.com/iudanet/gophsync/pkg/api"
)

// Watch синхронизирует сразу, затем по каждому уведомлению сервера и по интервалу.
// Уведомления best-effort: при разрыве WebSocket интервал остаётся страховкой,
// а подписка восстанавливается с backoff.
func (s *service) Watch(ctx context.Context, interval time.Duration, report func(*SyncResult, error)) error {
	if interval <= 0 {
		interval = time.Minute
	}

	trigger := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.listen(ctx, trigger)
	}()
	defer func() { <-done }()

	run := func() {
		res, err := s.Sync(ctx)
		if errors.Is(err, ErrSyncInProgress) || ctx.Err() != nil {
			return
		}
		if report != nil {
			report(res, err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		case <-trigger:
			run()
		}
	}
}

// listen держит подписку на события и будит цикл Watch
func (s *service) listen(ctx context.Context, trigger chan<- struct{}) {
	b := s.newBackOff()
	for {
		events, err := s.api.Events(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := b.NextBackOff()
			s.logger.Warn("Event stream unavailable", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}

		b.Reset()
		s.logger.Debug("Subscribed to change events")
		if !s.forward(ctx, events, trigger) {
			return
		}
		s.logger.Info("Event stream closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.InitialInterval):
		}
	}
}

// forward передаёт события в trigger, пока поток открыт.
// Возвращает false, если отменён ctx.
func (s *service) forward(ctx context.Context, events <-chan api.ChangeEvent, trigger chan<- struct{}) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return ctx.Err() == nil
			}
			s.logger.Debug("Change event", "device_id", ev.DeviceID, "version", ev.Version)
			select {
			case trigger <- struct{}{}:
			default:
				// синхронизация уже запрошена
			}
		}
	}
}
