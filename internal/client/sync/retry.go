package sync

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"

	clientapi "github.com/iudanet/gophsync/internal/client/api"
)

// newBackOff экспоненциальная пауза с jitter по параметрам сессии
func (s *service) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval
	return b
}

// retry повторяет запрос, пока ошибка временная.
// Pull без побочных эффектов, а push батча без ответа безопасно повторить целиком.
func retry[T any](ctx context.Context, s *service, op string, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err != nil {
			return v, classify(err)
		}
		return v, nil
	},
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("Request failed, retrying", "op", op, "error", err, "retry_in", next)
		}),
	)
}

// classify решает, имеет ли смысл повтор.
// 4xx кроме 408 и 429 повторять бесполезно, 503 несёт Retry-After.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	var apiErr *clientapi.Error
	if !errors.As(err, &apiErr) {
		// транспортная ошибка http.Client приходит как *url.Error
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return err
		}
		return backoff.Permanent(err)
	}

	switch {
	case apiErr.StatusCode == http.StatusServiceUnavailable || apiErr.StatusCode == http.StatusTooManyRequests:
		if apiErr.RetryAfter > 0 {
			return errors.Join(err, backoff.RetryAfter(int(apiErr.RetryAfter/time.Second)))
		}
		return err
	case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode >= 500:
		return err
	default:
		return backoff.Permanent(err)
	}
}
