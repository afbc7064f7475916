package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/observability"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/validation"
)

var errPageFull = errors.New("page full")

// Pull возвращает страницу изменений пользователя с версией больше SinceVersion
// в порядке возрастания версии. Повторный pull с тем же SinceVersion безопасен.
// Если истёк серверный дедлайн, возвращается уже собранная часть с HasMore=true.
func (e *Engine) Pull(ctx context.Context, sc scope.Scope, req PullRequest) (*PullResult, error) {
	if !sc.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, scope.ErrUnscoped)
	}

	ctx, span := observability.StartSpan(ctx, "engine.Pull",
		attribute.String("user_id", sc.UserID()),
		attribute.Int64("since_version", int64(req.SinceVersion)))
	defer span.End()

	var violations []validation.Violation
	for i, t := range req.Types {
		if !validation.EntityTypePattern.MatchString(t) {
			violations = append(violations, validation.Violation{Index: i, EntityType: t, Reason: "invalid entity type filter"})
		}
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	size := e.pageSize(req.PageSize)
	scanCtx := ctx
	if e.cfg.PullTimeout > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, e.cfg.PullTimeout)
		defer cancel()
	}

	result := &PullResult{HighestVersion: req.SinceVersion}
	q := storage.PullQuery{SinceVersion: req.SinceVersion, Types: req.Types, Limit: size + 1}

	err := e.store.ScanEntities(scanCtx, sc, q, func(ent *models.Entity) error {
		if len(result.Changes) == size {
			result.HasMore = true
			return errPageFull
		}
		if err := scanCtx.Err(); err != nil {
			return err
		}
		result.Changes = append(result.Changes, models.ChangeFromEntity(ent))
		result.HighestVersion = ent.SyncVersion
		return nil
	})

	switch {
	case err == nil, errors.Is(err, errPageFull):
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// серверный дедлайн: отдаём частичную страницу, клиент продолжит с HighestVersion
		result.HasMore = true
		e.logger.Warn("pull deadline exceeded, returning partial page",
			slog.String("user_id", sc.UserID()),
			slog.Int("changes", len(result.Changes)))
	default:
		observability.RecordError(span, err)
		e.metrics.RecordFailure(ctx, "pull", "storage")
		return nil, storageError(err)
	}

	// since_version это то, что клиент уже надёжно применил
	if e.registry != nil {
		e.registry.RecordPull(ctx, sc, req.SinceVersion)
	}

	e.metrics.RecordPull(ctx, len(result.Changes), result.HasMore)
	span.SetAttributes(
		attribute.Int("changes", len(result.Changes)),
		attribute.Bool("has_more", result.HasMore))

	e.logger.Debug("pull served",
		slog.String("user_id", sc.UserID()),
		slog.String("device_id", sc.DeviceID()),
		slog.Uint64("since", req.SinceVersion),
		slog.Uint64("highest", result.HighestVersion),
		slog.Int("changes", len(result.Changes)),
		slog.Bool("has_more", result.HasMore))

	return result, nil
}
