package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/internal/server/observability"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/internal/validation"
)

// plannedChange состояние одного изменения между проверкой конфликтов и записью
type plannedChange struct {
	change    *models.EntityChange
	current   *models.Entity
	next      *models.Entity // nil если запись не нужна
	conflicts []*models.ConflictRecord
	changed   []string
	outcome   Outcome
}

func (p *plannedChange) write(next *models.Entity, changed []string, status Status) {
	p.next = next
	p.changed = changed
	p.outcome.Status = status
	p.outcome.Deleted = next.Deleted()
}

func (p *plannedChange) keep(status Status) {
	p.outcome.Status = status
	p.outcome.NewVersion = p.current.SyncVersion
	p.outcome.Deleted = p.current.Deleted()
	if status == StatusMerged && !p.current.Deleted() {
		p.outcome.Payload = p.current.Payload.Clone()
	}
}

func (p *plannedChange) reject(reason RejectReason) {
	p.outcome.Status = StatusRejected
	p.outcome.Reason = reason
}

// Push применяет батч изменений атомарно.
//
// Нарушение scope или правил формы отклоняет весь батч до обращения к данным.
// Остальное выполняется в одной транзакции пользователя: загрузка текущего состояния,
// проверка конфликтов, выделение непрерывного диапазона версий и запись.
// Любая ошибка хранилища откатывает всё, и батч можно повторить.
func (e *Engine) Push(ctx context.Context, sc scope.Scope, changes []models.EntityChange) (*PushResult, error) {
	if !sc.Valid() {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, scope.ErrUnscoped)
	}

	start := e.now()
	ctx, span := observability.StartSpan(ctx, "engine.Push",
		attribute.String("user_id", sc.UserID()),
		attribute.Int("changes", len(changes)))
	defer span.End()

	// received -> validated
	for i := range changes {
		if err := sc.Check(changes[i].UserID); err != nil {
			e.logger.Warn("push rejected: scope violation",
				slog.String("user_id", sc.UserID()),
				slog.String("device_id", sc.DeviceID()),
				slog.Int("index", i),
				slog.String("entity", changes[i].Key().String()))
			e.metrics.RecordFailure(ctx, "push", "scope")
			return nil, fmt.Errorf("%w: change #%d", ErrScopeViolation, i)
		}
	}
	if violations := validation.ValidateBatch(changes, e.cfg.PushMaxBatch); len(violations) > 0 {
		e.metrics.RecordFailure(ctx, "push", "validation")
		return nil, &ValidationError{Violations: violations}
	}

	if e.cfg.PushTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PushTimeout)
		defer cancel()
	}

	unlock, err := e.locks.Lock(ctx, sc.UserID())
	if err != nil {
		return nil, storageError(err)
	}
	defer unlock()

	var result *PushResult
	err = e.store.WithUserTx(ctx, sc, func(ctx context.Context, tx storage.UserTx) error {
		var err error
		result, err = e.applyBatch(ctx, tx, sc, changes)
		return err
	})
	if err != nil {
		observability.RecordError(span, err)
		var verr *ValidationError
		switch {
		case errors.As(err, &verr):
			e.metrics.RecordFailure(ctx, "push", "validation")
			return nil, verr
		case errors.Is(err, scope.ErrScopeViolation):
			e.metrics.RecordFailure(ctx, "push", "scope")
			return nil, err
		default:
			e.metrics.RecordFailure(ctx, "push", "storage")
			e.logger.Error("push failed",
				slog.String("user_id", sc.UserID()),
				slog.Int("changes", len(changes)),
				slog.Any("error", err))
			return nil, storageError(err)
		}
	}

	// уведомление после коммита, доставка не гарантируется
	if result.HighestVersion > 0 && e.publisher != nil {
		e.publisher.Publish(notify.Event{UserID: sc.UserID(), DeviceID: sc.DeviceID(), Version: result.HighestVersion})
	}

	counts := make(map[string]int, 4)
	for _, o := range result.Outcomes {
		counts[string(o.Status)]++
	}
	e.metrics.RecordPush(ctx, e.now().Sub(start), counts)

	e.logger.Info("push applied",
		slog.String("user_id", sc.UserID()),
		slog.String("device_id", sc.DeviceID()),
		slog.Int("changes", len(changes)),
		slog.Int("accepted", counts[string(StatusAccepted)]),
		slog.Int("merged", counts[string(StatusMerged)]),
		slog.Int("deferred", counts[string(StatusDeferred)]),
		slog.Int("rejected", counts[string(StatusRejected)]),
		slog.Uint64("highest_version", result.HighestVersion))

	return result, nil
}

// applyBatch выполняется внутри транзакции пользователя
func (e *Engine) applyBatch(ctx context.Context, tx storage.UserTx, sc scope.Scope, changes []models.EntityChange) (*PushResult, error) {
	plans := make([]*plannedChange, len(changes))
	var violations []validation.Violation
	creates := 0

	// validated -> conflict-checked
	for i := range changes {
		p, violation, err := e.plan(ctx, tx, &changes[i], creates)
		if err != nil {
			return nil, err
		}
		if violation != nil {
			violation.Index = i
			violations = append(violations, *violation)
			continue
		}
		if p.next != nil && p.next.CreatedVersion == 0 {
			creates++
		}
		plans[i] = p
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	writes := 0
	for _, p := range plans {
		if p.next != nil {
			writes++
		}
	}

	result := &PushResult{Outcomes: make([]Outcome, 0, len(plans))}

	// conflict-checked -> applied
	var version uint64
	if writes > 0 {
		first, err := tx.AllocateVersions(ctx, writes)
		if err != nil {
			return nil, err
		}
		version = first
	}

	now := e.now()
	for _, p := range plans {
		if p.next != nil {
			p.next.SyncVersion = version
			if p.next.CreatedVersion == 0 {
				p.next.CreatedVersion = version
			}
			version++

			if err := tx.PutEntity(ctx, p.next); err != nil {
				return nil, err
			}
			if err := tx.AppendChange(ctx, &models.ChangeLogEntry{
				UserID:        sc.UserID(),
				Type:          p.next.Type,
				ID:            p.next.ID,
				Op:            changeOp(p),
				Payload:       p.next.Payload,
				ChangedFields: p.changed,
				UpdatedAt:     p.next.UpdatedAt,
				DeviceID:      sc.DeviceID(),
				SyncVersion:   p.next.SyncVersion,
			}); err != nil {
				return nil, err
			}

			p.outcome.NewVersion = p.next.SyncVersion
			if p.outcome.Status == StatusMerged {
				p.outcome.Payload = p.next.Payload.Clone()
			}
			result.HighestVersion = p.next.SyncVersion
		}

		for _, rec := range p.conflicts {
			rec.CreatedAt = now
			if err := tx.SaveConflict(ctx, rec); err != nil {
				return nil, err
			}
		}

		result.Outcomes = append(result.Outcomes, p.outcome)
	}

	return result, nil
}

// plan решает судьбу одного изменения, ничего не записывая.
// pendingCreates число создания, уже запланированных в батче, для квоты.
func (e *Engine) plan(ctx context.Context, tx storage.UserTx, ch *models.EntityChange, pendingCreates int) (*plannedChange, *validation.Violation, error) {
	p := &plannedChange{change: ch, outcome: Outcome{Key: ch.Key()}}

	cur, err := tx.GetEntity(ctx, ch.Key())
	switch {
	case errors.Is(err, storage.ErrEntityNotFound):
		cur = nil
	case err != nil:
		return nil, nil, err
	}
	p.current = cur

	switch {
	case cur == nil:
		if ch.Op != models.OpCreate {
			p.reject(ReasonNotFound)
			return p, nil, nil
		}
		return e.planCreate(ctx, tx, p, pendingCreates)

	case ch.BaseVersion > cur.SyncVersion:
		return nil, &validation.Violation{
			EntityType: ch.Type,
			EntityID:   ch.ID,
			Reason:     fmt.Sprintf("base_version %d is ahead of server version %d", ch.BaseVersion, cur.SyncVersion),
		}, nil

	case ch.Op == models.OpCreate && cur.Deleted():
		// явный create воскрешает удалённый id
		return e.planCreate(ctx, tx, p, pendingCreates)

	case ch.Op == models.OpCreate:
		// create поверх живой сущности: конфликт с пустой базой
		return e.planConflict(ctx, tx, p)

	case cur.Deleted():
		// tombstone не возвращается через update; повтор delete идемпотентен
		if ch.Op == models.OpDelete {
			p.keep(StatusAccepted)
		} else {
			p.keep(StatusMerged)
		}
		return p, nil, nil

	case ch.BaseVersion == cur.SyncVersion:
		e.planDirect(p)
		return p, nil, nil

	default:
		return e.planConflict(ctx, tx, p)
	}
}

func (e *Engine) planCreate(ctx context.Context, tx storage.UserTx, p *plannedChange, pendingCreates int) (*plannedChange, *validation.Violation, error) {
	ok, err := e.quota.AllowCreate(ctx, tx, pendingCreates)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		p.reject(ReasonQuotaExceeded)
		return p, nil, nil
	}

	ch := p.change
	next := &models.Entity{
		UserID:    ch.UserID,
		Type:      ch.Type,
		ID:        ch.ID,
		Payload:   ch.Payload.Clone(),
		UpdatedAt: ch.UpdatedAt,
	}
	p.write(next, ch.Payload.Keys(), StatusAccepted)
	return p, nil, nil
}

// planDirect base_version совпадает с текущей версией, конфликта нет
func (e *Engine) planDirect(p *plannedChange) {
	ch, cur := p.change, p.current

	if ch.Op == models.OpDelete {
		p.write(tombstone(cur, ch.UpdatedAt), nil, StatusAccepted)
		return
	}

	payload := applyClientFields(cur.Payload, ch)
	changed := payload.Diff(cur.Payload)
	if len(changed) == 0 {
		p.keep(StatusAccepted)
		return
	}

	next := cur.Clone()
	next.Payload = payload
	next.UpdatedAt = ch.UpdatedAt
	p.write(next, changed, StatusAccepted)
}

// planConflict base_version отстаёт от текущей версии
func (e *Engine) planConflict(ctx context.Context, tx storage.UserTx, p *plannedChange) (*plannedChange, *validation.Violation, error) {
	ch, cur := p.change, p.current

	clientFields, err := clientChangedFields(ctx, tx, ch)
	if err != nil {
		return nil, nil, err
	}
	serverFields, stamps, err := serverChangedFields(ctx, tx, ch.Key(), ch.BaseVersion)
	if err != nil {
		return nil, nil, err
	}

	res := e.resolver.Resolve(ResolveInput{
		Change:       *ch,
		Server:       cur,
		ClientFields: clientFields,
		ServerFields: serverFields,
		ServerStamps: stamps,
	})

	switch res.Action {
	case ActionDefer:
		rec := e.conflictRecord(ch, cur, models.ResolutionDeferredToUser, res.Overlap)
		p.conflicts = append(p.conflicts, rec)
		p.outcome.Status = StatusDeferred
		p.outcome.ConflictID = rec.ID
		e.logger.Info("conflict deferred to user",
			slog.String("user_id", ch.UserID),
			slog.String("entity", ch.Key().String()),
			slog.Any("fields", res.LongText))
		return p, nil, nil

	case ActionKeep:
		if res.Deleted && ch.Op == models.OpDelete {
			p.keep(StatusAccepted)
		} else {
			p.keep(StatusMerged)
		}

	case ActionWrite:
		if res.Deleted {
			p.write(tombstone(cur, ch.UpdatedAt), nil, StatusAccepted)
			break
		}
		next := cur.Clone()
		next.Payload = res.Payload
		if ch.UpdatedAt.After(next.UpdatedAt) {
			next.UpdatedAt = ch.UpdatedAt
		}
		p.write(next, res.Payload.Diff(cur.Payload), StatusMerged)
	}

	if len(res.Lost) > 0 {
		p.conflicts = append(p.conflicts, e.conflictRecord(ch, cur, models.ResolutionAutoMerged, res.Lost))
	}

	return p, nil, nil
}

func (e *Engine) conflictRecord(ch *models.EntityChange, cur *models.Entity, resolution models.Resolution, fields []string) *models.ConflictRecord {
	return &models.ConflictRecord{
		ID:           uuid.NewString(),
		UserID:       ch.UserID,
		Type:         ch.Type,
		EntityID:     ch.ID,
		Resolution:   resolution,
		Fields:       fields,
		ClientChange: *ch,
		ServerState:  cur.Clone(),
	}
}

// clientChangedFields поля, которые клиент изменил относительно base_version.
// Явный changed_fields имеет приоритет, иначе payload сравнивается со снимком базы.
// Если снимка нет, изменёнными считаются все поля payload.
func clientChangedFields(ctx context.Context, tx storage.UserTx, ch *models.EntityChange) ([]string, error) {
	if ch.ChangedFields != nil {
		return sortedUnique(ch.ChangedFields), nil
	}
	if ch.BaseVersion == 0 {
		return ch.Payload.Keys(), nil
	}

	base, err := tx.ChangeAt(ctx, ch.Key(), ch.BaseVersion)
	if err != nil {
		if errors.Is(err, storage.ErrChangeNotFound) {
			return ch.Payload.Keys(), nil
		}
		return nil, err
	}
	return ch.Payload.Diff(base.Payload), nil
}

// serverChangedFields объединение полей, изменённых на сервере после base,
// и время последней записи каждого поля
func serverChangedFields(ctx context.Context, tx storage.UserTx, key models.EntityKey, base uint64) ([]string, map[string]time.Time, error) {
	entries, err := tx.ChangesSince(ctx, key, base)
	if err != nil {
		return nil, nil, err
	}

	stamps := make(map[string]time.Time)
	for _, entry := range entries {
		for _, f := range entry.ChangedFields {
			if entry.UpdatedAt.After(stamps[f]) {
				stamps[f] = entry.UpdatedAt
			}
		}
	}

	fields := make([]string, 0, len(stamps))
	for f := range stamps {
		fields = append(fields, f)
	}
	return sortedUnique(fields), stamps, nil
}

// applyClientFields строит новый payload для прямого применения.
// С changed_fields меняются только перечисленные поля, без него payload заменяется целиком.
func applyClientFields(current models.Payload, ch *models.EntityChange) models.Payload {
	if ch.ChangedFields == nil {
		return ch.Payload.Clone()
	}

	out := current.Clone()
	if out == nil {
		out = models.Payload{}
	}
	for _, f := range ch.ChangedFields {
		if v, ok := ch.Payload[f]; ok {
			out[f] = models.CloneValue(v)
		} else {
			delete(out, f)
		}
	}
	return out
}

func tombstone(cur *models.Entity, at time.Time) *models.Entity {
	next := cur.Clone()
	next.Payload = models.Payload{}
	next.UpdatedAt = at
	next.DeletedAt = &at
	return next
}

func changeOp(p *plannedChange) models.Op {
	switch {
	case p.next.Deleted():
		return models.OpDelete
	case p.current == nil || p.current.Deleted():
		return models.OpCreate
	default:
		return models.OpUpdate
	}
}
