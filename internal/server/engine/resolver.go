package engine

import (
	"slices"
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// Action что сделать с сущностью по итогам разрешения конфликта
type Action int

const (
	// ActionWrite записать Payload/Deleted как новую версию
	ActionWrite Action = iota
	// ActionKeep текущее состояние сервера уже совпадает с результатом
	ActionKeep
	// ActionDefer отложить до решения пользователя, сущность не меняется
	ActionDefer
)

// ResolveInput всё, что нужно резолверу. Резолвер не ходит в хранилище.
type ResolveInput struct {
	Server       *models.Entity       // текущее состояние, не nil
	ServerStamps map[string]time.Time // поле -> updated_at последней серверной записи этого поля
	Change       models.EntityChange
	ClientFields []string // поля, изменённые клиентом относительно base_version
	ServerFields []string // поля, изменённые на сервере после base_version
}

// Resolution решение резолвера
type Resolution struct {
	Payload  models.Payload
	Overlap  []string // поля, которые обе стороны изменили по-разному
	LongText []string // длинные текстовые поля среди Overlap, из-за них решение отложено
	Lost     []string // поля, где значение клиента проиграло LWW
	Action   Action
	Deleted  bool
}

// Resolver детерминированная политика разрешения конфликтов:
//  1. удаление побеждает, tombstone остаётся удалённым;
//  2. непересекающиеся поля сливаются;
//  3. пересекающиеся скалярные поля решаются LWW по updated_at, при равенстве побеждает сервер;
//  4. пересекающиеся длинные тексты не сливаются, решение откладывается до пользователя.
type Resolver struct {
	classifier FieldClassifier
}

// NewResolver создаёт резолвер. nil classifier означает, что длинных текстов нет.
func NewResolver(classifier FieldClassifier) *Resolver {
	if classifier == nil {
		classifier = LongTextClassifier{}
	}
	return &Resolver{classifier: classifier}
}

// Resolve применяет политику. Поля обрабатываются в отсортированном порядке,
// поэтому одинаковый вход всегда даёт одинаковый результат.
func (r *Resolver) Resolve(in ResolveInput) Resolution {
	srv := in.Server

	if in.Change.Op == models.OpDelete {
		if srv.Deleted() {
			return Resolution{Action: ActionKeep, Deleted: true}
		}
		return Resolution{Action: ActionWrite, Deleted: true}
	}
	if srv.Deleted() {
		return Resolution{Action: ActionKeep, Deleted: true}
	}

	clientFields := sortedUnique(in.ClientFields)
	serverSet := make(map[string]struct{}, len(in.ServerFields))
	for _, f := range in.ServerFields {
		serverSet[f] = struct{}{}
	}

	var overlap, longText []string
	for _, f := range clientFields {
		if _, ok := serverSet[f]; !ok {
			continue
		}
		cv, cok := in.Change.Payload[f]
		sv, sok := srv.Payload[f]
		if cok == sok && models.ValuesEqual(cv, sv) {
			// обе стороны пришли к одному значению
			continue
		}
		overlap = append(overlap, f)
		if r.classifier.IsLongText(srv.Type, f, cv) || r.classifier.IsLongText(srv.Type, f, sv) {
			longText = append(longText, f)
		}
	}

	if len(longText) > 0 {
		return Resolution{
			Action:   ActionDefer,
			Payload:  srv.Payload.Clone(),
			Overlap:  overlap,
			LongText: longText,
		}
	}

	merged := srv.Payload.Clone()
	if merged == nil {
		merged = models.Payload{}
	}

	var lost []string
	for _, f := range clientFields {
		if slices.Contains(overlap, f) && !in.Change.UpdatedAt.After(in.ServerStamps[f]) {
			lost = append(lost, f)
			continue
		}
		if v, ok := in.Change.Payload[f]; ok {
			merged[f] = models.CloneValue(v)
		} else {
			delete(merged, f)
		}
	}

	action := ActionWrite
	if merged.Equal(srv.Payload) {
		action = ActionKeep
	}

	return Resolution{
		Action:  action,
		Payload: merged,
		Overlap: overlap,
		Lost:    lost,
	}
}

func sortedUnique(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
