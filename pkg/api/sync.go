package api

import (
	"time"

	"github.com/iudanet/gophsync/internal/models"
)

// Статусы PushOutcome
const (
	StatusAccepted = "accepted"
	StatusMerged   = "merged"
	StatusDeferred = "deferred"
	StatusRejected = "rejected"
)

// Причины статуса rejected
const (
	ReasonNotFound      = "not_found"
	ReasonQuotaExceeded = "quota_exceeded"
)

// EntityChange изменение сущности на проводе.
// В push клиент заполняет base_version, в pull сервер заполняет sync_version.
// payload передаётся всегда: пустой {} у create и update допустим, у delete null.
type EntityChange struct {
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
	Payload       map[string]any `json:"payload"`
	UserID        string         `json:"user_id,omitempty"` // пустой означает вызывающего пользователя
	Type          string         `json:"entity_type"`
	ID            string         `json:"entity_id"`
	Op            string         `json:"op"`
	ChangedFields []string       `json:"changed_fields,omitempty"`
	BaseVersion   uint64         `json:"base_version,omitempty"`
	SyncVersion   uint64         `json:"sync_version,omitempty"`
}

// PullResponse страница изменений
type PullResponse struct {
	Changes        []EntityChange `json:"changes"`
	HighestVersion uint64         `json:"highest_version"` // следующий since_version
	HasMore        bool           `json:"has_more"`
}

// PushRequest батч изменений одного устройства
type PushRequest struct {
	Changes []EntityChange `json:"changes"`
}

// PushOutcome итог по одной сущности
type PushOutcome struct {
	Payload    map[string]any `json:"payload,omitempty"`
	Type       string         `json:"entity_type"`
	ID         string         `json:"entity_id"`
	Status     string         `json:"status"`
	ConflictID string         `json:"conflict_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	NewVersion uint64         `json:"new_version,omitempty"`
	Deleted    bool           `json:"deleted,omitempty"`
}

// PushResponse итоги в порядке батча
type PushResponse struct {
	Outcomes       []PushOutcome `json:"outcomes"`
	HighestVersion uint64        `json:"highest_version"`
}

// ChangeEvent уведомление о новых версиях, приходит по WebSocket
type ChangeEvent struct {
	DeviceID string `json:"device_id"`
	Version  uint64 `json:"version"`
}

// ToModel переводит изменение с провода в модель.
// Числа из json.Number приводятся через models.NormalizeNumbers.
// Пустой user_id заполняется пользователем запроса, чужой сохраняется и отклоняется движком.
func (c EntityChange) ToModel(userID string) models.EntityChange {
	if c.UserID != "" {
		userID = c.UserID
	}
	return models.EntityChange{
		UserID:        userID,
		Type:          c.Type,
		ID:            c.ID,
		Op:            models.Op(c.Op),
		Payload:       models.Payload(c.Payload).Clone(),
		ChangedFields: c.ChangedFields,
		BaseVersion:   c.BaseVersion,
		SyncVersion:   c.SyncVersion,
		UpdatedAt:     c.UpdatedAt,
		DeletedAt:     c.DeletedAt,
	}
}

// FromModel переводит модель в изменение на проводе
func FromModel(ch models.EntityChange) EntityChange {
	payload := ch.Payload
	if payload == nil && ch.Op != models.OpDelete {
		payload = models.Payload{}
	}
	return EntityChange{
		Type:          ch.Type,
		ID:            ch.ID,
		Op:            string(ch.Op),
		Payload:       payload,
		ChangedFields: ch.ChangedFields,
		BaseVersion:   ch.BaseVersion,
		SyncVersion:   ch.SyncVersion,
		UpdatedAt:     ch.UpdatedAt,
		DeletedAt:     ch.DeletedAt,
	}
}
