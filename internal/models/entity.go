package models

import "time"

// Op тип операции изменения сущности
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Valid сообщает, является ли операция одной из известных
func (o Op) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// EntityKey уникально идентифицирует сущность внутри пользователя
type EntityKey struct {
	Type string `json:"entity_type"`
	ID   string `json:"entity_id"`
}

func (k EntityKey) String() string {
	return k.Type + "/" + k.ID
}

// Entity представляет типизированную сущность пользователя.
// Payload не интерпретируется синхронизацией, кроме сравнения полей.
type Entity struct {
	UpdatedAt      time.Time  `json:"updated_at"`           // время изменения на устройстве-авторе
	DeletedAt      *time.Time `json:"deleted_at,omitempty"` // tombstone, nil для живой сущности
	Payload        Payload    `json:"payload"`
	UserID         string     `json:"user_id"`
	Type           string     `json:"entity_type"`
	ID             string     `json:"entity_id"`
	SyncVersion    uint64     `json:"sync_version"`    // 0 означает, что сервер ещё не подтвердил
	CreatedVersion uint64     `json:"created_version"` // версия, на которой сущность была создана или воскрешена
}

// Key возвращает ключ сущности
func (e *Entity) Key() EntityKey {
	return EntityKey{Type: e.Type, ID: e.ID}
}

// Deleted сообщает, является ли сущность tombstone
func (e *Entity) Deleted() bool {
	return e.DeletedAt != nil
}

// Clone возвращает глубокую копию сущности
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = e.Payload.Clone()
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// EntityChange описывает одно изменение сущности.
// В push клиент заполняет BaseVersion, в pull сервер заполняет SyncVersion и DeletedAt.
type EntityChange struct {
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
	Payload       Payload    `json:"payload"`
	UserID        string     `json:"user_id"`
	Type          string     `json:"entity_type"`
	ID            string     `json:"entity_id"`
	Op            Op         `json:"op"`
	ChangedFields []string   `json:"changed_fields,omitempty"` // необязательно, иначе вычисляется сервером
	BaseVersion   uint64     `json:"base_version,omitempty"`
	SyncVersion   uint64     `json:"sync_version,omitempty"`
}

// Key возвращает ключ изменяемой сущности
func (c *EntityChange) Key() EntityKey {
	return EntityKey{Type: c.Type, ID: c.ID}
}

// ChangeFromEntity строит изменение для pull-ответа из текущего состояния сущности.
// Операция выводится из версий: create, если сущность создана этой версией.
func ChangeFromEntity(e *Entity) EntityChange {
	ch := EntityChange{
		UserID:      e.UserID,
		Type:        e.Type,
		ID:          e.ID,
		UpdatedAt:   e.UpdatedAt,
		SyncVersion: e.SyncVersion,
	}
	switch {
	case e.Deleted():
		ch.Op = OpDelete
		t := *e.DeletedAt
		ch.DeletedAt = &t
	case e.CreatedVersion == e.SyncVersion:
		ch.Op = OpCreate
		ch.Payload = e.Payload.Clone()
	default:
		ch.Op = OpUpdate
		ch.Payload = e.Payload.Clone()
	}
	return ch
}

// ChangeLogEntry строка журнала изменений: одна на каждую выделенную версию
type ChangeLogEntry struct {
	UpdatedAt     time.Time `json:"updated_at"`
	Payload       Payload   `json:"payload"` // снимок payload после изменения
	UserID        string    `json:"user_id"`
	Type          string    `json:"entity_type"`
	ID            string    `json:"entity_id"`
	Op            Op        `json:"op"`
	DeviceID      string    `json:"device_id"`
	ChangedFields []string  `json:"changed_fields"`
	SyncVersion   uint64    `json:"sync_version"`
}

// SyncCursor позиция устройства в потоке изменений пользователя
type SyncCursor struct {
	UserID            string `json:"user_id"`
	DeviceID          string `json:"device_id"`
	LastPulledVersion uint64 `json:"last_pulled_version"`
}
