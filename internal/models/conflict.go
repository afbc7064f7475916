package models

import "time"

// Resolution способ, которым был разрешён конфликт
type Resolution string

const (
	ResolutionAutoMerged     Resolution = "auto-merged"
	ResolutionDeferredToUser Resolution = "deferred-to-user"
)

// ConflictRecord сохраняется для аудита автоматического слияния
// или для ручного разрешения отложенного конфликта.
type ConflictRecord struct {
	CreatedAt    time.Time    `json:"created_at"`
	ServerState  *Entity      `json:"server_state_at_conflict"`
	ID           string       `json:"id"`
	UserID       string       `json:"user_id"`
	Type         string       `json:"entity_type"`
	EntityID     string       `json:"entity_id"`
	Resolution   Resolution   `json:"resolution"`
	Fields       []string     `json:"fields"` // поля, изменённые обеими сторонами
	ClientChange EntityChange `json:"client_change"`
}
