package api

import "time"

// Device устройство пользователя
type Device struct {
	CreatedAt         time.Time  `json:"created_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	DeviceID          string     `json:"device_id"`
	Name              string     `json:"name"`
	Kind              string     `json:"kind"`
	LastPulledVersion uint64     `json:"last_pulled_version"`
	Current           bool       `json:"current"` // устройство, сделавшее запрос
}

// DevicesResponse список устройств
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// Conflict запись журнала конфликтов
type Conflict struct {
	CreatedAt    time.Time     `json:"created_at"`
	ServerState  *EntityChange `json:"server_state_at_conflict,omitempty"`
	ID           string        `json:"id"`
	Type         string        `json:"entity_type"`
	EntityID     string        `json:"entity_id"`
	Resolution   string        `json:"resolution"`
	Fields       []string      `json:"fields"`
	ClientChange EntityChange  `json:"client_change"`
}

// ConflictsResponse список конфликтов
type ConflictsResponse struct {
	Conflicts []Conflict `json:"conflicts"`
}
