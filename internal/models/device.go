package models

import "time"

// DeviceKind класс клиентского устройства
type DeviceKind string

const (
	// DeviceKindFull полноценный offline-клиент
	DeviceKindFull DeviceKind = "full"
	// DeviceKindCapture лёгкий клиент, который только создаёт записи
	DeviceKindCapture DeviceKind = "capture"
)

// Device запись реестра устройств пользователя
type Device struct {
	CreatedAt         time.Time  `json:"created_at"`
	LastSeenAt        time.Time  `json:"last_seen_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	UserID            string     `json:"user_id"`
	DeviceID          string     `json:"device_id"`
	Name              string     `json:"name"`
	Kind              DeviceKind `json:"kind"`
	LastPulledVersion uint64     `json:"last_pulled_version"`
}

// Revoked сообщает, отозвано ли устройство
func (d *Device) Revoked() bool {
	return d.RevokedAt != nil
}
