package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// DeviceManager просмотр и отзыв устройств
type DeviceManager interface {
	List(ctx context.Context, sc scope.Scope) ([]*models.Device, error)
	Revoke(ctx context.Context, sc scope.Scope, deviceID string) error
}

// DevicesHandler обрабатывает запросы к реестру устройств
type DevicesHandler struct {
	logger  *slog.Logger
	devices DeviceManager
}

// NewDevicesHandler создаёт handler устройств
func NewDevicesHandler(logger *slog.Logger, devices DeviceManager) *DevicesHandler {
	return &DevicesHandler{logger: logger, devices: devices}
}

// List обрабатывает GET /api/v1/devices
func (h *DevicesHandler) List(w http.ResponseWriter, r *http.Request) {
	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	devices, err := h.devices.List(r.Context(), sc)
	if err != nil {
		sendEngineError(w, h.logger, err)
		return
	}

	resp := api.DevicesResponse{Devices: make([]api.Device, 0, len(devices))}
	for _, d := range devices {
		resp.Devices = append(resp.Devices, api.Device{
			DeviceID:          d.DeviceID,
			Name:              d.Name,
			Kind:              string(d.Kind),
			LastPulledVersion: d.LastPulledVersion,
			LastSeenAt:        d.LastSeenAt,
			CreatedAt:         d.CreatedAt,
			RevokedAt:         d.RevokedAt,
			Current:           d.DeviceID == sc.DeviceID(),
		})
	}

	sendJSON(w, h.logger, resp, http.StatusOK)
}

// Revoke обрабатывает POST /api/v1/devices/{device_id}/revoke
func (h *DevicesHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" {
		sendError(w, h.logger, "device_id is required", http.StatusBadRequest)
		return
	}

	if err := h.devices.Revoke(r.Context(), sc, deviceID); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			sendError(w, h.logger, "device not found", http.StatusNotFound)
			return
		}
		sendEngineError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
