package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// ConflictsHandler журнал конфликтов пользователя
type ConflictsHandler struct {
	logger  *slog.Logger
	storage storage.ConflictStorage
}

// NewConflictsHandler создаёт handler конфликтов
func NewConflictsHandler(logger *slog.Logger, storage storage.ConflictStorage) *ConflictsHandler {
	return &ConflictsHandler{logger: logger, storage: storage}
}

// List обрабатывает GET /api/v1/conflicts?resolution=deferred-to-user
func (h *ConflictsHandler) List(w http.ResponseWriter, r *http.Request) {
	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	resolution := models.Resolution(r.URL.Query().Get("resolution"))
	switch resolution {
	case "", models.ResolutionAutoMerged, models.ResolutionDeferredToUser:
	default:
		sendError(w, h.logger, "unknown resolution filter", http.StatusBadRequest)
		return
	}

	records, err := h.storage.ListConflicts(r.Context(), sc, resolution)
	if err != nil {
		h.logger.Error("failed to list conflicts", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ConflictsResponse{Conflicts: make([]api.Conflict, 0, len(records))}
	for _, rec := range records {
		c := api.Conflict{
			ID:           rec.ID,
			Type:         rec.Type,
			EntityID:     rec.EntityID,
			Resolution:   string(rec.Resolution),
			Fields:       rec.Fields,
			ClientChange: api.FromModel(rec.ClientChange),
			CreatedAt:    rec.CreatedAt,
		}
		if rec.ServerState != nil {
			state := api.FromModel(models.ChangeFromEntity(rec.ServerState))
			c.ServerState = &state
		}
		resp.Conflicts = append(resp.Conflicts, c)
	}

	sendJSON(w, h.logger, resp, http.StatusOK)
}

// Delete обрабатывает DELETE /api/v1/conflicts/{id}
// Клиент удаляет запись после того, как пользователь разрешил конфликт
func (h *ConflictsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.storage.DeleteConflict(r.Context(), sc, id); err != nil {
		if errors.Is(err, storage.ErrConflictNotFound) {
			sendError(w, h.logger, "conflict not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete conflict", slog.Any("error", err))
		sendError(w, h.logger, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
