package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/engine"
	"github.com/iudanet/gophsync/pkg/api"
)

// retryAfterSeconds подсказка клиенту при временной недоступности хранилища
const retryAfterSeconds = 5

// maxBodyBytes ограничение размера тела запроса
const maxBodyBytes = 8 << 20

// sendJSON отправляет JSON ответ
func sendJSON(w http.ResponseWriter, logger *slog.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func sendError(w http.ResponseWriter, logger *slog.Logger, message string, statusCode int) {
	sendJSON(w, logger, api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}, statusCode)
}

// sendEngineError переводит ошибки движка синхронизации в HTTP ответ
func sendEngineError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *engine.ValidationError
	switch {
	case errors.As(err, &verr):
		resp := api.ErrorResponse{
			Error:      http.StatusText(http.StatusBadRequest),
			Message:    "request rejected by validation",
			Violations: make([]api.Violation, 0, len(verr.Violations)),
		}
		for _, v := range verr.Violations {
			resp.Violations = append(resp.Violations, api.Violation{
				EntityType: v.EntityType,
				EntityID:   v.EntityID,
				Reason:     v.Reason,
				Index:      v.Index,
			})
		}
		sendJSON(w, logger, resp, http.StatusBadRequest)
	case errors.Is(err, engine.ErrValidation):
		sendError(w, logger, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrAuthentication):
		sendError(w, logger, "authentication required", http.StatusUnauthorized)
	case errors.Is(err, scope.ErrScopeViolation):
		sendError(w, logger, "change does not belong to the authenticated user", http.StatusForbidden)
	case errors.Is(err, engine.ErrStorage):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		sendError(w, logger, "storage temporarily unavailable, retry the request", http.StatusServiceUnavailable)
	default:
		logger.Error("unexpected error", slog.Any("error", err))
		sendError(w, logger, "internal server error", http.StatusInternalServerError)
	}
}

// decodeJSON читает тело запроса с ограничением размера.
// UseNumber: целые в payload больше 2^53 не должны превращаться в float64.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}

// scopeFromRequest достаёт Scope, который положил AuthMiddleware
func scopeFromRequest(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (scope.Scope, bool) {
	sc, ok := scope.FromContext(r.Context())
	if !ok {
		logger.Error("scope not found in context", slog.String("path", r.URL.Path))
		sendError(w, logger, "authentication required", http.StatusUnauthorized)
		return scope.Scope{}, false
	}
	return sc, true
}

// BearerToken извлекает токен из заголовка Authorization: Bearer <token>
func BearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
