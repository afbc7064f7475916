package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/engine"
	"github.com/iudanet/gophsync/internal/server/handlers"
	"github.com/iudanet/gophsync/internal/server/jwt"
	"github.com/iudanet/gophsync/pkg/api"
)

// TokenValidator проверяет access token
type TokenValidator interface {
	ValidateAccessToken(token string) (*jwt.Claims, error)
}

// DeviceAuthorizer проверяет, что устройство зарегистрировано и не отозвано
type DeviceAuthorizer interface {
	Authorize(ctx context.Context, sc scope.Scope) error
}

// AuthMiddleware создает middleware для проверки JWT токена.
// Из claims строится Scope запроса, отозванное устройство получает 401.
func AuthMiddleware(logger *slog.Logger, tokens TokenValidator, devices DeviceAuthorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := handlers.BearerToken(r)
			if !ok {
				logger.Warn("missing or malformed Authorization header", slog.String("path", r.URL.Path))
				unauthorized(w, "missing token")
				return
			}

			claims, err := tokens.ValidateAccessToken(token)
			if err != nil {
				logger.Warn("invalid access token", slog.Any("error", err))
				unauthorized(w, "invalid token")
				return
			}

			sc, err := scope.New(claims.UserID, claims.DeviceID)
			if err != nil {
				logger.Warn("token without scope", slog.Any("error", err))
				unauthorized(w, "invalid token")
				return
			}

			if err := devices.Authorize(r.Context(), sc); err != nil {
				if errors.Is(err, engine.ErrAuthentication) {
					logger.Warn("device not authorized",
						slog.String("user_id", sc.UserID()),
						slog.String("device_id", sc.DeviceID()),
						slog.Any("error", err))
					unauthorized(w, "device revoked")
					return
				}
				logger.Error("device authorization failed", slog.Any("error", err))
				writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
				return
			}

			logger.Debug("request authenticated",
				slog.String("user_id", sc.UserID()),
				slog.String("device_id", sc.DeviceID()))

			next.ServeHTTP(w, r.WithContext(scope.WithContext(r.Context(), sc)))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, message)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
