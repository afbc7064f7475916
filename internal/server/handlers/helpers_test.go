package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/crypto"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/engine"
	"github.com/iudanet/gophsync/internal/server/jwt"
	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
)

const (
	testSecret   = "handlers-test-secret-key"
	testPassword = "correct horse battery"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testEnv хранилище SQLite в памяти и всё, что строится поверх него
type testEnv struct {
	store  *sqlite.Storage
	engine *engine.Engine
	broker *notify.Broker
	jwt    *jwt.Service
	logger *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := setupTestLogger()
	s, err := sqlite.New(context.Background(), ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	broker := notify.NewBroker(8, logger)
	registry := engine.NewRegistry(s, logger)

	return &testEnv{
		store:  s,
		engine: engine.New(s, registry, engine.DefaultConfig(), logger, engine.WithPublisher(broker)),
		broker: broker,
		jwt:    jwt.NewService(testSecret, 15*time.Minute, 24*time.Hour),
		logger: logger,
	}
}

func (env *testEnv) authHandler() *AuthHandler {
	return NewAuthHandler(env.logger, env.store, env.store, env.engine.Registry(), env.jwt)
}

// newUser создаёт пользователя с паролем testPassword и регистрирует устройства
func (env *testEnv) newUser(t *testing.T, username string, devices ...string) (string, []scope.Scope) {
	t.Helper()

	ctx := context.Background()
	hash, err := crypto.HashPassword(testPassword)
	require.NoError(t, err)

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, env.store.CreateUser(ctx, user))

	scopes := make([]scope.Scope, 0, len(devices))
	for _, d := range devices {
		sc, err := scope.New(user.ID, d)
		require.NoError(t, err)
		_, err = env.engine.Registry().Register(ctx, sc, d, models.DeviceKindFull)
		require.NoError(t, err)
		scopes = append(scopes, sc)
	}
	return user.ID, scopes
}

// jsonRequest строит запрос с телом JSON и, если задан, Scope в контексте
func jsonRequest(t *testing.T, method, target string, body any, sc *scope.Scope) *http.Request {
	t.Helper()

	var r io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	if sc != nil {
		req = req.WithContext(scope.WithContext(req.Context(), *sc))
	}
	return req
}

// withURLParam добавляет параметр маршрута chi
func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func scopeFor(t *testing.T, userID, deviceID string) scope.Scope {
	t.Helper()
	sc, err := scope.New(userID, deviceID)
	require.NoError(t, err)
	return sc
}
