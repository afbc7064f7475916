package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/internal/server/storage/sqlite"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingPublisher struct {
	events []notify.Event
	mu     sync.Mutex
}

func (p *recordingPublisher) Publish(ev notify.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Events() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

type testEnv struct {
	store     *sqlite.Storage
	engine    *Engine
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvAt(t, ":memory:", opts...)
}

// newTestEnvAt открывает хранилище по пути. Файловая база нужна там,
// где отмена контекста закрывает соединение посреди транзакции.
func newTestEnvAt(t *testing.T, dbPath string, opts ...Option) *testEnv {
	t.Helper()

	ctx := context.Background()
	logger := discardLogger()

	s, err := sqlite.New(ctx, dbPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	pub := &recordingPublisher{}
	opts = append([]Option{WithPublisher(pub), WithClock(func() time.Time { return t0 })}, opts...)

	return &testEnv{
		store:     s,
		engine:    New(s, NewRegistry(s, logger), DefaultConfig(), logger, opts...),
		publisher: pub,
	}
}

// newUser создаёт пользователя и возвращает scope для двух его устройств
func (env *testEnv) newUser(t *testing.T) (scope.Scope, scope.Scope) {
	t.Helper()

	ctx := context.Background()
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     "user_" + uuid.NewString()[:8],
		PasswordHash: "hash",
		CreatedAt:    t0,
		UpdatedAt:    t0,
	}
	require.NoError(t, env.store.CreateUser(ctx, user))

	a, err := scope.New(user.ID, "device-a1")
	require.NoError(t, err)
	b, err := scope.New(user.ID, "device-b1")
	require.NoError(t, err)

	for _, sc := range []scope.Scope{a, b} {
		_, err := env.engine.Registry().Register(ctx, sc, sc.DeviceID(), models.DeviceKindFull)
		require.NoError(t, err)
	}
	return a, b
}

func (env *testEnv) push(t *testing.T, sc scope.Scope, changes ...models.EntityChange) *PushResult {
	t.Helper()

	res, err := env.engine.Push(context.Background(), sc, changes)
	require.NoError(t, err)
	require.Len(t, res.Outcomes, len(changes))
	return res
}

func createChange(sc scope.Scope, id string, payload models.Payload, at time.Time) models.EntityChange {
	return models.EntityChange{
		UserID:    sc.UserID(),
		Type:      "note",
		ID:        id,
		Op:        models.OpCreate,
		Payload:   payload,
		UpdatedAt: at,
	}
}

func updateChange(sc scope.Scope, id string, base uint64, payload models.Payload, at time.Time) models.EntityChange {
	return models.EntityChange{
		UserID:      sc.UserID(),
		Type:        "note",
		ID:          id,
		Op:          models.OpUpdate,
		Payload:     payload,
		BaseVersion: base,
		UpdatedAt:   at,
	}
}

func deleteChange(sc scope.Scope, id string, base uint64, at time.Time) models.EntityChange {
	return models.EntityChange{
		UserID:      sc.UserID(),
		Type:        "note",
		ID:          id,
		Op:          models.OpDelete,
		BaseVersion: base,
		UpdatedAt:   at,
	}
}
