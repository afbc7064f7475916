package sync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/iudanet/gophsync/internal/client/api"
	"github.com/iudanet/gophsync/internal/client/data"
	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/client/storage/boltdb"
	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/pkg/api"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	store *boltdb.Storage
	data  data.Service
	api   *APIMock
	svc   *service
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	store, err := boltdb.New(context.Background(), filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = time.Millisecond
		cfg.MaxInterval = 5 * time.Millisecond
		cfg.MaxElapsedTime = 2 * time.Second
	}

	mock := &APIMock{
		PullFunc: func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
			return &api.PullResponse{HighestVersion: since}, nil
		},
		PushFunc: func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
			return nil, errors.New("unexpected push")
		},
	}

	svc := NewService(mock, store, store, cfg, slog.New(slog.DiscardHandler)).(*service)
	svc.now = func() time.Time { return t0 }
	return &testEnv{store: store, data: data.NewService(store), api: mock, svc: svc}
}

func (e *testEnv) local(t *testing.T, typ, id string) *storage.LocalEntity {
	t.Helper()
	l, err := e.store.GetEntity(context.Background(), models.EntityKey{Type: typ, ID: id})
	require.NoError(t, err)
	return l
}

func (e *testEnv) pending(t *testing.T) []*storage.PendingChange {
	t.Helper()
	p, err := e.store.ListPending(context.Background(), 0, 0)
	require.NoError(t, err)
	return p
}

// acceptAll отвечает accepted на каждое изменение, выдавая версии подряд
func acceptAll(next *atomic.Uint64) func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
	return func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
		resp := &api.PushResponse{}
		for _, ch := range changes {
			v := next.Add(1)
			resp.Outcomes = append(resp.Outcomes, api.PushOutcome{Type: ch.Type, ID: ch.ID, Status: api.StatusAccepted, NewVersion: v})
			resp.HighestVersion = v
		}
		return resp, nil
	}
}

func serverChange(id, op string, version uint64, payload map[string]any) api.EntityChange {
	return api.EntityChange{Type: "note", ID: id, Op: op, Payload: payload, SyncVersion: version, UpdatedAt: t0}
}

func TestSync_PullPages(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{PageSize: 2})

	pages := map[uint64]*api.PullResponse{
		0: {
			Changes: []api.EntityChange{
				serverChange("a", "create", 1, map[string]any{"title": "A"}),
				serverChange("b", "create", 2, map[string]any{"title": "B"}),
			},
			HighestVersion: 2,
			HasMore:        true,
		},
		2: {
			Changes:        []api.EntityChange{serverChange("a", "delete", 3, nil)},
			HighestVersion: 3,
		},
	}
	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		assert.Equal(t, 2, pageSize)
		return pages[since], nil
	}

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pulled)
	assert.Equal(t, uint64(3), res.Cursor)
	require.Len(t, env.api.PullCalls(), 2)
	assert.Equal(t, uint64(2), env.api.PullCalls()[1].Since)

	a := env.local(t, "note", "a")
	assert.True(t, a.Entity.Deleted())
	assert.Equal(t, uint64(3), a.Server.SyncVersion)

	b := env.local(t, "note", "b")
	assert.Equal(t, "B", b.Entity.Payload["title"])
	assert.Equal(t, uint64(2), b.Server.CreatedVersion)

	last, err := env.store.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, t0.Equal(last))

	// Повторная сессия начинает с сохранённого курсора
	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		assert.Equal(t, uint64(3), since)
		return &api.PullResponse{HighestVersion: 3}, nil
	}
	_, err = env.svc.Sync(ctx)
	require.NoError(t, err)
}

func TestSync_PullKeepsPendingEdit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	_, err := env.data.Put(ctx, "note", "n1", models.Payload{"title": "mine"})
	require.NoError(t, err)

	require.NoError(t, env.store.Update(ctx, func(tx storage.LocalTx) error {
		return applyPulled(tx, models.EntityChange{Type: "note", ID: "n1", Op: models.OpCreate, SyncVersion: 4, Payload: models.Payload{"title": "theirs"}})
	}))

	l := env.local(t, "note", "n1")
	assert.Equal(t, "mine", l.Entity.Payload["title"])
	assert.Equal(t, "theirs", l.Server.Payload["title"])
	assert.Equal(t, uint64(4), l.Entity.SyncVersion)
	assert.Len(t, env.pending(t), 1)

	// Старая версия после новой ничего не меняет
	require.NoError(t, env.store.Update(ctx, func(tx storage.LocalTx) error {
		return applyPulled(tx, models.EntityChange{Type: "note", ID: "n1", Op: models.OpUpdate, SyncVersion: 2, Payload: models.Payload{"title": "old"}})
	}))
	assert.Equal(t, "theirs", env.local(t, "note", "n1").Server.Payload["title"])
}

func TestSync_PushAccepted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{PushBatch: 2})

	for _, id := range []string{"a", "b", "c"} {
		_, err := env.data.Put(ctx, "note", id, models.Payload{"title": id})
		require.NoError(t, err)
	}

	var next atomic.Uint64
	env.api.PushFunc = acceptAll(&next)

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pushed)
	assert.Equal(t, 3, res.Accepted)

	// батчи по два в порядке правок
	calls := env.api.PushCalls()
	require.Len(t, calls, 2)
	require.Len(t, calls[0].Changes, 2)
	assert.Equal(t, "a", calls[0].Changes[0].ID)
	assert.Equal(t, "create", calls[0].Changes[0].Op)
	assert.Empty(t, calls[0].Changes[0].UserID)
	assert.Equal(t, "c", calls[1].Changes[0].ID)

	assert.Empty(t, env.pending(t))
	c := env.local(t, "note", "c")
	assert.Equal(t, uint64(3), c.Entity.SyncVersion)
	assert.Equal(t, uint64(3), c.Server.CreatedVersion)

	// Следующая правка ссылается на подтверждённую версию
	_, err = env.data.Put(ctx, "note", "c", models.Payload{"title": "c2"})
	require.NoError(t, err)
	p := env.pending(t)
	require.Len(t, p, 1)
	assert.Equal(t, models.OpUpdate, p[0].Change.Op)
	assert.Equal(t, uint64(3), p[0].Change.BaseVersion)
}

func TestSync_PushOutcomes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	// Четыре сущности, известные серверу на версии 1..4
	require.NoError(t, env.store.Update(ctx, func(tx storage.LocalTx) error {
		for i, id := range []string{"merged", "deferred", "quota", "gone"} {
			ch := models.EntityChange{Type: "note", ID: id, Op: models.OpCreate, SyncVersion: uint64(i + 1), Payload: models.Payload{"title": "v0"}}
			if err := applyPulled(tx, ch); err != nil {
				return err
			}
		}
		return tx.SetCursor(4)
	}))
	for _, id := range []string{"merged", "deferred", "quota", "gone"} {
		_, err := env.data.Put(ctx, "note", id, models.Payload{"title": "v1"})
		require.NoError(t, err)
	}

	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		return &api.PullResponse{HighestVersion: 4}, nil
	}
	env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
		require.Len(t, changes, 4)
		return &api.PushResponse{Outcomes: []api.PushOutcome{
			{Type: "note", ID: "merged", Status: api.StatusMerged, NewVersion: 7, Payload: map[string]any{"title": "v1", "description": "B"}},
			{Type: "note", ID: "deferred", Status: api.StatusDeferred, ConflictID: "conflict-1"},
			{Type: "note", ID: "quota", Status: api.StatusRejected, Reason: api.ReasonQuotaExceeded},
			{Type: "note", ID: "gone", Status: api.StatusRejected, Reason: api.ReasonNotFound},
		}}, nil
	}

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 2, res.Rejected)

	merged := env.local(t, "note", "merged")
	assert.Equal(t, "B", merged.Entity.Payload["description"])
	assert.Equal(t, uint64(7), merged.Server.SyncVersion)

	// Отложенная правка уходит в журнал конфликтов, локальный вид как на сервере
	deferred := env.local(t, "note", "deferred")
	assert.Equal(t, "v0", deferred.Entity.Payload["title"])
	conflicts, err := env.store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "conflict-1", conflicts[0].ID)
	assert.Equal(t, models.ResolutionDeferredToUser, conflicts[0].Resolution)
	assert.Equal(t, "v1", conflicts[0].ClientChange.Payload["title"])
	require.NotNil(t, conflicts[0].ServerState)
	assert.Equal(t, "v0", conflicts[0].ServerState.Payload["title"])

	gone := env.local(t, "note", "gone")
	assert.Equal(t, "v0", gone.Entity.Payload["title"])

	// Превышение квоты оставляет изменение в очереди
	p := env.pending(t)
	require.Len(t, p, 1)
	assert.Equal(t, "quota", p[0].Change.ID)
	assert.Equal(t, 1, p[0].Attempts)
	assert.Equal(t, api.ReasonQuotaExceeded, p[0].LastError)
	assert.Equal(t, "v1", env.local(t, "note", "quota").Entity.Payload["title"])
}

func TestSync_EditedWhilePushing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	_, err := env.data.Put(ctx, "note", "n1", models.Payload{"title": "A"})
	require.NoError(t, err)

	env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
		// пользователь правит, пока батч в пути
		_, err := env.data.Put(ctx, "note", "n1", models.Payload{"title": "B"})
		require.NoError(t, err)
		env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
			require.Len(t, changes, 1)
			assert.Equal(t, "update", changes[0].Op)
			assert.Equal(t, uint64(1), changes[0].BaseVersion)
			assert.Equal(t, []string{"title"}, changes[0].ChangedFields)
			return &api.PushResponse{Outcomes: []api.PushOutcome{{Type: "note", ID: "n1", Status: api.StatusAccepted, NewVersion: 2}}}, nil
		}
		return &api.PushResponse{Outcomes: []api.PushOutcome{{Type: "note", ID: "n1", Status: api.StatusAccepted, NewVersion: 1}}}, nil
	}

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	// перебазированная правка уходит в той же сессии
	assert.Equal(t, 2, res.Pushed)
	assert.Empty(t, env.pending(t))

	l := env.local(t, "note", "n1")
	assert.Equal(t, "B", l.Entity.Payload["title"])
	assert.Equal(t, uint64(2), l.Server.SyncVersion)
	assert.Equal(t, uint64(1), l.Server.CreatedVersion)
}

func TestSync_DeletedWhileCreating(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	_, err := env.data.Put(ctx, "note", "n1", models.Payload{"title": "A"})
	require.NoError(t, err)

	env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
		require.NoError(t, env.data.Delete(ctx, "note", "n1"))
		var next atomic.Uint64
		next.Store(5)
		env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
			require.Len(t, changes, 1)
			assert.Equal(t, "delete", changes[0].Op)
			assert.Equal(t, uint64(5), changes[0].BaseVersion)
			return acceptAll(&next)(ctx, changes)
		}
		return &api.PushResponse{Outcomes: []api.PushOutcome{{Type: "note", ID: "n1", Status: api.StatusAccepted, NewVersion: 5}}}, nil
	}

	_, err = env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Empty(t, env.pending(t))
	l := env.local(t, "note", "n1")
	assert.True(t, l.Entity.Deleted())
	assert.True(t, l.Server.Deleted())
}

func TestSync_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	var pulls atomic.Int32
	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		if pulls.Add(1) < 3 {
			return nil, &clientapi.Error{StatusCode: http.StatusServiceUnavailable, Message: "storage temporarily unavailable"}
		}
		return &api.PullResponse{HighestVersion: 0}, nil
	}

	_, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), pulls.Load())
}

func TestSync_PermanentFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	_, err := env.data.Put(ctx, "note", "n1", models.Payload{"title": "A"})
	require.NoError(t, err)

	// 400 без указания изменения не повторяется, очередь не трогаем
	env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
		return nil, &clientapi.Error{StatusCode: http.StatusBadRequest, Message: "batch too large"}
	}
	_, err = env.svc.Sync(ctx)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, clientapi.StatusCode(err))
	assert.Len(t, env.api.PushCalls(), 1)
	assert.Len(t, env.pending(t), 1)

	// 401 тоже не повторяется
	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		return nil, &clientapi.Error{StatusCode: http.StatusUnauthorized, Message: "authentication required"}
	}
	before := len(env.api.PullCalls())
	_, err = env.svc.Sync(ctx)
	assert.Equal(t, http.StatusUnauthorized, clientapi.StatusCode(err))
	assert.Len(t, env.api.PullCalls(), before+1)
}

func TestSync_ValidationRejectDoesNotBlockQueue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	// n0 уже на сервере, его правка будет отвергнута
	require.NoError(t, env.store.Update(ctx, func(tx storage.LocalTx) error {
		return applyPulled(tx, models.EntityChange{Type: "note", ID: "n0", Op: models.OpCreate, SyncVersion: 1, Payload: models.Payload{"title": "server"}, UpdatedAt: t0})
	}))
	_, err := env.data.Put(ctx, "note", "n0", models.Payload{"title": "huge"})
	require.NoError(t, err)
	for _, id := range []string{"n1", "n2"} {
		_, err := env.data.Put(ctx, "note", id, models.Payload{"title": id})
		require.NoError(t, err)
	}

	var next atomic.Uint64
	next.Store(1)
	accept := acceptAll(&next)
	env.api.PushFunc = func(ctx context.Context, changes []api.EntityChange) (*api.PushResponse, error) {
		for i, ch := range changes {
			if ch.ID == "n0" {
				return nil, &clientapi.Error{
					StatusCode: http.StatusBadRequest,
					Message:    "request rejected by validation",
					Violations: []api.Violation{{Index: i, EntityType: "note", EntityID: "n0", Reason: "payload too large"}},
				}
			}
		}
		return accept(ctx, changes)
	}

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 2, res.Accepted)

	calls := env.api.PushCalls()
	require.Len(t, calls, 2)
	assert.Len(t, calls[0].Changes, 3)
	require.Len(t, calls[1].Changes, 2)
	assert.Equal(t, "n1", calls[1].Changes[0].ID)
	assert.Equal(t, "n2", calls[1].Changes[1].ID)

	// отвергнутая правка откатилась к состоянию сервера
	assert.Empty(t, env.pending(t))
	assert.Equal(t, "server", env.local(t, "note", "n0").Entity.Payload["title"])
	assert.Equal(t, uint64(3), env.local(t, "note", "n2").Entity.SyncVersion)

	// следующая сессия ничего не отправляет
	_, err = env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Len(t, env.api.PushCalls(), 2)
}

func TestSync_EmptyPayloadCreate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	_, err := env.data.Put(ctx, "note", "empty", models.Payload{})
	require.NoError(t, err)

	var next atomic.Uint64
	env.api.PushFunc = acceptAll(&next)

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)

	calls := env.api.PushCalls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Changes, 1)
	assert.NotNil(t, calls[0].Changes[0].Payload)
	assert.Empty(t, env.pending(t))
}

func TestSync_InProgress(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{})

	entered := make(chan struct{})
	release := make(chan struct{})
	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		close(entered)
		<-release
		return &api.PullResponse{}, nil
	}

	errc := make(chan error, 1)
	go func() {
		_, err := env.svc.Sync(ctx)
		errc <- err
	}()

	<-entered
	_, err := env.svc.Sync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	require.NoError(t, <-errc)
}

func TestSync_PushOnly(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Config{PushOnly: true})

	_, err := env.data.Put(ctx, "note", "", models.Payload{"title": "captured"})
	require.NoError(t, err)

	var next atomic.Uint64
	env.api.PushFunc = acceptAll(&next)

	res, err := env.svc.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Empty(t, env.api.PullCalls())
}

func TestSync_Canceled(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	env.api.PullFunc = func(ctx context.Context, since uint64, types []string, pageSize int) (*api.PullResponse, error) {
		cancel()
		return nil, &clientapi.Error{StatusCode: http.StatusServiceUnavailable}
	}

	_, err := env.svc.Sync(ctx)
	require.Error(t, err)
	assert.Len(t, env.api.PullCalls(), 1)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{name: "network", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}},
		{name: "unavailable", err: &clientapi.Error{StatusCode: http.StatusServiceUnavailable, RetryAfter: 5 * time.Second}},
		{name: "too many requests", err: &clientapi.Error{StatusCode: http.StatusTooManyRequests}},
		{name: "internal", err: &clientapi.Error{StatusCode: http.StatusInternalServerError}},
		{name: "bad request", err: &clientapi.Error{StatusCode: http.StatusBadRequest}, permanent: true},
		{name: "unauthorized", err: &clientapi.Error{StatusCode: http.StatusUnauthorized}, permanent: true},
		{name: "forbidden", err: &clientapi.Error{StatusCode: http.StatusForbidden}, permanent: true},
		{name: "canceled", err: context.Canceled, permanent: true},
		{name: "local", err: errors.New("not logged in"), permanent: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var perm *backoff.PermanentError
			assert.Equal(t, tt.permanent, errors.As(classify(tt.err), &perm))
		})
	}
}

func TestClassify_RetryAfter(t *testing.T) {
	err := classify(&clientapi.Error{StatusCode: http.StatusServiceUnavailable, RetryAfter: 5 * time.Second})

	var ra *backoff.RetryAfterError
	require.ErrorAs(t, err, &ra)
	assert.Equal(t, 5*time.Second, ra.Duration)
	assert.Equal(t, http.StatusServiceUnavailable, clientapi.StatusCode(err))
}
