package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/storage"
)

func getEntity(t *testing.T, env *testEnv, sc scope.Scope, id string) *models.Entity {
	t.Helper()

	var ent *models.Entity
	err := env.store.WithUserTx(context.Background(), sc, func(ctx context.Context, tx storage.UserTx) error {
		var err error
		ent, err = tx.GetEntity(ctx, models.EntityKey{Type: "note", ID: id})
		return err
	})
	require.NoError(t, err)
	return ent
}

func TestPush_CreateAssignsContiguousVersions(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)

	res := env.push(t, a,
		createChange(a, "n1", models.Payload{"title": "one"}, t0),
		createChange(a, "n2", models.Payload{"title": "two"}, t0),
		createChange(a, "n3", models.Payload{"title": "three"}, t0),
	)

	for i, o := range res.Outcomes {
		assert.Equal(t, StatusAccepted, o.Status)
		assert.Equal(t, uint64(i+1), o.NewVersion)
	}
	assert.Equal(t, uint64(3), res.HighestVersion)

	v, err := env.store.CurrentVersion(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	ent := getEntity(t, env, a, "n2")
	assert.Equal(t, uint64(2), ent.CreatedVersion)
	assert.Equal(t, "two", ent.Payload["title"])

	events := env.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, uint64(3), events[0].Version)
	assert.Equal(t, a.DeviceID(), events[0].DeviceID)
}

func TestPush_DirectUpdate(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "draft", "tags": []any{"x"}}, t0))

	res := env.push(t, a, updateChange(a, "n1", 1, models.Payload{"title": "final", "tags": []any{"x"}}, t0.Add(time.Minute)))
	assert.Equal(t, StatusAccepted, res.Outcomes[0].Status)
	assert.Equal(t, uint64(2), res.Outcomes[0].NewVersion)

	ent := getEntity(t, env, a, "n1")
	assert.Equal(t, "final", ent.Payload["title"])
	assert.Equal(t, uint64(1), ent.CreatedVersion)
	assert.Equal(t, t0.Add(time.Minute).UnixMilli(), ent.UpdatedAt.UnixMilli())

	// без изменений версия не выделяется
	res = env.push(t, a, updateChange(a, "n1", 2, models.Payload{"title": "final", "tags": []any{"x"}}, t0.Add(2*time.Minute)))
	assert.Equal(t, StatusAccepted, res.Outcomes[0].Status)
	assert.Equal(t, uint64(2), res.Outcomes[0].NewVersion)
	assert.Zero(t, res.HighestVersion)
	assert.Len(t, env.publisher.Events(), 2)
}

func TestPush_ExplicitChangedFields(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "t", "body": "b", "pinned": true}, t0))

	ch := updateChange(a, "n1", 1, models.Payload{"title": "t2"}, t0.Add(time.Minute))
	ch.ChangedFields = []string{"title", "pinned"}
	env.push(t, a, ch)

	ent := getEntity(t, env, a, "n1")
	assert.True(t, models.Payload{"title": "t2", "body": "b"}.Equal(ent.Payload), "payload: %v", ent.Payload)
}

func TestPush_ConcurrentDisjointEditsMerge(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.newUser(t)

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "Groceries", "body": "milk"}, t0))

	env.push(t, a, updateChange(a, "n1", 1, models.Payload{"title": "Groceries (sat)", "body": "milk"}, t0.Add(time.Minute)))

	res := env.push(t, b, updateChange(b, "n1", 1, models.Payload{"title": "Groceries", "body": "milk, eggs"}, t0.Add(2*time.Minute)))
	out := res.Outcomes[0]
	assert.Equal(t, StatusMerged, out.Status)
	assert.Equal(t, uint64(3), out.NewVersion)
	assert.True(t, models.Payload{"title": "Groceries (sat)", "body": "milk, eggs"}.Equal(out.Payload), "payload: %v", out.Payload)

	conflicts, err := env.store.ListConflicts(context.Background(), a, "")
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestPush_OverlappingScalarLastWriterWins(t *testing.T) {
	tests := []struct {
		name         string
		clientAt     time.Time
		wantPriority float64
		wantVersion  uint64
		wantAudit    bool
	}{
		{name: "client newer", clientAt: t0.Add(3 * time.Minute), wantPriority: 3, wantVersion: 3},
		{name: "client older", clientAt: t0.Add(30 * time.Second), wantPriority: 2, wantVersion: 2, wantAudit: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			a, b := env.newUser(t)
			ctx := context.Background()

			env.push(t, a, createChange(a, "n1", models.Payload{"priority": 1.0}, t0))
			env.push(t, a, updateChange(a, "n1", 1, models.Payload{"priority": 2.0}, t0.Add(time.Minute)))

			res := env.push(t, b, updateChange(b, "n1", 1, models.Payload{"priority": 3.0}, tt.clientAt))
			out := res.Outcomes[0]
			assert.Equal(t, StatusMerged, out.Status)
			assert.Equal(t, tt.wantVersion, out.NewVersion)
			assert.Equal(t, tt.wantPriority, out.Payload["priority"])

			conflicts, err := env.store.ListConflicts(ctx, a, models.ResolutionAutoMerged)
			require.NoError(t, err)
			if tt.wantAudit {
				require.Len(t, conflicts, 1)
				assert.Equal(t, []string{"priority"}, conflicts[0].Fields)
				assert.Equal(t, "n1", conflicts[0].EntityID)
			} else {
				assert.Empty(t, conflicts)
			}
		})
	}
}

func TestPush_OverlappingLongTextDeferred(t *testing.T) {
	env := newTestEnv(t, WithResolver(NewResolver(LongTextClassifier{Fields: map[string][]string{"note": {"body"}}})))
	a, b := env.newUser(t)
	ctx := context.Background()

	env.push(t, a, createChange(a, "n1", models.Payload{"body": "first draft"}, t0))
	env.push(t, a, updateChange(a, "n1", 1, models.Payload{"body": "draft from laptop"}, t0.Add(time.Minute)))

	res := env.push(t, b, updateChange(b, "n1", 1, models.Payload{"body": "draft from phone"}, t0.Add(2*time.Minute)))
	out := res.Outcomes[0]
	assert.Equal(t, StatusDeferred, out.Status)
	assert.NotEmpty(t, out.ConflictID)
	assert.Zero(t, res.HighestVersion)

	ent := getEntity(t, env, a, "n1")
	assert.Equal(t, "draft from laptop", ent.Payload["body"])
	assert.Equal(t, uint64(2), ent.SyncVersion)

	conflicts, err := env.store.ListConflicts(ctx, a, models.ResolutionDeferredToUser)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, out.ConflictID, conflicts[0].ID)
	assert.Equal(t, []string{"body"}, conflicts[0].Fields)
	assert.Equal(t, "draft from phone", conflicts[0].ClientChange.Payload["body"])
	require.NotNil(t, conflicts[0].ServerState)
	assert.Equal(t, "draft from laptop", conflicts[0].ServerState.Payload["body"])
}

func TestPush_DeleteWins(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.newUser(t)

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "x"}, t0))
	env.push(t, a, updateChange(a, "n1", 1, models.Payload{"title": "y"}, t0.Add(time.Hour)))

	res := env.push(t, b, deleteChange(b, "n1", 1, t0.Add(time.Minute)))
	assert.Equal(t, StatusAccepted, res.Outcomes[0].Status)
	assert.True(t, res.Outcomes[0].Deleted)
	assert.Equal(t, uint64(3), res.Outcomes[0].NewVersion)

	// опоздавшее обновление не воскрешает сущность
	res = env.push(t, a, updateChange(a, "n1", 2, models.Payload{"title": "z"}, t0.Add(2*time.Hour)))
	assert.Equal(t, StatusMerged, res.Outcomes[0].Status)
	assert.True(t, res.Outcomes[0].Deleted)
	assert.Equal(t, uint64(3), res.Outcomes[0].NewVersion)

	// повтор удаления идемпотентен
	res = env.push(t, b, deleteChange(b, "n1", 1, t0.Add(time.Minute)))
	assert.Equal(t, StatusAccepted, res.Outcomes[0].Status)
	assert.Equal(t, uint64(3), res.Outcomes[0].NewVersion)

	ent := getEntity(t, env, a, "n1")
	assert.True(t, ent.Deleted())
	assert.Empty(t, ent.Payload)
}

func TestPush_CreateResurrectsTombstone(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "x"}, t0))
	env.push(t, a, deleteChange(a, "n1", 1, t0.Add(time.Minute)))

	res := env.push(t, a, createChange(a, "n1", models.Payload{"title": "again"}, t0.Add(time.Hour)))
	assert.Equal(t, StatusAccepted, res.Outcomes[0].Status)
	assert.Equal(t, uint64(3), res.Outcomes[0].NewVersion)

	ent := getEntity(t, env, a, "n1")
	assert.False(t, ent.Deleted())
	assert.Equal(t, uint64(3), ent.CreatedVersion)
	assert.Equal(t, "again", ent.Payload["title"])
}

func TestPush_RetriedCreateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)
	ch := createChange(a, "n1", models.Payload{"title": "x"}, t0)

	env.push(t, a, ch)
	res := env.push(t, a, ch)
	assert.Equal(t, StatusMerged, res.Outcomes[0].Status)
	assert.Equal(t, uint64(1), res.Outcomes[0].NewVersion)

	v, err := env.store.CurrentVersion(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestPush_RejectedOutcomes(t *testing.T) {
	env := newTestEnv(t, WithQuota(EntityLimit{Max: 2}))
	a, _ := env.newUser(t)

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "x"}, t0))

	res := env.push(t, a,
		updateChange(a, "missing", 1, models.Payload{"title": "?"}, t0),
		createChange(a, "n2", models.Payload{"title": "fits"}, t0),
		createChange(a, "n3", models.Payload{"title": "over"}, t0),
	)

	assert.Equal(t, StatusRejected, res.Outcomes[0].Status)
	assert.Equal(t, ReasonNotFound, res.Outcomes[0].Reason)
	assert.Equal(t, StatusAccepted, res.Outcomes[1].Status)
	assert.Equal(t, uint64(2), res.Outcomes[1].NewVersion)
	assert.Equal(t, StatusRejected, res.Outcomes[2].Status)
	assert.Equal(t, ReasonQuotaExceeded, res.Outcomes[2].Reason)
	assert.Equal(t, uint64(2), res.HighestVersion)
}

func TestPush_BatchErrors(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)
	other, _ := env.newUser(t)
	ctx := context.Background()

	env.push(t, a, createChange(a, "n1", models.Payload{"title": "x"}, t0))

	tests := []struct {
		name    string
		changes []models.EntityChange
		wantErr error
	}{
		{
			name:    "empty batch",
			changes: nil,
			wantErr: ErrValidation,
		},
		{
			name: "change of another user",
			changes: []models.EntityChange{
				createChange(a, "n2", models.Payload{"title": "mine"}, t0),
				createChange(other, "n3", models.Payload{"title": "not mine"}, t0),
			},
			wantErr: ErrScopeViolation,
		},
		{
			name: "same entity twice",
			changes: []models.EntityChange{
				createChange(a, "n2", models.Payload{"title": "a"}, t0),
				createChange(a, "n2", models.Payload{"title": "b"}, t0),
			},
			wantErr: ErrValidation,
		},
		{
			name: "base version ahead of server",
			changes: []models.EntityChange{
				createChange(a, "n2", models.Payload{"title": "a"}, t0),
				updateChange(a, "n1", 42, models.Payload{"title": "b"}, t0),
			},
			wantErr: ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := env.engine.Push(ctx, a, tt.changes)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, res)

			// батч откатывается целиком
			v, err := env.store.CurrentVersion(ctx, a)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), v)
		})
	}

	_, err := env.engine.Push(ctx, scope.Scope{}, []models.EntityChange{createChange(a, "n9", models.Payload{}, t0)})
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestPush_ValidationErrorListsViolations(t *testing.T) {
	env := newTestEnv(t)
	a, _ := env.newUser(t)

	bad := createChange(a, "n1", nil, time.Time{})
	_, err := env.engine.Push(context.Background(), a, []models.EntityChange{bad})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 2)
	for _, v := range verr.Violations {
		assert.Equal(t, 0, v.Index)
		assert.Equal(t, "n1", v.EntityID)
	}
}

func TestPush_LastWriterWinsSubMillisecond(t *testing.T) {
	serverAt := t0.Add(time.Hour + 500*time.Microsecond)

	tests := []struct {
		name      string
		clientAt  time.Time
		wantTitle string
	}{
		{name: "tie goes to server", clientAt: serverAt, wantTitle: "server"},
		{name: "client earlier by 500us", clientAt: serverAt.Add(-500 * time.Microsecond), wantTitle: "server"},
		{name: "client later by 1us", clientAt: serverAt.Add(time.Microsecond), wantTitle: "client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			a, b := env.newUser(t)

			env.push(t, a, createChange(a, "n1", models.Payload{"title": "base"}, t0))
			env.push(t, a, updateChange(a, "n1", 1, models.Payload{"title": "server"}, serverAt))

			res := env.push(t, b, updateChange(b, "n1", 1, models.Payload{"title": "client"}, tt.clientAt))
			assert.Equal(t, tt.wantTitle, res.Outcomes[0].Payload["title"])
			assert.Equal(t, tt.wantTitle, getEntity(t, env, a, "n1").Payload["title"])
		})
	}
}
