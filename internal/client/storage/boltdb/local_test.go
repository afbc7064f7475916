package boltdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

func localNote(id string, payload models.Payload) *storage.LocalEntity {
	return &storage.LocalEntity{
		Entity: models.Entity{
			Type:      "note",
			ID:        id,
			Payload:   payload,
			UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func pendingCreate(id string) *storage.PendingChange {
	return &storage.PendingChange{Change: models.EntityChange{
		Type:      "note",
		ID:        id,
		Op:        models.OpCreate,
		Payload:   models.Payload{"title": id},
		UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func TestLocal_EntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	key := models.EntityKey{Type: "note", ID: "n1"}

	_, err := store.GetEntity(ctx, key)
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)

	local := localNote("n1", models.Payload{"title": "hello"})
	local.Server = &models.Entity{Type: "note", ID: "n1", SyncVersion: 3, Payload: models.Payload{"title": "hi"}}
	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		return tx.Put(local)
	}))

	got, err := store.GetEntity(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Entity.Payload["title"])
	require.NotNil(t, got.Server)
	assert.Equal(t, uint64(3), got.Server.SyncVersion)

	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		return tx.Delete(key)
	}))
	_, err = store.GetEntity(ctx, key)
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}

func TestLocal_ListEntitiesByType(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		for _, l := range []*storage.LocalEntity{
			localNote("b", nil),
			localNote("a", nil),
			{Entity: models.Entity{Type: "task", ID: "t1"}},
			{Entity: models.Entity{Type: "notebook", ID: "x"}},
		} {
			if err := tx.Put(l); err != nil {
				return err
			}
		}
		return nil
	}))

	notes, err := store.ListEntities(ctx, "note")
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "a", notes[0].Entity.ID)
	assert.Equal(t, "b", notes[1].Entity.ID)

	all, err := store.ListEntities(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := store.ListEntities(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLocal_PendingSequence(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		for _, id := range []string{"c", "a", "b"} {
			if err := tx.PutPending(pendingCreate(id)); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := store.ListPending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// порядок внесения, а не порядок ключей
	assert.Equal(t, "c", all[0].Change.ID)
	assert.Equal(t, "a", all[1].Change.ID)
	assert.Equal(t, "b", all[2].Change.ID)
	assert.Less(t, all[0].Seq, all[1].Seq)

	page, err := store.ListPending(ctx, all[0].Seq, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].Change.ID)

	n, err := store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Сохранение с ненулевым Seq сохраняет номер
	kept := all[0]
	kept.Attempts = 2
	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		return tx.PutPending(kept)
	}))

	// Новая правка того же ключа получает новый номер и встаёт в конец
	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		p, err := tx.Pending(models.EntityKey{Type: "note", ID: "a"})
		if err != nil {
			return err
		}
		p.Seq = 0
		return tx.PutPending(p)
	}))

	all, err = store.ListPending(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].Change.ID, all[1].Change.ID, all[2].Change.ID})
	assert.Equal(t, 2, all[0].Attempts)

	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		if err := tx.DeletePending(models.EntityKey{Type: "note", ID: "c"}); err != nil {
			return err
		}
		_, err := tx.Pending(models.EntityKey{Type: "note", ID: "c"})
		assert.ErrorIs(t, err, storage.ErrPendingNotFound)
		return nil
	}))

	n, err = store.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLocal_UpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	errBoom := errors.New("boom")

	err := store.Update(ctx, func(tx storage.LocalTx) error {
		if err := tx.Put(localNote("n1", nil)); err != nil {
			return err
		}
		if err := tx.SetCursor(10); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = store.GetEntity(ctx, models.EntityKey{Type: "note", ID: "n1"})
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)

	cursor, err := store.Cursor(ctx)
	require.NoError(t, err)
	assert.Zero(t, cursor)
}

func TestLocal_UpdateCanceledContext(t *testing.T) {
	store := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(tx storage.LocalTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestLocal_Cursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)

	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		v, err := tx.Cursor()
		require.NoError(t, err)
		assert.Zero(t, v)
		return tx.SetCursor(42)
	}))

	cursor, err := store.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), cursor)
}

func TestLocal_Conflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStorage(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Update(ctx, func(tx storage.LocalTx) error {
		for i, id := range []string{"old", "new"} {
			c := &models.ConflictRecord{
				ID:         id,
				Type:       "note",
				EntityID:   "n1",
				Resolution: models.ResolutionDeferredToUser,
				Fields:     []string{"body"},
				CreatedAt:  base.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.SaveConflict(c); err != nil {
				return err
			}
		}
		return nil
	}))

	list, err := store.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "new", list[0].ID)
	assert.Equal(t, []string{"body"}, list[0].Fields)

	require.NoError(t, store.DeleteConflict(ctx, "old"))
	assert.ErrorIs(t, store.DeleteConflict(ctx, "old"), storage.ErrConflictNotFound)

	list, err = store.ListConflicts(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
