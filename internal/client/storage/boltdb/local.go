package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/iudanet/gophsync/internal/client/storage"
	"github.com/iudanet/gophsync/internal/models"
)

// Update выполняет fn в одной транзакции записи bbolt
func (s *Storage) Update(ctx context.Context, fn func(tx storage.LocalTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return fn(&localTx{tx: tx})
	})
}

// GetEntity returns the local entity by key
func (s *Storage) GetEntity(ctx context.Context, key models.EntityKey) (*storage.LocalEntity, error) {
	var local *storage.LocalEntity
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		local, err = (&localTx{tx: tx}).Get(key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return local, nil
}

// ListEntities returns local entities of the given type sorted by key
func (s *Storage) ListEntities(ctx context.Context, entityType string) ([]*storage.LocalEntity, error) {
	var out []*storage.LocalEntity
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketEntities)
		if err != nil {
			return err
		}

		c := b.Cursor()
		var prefix []byte
		k, v := c.First()
		if entityType != "" {
			prefix = []byte(entityType + "/")
			k, v = c.Seek(prefix)
		}
		for ; k != nil && (prefix == nil || strings.HasPrefix(string(k), string(prefix))); k, v = c.Next() {
			local := &storage.LocalEntity{}
			if err := json.Unmarshal(v, local); err != nil {
				return fmt.Errorf("failed to unmarshal entity %s: %w", k, err)
			}
			out = append(out, local)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListPending returns pending changes with Seq > afterSeq ordered by Seq.
// limit <= 0 means no limit
func (s *Storage) ListPending(ctx context.Context, afterSeq uint64, limit int) ([]*storage.PendingChange, error) {
	var out []*storage.PendingChange
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketPending)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			p := &storage.PendingChange{}
			if err := json.Unmarshal(v, p); err != nil {
				return fmt.Errorf("failed to unmarshal pending change %s: %w", k, err)
			}
			if p.Seq > afterSeq {
				out = append(out, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountPending returns the number of changes waiting to be pushed
func (s *Storage) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketPending)
		if err != nil {
			return err
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// ListConflicts returns locally recorded conflicts, newest first
func (s *Storage) ListConflicts(ctx context.Context) ([]*models.ConflictRecord, error) {
	var out []*models.ConflictRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketConflicts)
		if err != nil {
			return err
		}
		return b.ForEach(func(k, v []byte) error {
			c := &models.ConflictRecord{}
			if err := json.Unmarshal(v, c); err != nil {
				return fmt.Errorf("failed to unmarshal conflict %s: %w", k, err)
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteConflict removes a conflict from the local log
func (s *Storage) DeleteConflict(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketConflicts)
		if err != nil {
			return err
		}
		if b.Get([]byte(id)) == nil {
			return storage.ErrConflictNotFound
		}
		return b.Delete([]byte(id))
	})
}

// localTx реализует storage.LocalTx поверх транзакции bbolt
type localTx struct {
	tx *bbolt.Tx
}

var _ storage.LocalTx = (*localTx)(nil)

func (t *localTx) Get(key models.EntityKey) (*storage.LocalEntity, error) {
	b, err := bucket(t.tx, bucketEntities)
	if err != nil {
		return nil, err
	}
	data := b.Get([]byte(key.String()))
	if data == nil {
		return nil, storage.ErrEntityNotFound
	}
	local := &storage.LocalEntity{}
	if err := json.Unmarshal(data, local); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity %s: %w", key, err)
	}
	return local, nil
}

func (t *localTx) Put(local *storage.LocalEntity) error {
	return t.put(bucketEntities, local.Key().String(), local)
}

func (t *localTx) Delete(key models.EntityKey) error {
	b, err := bucket(t.tx, bucketEntities)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key.String()))
}

func (t *localTx) Pending(key models.EntityKey) (*storage.PendingChange, error) {
	b, err := bucket(t.tx, bucketPending)
	if err != nil {
		return nil, err
	}
	data := b.Get([]byte(key.String()))
	if data == nil {
		return nil, storage.ErrPendingNotFound
	}
	p := &storage.PendingChange{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending change %s: %w", key, err)
	}
	return p, nil
}

func (t *localTx) PutPending(p *storage.PendingChange) error {
	if p.Seq == 0 {
		b, err := bucket(t.tx, bucketPending)
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate pending sequence: %w", err)
		}
		p.Seq = seq
	}
	return t.put(bucketPending, p.Change.Key().String(), p)
}

func (t *localTx) DeletePending(key models.EntityKey) error {
	b, err := bucket(t.tx, bucketPending)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key.String()))
}

func (t *localTx) SaveConflict(c *models.ConflictRecord) error {
	return t.put(bucketConflicts, c.ID, c)
}

func (t *localTx) Cursor() (uint64, error) {
	b, err := bucket(t.tx, bucketMetadata)
	if err != nil {
		return 0, err
	}
	return decodeUint64(b.Get(keyCursor)), nil
}

func (t *localTx) SetCursor(v uint64) error {
	b, err := bucket(t.tx, bucketMetadata)
	if err != nil {
		return err
	}
	return b.Put(keyCursor, encodeUint64(v))
}

func (t *localTx) put(name []byte, key string, v any) error {
	b, err := bucket(t.tx, name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s value: %w", name, err)
	}
	if err := b.Put([]byte(key), data); err != nil {
		return fmt.Errorf("failed to save %s value: %w", name, err)
	}
	return nil
}
