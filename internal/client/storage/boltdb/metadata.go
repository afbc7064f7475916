package boltdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var (
	keyDeviceID = []byte("device_id")
	keyLastSync = []byte("last_sync")
	keyCursor   = []byte("cursor")
)

// DeviceID returns the stored device identifier or empty string
func (s *Storage) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}
		id = string(b.Get(keyDeviceID))
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to get device id: %w", err)
	}
	return id, nil
}

// SaveDeviceID saves the device identifier
func (s *Storage) SaveDeviceID(ctx context.Context, deviceID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}
		if err := b.Put(keyDeviceID, []byte(deviceID)); err != nil {
			return fmt.Errorf("failed to save device id: %w", err)
		}
		return nil
	})
}

// SaveLastSync saves the time of the last successful sync
func (s *Storage) SaveLastSync(ctx context.Context, t time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}
		if err := b.Put(keyLastSync, encodeUint64(uint64(t.UnixNano()))); err != nil {
			return fmt.Errorf("failed to save last sync time: %w", err)
		}
		return nil
	})
}

// LastSync returns the time of the last successful sync.
// Returns zero time if no sync has been performed yet
func (s *Storage) LastSync(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucket(tx, bucketMetadata)
		if err != nil {
			return err
		}
		if v := b.Get(keyLastSync); v != nil {
			t = time.Unix(0, int64(decodeUint64(v)))
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync time: %w", err)
	}
	return t, nil
}

// Cursor возвращает последнюю версию, полученную через pull
func (s *Storage) Cursor(ctx context.Context) (uint64, error) {
	var cursor uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		cursor, err = (&localTx{tx: tx}).Cursor()
		return err
	})
	return cursor, err
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
