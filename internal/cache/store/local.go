package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/tidwall/buntdb"
)

// Local is the embedded, single-process Blob Store tier, backed by
// buntdb's in-memory/file-backed KV engine. buntdb serializes all writers
// through a single RWMutex internally, which is exactly the property CAS
// needs: the read-compare-write sequence below is safe without any
// additional locking as long as it all happens inside one db.Update.
type Local struct {
	db      *buntdb.DB
	casSeed uint64 // source of every CAS token this store hands out, monotonic across all keys
}

// NewLocal opens (creating if absent) a buntdb database at path. Pass
// ":memory:" for a non-persistent store, matching buntdb's own convention.
func NewLocal(path string) (*Local, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("store: open local db %q: %w", path, err)
	}
	return &Local{db: db}, nil
}

func dbKey(table, key string) string {
	return table + "\x00" + key
}

// envelope is the on-disk buntdb value: an 8-byte big-endian CAS token
// followed by the caller's raw blob. buntdb itself only knows strings; the
// CAS token has to travel inside the value since buntdb has no side-table
// for arbitrary per-key metadata.
func encodeEnvelope(cas uint64, value []byte) string {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], cas)
	copy(buf[8:], value)
	return string(buf)
}

func decodeEnvelope(raw string) (cas uint64, value []byte, err error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("store: corrupt envelope (len=%d)", len(raw))
	}
	cas = binary.BigEndian.Uint64([]byte(raw[:8]))
	value = []byte(raw[8:])
	return cas, value, nil
}

func (l *Local) Get(_ context.Context, table, key string) (Result, Status, error) {
	var res Result
	var status Status
	err := l.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(dbKey(table, key))
		if err == buntdb.ErrNotFound {
			status = StatusNotFound
			return nil
		}
		if err != nil {
			return err
		}
		cas, value, err := decodeEnvelope(raw)
		if err != nil {
			return err
		}
		res = Result{Value: value, CASToken: cas}
		if ttl, err := tx.TTL(dbKey(table, key)); err == nil && ttl > 0 {
			res.Expiry = time.Now().Add(ttl)
		}
		status = StatusOK
		return nil
	})
	if err != nil {
		return Result{}, StatusError, fmt.Errorf("store: local get: %w", err)
	}
	if status == StatusNotFound {
		return Result{}, StatusNotFound, nil
	}
	return res, StatusOK, nil
}

func (l *Local) Set(_ context.Context, table, key string, value []byte, expectedCAS uint64, ttl time.Duration) (uint64, Status, error) {
	var newCAS uint64
	var status Status
	err := l.db.Update(func(tx *buntdb.Tx) error {
		dk := dbKey(table, key)
		existing, getErr := tx.Get(dk)
		var currentCAS uint64
		exists := getErr == nil
		if exists {
			cas, _, decErr := decodeEnvelope(existing)
			if decErr != nil {
				return decErr
			}
			currentCAS = cas
		} else if getErr != buntdb.ErrNotFound {
			return getErr
		}

		if expectedCAS == 0 {
			if exists {
				status = StatusDataContention
				return nil
			}
		} else if !exists || currentCAS != expectedCAS {
			status = StatusDataContention
			return nil
		}

		newCAS = atomic.AddUint64(&l.casSeed, 1)
		opts := &buntdb.SetOptions{}
		if ttl > 0 {
			opts.Expires = true
			opts.TTL = ttl
		}
		_, _, err := tx.Set(dk, encodeEnvelope(newCAS, value), opts)
		if err != nil {
			return err
		}
		status = StatusOK
		return nil
	})
	if err != nil {
		return 0, StatusError, fmt.Errorf("store: local set: %w", err)
	}
	if status == StatusDataContention {
		return 0, StatusDataContention, ErrDataContention
	}
	return newCAS, StatusOK, nil
}

func (l *Local) SetWithoutCAS(_ context.Context, table, key string, value []byte, ttl time.Duration) (uint64, Status, error) {
	var newCAS uint64
	err := l.db.Update(func(tx *buntdb.Tx) error {
		newCAS = atomic.AddUint64(&l.casSeed, 1)
		opts := &buntdb.SetOptions{}
		if ttl > 0 {
			opts.Expires = true
			opts.TTL = ttl
		}
		_, _, err := tx.Set(dbKey(table, key), encodeEnvelope(newCAS, value), opts)
		return err
	})
	if err != nil {
		return 0, StatusError, fmt.Errorf("store: local set-without-cas: %w", err)
	}
	return newCAS, StatusOK, nil
}

func (l *Local) Delete(_ context.Context, table, key string, expectedCAS uint64) (Status, error) {
	var status Status
	err := l.db.Update(func(tx *buntdb.Tx) error {
		dk := dbKey(table, key)
		existing, getErr := tx.Get(dk)
		if getErr == buntdb.ErrNotFound {
			status = StatusNotFound
			return nil
		}
		if getErr != nil {
			return getErr
		}
		if expectedCAS != 0 {
			cas, _, decErr := decodeEnvelope(existing)
			if decErr != nil {
				return decErr
			}
			if cas != expectedCAS {
				status = StatusDataContention
				return nil
			}
		}
		if _, err := tx.Delete(dk); err != nil && err != buntdb.ErrNotFound {
			return err
		}
		status = StatusOK
		return nil
	})
	if err != nil {
		return StatusError, fmt.Errorf("store: local delete: %w", err)
	}
	if status == StatusDataContention {
		return StatusDataContention, ErrDataContention
	}
	return status, nil
}

func (l *Local) Close() error {
	return l.db.Close()
}
