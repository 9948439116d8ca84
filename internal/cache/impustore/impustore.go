// Package impustore provides the typed wrapper around one Blob Store tier:
// it speaks model.Record in and out, handles codec encode/decode, and
// stamps the tier's ID onto every record it returns as Origin (spec.md
// §4.A/§4.C). The Reconciler is the only caller; nothing above impustore
// ever touches raw bytes.
package impustore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/metaswitch/homestead-cache/internal/cache/codec"
	"github.com/metaswitch/homestead-cache/internal/cache/model"
	"github.com/metaswitch/homestead-cache/internal/cache/store"
)

// ErrNotFound is returned (as a plain sentinel, not store.ErrNotFound) so
// callers outside this package don't need to import store just to check
// presence.
var ErrNotFound = errors.New("impustore: not found")

// ErrContention is returned when a CAS-conditioned write loses the race.
var ErrContention = errors.New("impustore: cas contention")

// Store wraps one store.Store tier with IMS-typed Record access.
type Store struct {
	id      store.ID
	backing store.Store
}

// New wraps backing, tagging every Record it returns with id as Origin.
func New(id store.ID, backing store.Store) *Store {
	return &Store{id: id, backing: backing}
}

// ID reports which tier this wrapper sits on top of.
func (s *Store) ID() store.ID { return s.id }

// GetIMPU fetches the Default- or Associated-IMPU record stored under impu.
func (s *Store) GetIMPU(ctx context.Context, impu string) (*model.Record, error) {
	return s.get(ctx, "impu", impu)
}

// SetIMPU writes rec (Default- or Associated-IMPU) under CAS protection.
// expectedCAS must equal rec's previously-read CASToken (0 for create).
func (s *Store) SetIMPU(ctx context.Context, rec *model.Record, expectedCAS uint64, ttl time.Duration) (uint64, error) {
	return s.set(ctx, rec, expectedCAS, ttl, false)
}

// SetIMPUWithoutCAS writes rec unconditionally (spec.md §4.D.2 step 6,
// charging-address broadcast writes).
func (s *Store) SetIMPUWithoutCAS(ctx context.Context, rec *model.Record, ttl time.Duration) (uint64, error) {
	return s.set(ctx, rec, 0, ttl, true)
}

// DeleteIMPU removes the record at impu, conditioned on expectedCAS (0 =
// unconditional).
func (s *Store) DeleteIMPU(ctx context.Context, impu string, expectedCAS uint64) error {
	return s.delete(ctx, "impu", impu, expectedCAS)
}

// GetIMPIMapping fetches the IMPI-Mapping record stored under impi.
func (s *Store) GetIMPIMapping(ctx context.Context, impi string) (*model.Record, error) {
	return s.get(ctx, "impi_mapping", impi)
}

// SetIMPIMapping writes an IMPI-Mapping record under CAS protection.
func (s *Store) SetIMPIMapping(ctx context.Context, rec *model.Record, expectedCAS uint64, ttl time.Duration) (uint64, error) {
	return s.set(ctx, rec, expectedCAS, ttl, false)
}

// DeleteIMPIMapping removes the IMPI-Mapping record at impi.
func (s *Store) DeleteIMPIMapping(ctx context.Context, impi string, expectedCAS uint64) error {
	return s.delete(ctx, "impi_mapping", impi, expectedCAS)
}

func (s *Store) get(ctx context.Context, table, key string) (*model.Record, error) {
	res, status, err := s.backing.Get(ctx, table, key)
	if err != nil {
		return nil, fmt.Errorf("impustore: get %s/%s: %w", table, key, err)
	}
	if status == store.StatusNotFound {
		return nil, ErrNotFound
	}
	rec, err := codec.Decode(res.Value, table, key)
	if err != nil {
		return nil, fmt.Errorf("impustore: decode %s/%s: %w", table, key, err)
	}
	rec.CASToken = res.CASToken
	rec.Origin = model.Origin{StoreID: string(s.id)}
	if !res.Expiry.IsZero() {
		rec.Expiry = res.Expiry.Unix()
	}
	return rec, nil
}

func (s *Store) set(ctx context.Context, rec *model.Record, expectedCAS uint64, ttl time.Duration, withoutCAS bool) (uint64, error) {
	table, key := rec.Key()
	blob, err := codec.Encode(rec)
	if err != nil {
		return 0, fmt.Errorf("impustore: encode %s/%s: %w", table, key, err)
	}

	var newCAS uint64
	var status store.Status
	if withoutCAS {
		newCAS, status, err = s.backing.SetWithoutCAS(ctx, table, key, blob, ttl)
	} else {
		newCAS, status, err = s.backing.Set(ctx, table, key, blob, expectedCAS, ttl)
	}
	if status == store.StatusDataContention {
		return 0, ErrContention
	}
	if err != nil {
		return 0, fmt.Errorf("impustore: set %s/%s: %w", table, key, err)
	}
	return newCAS, nil
}

func (s *Store) delete(ctx context.Context, table, key string, expectedCAS uint64) error {
	status, err := s.backing.Delete(ctx, table, key, expectedCAS)
	if status == store.StatusDataContention {
		return ErrContention
	}
	if status == store.StatusNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("impustore: delete %s/%s: %w", table, key, err)
	}
	return nil
}
