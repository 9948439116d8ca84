// Package store defines the Blob Store abstraction: a keyed, versioned,
// TTL-bearing byte-blob interface that every backing tier (local embedded,
// HTTP remote, gRPC remote) implements identically (spec.md §4.A). Nothing
// above this layer knows or cares how a tier actually persists bytes.
package store

import (
	"context"
	"errors"
	"time"
)

// Status classifies the outcome of a store operation, distinct from Go
// error values so callers can branch on outcome without string matching.
type Status int

const (
	// StatusOK means the operation completed as requested.
	StatusOK Status = iota
	// StatusNotFound means the (table, key) pair has no live value.
	StatusNotFound
	// StatusDataContention means a CAS precondition failed: the value has
	// moved since the caller last read it.
	StatusDataContention
	// StatusError means a transport/storage error occurred; err carries detail.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDataContention:
		return "DATA_CONTENTION"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrNotFound and ErrDataContention are sentinel errors a Store
// implementation's Get/Set may wrap so callers using errors.Is still work
// alongside the explicit Status return.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrDataContention = errors.New("store: data contention")
)

// Result is the outcome of a Get: the raw blob bytes, its current CAS
// token, and the absolute expiry (zero if none).
type Result struct {
	Value    []byte
	CASToken uint64
	Expiry   time.Time
}

// Store is the narrow keyed-blob interface every tier implements. table
// namespaces keys (e.g. "impu", "impi_mapping") without those tiers
// needing any IMS-specific knowledge of what lives inside a blob.
type Store interface {
	// Get fetches the current value for (table, key). StatusNotFound is
	// returned (not an error) when no live value exists.
	Get(ctx context.Context, table, key string) (Result, Status, error)

	// Set writes value for (table, key), conditioned on expectedCAS
	// matching the store's current token for that key (0 means
	// "key must not currently exist"). On success the store assigns and
	// returns a new CAS token. ttl of zero means no expiry.
	Set(ctx context.Context, table, key string, value []byte, expectedCAS uint64, ttl time.Duration) (newCAS uint64, status Status, err error)

	// SetWithoutCAS writes value unconditionally, overwriting any existing
	// value regardless of its current token. Used for charging-address
	// broadcast writes that must not be blocked by a stale reader
	// (spec.md §4.D.2 step 6).
	SetWithoutCAS(ctx context.Context, table, key string, value []byte, ttl time.Duration) (newCAS uint64, status Status, err error)

	// Delete removes (table, key), conditioned on expectedCAS as in Set.
	// A zero expectedCAS means "delete unconditionally".
	Delete(ctx context.Context, table, key string, expectedCAS uint64) (Status, error)

	// Close releases any resources (file handles, connections) held by
	// this tier.
	Close() error
}

// ID identifies one store tier for logging, stats, and Record.Origin
// tagging (spec.md §3's Origin field).
type ID string
