// Package store provides the narrow key-value contract the collaborators
// persist through: admission-control counters and review-history records.
// The workflow core itself never touches a store; durability is entirely
// a collaborator concern.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates no entry exists under the requested key.
var ErrNotFound = errors.New("store: key not found")

// ErrVersionConflict indicates a CompareAndSet lost the race: the entry's
// current version no longer matches the caller's expectation. Callers
// re-read and retry.
var ErrVersionConflict = errors.New("store: version conflict")

// Entry is one stored value with its optimistic-concurrency version.
type Entry struct {
	Key       string
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// KV is an optimistically-versioned key-value store. Implementations
// must be safe for concurrent use across workflow invocations.
type KV interface {
	// Get returns the entry under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// CompareAndSet writes value only if the entry's current version
	// matches expectVersion. An expectVersion of zero creates the entry
	// and fails with ErrVersionConflict if it already exists. Returns
	// the new version on success.
	CompareAndSet(ctx context.Context, key string, expectVersion int64, value []byte) (int64, error)

	// Prune removes entries not updated since olderThan and reports how
	// many were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}
