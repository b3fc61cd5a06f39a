// Package registry is the shared key-value state backing both control
// loops and the worker agents. The monitor and controller never call each
// other; everything they exchange goes through a Store.
package registry

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("registry: key not found")
	// ErrConflict is returned by CompareAndSwap when the stored version no
	// longer matches the caller's.
	ErrConflict    = errors.New("registry: version conflict")
	ErrUnavailable = errors.New("registry: backend unavailable")
)

// Store is the narrow interface over the external registry. Versioned
// compare-and-swap is the only concurrency primitive the autoscaler needs;
// each record field has exactly one writer, CAS just keeps whole-record
// read-modify-write cycles from losing updates.
//
// Lists are bounded, newest-first (push prepends, range returns most recent
// entries first).
type Store interface {
	// Get returns the value and its current version.
	Get(ctx context.Context, key string) ([]byte, int64, error)
	// Set writes unconditionally, bumping the version.
	Set(ctx context.Context, key string, value []byte) error
	// CompareAndSwap writes only if the stored version matches. Version 0
	// means "create, fail if the key already exists".
	CompareAndSwap(ctx context.Context, key string, value []byte, version int64) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)

	PushList(ctx context.Context, key string, value []byte, maxLen int) error
	// RangeList returns up to n entries, newest first. n <= 0 returns all.
	RangeList(ctx context.Context, key string, n int) ([][]byte, error)

	Close() error
}
