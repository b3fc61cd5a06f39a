// Package fleet drives the orchestration primitive that starts and stops
// worker instances. The controller is its only caller.
package fleet

import (
	"context"
	"errors"
)

var (
	// ErrActionFailed marks a start/stop/kill the orchestration backend
	// rejected. The controller logs it and retries on later cycles.
	ErrActionFailed = errors.New("fleet: action failed")
	// ErrUnknownWorker means the backend has no instance for the id,
	// usually because it already exited.
	ErrUnknownWorker = errors.New("fleet: unknown worker")
)

// Driver starts and stops worker instances. Stop requests a graceful
// shutdown; Kill is immediate and used only after a drain deadline or a
// heartbeat timeout.
type Driver interface {
	Launch(ctx context.Context, workerID string) error
	Stop(ctx context.Context, workerID string) error
	Kill(ctx context.Context, workerID string) error
	HealthCheck(ctx context.Context) error
	Close() error
}
