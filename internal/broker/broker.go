// Package broker adapts the message broker's management API for the
// autoscaler. The control loops only ever read the pending-message count
// and request job redelivery; they never touch job payloads.
package broker

import (
	"context"
	"errors"
)

var (
	// ErrSourceUnavailable marks broker read failures. The monitor reacts
	// by republishing the previous snapshot as stale, never by fabricating
	// a zero-load reading.
	ErrSourceUnavailable = errors.New("broker: source unavailable")
)

// Client exposes the broker operations the monitor and controller need.
type Client interface {
	// QueueDepth returns the count of jobs submitted but not yet claimed.
	QueueDepth(ctx context.Context) (int, error)
	// Release puts a claimed job back on the queue for redelivery, used
	// when its worker is presumed dead or force-killed.
	Release(ctx context.Context, jobID string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// Job is an opaque unit of work. The autoscaler reasons about counts and
// ids only; Payload passes through untouched.
type Job struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload,omitempty"`
}

// JobSource is the worker-side feed. Claim returns nil when the queue is
// empty.
type JobSource interface {
	Claim(ctx context.Context) (*Job, error)
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string) error
	Close() error
}
