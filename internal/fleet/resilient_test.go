package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabbitreels/autoscaler/internal/resilience"
)

// stubDriver fails a fixed number of calls before succeeding.
type stubDriver struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (d *stubDriver) attempt() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failures > 0 {
		d.failures--
		if d.err != nil {
			return d.err
		}
		return fmt.Errorf("%w: transient", ErrActionFailed)
	}
	return nil
}

func (d *stubDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *stubDriver) Launch(ctx context.Context, workerID string) error { return d.attempt() }
func (d *stubDriver) Stop(ctx context.Context, workerID string) error   { return d.attempt() }
func (d *stubDriver) Kill(ctx context.Context, workerID string) error   { return d.attempt() }
func (d *stubDriver) HealthCheck(ctx context.Context) error             { return nil }
func (d *stubDriver) Close() error                                      { return nil }

func newResilient(inner Driver) *ResilientDriver {
	return NewResilientDriver(inner, ResilientConfig{
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
		MaxFailures: 10,
		OpenTimeout: time.Minute,
	})
}

func TestResilientDriverRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	stub := &stubDriver{failures: 2}
	driver := newResilient(stub)

	require.NoError(t, driver.Launch(ctx, "w1"))
	assert.Equal(t, 3, stub.callCount())
}

func TestResilientDriverGivesUpAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	stub := &stubDriver{failures: 100}
	driver := newResilient(stub)

	assert.ErrorIs(t, driver.Launch(ctx, "w1"), ErrActionFailed)
	assert.Equal(t, 3, stub.callCount())
}

func TestResilientDriverDoesNotRetryUnknownWorker(t *testing.T) {
	ctx := context.Background()
	stub := &stubDriver{failures: 100, err: fmt.Errorf("%w: w1", ErrUnknownWorker)}
	driver := newResilient(stub)

	assert.ErrorIs(t, driver.Stop(ctx, "w1"), ErrUnknownWorker)
	assert.Equal(t, 1, stub.callCount(), "an unknown worker will not appear on retry")
}

func TestResilientDriverBreakerOpens(t *testing.T) {
	ctx := context.Background()
	stub := &stubDriver{failures: 1000}
	driver := NewResilientDriver(stub, ResilientConfig{
		MaxRetries:  3,
		RetryDelay:  time.Millisecond,
		MaxFailures: 3,
		OpenTimeout: time.Minute,
	})

	assert.ErrorIs(t, driver.Launch(ctx, "w1"), ErrActionFailed)
	assert.Equal(t, resilience.StateOpen, driver.BreakerState())

	// while open, calls are rejected without reaching the backend
	before := stub.callCount()
	err := driver.Launch(ctx, "w2")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.Equal(t, before, stub.callCount())
}

func TestResilientDriverHonorsContextBetweenRetries(t *testing.T) {
	stub := &stubDriver{failures: 100}
	driver := NewResilientDriver(stub, ResilientConfig{
		MaxRetries:  3,
		RetryDelay:  time.Minute,
		MaxFailures: 10,
		OpenTimeout: time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := driver.Kill(ctx, "w1")
	assert.ErrorIs(t, err, ErrActionFailed)
	assert.True(t, errors.Is(ctx.Err(), context.DeadlineExceeded))
	assert.Equal(t, 1, stub.callCount())
}
