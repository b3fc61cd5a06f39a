package fleet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/resilience"
)

// ResilientDriver wraps a Driver with bounded retries and a circuit
// breaker, so a flapping orchestration backend degrades into skipped
// cycles instead of hammering.
type ResilientDriver struct {
	inner      Driver
	breaker    *resilience.CircuitBreaker
	maxRetries int
	retryDelay time.Duration
}

type ResilientConfig struct {
	MaxRetries  int
	RetryDelay  time.Duration
	MaxFailures int
	OpenTimeout time.Duration
}

func NewResilientDriver(inner Driver, cfg ResilientConfig) *ResilientDriver {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "fleet-driver",
		MaxFailures: cfg.MaxFailures,
		Timeout:     cfg.OpenTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.WithComponent(name).Warnf("circuit breaker %s -> %s", from, to)
		},
	})

	return &ResilientDriver{
		inner:      inner,
		breaker:    breaker,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

func (r *ResilientDriver) Launch(ctx context.Context, workerID string) error {
	return r.execute(ctx, "launch", workerID, func() error {
		return r.inner.Launch(ctx, workerID)
	})
}

func (r *ResilientDriver) Stop(ctx context.Context, workerID string) error {
	return r.execute(ctx, "stop", workerID, func() error {
		return r.inner.Stop(ctx, workerID)
	})
}

func (r *ResilientDriver) Kill(ctx context.Context, workerID string) error {
	return r.execute(ctx, "kill", workerID, func() error {
		return r.inner.Kill(ctx, workerID)
	})
}

func (r *ResilientDriver) execute(ctx context.Context, op, workerID string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		err := r.breaker.Execute(fn)
		if err == nil {
			return nil
		}
		// An unknown worker will not appear on retry.
		if errors.Is(err, ErrUnknownWorker) {
			return err
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return fmt.Errorf("%w: %s %s: %v", ErrActionFailed, op, workerID, err)
		}
		lastErr = err

		logger.WithWorker(workerID).Warnf("%s attempt %d/%d failed: %v", op, attempt, r.maxRetries, err)

		if attempt < r.maxRetries {
			select {
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %s %s: %v", ErrActionFailed, op, workerID, ctx.Err())
			}
		}
	}
	return fmt.Errorf("%w: %s %s after %d attempts: %v", ErrActionFailed, op, workerID, r.maxRetries, lastErr)
}

func (r *ResilientDriver) HealthCheck(ctx context.Context) error {
	return r.inner.HealthCheck(ctx)
}

func (r *ResilientDriver) BreakerState() resilience.State {
	return r.breaker.State()
}

func (r *ResilientDriver) Close() error {
	return r.inner.Close()
}
