// Package agent is the lifecycle agent embedded in each worker process.
// It makes the worker's true state observable through the registry and
// makes shutdown safe: exit only when idle or after the graceful deadline.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

type Config struct {
	HeartbeatInterval       time.Duration
	GracefulShutdownTimeout time.Duration
}

type Agent struct {
	id      string
	cfg     Config
	workers *registry.WorkerRegistry
	now     func() time.Time

	mu         sync.Mutex
	status     models.WorkerStatus
	currentJob string
	processed  int
	failed     int
	startedAt  time.Time

	drainOnce sync.Once
	draining  chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an agent for the given worker id. An empty id generates one,
// for workers started outside the controller.
func New(id string, cfg Config, workers *registry.WorkerRegistry) *Agent {
	if id == "" {
		id = models.NewUUID()
	}
	return &Agent{
		id:       id,
		cfg:      cfg,
		workers:  workers,
		now:      time.Now,
		status:   models.WorkerStarting,
		draining: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (a *Agent) ID() string {
	return a.id
}

// Start ensures the record exists and begins heartbeating. The controller
// normally pre-registers the record at launch; a worker started by hand
// registers its own.
func (a *Agent) Start(ctx context.Context) error {
	now := a.now()
	a.mu.Lock()
	a.startedAt = now
	a.mu.Unlock()

	_, _, err := a.workers.Get(ctx, a.id)
	if errors.Is(err, registry.ErrNotFound) {
		rec := &models.WorkerRecord{
			ID:            a.id,
			Status:        models.WorkerStarting,
			LastHeartbeat: now,
			StartedAt:     now,
		}
		err = a.workers.Register(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("failed to start agent for worker %s: %w", a.id, err)
	}

	ctx, a.cancel = context.WithCancel(ctx)
	go a.heartbeatLoop(ctx)

	logger.WithWorker(a.id).Info("lifecycle agent started")
	return nil
}

// Ready flips the worker to Idle once initialization succeeds.
func (a *Agent) Ready(ctx context.Context) error {
	if err := a.workers.SetStatus(ctx, a.id, models.WorkerIdle, a.now()); err != nil {
		return err
	}
	a.setStatus(models.WorkerIdle)
	logger.WithWorker(a.id).Info("worker ready")
	return nil
}

// FailStartup reports Unhealthy when initialization fails. The caller is
// expected to exit; the controller's sweep frees the record.
func (a *Agent) FailStartup(ctx context.Context, cause error) error {
	logger.WithWorker(a.id).Errorf("initialization failed: %v", cause)
	if err := a.workers.SetStatus(ctx, a.id, models.WorkerUnhealthy, a.now()); err != nil {
		return err
	}
	a.setStatus(models.WorkerUnhealthy)
	return nil
}

// ClaimJob records the claimed job and flips to Busy.
func (a *Agent) ClaimJob(ctx context.Context, jobID string) error {
	a.mu.Lock()
	a.status = models.WorkerBusy
	a.currentJob = jobID
	a.mu.Unlock()
	return a.beat(ctx)
}

// FinishJob clears the job, bumps the counters, pushes the processing
// sample, and flips back to Idle.
func (a *Agent) FinishJob(ctx context.Context, success bool, took time.Duration) error {
	a.mu.Lock()
	a.status = models.WorkerIdle
	a.currentJob = ""
	if success {
		a.processed++
	} else {
		a.failed++
	}
	a.mu.Unlock()

	if success {
		if err := a.workers.PushProcessingTime(ctx, took, a.now()); err != nil {
			logger.WithWorker(a.id).Warnf("failed to push processing time: %v", err)
		}
	}
	return a.beat(ctx)
}

// Drain signals the worker loop to stop claiming work. Idempotent; fired
// by SIGTERM or by the controller marking the record Draining.
func (a *Agent) Drain() {
	a.drainOnce.Do(func() {
		close(a.draining)
		logger.WithWorker(a.id).Info("drain requested")
	})
}

// Draining is closed once a drain has been requested.
func (a *Agent) Draining() <-chan struct{} {
	return a.draining
}

func (a *Agent) IsDraining() bool {
	select {
	case <-a.draining:
		return true
	default:
		return false
	}
}

// DrainDeadline bounds how long a busy worker may keep its job after a
// drain request.
func (a *Agent) DrainDeadline() time.Duration {
	return a.cfg.GracefulShutdownTimeout
}

// Exit reports Draining then Terminated and stops the heartbeat loop.
// Last act before process exit, so the controller frees the record
// immediately instead of waiting out the heartbeat timeout.
func (a *Agent) Exit(ctx context.Context) error {
	now := a.now()
	if err := a.workers.SetStatus(ctx, a.id, models.WorkerDraining, now); err != nil && !isAlreadyDraining(err) {
		logger.WithWorker(a.id).Warnf("failed to report draining: %v", err)
	}
	err := a.workers.SetStatus(ctx, a.id, models.WorkerTerminated, now)
	if err != nil {
		logger.WithWorker(a.id).Errorf("failed to report terminated: %v", err)
	}

	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	logger.WithWorker(a.id).Info("lifecycle agent exited")
	return err
}

func isAlreadyDraining(err error) bool {
	// SetStatus treats same-status as a no-op, so only a genuinely
	// illegal edge (e.g. already Terminated) lands here.
	return errors.Is(err, models.ErrIllegalTransition)
}

func (a *Agent) setStatus(status models.WorkerStatus) {
	a.mu.Lock()
	a.status = status
	a.mu.Unlock()
}

// Snapshot returns the agent's local view for the health endpoint.
func (a *Agent) Snapshot() (status models.WorkerStatus, jobID string, processed, failed int, uptime time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status, a.currentJob, a.processed, a.failed, a.now().Sub(a.startedAt)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.beat(ctx); err != nil && ctx.Err() == nil {
				logger.WithWorker(a.id).Warnf("heartbeat failed: %v", err)
			}
		}
	}
}

// beat writes the worker-owned fields and picks up a controller-initiated
// drain from the stored record.
func (a *Agent) beat(ctx context.Context) error {
	a.mu.Lock()
	status := a.status
	jobID := a.currentJob
	processed := a.processed
	failed := a.failed
	a.mu.Unlock()

	if err := a.workers.Heartbeat(ctx, a.id, status, jobID, processed, failed, a.now()); err != nil {
		return err
	}

	rec, _, err := a.workers.Get(ctx, a.id)
	if err != nil {
		return err
	}
	if rec.Status == models.WorkerDraining && !a.IsDraining() {
		a.Drain()
	}
	return nil
}
