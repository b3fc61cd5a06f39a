// Package controller implements the scaling controller loop: the only
// component permitted to mutate the fleet. Each cycle runs the health
// sweep, then the drain sweep, then the scale evaluation against the
// latest snapshot.
package controller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/fleet"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/metrics"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

type Config struct {
	Interval                time.Duration
	ActionTimeout           time.Duration
	MinWorkers              int
	MaxWorkers              int
	CooldownPeriod          time.Duration
	HeartbeatTimeout        time.Duration
	GracefulShutdownTimeout time.Duration
}

// FleetState is the controller's coarse state: Idle between actions,
// CoolingDown for cooldown_period after an executed action.
type FleetState string

const (
	FleetIdle        FleetState = "idle"
	FleetCoolingDown FleetState = "cooling_down"
)

type Controller struct {
	cfg       Config
	workers   *registry.WorkerRegistry
	snapshots *registry.SnapshotStore
	driver    fleet.Driver
	broker    broker.Client
	publisher *events.Publisher
	now       func() time.Time

	mu         sync.Mutex
	lastAction time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, workers *registry.WorkerRegistry, snapshots *registry.SnapshotStore, driver fleet.Driver, brokerClient broker.Client, publisher *events.Publisher) *Controller {
	return &Controller{
		cfg:       cfg,
		workers:   workers,
		snapshots: snapshots,
		driver:    driver,
		broker:    brokerClient,
		publisher: publisher,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start reloads the cooldown anchor from the registry, then runs the
// control loop until Stop or ctx cancellation.
func (c *Controller) Start(ctx context.Context) error {
	lastAction, err := c.snapshots.LastAction(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastAction = lastAction
	c.mu.Unlock()

	ctx, c.cancel = context.WithCancel(ctx)

	go func() {
		defer close(c.done)

		logger.WithComponent("controller").Infof("starting, interval %s", c.cfg.Interval)

		c.runCycle(ctx)

		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("controller").Info("stopped")
				return
			case <-ticker.C:
				c.runCycle(ctx)
			}
		}
	}()

	return nil
}

func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// State reports whether the fleet is cooling down, for the health
// endpoint.
func (c *Controller) State() FleetState {
	if c.coolingDown(c.now()) {
		return FleetCoolingDown
	}
	return FleetIdle
}

func (c *Controller) coolingDown(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastAction.IsZero() && now.Sub(c.lastAction) < c.cfg.CooldownPeriod
}

func (c *Controller) runCycle(ctx context.Context) {
	start := c.now()

	records, err := c.workers.List(ctx)
	if err != nil {
		logger.WithComponent("controller").Errorf("failed to list workers: %v", err)
		c.publisher.Error("controller", err)
		return
	}

	now := c.now()

	// Order matters: a worker discovered unhealthy here must not count as
	// active in this cycle's scale evaluation.
	records = c.sweepHealth(ctx, records, now)
	records = c.sweepDrains(ctx, records, now)

	snap, err := c.snapshots.Latest(ctx)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			logger.WithComponent("controller").Errorf("failed to read snapshot: %v", err)
			c.publisher.Error("controller", err)
		}
	} else {
		c.evaluate(ctx, snap, records, now)
	}

	metrics.ObserveCycle("controller", c.now().Sub(start))
}

// evaluate applies the latest snapshot's target. Stale snapshots carry no
// new information; cooldown rate-limits executed actions, not evaluations.
// The direction is recomputed against the post-sweep active count rather
// than taken from the recommendation, so a fleet thinned by this cycle's
// health sweep gets its compensating scale-up in the same cycle.
func (c *Controller) evaluate(ctx context.Context, snap *models.MetricsSnapshot, records []*models.WorkerRecord, now time.Time) {
	if snap.Stale {
		logger.WithComponent("controller").Debug("snapshot stale, skipping evaluation")
		return
	}
	if c.coolingDown(now) {
		logger.WithComponent("controller").Debugf("cooling down, deferring %s", snap.Recommendation)
		return
	}

	active := countActive(records)
	target := snap.TargetWorkers

	switch {
	case target > active:
		c.scaleUp(ctx, active, target, now)
	case target < active:
		c.scaleDown(ctx, records, active, target, now)
	}
}

func (c *Controller) scaleUp(ctx context.Context, active, target int, now time.Time) {
	need := target - active
	if need <= 0 {
		return
	}

	launched := 0
	for i := 0; i < need; i++ {
		rec := models.NewWorkerRecord(now)
		if err := c.workers.Register(ctx, rec); err != nil {
			logger.WithComponent("controller").Errorf("failed to register worker: %v", err)
			c.publisher.Error("controller", err)
			continue
		}

		actx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
		err := c.driver.Launch(actx, rec.ID)
		cancel()
		if err != nil {
			// The record must not linger as a phantom Starting worker.
			if delErr := c.workers.Delete(ctx, rec.ID); delErr != nil {
				logger.WithWorker(rec.ID).Errorf("failed to remove record after launch failure: %v", delErr)
			}
			metrics.RecordActionFailure()
			c.publisher.ScalingFailed(models.ActionScaleUp, err)
			continue
		}

		launched++
		c.publisher.WorkerLaunched(rec.ID)
	}

	if launched > 0 {
		c.recordAction(ctx, &models.ScalingEvent{
			FromCount: active,
			ToCount:   active + launched,
			Action:    models.ActionScaleUp,
			Reason:    models.ReasonQueueBacklog,
			Timestamp: now,
		})
	}

	if launched < need && active+launched < c.cfg.MinWorkers {
		logger.WithComponent("controller").Errorf(
			"fleet at %d, below floor of %d, and scale-up failing", active+launched, c.cfg.MinWorkers)
		c.publisher.FloorViolation(active+launched, c.cfg.MinWorkers)
	}
}

// scaleDown drains idle workers only. In-flight jobs are never
// interrupted; when idle workers cannot cover the surplus the deficit
// carries to the next cycle with no event and no cooldown.
func (c *Controller) scaleDown(ctx context.Context, records []*models.WorkerRecord, active, target int, now time.Time) {
	surplus := active - target
	if surplus <= 0 {
		return
	}

	var idle []*models.WorkerRecord
	for _, rec := range records {
		if rec.Status == models.WorkerIdle {
			idle = append(idle, rec)
		}
	}
	// Drain the longest-running first.
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].StartedAt.Before(idle[j].StartedAt)
	})

	drained := 0
	for _, rec := range idle {
		if drained >= surplus {
			break
		}
		if err := c.workers.SetStatus(ctx, rec.ID, models.WorkerDraining, now); err != nil {
			logger.WithWorker(rec.ID).Errorf("failed to mark draining: %v", err)
			c.publisher.Error("controller", err)
			continue
		}
		rec.Status = models.WorkerDraining
		drained++
		logger.WithWorker(rec.ID).Info("worker draining")
	}

	if drained > 0 {
		c.recordAction(ctx, &models.ScalingEvent{
			FromCount: active,
			ToCount:   active - drained,
			Action:    models.ActionScaleDown,
			Reason:    models.ReasonIdleFleet,
			Timestamp: now,
		})
	}

	if drained < surplus {
		logger.WithComponent("controller").Infof(
			"scale-down deficit of %d deferred, no idle workers to drain", surplus-drained)
	}
}

// recordAction persists the cooldown anchor and announces the event. The
// registry write comes first so a crash cannot produce actions closer
// together than the cooldown period.
func (c *Controller) recordAction(ctx context.Context, evt *models.ScalingEvent) {
	if err := c.snapshots.RecordAction(ctx, evt.Timestamp); err != nil {
		logger.WithComponent("controller").Errorf("failed to persist action time: %v", err)
	}

	c.mu.Lock()
	c.lastAction = evt.Timestamp
	c.mu.Unlock()

	metrics.RecordScalingAction(evt.Action)
	c.publisher.ScalingExecuted(evt)

	logger.WithFields(map[string]interface{}{
		"action":     evt.Action,
		"from_count": evt.FromCount,
		"to_count":   evt.ToCount,
		"reason":     evt.Reason,
	}).Info("scaling action executed")
}

func countActive(records []*models.WorkerRecord) int {
	active := 0
	for _, rec := range records {
		if rec.IsActive() {
			active++
		}
	}
	return active
}
