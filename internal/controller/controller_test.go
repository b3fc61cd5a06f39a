package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/fleet"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

type controllerFixture struct {
	controller *Controller
	workers    *registry.WorkerRegistry
	snapshots  *registry.SnapshotStore
	sim        *fleet.Simulator
	broker     *broker.Mock
	bus        *events.Bus
	events     <-chan models.Event
	now        time.Time
}

func newControllerFixture(t *testing.T, cfg Config) *controllerFixture {
	t.Helper()

	if cfg.Interval == 0 {
		cfg = Config{
			Interval:                30 * time.Second,
			ActionTimeout:           20 * time.Second,
			MinWorkers:              1,
			MaxWorkers:              10,
			CooldownPeriod:          60 * time.Second,
			HeartbeatTimeout:        300 * time.Second,
			GracefulShutdownTimeout: 300 * time.Second,
		}
	}

	store := registry.NewMemory()
	workers := registry.NewWorkerRegistry(store)
	snapshots := registry.NewSnapshotStore(store, 10)
	sim := fleet.NewSimulator(0)
	mock := broker.NewMock(0)
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	ch, cancel := bus.Subscribe("test")
	t.Cleanup(cancel)

	f := &controllerFixture{
		workers:   workers,
		snapshots: snapshots,
		sim:       sim,
		broker:    mock,
		bus:       bus,
		events:    ch,
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	f.controller = New(cfg, workers, snapshots, sim, mock, events.NewPublisher(bus))
	f.controller.now = func() time.Time { return f.now }

	return f
}

func (f *controllerFixture) publish(t *testing.T, target int, rec models.Recommendation) {
	t.Helper()
	require.NoError(t, f.snapshots.Publish(context.Background(), &models.MetricsSnapshot{
		TargetWorkers:  target,
		Recommendation: rec,
		Timestamp:      f.now,
	}))
}

func (f *controllerFixture) addWorker(t *testing.T, status models.WorkerStatus, heartbeat time.Time, mutate ...func(*models.WorkerRecord)) *models.WorkerRecord {
	t.Helper()
	rec := models.NewWorkerRecord(heartbeat)
	rec.Status = status
	rec.LastHeartbeat = heartbeat
	for _, fn := range mutate {
		fn(rec)
	}
	require.NoError(t, f.workers.Register(context.Background(), rec))
	return rec
}

// drainEvents collects everything the cycle announced so far.
func (f *controllerFixture) drainEvents() []models.Event {
	var out []models.Event
	for {
		select {
		case evt := <-f.events:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func hasEvent(evts []models.Event, typ models.EventType) bool {
	for _, evt := range evts {
		if evt.Type == typ {
			return true
		}
	}
	return false
}

func TestControllerScaleUpFromEmpty(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})
	f.publish(t, 3, models.RecommendScaleUp)

	f.controller.runCycle(ctx)

	records, err := f.workers.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, rec := range records {
		assert.Equal(t, models.WorkerStarting, rec.Status)
	}
	assert.Len(t, f.sim.Running(), 3)

	at, err := f.snapshots.LastAction(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(f.now), "cooldown anchor persisted")
	assert.Equal(t, FleetCoolingDown, f.controller.State())
	assert.True(t, hasEvent(f.drainEvents(), models.EventScalingExecuted))
}

func TestControllerCooldownDefersActions(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})
	f.publish(t, 3, models.RecommendScaleUp)
	f.controller.runCycle(ctx)
	require.Len(t, f.sim.Running(), 3)

	// within cooldown: recommendation is re-evaluated but nothing executes
	f.now = f.now.Add(30 * time.Second)
	f.publish(t, 5, models.RecommendScaleUp)
	f.controller.runCycle(ctx)
	assert.Len(t, f.sim.Running(), 3, "deferred during cooldown")

	// past cooldown the standing recommendation executes
	f.now = f.now.Add(31 * time.Second)
	f.publish(t, 5, models.RecommendScaleUp)
	f.controller.runCycle(ctx)
	assert.Len(t, f.sim.Running(), 5)
}

func TestControllerStaleSnapshotIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	snap := &models.MetricsSnapshot{TargetWorkers: 3, Recommendation: models.RecommendScaleUp, Timestamp: f.now}
	require.NoError(t, f.snapshots.Publish(ctx, snap))
	require.NoError(t, f.snapshots.RepublishStale(ctx, snap))

	f.controller.runCycle(ctx)

	records, err := f.workers.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "stale snapshot carries no new information")
	assert.Empty(t, f.sim.Running())
}

func TestControllerScaleDownNeverInterruptsBusyWorkers(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	for i := 0; i < 4; i++ {
		f.addWorker(t, models.WorkerBusy, f.now)
	}
	f.publish(t, 2, models.RecommendScaleDown)

	f.controller.runCycle(ctx)

	records, err := f.workers.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, models.WorkerBusy, rec.Status)
	}

	// a fully deferred shrink is not an action: no event, no cooldown
	at, err := f.snapshots.LastAction(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
	assert.Equal(t, FleetIdle, f.controller.State())
	assert.False(t, hasEvent(f.drainEvents(), models.EventScalingExecuted))
}

func TestControllerScaleDownDrainsOldestIdle(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	oldest := f.addWorker(t, models.WorkerIdle, f.now, func(rec *models.WorkerRecord) {
		rec.StartedAt = f.now.Add(-time.Hour)
	})
	f.addWorker(t, models.WorkerIdle, f.now)
	f.addWorker(t, models.WorkerIdle, f.now)

	f.publish(t, 2, models.RecommendScaleDown)
	f.controller.runCycle(ctx)

	records, err := f.workers.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	var draining []*models.WorkerRecord
	for _, rec := range records {
		if rec.Status == models.WorkerDraining {
			draining = append(draining, rec)
		}
	}
	require.Len(t, draining, 1, "surplus of one drains exactly one worker")
	assert.Equal(t, oldest.ID, draining[0].ID, "longest-running drains first")
	require.NotNil(t, draining[0].DrainRequestedAt)
	assert.True(t, draining[0].DrainRequestedAt.Equal(f.now))
	assert.Equal(t, FleetCoolingDown, f.controller.State())
}

func TestControllerHealthSweepReclaimsSilentWorker(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	silent := f.addWorker(t, models.WorkerBusy, f.now.Add(-305*time.Second), func(rec *models.WorkerRecord) {
		rec.CurrentJobID = "job-1"
	})
	fresh := f.addWorker(t, models.WorkerIdle, f.now)

	f.controller.runCycle(ctx)

	_, _, err := f.workers.Get(ctx, silent.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound, "silent worker reclaimed")
	_, _, err = f.workers.Get(ctx, fresh.ID)
	assert.NoError(t, err)

	assert.Contains(t, f.broker.Released(), "job-1", "orphaned job goes back on the queue")

	evts := f.drainEvents()
	assert.True(t, hasEvent(evts, models.EventWorkerUnhealthy))
	assert.True(t, hasEvent(evts, models.EventWorkerTerminated))
}

func TestControllerCompensatesForReclaimedWorkerSameCycle(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	f.addWorker(t, models.WorkerIdle, f.now)
	f.addWorker(t, models.WorkerIdle, f.now)
	silent := f.addWorker(t, models.WorkerBusy, f.now.Add(-305*time.Second))

	// the monitor saw three active workers and recommended holding steady
	f.publish(t, 3, models.RecommendMaintain)

	f.controller.runCycle(ctx)

	_, _, err := f.workers.Get(ctx, silent.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	records, err := f.workers.List(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 3, "replacement launched in the same cycle")
	assert.Len(t, f.sim.Running(), 1)
}

func TestControllerForcedTerminationAfterDrainDeadline(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	drainAt := f.now.Add(-301 * time.Second)
	stuck := f.addWorker(t, models.WorkerDraining, f.now, func(rec *models.WorkerRecord) {
		rec.DrainRequestedAt = &drainAt
		rec.CurrentJobID = "job-7"
	})

	f.controller.runCycle(ctx)

	_, _, err := f.workers.Get(ctx, stuck.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Contains(t, f.broker.Released(), "job-7")
	assert.True(t, hasEvent(f.drainEvents(), models.EventForcedTermination))
}

func TestControllerDrainWithinDeadlineLeftAlone(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	drainAt := f.now.Add(-100 * time.Second)
	draining := f.addWorker(t, models.WorkerDraining, f.now, func(rec *models.WorkerRecord) {
		rec.DrainRequestedAt = &drainAt
	})

	f.controller.runCycle(ctx)

	got, _, err := f.workers.Get(ctx, draining.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerDraining, got.Status)
}

func TestControllerConfirmsSelfReportedTermination(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	done := f.addWorker(t, models.WorkerTerminated, f.now)

	f.controller.runCycle(ctx)

	_, _, err := f.workers.Get(ctx, done.ID)
	assert.ErrorIs(t, err, registry.ErrNotFound, "terminated record freed")
	assert.True(t, hasEvent(f.drainEvents(), models.EventWorkerTerminated))
}

func TestControllerFloorViolationWhenLaunchesFail(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		Interval:                30 * time.Second,
		ActionTimeout:           20 * time.Second,
		MinWorkers:              2,
		MaxWorkers:              10,
		CooldownPeriod:          60 * time.Second,
		HeartbeatTimeout:        300 * time.Second,
		GracefulShutdownTimeout: 300 * time.Second,
	}
	f := newControllerFixture(t, cfg)
	f.sim.FailNext(10)
	f.publish(t, 2, models.RecommendScaleUp)

	f.controller.runCycle(ctx)

	records, err := f.workers.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, records, "failed launches must not leave phantom records")

	evts := f.drainEvents()
	assert.True(t, hasEvent(evts, models.EventScalingFailed))
	assert.True(t, hasEvent(evts, models.EventFloorViolation))
}

func TestControllerStartReloadsCooldownAnchor(t *testing.T) {
	ctx := context.Background()
	f := newControllerFixture(t, Config{})

	require.NoError(t, f.snapshots.RecordAction(ctx, f.now.Add(-10*time.Second)))

	require.NoError(t, f.controller.Start(ctx))
	defer f.controller.Stop()

	assert.Equal(t, FleetCoolingDown, f.controller.State(),
		"a restarted controller keeps honoring the persisted cooldown")
}
