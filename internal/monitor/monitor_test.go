package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

type monitorFixture struct {
	monitor   *Monitor
	broker    *broker.Mock
	workers   *registry.WorkerRegistry
	snapshots *registry.SnapshotStore
	bus       *events.Bus
	now       time.Time
}

func newMonitorFixture(t *testing.T, depth int) *monitorFixture {
	t.Helper()

	store := registry.NewMemory()
	workers := registry.NewWorkerRegistry(store)
	snapshots := registry.NewSnapshotStore(store, 10)
	mock := broker.NewMock(depth)
	bus := events.NewBus(16)
	t.Cleanup(bus.Close)

	f := &monitorFixture{
		broker:    mock,
		workers:   workers,
		snapshots: snapshots,
		bus:       bus,
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	f.monitor = New(Config{
		Interval:         15 * time.Second,
		SourceTimeout:    10 * time.Second,
		DegradedAfter:    3,
		HeartbeatTimeout: 300 * time.Second,
		MetricsWindow:    5 * time.Minute,
		Thresholds:       Thresholds{MinWorkers: 1, MaxWorkers: 10, ShrinkRetention: 0.5},
	}, mock, workers, snapshots, events.NewPublisher(bus))
	f.monitor.now = func() time.Time { return f.now }

	return f
}

func (f *monitorFixture) addWorker(t *testing.T, status models.WorkerStatus, heartbeat time.Time) *models.WorkerRecord {
	t.Helper()
	rec := models.NewWorkerRecord(heartbeat)
	rec.Status = status
	rec.LastHeartbeat = heartbeat
	require.NoError(t, f.workers.Register(context.Background(), rec))
	return rec
}

func TestMonitorPublishesSnapshot(t *testing.T) {
	f := newMonitorFixture(t, 5)
	f.addWorker(t, models.WorkerIdle, f.now)
	f.addWorker(t, models.WorkerBusy, f.now.Add(-400*time.Second)) // active but silent
	f.addWorker(t, models.WorkerDraining, f.now)                   // not active

	f.monitor.runCycle(context.Background())

	snap, err := f.snapshots.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, snap.QueueDepth)
	assert.Equal(t, 2, snap.ActiveWorkers)
	assert.Equal(t, 1, snap.HealthyWorkers)
	assert.LessOrEqual(t, snap.HealthyWorkers, snap.ActiveWorkers)
	assert.Equal(t, 6, snap.TargetWorkers)
	assert.Equal(t, models.RecommendScaleUp, snap.Recommendation)
	assert.False(t, snap.Stale)
	assert.True(t, snap.Timestamp.Equal(f.now))
}

func TestMonitorRepublishesStaleOnSourceFailure(t *testing.T) {
	f := newMonitorFixture(t, 3)
	f.addWorker(t, models.WorkerIdle, f.now)

	f.monitor.runCycle(context.Background())

	f.broker.FailWith(errors.New("connection refused"))
	f.now = f.now.Add(15 * time.Second)
	f.monitor.runCycle(context.Background())

	snap, err := f.snapshots.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Stale, "previous snapshot must be republished stale")
	assert.Equal(t, 3, snap.QueueDepth, "stale snapshot keeps old readings")
	assert.False(t, f.monitor.Degraded(), "one failure is not degraded")
}

func TestMonitorDegradedAfterConsecutiveFailures(t *testing.T) {
	f := newMonitorFixture(t, 1)

	ch, cancel := f.bus.Subscribe("test")
	defer cancel()

	f.broker.FailWith(errors.New("down"))
	for i := 0; i < 3; i++ {
		f.monitor.runCycle(context.Background())
	}
	assert.True(t, f.monitor.Degraded())

	var sawDegraded bool
	for done := false; !done; {
		select {
		case evt := <-ch:
			if evt.Type == models.EventMonitorDegraded {
				sawDegraded = true
				done = true
			}
		default:
			done = true
		}
	}
	assert.True(t, sawDegraded, "degraded escalation must be announced")

	// recovery clears the flag
	f.broker.FailWith(nil)
	f.monitor.runCycle(context.Background())
	assert.False(t, f.monitor.Degraded())
}

func TestMonitorNoSnapshotBeforeFirstSuccess(t *testing.T) {
	f := newMonitorFixture(t, 1)

	f.broker.FailWith(errors.New("down"))
	f.monitor.runCycle(context.Background())

	_, err := f.snapshots.Latest(context.Background())
	assert.ErrorIs(t, err, registry.ErrNotFound, "nothing to republish before the first success")
}

func TestMonitorStatsOnSnapshot(t *testing.T) {
	f := newMonitorFixture(t, 0)
	f.addWorker(t, models.WorkerIdle, f.now)

	require.NoError(t, f.workers.PushProcessingTime(context.Background(), 2*time.Second, f.now.Add(-time.Minute)))
	require.NoError(t, f.workers.PushProcessingTime(context.Background(), 4*time.Second, f.now.Add(-time.Minute)))

	f.monitor.runCycle(context.Background())

	snap, err := f.snapshots.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap.AvgProcessingTime)
	assert.InDelta(t, 0.4, snap.Throughput, 1e-9)
}
