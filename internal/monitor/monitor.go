// Package monitor implements the queue monitor loop: sample broker and
// registry, derive a scaling recommendation, publish the snapshot. It
// never mutates the fleet.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/metrics"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

type Config struct {
	Interval         time.Duration
	SourceTimeout    time.Duration
	DegradedAfter    int
	HeartbeatTimeout time.Duration
	MetricsWindow    time.Duration
	Thresholds       Thresholds
}

type Monitor struct {
	cfg       Config
	broker    broker.Client
	workers   *registry.WorkerRegistry
	snapshots *registry.SnapshotStore
	publisher *events.Publisher
	now       func() time.Time

	mu       sync.Mutex
	failures int
	degraded bool
	last     *models.MetricsSnapshot

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, brokerClient broker.Client, workers *registry.WorkerRegistry, snapshots *registry.SnapshotStore, publisher *events.Publisher) *Monitor {
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = 3
	}
	return &Monitor{
		cfg:       cfg,
		broker:    brokerClient,
		workers:   workers,
		snapshots: snapshots,
		publisher: publisher,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start runs the collection loop until Stop or ctx cancellation. The first
// cycle runs immediately.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	go func() {
		defer close(m.done)

		logger.WithComponent("monitor").Infof("starting, interval %s", m.cfg.Interval)

		m.runCycle(ctx)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("monitor").Info("stopped")
				return
			case <-ticker.C:
				m.runCycle(ctx)
			}
		}
	}()
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// Degraded reports whether the configured number of consecutive collection
// cycles have failed. Surfaced on the readiness probe; it never blocks the
// controller.
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

func (m *Monitor) LastSnapshot() *models.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	snap := *m.last
	return &snap
}

func (m *Monitor) runCycle(ctx context.Context) {
	start := m.now()

	cctx, cancel := context.WithTimeout(ctx, m.cfg.SourceTimeout)
	defer cancel()

	snap, err := m.collect(cctx)
	if err != nil {
		m.handleFailure(cctx, err)
		return
	}

	if err := m.snapshots.Publish(cctx, snap); err != nil {
		m.handleFailure(cctx, fmt.Errorf("failed to publish snapshot: %w", err))
		return
	}

	m.mu.Lock()
	recovered := m.degraded
	m.failures = 0
	m.degraded = false
	m.last = snap
	m.mu.Unlock()

	if recovered {
		logger.WithComponent("monitor").Info("recovered from degraded state")
	}

	m.publisher.SnapshotPublished(snap)
	metrics.ObserveSnapshot(snap)
	metrics.ObserveCycle("monitor", m.now().Sub(start))

	logger.WithFields(map[string]interface{}{
		"queue_depth":    snap.QueueDepth,
		"active_workers": snap.ActiveWorkers,
		"target_workers": snap.TargetWorkers,
		"recommendation": snap.Recommendation,
	}).Debug("snapshot published")
}

// collect reads both sources and assembles a fresh snapshot. Any source
// error aborts the cycle; a partial reading must never masquerade as zero
// load.
func (m *Monitor) collect(ctx context.Context) (*models.MetricsSnapshot, error) {
	depth, err := m.broker.QueueDepth(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue depth read failed: %w", err)
	}

	records, err := m.workers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: worker registry read failed: %v", broker.ErrSourceUnavailable, err)
	}

	samples, err := m.workers.ProcessingTimes(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: processing times read failed: %v", broker.ErrSourceUnavailable, err)
	}

	now := m.now()

	var active, healthy int
	for _, rec := range records {
		if !rec.IsActive() {
			continue
		}
		active++
		if rec.HeartbeatFresh(m.cfg.HeartbeatTimeout, now) {
			healthy++
		}
	}

	stats := ComputeWindow(samples, m.cfg.MetricsWindow, now)
	target, recommendation := Recommend(depth, active, m.cfg.Thresholds)

	return &models.MetricsSnapshot{
		QueueDepth:        depth,
		ActiveWorkers:     active,
		HealthyWorkers:    healthy,
		AvgProcessingTime: stats.AvgProcessingTime,
		Throughput:        stats.Throughput,
		Timestamp:         now,
		Recommendation:    recommendation,
		TargetWorkers:     target,
	}, nil
}

func (m *Monitor) handleFailure(ctx context.Context, err error) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	justDegraded := !m.degraded && failures >= m.cfg.DegradedAfter
	if justDegraded {
		m.degraded = true
	}
	last := m.last
	m.mu.Unlock()

	logger.WithComponent("monitor").Warnf("collection cycle failed (%d consecutive): %v", failures, err)

	// Republish the previous snapshot marked stale so the controller sees
	// "no new information" rather than fabricated zero load.
	if last != nil {
		if pubErr := m.snapshots.RepublishStale(ctx, last); pubErr != nil {
			logger.WithComponent("monitor").Errorf("failed to republish stale snapshot: %v", pubErr)
		} else {
			stale := *last
			stale.Stale = true
			metrics.ObserveSnapshot(&stale)
		}
	}

	if justDegraded {
		m.publisher.MonitorDegraded(failures)
	}
}
