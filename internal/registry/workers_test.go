package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

func TestWorkerRegistryRegisterAndList(t *testing.T) {
	ctx := context.Background()
	workers := NewWorkerRegistry(NewMemory())
	now := time.Now()

	rec := models.NewWorkerRecord(now)
	require.NoError(t, workers.Register(ctx, rec))
	assert.ErrorIs(t, workers.Register(ctx, rec), ErrConflict)

	got, _, err := workers.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStarting, got.Status)

	list, err := workers.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWorkerRegistrySetStatus(t *testing.T) {
	ctx := context.Background()
	workers := NewWorkerRegistry(NewMemory())
	now := time.Now()

	rec := models.NewWorkerRecord(now)
	require.NoError(t, workers.Register(ctx, rec))

	// illegal edge rejected
	err := workers.SetStatus(ctx, rec.ID, models.WorkerTerminated, now)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	require.NoError(t, workers.SetStatus(ctx, rec.ID, models.WorkerIdle, now))
	require.NoError(t, workers.SetStatus(ctx, rec.ID, models.WorkerDraining, now))

	got, _, err := workers.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerDraining, got.Status)
	require.NotNil(t, got.DrainRequestedAt)
	drainAt := *got.DrainRequestedAt

	// same-status set is a no-op and must not move the drain deadline
	require.NoError(t, workers.SetStatus(ctx, rec.ID, models.WorkerDraining, now.Add(time.Hour)))
	got, _, err = workers.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.DrainRequestedAt.Equal(drainAt))
}

func TestWorkerRegistryHeartbeatPreservesLifecycleStatus(t *testing.T) {
	ctx := context.Background()
	workers := NewWorkerRegistry(NewMemory())
	now := time.Now()

	rec := models.NewWorkerRecord(now)
	require.NoError(t, workers.Register(ctx, rec))
	require.NoError(t, workers.SetStatus(ctx, rec.ID, models.WorkerIdle, now))
	require.NoError(t, workers.SetStatus(ctx, rec.ID, models.WorkerDraining, now))

	// the agent still reports Busy; the controller's Draining must win,
	// but the beat still counts for liveness
	beat := now.Add(10 * time.Second)
	require.NoError(t, workers.Heartbeat(ctx, rec.ID, models.WorkerBusy, "job-1", 3, 1, beat))

	got, _, err := workers.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerDraining, got.Status)
	assert.Equal(t, "job-1", got.CurrentJobID)
	assert.Equal(t, 3, got.JobsProcessed)
	assert.True(t, got.LastHeartbeat.Equal(beat))
}

func TestWorkerRegistryHeartbeatAppliesLegalTransition(t *testing.T) {
	ctx := context.Background()
	workers := NewWorkerRegistry(NewMemory())
	now := time.Now()

	rec := models.NewWorkerRecord(now)
	require.NoError(t, workers.Register(ctx, rec))
	require.NoError(t, workers.SetStatus(ctx, rec.ID, models.WorkerIdle, now))

	require.NoError(t, workers.Heartbeat(ctx, rec.ID, models.WorkerBusy, "job-9", 0, 0, now))

	got, _, err := workers.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkerBusy, got.Status)
}

func TestProcessingTimesRoundTrip(t *testing.T) {
	ctx := context.Background()
	workers := NewWorkerRegistry(NewMemory())
	now := time.Now()

	require.NoError(t, workers.PushProcessingTime(ctx, 2*time.Second, now))
	require.NoError(t, workers.PushProcessingTime(ctx, 4*time.Second, now))

	samples, err := workers.ProcessingTimes(ctx, 0)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 4.0, samples[0].Seconds, "newest first")
}
