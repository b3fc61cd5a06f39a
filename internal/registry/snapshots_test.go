package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

func TestSnapshotStorePublishLatestHistory(t *testing.T) {
	ctx := context.Background()
	snapshots := NewSnapshotStore(NewMemory(), 2)

	_, err := snapshots.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for depth := 1; depth <= 3; depth++ {
		require.NoError(t, snapshots.Publish(ctx, &models.MetricsSnapshot{
			QueueDepth: depth,
			Timestamp:  time.Now(),
		}))
	}

	latest, err := snapshots.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.QueueDepth)

	history, err := snapshots.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 2, "history bounded")
	assert.Equal(t, 3, history[0].QueueDepth)
	assert.Equal(t, 2, history[1].QueueDepth)
}

func TestSnapshotStoreRepublishStale(t *testing.T) {
	ctx := context.Background()
	snapshots := NewSnapshotStore(NewMemory(), 10)

	require.NoError(t, snapshots.Publish(ctx, &models.MetricsSnapshot{QueueDepth: 5}))
	snap, err := snapshots.Latest(ctx)
	require.NoError(t, err)

	require.NoError(t, snapshots.RepublishStale(ctx, snap))

	latest, err := snapshots.Latest(ctx)
	require.NoError(t, err)
	assert.True(t, latest.Stale)
	assert.Equal(t, 5, latest.QueueDepth)

	history, err := snapshots.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "stale republications stay out of history")
	assert.False(t, history[0].Stale)
}

func TestSnapshotStoreLastAction(t *testing.T) {
	ctx := context.Background()
	snapshots := NewSnapshotStore(NewMemory(), 10)

	at, err := snapshots.LastAction(ctx)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, snapshots.RecordAction(ctx, now))

	at, err = snapshots.LastAction(ctx)
	require.NoError(t, err)
	assert.True(t, at.Equal(now))
}
