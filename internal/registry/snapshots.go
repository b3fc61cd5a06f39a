package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

const (
	snapshotLatestKey  = "metrics/latest"
	snapshotHistoryKey = "metrics/history"
	lastActionKey      = "scaling/last_action"
)

// SnapshotStore publishes metrics snapshots and tracks the instant of the
// last executed scaling action. The cooldown timestamp lives here rather
// than in controller memory so a restarted controller keeps honoring it.
type SnapshotStore struct {
	store       Store
	historySize int
}

func NewSnapshotStore(store Store, historySize int) *SnapshotStore {
	if historySize <= 0 {
		historySize = 100
	}
	return &SnapshotStore{store: store, historySize: historySize}
}

// Publish overwrites the latest snapshot and appends it to the bounded
// history list.
func (s *SnapshotStore) Publish(ctx context.Context, snap *models.MetricsSnapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.store.Set(ctx, snapshotLatestKey, value); err != nil {
		return err
	}
	return s.store.PushList(ctx, snapshotHistoryKey, value, s.historySize)
}

// RepublishStale overwrites only the latest key; stale republications do
// not pollute the trend history.
func (s *SnapshotStore) RepublishStale(ctx context.Context, snap *models.MetricsSnapshot) error {
	stale := *snap
	stale.Stale = true
	value, err := json.Marshal(&stale)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.store.Set(ctx, snapshotLatestKey, value)
}

func (s *SnapshotStore) Latest(ctx context.Context) (*models.MetricsSnapshot, error) {
	value, _, err := s.store.Get(ctx, snapshotLatestKey)
	if err != nil {
		return nil, err
	}
	var snap models.MetricsSnapshot
	if err := json.Unmarshal(value, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SnapshotStore) History(ctx context.Context, n int) ([]*models.MetricsSnapshot, error) {
	values, err := s.store.RangeList(ctx, snapshotHistoryKey, n)
	if err != nil {
		return nil, err
	}
	snaps := make([]*models.MetricsSnapshot, 0, len(values))
	for _, value := range values {
		var snap models.MetricsSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

func (s *SnapshotStore) RecordAction(ctx context.Context, at time.Time) error {
	value, err := json.Marshal(at)
	if err != nil {
		return fmt.Errorf("failed to marshal action time: %w", err)
	}
	return s.store.Set(ctx, lastActionKey, value)
}

// LastAction returns the instant of the last executed scaling action, or
// the zero time when no action has ever run.
func (s *SnapshotStore) LastAction(ctx context.Context) (time.Time, error) {
	value, _, err := s.store.Get(ctx, lastActionKey)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	var at time.Time
	if err := json.Unmarshal(value, &at); err != nil {
		return time.Time{}, fmt.Errorf("failed to unmarshal action time: %w", err)
	}
	return at, nil
}
