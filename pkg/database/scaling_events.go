package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

// ScalingEventStore is the append-only audit log of executed scaling
// actions.
type ScalingEventStore struct {
	db *DB
}

func NewScalingEventStore(db *DB) *ScalingEventStore {
	return &ScalingEventStore{db: db}
}

func (s *ScalingEventStore) Insert(ctx context.Context, evt *models.ScalingEvent) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scaling_events (from_count, to_count, action, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		evt.FromCount, evt.ToCount, evt.Action, evt.Reason, evt.Timestamp,
	).Scan(&evt.ID)
	if err != nil {
		return fmt.Errorf("failed to insert scaling event: %w", err)
	}
	return nil
}

func (s *ScalingEventStore) Recent(ctx context.Context, limit int) ([]*models.ScalingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_count, to_count, action, reason, created_at
		FROM scaling_events
		ORDER BY created_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query scaling events: %w", err)
	}
	defer rows.Close()

	var events []*models.ScalingEvent
	for rows.Next() {
		var evt models.ScalingEvent
		if err := rows.Scan(&evt.ID, &evt.FromCount, &evt.ToCount, &evt.Action, &evt.Reason, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan scaling event: %w", err)
		}
		events = append(events, &evt)
	}
	return events, rows.Err()
}

// CountSince returns executed action counts per direction since the given
// instant, for the stats endpoint.
func (s *ScalingEventStore) CountSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, COUNT(*)
		FROM scaling_events
		WHERE created_at >= $1
		GROUP BY action`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count scaling events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			action string
			count  int
		)
		if err := rows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("failed to scan scaling event count: %w", err)
		}
		counts[action] = count
	}
	return counts, rows.Err()
}
