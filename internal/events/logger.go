package events

import (
	"context"

	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/pkg/database"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

// EventLogger consumes the bus, writes every event to the structured log
// and persists executed scaling actions to the audit table when a store is
// configured.
type EventLogger struct {
	bus   *Bus
	store *database.ScalingEventStore
}

func NewEventLogger(bus *Bus, store *database.ScalingEventStore) *EventLogger {
	return &EventLogger{bus: bus, store: store}
}

// Run blocks until ctx is cancelled or the bus closes.
func (l *EventLogger) Run(ctx context.Context) {
	ch, cancel := l.bus.Subscribe("event-logger")
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			l.handle(ctx, evt)
		}
	}
}

func (l *EventLogger) handle(ctx context.Context, evt models.Event) {
	entry := logger.WithFields(map[string]interface{}{
		"event_id":   evt.ID,
		"event_type": evt.Type,
	})
	if evt.WorkerID != "" {
		entry = entry.WithField("worker_id", evt.WorkerID)
	}
	for k, v := range evt.Details {
		if k == "event" {
			continue
		}
		entry = entry.WithField(k, v)
	}

	switch evt.Severity {
	case models.SeverityCritical:
		entry.Error(evt.Message)
	case models.SeverityWarning:
		entry.Warn(evt.Message)
	default:
		entry.Info(evt.Message)
	}

	if evt.Type != models.EventScalingExecuted || l.store == nil {
		return
	}
	scaling, ok := evt.Details["event"].(*models.ScalingEvent)
	if !ok {
		return
	}
	if err := l.store.Insert(ctx, scaling); err != nil {
		logger.Errorf("failed to persist scaling event: %v", err)
	}
}
