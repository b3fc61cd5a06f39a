package events

import (
	"time"

	"github.com/rabbitreels/autoscaler/pkg/models"
)

// Publisher builds well-formed events for everything the control loops
// announce.
type Publisher struct {
	bus *Bus
	now func() time.Time
}

func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus, now: time.Now}
}

func (p *Publisher) publish(evt models.Event) {
	evt.ID = models.NewUUID()
	evt.Timestamp = p.now()
	p.bus.Publish(evt)
}

func (p *Publisher) SnapshotPublished(snap *models.MetricsSnapshot) {
	p.publish(models.Event{
		Type:     models.EventSnapshotPublished,
		Severity: models.SeverityInfo,
		Message:  "metrics snapshot published",
		Details: map[string]interface{}{
			"queue_depth":    snap.QueueDepth,
			"active_workers": snap.ActiveWorkers,
			"target_workers": snap.TargetWorkers,
			"recommendation": snap.Recommendation,
		},
	})
}

func (p *Publisher) ScalingExecuted(evt *models.ScalingEvent) {
	p.publish(models.Event{
		Type:     models.EventScalingExecuted,
		Severity: models.SeverityInfo,
		Message:  "scaling action executed",
		Details: map[string]interface{}{
			"event":      evt,
			"from_count": evt.FromCount,
			"to_count":   evt.ToCount,
			"action":     evt.Action,
			"reason":     evt.Reason,
		},
	})
}

func (p *Publisher) ScalingFailed(action models.ScalingAction, err error) {
	p.publish(models.Event{
		Type:     models.EventScalingFailed,
		Severity: models.SeverityWarning,
		Message:  "scaling action failed",
		Details: map[string]interface{}{
			"action": action,
			"reason": models.ReasonActionFailed,
			"error":  err.Error(),
		},
	})
}

func (p *Publisher) WorkerLaunched(workerID string) {
	p.publish(models.Event{
		Type:     models.EventWorkerLaunched,
		Severity: models.SeverityInfo,
		WorkerID: workerID,
		Message:  "worker launched",
	})
}

func (p *Publisher) WorkerUnhealthy(workerID, jobID string) {
	details := map[string]interface{}{"reason": models.ReasonHeartbeatTimeout}
	if jobID != "" {
		details["released_job_id"] = jobID
	}
	p.publish(models.Event{
		Type:     models.EventWorkerUnhealthy,
		Severity: models.SeverityWarning,
		WorkerID: workerID,
		Message:  "worker heartbeat timed out",
		Details:  details,
	})
}

func (p *Publisher) WorkerTerminated(workerID string) {
	p.publish(models.Event{
		Type:     models.EventWorkerTerminated,
		Severity: models.SeverityInfo,
		WorkerID: workerID,
		Message:  "worker terminated",
	})
}

func (p *Publisher) ForcedTermination(workerID, jobID string) {
	details := map[string]interface{}{"reason": models.ReasonForcedTermination}
	if jobID != "" {
		details["abandoned_job_id"] = jobID
	}
	p.publish(models.Event{
		Type:     models.EventForcedTermination,
		Severity: models.SeverityWarning,
		WorkerID: workerID,
		Message:  "drain deadline exceeded, worker killed",
		Details:  details,
	})
}

func (p *Publisher) FloorViolation(active, min int) {
	p.publish(models.Event{
		Type:     models.EventFloorViolation,
		Severity: models.SeverityCritical,
		Message:  "fleet below minimum size and scale-up failing",
		Details: map[string]interface{}{
			"reason":         models.ReasonFloorViolation,
			"active_workers": active,
			"min_workers":    min,
		},
	})
}

func (p *Publisher) MonitorDegraded(consecutiveFailures int) {
	p.publish(models.Event{
		Type:     models.EventMonitorDegraded,
		Severity: models.SeverityCritical,
		Message:  "monitor degraded after consecutive collection failures",
		Details: map[string]interface{}{
			"consecutive_failures": consecutiveFailures,
		},
	})
}

func (p *Publisher) Error(component string, err error) {
	p.publish(models.Event{
		Type:     models.EventError,
		Severity: models.SeverityWarning,
		Message:  "component error",
		Details: map[string]interface{}{
			"component": component,
			"error":     err.Error(),
		},
	})
}
