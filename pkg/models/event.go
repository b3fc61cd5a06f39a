package models

import "time"

type EventType string

const (
	EventSnapshotPublished EventType = "snapshot_published"
	EventScalingExecuted   EventType = "scaling_executed"
	EventScalingFailed     EventType = "scaling_failed"
	EventWorkerLaunched    EventType = "worker_launched"
	EventWorkerUnhealthy   EventType = "worker_unhealthy"
	EventWorkerTerminated  EventType = "worker_terminated"
	EventForcedTermination EventType = "forced_termination"
	EventFloorViolation    EventType = "floor_violation"
	EventMonitorDegraded   EventType = "monitor_degraded"
	EventError             EventType = "error"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is the unit carried on the in-process event bus and pushed to
// websocket subscribers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Severity  Severity               `json:"severity"`
	WorkerID  string                 `json:"worker_id,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
