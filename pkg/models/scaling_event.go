package models

import "time"

type ScalingAction string

const (
	ActionScaleUp   ScalingAction = "scale_up"
	ActionScaleDown ScalingAction = "scale_down"
)

// Reasons recorded on scaling events and surfaced on the event feed.
const (
	ReasonQueueBacklog      = "queue_backlog"
	ReasonIdleFleet         = "idle_fleet"
	ReasonHeartbeatTimeout  = "heartbeat_timeout"
	ReasonForcedTermination = "forced_termination"
	ReasonActionFailed      = "action_failed"
	ReasonFloorViolation    = "floor_violation"
)

// ScalingEvent is an append-only audit record, created exactly once per
// executed scaling action (never per evaluation).
type ScalingEvent struct {
	ID        int64         `json:"id,omitempty"`
	FromCount int           `json:"from_count"`
	ToCount   int           `json:"to_count"`
	Action    ScalingAction `json:"action"`
	Reason    string        `json:"reason"`
	Timestamp time.Time     `json:"timestamp"`
}
