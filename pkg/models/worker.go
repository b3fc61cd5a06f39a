package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrIllegalTransition = errors.New("illegal worker status transition")

type WorkerStatus string

const (
	WorkerStarting   WorkerStatus = "starting"
	WorkerIdle       WorkerStatus = "idle"
	WorkerBusy       WorkerStatus = "busy"
	WorkerDraining   WorkerStatus = "draining"
	WorkerUnhealthy  WorkerStatus = "unhealthy"
	WorkerTerminated WorkerStatus = "terminated"
)

// workerTransitions is the complete legal edge set. Terminated is final;
// nothing re-enters Starting or Busy once a worker is draining or unhealthy.
var workerTransitions = map[WorkerStatus][]WorkerStatus{
	WorkerStarting:   {WorkerIdle, WorkerUnhealthy},
	WorkerIdle:       {WorkerBusy, WorkerDraining, WorkerUnhealthy},
	WorkerBusy:       {WorkerIdle, WorkerDraining, WorkerUnhealthy},
	WorkerDraining:   {WorkerTerminated, WorkerUnhealthy},
	WorkerUnhealthy:  {WorkerTerminated},
	WorkerTerminated: {},
}

func (s WorkerStatus) CanTransition(to WorkerStatus) bool {
	for _, next := range workerTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// WorkerRecord is the registry entry for a single worker instance.
// Heartbeat and job fields are written by the worker's lifecycle agent,
// lifecycle status by the scaling controller; the registry's compare-and-swap
// keeps concurrent writers from clobbering each other.
type WorkerRecord struct {
	ID               string       `json:"id"`
	Status           WorkerStatus `json:"status"`
	CurrentJobID     string       `json:"current_job_id,omitempty"`
	LastHeartbeat    time.Time    `json:"last_heartbeat"`
	StartedAt        time.Time    `json:"started_at"`
	DrainRequestedAt *time.Time   `json:"drain_requested_at,omitempty"`
	JobsProcessed    int          `json:"jobs_processed"`
	JobsFailed       int          `json:"jobs_failed"`
}

func NewWorkerRecord(now time.Time) *WorkerRecord {
	return &WorkerRecord{
		ID:            NewUUID(),
		Status:        WorkerStarting,
		LastHeartbeat: now,
		StartedAt:     now,
	}
}

// Transition moves the record to a new status, rejecting edges outside the
// legal set.
func (w *WorkerRecord) Transition(to WorkerStatus) error {
	if !w.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, w.Status, to)
	}
	w.Status = to
	return nil
}

// IsActive reports whether the worker counts toward the fleet size used for
// scaling math. Draining and unhealthy workers are already on their way out.
func (w *WorkerRecord) IsActive() bool {
	switch w.Status {
	case WorkerStarting, WorkerIdle, WorkerBusy:
		return true
	}
	return false
}

func (w *WorkerRecord) HeartbeatFresh(timeout time.Duration, now time.Time) bool {
	return now.Sub(w.LastHeartbeat) <= timeout
}
