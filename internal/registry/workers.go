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
	workerPrefix       = "workers/"
	processingTimesKey = "stats/processing_times"

	// casRetries bounds the read-modify-write loop when agent and
	// controller race on the same record.
	casRetries = 5

	processingTimesMax = 100
)

// ProcessingSample is one completed job's duration, pushed by the worker
// agent and aggregated by the monitor.
type ProcessingSample struct {
	Seconds     float64   `json:"seconds"`
	CompletedAt time.Time `json:"completed_at"`
}

// WorkerRegistry is the typed view over worker records. All mutations go
// through compare-and-swap so concurrent heartbeat and lifecycle writes
// merge instead of overwriting each other.
type WorkerRegistry struct {
	store Store
}

func NewWorkerRegistry(store Store) *WorkerRegistry {
	return &WorkerRegistry{store: store}
}

func workerKey(id string) string {
	return workerPrefix + id
}

// Register creates the record, failing if the id already exists.
func (r *WorkerRegistry) Register(ctx context.Context, rec *models.WorkerRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal worker record: %w", err)
	}
	if err := r.store.CompareAndSwap(ctx, workerKey(rec.ID), value, 0); err != nil {
		return fmt.Errorf("failed to register worker %s: %w", rec.ID, err)
	}
	return nil
}

func (r *WorkerRegistry) Get(ctx context.Context, id string) (*models.WorkerRecord, int64, error) {
	value, version, err := r.store.Get(ctx, workerKey(id))
	if err != nil {
		return nil, 0, err
	}
	var rec models.WorkerRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal worker record %s: %w", id, err)
	}
	return &rec, version, nil
}

func (r *WorkerRegistry) List(ctx context.Context) ([]*models.WorkerRecord, error) {
	keys, err := r.store.Keys(ctx, workerPrefix)
	if err != nil {
		return nil, err
	}

	records := make([]*models.WorkerRecord, 0, len(keys))
	for _, key := range keys {
		value, _, err := r.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// deleted between Keys and Get
			continue
		}
		if err != nil {
			return nil, err
		}
		var rec models.WorkerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal worker record at %s: %w", key, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

func (r *WorkerRegistry) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, workerKey(id))
}

// Heartbeat updates the worker-owned fields: heartbeat instant, reported
// status, current job and counters. A reported status that is not a legal
// transition from the stored one (the controller marked the worker Draining
// while it still reports Busy) keeps the stored status; the beat itself
// still counts for liveness.
func (r *WorkerRegistry) Heartbeat(ctx context.Context, id string, status models.WorkerStatus, jobID string, processed, failed int, at time.Time) error {
	return r.update(ctx, id, func(rec *models.WorkerRecord) error {
		if rec.Status != status && rec.Status.CanTransition(status) {
			rec.Status = status
		}
		rec.CurrentJobID = jobID
		rec.JobsProcessed = processed
		rec.JobsFailed = failed
		rec.LastHeartbeat = at
		return nil
	})
}

// SetStatus performs a lifecycle transition, rejecting illegal edges.
// Setting the same status twice is a no-op. Moving to Draining stamps
// DrainRequestedAt so the drain deadline survives controller restarts.
func (r *WorkerRegistry) SetStatus(ctx context.Context, id string, to models.WorkerStatus, at time.Time) error {
	return r.update(ctx, id, func(rec *models.WorkerRecord) error {
		if rec.Status == to {
			return nil
		}
		if err := rec.Transition(to); err != nil {
			return err
		}
		if to == models.WorkerDraining && rec.DrainRequestedAt == nil {
			t := at
			rec.DrainRequestedAt = &t
		}
		return nil
	})
}

func (r *WorkerRegistry) update(ctx context.Context, id string, mutate func(*models.WorkerRecord) error) error {
	key := workerKey(id)
	for attempt := 0; attempt < casRetries; attempt++ {
		value, version, err := r.store.Get(ctx, key)
		if err != nil {
			return err
		}
		var rec models.WorkerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("failed to unmarshal worker record %s: %w", id, err)
		}

		if err := mutate(&rec); err != nil {
			return err
		}

		updated, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal worker record %s: %w", id, err)
		}
		err = r.store.CompareAndSwap(ctx, key, updated, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: worker %s after %d attempts", ErrConflict, id, casRetries)
}

func (r *WorkerRegistry) PushProcessingTime(ctx context.Context, d time.Duration, at time.Time) error {
	sample := ProcessingSample{Seconds: d.Seconds(), CompletedAt: at}
	value, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal processing sample: %w", err)
	}
	return r.store.PushList(ctx, processingTimesKey, value, processingTimesMax)
}

func (r *WorkerRegistry) ProcessingTimes(ctx context.Context, n int) ([]ProcessingSample, error) {
	values, err := r.store.RangeList(ctx, processingTimesKey, n)
	if err != nil {
		return nil, err
	}
	samples := make([]ProcessingSample, 0, len(values))
	for _, value := range values {
		var sample ProcessingSample
		if err := json.Unmarshal(value, &sample); err != nil {
			return nil, fmt.Errorf("failed to unmarshal processing sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
