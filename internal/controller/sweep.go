package controller

import (
	"context"
	"errors"
	"time"

	"github.com/rabbitreels/autoscaler/internal/fleet"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/metrics"
	"github.com/rabbitreels/autoscaler/pkg/models"
)

// sweepHealth marks silent workers Unhealthy and force-terminates them.
// A crashed worker is detected by absence, never by an explicit failure
// signal; its job, if any, goes back on the queue for redelivery. Returns
// the records still present after the sweep.
func (c *Controller) sweepHealth(ctx context.Context, records []*models.WorkerRecord, now time.Time) []*models.WorkerRecord {
	remaining := records[:0]
	for _, rec := range records {
		if rec.Status == models.WorkerTerminated {
			remaining = append(remaining, rec)
			continue
		}

		silent := now.Sub(rec.LastHeartbeat) > c.cfg.HeartbeatTimeout
		if rec.Status != models.WorkerUnhealthy {
			if !silent {
				remaining = append(remaining, rec)
				continue
			}

			if err := c.workers.SetStatus(ctx, rec.ID, models.WorkerUnhealthy, now); err != nil {
				logger.WithWorker(rec.ID).Errorf("failed to mark unhealthy: %v", err)
				remaining = append(remaining, rec)
				continue
			}
			rec.Status = models.WorkerUnhealthy
			metrics.RecordHeartbeatTimeout()

			if rec.CurrentJobID != "" {
				if err := c.broker.Release(ctx, rec.CurrentJobID); err != nil {
					logger.WithWorker(rec.ID).Errorf("failed to release job %s: %v", rec.CurrentJobID, err)
				}
			}
			c.publisher.WorkerUnhealthy(rec.ID, rec.CurrentJobID)
			logger.WithWorker(rec.ID).Warnf("heartbeat silent for %s, marked unhealthy", now.Sub(rec.LastHeartbeat))
		}

		// Unhealthy workers, newly discovered or carried over from a
		// failed kill, get force-terminated.
		if c.terminate(ctx, rec, c.driver.Kill) {
			continue
		}
		remaining = append(remaining, rec)
	}
	return remaining
}

// sweepDrains finishes the drain lifecycle: confirm self-reported
// terminations, and hard-kill drains that outlived the graceful deadline.
func (c *Controller) sweepDrains(ctx context.Context, records []*models.WorkerRecord, now time.Time) []*models.WorkerRecord {
	remaining := records[:0]
	for _, rec := range records {
		switch rec.Status {
		case models.WorkerTerminated:
			// The agent already reported Terminated; confirm teardown and
			// free the record without waiting on the health sweep.
			if c.terminate(ctx, rec, c.driver.Stop) {
				continue
			}

		case models.WorkerDraining:
			if rec.DrainRequestedAt == nil || now.Sub(*rec.DrainRequestedAt) <= c.cfg.GracefulShutdownTimeout {
				break
			}
			logger.WithWorker(rec.ID).Warnf("drain exceeded %s, forcing termination", c.cfg.GracefulShutdownTimeout)
			if c.terminate(ctx, rec, c.driver.Kill) {
				metrics.RecordForcedTermination()
				c.publisher.ForcedTermination(rec.ID, rec.CurrentJobID)
				if rec.CurrentJobID != "" {
					if err := c.broker.Release(ctx, rec.CurrentJobID); err != nil {
						logger.WithWorker(rec.ID).Errorf("failed to release job %s: %v", rec.CurrentJobID, err)
					}
				}
				continue
			}
		}
		remaining = append(remaining, rec)
	}
	return remaining
}

// terminate runs a driver teardown and deletes the record on success.
// Reports whether the record is gone; on failure it stays for the next
// cycle's retry.
func (c *Controller) terminate(ctx context.Context, rec *models.WorkerRecord, tear func(context.Context, string) error) bool {
	actx, cancel := context.WithTimeout(ctx, c.cfg.ActionTimeout)
	err := tear(actx, rec.ID)
	cancel()

	// An instance the backend no longer knows about is already gone.
	if err != nil && !errors.Is(err, fleet.ErrUnknownWorker) {
		logger.WithWorker(rec.ID).Errorf("teardown failed: %v", err)
		metrics.RecordActionFailure()
		c.publisher.Error("controller", err)
		return false
	}

	if rec.Status != models.WorkerTerminated {
		if err := c.workers.SetStatus(ctx, rec.ID, models.WorkerTerminated, c.now()); err != nil {
			logger.WithWorker(rec.ID).Errorf("failed to mark terminated: %v", err)
		}
	}
	if err := c.workers.Delete(ctx, rec.ID); err != nil {
		logger.WithWorker(rec.ID).Errorf("failed to delete record: %v", err)
		return false
	}

	c.publisher.WorkerTerminated(rec.ID)
	logger.WithWorker(rec.ID).Info("worker record freed")
	return true
}
