package monitor

import "github.com/rabbitreels/autoscaler/pkg/models"

// Thresholds are the scaling bounds the recommendation is computed
// against.
type Thresholds struct {
	MinWorkers int
	MaxWorkers int
	// ShrinkRetention is the fraction of the current fleet a single
	// evaluation may not shrink below. 0.5 keeps at least half the fleet
	// per cycle.
	ShrinkRetention float64
}

// Recommend derives a target worker count from queue depth and the current
// active fleet. Pure function, evaluated every cycle; rate limiting is the
// controller's job.
//
// Two-sided hysteresis damps oscillation from bursty depth readings: an
// empty queue keeps a small idle buffer instead of dropping to the floor,
// and a shrinking fleet loses at most (1 - retention) of itself per cycle.
func Recommend(depth, active int, t Thresholds) (int, models.Recommendation) {
	retention := t.ShrinkRetention
	if retention <= 0 || retention >= 1 {
		retention = 0.5
	}

	var target int
	if depth == 0 {
		// Keep up to two idle workers for instant response.
		buffer := active
		if buffer > 2 {
			buffer = 2
		}
		target = buffer
	} else {
		// One worker per job plus one, capped at the ceiling.
		target = depth + 1
		if target > t.MaxWorkers {
			target = t.MaxWorkers
		}
		if target < active {
			floor := int(float64(active) * retention)
			if target < floor {
				target = floor
			}
		}
	}

	if target < t.MinWorkers {
		target = t.MinWorkers
	}
	if target > t.MaxWorkers {
		target = t.MaxWorkers
	}

	switch {
	case target > active:
		return target, models.RecommendScaleUp
	case target < active:
		return target, models.RecommendScaleDown
	default:
		return target, models.RecommendMaintain
	}
}
