package monitor

import (
	"time"

	"github.com/rabbitreels/autoscaler/internal/registry"
)

// WindowStats are the rolling statistics carried on each snapshot.
type WindowStats struct {
	// AvgProcessingTime is the mean job duration in seconds over the
	// window, 0 when no jobs completed.
	AvgProcessingTime float64
	// Throughput is completed jobs per minute over the window.
	Throughput float64
}

// ComputeWindow aggregates processing samples that completed within the
// window ending at now.
func ComputeWindow(samples []registry.ProcessingSample, window time.Duration, now time.Time) WindowStats {
	cutoff := now.Add(-window)

	var (
		count int
		total float64
	)
	for _, sample := range samples {
		if sample.CompletedAt.Before(cutoff) {
			continue
		}
		count++
		total += sample.Seconds
	}

	if count == 0 {
		return WindowStats{}
	}
	return WindowStats{
		AvgProcessingTime: total / float64(count),
		Throughput:        float64(count) / window.Minutes(),
	}
}
