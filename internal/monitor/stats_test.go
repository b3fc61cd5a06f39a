package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rabbitreels/autoscaler/internal/registry"
)

func TestComputeWindow(t *testing.T) {
	now := time.Now()
	window := 5 * time.Minute

	samples := []registry.ProcessingSample{
		{Seconds: 2, CompletedAt: now.Add(-1 * time.Minute)},
		{Seconds: 4, CompletedAt: now.Add(-2 * time.Minute)},
		{Seconds: 6, CompletedAt: now.Add(-10 * time.Minute)}, // outside window
	}

	stats := ComputeWindow(samples, window, now)
	assert.Equal(t, 3.0, stats.AvgProcessingTime)
	assert.InDelta(t, 0.4, stats.Throughput, 1e-9, "2 jobs over 5 minutes")
}

func TestComputeWindowEmpty(t *testing.T) {
	stats := ComputeWindow(nil, 5*time.Minute, time.Now())
	assert.Zero(t, stats.AvgProcessingTime)
	assert.Zero(t, stats.Throughput)
}
