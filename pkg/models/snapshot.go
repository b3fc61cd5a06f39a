package models

import "time"

type Recommendation string

const (
	RecommendScaleUp   Recommendation = "scale_up"
	RecommendScaleDown Recommendation = "scale_down"
	RecommendMaintain  Recommendation = "maintain"
)

// MetricsSnapshot is produced once per monitor cycle and published to the
// registry. It is immutable after publication; a failed collect republishes
// the previous snapshot with Stale set so the controller treats it as
// "no new information" rather than zero load.
type MetricsSnapshot struct {
	QueueDepth        int            `json:"queue_depth"`
	ActiveWorkers     int            `json:"active_workers"`
	HealthyWorkers    int            `json:"healthy_workers"`
	AvgProcessingTime float64        `json:"avg_processing_time_seconds"`
	Throughput        float64        `json:"throughput_per_minute"`
	Timestamp         time.Time      `json:"timestamp"`
	Recommendation    Recommendation `json:"recommendation"`
	TargetWorkers     int            `json:"target_workers"`
	Stale             bool           `json:"stale"`
}
