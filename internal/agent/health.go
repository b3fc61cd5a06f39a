package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rabbitreels/autoscaler/internal/logger"
)

// HealthHandler serves the per-worker liveness probe consumed by the
// orchestration primitive, independent of the heartbeat-to-registry path.
func (a *Agent) HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, jobID, processed, failed, uptime := a.Snapshot()

		c.JSON(http.StatusOK, gin.H{
			"worker_id":      a.id,
			"status":         status,
			"current_job_id": jobID,
			"jobs_processed": processed,
			"jobs_failed":    failed,
			"uptime_seconds": int(uptime.Seconds()),
			"draining":       a.IsDraining(),
		})
	}
}

// ServeHealth runs the probe server in the background and returns a
// shutdown func.
func (a *Agent) ServeHealth(port int, mode string) func(context.Context) error {
	if mode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/health", a.HealthHandler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      engine,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithWorker(a.id).Errorf("health server failed: %v", err)
		}
	}()

	return srv.Shutdown
}
