package main

import (
	"context"
	"time"

	"github.com/rabbitreels/autoscaler/internal/agent"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/config"
)

// runSimWorker backs the simulator driver with a real in-process lifecycle
// agent, so simulator runs exercise registration, heartbeats and drains
// end to end without containers.
func runSimWorker(ctx context.Context, workerID string, cfg *config.Config, workers *registry.WorkerRegistry) {
	ag := agent.New(workerID, agent.Config{
		HeartbeatInterval:       cfg.WorkerHeartbeatInterval(),
		GracefulShutdownTimeout: cfg.Scaling.GracefulShutdownTimeout,
	}, workers)

	if err := ag.Start(ctx); err != nil {
		logger.WithWorker(workerID).Errorf("simulated worker failed to start: %v", err)
		return
	}
	if err := ag.Ready(ctx); err != nil {
		logger.WithWorker(workerID).Errorf("simulated worker failed to report ready: %v", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			exitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := ag.Exit(exitCtx); err != nil {
				logger.WithWorker(workerID).Warnf("simulated worker exit: %v", err)
			}
			cancel()
			return
		case <-ag.Draining():
			if err := ag.Exit(ctx); err != nil {
				logger.WithWorker(workerID).Warnf("simulated worker exit: %v", err)
			}
			return
		}
	}
}
