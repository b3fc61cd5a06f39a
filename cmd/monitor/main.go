package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rabbitreels/autoscaler/api"
	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/monitor"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/config"
	"github.com/rabbitreels/autoscaler/pkg/database"
)

func main() {
	if err := run(); err != nil {
		logger.Fatalf("monitor failed: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	logger.WithComponent("monitor").Infof("%s starting in %s mode", cfg.App.Name, cfg.App.Mode)

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if db != nil {
		defer db.Close()
	}

	workers := registry.NewWorkerRegistry(store)
	snapshots := registry.NewSnapshotStore(store, cfg.Monitor.HistorySize)

	brokerClient := broker.NewHTTPClient(broker.HTTPClientConfig{
		ManagementURL: cfg.Broker.ManagementURL,
		Queue:         cfg.Broker.Queue,
		Timeout:       cfg.Broker.Timeout,
	})
	defer brokerClient.Close()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	publisher := events.NewPublisher(bus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventLogger := events.NewEventLogger(bus, nil)
	go eventLogger.Run(ctx)

	mon := monitor.New(monitor.Config{
		Interval:         cfg.Monitor.Interval,
		SourceTimeout:    cfg.Monitor.SourceTimeout,
		DegradedAfter:    cfg.Monitor.DegradedAfter,
		HeartbeatTimeout: cfg.Scaling.HeartbeatTimeout,
		MetricsWindow:    cfg.Scaling.MetricsWindow,
		Thresholds: monitor.Thresholds{
			MinWorkers:      cfg.Scaling.MinWorkers,
			MaxWorkers:      cfg.Scaling.MaxWorkers,
			ShrinkRetention: cfg.Scaling.ScaleDownThreshold,
		},
	}, brokerClient, workers, snapshots, publisher)
	mon.Start(ctx)

	server := api.NewServer(api.Config{
		Host:         cfg.API.Host,
		Port:         cfg.API.Port,
		Mode:         cfg.App.Mode,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		RateLimit:    cfg.API.RateLimit,
		RateWindow:   cfg.API.RateWindow,
	}, api.Deps{
		Snapshots: snapshots,
		Workers:   workers,
		Bus:       bus,
		DB:        db,
		Ready: func() (bool, gin.H) {
			degraded := mon.Degraded()
			detail := gin.H{"degraded": degraded}
			if snap := mon.LastSnapshot(); snap != nil {
				detail["last_snapshot_at"] = snap.Timestamp
			}
			return !degraded, detail
		},
	})
	serveErr := server.Start(ctx)
	logger.WithComponent("monitor").Infof("api listening on %s:%d", cfg.API.Host, cfg.API.Port)

	select {
	case <-ctx.Done():
		logger.WithComponent("monitor").Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
	}

	mon.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (registry.Store, *database.DB, error) {
	if cfg.Registry.Backend != "postgres" {
		return registry.NewMemory(), nil, nil
	}

	db, err := database.New(database.Config{
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Name:           cfg.Database.Name,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		SSLMode:        cfg.Database.SSLMode,
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return registry.NewPostgres(db), db, nil
}
