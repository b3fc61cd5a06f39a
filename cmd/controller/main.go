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
	"github.com/rabbitreels/autoscaler/internal/controller"
	"github.com/rabbitreels/autoscaler/internal/events"
	"github.com/rabbitreels/autoscaler/internal/fleet"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/config"
	"github.com/rabbitreels/autoscaler/pkg/database"
)

func main() {
	if err := run(); err != nil {
		logger.Fatalf("controller failed: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional)")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(cfg.App.LogLevel, cfg.App.Mode)
	logger.WithComponent("controller").Infof("%s starting in %s mode", cfg.App.Name, cfg.App.Mode)

	var db *database.DB
	if cfg.Registry.Backend == "postgres" || *migrate {
		db, err = database.New(database.Config{
			Host:           cfg.Database.Host,
			Port:           cfg.Database.Port,
			Name:           cfg.Database.Name,
			User:           cfg.Database.User,
			Password:       cfg.Database.Password,
			SSLMode:        cfg.Database.SSLMode,
			MaxConnections: cfg.Database.MaxConnections,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
	}

	if *migrate {
		mctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := database.NewMigrator(db).Run(mctx); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	var store registry.Store
	if db != nil {
		store = registry.NewPostgres(db)
	} else {
		store = registry.NewMemory()
	}
	defer store.Close()

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

	var eventStore *database.ScalingEventStore
	if db != nil {
		eventStore = database.NewScalingEventStore(db)
	}
	eventLogger := events.NewEventLogger(bus, eventStore)
	go eventLogger.Run(ctx)

	driver, err := buildDriver(ctx, cfg, workers)
	if err != nil {
		return err
	}
	defer driver.Close()

	ctrl := controller.New(controller.Config{
		Interval:                cfg.Controller.Interval,
		ActionTimeout:           cfg.Controller.ActionTimeout,
		MinWorkers:              cfg.Scaling.MinWorkers,
		MaxWorkers:              cfg.Scaling.MaxWorkers,
		CooldownPeriod:          cfg.Scaling.CooldownPeriod,
		HeartbeatTimeout:        cfg.Scaling.HeartbeatTimeout,
		GracefulShutdownTimeout: cfg.Scaling.GracefulShutdownTimeout,
	}, workers, snapshots, driver, brokerClient, publisher)
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

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
		Events:    eventStore,
		Bus:       bus,
		DB:        db,
		Ready:     readiness(ctrl),
	})
	serveErr := server.Start(ctx)
	logger.WithComponent("controller").Infof("api listening on %s:%d", cfg.API.Host, cfg.API.Port)

	select {
	case <-ctx.Done():
		logger.WithComponent("controller").Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("api server failed: %w", err)
		}
	}

	ctrl.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func readiness(ctrl *controller.Controller) func() (bool, gin.H) {
	return func() (bool, gin.H) {
		return true, gin.H{"fleet_state": ctrl.State()}
	}
}

func buildDriver(ctx context.Context, cfg *config.Config, workers *registry.WorkerRegistry) (fleet.Driver, error) {
	var inner fleet.Driver

	switch cfg.Fleet.Driver {
	case "docker":
		docker, err := fleet.NewDockerDriver(fleet.DockerConfig{
			Host:    cfg.Fleet.DockerHost,
			Image:   cfg.Fleet.Image,
			Network: cfg.Fleet.Network,
			Timeout: cfg.Controller.ActionTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build docker driver: %w", err)
		}
		inner = docker

	default:
		sim := fleet.NewSimulator(0)
		sim.OnLaunch = func(workerID string) {
			runSimWorker(ctx, workerID, cfg, workers)
		}
		inner = sim
	}

	return fleet.NewResilientDriver(inner, fleet.ResilientConfig{
		MaxRetries: cfg.Controller.ActionRetries,
	}), nil
}
