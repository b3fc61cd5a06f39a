package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rabbitreels/autoscaler/internal/agent"
	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/logger"
	"github.com/rabbitreels/autoscaler/internal/registry"
	"github.com/rabbitreels/autoscaler/pkg/config"
	"github.com/rabbitreels/autoscaler/pkg/database"
)

func main() {
	if err := run(); err != nil {
		logger.Fatalf("worker failed: %v", err)
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

	store, db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if db != nil {
		defer db.Close()
	}

	workers := registry.NewWorkerRegistry(store)

	jobs := broker.NewHTTPJobSource(broker.HTTPClientConfig{
		ManagementURL: cfg.Broker.ManagementURL,
		Queue:         cfg.Broker.Queue,
		Timeout:       cfg.Broker.Timeout,
	})
	defer jobs.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The controller injects WORKER_ID at launch; it matches the record it
	// pre-registered.
	ag := agent.New(os.Getenv("WORKER_ID"), agent.Config{
		HeartbeatInterval:       cfg.WorkerHeartbeatInterval(),
		GracefulShutdownTimeout: cfg.Scaling.GracefulShutdownTimeout,
	}, workers)

	logger.WithWorker(ag.ID()).Info("worker starting")

	if err := ag.Start(ctx); err != nil {
		return err
	}

	if err := initialize(ctx); err != nil {
		if failErr := ag.FailStartup(ctx, err); failErr != nil {
			logger.WithWorker(ag.ID()).Errorf("failed to report startup failure: %v", failErr)
		}
		return fmt.Errorf("initialization failed: %w", err)
	}
	if err := ag.Ready(ctx); err != nil {
		return err
	}

	stopHealth := ag.ServeHealth(cfg.Worker.HealthPort, cfg.App.Mode)
	defer func() {
		hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stopHealth(hctx); err != nil {
			logger.WithWorker(ag.ID()).Warnf("health server shutdown: %v", err)
		}
	}()

	// SIGTERM is a drain request, not an abort; the job loop below decides
	// when it is safe to exit.
	go func() {
		<-ctx.Done()
		ag.Drain()
	}()

	jobLoop(ctx, ag, jobs, cfg.Worker.PollInterval)

	exitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return ag.Exit(exitCtx)
}

// initialize stands in for the worker's real setup (renderer caches, model
// downloads). Failures here self-report Unhealthy before exit.
func initialize(ctx context.Context) error {
	return ctx.Err()
}

// jobLoop claims and processes jobs until a drain request. A drain while
// busy lets the current job finish, bounded by the graceful deadline; past
// the deadline the job is abandoned for redelivery and the loop exits.
func jobLoop(ctx context.Context, ag *agent.Agent, jobs broker.JobSource, pollInterval time.Duration) {
	for {
		if ag.IsDraining() {
			return
		}

		job, err := jobs.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithWorker(ag.ID()).Warnf("claim failed: %v", err)
			sleep(ctx, ag, pollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, ag, pollInterval)
			continue
		}

		if err := ag.ClaimJob(ctx, job.ID); err != nil {
			logger.WithWorker(ag.ID()).Warnf("failed to report claim: %v", err)
		}

		start := time.Now()
		jctx, jcancel := jobContext(ag)
		err = processJob(jctx, job)
		jcancel()
		took := time.Since(start)

		// Outcome reporting must survive the drain signal, so it runs on
		// its own bounded context.
		rctx, rcancel := context.WithTimeout(context.Background(), reportTimeout)
		if err != nil {
			logger.WithWorker(ag.ID()).WithField("job_id", job.ID).Errorf("job failed: %v", err)
			if ferr := jobs.Fail(rctx, job.ID); ferr != nil {
				logger.WithWorker(ag.ID()).Warnf("failed to report job failure: %v", ferr)
			}
			if aerr := ag.FinishJob(rctx, false, took); aerr != nil {
				logger.WithWorker(ag.ID()).Warnf("failed to update record: %v", aerr)
			}
			rcancel()
			continue
		}

		if cerr := jobs.Complete(rctx, job.ID); cerr != nil {
			logger.WithWorker(ag.ID()).Warnf("failed to report completion: %v", cerr)
		}
		if aerr := ag.FinishJob(rctx, true, took); aerr != nil {
			logger.WithWorker(ag.ID()).Warnf("failed to update record: %v", aerr)
		}
		rcancel()
	}
}

const reportTimeout = 10 * time.Second

// jobContext detaches the running job from the drain signal. An undrained
// job runs unbounded; once a drain is requested the job gets the graceful
// deadline, measured from the request, to finish before it is cancelled.
func jobContext(ag *agent.Agent) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-ag.Draining():
		}
		timer := time.NewTimer(ag.DrainDeadline())
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			cancel()
		}
	}()
	return ctx, cancel
}

type jobSpec struct {
	DurationMS int `json:"duration_ms"`
}

// processJob simulates the opaque render work. A payload may carry an
// explicit duration; otherwise a short random one is used.
func processJob(ctx context.Context, job *broker.Job) error {
	duration := time.Duration(500+rand.Intn(2500)) * time.Millisecond
	var spec jobSpec
	if len(job.Payload) > 0 && json.Unmarshal(job.Payload, &spec) == nil && spec.DurationMS > 0 {
		duration = time.Duration(spec.DurationMS) * time.Millisecond
	}

	select {
	case <-time.After(duration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, ag *agent.Agent, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-ag.Draining():
	case <-time.After(d):
	}
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
