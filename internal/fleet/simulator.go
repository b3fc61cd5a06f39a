package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitreels/autoscaler/internal/logger"
)

type instanceState string

const (
	instanceRunning instanceState = "running"
	instanceStopped instanceState = "stopped"
	instanceKilled  instanceState = "killed"
)

// Simulator is an in-memory Driver. Launch and stop hooks let a host
// process run real worker agents in goroutines instead of containers.
type Simulator struct {
	mu          sync.Mutex
	instances   map[string]instanceState
	launchDelay time.Duration
	failures    int

	// OnLaunch and OnStop run in their own goroutine after the state
	// change is recorded.
	OnLaunch func(workerID string)
	OnStop   func(workerID string)
}

func NewSimulator(launchDelay time.Duration) *Simulator {
	return &Simulator{
		instances:   make(map[string]instanceState),
		launchDelay: launchDelay,
	}
}

// FailNext makes the next n mutations fail with ErrActionFailed.
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

func (s *Simulator) takeFailure() bool {
	if s.failures > 0 {
		s.failures--
		return true
	}
	return false
}

func (s *Simulator) Launch(ctx context.Context, workerID string) error {
	if s.launchDelay > 0 {
		select {
		case <-time.After(s.launchDelay):
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrActionFailed, ctx.Err())
		}
	}

	s.mu.Lock()
	if s.takeFailure() {
		s.mu.Unlock()
		return fmt.Errorf("%w: simulated launch failure for %s", ErrActionFailed, workerID)
	}
	s.instances[workerID] = instanceRunning
	hook := s.OnLaunch
	s.mu.Unlock()

	logger.WithWorker(workerID).Info("simulator launched worker")
	if hook != nil {
		go hook(workerID)
	}
	return nil
}

func (s *Simulator) Stop(ctx context.Context, workerID string) error {
	return s.terminate(workerID, instanceStopped)
}

func (s *Simulator) Kill(ctx context.Context, workerID string) error {
	return s.terminate(workerID, instanceKilled)
}

func (s *Simulator) terminate(workerID string, to instanceState) error {
	s.mu.Lock()
	if s.takeFailure() {
		s.mu.Unlock()
		return fmt.Errorf("%w: simulated stop failure for %s", ErrActionFailed, workerID)
	}
	state, ok := s.instances[workerID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	if state == instanceRunning {
		s.instances[workerID] = to
	}
	hook := s.OnStop
	s.mu.Unlock()

	logger.WithWorker(workerID).Infof("simulator worker %s", to)
	if hook != nil {
		go hook(workerID)
	}
	return nil
}

func (s *Simulator) HealthCheck(ctx context.Context) error {
	return nil
}

func (s *Simulator) Close() error {
	return nil
}

// Running returns the ids currently in the running state.
func (s *Simulator) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, state := range s.instances {
		if state == instanceRunning {
			ids = append(ids, id)
		}
	}
	return ids
}

// StateOf reports an instance's state for tests.
func (s *Simulator) StateOf(workerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.instances[workerID]
	return string(state), ok
}
