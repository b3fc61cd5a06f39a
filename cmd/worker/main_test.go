package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rabbitreels/autoscaler/internal/agent"
	"github.com/rabbitreels/autoscaler/internal/broker"
	"github.com/rabbitreels/autoscaler/internal/registry"
)

type stubJobSource struct {
	mu        sync.Mutex
	queue     []*broker.Job
	completed []string
	failed    []string
}

func (s *stubJobSource) Claim(ctx context.Context) (*broker.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	return job, nil
}

func (s *stubJobSource) Complete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *stubJobSource) Fail(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, jobID)
	return nil
}

func (s *stubJobSource) Close() error { return nil }

func (s *stubJobSource) outcomes() (completed, failed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.completed...), append([]string(nil), s.failed...)
}

func newLoopAgent(t *testing.T, graceful time.Duration) *agent.Agent {
	t.Helper()

	workers := registry.NewWorkerRegistry(registry.NewMemory())
	ag := agent.New("worker-loop-test", agent.Config{
		HeartbeatInterval:       time.Hour,
		GracefulShutdownTimeout: graceful,
	}, workers)

	ctx := context.Background()
	require.NoError(t, ag.Start(ctx))
	require.NoError(t, ag.Ready(ctx))
	t.Cleanup(func() {
		exitCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ag.Exit(exitCtx)
	})
	return ag
}

// Shutdown must let a busy worker finish its job: cancelling the run
// context mid-job drains the loop without aborting the work in flight.
func TestJobLoopDrainLetsBusyJobFinish(t *testing.T) {
	ag := newLoopAgent(t, 5*time.Second)
	src := &stubJobSource{queue: []*broker.Job{
		{ID: "job-1", Payload: []byte(`{"duration_ms":300}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ctx.Done()
		ag.Drain()
	}()

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	jobLoop(ctx, ag, src, 10*time.Millisecond)
	elapsed := time.Since(start)

	completed, failed := src.outcomes()
	assert.Equal(t, []string{"job-1"}, completed)
	assert.Empty(t, failed)
	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond,
		"loop must outlive the shutdown signal while the job runs")
}

// Past the graceful deadline the drained job is cut off and reported
// failed so the broker redelivers it.
func TestJobLoopAbandonsJobPastDrainDeadline(t *testing.T) {
	ag := newLoopAgent(t, 100*time.Millisecond)
	src := &stubJobSource{queue: []*broker.Job{
		{ID: "job-1", Payload: []byte(`{"duration_ms":5000}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-ctx.Done()
		ag.Drain()
	}()

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	jobLoop(ctx, ag, src, 10*time.Millisecond)
	elapsed := time.Since(start)

	completed, failed := src.outcomes()
	assert.Empty(t, completed)
	assert.Equal(t, []string{"job-1"}, failed)
	assert.Less(t, elapsed, 2*time.Second)
}

// Without a drain pending, a job is never cut off by the graceful
// deadline: the deadline is measured from the drain request, not from
// the claim.
func TestJobLoopDeadlineScopedToDrain(t *testing.T) {
	ag := newLoopAgent(t, 50*time.Millisecond)
	src := &stubJobSource{queue: []*broker.Job{
		{ID: "job-1", Payload: []byte(`{"duration_ms":250}`)},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(400 * time.Millisecond)
		ag.Drain()
	}()

	jobLoop(ctx, ag, src, 10*time.Millisecond)

	completed, failed := src.outcomes()
	assert.Equal(t, []string{"job-1"}, completed)
	assert.Empty(t, failed)
}
