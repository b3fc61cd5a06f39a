package broker

import (
	"context"
	"sync"
)

// Mock is an in-memory Client for tests and simulator runs.
type Mock struct {
	mu       sync.Mutex
	depth    int
	depthErr error
	released []string
}

func NewMock(depth int) *Mock {
	return &Mock{depth: depth}
}

func (m *Mock) SetDepth(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depth = depth
}

// FailWith makes subsequent QueueDepth calls return err; nil restores
// normal behavior.
func (m *Mock) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depthErr = err
}

func (m *Mock) QueueDepth(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depthErr != nil {
		return 0, m.depthErr
	}
	return m.depth, nil
}

func (m *Mock) Release(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, jobID)
	m.depth++
	return nil
}

func (m *Mock) Released() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.released))
	copy(out, m.released)
	return out
}

func (m *Mock) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depthErr
}

func (m *Mock) Close() error {
	return nil
}

// MockJobSource feeds a fixed sequence of jobs, then reports an empty
// queue.
type MockJobSource struct {
	mu        sync.Mutex
	jobs      []*Job
	completed []string
	failed    []string
}

func NewMockJobSource(jobs ...*Job) *MockJobSource {
	return &MockJobSource{jobs: jobs}
}

func (s *MockJobSource) Claim(ctx context.Context) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return nil, nil
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	return job, nil
}

func (s *MockJobSource) Complete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, jobID)
	return nil
}

func (s *MockJobSource) Fail(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, jobID)
	return nil
}

func (s *MockJobSource) Completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.completed))
	copy(out, s.completed)
	return out
}

func (s *MockJobSource) Close() error {
	return nil
}
