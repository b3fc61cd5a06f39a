package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPJobSource claims jobs through the same management API the depth
// reads go through.
type HTTPJobSource struct {
	baseURL string
	queue   string
	client  *http.Client
}

func NewHTTPJobSource(cfg HTTPClientConfig) *HTTPJobSource {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPJobSource{
		baseURL: cfg.ManagementURL,
		queue:   cfg.Queue,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPJobSource) Claim(ctx context.Context) (*Job, error) {
	endpoint := fmt.Sprintf("%s/api/queues/%s/claim", s.baseURL, url.PathEscape(s.queue))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
		var job Job
		if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return &job, nil
	default:
		return nil, fmt.Errorf("%w: claim returned %d", ErrSourceUnavailable, resp.StatusCode)
	}
}

func (s *HTTPJobSource) Complete(ctx context.Context, jobID string) error {
	return s.report(ctx, jobID, "complete")
}

func (s *HTTPJobSource) Fail(ctx context.Context, jobID string) error {
	return s.report(ctx, jobID, "fail")
}

func (s *HTTPJobSource) report(ctx context.Context, jobID, outcome string) error {
	endpoint := fmt.Sprintf("%s/api/jobs/%s/%s", s.baseURL, url.PathEscape(jobID), outcome)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s of job %s returned %d", ErrSourceUnavailable, outcome, jobID, resp.StatusCode)
	}
	return nil
}

func (s *HTTPJobSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
