package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rabbitreels/autoscaler/internal/logger"
)

// HTTPClient talks to the broker's HTTP management API.
type HTTPClient struct {
	baseURL string
	queue   string
	client  *http.Client
}

type HTTPClientConfig struct {
	ManagementURL string
	Queue         string
	Timeout       time.Duration
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.ManagementURL,
		queue:   cfg.Queue,
		client:  &http.Client{Timeout: timeout},
	}
}

type queueInfo struct {
	Name     string `json:"name"`
	Messages int    `json:"messages"`
}

func (c *HTTPClient) QueueDepth(ctx context.Context) (int, error) {
	endpoint := fmt.Sprintf("%s/api/queues/%s", c.baseURL, url.PathEscape(c.queue))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: queue query returned %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var info queueInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	if info.Messages < 0 {
		return 0, fmt.Errorf("%w: negative message count %d", ErrSourceUnavailable, info.Messages)
	}
	return info.Messages, nil
}

func (c *HTTPClient) Release(ctx context.Context, jobID string) error {
	endpoint := fmt.Sprintf("%s/api/queues/%s/requeue", c.baseURL, url.PathEscape(c.queue))

	body, err := json.Marshal(map[string]string{"job_id": jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal requeue request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: requeue of job %s returned %d", ErrSourceUnavailable, jobID, resp.StatusCode)
	}

	logger.WithField("job_id", jobID).Info("job released for redelivery")
	return nil
}

func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	endpoint := c.baseURL + "/api/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrSourceUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
