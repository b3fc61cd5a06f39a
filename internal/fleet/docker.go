package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rabbitreels/autoscaler/internal/logger"
)

const dockerAPIVersion = "v1.43"

// DockerDriver runs workers as containers against the Docker Engine API.
type DockerDriver struct {
	client     *http.Client
	image      string
	network    string
	extraEnv   []string
	mu         sync.Mutex
	containers map[string]string // workerID -> container id
}

type DockerConfig struct {
	// Host is the daemon address, e.g. unix:///var/run/docker.sock or
	// tcp://127.0.0.1:2375.
	Host    string
	Image   string
	Network string
	Env     []string
	Timeout time.Duration
}

func NewDockerDriver(cfg DockerConfig) (*DockerDriver, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("docker driver requires an image")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{}
	switch {
	case strings.HasPrefix(cfg.Host, "unix://"):
		socket := strings.TrimPrefix(cfg.Host, "unix://")
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
	case strings.HasPrefix(cfg.Host, "tcp://"):
		addr := strings.TrimPrefix(cfg.Host, "tcp://")
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		}
	default:
		return nil, fmt.Errorf("unsupported docker host %q", cfg.Host)
	}

	return &DockerDriver{
		client:     &http.Client{Transport: transport, Timeout: timeout},
		image:      cfg.Image,
		network:    cfg.Network,
		extraEnv:   cfg.Env,
		containers: make(map[string]string),
	}, nil
}

type containerCreateRequest struct {
	Image      string                 `json:"Image"`
	Env        []string               `json:"Env,omitempty"`
	Labels     map[string]string      `json:"Labels,omitempty"`
	HostConfig map[string]interface{} `json:"HostConfig,omitempty"`
}

type containerCreateResponse struct {
	ID string `json:"Id"`
}

func (d *DockerDriver) Launch(ctx context.Context, workerID string) error {
	create := containerCreateRequest{
		Image:  d.image,
		Env:    append([]string{"WORKER_ID=" + workerID}, d.extraEnv...),
		Labels: map[string]string{"autoscaler.worker_id": workerID},
	}
	if d.network != "" {
		create.HostConfig = map[string]interface{}{"NetworkMode": d.network}
	}

	var created containerCreateResponse
	err := d.do(ctx, http.MethodPost,
		fmt.Sprintf("/containers/create?name=worker-%s", workerID),
		create, &created)
	if err != nil {
		return fmt.Errorf("%w: create container for %s: %v", ErrActionFailed, workerID, err)
	}

	if err := d.do(ctx, http.MethodPost, "/containers/"+created.ID+"/start", nil, nil); err != nil {
		return fmt.Errorf("%w: start container for %s: %v", ErrActionFailed, workerID, err)
	}

	d.mu.Lock()
	d.containers[workerID] = created.ID
	d.mu.Unlock()

	logger.WithWorker(workerID).WithField("container_id", created.ID).Info("launched worker container")
	return nil
}

func (d *DockerDriver) Stop(ctx context.Context, workerID string) error {
	cid, err := d.containerFor(workerID)
	if err != nil {
		return err
	}
	if err := d.do(ctx, http.MethodPost, "/containers/"+cid+"/stop", nil, nil); err != nil {
		return fmt.Errorf("%w: stop container for %s: %v", ErrActionFailed, workerID, err)
	}
	return d.remove(ctx, workerID, cid)
}

func (d *DockerDriver) Kill(ctx context.Context, workerID string) error {
	cid, err := d.containerFor(workerID)
	if err != nil {
		return err
	}
	if err := d.do(ctx, http.MethodPost, "/containers/"+cid+"/kill", nil, nil); err != nil {
		return fmt.Errorf("%w: kill container for %s: %v", ErrActionFailed, workerID, err)
	}
	return d.remove(ctx, workerID, cid)
}

func (d *DockerDriver) remove(ctx context.Context, workerID, cid string) error {
	if err := d.do(ctx, http.MethodDelete, "/containers/"+cid+"?force=1", nil, nil); err != nil {
		logger.WithWorker(workerID).Warnf("failed to remove container %s: %v", cid, err)
	}
	d.mu.Lock()
	delete(d.containers, workerID)
	d.mu.Unlock()
	return nil
}

func (d *DockerDriver) containerFor(workerID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cid, ok := d.containers[workerID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	return cid, nil
}

func (d *DockerDriver) HealthCheck(ctx context.Context) error {
	if err := d.do(ctx, http.MethodGet, "/_ping", nil, nil); err != nil {
		return fmt.Errorf("%w: docker ping: %v", ErrActionFailed, err)
	}
	return nil
}

func (d *DockerDriver) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	// The host in the URL is ignored; the transport dials the daemon.
	url := "http://docker/" + dockerAPIVersion + path
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("docker API %s %s returned %d: %s", method, path, resp.StatusCode, string(detail))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (d *DockerDriver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}
