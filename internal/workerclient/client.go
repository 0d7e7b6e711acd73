// Package workerclient implements the WorkerClient collaborator named in
// spec.md §2: a thin HTTP client exposing create_task/start_task/
// get_task_state/get_task_log to the master, grounded in the teacher's
// executor.HTTPTaskExecutor client construction (bounded *http.Client
// timeout, net/http + encoding/json, no retries inside the client itself)
// and in master/api_client.py from original_source for the method set.
//
// CreateTask/StartTask/GetTaskState calls are wrapped by the caller's
// internal/circuitbreaker.CircuitBreaker; GetTaskLog, called from
// graphexec.Engine.InstanceTaskLog, is not
// (per spec.md §4.3, the TaskMentor owns the breaker — this package stays
// backend-agnostic and unaware of breaker state, matching the teacher's
// split between HTTPTaskExecutor and internal/circuitbreaker).
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luckygeck/dedalus/pkg/models"
)

// Client talks to a single worker's /v1.0/task/... HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client addressing a worker at baseURL (e.g. "http://host:8081").
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type createTaskRequest struct {
	Structure models.TaskStruct `json:"structure"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
}

type taskStateResponse struct {
	State string `json:"state"`
}

// CreateTask registers a new TaskInfo on the worker (state = idle) and
// returns the worker-assigned opaque task id.
func (c *Client) CreateTask(ctx context.Context, structure models.TaskStruct) (string, error) {
	var resp createTaskResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1.0/task/", createTaskRequest{Structure: structure}, &resp); err != nil {
		return "", err
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("workerclient: create_task returned empty task_id")
	}
	return resp.TaskID, nil
}

// StartTask transitions an idle task to preparing/running and returns the
// state the worker adopted.
func (c *Client) StartTask(ctx context.Context, taskID string) (string, error) {
	var resp taskStateResponse
	path := fmt.Sprintf("/v1.0/task/%s/start", taskID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// GetTaskState reads the current state of a non-terminal task.
func (c *Client) GetTaskState(ctx context.Context, taskID string) (string, error) {
	var resp taskStateResponse
	path := fmt.Sprintf("/v1.0/task/%s/state", taskID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	return resp.State, nil
}

// GetTaskLog proxies one stream ("out" or "err") of the task's captured
// log, unchanged from spec.md §1's "no log shipping beyond a proxy read"
// non-goal and spec.md §6's `/log/{out|err}` worker route.
func (c *Client) GetTaskLog(ctx context.Context, taskID, stream string) (string, error) {
	path := fmt.Sprintf("%s/v1.0/task/%s/log/%s", c.baseURL, taskID, stream)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", fmt.Errorf("workerclient: build log request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("workerclient: log request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("workerclient: read log response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("workerclient: worker %s returned %d: %s", c.baseURL, resp.StatusCode, string(body))
	}
	return string(body), nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("workerclient: encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("workerclient: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workerclient: request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("workerclient: read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("workerclient: worker %s returned %d: %s", c.baseURL, resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("workerclient: decode response: %w", err)
	}
	return nil
}
