// Package sandbox provides the client for the isolated code-execution
// service and the execute_code tool built on it.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/config"
	"github.com/deepsense-ai/deepsense/pkg/httpclient"
)

// ExecuteRequest is the sandbox execution payload. The service runs the code
// with no network access under memory and CPU bounds.
type ExecuteRequest struct {
	Code         string   `json:"code"`
	Requirements []string `json:"requirements"`
	Language     string   `json:"language"`
}

// ExecuteResponse carries the captured process streams.
type ExecuteResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

type Client struct {
	baseURL    string
	httpClient *httpclient.Client
}

func NewClient(cfg config.SandboxConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{
				Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
			}),
			httpclient.WithMaxRetries(2),
		),
	}
}

func (c *Client) Execute(ctx context.Context, request ExecuteRequest) (*ExecuteResponse, error) {
	if request.Language == "" {
		request.Language = "python"
	}
	if request.Language != "python" && request.Language != "node" {
		return nil, fmt.Errorf("unsupported language: %s (supported: python, node)", request.Language)
	}
	if request.Requirements == nil {
		request.Requirements = []string{}
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/execute", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sandbox request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read sandbox response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sandbox returned HTTP %d: %s", resp.StatusCode, body)
	}

	var response ExecuteResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse sandbox response: %w", err)
	}

	return &response, nil
}
