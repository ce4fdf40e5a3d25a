// Package datasource provides external data adapters and derives registry
// tools from their advertised methods.
//
// Each adapter exposes named methods. Methods that share a tool name are
// unified by the tool registry into one action-dispatched tool.
package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deepsense-ai/deepsense/pkg/httpclient"
)

// Method is one callable operation a datasource advertises.
type Method struct {
	// Name is the action discriminator within the owning tool.
	Name string

	// ToolName is the registry name this method registers under. Methods
	// across sources sharing a ToolName unify into one tool.
	ToolName string

	Description string

	// UserAction marks side-effectful intents whose results the loop
	// harvests.
	UserAction bool

	// Parameters is a JSON Schema object for the method arguments.
	Parameters map[string]interface{}

	Invoke func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// DataSource is an external data adapter with a stable name.
type DataSource interface {
	Name() string
	Methods() []Method
}

// RESTSource is the shared transport base for adapters. It speaks plain REST
// and Solana-style JSON-RPC through the retrying HTTP client.
type RESTSource struct {
	name    string
	restURL string
	rpcURL  string
	headers map[string]string
	client  *httpclient.Client
}

func NewRESTSource(name, restURL, rpcURL string, timeout time.Duration, headers map[string]string) *RESTSource {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RESTSource{
		name:    name,
		restURL: strings.TrimRight(restURL, "/"),
		rpcURL:  rpcURL,
		headers: headers,
		client: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
			httpclient.WithMaxRetries(3),
		),
	}
}

func (s *RESTSource) Name() string {
	return s.name
}

// Get performs a REST GET against the configured base URL and decodes the
// JSON response.
func (s *RESTSource) Get(ctx context.Context, endpoint string, params map[string]string) (interface{}, error) {
	if s.restURL == "" {
		return nil, fmt.Errorf("no REST URL configured for datasource %s", s.name)
	}

	target := s.restURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	s.applyHeaders(req)

	return s.do(req)
}

// Post performs a REST POST with a JSON body.
func (s *RESTSource) Post(ctx context.Context, endpoint string, body interface{}) (interface{}, error) {
	if s.restURL == "" {
		return nil, fmt.Errorf("no REST URL configured for datasource %s", s.name)
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	target := s.restURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, "POST", target, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	s.applyHeaders(req)

	return s.do(req)
}

// RPC performs a JSON-RPC 2.0 call against the configured RPC URL.
func (s *RESTSource) RPC(ctx context.Context, method string, params interface{}) (interface{}, error) {
	if s.rpcURL == "" {
		return nil, fmt.Errorf("no RPC URL configured for datasource %s", s.name)
	}

	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.rpcURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(jsonData)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	s.applyHeaders(req)

	decoded, err := s.do(req)
	if err != nil {
		return nil, err
	}

	envelope, ok := decoded.(map[string]interface{})
	if !ok {
		return decoded, nil
	}
	if rpcErr, present := envelope["error"]; present && rpcErr != nil {
		return nil, fmt.Errorf("RPC error from %s: %v", s.name, rpcErr)
	}
	if result, present := envelope["result"]; present {
		return result, nil
	}
	return decoded, nil
}

func (s *RESTSource) applyHeaders(req *http.Request) {
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
}

func (s *RESTSource) do(req *http.Request) (interface{}, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datasource %s request failed: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", s.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("datasource %s returned HTTP %d: %s", s.name, resp.StatusCode, body)
	}

	var decoded interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Some endpoints return plain text.
		return string(body), nil
	}
	return decoded, nil
}

// objectSchema is a shorthand for building method parameter schemas.
func objectSchema(required []string, props map[string]interface{}) map[string]interface{} {
	if required == nil {
		required = []string{}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func stringArg(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", fmt.Errorf("argument '%s' is required", key)
	}
	return val, nil
}

func stringArgDefault(args map[string]interface{}, key, fallback string) string {
	if val, ok := args[key].(string); ok && val != "" {
		return val
	}
	return fallback
}

func intArgDefault(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}
