// Package lend provides a typed JSON-RPC client for the openlend node. The
// gateway and CLI both sit on top of it.
package lend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	jsonRPCVersion = "2.0"
	defaultRPCID   = 1
)

// Client wraps a JSON-RPC endpoint with helpers for every ledger method.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
}

// Option configures the client defaults.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAuthToken sets the bearer token attached to admin RPC requests.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// New initialises a client bound to the provided JSON-RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("lend: endpoint required")
	}
	c := &Client{
		endpoint:   trimmed,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

// Error carries a JSON-RPC error response alongside the HTTP status so REST
// façades can translate it without string matching.
type Error struct {
	Status  int
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("lend: rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, requireAuth bool, out interface{}) error {
	if requireAuth && strings.TrimSpace(c.authToken) == "" {
		return fmt.Errorf("lend: auth token required for %s", method)
	}
	if params == nil {
		params = []interface{}{}
	}
	payload := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      defaultRPCID,
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("lend: encode rpc payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("lend: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("lend: rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	var decoded rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("lend: rpc error status %d", resp.StatusCode)
		}
		return fmt.Errorf("lend: decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return &Error{
			Status:  resp.StatusCode,
			Code:    decoded.Error.Code,
			Message: decoded.Error.Message,
			Data:    decoded.Error.Data,
		}
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("lend: decode rpc result: %w", err)
	}
	return nil
}
