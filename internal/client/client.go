// Package client calls the chat backend over HTTP, the way the browser
// extension does.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/projectq/projectq/backend/internal/model/chat"
)

const (
	DefaultBaseURL = "http://localhost:3001"
	DefaultTimeout = 60 * time.Second

	// UnreachableMessage is reported when no HTTP response was received at all.
	UnreachableMessage = "Backend server is not running. Please start the backend server."
	// TimeoutMessage is reported when the backend was reached but did not answer in time.
	TimeoutMessage = "Request timed out. Please try again."
)

// Client posts chat turns to the backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. If baseURL is empty, uses PROJECTQ_BACKEND_URL or defaults to localhost:3001.
// A nil httpClient gets DefaultTimeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("PROJECTQ_BACKEND_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Chat sends one turn. Failures are *chat.Error; a backend that cannot be
// reached yields BACKEND_UNREACHABLE and one that answers too slowly yields TIMEOUT.
func (c *Client) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	var resp chat.Response
	if err := c.do(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health reports the backend version.
func (c *Client) Health(ctx context.Context) (string, error) {
	var status struct {
		OK      bool   `json:"ok"`
		Version string `json:"version"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return "", err
	}
	if !status.OK {
		return "", &chat.Error{Code: chat.CodeUpstreamError, Message: "backend reported unhealthy"}
	}
	return status.Version, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailure(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportFailure(err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeFailure(resp, data)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &chat.Error{Code: chat.CodeUpstreamError, Message: chat.DefaultErrorMessage, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}

// transportFailure classifies an error that left no usable response. A backend
// that accepted the request but did not answer in time is slow, not unreachable.
func transportFailure(err error) *chat.Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &chat.Error{Code: chat.CodeTimeout, Message: TimeoutMessage, Err: err}
	}
	return &chat.Error{Code: chat.CodeBackendUnreachable, Message: UnreachableMessage, Err: err}
}

// decodeFailure turns a non-200 response into a *chat.Error, preferring the
// backend's own error envelope.
func decodeFailure(resp *http.Response, data []byte) error {
	var envelope chat.ErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		return &chat.Error{Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &chat.Error{
		Code:    chat.CodeUpstreamError,
		Message: chat.DefaultErrorMessage,
		Err:     errors.New("backend returned " + resp.Status + ": " + strings.TrimSpace(string(data))),
	}
}
