// Package inference is a client for OpenAI-compatible chat-completion APIs.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chatrelay/chatrelay/pkg/llm"
)

const (
	// DefaultURL is the Groq chat-completions endpoint.
	DefaultURL = "https://api.groq.com/openai/v1/chat/completions"

	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 5 * time.Minute
)

// UpstreamError is returned when the inference API answers with a
// non-success status.
type UpstreamError struct {
	StatusCode int

	// Message is error.message from the response body, empty if the body
	// did not carry one.
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

// Client sends completion requests to the inference API.
type Client struct {
	url        string
	logger     *zap.Logger
	httpClient *http.Client
}

// New creates a Client. An empty url selects DefaultURL and a non-positive
// timeout selects DefaultTimeout.
func New(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		url:    url,
		logger: logger,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Complete posts req with apiKey as bearer token. Transport and decoding
// failures are returned as plain errors, non-2xx answers as *UpstreamError.
func (c *Client) Complete(ctx context.Context, apiKey string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("forwarding request to upstream",
		zap.String("url", c.url),
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
		zap.Int("body_size", len(reqBody)),
	)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	startTime := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("received response from upstream",
		zap.Int("status", httpResp.StatusCode),
		zap.Int("body_size", len(body)),
		zap.Duration("duration", time.Since(startTime)),
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &UpstreamError{
			StatusCode: httpResp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	var resp llm.CompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &resp, nil
}

func errorMessage(body []byte) string {
	var e llm.CompletionError
	if err := json.Unmarshal(body, &e); err != nil || e.Error == nil {
		return ""
	}
	return e.Error.Message
}
