// Package agentapi talks to the form-filling agent backend over HTTP and
// ships an offline stand-in for development.
package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"formcopilot/internal/domain"
	"formcopilot/internal/ports"
)

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("agent returned status %d", e.Status)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.Status, e.Detail)
}

// Client is the HTTP chat transport.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        logrus.FieldLogger
}

var _ ports.ChatTransport = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, log logrus.FieldLogger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// Send posts one chat turn to the feature's endpoint.
func (c *Client) Send(ctx context.Context, feature domain.Feature, req domain.ChatRequest) (domain.ChatResponse, error) {
	body, err := encodeRequest(feature, req)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	url := c.baseURL + chatPath(feature)
	started := time.Now()
	switch feature {
	case domain.FeatureSortingInput:
		var resp sortingChatResponse
		if err := c.postJSON(ctx, url, body, &resp); err != nil {
			return domain.ChatResponse{}, err
		}
		c.logExchange(feature, resp.Action, started)
		return resp.toDomain(), nil
	default:
		var resp profileChatResponse
		if err := c.postJSON(ctx, url, body, &resp); err != nil {
			return domain.ChatResponse{}, err
		}
		c.logExchange(feature, resp.Action, started)
		return resp.toDomain(), nil
	}
}

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to reach agent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) logExchange(feature domain.Feature, action string, started time.Time) {
	c.log.WithFields(logrus.Fields{
		"feature":  feature,
		"action":   action,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Debug("agent exchange completed")
}

// decodeAPIError reads FastAPI's {"detail": ...} body. Validation errors
// carry a list instead of a string; those are kept as raw JSON.
func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{Status: resp.StatusCode}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
			apiErr.Detail = detail
		} else {
			apiErr.Detail = string(envelope.Detail)
		}
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(raw))
	return apiErr
}
