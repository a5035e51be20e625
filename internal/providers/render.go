package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ---------------------------------------------------------------------------
// Shotstack Render Service
// Submits a declarative edit document and polls render status. Follows a
// deferred request pattern: submit edit → poll by render id → download result.
// ---------------------------------------------------------------------------

const (
	shotstackRequestTimeout = 30 * time.Second // Timeout for individual HTTP calls, not the full poll cycle
)

// RenderState is the normalized render status vocabulary. The provider's own
// states (queued, fetching, rendering, saving, ...) collapse into these three.
type RenderState string

const (
	RenderStateProcessing RenderState = "processing"
	RenderStateDone       RenderState = "done"
	RenderStateFailed     RenderState = "failed"
)

// RenderStatus is one poll result.
type RenderStatus struct {
	State RenderState
	URL   string // Result URL, set when State is done
	Error string // Provider error detail, set when State is failed
}

// RenderProvider is the rendering contract consumed by the pipeline.
type RenderProvider interface {
	SubmitRender(ctx context.Context, edit interface{}) (string, error)
	GetRenderStatus(ctx context.Context, renderID string) (*RenderStatus, error)
}

// SubmissionError is a non-2xx response to a render submission. The pipeline
// inspects Body to decide whether a caption-asset fallback shape is worth
// trying before giving up.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("render submission rejected with status %d: %s", e.StatusCode, e.Body)
}

// ShotstackClient talks to the Shotstack edit API.
type ShotstackClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewShotstackClient(apiKey, baseURL string) *ShotstackClient {
	return &ShotstackClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: shotstackRequestTimeout},
	}
}

// shotstackSubmitResponse is the response from POST /render
type shotstackSubmitResponse struct {
	Success  bool `json:"success"`
	Response struct {
		ID string `json:"id"`
	} `json:"response"`
}

// shotstackStatusResponse is the response from GET /render/{id}
type shotstackStatusResponse struct {
	Response struct {
		Status string `json:"status"` // queued, fetching, rendering, saving, done, failed
		URL    string `json:"url"`
		Error  string `json:"error"`
	} `json:"response"`
}

// SubmitRender POSTs the edit document and returns the provider's render id.
// Non-2xx responses come back as *SubmissionError so callers can inspect the
// rejection body.
func (c *ShotstackClient) SubmitRender(ctx context.Context, edit interface{}) (string, error) {
	payload, err := json.Marshal(edit)
	if err != nil {
		return "", fmt.Errorf("failed to marshal edit document: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, shotstackRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "POST", c.baseURL+"/render", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render submission failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded shotstackSubmitResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("failed to parse submission response: %w (body: %s)", err, string(body))
	}

	if decoded.Response.ID == "" {
		return "", fmt.Errorf("no render id in submission response: %s", string(body))
	}

	return decoded.Response.ID, nil
}

// GetRenderStatus fetches and normalizes the current render state.
func (c *ShotstackClient) GetRenderStatus(ctx context.Context, renderID string) (*RenderStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, shotstackRequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, "GET", fmt.Sprintf("%s/render/%s", c.baseURL, renderID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render status request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render status returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded shotstackStatusResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to parse status response: %w (body: %s)", err, string(body))
	}

	status := &RenderStatus{URL: decoded.Response.URL, Error: decoded.Response.Error}
	switch decoded.Response.Status {
	case "done":
		status.State = RenderStateDone
	case "failed":
		status.State = RenderStateFailed
	default:
		// queued, fetching, rendering, saving: all still in flight
		status.State = RenderStateProcessing
	}

	return status, nil
}
