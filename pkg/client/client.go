// Package client provides a client for the upload dispatcher batch API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// APIError is a non-2xx answer from the batch API
type APIError struct {
	StatusCode int
	models.ErrorResponse
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("api error %d (%s): %s: %s", e.StatusCode, e.Code, e.ErrorResponse.Error, e.Details)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.ErrorResponse.Error)
}

// Client represents an upload dispatcher API client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new API client
func New(endpoint string, logger logger.Logger) *Client {
	return NewWithHTTPClient(endpoint, createHTTPClient(), logger)
}

// NewWithHTTPClient creates a client around an existing http.Client
func NewWithHTTPClient(endpoint string, httpClient *http.Client, logger logger.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// SubmitBatch posts a batch and waits for it to settle. A 207 answer is
// returned without error; the caller inspects the outcomes.
func (c *Client) SubmitBatch(ctx context.Context, req models.BatchRequest) (*models.BatchResponse, error) {
	var resp models.BatchResponse
	if err := c.post(ctx, "/api/v1/batches", req, &resp); err != nil {
		return nil, err
	}
	c.logger.DebugWithBatch(resp.BatchID, "Batch settled with %d failed uploads", resp.Failed)
	return &resp, nil
}

// Presign requests presigned PUT URLs for the given object keys
func (c *Client) Presign(ctx context.Context, keys []string) ([]models.PresignedUpload, error) {
	var resp models.PresignResponse
	if err := c.post(ctx, "/api/v1/presign", models.PresignRequest{Keys: keys}, &resp); err != nil {
		return nil, err
	}
	return resp.Uploads, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &apiErr.ErrorResponse); err != nil || apiErr.Code == "" {
			apiErr.ErrorResponse = models.ErrorResponse{Error: strings.TrimSpace(string(bodyBytes))}
		}
		return apiErr
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %v, body: %s", err, string(bodyBytes))
	}
	return nil
}

// Helper function to create an HTTP client. Batches settle only after every
// retry, so the timeout is left to the caller's context.
func createHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
