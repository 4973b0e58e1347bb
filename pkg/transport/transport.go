// Package transport provides the PUT primitives the dispatcher retries.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// maxErrorBody caps how much of a failed response is kept in a StatusError
const maxErrorBody = 512

// Uploader performs a single upload attempt
type Uploader interface {
	Put(ctx context.Context, destination string, payload models.Payload) (*models.Response, error)
}

// UploaderFunc adapts a plain function to the Uploader interface
type UploaderFunc func(ctx context.Context, destination string, payload models.Payload) (*models.Response, error)

// Put calls f
func (f UploaderFunc) Put(ctx context.Context, destination string, payload models.Payload) (*models.Response, error) {
	return f(ctx, destination, payload)
}

// StatusError is returned when the destination answers with a non-2xx status
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad status: %s", e.Status)
	}
	return fmt.Sprintf("bad status: %s, body: %s", e.Status, e.Body)
}

// HTTPUploader PUTs payloads to (usually presigned) HTTP destinations
type HTTPUploader struct {
	httpClient     *http.Client
	attemptTimeout time.Duration
	logger         logger.Logger
}

// NewHTTPUploader creates an uploader; attemptTimeout of zero means no per-attempt deadline
func NewHTTPUploader(attemptTimeout time.Duration, logger logger.Logger) *HTTPUploader {
	return &HTTPUploader{
		httpClient:     createHTTPClient(),
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// NewHTTPUploaderWithClient creates an uploader around an existing client
func NewHTTPUploaderWithClient(client *http.Client, attemptTimeout time.Duration, logger logger.Logger) *HTTPUploader {
	return &HTTPUploader{
		httpClient:     client,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Put issues one PUT request with the payload as body
func (u *HTTPUploader) Put(ctx context.Context, destination string, payload models.Payload) (*models.Response, error) {
	if u.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.attemptTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, destination, bytes.NewReader(payload.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", payload.MediaType())

	resp, err := u.httpClient.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, signature included
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("failed to upload to %s: %w", redact(destination), err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			u.logger.Error("Failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(bytes.TrimSpace(body)),
		}
	}
	// drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	return &models.Response{
		Destination: destination,
		StatusCode:  resp.StatusCode,
		ETag:        resp.Header.Get("ETag"),
	}, nil
}

// redact strips the query string, which carries the signature of presigned URLs
func redact(destination string) string {
	u, err := url.Parse(destination)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

// Helper function to create an HTTP client tuned for many parallel uploads.
// There is no client-wide timeout: large images are bounded only by the attempt timeout.
func createHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
