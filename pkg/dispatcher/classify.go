package dispatcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/dronetm/upload-dispatcher/pkg/transport"
)

// classifyError names the kind of a failed attempt for metrics and logs.
// Every kind is retried alike; the label never changes control flow.
func classifyError(err error) string {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var statusErr *transport.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return "http_5xx"
		case statusErr.StatusCode >= http.StatusBadRequest:
			return "http_4xx"
		default:
			return "http_3xx"
		}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return "s3_" + strings.ToLower(apiErr.ErrorCode())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network_error"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "EOF") {
		return "network_error"
	}

	return "unknown_error"
}
