package dispatcher

import (
	"errors"
	"fmt"
)

// FailureMessage is the single user-facing message for a failed batch
const FailureMessage = "Error occurred on image upload."

// ErrCircuitOpen is returned for attempts skipped because the destination host's breaker is open
var ErrCircuitOpen = errors.New("circuit breaker open")

// ConfigurationError reports unusable dispatch input. No upload is attempted.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "invalid dispatch configuration: " + e.Reason
}

// UploadBatchError reports that at least one job exhausted its retry budget.
// It wraps the terminal error of the job that failed last.
type UploadBatchError struct {
	BatchID     string
	Failed      int
	Total       int
	Index       int
	Destination string
	Err         error
}

func (e *UploadBatchError) Error() string {
	return fmt.Sprintf("upload batch %s: %d of %d uploads failed, last failure at index %d: %v",
		e.BatchID, e.Failed, e.Total, e.Index, e.Err)
}

func (e *UploadBatchError) Unwrap() error {
	return e.Err
}
