package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultContentType is sent when a payload does not name one
const DefaultContentType = "application/octet-stream"

// Payload is the opaque body of one upload
type Payload struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"payload"`
}

// MediaType returns the payload content type, falling back to DefaultContentType
func (p Payload) MediaType() string {
	if p.ContentType == "" {
		return DefaultContentType
	}
	return p.ContentType
}

// Response is the result of one successful upload
type Response struct {
	Destination string `json:"destination"`
	StatusCode  int    `json:"status_code"`
	ETag        string `json:"etag,omitempty"`
	Attempts    int    `json:"attempts"`
}

// UploadJob pairs one destination with one payload and tracks its retry state
type UploadJob struct {
	ID                string
	BatchID           string
	Index             int
	Destination       string
	Payload           Payload
	AttemptsRemaining int
	Attempts          int
	LastError         string
}

// NewUploadJob creates a job with the full retry budget available
func NewUploadJob(batchID string, index int, destination string, payload Payload, budget int) *UploadJob {
	return &UploadJob{
		ID:                uuid.NewString(),
		BatchID:           batchID,
		Index:             index,
		Destination:       destination,
		Payload:           payload,
		AttemptsRemaining: budget,
	}
}

// NewBatchID returns a fresh identifier for a dispatch call
func NewBatchID() string {
	return uuid.NewString()
}

// Outcome is the terminal state of one job, aligned with its input index
type Outcome struct {
	Index       int       `json:"index"`
	JobID       string    `json:"job_id"`
	Destination string    `json:"destination"`
	Response    *Response `json:"response,omitempty"`
	Err         error     `json:"-"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
}

// Succeeded reports whether the job ended in success
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// DeadLetter describes a job that exhausted its retry budget
type DeadLetter struct {
	JobID       string    `json:"job_id"`
	BatchID     string    `json:"batch_id"`
	Destination string    `json:"destination"`
	PayloadName string    `json:"payload_name,omitempty"`
	PayloadSize int       `json:"payload_size"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	FailedAt    time.Time `json:"failed_at"`
}

// NewDeadLetter builds the dead-letter record of an exhausted job
func NewDeadLetter(job *UploadJob, failedAt time.Time) DeadLetter {
	return DeadLetter{
		JobID:       job.ID,
		BatchID:     job.BatchID,
		Destination: job.Destination,
		PayloadName: job.Payload.Name,
		PayloadSize: len(job.Payload.Body),
		Attempts:    job.Attempts,
		LastError:   job.LastError,
		FailedAt:    failedAt,
	}
}
