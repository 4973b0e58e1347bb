package models

// BatchRequest is the body of POST /api/v1/batches. Destinations and
// Payloads are positional: payloads[i] goes to destinations[i].
type BatchRequest struct {
	Destinations []string  `json:"destinations"`
	Payloads     []Payload `json:"payloads"`
	RetryBudget  *int      `json:"retry_budget,omitempty"`
	RetryDelayMs *int64    `json:"retry_delay_ms,omitempty"`
	Partial      bool      `json:"partial,omitempty"`
}

// BatchResponse is returned for a settled batch
type BatchResponse struct {
	BatchID    string     `json:"batch_id"`
	Responses  []Response `json:"responses,omitempty"`
	Outcomes   []Outcome  `json:"outcomes,omitempty"`
	Failed     int        `json:"failed"`
	DurationMs int64      `json:"duration_ms"`
}

// PresignRequest is the body of POST /api/v1/presign
type PresignRequest struct {
	Keys []string `json:"keys"`
}

// PresignedUpload is a signed PUT URL for one object key
type PresignedUpload struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt int64  `json:"expires_at"`
}

// PresignResponse lists the signed URLs in request order
type PresignResponse struct {
	Uploads []PresignedUpload `json:"uploads"`
}

// ErrorResponse is the body of every API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
	BatchID string `json:"batch_id,omitempty"`
}
