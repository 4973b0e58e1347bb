// Package api exposes the upload dispatcher over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dronetm/upload-dispatcher/pkg/dispatcher"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// Error codes carried in models.ErrorResponse
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeTooLarge       = "PAYLOAD_TOO_LARGE"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeInternal       = "INTERNAL_ERROR"
)

// DefaultMaxRetryBudget caps retry_budget when Options.MaxRetryBudget is unset
const DefaultMaxRetryBudget = 10

// maxRetryDelayMs is the largest retry_delay_ms that fits in a time.Duration
const maxRetryDelayMs = math.MaxInt64 / int64(time.Millisecond)

// Presigner issues presigned PUT URLs for object keys
type Presigner interface {
	PresignPut(ctx context.Context, keys []string) ([]models.PresignedUpload, error)
}

// DestinationChecker reports whether a destination can be uploaded to
type DestinationChecker interface {
	Supports(destination string) bool
}

// Server routes the batch API to a dispatcher
type Server struct {
	Router *chi.Mux

	dispatcher   *dispatcher.Dispatcher
	presigner    Presigner
	destinations DestinationChecker
	maxBodyBytes int64
	maxBudget    int
	baseCtx      context.Context
	logger       logger.Logger
}

// Options carries the optional collaborators of the server
type Options struct {
	// Presigner enables POST /api/v1/presign when set
	Presigner Presigner
	// Destinations rejects unsupported destinations before dispatching
	Destinations DestinationChecker
	// MaxBodyBytes limits the request body; zero means no limit
	MaxBodyBytes int64
	// MaxRetryBudget caps retry_budget; zero means DefaultMaxRetryBudget
	MaxRetryBudget int
}

// NewServer creates the API server. Batches run under baseCtx rather than the
// request context, so a client that disconnects does not abandon its uploads.
func NewServer(baseCtx context.Context, d *dispatcher.Dispatcher, opts Options, logger logger.Logger) *Server {
	maxBudget := opts.MaxRetryBudget
	if maxBudget <= 0 {
		maxBudget = DefaultMaxRetryBudget
	}

	s := &Server{
		Router:       chi.NewRouter(),
		dispatcher:   d,
		presigner:    opts.Presigner,
		destinations: opts.Destinations,
		maxBodyBytes: opts.MaxBodyBytes,
		maxBudget:    maxBudget,
		baseCtx:      baseCtx,
		logger:       logger,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RealIP)
	s.Router.Use(s.requestLogger)
	s.Router.Use(middleware.Recoverer)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Route("/api/v1", func(r chi.Router) {
		r.Post("/batches", s.handleBatch)
		r.Post("/presign", s.handlePresign)
	})
}

// requestLogger logs every request through the service logger
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("%s %s -> %d (%d bytes) in %v [%s]",
			r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	if len(req.Destinations) == 0 {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "batch has no uploads",
			Code:  CodeValidation,
		})
		return
	}
	if s.destinations != nil {
		for i, dest := range req.Destinations {
			if !s.destinations.Supports(dest) {
				writeError(w, http.StatusBadRequest, models.ErrorResponse{
					Error:   "unsupported destination",
					Code:    CodeValidation,
					Details: fmt.Sprintf("destination %d has an unsupported scheme", i),
				})
				return
			}
		}
	}

	policy, err := s.requestPolicy(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid retry policy",
			Code:    CodeValidation,
			Details: err.Error(),
		})
		return
	}

	result, err := s.dispatcher.SettleWithPolicy(s.baseCtx, req.Destinations, req.Payloads, policy)
	if err != nil {
		var cfgErr *dispatcher.ConfigurationError
		if errors.As(err, &cfgErr) {
			writeError(w, http.StatusBadRequest, models.ErrorResponse{
				Error:   "invalid batch",
				Code:    CodeValidation,
				Details: cfgErr.Error(),
			})
			return
		}
		s.logger.Error("Unexpected dispatch error: %v", err)
		writeError(w, http.StatusInternalServerError, models.ErrorResponse{
			Error: "internal error",
			Code:  CodeInternal,
		})
		return
	}

	resp := models.BatchResponse{
		BatchID:    result.BatchID,
		Failed:     result.Failed(),
		DurationMs: result.Duration.Milliseconds(),
	}

	if req.Partial {
		resp.Outcomes = result.Outcomes
		status := http.StatusOK
		if result.Failed() > 0 {
			status = http.StatusMultiStatus
		}
		writeJSON(w, status, resp)
		return
	}

	if err := result.Err(); err != nil {
		writeError(w, http.StatusBadGateway, models.ErrorResponse{
			Error:   dispatcher.FailureMessage,
			Code:    CodeUploadFailed,
			Details: err.Error(),
			BatchID: result.BatchID,
		})
		return
	}

	resp.Responses = result.Responses()
	writeJSON(w, http.StatusOK, resp)
}

// requestPolicy applies the retry overrides of a request to the dispatcher policy
func (s *Server) requestPolicy(req models.BatchRequest) (dispatcher.RetryPolicy, error) {
	policy := s.dispatcher.Policy()
	if req.RetryBudget != nil {
		if *req.RetryBudget > s.maxBudget {
			return policy, fmt.Errorf("retry_budget must not exceed %d, got %d", s.maxBudget, *req.RetryBudget)
		}
		policy.Budget = *req.RetryBudget
	}
	if req.RetryDelayMs != nil {
		ms := *req.RetryDelayMs
		if ms < 0 || ms > maxRetryDelayMs {
			return policy, fmt.Errorf("retry_delay_ms must be between 0 and %d, got %d", maxRetryDelayMs, ms)
		}
		policy.Delay = time.Duration(ms) * time.Millisecond
	}
	return policy, nil
}

func (s *Server) handlePresign(w http.ResponseWriter, r *http.Request) {
	if s.presigner == nil {
		writeError(w, http.StatusNotImplemented, models.ErrorResponse{
			Error: "object storage is not configured",
			Code:  CodeNotImplemented,
		})
		return
	}

	var req models.PresignRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error: "no keys to presign",
			Code:  CodeValidation,
		})
		return
	}

	uploads, err := s.presigner.PresignPut(r.Context(), req.Keys)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to presign",
			Code:    CodeValidation,
			Details: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, models.PresignResponse{Uploads: uploads})
}

// decode reads a JSON body into v, writing the error response itself on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := r.Body
	if s.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	}

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, models.ErrorResponse{
				Error:   "request body too large",
				Code:    CodeTooLarge,
				Details: fmt.Sprintf("limit is %d bytes", tooLarge.Limit),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid JSON body",
			Code:    CodeValidation,
			Details: err.Error(),
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp models.ErrorResponse) {
	writeJSON(w, status, resp)
}
