// Package dispatcher uploads a batch of payloads in parallel, retrying every
// upload on its own with a fixed delay until it succeeds or runs out of attempts.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dronetm/upload-dispatcher/pkg/circuitbreaker"
	"github.com/dronetm/upload-dispatcher/pkg/deadletter"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/metrics"
	"github.com/dronetm/upload-dispatcher/pkg/models"
	"github.com/dronetm/upload-dispatcher/pkg/transport"
)

const (
	// DefaultRetryBudget is the number of attempts each upload gets
	DefaultRetryBudget = 3

	// DefaultRetryDelay is the wait between two attempts of the same upload
	DefaultRetryDelay = 1 * time.Second
)

// RetryPolicy bounds the attempts of every job in a batch
type RetryPolicy struct {
	Budget int
	Delay  time.Duration
}

// DefaultRetryPolicy returns 3 attempts spaced by one second
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Budget: DefaultRetryBudget, Delay: DefaultRetryDelay}
}

func (p RetryPolicy) validate() error {
	if p.Budget < 1 {
		return &ConfigurationError{Reason: fmt.Sprintf("retry budget must be at least 1, got %d", p.Budget)}
	}
	if p.Delay < 0 {
		return &ConfigurationError{Reason: fmt.Sprintf("retry delay must not be negative, got %v", p.Delay)}
	}
	return nil
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithRetryPolicy replaces the default retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithMaxConcurrency caps in-flight jobs per batch; zero leaves them unbounded
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) { d.maxConcurrency = n }
}

// WithCircuitBreakers makes attempts fail fast while a host's breaker is open
func WithCircuitBreakers(r *circuitbreaker.Registry) Option {
	return func(d *Dispatcher) { d.breakers = r }
}

// WithDeadLetter records every job that exhausts its budget
func WithDeadLetter(sink deadletter.Sink) Option {
	return func(d *Dispatcher) { d.deadLetter = sink }
}

// Dispatcher fans a batch of uploads out over one goroutine per job
type Dispatcher struct {
	uploader       transport.Uploader
	policy         RetryPolicy
	maxConcurrency int
	breakers       *circuitbreaker.Registry
	deadLetter     deadletter.Sink
	notifier       Notifier
	logger         logger.Logger
	sleep          func(ctx context.Context, d time.Duration) error
}

// New creates a dispatcher around the upload primitive
func New(uploader transport.Uploader, logger logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		uploader:   uploader,
		policy:     DefaultRetryPolicy(),
		deadLetter: deadletter.Discard{},
		logger:     logger,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Policy returns the default retry policy of the dispatcher
func (d *Dispatcher) Policy() RetryPolicy {
	return d.policy
}

// Result is the settled state of a batch
type Result struct {
	BatchID  string
	Outcomes []models.Outcome
	Duration time.Duration

	failed      int
	lastFailure int
}

// Failed returns the number of jobs that exhausted their budget
func (r *Result) Failed() int {
	return r.failed
}

// Err returns an *UploadBatchError if any job failed, nil otherwise
func (r *Result) Err() error {
	if r.failed == 0 {
		return nil
	}
	last := r.Outcomes[r.lastFailure]
	return &UploadBatchError{
		BatchID:     r.BatchID,
		Failed:      r.failed,
		Total:       len(r.Outcomes),
		Index:       last.Index,
		Destination: last.Destination,
		Err:         last.Err,
	}
}

// Responses returns the responses in input order; only meaningful when Err is nil
func (r *Result) Responses() []models.Response {
	responses := make([]models.Response, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Response != nil {
			responses = append(responses, *o.Response)
		}
	}
	return responses
}

// Dispatch uploads payloads[i] to destinations[i] for every i and returns the
// responses in input order. If any upload exhausts its retry budget the whole
// call fails with an *UploadBatchError once every job has settled.
func (d *Dispatcher) Dispatch(ctx context.Context, destinations []string, payloads []models.Payload) ([]models.Response, error) {
	return d.DispatchWithPolicy(ctx, destinations, payloads, d.policy)
}

// DispatchWithPolicy is Dispatch with a per-call retry policy
func (d *Dispatcher) DispatchWithPolicy(ctx context.Context, destinations []string, payloads []models.Payload, policy RetryPolicy) ([]models.Response, error) {
	result, err := d.SettleWithPolicy(ctx, destinations, payloads, policy)
	if err != nil {
		return nil, err
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return result.Responses(), nil
}

// Settle runs the batch like Dispatch but reports every job's outcome instead
// of collapsing failures. The error is non-nil only for a *ConfigurationError.
func (d *Dispatcher) Settle(ctx context.Context, destinations []string, payloads []models.Payload) (*Result, error) {
	return d.SettleWithPolicy(ctx, destinations, payloads, d.policy)
}

// SettleWithPolicy is Settle with a per-call retry policy
func (d *Dispatcher) SettleWithPolicy(ctx context.Context, destinations []string, payloads []models.Payload, policy RetryPolicy) (*Result, error) {
	if len(destinations) != len(payloads) {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("got %d destinations and %d payloads", len(destinations), len(payloads)),
		}
	}
	if err := policy.validate(); err != nil {
		return nil, err
	}

	result := &Result{
		BatchID:  models.NewBatchID(),
		Outcomes: make([]models.Outcome, len(destinations)),
	}
	start := time.Now()
	d.logger.InfoWithBatch(result.BatchID, "Dispatching %d uploads (budget %d, delay %v)",
		len(destinations), policy.Budget, policy.Delay)
	metrics.BatchSize.Observe(float64(len(destinations)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if d.maxConcurrency > 0 {
		g.SetLimit(d.maxConcurrency)
	}

	for i := range destinations {
		job := models.NewUploadJob(result.BatchID, i, destinations[i], payloads[i], policy.Budget)
		g.Go(func() error {
			outcome := d.run(ctx, job, policy)
			result.Outcomes[job.Index] = outcome
			if !outcome.Succeeded() {
				mu.Lock()
				result.failed++
				result.lastFailure = job.Index
				mu.Unlock()
			}
			return nil
		})
	}
	// jobs never return errors; failures live in the outcomes
	_ = g.Wait()

	result.Duration = time.Since(start)
	metrics.BatchDuration.Observe(result.Duration.Seconds())
	if result.failed > 0 {
		metrics.BatchesCompleted.WithLabelValues("failed").Inc()
		d.logger.ErrorWithBatch(result.BatchID, "%d of %d uploads failed after %v", result.failed, len(destinations), result.Duration)
		if d.notifier != nil {
			d.notifier.NotifyFailure(result.BatchID, FailureMessage)
		}
	} else {
		metrics.BatchesCompleted.WithLabelValues("succeeded").Inc()
		d.logger.InfoWithBatch(result.BatchID, "All %d uploads succeeded in %v", len(destinations), result.Duration)
	}
	return result, nil
}

// run drives one job until success or until its attempts are used up
func (d *Dispatcher) run(ctx context.Context, job *models.UploadJob, policy RetryPolicy) models.Outcome {
	metrics.InFlightJobs.Inc()
	defer metrics.InFlightJobs.Dec()

	host := transport.Host(job.Destination)
	label := metrics.HostLabel(host)
	outcome := models.Outcome{Index: job.Index, JobID: job.ID, Destination: job.Destination}

	var lastErr error
	for job.AttemptsRemaining > 0 {
		job.Attempts++
		resp, err := d.attempt(ctx, job.Destination, host, label, job.Payload)
		if err == nil {
			resp.Attempts = job.Attempts
			outcome.Response = resp
			outcome.Attempts = job.Attempts
			metrics.JobsCompleted.WithLabelValues("succeeded").Inc()
			d.logger.DebugWithBatch(job.BatchID, "Upload %d to %s succeeded on attempt %d", job.Index, host, job.Attempts)
			return outcome
		}

		lastErr = err
		job.LastError = err.Error()
		job.AttemptsRemaining--
		errorType := classifyError(err)
		metrics.UploadErrors.WithLabelValues(label, errorType).Inc()

		if job.AttemptsRemaining == 0 {
			break
		}

		d.logger.DebugWithBatch(job.BatchID, "Upload %d to %s failed on attempt %d/%d (%s), retrying in %v",
			job.Index, host, job.Attempts, policy.Budget, errorType, policy.Delay)
		metrics.RetriesScheduled.WithLabelValues(label).Inc()

		if sleepErr := d.sleep(ctx, policy.Delay); sleepErr != nil {
			lastErr = fmt.Errorf("%w; retry abandoned: %w", lastErr, sleepErr)
			job.LastError = lastErr.Error()
			break
		}
	}

	d.fail(job, host, label, lastErr)
	outcome.Err = lastErr
	outcome.Error = lastErr.Error()
	outcome.Attempts = job.Attempts
	return outcome
}

// attempt performs one upload, consulting the host's breaker when configured
func (d *Dispatcher) attempt(ctx context.Context, destination, host, label string, payload models.Payload) (*models.Response, error) {
	var cb *circuitbreaker.CircuitBreaker
	if d.breakers != nil && d.breakers.Enabled() {
		cb = d.breakers.For(host)
		if cb.IsOpen() {
			metrics.UploadAttempts.WithLabelValues(label, "skipped").Inc()
			return nil, fmt.Errorf("%w for %s", ErrCircuitOpen, host)
		}
	}

	start := time.Now()
	resp, err := d.uploader.Put(ctx, destination, payload)
	metrics.UploadAttemptDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UploadAttempts.WithLabelValues(label, "failed").Inc()
		if cb != nil {
			cb.RecordFailure()
		}
		return nil, err
	}

	metrics.UploadAttempts.WithLabelValues(label, "succeeded").Inc()
	if cb != nil {
		cb.RecordSuccess()
	}
	if resp == nil {
		resp = &models.Response{}
	}
	if resp.Destination == "" {
		resp.Destination = destination
	}
	return resp, nil
}

// fail records a job that ran out of attempts
func (d *Dispatcher) fail(job *models.UploadJob, host, label string, err error) {
	errorType := classifyError(err)
	metrics.JobsCompleted.WithLabelValues("failed").Inc()
	metrics.RetriesExhausted.WithLabelValues(label, errorType).Inc()
	d.logger.ErrorWithBatch(job.BatchID, "Upload %d to %s failed after %d attempts: %v", job.Index, host, job.Attempts, err)

	if err := d.deadLetter.Record(models.NewDeadLetter(job, time.Now())); err != nil {
		metrics.DeadLetterErrors.Inc()
		d.logger.ErrorWithBatch(job.BatchID, "Failed to record dead letter for upload %d: %v", job.Index, err)
		return
	}
	metrics.DeadLetters.Inc()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
