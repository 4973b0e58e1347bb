package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dronetm/upload-dispatcher/pkg/circuitbreaker"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/models"
	"github.com/dronetm/upload-dispatcher/pkg/testutil"
	"github.com/dronetm/upload-dispatcher/pkg/transport"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Budget: 3, Delay: 30 * time.Millisecond}
}

// recordingSink collects dead letters in memory
type recordingSink struct {
	mu      sync.Mutex
	letters []models.DeadLetter
}

func (s *recordingSink) Record(l models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, l)
	return nil
}

func TestDispatchAllSucceedInOrder(t *testing.T) {
	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	up := testutil.NewFakeUploader()
	// later jobs finish first, results must still follow input order
	dests := testutil.Destinations(5)
	for i, dest := range dests {
		up.Delay(dest, time.Duration(5-i)*10*time.Millisecond)
	}

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(fastPolicy()))
	responses, err := d.Dispatch(ctx, dests, testutil.Payloads(5))
	require.NoError(t, err)
	require.Len(t, responses, 5)

	for i, resp := range responses {
		assert.Equal(t, dests[i], resp.Destination)
		assert.Equal(t, 1, resp.Attempts)
		stored, ok := up.Stored(dests[i])
		require.True(t, ok)
		assert.Equal(t, testutil.Payloads(5)[i].Body, stored)
	}
}

func TestDispatchLengthMismatch(t *testing.T) {
	up := testutil.NewFakeUploader()
	d := New(up, &logger.EmptyLogger{})

	_, err := d.Dispatch(context.Background(), testutil.Destinations(3), testutil.Payloads(2))
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 0, up.TotalCalls(), "no upload may be attempted")
}

func TestDispatchInvalidPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy RetryPolicy
	}{
		{"zero budget", RetryPolicy{Budget: 0, Delay: time.Second}},
		{"negative delay", RetryPolicy{Budget: 3, Delay: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := testutil.NewFakeUploader()
			d := New(up, &logger.EmptyLogger{})

			_, err := d.DispatchWithPolicy(context.Background(), testutil.Destinations(1), testutil.Payloads(1), tt.policy)
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, 0, up.TotalCalls())
		})
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	d := New(testutil.NewFakeUploader(), &logger.EmptyLogger{})
	responses, err := d.Dispatch(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	dests := testutil.Destinations(1)
	up := testutil.NewFakeUploader().FailTimes(dests[0], 2)
	policy := fastPolicy()

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(policy))
	responses, err := d.Dispatch(ctx, dests, testutil.Payloads(1))
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, 3, responses[0].Attempts)

	calls := up.Calls(dests[0])
	require.Len(t, calls, 3)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), policy.Delay, "wait between attempts 1 and 2")
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), policy.Delay, "wait between attempts 2 and 3")
}

func TestDispatchWaitsConfiguredDelay(t *testing.T) {
	dests := testutil.Destinations(1)
	up := testutil.NewFakeUploader().FailTimes(dests[0], 2)

	var (
		mu     sync.Mutex
		delays []time.Duration
	)
	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(RetryPolicy{Budget: 3, Delay: 1500 * time.Millisecond}))
	d.sleep = func(ctx context.Context, delay time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, delay)
		return nil
	}

	_, err := d.Dispatch(context.Background(), dests, testutil.Payloads(1))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 1500 * time.Millisecond}, delays)
}

func TestDispatchExhaustedJobFailsBatch(t *testing.T) {
	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	dests := testutil.Destinations(4)
	up := testutil.NewFakeUploader().FailAlways(dests[2])
	sink := &recordingSink{}

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(fastPolicy()), WithDeadLetter(sink))
	responses, err := d.Dispatch(ctx, dests, testutil.Payloads(4))
	require.Error(t, err)
	assert.Nil(t, responses)

	var batchErr *UploadBatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 1, batchErr.Failed)
	assert.Equal(t, 4, batchErr.Total)
	assert.Equal(t, 2, batchErr.Index)
	assert.Equal(t, dests[2], batchErr.Destination)
	assert.True(t, errors.Is(err, testutil.ErrInjected))

	assert.Len(t, up.Calls(dests[2]), 3, "exactly the retry budget")
	for _, i := range []int{0, 1, 3} {
		assert.Len(t, up.Calls(dests[i]), 1, "siblings succeed on their first attempt")
		_, ok := up.Stored(dests[i])
		assert.True(t, ok, "sibling uploads are not cancelled")
	}

	require.Len(t, sink.letters, 1)
	assert.Equal(t, dests[2], sink.letters[0].Destination)
	assert.Equal(t, 3, sink.letters[0].Attempts)
	assert.Equal(t, "DJI_0002.JPG", sink.letters[0].PayloadName)
	assert.Equal(t, batchErr.BatchID, sink.letters[0].BatchID)
}

func TestDispatchWrapsLastSettledFailure(t *testing.T) {
	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	dests := testutil.Destinations(2)
	up := testutil.NewFakeUploader().
		FailAlways(dests[0]).
		FailAlways(dests[1]).
		Delay(dests[0], 40*time.Millisecond)

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(RetryPolicy{Budget: 2, Delay: 10 * time.Millisecond}))
	_, err := d.Dispatch(ctx, dests, testutil.Payloads(2))

	var batchErr *UploadBatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 2, batchErr.Failed)
	assert.Equal(t, 0, batchErr.Index, "the slower job settles last")
}

func TestDispatchRunsJobsConcurrently(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing test in short mode")
	}

	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	const latency = 100 * time.Millisecond
	dests := testutil.Destinations(4)
	up := testutil.NewFakeUploader()
	for _, dest := range dests {
		up.Delay(dest, latency).FailTimes(dest, 1)
	}
	policy := RetryPolicy{Budget: 3, Delay: 50 * time.Millisecond}

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(policy))
	start := time.Now()
	_, err := d.Dispatch(ctx, dests, testutil.Payloads(4))
	elapsed := time.Since(start)
	require.NoError(t, err)

	slowestJob := 2*latency + policy.Delay
	assert.GreaterOrEqual(t, elapsed, slowestJob)
	assert.Less(t, elapsed, 2*slowestJob, "jobs must overlap, serial run would take %v", 4*slowestJob)
}

func TestDispatchNoExtraCallsAfterSuccess(t *testing.T) {
	dests := testutil.Destinations(3)
	up := testutil.NewFakeUploader()

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(fastPolicy()))
	_, err := d.Dispatch(context.Background(), dests, testutil.Payloads(3))
	require.NoError(t, err)

	time.Sleep(2 * fastPolicy().Delay)
	for _, dest := range dests {
		assert.Len(t, up.Calls(dest), 1)
	}
	assert.Equal(t, 3, up.TotalCalls())
}

func TestSettleReportsEveryOutcome(t *testing.T) {
	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	dests := testutil.Destinations(3)
	up := testutil.NewFakeUploader().FailAlways(dests[1]).FailTimes(dests[2], 1)

	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(fastPolicy()))
	result, err := d.Settle(ctx, dests, testutil.Payloads(3))
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 3)
	assert.NotEmpty(t, result.BatchID)
	assert.Equal(t, 1, result.Failed())

	assert.True(t, result.Outcomes[0].Succeeded())
	assert.Equal(t, 1, result.Outcomes[0].Attempts)

	assert.False(t, result.Outcomes[1].Succeeded())
	assert.Equal(t, 3, result.Outcomes[1].Attempts)
	assert.Contains(t, result.Outcomes[1].Error, "injected upload failure")
	assert.Nil(t, result.Outcomes[1].Response)

	assert.True(t, result.Outcomes[2].Succeeded())
	assert.Equal(t, 2, result.Outcomes[2].Attempts)

	for i, o := range result.Outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, dests[i], o.Destination)
		assert.NotEmpty(t, o.JobID)
	}

	var batchErr *UploadBatchError
	assert.True(t, errors.As(result.Err(), &batchErr))
	assert.Len(t, result.Responses(), 2)
}

func TestDispatchMaxConcurrency(t *testing.T) {
	var inFlight, peak int32
	up := transport.UploaderFunc(func(ctx context.Context, dest string, p models.Payload) (*models.Response, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return &models.Response{StatusCode: 200}, nil
	})

	d := New(up, &logger.EmptyLogger{}, WithMaxConcurrency(2))
	responses, err := d.Dispatch(context.Background(), testutil.Destinations(8), testutil.Payloads(8))
	require.NoError(t, err)
	assert.Len(t, responses, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, testutil.Destinations(8)[3], responses[3].Destination)
}

func TestDispatchCircuitOpenConsumesBudget(t *testing.T) {
	registry := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		Enabled:      true,
		Threshold:    1,
		Window:       time.Minute,
		ResetTimeout: time.Minute,
	}, &logger.EmptyLogger{})

	dests := testutil.Destinations(1)
	up := testutil.NewFakeUploader().FailTimes(dests[0], 1)

	d := New(up, &logger.EmptyLogger{},
		WithRetryPolicy(RetryPolicy{Budget: 3, Delay: time.Millisecond}),
		WithCircuitBreakers(registry))
	result, err := d.Settle(context.Background(), dests, testutil.Payloads(1))
	require.NoError(t, err)

	outcome := result.Outcomes[0]
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, 3, outcome.Attempts)
	assert.True(t, errors.Is(outcome.Err, ErrCircuitOpen))
	assert.Len(t, up.Calls(dests[0]), 1, "open breaker skips the network")
}

func TestDispatchContextCancelAbandonsWait(t *testing.T) {
	dests := testutil.Destinations(1)
	up := testutil.NewFakeUploader().FailAlways(dests[0])

	ctx, cancel := context.WithCancel(context.Background())
	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(RetryPolicy{Budget: 3, Delay: time.Hour}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := d.Dispatch(ctx, dests, testutil.Payloads(1))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, testutil.ErrInjected))
	assert.Len(t, up.Calls(dests[0]), 1)
}

type countingNotifier struct {
	mu       sync.Mutex
	batches  []string
	messages []string
}

func (n *countingNotifier) NotifyFailure(batchID string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, batchID)
	n.messages = append(n.messages, message)
}

func TestNotifierCalledOncePerFailedBatch(t *testing.T) {
	ctx, cancel := testutil.SetupTestWithTimeout()
	defer cancel()

	up := testutil.NewFakeUploader()
	dests := testutil.Destinations(3)
	up.FailAlways(dests[0]).FailAlways(dests[2])

	n := &countingNotifier{}
	d := New(up, &logger.EmptyLogger{}, WithRetryPolicy(RetryPolicy{Budget: 2}), WithNotifier(n))

	result, err := d.Settle(ctx, dests, testutil.Payloads(3))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Failed())
	assert.Equal(t, []string{result.BatchID}, n.batches, "one notification per batch")
	assert.Equal(t, []string{FailureMessage}, n.messages)

	_, err = d.Dispatch(ctx, testutil.Destinations(2)[1:], testutil.Payloads(1))
	require.NoError(t, err)
	assert.Len(t, n.batches, 1, "successful batches are not notified")
}

func TestDispatchDisabledBreakersTrackNoHosts(t *testing.T) {
	registry := circuitbreaker.NewRegistry(circuitbreaker.Settings{
		Threshold:    1,
		Window:       time.Minute,
		ResetTimeout: time.Minute,
	}, &logger.EmptyLogger{})

	const n = 200
	dests := make([]string, n)
	up := testutil.NewFakeUploader()
	for i := range dests {
		dests[i] = fmt.Sprintf("https://host-%d.example.com/DJI_0001.JPG", i)
		up.FailTimes(dests[i], 1)
	}

	d := New(up, &logger.EmptyLogger{},
		WithRetryPolicy(RetryPolicy{Budget: 2, Delay: time.Millisecond}),
		WithCircuitBreakers(registry))
	result, err := d.Settle(context.Background(), dests, testutil.Payloads(n))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Failed(), "disabled breakers never short-circuit")
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.States())
}
