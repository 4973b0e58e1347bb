package testutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dronetm/upload-dispatcher/pkg/models"
)

// Constants for testing
const (
	DefaultTestTimeout = 5 * time.Second
)

// ErrInjected is the failure returned by FakeUploader for scripted failures
var ErrInjected = errors.New("injected upload failure")

// FakeUploader is an in-memory Uploader whose failures are scripted per destination
type FakeUploader struct {
	mu       sync.Mutex
	failures map[string]int
	latency  map[string]time.Duration
	calls    map[string][]time.Time
	payloads map[string][]byte
}

// NewFakeUploader creates an uploader on which every destination succeeds
func NewFakeUploader() *FakeUploader {
	return &FakeUploader{
		failures: make(map[string]int),
		latency:  make(map[string]time.Duration),
		calls:    make(map[string][]time.Time),
		payloads: make(map[string][]byte),
	}
}

// FailTimes makes the first n attempts on destination fail
func (f *FakeUploader) FailTimes(destination string, n int) *FakeUploader {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[destination] = n
	return f
}

// FailAlways makes every attempt on destination fail
func (f *FakeUploader) FailAlways(destination string) *FakeUploader {
	return f.FailTimes(destination, int(^uint(0)>>1))
}

// Delay makes every attempt on destination take d
func (f *FakeUploader) Delay(destination string, d time.Duration) *FakeUploader {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency[destination] = d
	return f
}

// Put records the call and applies the scripted latency and failures
func (f *FakeUploader) Put(ctx context.Context, destination string, payload models.Payload) (*models.Response, error) {
	f.mu.Lock()
	f.calls[destination] = append(f.calls[destination], time.Now())
	latency := f.latency[destination]
	fail := f.failures[destination] > 0
	if fail {
		f.failures[destination]--
	}
	f.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("put %s: %w", destination, ErrInjected)
	}

	f.mu.Lock()
	f.payloads[destination] = payload.Body
	f.mu.Unlock()
	return &models.Response{Destination: destination, StatusCode: http.StatusOK, ETag: fmt.Sprintf("%q", destination)}, nil
}

// Calls returns the attempt timestamps of destination
func (f *FakeUploader) Calls(destination string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.calls[destination]...)
}

// TotalCalls returns the number of attempts across all destinations
func (f *FakeUploader) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.calls {
		total += len(c)
	}
	return total
}

// Stored returns the body last stored at destination
func (f *FakeUploader) Stored(destination string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.payloads[destination]
	return b, ok
}

// Destinations returns n distinct fake destinations
func Destinations(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://uploads.example.com/project-1/task-1/DJI_%04d.JPG", i)
	}
	return out
}

// Payloads returns n small JPEG-typed payloads
func Payloads(n int) []models.Payload {
	out := make([]models.Payload, n)
	for i := range out {
		out[i] = models.Payload{
			Name:        fmt.Sprintf("DJI_%04d.JPG", i),
			ContentType: "image/jpeg",
			Body:        []byte(fmt.Sprintf("image-%d", i)),
		}
	}
	return out
}

// SetupTestWithTimeout creates a context bounded by DefaultTestTimeout
func SetupTestWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), DefaultTestTimeout)
}
