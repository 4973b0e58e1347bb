// Package service wires the dispatcher to its transports, the batch API and
// the health server.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dronetm/upload-dispatcher/pkg/api"
	"github.com/dronetm/upload-dispatcher/pkg/circuitbreaker"
	"github.com/dronetm/upload-dispatcher/pkg/config"
	"github.com/dronetm/upload-dispatcher/pkg/deadletter"
	"github.com/dronetm/upload-dispatcher/pkg/dispatcher"
	"github.com/dronetm/upload-dispatcher/pkg/health"
	"github.com/dronetm/upload-dispatcher/pkg/logger"
	"github.com/dronetm/upload-dispatcher/pkg/manifest"
	"github.com/dronetm/upload-dispatcher/pkg/s3store"
	"github.com/dronetm/upload-dispatcher/pkg/transport"
)

const shutdownTimeout = 10 * time.Second

// Service owns every long-lived component of the dispatcher process
type Service struct {
	config     *config.Config
	logger     logger.Logger
	router     *transport.Router
	store      *s3store.Store
	breakers   *circuitbreaker.Registry
	deadLetter *deadletter.File
	dispatcher *dispatcher.Dispatcher
	health     *health.Server
}

// NewService builds the service from its configuration
func NewService(cfg *config.Config, log logger.Logger) (*Service, error) {
	s := &Service{
		config: cfg,
		logger: log,
		router: transport.NewRouter(),
	}

	s.router.Handle(transport.NewHTTPUploader(cfg.UploadAttemptTimeout, log), "http", "https")
	if cfg.S3.Enabled() {
		store, err := s3store.New(cfg.S3, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 store: %v", err)
		}
		s.store = store
		s.router.Handle(store, s3store.Scheme)
		log.Info("S3 destinations enabled (default bucket %q)", store.Bucket())
	}

	s.breakers = circuitbreaker.NewRegistry(circuitbreaker.Settings{
		Enabled:      cfg.CircuitBreaker.Enabled,
		Threshold:    cfg.CircuitBreaker.Threshold,
		Window:       cfg.CircuitBreaker.WindowDuration,
		ResetTimeout: cfg.CircuitBreaker.ResetTimeout,
	}, log)

	var sink deadletter.Sink = deadletter.Discard{}
	if cfg.DeadLetterPath != "" {
		f, err := deadletter.Open(cfg.DeadLetterPath)
		if err != nil {
			return nil, err
		}
		s.deadLetter = f
		sink = f
		log.Info("Recording exhausted uploads to %s", cfg.DeadLetterPath)
	}

	policy := dispatcher.RetryPolicy{Budget: cfg.RetryBudget, Delay: cfg.RetryDelay}
	opts := []dispatcher.Option{
		dispatcher.WithRetryPolicy(policy),
		dispatcher.WithMaxConcurrency(cfg.MaxConcurrency),
		dispatcher.WithDeadLetter(sink),
		dispatcher.WithNotifier(dispatcher.LogNotifier{Logger: log}),
	}
	if s.breakers.Enabled() {
		opts = append(opts, dispatcher.WithCircuitBreakers(s.breakers))
	}
	s.dispatcher = dispatcher.New(s.router, log, opts...)

	s.health = health.NewServer(cfg.MetricsPort, policy, s.breakers, cfg.MetricsAPIKey, log)
	return s, nil
}

// Dispatcher returns the configured dispatcher
func (s *Service) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// APIHandler returns the batch API routes. Batches run under ctx.
func (s *Service) APIHandler(ctx context.Context) http.Handler {
	opts := api.Options{
		Destinations:   s.router,
		MaxBodyBytes:   s.config.MaxBatchBytes,
		MaxRetryBudget: s.config.MaxRetryBudget,
	}
	if s.store != nil {
		opts.Presigner = s.store
	}
	return api.NewServer(ctx, s.dispatcher, opts, s.logger).Router
}

// Start serves the batch API and the health server until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	apiServer := &http.Server{
		Addr:              ":" + s.config.APIPort,
		Handler:           s.APIHandler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthServer := &http.Server{
		Addr:              s.health.Addr(),
		Handler:           s.health.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	serve := func(name string, srv *http.Server) {
		g.Go(func() error {
			s.logger.Info("Starting %s server on %s", name, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("%s server: %w", name, err)
			}
			return nil
		})
	}
	serve("api", apiServer)
	serve("health", healthServer)

	s.health.SetReady(true)

	g.Go(func() error {
		<-gctx.Done()
		s.health.SetReady(false)
		s.logger.Info("Shutting down servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(apiServer.Shutdown(shutdownCtx), healthServer.Shutdown(shutdownCtx))
	})

	err := g.Wait()
	if closeErr := s.Close(); closeErr != nil {
		s.logger.Error("Failed to close dead letter file: %v", closeErr)
	}
	return err
}

// RunManifest uploads the batch described by the manifest at path once.
// The manifest's retry settings override the configured policy when present.
func (s *Service) RunManifest(ctx context.Context, path string) (*dispatcher.Result, error) {
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}
	payloads, err := m.Payloads()
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest files: %w", err)
	}

	policy := s.dispatcher.Policy()
	if m.RetryBudget > 0 {
		policy.Budget = m.RetryBudget
	}
	if m.RetryDelay != "" {
		// validated by Load
		policy.Delay, _ = m.Delay()
	}

	s.logger.Info("Uploading %d files from %s", len(payloads), path)
	result, err := s.dispatcher.SettleWithPolicy(ctx, m.Destinations(), payloads, policy)
	if err != nil {
		return nil, err
	}

	for _, o := range result.Outcomes {
		if o.Succeeded() {
			s.logger.DebugWithBatch(result.BatchID, "%s uploaded in %d attempts", payloads[o.Index].Name, o.Attempts)
			continue
		}
		s.logger.ErrorWithBatch(result.BatchID, "%s failed: %s", payloads[o.Index].Name, o.Error)
	}
	return result, result.Err()
}

// Close releases the dead letter file
func (s *Service) Close() error {
	if s.deadLetter == nil {
		return nil
	}
	return s.deadLetter.Close()
}
