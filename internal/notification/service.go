package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/integrity-line/platform/internal/shared/logging"
	"github.com/integrity-line/platform/internal/shared/metrics"
	"go.uber.org/zap"
)

// Service queues intents in memory and hands them to a Provider from a
// small worker pool, so request handlers never wait on the mail side.
type Service struct {
	provider Provider
	logger   *zap.Logger

	intentCh chan Intent
	workers  int

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config ServiceConfig
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       2,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
	}
}

// NewService creates a new notification service
func NewService(provider Provider, config ServiceConfig, logger *zap.Logger) *Service {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 1
	}
	return &Service{
		provider: provider,
		logger:   logging.OrNop(logger).Named("notification"),
		intentCh: make(chan Intent, config.BufferSize),
		workers:  config.Workers,
		stopCh:   make(chan struct{}),
		config:   config,
	}
}

// Start starts the workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}
	s.started = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return nil
}

// Stop stops the workers after they drain what is already queued.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// Notify queues an intent. It never blocks: a full buffer drops the
// intent and reports an error.
func (s *Service) Notify(ctx context.Context, intent Intent) error {
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now().UTC()
	}

	select {
	case s.intentCh <- intent:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		err := fmt.Errorf("notification buffer full")
		metrics.RecordNotification(intent.TemplateCode, err)
		return err
	}
}

// Stats returns a snapshot of the delivery counters
func (s *Service) Stats() Stats {
	return Stats{
		Queued:    s.queued.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			s.drain(ctx)
			return
		case intent := <-s.intentCh:
			s.process(ctx, intent)
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case intent := <-s.intentCh:
			s.process(ctx, intent)
		default:
			return
		}
	}
}

// process delivers one intent, retrying with a fixed delay.
func (s *Service) process(ctx context.Context, intent Intent) {
	var err error
	for attempt := 1; attempt <= s.config.RetryAttempts; attempt++ {
		if err = s.provider.Deliver(ctx, intent); err == nil || attempt == s.config.RetryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			s.finish(intent, ctx.Err())
			return
		case <-time.After(s.config.RetryDelay):
		}
	}
	s.finish(intent, err)
}

func (s *Service) finish(intent Intent, err error) {
	metrics.RecordNotification(intent.TemplateCode, err)
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("notification delivery failed",
			zap.String("id", intent.ID),
			zap.String("template", intent.TemplateCode),
			zap.Error(err))
		return
	}
	s.delivered.Add(1)
}
