package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/integrity-line/platform/internal/shared/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue pushes intents as JSON onto a Redis list for an external
// mailer to consume.
type RedisQueue struct {
	client  redis.UniversalClient
	key     string
	timeout time.Duration
}

// NewRedisQueue creates a queue provider writing to key.
func NewRedisQueue(client redis.UniversalClient, key string, timeout time.Duration) *RedisQueue {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisQueue{client: client, key: key, timeout: timeout}
}

// Deliver LPUSHes the intent.
func (q *RedisQueue) Deliver(ctx context.Context, intent Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push intent: %w", err)
	}
	return nil
}

// Ping checks the connection, for readiness probes.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// LogProvider writes intents to the log (for development)
type LogProvider struct {
	logger *zap.Logger
}

// NewLogProvider creates a logging provider
func NewLogProvider(logger *zap.Logger) *LogProvider {
	return &LogProvider{logger: logging.OrNop(logger).Named("notification")}
}

// Deliver logs the intent. The recipient address is left out.
func (p *LogProvider) Deliver(ctx context.Context, intent Intent) error {
	p.logger.Info("notification intent",
		zap.String("id", intent.ID),
		zap.String("template", intent.TemplateCode),
		zap.Any("context", intent.Context))
	return nil
}

// Recorder keeps intents in memory. It is both a Provider and a Notifier,
// so tests can observe what a service would have sent.
type Recorder struct {
	mu      sync.Mutex
	intents []Intent
	fail    error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Deliver(ctx context.Context, intent Intent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.intents = append(r.intents, intent)
	return nil
}

func (r *Recorder) Notify(ctx context.Context, intent Intent) error {
	return r.Deliver(ctx, intent)
}

// SetFailure makes every later call return err; nil clears it.
func (r *Recorder) SetFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

// Intents returns a copy of everything recorded so far.
func (r *Recorder) Intents() []Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Intent(nil), r.intents...)
}

// Reset discards recorded intents.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = nil
}
