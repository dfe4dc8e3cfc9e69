package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestRedisQueuePushesJSON(t *testing.T) {
	client, mr := setupTestRedis(t)
	q := NewRedisQueue(client, "notifications:intents", time.Second)

	first := Intent{ID: "1", TemplateCode: TemplateStatusChanged, RecipientEmail: "a@example.org",
		Context: map[string]string{"case_number": "2025-000001", "state": "IN_PROGRESS"}}
	second := Intent{ID: "2", TemplateCode: TemplateAssigned, RecipientEmail: "b@example.org"}
	require.NoError(t, q.Deliver(context.Background(), first))
	require.NoError(t, q.Deliver(context.Background(), second))

	items, err := mr.List("notifications:intents")
	require.NoError(t, err)
	require.Len(t, items, 2)

	var got Intent
	require.NoError(t, json.Unmarshal([]byte(items[1]), &got))
	assert.Equal(t, first.TemplateCode, got.TemplateCode)
	assert.Equal(t, "2025-000001", got.Context["case_number"])
	assert.NoError(t, q.Ping(context.Background()))
}

func TestRedisQueueReportsConnectionFailure(t *testing.T) {
	client, mr := setupTestRedis(t)
	q := NewRedisQueue(client, "k", 200*time.Millisecond)
	mr.Close()

	assert.Error(t, q.Deliver(context.Background(), Intent{TemplateCode: TemplateAssigned}))
}

func TestServiceDeliversQueuedIntents(t *testing.T) {
	rec := NewRecorder()
	svc := NewService(rec, DefaultServiceConfig(), nil)
	require.NoError(t, svc.Start(context.Background()))

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Notify(context.Background(), Intent{TemplateCode: TemplateStatusChanged}))
	}
	require.NoError(t, svc.Stop())

	intents := rec.Intents()
	require.Len(t, intents, 5)
	assert.NotEmpty(t, intents[0].ID)
	assert.False(t, intents[0].CreatedAt.IsZero())
	assert.Equal(t, int64(5), svc.Stats().Delivered)
}

type flakyProvider struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (p *flakyProvider) Deliver(ctx context.Context, intent Intent) error {
	p.calls.Add(1)
	if p.failures.Add(-1) >= 0 {
		return errors.New("temporary")
	}
	return nil
}

func TestServiceRetries(t *testing.T) {
	p := &flakyProvider{}
	p.failures.Store(2)
	svc := NewService(p, ServiceConfig{Workers: 1, BufferSize: 4, RetryAttempts: 3, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Notify(context.Background(), Intent{TemplateCode: TemplateAssigned}))
	require.NoError(t, svc.Stop())

	assert.Equal(t, int32(3), p.calls.Load())
	assert.Equal(t, int64(1), svc.Stats().Delivered)
}

func TestServiceGivesUpAfterRetries(t *testing.T) {
	rec := NewRecorder()
	rec.SetFailure(errors.New("down"))
	svc := NewService(rec, ServiceConfig{Workers: 1, BufferSize: 4, RetryAttempts: 2, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Notify(context.Background(), Intent{TemplateCode: TemplateAssigned}))
	require.NoError(t, svc.Stop())

	assert.Equal(t, int64(1), svc.Stats().Failed)
	assert.Empty(t, rec.Intents())
}

func TestServiceDropsWhenBufferFull(t *testing.T) {
	svc := NewService(NewRecorder(), ServiceConfig{Workers: 1, BufferSize: 1}, nil)

	require.NoError(t, svc.Notify(context.Background(), Intent{TemplateCode: TemplateAssigned}))
	assert.Error(t, svc.Notify(context.Background(), Intent{TemplateCode: TemplateAssigned}))
	assert.Equal(t, int64(1), svc.Stats().Dropped)
}

func TestServiceLifecycleErrors(t *testing.T) {
	svc := NewService(NewRecorder(), DefaultServiceConfig(), nil)
	assert.Error(t, svc.Stop())
	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
}
