package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestQuarantineList(t *testing.T) {
	q := NewQuarantineList(2, 0)
	ctx := context.Background()

	q.Add("b")
	q.Add("a")
	assert.True(t, q.IsQuarantined(ctx, "a"))
	assert.False(t, q.IsQuarantined(ctx, "c"))
	assert.Equal(t, []string{"a", "b"}, q.Sources())

	q.Add("c")
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.IsQuarantined(ctx, "b"), "oldest entry is evicted")

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"))
	assert.Equal(t, []string{"c"}, q.Sources())
}

func TestQuarantineListExpiry(t *testing.T) {
	q := NewQuarantineList(0, 20*time.Millisecond)
	q.Add("noisy")
	assert.True(t, q.IsQuarantined(context.Background(), "noisy"))

	assert.Eventually(t, func() bool {
		return !q.IsQuarantined(context.Background(), "noisy")
	}, time.Second, 5*time.Millisecond)
}

type fakeSetReader struct {
	members map[string]bool
	err     error
	key     string
}

func (f *fakeSetReader) SIsMember(_ context.Context, key string, member interface{}) *redis.BoolCmd {
	f.key = key
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	return redis.NewBoolResult(f.members[member.(string)], nil)
}

func TestRedisQuarantine(t *testing.T) {
	reader := &fakeSetReader{members: map[string]bool{"rogue": true}}
	q := NewRedisQuarantine(reader, "synapse:quarantine")
	ctx := context.Background()

	assert.True(t, q.IsQuarantined(ctx, "rogue"))
	assert.False(t, q.IsQuarantined(ctx, "checkout"))
	assert.Equal(t, "synapse:quarantine", reader.key)
	assert.Zero(t, q.LookupErrors())
}

func TestRedisQuarantineLookupFailure(t *testing.T) {
	reader := &fakeSetReader{err: errors.New("connection refused")}
	ctx := context.Background()

	closed := NewRedisQuarantine(reader, "k")
	assert.True(t, closed.IsQuarantined(ctx, "anyone"))
	assert.Equal(t, uint64(1), closed.LookupErrors())

	open := NewRedisQuarantine(reader, "k")
	open.FailOpen = true
	assert.False(t, open.IsQuarantined(ctx, "anyone"))
	assert.Equal(t, uint64(1), open.LookupErrors())
}

func TestRedisQuarantineMiddlewareVetoes(t *testing.T) {
	reader := &fakeSetReader{members: map[string]bool{"rogue": true}}
	b := newTestBus(t, BusDependencies{
		Middlewares: []MiddlewareRegistration{QuarantineMiddleware(NewRedisQuarantine(reader, "q"))},
	})
	rec := &recorder{}
	_, err := b.Subscribe("evt", rec)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := b.Publish("", MustEnvelope("evt", nil, WithSource("rogue")), PriorityHigh); err != nil {
		t.Fatalf("publish: %v", err)
	}
	report := b.Tick(context.Background())

	assert.Zero(t, rec.Len())
	assert.Equal(t, 1, report.Lanes[LaneHigh].Vetoed)
}
