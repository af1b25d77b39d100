package runtime

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// QuarantineList is a bounded in-process quarantine set. Entries expire after
// the configured TTL; the least recently quarantined source is evicted first
// when the list is full.
type QuarantineList struct {
	entries *expirable.LRU[string, time.Time]
}

// NewQuarantineList creates a list holding at most size sources. A size of zero
// means unbounded and a ttl of zero means entries never expire.
func NewQuarantineList(size int, ttl time.Duration) *QuarantineList {
	return &QuarantineList{entries: expirable.NewLRU[string, time.Time](size, nil, ttl)}
}

// Add quarantines source.
func (q *QuarantineList) Add(source string) {
	q.entries.Add(source, time.Now().UTC())
}

// Remove lifts the quarantine of source and reports whether it was present.
func (q *QuarantineList) Remove(source string) bool {
	return q.entries.Remove(source)
}

func (q *QuarantineList) IsQuarantined(_ context.Context, source string) bool {
	// Peek honours the TTL without touching recency.
	_, ok := q.entries.Peek(source)
	return ok
}

// Len is the number of live entries.
func (q *QuarantineList) Len() int {
	return q.entries.Len()
}

// Sources lists quarantined sources, sorted.
func (q *QuarantineList) Sources() []string {
	sources := q.entries.Keys()
	sort.Strings(sources)
	return sources
}

// SetMembershipReader is the slice of a go-redis client RedisQuarantine needs.
// *redis.Client, *redis.ClusterClient and redis.Cmdable all satisfy it.
type SetMembershipReader interface {
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
}

// RedisQuarantine consults a Redis set that other processes maintain, so one
// quarantine decision applies to every bus sharing the key.
type RedisQuarantine struct {
	client SetMembershipReader
	key    string

	// FailOpen lets envelopes through when Redis cannot be reached. The zero
	// value treats lookup failures as quarantined.
	FailOpen bool

	lookupErrors atomic.Uint64
}

// NewRedisQuarantine reads membership from the set stored at key.
func NewRedisQuarantine(client SetMembershipReader, key string) *RedisQuarantine {
	return &RedisQuarantine{client: client, key: key}
}

func (q *RedisQuarantine) IsQuarantined(ctx context.Context, source string) bool {
	member, err := q.client.SIsMember(ctx, q.key, source).Result()
	if err != nil {
		q.lookupErrors.Add(1)
		return !q.FailOpen
	}
	return member
}

// LookupErrors counts failed membership checks since construction.
func (q *RedisQuarantine) LookupErrors() uint64 {
	return q.lookupErrors.Load()
}
