package runtime

import (
	"context"
	"reflect"
	"sort"
	"sync"
)

// Handler consumes envelopes delivered on a channel. A returned error or a
// panic is logged and counted; it never reaches the producer or sibling handlers.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// SubscriptionToken identifies one registration for Unsubscribe.
type SubscriptionToken struct {
	channel string
	id      uint64
}

// Channel is the channel the token was issued for.
func (t SubscriptionToken) Channel() string { return t.channel }

// IsZero reports whether the token was never issued.
func (t SubscriptionToken) IsZero() bool { return t.id == 0 }

type subscription struct {
	id      uint64
	handler Handler
}

// channelRegistry maps a channel name to its handlers in registration order.
type channelRegistry struct {
	mu       sync.RWMutex
	nextID   uint64
	channels map[string][]subscription
}

func newChannelRegistry() *channelRegistry {
	return &channelRegistry{channels: make(map[string][]subscription)}
}

// subscribe registers h on channel. A pointer handler already present on the
// channel returns the existing token. Any other handler value, HandlerFunc
// included, is a distinct registration.
func (r *channelRegistry) subscribe(channel string, h Handler) SubscriptionToken {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ref, ok := handlerRef(h); ok {
		for _, sub := range r.channels[channel] {
			if other, ok := handlerRef(sub.handler); ok && other == ref {
				return SubscriptionToken{channel: channel, id: sub.id}
			}
		}
	}

	r.nextID++
	sub := subscription{id: r.nextID, handler: h}
	r.channels[channel] = append(r.channels[channel], sub)
	return SubscriptionToken{channel: channel, id: sub.id}
}

func (r *channelRegistry) unsubscribe(token SubscriptionToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.channels[token.channel]
	for i, sub := range subs {
		if sub.id != token.id {
			continue
		}
		remaining := make([]subscription, 0, len(subs)-1)
		remaining = append(remaining, subs[:i]...)
		remaining = append(remaining, subs[i+1:]...)
		if len(remaining) == 0 {
			delete(r.channels, token.channel)
		} else {
			r.channels[token.channel] = remaining
		}
		return true
	}
	return false
}

// handlers returns the channel's subscriptions. Slices are replaced, never
// mutated in place, so the result is safe to range over without the lock.
func (r *channelRegistry) handlers(channel string) []subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[channel]
}

// counts returns subscriber counts per channel.
func (r *channelRegistry) counts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.channels))
	for ch, subs := range r.channels {
		out[ch] = len(subs)
	}
	return out
}

// channelNames returns the channels with at least one subscriber, sorted.
func (r *channelRegistry) channelNames() []string {
	counts := r.counts()
	names := make([]string, 0, len(counts))
	for ch := range counts {
		names = append(names, ch)
	}
	sort.Strings(names)
	return names
}

type handlerIdentity struct {
	typ reflect.Type
	ptr uintptr
}

// handlerRef identifies pointer handlers by type and address. Comparing the
// interface values directly panics when a struct handler holds a func.
func handlerRef(h Handler) (handlerIdentity, bool) {
	v := reflect.ValueOf(h)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return handlerIdentity{}, false
	}
	return handlerIdentity{typ: v.Type(), ptr: v.Pointer()}, true
}
