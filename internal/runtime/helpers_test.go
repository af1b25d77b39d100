package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/synapse/internal/runtime/config"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// newTestBus builds a bus with the reference policy. Tests drive it with Tick.
func newTestBus(t *testing.T, deps BusDependencies, mutate ...func(*configpkg.Config)) *Bus {
	t.Helper()
	cfg := &configpkg.Config{}
	for _, fn := range mutate {
		fn(cfg)
	}
	b, err := TryNewBus(cfg, newTestLogger(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// publishN enqueues n envelopes of eventType, numbered in their payload.
func publishN(t *testing.T, b *Bus, eventType string, p Priority, n int, opts ...PublishOption) []*Envelope {
	t.Helper()
	out := make([]*Envelope, n)
	for i := range out {
		env := MustEnvelope(eventType, []byte(fmt.Sprintf("%d", i)))
		require.NoError(t, b.Publish("", env, p, opts...))
		out[i] = env
	}
	return out
}

// recorder collects envelope IDs handed to it.
type recorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *recorder) Handle(_ context.Context, env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, env.ID())
	return nil
}

func (r *recorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := make([]string, len(r.ids))
	copy(clone, r.ids)
	return clone
}

func (r *recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func envelopeIDs(envs []*Envelope) []string {
	ids := make([]string, len(envs))
	for i, env := range envs {
		ids[i] = env.ID()
	}
	return ids
}

type logRecord struct {
	level  string
	msg    string
	err    error
	fields loggingpkg.LogFields
}

// capturingLogger records every entry for assertions.
type capturingLogger struct {
	mu      *sync.Mutex
	records *[]logRecord
	fields  loggingpkg.LogFields
	noTrace bool
}

func (l *capturingLogger) TraceEnabled() bool { return !l.noTrace }

func newCapturingLogger() *capturingLogger {
	return &capturingLogger{mu: &sync.Mutex{}, records: &[]logRecord{}}
}

func (l *capturingLogger) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	merged := loggingpkg.LogFields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &capturingLogger{mu: l.mu, records: l.records, fields: merged, noTrace: l.noTrace}
}

func (l *capturingLogger) Debug(msg string, fields loggingpkg.LogFields) { l.add("debug", msg, nil, fields) }
func (l *capturingLogger) Info(msg string, fields loggingpkg.LogFields)  { l.add("info", msg, nil, fields) }
func (l *capturingLogger) Warn(msg string, fields loggingpkg.LogFields)  { l.add("warn", msg, nil, fields) }
func (l *capturingLogger) Trace(msg string, fields loggingpkg.LogFields) { l.add("trace", msg, nil, fields) }
func (l *capturingLogger) Error(msg string, err error, fields loggingpkg.LogFields) {
	l.add("error", msg, err, fields)
}

func (l *capturingLogger) add(level, msg string, err error, fields loggingpkg.LogFields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, logRecord{level: level, msg: msg, err: err, fields: fields})
}

func (l *capturingLogger) find(msg string) []logRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logRecord
	for _, rec := range *l.records {
		if rec.msg == msg {
			out = append(out, rec)
		}
	}
	return out
}

type testPublisher struct {
	mu        sync.Mutex
	published map[string][]*message.Message
	err       error
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.published == nil {
		p.published = make(map[string][]*message.Message)
	}
	p.published[topic] = append(p.published[topic], messages...)
	return nil
}

func (p *testPublisher) Close() error { return nil }

func (p *testPublisher) Messages(topic string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.published[topic]...)
}
