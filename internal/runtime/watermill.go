package runtime

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	handlerpkg "github.com/drblury/synapse/internal/runtime/handlers"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

// bridgeKeys are stripped from envelope metadata after they were interpreted.
var bridgeKeys = []string{
	handlerpkg.MetadataKeyPriority,
	handlerpkg.MetadataKeyBatch,
	handlerpkg.MetadataKeyEventType,
	handlerpkg.MetadataKeySource,
}

// WatermillPublisher implements message.Publisher on top of a Bus, so code
// written against Watermill can publish into the lanes. The topic becomes the
// channel.
type WatermillPublisher struct {
	bus *Bus
	// DefaultPriority applies to messages without a synapse_priority header.
	DefaultPriority Priority
}

var _ message.Publisher = (*WatermillPublisher)(nil)

// NewWatermillPublisher wraps b. Messages default to PriorityNormal.
func NewWatermillPublisher(b *Bus) *WatermillPublisher {
	return &WatermillPublisher{bus: b, DefaultPriority: PriorityNormal}
}

func (p *WatermillPublisher) Publish(topic string, messages ...*message.Message) error {
	if p.bus == nil {
		return errspkg.ErrBusRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	for _, msg := range messages {
		env, priority, opts, err := EnvelopeFromMessage(topic, msg, p.DefaultPriority)
		if err != nil {
			return err
		}
		if err := p.bus.Publish(topic, env, priority, opts...); err != nil {
			return fmt.Errorf("publish message %s: %w", msg.UUID, err)
		}
	}
	return nil
}

// Close is a no-op; the bus owns its own lifecycle.
func (p *WatermillPublisher) Close() error { return nil }

// EnvelopeFromMessage converts a Watermill message. The UUID becomes the
// envelope ID; the synapse_* headers select event type, source and lane.
func EnvelopeFromMessage(topic string, msg *message.Message, fallback Priority) (*Envelope, Priority, []PublishOption, error) {
	if msg == nil {
		return nil, 0, nil, errspkg.ErrEnvelopeRequired
	}

	md := metadatapkg.FromWatermill(msg.Metadata)

	priority := fallback
	if raw := md[handlerpkg.MetadataKeyPriority]; raw != "" {
		parsed, err := ParsePriority(raw)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("message %s: %w", msg.UUID, err)
		}
		priority = parsed
	}

	var opts []PublishOption
	if raw := md[handlerpkg.MetadataKeyBatch]; raw != "" {
		batch, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("message %s: invalid %s header %q", msg.UUID, handlerpkg.MetadataKeyBatch, raw)
		}
		if batch {
			opts = append(opts, WithBatchLane())
		}
	}

	eventType := md[handlerpkg.MetadataKeyEventType]
	if eventType == "" {
		eventType = topic
	}

	env, err := NewEnvelope(eventType, msg.Payload,
		WithEnvelopeID(msg.UUID),
		WithSource(md[handlerpkg.MetadataKeySource]),
		WithChannel(topic),
		WithMetadata(md.Without(bridgeKeys...)),
	)
	if err != nil {
		return nil, 0, nil, err
	}
	return env, priority, opts, nil
}

// MessageFromEnvelope converts env into a Watermill message carrying its event
// type and source as headers.
func MessageFromEnvelope(env *Envelope) *message.Message {
	md := env.metadata.With(handlerpkg.MetadataKeyEventType, env.eventType)
	if env.source != "" {
		md[handlerpkg.MetadataKeySource] = env.source
	}
	msg := message.NewMessage(env.id, env.Payload())
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg
}

// forwardHandler republishes delivered envelopes to a Watermill publisher.
type forwardHandler struct {
	pub   message.Publisher
	topic string
}

// ForwardHandler returns a Handler that republishes every envelope it receives
// through pub. An empty topic forwards to the envelope's channel name.
func ForwardHandler(pub message.Publisher, topic string) (Handler, error) {
	if pub == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	return &forwardHandler{pub: pub, topic: topic}, nil
}

func (h *forwardHandler) Handle(ctx context.Context, env *Envelope) error {
	topic := h.topic
	if topic == "" {
		topic = env.Channel()
	}
	msg := MessageFromEnvelope(env)
	msg.SetContext(ctx)
	return h.pub.Publish(topic, msg)
}

// Ingest subscribes to topic and enqueues every message until ctx is done or
// the subscription closes. Messages are acked once enqueued and nacked when the
// bus rejects them.
func (b *Bus) Ingest(ctx context.Context, sub message.Subscriber, topic string, fallback Priority) error {
	if sub == nil {
		return errspkg.ErrSubscriberRequired
	}
	if topic == "" {
		return errspkg.ErrTopicRequired
	}

	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	b.Logger.Info("Ingesting Watermill topic", loggingpkg.LogFields{"topic": topic, "priority": fallback})
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.ingestMessage(topic, msg, fallback)
		}
	}
}

func (b *Bus) ingestMessage(topic string, msg *message.Message, fallback Priority) {
	env, priority, opts, err := EnvelopeFromMessage(topic, msg, fallback)
	if err == nil {
		err = b.Publish(topic, env, priority, opts...)
	}
	if err != nil {
		b.Logger.Error("Failed to ingest message", err, loggingpkg.LogFields{
			"topic":        topic,
			"message_uuid": msg.UUID,
		})
		msg.Nack()
		return
	}
	msg.Ack()
}
