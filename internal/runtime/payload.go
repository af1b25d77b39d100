package runtime

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	handlerpkg "github.com/drblury/synapse/internal/runtime/handlers"
	jsoncodec "github.com/drblury/synapse/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

// Producer emits typed events onto a bus. *Bus implements it.
type Producer interface {
	PublishJSON(channel, eventType string, event any, p Priority, md metadatapkg.Metadata, opts ...PublishOption) error
	PublishProto(channel string, event proto.Message, p Priority, md metadatapkg.Metadata, opts ...PublishOption) error
}

var _ Producer = (*Bus)(nil)

// NewJSONEnvelope encodes v with sonic and records its Go type in metadata.
func NewJSONEnvelope(eventType string, v any, opts ...EnvelopeOption) (*Envelope, error) {
	if v == nil {
		return nil, errspkg.ErrPayloadRequired
	}
	payload, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T payload: %w", v, err)
	}
	opts = append(opts, withMetadataValue(handlerpkg.MetadataKeyPayloadType, fmt.Sprintf("%T", v)))
	return NewEnvelope(eventType, payload, opts...)
}

// NewProtoEnvelope encodes msg as protojson. An empty eventType defaults to the
// message's fully qualified protobuf name.
func NewProtoEnvelope(eventType string, msg proto.Message, opts ...EnvelopeOption) (*Envelope, error) {
	payload, err := handlerpkg.MarshalProto(msg)
	if err != nil {
		return nil, err
	}
	typeName := handlerpkg.ProtoTypeName(msg)
	if eventType == "" {
		eventType = typeName
	}
	opts = append(opts, withMetadataValue(handlerpkg.MetadataKeyPayloadType, typeName))
	return NewEnvelope(eventType, payload, opts...)
}

// DecodeJSON decodes the envelope payload into a T.
func DecodeJSON[T any](env *Envelope) (T, error) {
	if env == nil {
		var zero T
		return zero, errspkg.ErrEnvelopeRequired
	}
	return handlerpkg.DecodeJSON[T](env.eventType, env.payload)
}

// DecodeProto decodes the envelope payload into a new T.
func DecodeProto[T proto.Message](env *Envelope) (T, error) {
	var zero T
	if env == nil {
		return zero, errspkg.ErrEnvelopeRequired
	}
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return zero, err
	}
	return handlerpkg.UnmarshalProto(prototype, env.eventType, env.payload)
}

// NewProtoMessage instantiates a zero-value protobuf message for the provided generic type.
func NewProtoMessage[T proto.Message]() (T, error) {
	var zero T
	return handlerpkg.EnsureProtoPrototype(zero)
}

// MustProtoMessage instantiates the protobuf message and panics if the type cannot be created.
func MustProtoMessage[T proto.Message]() T {
	msg, err := NewProtoMessage[T]()
	if err != nil {
		panic(err)
	}
	return msg
}

// rawHandler adapts a compiled typed handler to Handler.
type rawHandler struct {
	fn handlerpkg.RawHandler
}

func (h *rawHandler) Handle(ctx context.Context, env *Envelope) error {
	return h.fn(ctx, handlerpkg.EnvelopeInfo{
		ID:        env.ID(),
		EventType: env.EventType(),
		Channel:   env.Channel(),
		Source:    env.Source(),
		Metadata:  env.Metadata(),
	}, env.payload)
}

// JSONHandler builds a Handler that decodes payloads into T, which must be a pointer type.
func JSONHandler[T any](logger loggingpkg.ServiceLogger, fn handlerpkg.JSONEnvelopeHandler[T]) (Handler, error) {
	raw, err := handlerpkg.BuildJSONHandler(fn, logger)
	if err != nil {
		return nil, err
	}
	return &rawHandler{fn: raw}, nil
}

// ProtoHandler builds a Handler that decodes protojson payloads into T.
func ProtoHandler[T proto.Message](logger loggingpkg.ServiceLogger, fn handlerpkg.ProtoEnvelopeHandler[T]) (Handler, error) {
	var zero T
	prototype, err := handlerpkg.EnsureProtoPrototype(zero)
	if err != nil {
		return nil, err
	}
	raw, err := handlerpkg.BuildProtoHandler(prototype, fn, logger)
	if err != nil {
		return nil, err
	}
	return &rawHandler{fn: raw}, nil
}

// SubscribeJSON registers a typed JSON handler on channel.
func SubscribeJSON[T any](b *Bus, channel string, fn handlerpkg.JSONEnvelopeHandler[T]) (SubscriptionToken, error) {
	if b == nil {
		return SubscriptionToken{}, errspkg.ErrBusRequired
	}
	h, err := JSONHandler(b.Logger, fn)
	if err != nil {
		return SubscriptionToken{}, err
	}
	return b.Subscribe(channel, h)
}

// SubscribeProto registers a typed protobuf handler on channel.
func SubscribeProto[T proto.Message](b *Bus, channel string, fn handlerpkg.ProtoEnvelopeHandler[T]) (SubscriptionToken, error) {
	if b == nil {
		return SubscriptionToken{}, errspkg.ErrBusRequired
	}
	h, err := ProtoHandler(b.Logger, fn)
	if err != nil {
		return SubscriptionToken{}, err
	}
	return b.Subscribe(channel, h)
}

// PublishJSON encodes event and publishes it. channel may be empty to route by eventType.
func (b *Bus) PublishJSON(channel, eventType string, event any, p Priority, md metadatapkg.Metadata, opts ...PublishOption) error {
	env, err := NewJSONEnvelope(eventType, event, WithMetadata(md))
	if err != nil {
		return err
	}
	return b.Publish(channel, env, p, opts...)
}

// PublishProto encodes event and publishes it under its protobuf name.
func (b *Bus) PublishProto(channel string, event proto.Message, p Priority, md metadatapkg.Metadata, opts ...PublishOption) error {
	env, err := NewProtoEnvelope("", event, WithMetadata(md))
	if err != nil {
		return err
	}
	return b.Publish(channel, env, p, opts...)
}

func withMetadataValue(key, value string) EnvelopeOption {
	return func(e *Envelope) {
		e.metadata = e.metadata.With(key, value)
	}
}
