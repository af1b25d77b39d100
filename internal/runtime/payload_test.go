package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	handlerpkg "github.com/drblury/synapse/internal/runtime/handlers"
	metadatapkg "github.com/drblury/synapse/internal/runtime/metadata"
)

type orderCreated struct {
	OrderID string  `json:"order_id"`
	Total   float64 `json:"total"`
}

func TestNewJSONEnvelopeRoundTrip(t *testing.T) {
	env, err := NewJSONEnvelope("orders.created", orderCreated{OrderID: "o-1", Total: 12.5}, WithSource("checkout"))
	require.NoError(t, err)

	assert.Equal(t, "runtime.orderCreated", env.Header(handlerpkg.MetadataKeyPayloadType))
	assert.Equal(t, "checkout", env.Source())

	decoded, err := DecodeJSON[orderCreated](env)
	require.NoError(t, err)
	assert.Equal(t, orderCreated{OrderID: "o-1", Total: 12.5}, decoded)

	_, err = NewJSONEnvelope("orders.created", nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)

	_, err = DecodeJSON[orderCreated](nil)
	assert.ErrorIs(t, err, errspkg.ErrEnvelopeRequired)
}

func TestDecodeJSONReportsDecodeError(t *testing.T) {
	env := MustEnvelope("orders.created", []byte(`{"total":"lots"}`))

	_, err := DecodeJSON[orderCreated](env)
	var decodeErr *handlerpkg.DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "orders.created", decodeErr.EventType)
}

func TestNewProtoEnvelopeDefaultsEventType(t *testing.T) {
	env, err := NewProtoEnvelope("", wrapperspb.String("hi"))
	require.NoError(t, err)

	assert.Equal(t, "google.protobuf.StringValue", env.EventType())
	assert.Equal(t, "google.protobuf.StringValue", env.Header(handlerpkg.MetadataKeyPayloadType))

	decoded, err := DecodeProto[*wrapperspb.StringValue](env)
	require.NoError(t, err)
	assert.Equal(t, "hi", decoded.GetValue())

	_, err = NewProtoEnvelope("x", nil)
	assert.ErrorIs(t, err, errspkg.ErrPayloadRequired)
}

func TestNewProtoMessage(t *testing.T) {
	msg, err := NewProtoMessage[*structpb.Struct]()
	require.NoError(t, err)
	assert.NotNil(t, msg)

	assert.NotPanics(t, func() { MustProtoMessage[*wrapperspb.Int64Value]() })
}

func TestSubscribeJSONDeliversTypedPayload(t *testing.T) {
	b := newTestBus(t, BusDependencies{})

	var got []orderCreated
	var correlation string
	_, err := SubscribeJSON(b, "orders", func(_ context.Context, evt handlerpkg.JSONEnvelopeContext[*orderCreated]) error {
		got = append(got, *evt.Payload)
		correlation = evt.CorrelationID()
		return nil
	})
	require.NoError(t, err)

	md := metadatapkg.New(handlerpkg.MetadataKeyCorrelationID, "corr-1")
	require.NoError(t, b.PublishJSON("orders", "orders.created", orderCreated{OrderID: "o-7"}, PriorityHigh, md))
	b.Tick(context.Background())

	assert.Equal(t, []orderCreated{{OrderID: "o-7"}}, got)
	assert.Equal(t, "corr-1", correlation)
}

func TestSubscribeJSONRequiresPointerType(t *testing.T) {
	b := newTestBus(t, BusDependencies{})
	_, err := SubscribeJSON(b, "orders", func(context.Context, handlerpkg.JSONEnvelopeContext[orderCreated]) error { return nil })
	assert.ErrorIs(t, err, errspkg.ErrPayloadPointerNeeded)

	_, err = SubscribeJSON[*orderCreated](nil, "orders", nil)
	assert.ErrorIs(t, err, errspkg.ErrBusRequired)
}

func TestJSONHandlerDecodeFailureIsValidationFault(t *testing.T) {
	b := newTestBus(t, BusDependencies{})
	_, err := SubscribeJSON(b, "orders", func(context.Context, handlerpkg.JSONEnvelopeContext[*orderCreated]) error {
		t.Fatal("handler must not run")
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("", MustEnvelope("orders", []byte(`[1,2,3]`)), PriorityHigh))
	b.Tick(context.Background())

	assert.Equal(t, uint64(1), b.Stats().Faults.Validation)
}

func TestSubscribeProtoDeliversTypedPayload(t *testing.T) {
	b := newTestBus(t, BusDependencies{})

	var got string
	var channel string
	_, err := SubscribeProto(b, "greetings", func(_ context.Context, evt handlerpkg.ProtoEnvelopeContext[*wrapperspb.StringValue]) error {
		got = evt.Payload.GetValue()
		channel = evt.Channel
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.PublishProto("greetings", wrapperspb.String("hello"), PriorityCritical, nil))
	b.Tick(context.Background())

	assert.Equal(t, "hello", got)
	assert.Equal(t, "greetings", channel)
}

func TestPublishProtoRoutesByMessageName(t *testing.T) {
	b := newTestBus(t, BusDependencies{})
	rec := &recorder{}
	_, err := b.Subscribe("google.protobuf.Int64Value", rec)
	require.NoError(t, err)

	require.NoError(t, b.PublishProto("", wrapperspb.Int64(9), PriorityLow, nil, WithBatchLane()))
	b.Tick(context.Background())

	assert.Equal(t, 1, rec.Len())
}
