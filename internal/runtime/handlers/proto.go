package handlers

import (
	"context"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

var protoJSONMarshalOptions = protojson.MarshalOptions{
	EmitUnpopulated: true,
}

var protoJSONUnmarshalOptions = protojson.UnmarshalOptions{
	DiscardUnknown: true,
}

// ProtoEnvelopeContext provides strongly typed access to the envelope payload.
type ProtoEnvelopeContext[T proto.Message] struct {
	EnvelopeContextBase
	Payload T
}

// ProtoEnvelopeHandler processes a typed protobuf payload.
type ProtoEnvelopeHandler[T proto.Message] func(ctx context.Context, event ProtoEnvelopeContext[T]) error

// BuildProtoHandler converts the typed handler into a RawHandler. Payloads are
// protojson encoded.
func BuildProtoHandler[T proto.Message](prototype T, handler ProtoEnvelopeHandler[T], logger loggingpkg.ServiceLogger) (RawHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if isNilProto(prototype) {
		return nil, errspkg.ErrPayloadTypeRequired
	}

	return func(ctx context.Context, info EnvelopeInfo, payload []byte) error {
		typed, err := UnmarshalProto(prototype, info.EventType, payload)
		if err != nil {
			return err
		}

		return handler(ctx, ProtoEnvelopeContext[T]{
			EnvelopeContextBase: EnvelopeContextBase{EnvelopeInfo: info, Logger: logger},
			Payload:             typed,
		})
	}, nil
}

// MarshalProto encodes msg as protojson.
func MarshalProto(msg proto.Message) ([]byte, error) {
	if isNilProto(msg) {
		return nil, errspkg.ErrPayloadRequired
	}
	payload, err := protoJSONMarshalOptions.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T payload: %w", msg, err)
	}
	return payload, nil
}

// UnmarshalProto decodes payload into a fresh instance of prototype's type.
func UnmarshalProto[T proto.Message](prototype T, eventType string, payload []byte) (T, error) {
	typed, err := clonePrototype(prototype)
	if err != nil {
		return typed, err
	}
	if err := protoJSONUnmarshalOptions.Unmarshal(payload, typed); err != nil {
		var zero T
		return zero, &DecodeError{EventType: eventType, PayloadType: fmt.Sprintf("%T", prototype), Err: err}
	}
	return typed, nil
}

// ProtoTypeName is the fully qualified protobuf name of msg.
func ProtoTypeName(msg proto.Message) string {
	if isNilProto(msg) {
		return ""
	}
	return string(msg.ProtoReflect().Descriptor().FullName())
}

func clonePrototype[T proto.Message](prototype T) (T, error) {
	if isNilProto(prototype) {
		var zero T
		return zero, errspkg.ErrPayloadTypeRequired
	}

	cloned := proto.Clone(prototype)
	proto.Reset(cloned)

	typed, ok := cloned.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected prototype type %T", cloned)
	}

	return typed, nil
}

// EnsureProtoPrototype returns candidate, or a new zero instance of its type
// when candidate is a nil pointer.
func EnsureProtoPrototype[T proto.Message](candidate T) (T, error) {
	if !isNilProto(candidate) {
		return candidate, nil
	}

	var zero T
	typ := reflect.TypeOf(candidate)
	if typ == nil {
		return zero, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return zero, errspkg.ErrPayloadPointerNeeded
	}

	inst := reflect.New(typ.Elem()).Interface()
	typed, ok := inst.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected prototype type %s", typ)
	}
	return typed, nil
}

func isNilProto[T proto.Message](prototype T) bool {
	msg := proto.Message(prototype)
	if msg == nil {
		return true
	}

	val := reflect.ValueOf(msg)
	switch val.Kind() {
	case reflect.Interface, reflect.Ptr, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}
