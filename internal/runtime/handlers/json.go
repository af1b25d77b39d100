package handlers

import (
	"context"
	"fmt"
	"reflect"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	jsoncodec "github.com/drblury/synapse/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

// RawHandler is the untyped form every typed handler is compiled into.
type RawHandler func(ctx context.Context, info EnvelopeInfo, payload []byte) error

// DecodeError reports a payload that does not match the handler's type.
type DecodeError struct {
	EventType   string
	PayloadType string
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s payload of %q: %v", e.PayloadType, e.EventType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// JSONEnvelopeContext exposes the decoded payload and envelope info for JSON handlers.
type JSONEnvelopeContext[T any] struct {
	EnvelopeContextBase
	Payload T
}

// JSONEnvelopeHandler processes a decoded JSON payload.
type JSONEnvelopeHandler[T any] func(ctx context.Context, event JSONEnvelopeContext[T]) error

// BuildJSONHandler converts a typed JSON handler into a RawHandler. T must be a
// pointer type so every invocation decodes into a fresh value.
func BuildJSONHandler[T any](handler JSONEnvelopeHandler[T], logger loggingpkg.ServiceLogger) (RawHandler, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	prototypeFactory, err := jsonPrototypeFactory[T]()
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, info EnvelopeInfo, payload []byte) error {
		typed := prototypeFactory()

		if err := jsoncodec.Unmarshal(payload, typed); err != nil {
			return &DecodeError{EventType: info.EventType, PayloadType: fmt.Sprintf("%T", typed), Err: err}
		}

		return handler(ctx, JSONEnvelopeContext[T]{
			EnvelopeContextBase: EnvelopeContextBase{EnvelopeInfo: info, Logger: logger},
			Payload:             typed,
		})
	}, nil
}

// DecodeJSON decodes payload into a value of type T.
func DecodeJSON[T any](eventType string, payload []byte) (T, error) {
	var out T
	if len(payload) == 0 {
		return out, &DecodeError{EventType: eventType, PayloadType: fmt.Sprintf("%T", out), Err: errspkg.ErrPayloadRequired}
	}
	if err := jsoncodec.Unmarshal(payload, &out); err != nil {
		return out, &DecodeError{EventType: eventType, PayloadType: fmt.Sprintf("%T", out), Err: err}
	}
	return out, nil
}

func jsonPrototypeFactory[T any]() (func() T, error) {
	var zero T
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Ptr {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() T {
		clone := reflect.New(elem).Interface()
		return clone.(T)
	}, nil
}
