package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrBusRequired          = sterrors.New("synapse: event bus is required")
	ErrConfigRequired       = sterrors.New("synapse: config is required")
	ErrLoggerRequired       = sterrors.New("synapse: logger is required")
	ErrEnvelopeRequired     = sterrors.New("synapse: envelope is required")
	ErrEventTypeRequired    = sterrors.New("synapse: envelope event type is required")
	ErrInvalidPriority      = sterrors.New("synapse: invalid priority")
	ErrHandlerRequired      = sterrors.New("synapse: handler is required")
	ErrChannelRequired      = sterrors.New("synapse: channel is required")
	ErrMiddlewareRequired   = sterrors.New("synapse: middleware registration requires Middleware or Builder")
	ErrBusClosed            = sterrors.New("synapse: event bus is closed")
	ErrPublisherRequired    = sterrors.New("synapse: publisher is required")
	ErrSubscriberRequired   = sterrors.New("synapse: subscriber is required")
	ErrTopicRequired        = sterrors.New("synapse: topic is required")
	ErrPayloadRequired      = sterrors.New("synapse: payload is required")
	ErrPayloadTypeRequired  = sterrors.New("synapse: payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("synapse: payload type must be a pointer")
	ErrVerifierRequired     = sterrors.New("synapse: verifier is required")
	ErrQuarantineRequired   = sterrors.New("synapse: quarantine set is required")
)

// ConfigValidationError wraps the joined validation failures of a Config.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "synapse: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}

// HandlerPanicError carries a value recovered from a panicking handler or middleware.
type HandlerPanicError struct {
	Stage string
	Value any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("synapse: %s panicked: %v", e.Stage, e.Value)
}

// Unwrap exposes the recovered value when the panic was raised with an error.
func (e *HandlerPanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
