package errors

import (
	"errors"
	"testing"
)

func TestSentinelMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"bus required", ErrBusRequired, "synapse: event bus is required"},
		{"envelope required", ErrEnvelopeRequired, "synapse: envelope is required"},
		{"invalid priority", ErrInvalidPriority, "synapse: invalid priority"},
		{"bus closed", ErrBusClosed, "synapse: event bus is closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("invalid port")
	err := ConfigValidationError{Err: inner}

	want := "synapse: invalid configuration: invalid port"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if unwrapped := err.Unwrap(); unwrapped != inner {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, inner)
	}
}

func TestNewConfigValidationError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if err := NewConfigValidationError(nil); err != nil {
			t.Errorf("NewConfigValidationError(nil) = %v, want nil", err)
		}
	})

	t.Run("errors.Is works with wrapped error", func(t *testing.T) {
		inner := errors.New("specific error")
		err := NewConfigValidationError(inner)

		var cfgErr ConfigValidationError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigValidationError, got %T", err)
		}
		if !errors.Is(err, inner) {
			t.Error("errors.Is should match wrapped error")
		}
	})
}

func TestHandlerPanicError(t *testing.T) {
	cause := errors.New("boom")
	err := &HandlerPanicError{Stage: "handler", Value: cause}
	if got := err.Error(); got != "synapse: handler panicked: boom" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected panic error to unwrap to its cause")
	}

	plain := &HandlerPanicError{Stage: "middleware", Value: "nope"}
	if plain.Unwrap() != nil {
		t.Fatal("expected non-error panic value to unwrap to nil")
	}
}
