package runtime

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

const tracerName = "github.com/drblury/synapse"

// MiddlewareBuilder constructs a middleware using the bus it is registered on.
type MiddlewareBuilder func(*Bus) (Middleware, error)

// MiddlewareRegistration captures how a middleware should be added to a Bus pipeline.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// Verifier checks an envelope before delivery. A non-nil error vetoes it.
type Verifier interface {
	Verify(ctx context.Context, env *Envelope) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, env *Envelope) error

func (f VerifierFunc) Verify(ctx context.Context, env *Envelope) error {
	return f(ctx, env)
}

// Quarantine reports whether a producer is currently isolated.
type Quarantine interface {
	IsQuarantined(ctx context.Context, source string) bool
}

// QuarantineFunc adapts a function to Quarantine.
type QuarantineFunc func(ctx context.Context, source string) bool

func (f QuarantineFunc) IsQuarantined(ctx context.Context, source string) bool {
	return f(ctx, source)
}

// DefaultMiddlewares returns the chain NewBus installs unless disabled.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TracerMiddleware(),
		LogEnvelopesMiddleware(nil),
	}
}

// VerificationMiddleware vetoes envelopes the verifier rejects.
func VerificationMiddleware(verifier Verifier) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "verification",
		Builder: func(b *Bus) (Middleware, error) {
			if verifier == nil {
				return nil, errspkg.ErrVerifierRequired
			}
			return b.verificationMiddleware(verifier), nil
		},
	}
}

// QuarantineMiddleware vetoes envelopes whose source is quarantined.
func QuarantineMiddleware(q Quarantine) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "quarantine",
		Builder: func(b *Bus) (Middleware, error) {
			if q == nil {
				return nil, errspkg.ErrQuarantineRequired
			}
			return b.quarantineMiddleware(q), nil
		},
	}
}

// LogEnvelopesMiddleware logs every envelope entering the pipeline at trace level.
func LogEnvelopesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_envelopes",
		Builder: func(b *Bus) (Middleware, error) {
			l := logger
			if l == nil {
				l = b.Logger
			}
			if l == nil {
				return nil, errors.New("log envelopes middleware requires a logger")
			}
			return logEnvelopesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps the rest of the pipeline and delivery in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware(otel.Tracer(tracerName)),
	}
}

// RegisterMiddleware appends the supplied middleware to the pipeline.
func (b *Bus) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if b == nil {
		return errspkg.ErrBusRequired
	}

	var mw Middleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(b)
		if err != nil {
			return err
		}
	default:
		return errspkg.ErrMiddlewareRequired
	}

	if mw == nil {
		return nil
	}

	name := cfg.Name
	if name == "" {
		name = fmt.Sprintf("middleware_%d", len(b.pipeline.snapshot()))
	}
	b.pipeline.append(name, mw)
	b.Logger.Debug("Middleware registered", loggingpkg.LogFields{"middleware": name})
	return nil
}

// Use appends mw to the pipeline. It takes effect from the next dispatch.
func (b *Bus) Use(mw Middleware) error {
	if mw == nil {
		return errspkg.ErrMiddlewareRequired
	}
	return b.RegisterMiddleware(MiddlewareRegistration{Middleware: mw})
}

// Middlewares lists the pipeline in execution order.
func (b *Bus) Middlewares() []string {
	return b.pipeline.names()
}

func (b *Bus) verificationMiddleware(verifier Verifier) Middleware {
	return func(ctx context.Context, env *Envelope, next NextFunc) {
		if err := verifier.Verify(ctx, env); err != nil {
			b.Logger.Debug("Envelope failed verification", loggingpkg.LogFields{
				"envelope_id": env.ID(),
				"event_type":  env.EventType(),
				"source":      env.Source(),
				"reason":      err.Error(),
			})
			return
		}
		next(ctx)
	}
}

func (b *Bus) quarantineMiddleware(q Quarantine) Middleware {
	return func(ctx context.Context, env *Envelope, next NextFunc) {
		if q.IsQuarantined(ctx, env.Source()) {
			b.Logger.Debug("Envelope source quarantined", loggingpkg.LogFields{
				"envelope_id": env.ID(),
				"source":      env.Source(),
			})
			return
		}
		next(ctx)
	}
}

func logEnvelopesMiddleware(logger loggingpkg.ServiceLogger) Middleware {
	return func(ctx context.Context, env *Envelope, next NextFunc) {
		if !loggingpkg.TraceEnabled(logger) {
			next(ctx)
			return
		}
		logger.Trace("Dispatching envelope", loggingpkg.LogFields{
			"envelope_id": env.ID(),
			"event_type":  env.EventType(),
			"channel":     env.Channel(),
			"source":      env.Source(),
			"bytes":       env.PayloadSize(),
			"metadata":    env.Metadata(),
		})
		next(ctx)
	}
}

func tracerMiddleware(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, env *Envelope, next NextFunc) {
		ctx, span := tracer.Start(ctx, "DispatchEnvelope", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		span.SetAttributes(
			attribute.String("envelope.id", env.ID()),
			attribute.String("envelope.event_type", env.EventType()),
			attribute.String("envelope.channel", env.Channel()),
			attribute.String("envelope.source", env.Source()),
			attribute.Int("envelope.bytes", env.PayloadSize()),
		)

		next(ctx)

		if state := dispatchStateFrom(ctx); state != nil {
			span.SetAttributes(attribute.Bool("envelope.delivered", state.delivered.Load()))
			if faults := state.faults.Load(); faults > 0 {
				span.SetAttributes(attribute.Int64("envelope.handler_faults", faults))
				span.SetStatus(codes.Error, "handler fault")
			}
		}
	}
}
