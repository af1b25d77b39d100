package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

// DispatchContext describes one scheduler decision to hooks.
type DispatchContext struct {
	// Tick is the sequence number of the tick that made the decision.
	Tick uint64
	// Lane is the lane the envelope was taken from.
	Lane Lane
	// Pressure is the gauge value the tick read before the normal lane. It is
	// zero for batch, critical and high, which run before the read and are
	// never shed.
	Pressure int
	// Context is the context the pipeline ran with.
	Context context.Context

	// EnvelopeID, EventType, Channel and Source identify the envelope. They are
	// empty for OnShed, which reports a count instead.
	EnvelopeID string
	EventType  string
	Channel    string
	Source     string

	// StartedAt is when the dispatch began.
	StartedAt time.Time
	// Duration covers the pipeline and every handler invocation.
	Duration time.Duration
	// Handlers is the number of handlers invoked (OnDelivered only).
	Handlers int
	// VetoedBy names the middleware that stopped the envelope (OnVetoed only).
	VetoedBy string
	// Shed is the number of envelopes discarded (OnShed only).
	Shed int
}

// DispatchHooks defines callbacks for the scheduler's decisions.
// All hooks are optional - nil hooks are simply not called.
// Hooks run on the scheduler goroutine, or on batch workers for the batch lane,
// and should return quickly.
type DispatchHooks struct {
	// OnDelivered is called after the pipeline passed the envelope and every
	// handler on its channel ran, successfully or not.
	OnDelivered func(ctx DispatchContext)

	// OnVetoed is called when a middleware did not forward the envelope.
	OnVetoed func(ctx DispatchContext)

	// OnShed is called once per lane and tick when envelopes were discarded
	// under pressure.
	OnShed func(ctx DispatchContext)

	// OnHandlerFault is called for every handler that returned an error or panicked.
	OnHandlerFault func(ctx DispatchContext, err error)
}

// Merge combines two DispatchHooks, creating a new DispatchHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h DispatchHooks) Merge(other DispatchHooks) DispatchHooks {
	return DispatchHooks{
		OnDelivered:    chainHooks(h.OnDelivered, other.OnDelivered),
		OnVetoed:       chainHooks(h.OnVetoed, other.OnVetoed),
		OnShed:         chainHooks(h.OnShed, other.OnShed),
		OnHandlerFault: chainFaultHooks(h.OnHandlerFault, other.OnHandlerFault),
	}
}

func chainHooks(a, b func(DispatchContext)) func(DispatchContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext) {
		a(ctx)
		b(ctx)
	}
}

func chainFaultHooks(a, b func(DispatchContext, error)) func(DispatchContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx DispatchContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h DispatchHooks) delivered(ctx DispatchContext) {
	if h.OnDelivered != nil {
		h.OnDelivered(ctx)
	}
}

func (h DispatchHooks) vetoed(ctx DispatchContext) {
	if h.OnVetoed != nil {
		h.OnVetoed(ctx)
	}
}

func (h DispatchHooks) shed(ctx DispatchContext) {
	if h.OnShed != nil {
		h.OnShed(ctx)
	}
}

func (h DispatchHooks) handlerFault(ctx DispatchContext, err error) {
	if h.OnHandlerFault != nil {
		h.OnHandlerFault(ctx, err)
	}
}

// LoggingHooks returns pre-built hooks that log every dispatch decision at
// debug level. The bus already reports sheds and faults on its own logger;
// these are for audit trails.
func LoggingHooks(logger loggingpkg.ServiceLogger) DispatchHooks {
	return DispatchHooks{
		OnDelivered: func(ctx DispatchContext) {
			logger.Debug("Envelope delivered", loggingpkg.LogFields{
				"lane":        ctx.Lane,
				"channel":     ctx.Channel,
				"envelope_id": ctx.EnvelopeID,
				"handlers":    ctx.Handlers,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnVetoed: func(ctx DispatchContext) {
			logger.Debug("Envelope vetoed", loggingpkg.LogFields{
				"lane":        ctx.Lane,
				"channel":     ctx.Channel,
				"envelope_id": ctx.EnvelopeID,
				"vetoed_by":   ctx.VetoedBy,
			})
		},
		OnShed: func(ctx DispatchContext) {
			logger.Debug("Envelopes shed", loggingpkg.LogFields{
				"lane":     ctx.Lane,
				"count":    ctx.Shed,
				"pressure": ctx.Pressure,
				"tick":     ctx.Tick,
			})
		},
		OnHandlerFault: func(ctx DispatchContext, err error) {
			logger.Debug("Handler fault", loggingpkg.LogFields{
				"lane":        ctx.Lane,
				"channel":     ctx.Channel,
				"envelope_id": ctx.EnvelopeID,
				"error":       err.Error(),
			})
		},
	}
}

// MetricsHooks returns pre-built hooks that feed external counters.
func MetricsHooks(onDelivered, onVetoed func(lane Lane, channel string), onShed func(lane Lane, count int), onFault func(lane Lane, channel string)) DispatchHooks {
	return DispatchHooks{
		OnDelivered: func(ctx DispatchContext) {
			if onDelivered != nil {
				onDelivered(ctx.Lane, ctx.Channel)
			}
		},
		OnVetoed: func(ctx DispatchContext) {
			if onVetoed != nil {
				onVetoed(ctx.Lane, ctx.Channel)
			}
		},
		OnShed: func(ctx DispatchContext) {
			if onShed != nil {
				onShed(ctx.Lane, ctx.Shed)
			}
		},
		OnHandlerFault: func(ctx DispatchContext, err error) {
			if onFault != nil {
				onFault(ctx.Lane, ctx.Channel)
			}
		},
	}
}

// AlertingHooks returns pre-built hooks that trigger alerts on handler faults.
func AlertingHooks(alertFunc func(ctx DispatchContext, err error)) DispatchHooks {
	return DispatchHooks{
		OnHandlerFault: alertFunc,
	}
}
