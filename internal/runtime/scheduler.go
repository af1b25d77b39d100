package runtime

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

// LaneReport is what one tick did to one lane.
type LaneReport struct {
	Dispatched int `json:"dispatched"`
	Delivered  int `json:"delivered"`
	Vetoed     int `json:"vetoed"`
	Shed       int `json:"shed"`
	Remaining  int `json:"remaining"`
}

// TickReport summarises one scheduler tick.
type TickReport struct {
	Tick      uint64              `json:"tick"`
	Pressure  int                 `json:"pressure"`
	Lanes     map[Lane]LaneReport `json:"lanes"`
	StartedAt time.Time           `json:"started_at"`
	Duration  time.Duration       `json:"duration_ns"`
}

// Delivered sums deliveries across lanes.
func (r TickReport) Delivered() int {
	total := 0
	for _, lr := range r.Lanes {
		total += lr.Delivered
	}
	return total
}

// Shed sums discarded envelopes across lanes.
func (r TickReport) Shed() int {
	total := 0
	for _, lr := range r.Lanes {
		total += lr.Shed
	}
	return total
}

// Tick runs one scheduling pass synchronously: batch, critical, high, normal,
// low. Pressure is read once, before the normal lane. Concurrent calls are
// serialised.
func (b *Bus) Tick(ctx context.Context) TickReport {
	b.tickMu.Lock()
	defer b.tickMu.Unlock()

	start := time.Now()
	report := TickReport{
		Tick:      b.ticks.Add(1),
		StartedAt: start.UTC(),
		Lanes:     make(map[Lane]LaneReport, len(Lanes)),
	}
	// pressure stays zero in the frame until the normal stage reads it.
	frame := tickFrame{tick: report.Tick}

	report.Lanes[LaneBatch] = b.drainBatch(ctx, frame)
	report.Lanes[LaneCritical] = b.drainSequential(ctx, LaneCritical, -1, frame)
	report.Lanes[LaneHigh] = b.drainSequential(ctx, LaneHigh, b.Conf.HighBudget, frame)

	frame.pressure = b.pressure.Load()
	report.Pressure = frame.pressure
	report.Lanes[LaneNormal] = b.drainShedding(ctx, LaneNormal, b.policy.NormalBudgetAt(frame.pressure), b.policy.NormalChunk, frame)
	report.Lanes[LaneLow] = b.drainShedding(ctx, LaneLow, b.policy.LowBudgetAt(frame.pressure), b.policy.LowChunk, frame)

	for _, lane := range Lanes {
		lr := report.Lanes[lane]
		lr.Remaining = b.lanes[lane].len()
		report.Lanes[lane] = lr
		b.metrics.setLaneDepth(lane, lr.Remaining)
	}

	report.Duration = time.Since(start)
	b.metrics.observeTick(report.Duration)
	b.lastReport.Store(&report)

	if report.Delivered() > 0 || report.Shed() > 0 {
		b.Logger.Trace("Tick completed", loggingpkg.LogFields{
			"tick":        report.Tick,
			"pressure":    report.Pressure,
			"delivered":   report.Delivered(),
			"shed":        report.Shed(),
			"duration_us": report.Duration.Microseconds(),
		})
	}
	return report
}

type tickFrame struct {
	tick     uint64
	pressure int
}

type dispatchOutcome int

const (
	outcomeDelivered dispatchOutcome = iota + 1
	outcomeVetoed
)

// drainBatch dispatches up to BatchSize envelopes concurrently and waits for all.
func (b *Bus) drainBatch(ctx context.Context, frame tickFrame) LaneReport {
	envs := b.lanes[LaneBatch].popN(b.Conf.BatchSize)
	if len(envs) == 0 {
		return LaneReport{}
	}

	outcomes := make([]dispatchOutcome, len(envs))
	var g errgroup.Group
	if b.Conf.BatchConcurrency > 0 {
		g.SetLimit(b.Conf.BatchConcurrency)
	}
	for i, env := range envs {
		g.Go(func() error {
			outcomes[i] = b.dispatch(ctx, LaneBatch, env, frame)
			return nil
		})
	}
	_ = g.Wait()

	return tally(outcomes)
}

// drainSequential dispatches up to budget envelopes in FIFO order. A negative
// budget takes everything present when the stage starts.
func (b *Bus) drainSequential(ctx context.Context, lane Lane, budget int, frame tickFrame) LaneReport {
	if budget == 0 {
		return LaneReport{}
	}
	envs := b.lanes[lane].popN(budget)
	outcomes := make([]dispatchOutcome, len(envs))
	for i, env := range envs {
		outcomes[i] = b.dispatch(ctx, lane, env, frame)
	}
	return tally(outcomes)
}

// drainShedding drains like drainSequential while the budget is positive and
// otherwise discards up to chunk envelopes from the front of the lane.
func (b *Bus) drainShedding(ctx context.Context, lane Lane, budget, chunk int, frame tickFrame) LaneReport {
	if budget > 0 {
		return b.drainSequential(ctx, lane, budget, frame)
	}

	q := b.lanes[lane]
	shed := q.discardN(chunk)
	if shed == 0 {
		return LaneReport{}
	}

	q.shed.Add(uint64(shed))
	b.metrics.recordShed(lane, shed)
	b.Logger.Warn("Shedding envelopes under pressure", loggingpkg.LogFields{
		"lane":      lane,
		"count":     shed,
		"pressure":  frame.pressure,
		"remaining": q.len(),
	})
	b.hooks.shed(DispatchContext{
		Tick:      frame.tick,
		Lane:      lane,
		Pressure:  frame.pressure,
		Context:   ctx,
		StartedAt: time.Now(),
		Shed:      shed,
	})
	return LaneReport{Shed: shed}
}

func tally(outcomes []dispatchOutcome) LaneReport {
	report := LaneReport{Dispatched: len(outcomes)}
	for _, o := range outcomes {
		switch o {
		case outcomeDelivered:
			report.Delivered++
		case outcomeVetoed:
			report.Vetoed++
		}
	}
	return report
}

// dispatchState travels in the pipeline context so middleware can observe
// what happened downstream once next returns.
type dispatchState struct {
	delivered atomic.Bool
	faults    atomic.Int64
}

type dispatchStateKey struct{}

func dispatchStateFrom(ctx context.Context) *dispatchState {
	state, _ := ctx.Value(dispatchStateKey{}).(*dispatchState)
	return state
}

// dispatch runs env through the pipeline and, if it survives, every handler
// on its channel.
func (b *Bus) dispatch(ctx context.Context, lane Lane, env *Envelope, frame tickFrame) dispatchOutcome {
	q := b.lanes[lane]
	q.dispatched.Add(1)

	state := &dispatchState{}
	dc := DispatchContext{
		Tick:       frame.tick,
		Lane:       lane,
		Pressure:   frame.pressure,
		EnvelopeID: env.ID(),
		EventType:  env.EventType(),
		Channel:    env.Channel(),
		Source:     env.Source(),
		StartedAt:  time.Now(),
	}

	v := b.pipeline.run(context.WithValue(ctx, dispatchStateKey{}, state), env, func(ctx context.Context) {
		dc.Context = ctx
		dc.Handlers = b.deliver(ctx, env, dc, state)
		state.delivered.Store(true)
	})
	dc.Duration = time.Since(dc.StartedAt)

	if v.err != nil {
		b.Logger.Error("Middleware panicked", v.err, loggingpkg.LogFields{
			"lane":        lane,
			"envelope_id": env.ID(),
			"channel":     env.Channel(),
		})
	}

	if !v.passed {
		if dc.Context == nil {
			dc.Context = ctx
		}
		dc.VetoedBy = v.vetoedBy
		q.vetoed.Add(1)
		b.metrics.recordVetoed(lane, v.vetoedBy)
		b.Logger.Debug("Envelope vetoed", loggingpkg.LogFields{
			"lane":        lane,
			"envelope_id": env.ID(),
			"event_type":  env.EventType(),
			"channel":     env.Channel(),
			"vetoed_by":   v.vetoedBy,
		})
		b.hooks.vetoed(dc)
		return outcomeVetoed
	}

	q.delivered.Add(1)
	b.stats.onDelivered(dc.Duration)
	b.metrics.recordDelivered(lane, dc.Duration)
	b.hooks.delivered(dc)
	return outcomeDelivered
}

// deliver invokes every handler on the envelope's channel in registration
// order. Faults are recorded and never stop the remaining handlers.
func (b *Bus) deliver(ctx context.Context, env *Envelope, dc DispatchContext, state *dispatchState) int {
	subs := b.registry.handlers(env.Channel())
	for _, sub := range subs {
		if err := invokeHandler(ctx, sub.handler, env); err != nil {
			state.faults.Add(1)
			b.recordHandlerFault(dc, sub.id, err)
		}
	}
	return len(subs)
}

func (b *Bus) recordHandlerFault(dc DispatchContext, subscription uint64, err error) {
	category := b.faultClassifier(err)
	b.stats.onFault(category, err)
	b.metrics.recordHandlerFault(dc.Lane, category)
	b.Logger.Error("Handler failed", err, loggingpkg.LogFields{
		"lane":         dc.Lane,
		"channel":      dc.Channel,
		"envelope_id":  dc.EnvelopeID,
		"event_type":   dc.EventType,
		"subscription": subscription,
		"category":     category,
	})
	b.hooks.handlerFault(dc, err)
}

func invokeHandler(ctx context.Context, h Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &errspkg.HandlerPanicError{Stage: "handler", Value: r}
		}
	}()
	return h.Handle(ctx, env)
}
