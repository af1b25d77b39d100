// Package synapse is an in-process event bus that prioritises delivery and
// sheds low-value traffic when the process is under pressure.
//
// Producers publish immutable envelopes onto one of five FIFO lanes: batch,
// critical, high, normal and low. A scheduler ticks every Config.TickInterval
// and drains the lanes in that order. The batch lane is dispatched in parallel
// chunks, critical is always drained completely, high has a fixed budget, and
// normal and low give up their budget and shed envelopes from the front once
// the pressure gauge crosses their thresholds.
//
// Every envelope passes the middleware chain before it reaches the handlers
// subscribed to its channel. A middleware that does not call next vetoes the
// envelope. Handlers are isolated from each other: an error or panic in one is
// counted as a fault and the rest still run.
//
// A minimal setup fills Config, creates a Bus, subscribes handlers and calls
// Start:
//
//	bus := synapse.NewBus(&synapse.Config{}, logger, synapse.BusDependencies{})
//	_, _ = bus.SubscribeFunc("orders.created", handle)
//	_ = bus.Start(ctx)
//	_ = bus.Publish("", env, synapse.PriorityHigh)
//
// # Pressure
//
// The gauge is an integer between 0 and 100. Callers set it with SetPressure,
// or the bus samples CPU and goroutine usage when Config.PressureSampleInterval
// is set.
//
// # Observability
//
// BusMetrics exports Prometheus counters and gauges per lane, TracerMiddleware
// opens an OpenTelemetry span per dispatch, and the optional web UI serves bus
// stats and a live websocket feed of selected channels.
//
// # Watermill
//
// WatermillPublisher lets Watermill publishers feed the lanes, Ingest drains a
// Watermill subscriber into the bus, and ForwardHandler republishes delivered
// envelopes to any Watermill publisher.
package synapse
