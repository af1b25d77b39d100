/*
Package runtime implements the in-process event bus behind synapse.

# Architecture Overview

A Bus owns five FIFO lanes (batch, critical, high, normal, low), a channel
registry of subscribed handlers, an ordered middleware pipeline and a pressure
gauge in [0,100]. Publish only enqueues; delivery happens on scheduler ticks.

# Package Structure

## Bus (bus.go)

The Bus struct wires together:
  - Lanes and the shed policy derived from config
  - Channel registry and subscription tokens
  - Middleware pipeline
  - Dispatch hooks, stats and Prometheus collectors
  - HTTP servers for metrics and the WebUI

## Scheduler (scheduler.go)

Every tick runs the lanes in a fixed order:
  - batch: up to BatchSize envelopes dispatched concurrently, joined before moving on
  - critical: drained completely
  - high: HighBudget envelopes
  - normal: NormalBudget envelopes, or shed NormalShedChunk once pressure exceeds NormalShedThreshold
  - low: LowBudget envelopes, or shed LowShedChunk once pressure exceeds LowShedThreshold

Pressure is read once per tick, before the normal lane.

## Middleware (pipeline.go, middleware.go)

Middleware receives the envelope and a continuation. Not calling next vetoes
the envelope for every handler; a panicking middleware vetoes as well. Bundled
stages:
  - Tracer: OpenTelemetry span per dispatch
  - LogEnvelopes: trace-level envelope logging
  - Verification: rejects envelopes a Verifier refuses
  - Quarantine: rejects envelopes from quarantined sources (LRU or Redis backed)

## Handlers (registry.go, payload.go)

Handlers run sequentially in registration order. A failing or panicking
handler is recorded as a fault and never stops the others. JSON and protobuf
helpers compile typed handlers into plain Handlers.

## Stats & Monitoring (models.go, metrics.go, resources.go, hooks.go)

  - Per-lane published, dispatched, delivered, vetoed and shed counters
  - Dispatch latency percentiles and throughput
  - Handler fault categories
  - Optional resource sampler feeding the pressure gauge

## Bridges (watermill.go, webui.go)

WatermillPublisher and Bus.Ingest move Watermill messages into lanes and
ForwardHandler sends delivered envelopes back out. The WebUI exposes stats,
pressure control and a websocket tap.

# Sub-packages

  - config/: Bus configuration with validation
  - errors/: Sentinel errors and error types
  - handlers/: Typed handler contexts and payload decoding
  - ids/: ULID generation for envelope IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Envelope metadata utilities
*/
package runtime
