package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/synapse/internal/runtime/config"
	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

// BusDependencies holds the optional collaborators a Bus can use.
// Leave fields nil to skip the related behaviour.
type BusDependencies struct {
	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	Hooks                     DispatchHooks
	// Metrics overrides the collectors built when Config.MetricsEnabled is set.
	Metrics *BusMetrics
	// Registerer receives the collectors built for Config.MetricsEnabled.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer      prometheus.Registerer
	FaultClassifier FaultClassifier
}

// Bus is an in-process event bus with five priority lanes, a middleware
// pipeline and pressure-driven shedding. Create one with NewBus; the zero
// value is not usable.
type Bus struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	lanes    map[Lane]*laneQueue
	registry *channelRegistry
	pipeline pipeline
	pressure PressureGauge
	policy   ShedPolicy

	hooks           DispatchHooks
	metrics         *BusMetrics
	faultClassifier FaultClassifier
	stats           *dispatchStats
	resourceTracker *resourceTracker

	tickMu     sync.Mutex
	ticks      atomic.Uint64
	lastReport atomic.Pointer[TickReport]

	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once

	webUIOnce sync.Once
	webUI     *webUI

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
	running       []*http.Server
}

// NewBus constructs a Bus and panics when the configuration is invalid.
// Register handlers on the returned Bus before calling Start.
func NewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) *Bus {
	b, err := TryNewBus(conf, log, deps)
	if err != nil {
		panic(err)
	}
	return b
}

// TryNewBus is NewBus returning construction errors instead of panicking.
func TryNewBus(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps BusDependencies) (*Bus, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	effective := conf.WithDefaults()
	if err := configpkg.ValidateConfig(&effective); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating event bus", loggingpkg.LogFields{"config": effective})

	b := &Bus{
		Conf:            &effective,
		Logger:          log,
		lanes:           make(map[Lane]*laneQueue, len(Lanes)),
		registry:        newChannelRegistry(),
		policy:          NewShedPolicy(effective),
		hooks:           deps.Hooks,
		faultClassifier: deps.FaultClassifier,
		stats:           newDispatchStats(),
		resourceTracker: newResourceTracker(),
		done:            make(chan struct{}),
	}
	for _, lane := range Lanes {
		b.lanes[lane] = newLaneQueue(lane)
	}
	if b.faultClassifier == nil {
		b.faultClassifier = defaultFaultClassifier
	}

	if err := b.configureMetrics(deps); err != nil {
		return nil, err
	}
	b.SetPressure(effective.InitialPressure)

	if err := b.registerConfiguredMiddlewares(deps); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *Bus) configureMetrics(deps BusDependencies) error {
	b.metrics = deps.Metrics
	if b.metrics == nil && b.Conf.MetricsEnabled {
		b.metrics = NewBusMetrics(deps.Registerer)
	}
	if b.metrics == nil {
		return nil
	}
	if err := b.metrics.Register(); err != nil {
		return fmt.Errorf("register bus metrics: %w", err)
	}
	if b.Conf.MetricsEnabled && b.Conf.MetricsPort > 0 {
		gatherer := prometheus.DefaultGatherer
		if g, ok := b.metrics.registerer.(prometheus.Gatherer); ok {
			gatherer = g
		}
		b.RegisterHTTPHandler(b.Conf.MetricsPort, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return nil
}

func (b *Bus) registerConfiguredMiddlewares(deps BusDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := b.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("failed to register middleware %s: %w", name, err)
		}
	}
	return nil
}

// PublishOption customises a single Publish call.
type PublishOption func(*publishOptions)

type publishOptions struct {
	batch bool
}

// WithBatchLane places the envelope on the batch lane. The priority argument
// is ignored when set.
func WithBatchLane() PublishOption {
	return func(o *publishOptions) { o.batch = true }
}

// Publish enqueues env and returns immediately. A non-empty channel overrides
// the envelope's own routing; identity is unchanged. Errors are only returned
// for unusable input or a closed bus.
func (b *Bus) Publish(channel string, env *Envelope, p Priority, opts ...PublishOption) error {
	if env == nil {
		return errspkg.ErrEnvelopeRequired
	}
	if env.eventType == "" {
		return errspkg.ErrEventTypeRequired
	}

	var o publishOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	lane := LaneBatch
	if !o.batch {
		if !p.Valid() {
			return fmt.Errorf("%w: %d", errspkg.ErrInvalidPriority, int(p))
		}
		lane = p.Lane()
	}

	if b.closed.Load() {
		return errspkg.ErrBusClosed
	}

	if channel != "" && channel != env.Channel() {
		env = env.routedTo(channel)
	}

	depth, ok := b.lanes[lane].push(env)
	if !ok {
		return errspkg.ErrBusClosed
	}
	b.metrics.recordPublished(lane, depth)
	return nil
}

// Subscribe registers h for envelopes routed to channel.
func (b *Bus) Subscribe(channel string, h Handler) (SubscriptionToken, error) {
	if channel == "" {
		return SubscriptionToken{}, errspkg.ErrChannelRequired
	}
	if h == nil {
		return SubscriptionToken{}, errspkg.ErrHandlerRequired
	}

	token := b.registry.subscribe(channel, h)
	b.Logger.Debug("Handler subscribed", loggingpkg.LogFields{
		"channel":      channel,
		"subscription": token.id,
	})
	return token, nil
}

// SubscribeFunc is Subscribe for plain functions. Go func values have no
// identity, so every call adds a new registration even for the same fn; keep
// the token to remove it. Use a pointer Handler for idempotent registration.
func (b *Bus) SubscribeFunc(channel string, fn func(ctx context.Context, env *Envelope) error) (SubscriptionToken, error) {
	if fn == nil {
		return SubscriptionToken{}, errspkg.ErrHandlerRequired
	}
	return b.Subscribe(channel, HandlerFunc(fn))
}

// Unsubscribe removes the registration identified by token and reports
// whether it existed.
func (b *Bus) Unsubscribe(token SubscriptionToken) bool {
	if token.IsZero() {
		return false
	}
	removed := b.registry.unsubscribe(token)
	if removed {
		b.Logger.Debug("Handler unsubscribed", loggingpkg.LogFields{
			"channel":      token.channel,
			"subscription": token.id,
		})
	}
	return removed
}

// SetPressure stores v clamped to [0,100] and returns the stored value. The
// next tick picks it up.
func (b *Bus) SetPressure(v int) int {
	p := b.pressure.Set(v)
	b.metrics.setPressure(p)
	return p
}

// Pressure returns the current gauge value.
func (b *Bus) Pressure() int {
	return b.pressure.Load()
}

// Depth returns the number of envelopes waiting on lane.
func (b *Bus) Depth(lane Lane) int {
	q, ok := b.lanes[lane]
	if !ok {
		return 0
	}
	return q.len()
}

// Start runs the optional HTTP surfaces and the pressure sampler, then the
// scheduler loop until ctx is done or the bus is closed.
func (b *Bus) Start(ctx context.Context) error {
	if b.closed.Load() {
		return errspkg.ErrBusClosed
	}

	b.StartWebUIServer()
	b.startHTTPServers()
	if b.Conf.PressureSampleInterval > 0 {
		go b.samplePressure(ctx, b.Conf.PressureSampleInterval)
	}
	return b.Run(ctx)
}

// Run ticks every Conf.TickInterval until ctx is done or the bus is closed.
func (b *Bus) Run(ctx context.Context) error {
	if b.closed.Load() {
		return errspkg.ErrBusClosed
	}

	b.Logger.Info("Event bus running", loggingpkg.LogFields{"tick_interval": b.Conf.TickInterval.String()})

	ticker := time.NewTicker(b.Conf.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Logger.Info("Event bus stopped", loggingpkg.LogFields{"reason": ctx.Err().Error()})
			return nil
		case <-b.done:
			return nil
		case <-ticker.C:
			b.Tick(ctx)
		}
	}
}

// Close stops the scheduler loop, discards every queued envelope and shuts the
// HTTP surfaces down. Publishing afterwards fails with ErrBusClosed.
func (b *Bus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)

		// Envelopes an in-flight tick already popped still finish their dispatch.
		discarded := make(loggingpkg.LogFields, len(Lanes))
		for _, lane := range Lanes {
			discarded[string(lane)] = b.lanes[lane].close()
			b.metrics.setLaneDepth(lane, 0)
		}

		if b.webUI != nil {
			err = errors.Join(err, b.webUI.close())
		}
		err = errors.Join(err, b.stopHTTPServers())

		b.Logger.Info("Event bus closed", loggingpkg.LogFields{"discarded": discarded})
	})
	return err
}

// Closed reports whether Close was called.
func (b *Bus) Closed() bool {
	return b.closed.Load()
}

// Stats returns a snapshot of lane counters, dispatch latency and faults.
func (b *Bus) Stats() BusStats {
	latency, throughput, faults := b.stats.snapshot()

	stats := BusStats{
		Pressure:    b.Pressure(),
		Ticks:       b.ticks.Load(),
		Closed:      b.Closed(),
		Lanes:       make(map[Lane]LaneStats, len(Lanes)),
		Channels:    b.registry.counts(),
		Middlewares: b.Middlewares(),
		Latency:     latency,
		Throughput:  throughput,
		Faults:      faults,
		Resource:    b.resourceTracker.Snapshot(),
		LastTick:    b.lastReport.Load(),
		CollectedAt: time.Now().UTC(),
	}
	for _, lane := range Lanes {
		q := b.lanes[lane]
		stats.Lanes[lane] = LaneStats{
			Depth:      q.len(),
			Published:  q.published.Load(),
			Dispatched: q.dispatched.Load(),
			Delivered:  q.delivered.Load(),
			Vetoed:     q.vetoed.Load(),
			Shed:       q.shed.Load(),
		}
	}
	return stats
}

// RegisterHTTPHandler mounts handler on the server Start runs for port.
func (b *Bus) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	if b.httpServers == nil {
		b.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := b.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		b.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (b *Bus) startHTTPServers() {
	b.httpServersMu.Lock()
	defer b.httpServersMu.Unlock()

	for port, mux := range b.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		b.running = append(b.running, srv)
		b.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}
}

func (b *Bus) stopHTTPServers() error {
	b.httpServersMu.Lock()
	servers := b.running
	b.running = nil
	b.httpServersMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
		}
	}
	return errors.Join(errs...)
}
