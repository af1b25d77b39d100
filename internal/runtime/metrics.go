package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BusMetrics exports bus activity as Prometheus collectors. Every method is a
// no-op on a nil receiver, so a bus without metrics can call them freely.
type BusMetrics struct {
	mu sync.Mutex

	publishedTotal    *prometheus.CounterVec
	deliveredTotal    *prometheus.CounterVec
	vetoedTotal       *prometheus.CounterVec
	shedTotal         *prometheus.CounterVec
	handlerFaultTotal *prometheus.CounterVec
	laneDepth         *prometheus.GaugeVec
	pressure          prometheus.Gauge
	tickSeconds       prometheus.Histogram
	dispatchSeconds   *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// newBusCounterVec creates a new counter vec with the standard synapse/bus namespace.
func newBusCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synapse",
			Subsystem: "bus",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewBusMetrics creates the collectors. Register attaches them to registerer,
// which defaults to prometheus.DefaultRegisterer.
func NewBusMetrics(registerer prometheus.Registerer) *BusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &BusMetrics{
		registerer:        registerer,
		publishedTotal:    newBusCounterVec("published_total", "Envelopes enqueued per lane", []string{"lane"}),
		deliveredTotal:    newBusCounterVec("delivered_total", "Envelopes that passed the pipeline and reached their handlers", []string{"lane"}),
		vetoedTotal:       newBusCounterVec("vetoed_total", "Envelopes stopped by a middleware", []string{"lane", "middleware"}),
		shedTotal:         newBusCounterVec("shed_total", "Envelopes discarded under pressure", []string{"lane"}),
		handlerFaultTotal: newBusCounterVec("handler_faults_total", "Handler invocations that returned an error or panicked", []string{"lane", "category"}),
		laneDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "synapse",
				Subsystem: "bus",
				Name:      "lane_depth",
				Help:      "Envelopes waiting per lane",
			},
			[]string{"lane"},
		),
		pressure: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "synapse",
			Subsystem: "bus",
			Name:      "pressure",
			Help:      "Current value of the pressure gauge (0-100)",
		}),
		tickSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "synapse",
			Subsystem: "bus",
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one scheduler tick",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .5, 1},
		}),
		dispatchSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "synapse",
			Subsystem: "bus",
			Name:      "dispatch_duration_seconds",
			Help:      "Pipeline plus handler time per delivered envelope",
			Buckets:   prometheus.DefBuckets,
		}, []string{"lane"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BusMetrics) Register() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.publishedTotal,
		m.deliveredTotal,
		m.vetoedTotal,
		m.shedTotal,
		m.handlerFaultTotal,
		m.laneDepth,
		m.pressure,
		m.tickSeconds,
		m.dispatchSeconds,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			// Check if it's already registered (not an error)
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *BusMetrics) recordPublished(lane Lane, depth int) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(string(lane)).Inc()
	m.laneDepth.WithLabelValues(string(lane)).Set(float64(depth))
}

func (m *BusMetrics) recordDelivered(lane Lane, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveredTotal.WithLabelValues(string(lane)).Inc()
	m.dispatchSeconds.WithLabelValues(string(lane)).Observe(d.Seconds())
}

func (m *BusMetrics) recordVetoed(lane Lane, middleware string) {
	if m == nil {
		return
	}
	m.vetoedTotal.WithLabelValues(string(lane), middleware).Inc()
}

func (m *BusMetrics) recordShed(lane Lane, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.shedTotal.WithLabelValues(string(lane)).Add(float64(count))
}

func (m *BusMetrics) recordHandlerFault(lane Lane, category FaultCategory) {
	if m == nil {
		return
	}
	m.handlerFaultTotal.WithLabelValues(string(lane), string(category)).Inc()
}

func (m *BusMetrics) setLaneDepth(lane Lane, depth int) {
	if m == nil {
		return
	}
	m.laneDepth.WithLabelValues(string(lane)).Set(float64(depth))
}

func (m *BusMetrics) setPressure(p int) {
	if m == nil {
		return
	}
	m.pressure.Set(float64(p))
}

func (m *BusMetrics) observeTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickSeconds.Observe(d.Seconds())
}

// Reset clears every series (useful for testing).
func (m *BusMetrics) Reset() {
	if m == nil {
		return
	}
	m.publishedTotal.Reset()
	m.deliveredTotal.Reset()
	m.vetoedTotal.Reset()
	m.shedTotal.Reset()
	m.handlerFaultTotal.Reset()
	m.laneDepth.Reset()
	m.pressure.Set(0)
	m.dispatchSeconds.Reset()
}
