package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	errspkg "github.com/drblury/synapse/internal/runtime/errors"
	handlerpkg "github.com/drblury/synapse/internal/runtime/handlers"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// BusStats is a point-in-time view of a bus.
type BusStats struct {
	Pressure    int                `json:"pressure"`
	Ticks       uint64             `json:"ticks"`
	Closed      bool               `json:"closed"`
	Lanes       map[Lane]LaneStats `json:"lanes"`
	Channels    map[string]int     `json:"channels"`
	Middlewares []string           `json:"middlewares"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Faults     FaultBreakdown    `json:"faults"`
	Resource   ResourceUsage     `json:"resource"`

	LastTick    *TickReport `json:"last_tick,omitempty"`
	CollectedAt time.Time   `json:"collected_at"`
}

// LaneStats holds cumulative counters for one lane.
type LaneStats struct {
	Depth      int    `json:"depth"`
	Published  uint64 `json:"published"`
	Dispatched uint64 `json:"dispatched"`
	Delivered  uint64 `json:"delivered"`
	Vetoed     uint64 `json:"vetoed"`
	Shed       uint64 `json:"shed"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS        float64 `json:"current_rps"`
	WindowSeconds     float64 `json:"window_seconds"`
	DeliveredInWindow uint64  `json:"delivered_in_window"`
	TotalDelivered    uint64  `json:"total_delivered"`
}

// FaultBreakdown counts handler faults per category.
type FaultBreakdown struct {
	Validation uint64 `json:"validation"`
	Panic      uint64 `json:"panic"`
	Canceled   uint64 `json:"canceled"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type FaultCategory string

const (
	FaultCategoryNone       FaultCategory = "none"
	FaultCategoryValidation FaultCategory = "validation"
	FaultCategoryPanic      FaultCategory = "panic"
	FaultCategoryCanceled   FaultCategory = "canceled"
	FaultCategoryOther      FaultCategory = "other"
)

// FaultClassifier maps a handler error onto a FaultCategory for stats and metrics.
type FaultClassifier func(error) FaultCategory

func defaultFaultClassifier(err error) FaultCategory {
	if err == nil {
		return FaultCategoryNone
	}
	var panicErr *errspkg.HandlerPanicError
	if errors.As(err, &panicErr) {
		return FaultCategoryPanic
	}
	var decodeErr *handlerpkg.DecodeError
	if errors.As(err, &decodeErr) {
		return FaultCategoryValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FaultCategoryCanceled
	}
	return FaultCategoryOther
}

func (f *FaultBreakdown) Record(category FaultCategory, err error) {
	switch category {
	case FaultCategoryNone:
		if err == nil {
			return
		}
		f.Other++
	case FaultCategoryValidation:
		f.Validation++
	case FaultCategoryPanic:
		f.Panic++
	case FaultCategoryCanceled:
		f.Canceled++
	default:
		f.Other++
	}
	if err != nil {
		f.LastError = err.Error()
	}
}

// dispatchStats aggregates latency, throughput and faults across lanes.
type dispatchStats struct {
	mu sync.Mutex

	delivered         uint64
	totalDispatchTime int64

	latency    LatencyMetrics
	throughput ThroughputMetrics
	faults     FaultBreakdown

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

func newDispatchStats() *dispatchStats {
	return &dispatchStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *dispatchStats) onDelivered(duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delivered++
	s.totalDispatchTime += int64(duration)

	s.latencyWindow.Add(duration)
	snapshot := s.latencyWindow.Snapshot()
	snapshot.LastNs = int64(duration)
	snapshot.AverageNs = s.totalDispatchTime / int64(s.delivered)
	s.latency = snapshot

	tp := s.throughputWindow.AddAndSnapshot(time.Now())
	s.throughput = ThroughputMetrics{
		CurrentRPS:        tp.CurrentRPS,
		WindowSeconds:     tp.WindowSeconds,
		DeliveredInWindow: uint64(tp.Count),
		TotalDelivered:    s.delivered,
	}
}

func (s *dispatchStats) onFault(category FaultCategory, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults.Record(category, err)
}

func (s *dispatchStats) snapshot() (LatencyMetrics, ThroughputMetrics, FaultBreakdown) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latency, s.throughput, s.faults
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	if lw == nil || len(lw.samples) == 0 {
		return
	}
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	var metrics LatencyMetrics
	if lw == nil {
		return metrics
	}
	if lw.filled == 0 {
		metrics.LastNs = lw.last
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	metrics.LastNs = lw.last
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	if tw == nil {
		return throughputSnapshot{}
	}
	tw.samples = append(tw.samples, now)
	tw.cleanup(now)
	return tw.snapshot(now)
}

func (tw *throughputWindow) cleanup(now time.Time) {
	if tw == nil || len(tw.samples) == 0 {
		return
	}
	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		copy(tw.samples, tw.samples[idx:])
		tw.samples = tw.samples[:len(tw.samples)-idx]
	}
}

func (tw *throughputWindow) snapshot(now time.Time) throughputSnapshot {
	if tw == nil || len(tw.samples) == 0 {
		return throughputSnapshot{}
	}
	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
