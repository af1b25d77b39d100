package runtime

import (
	"context"
	"math"
	"runtime"
	"runtime/metrics"
	"sync"
	"time"

	loggingpkg "github.com/drblury/synapse/internal/runtime/logging"
)

const (
	metricCPUSeconds = "/sched/cpu:seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
)

// resourceTracker reads process load through runtime/metrics, which unlike
// runtime.ReadMemStats does not stop the world, so the sampler can run often.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	cores   float64

	prevCPU  float64
	prevWall time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{
			{Name: metricCPUSeconds},
			{Name: metricHeapBytes},
			{Name: metricGoroutines},
		},
		cores: float64(runtime.GOMAXPROCS(0)),
	}
}

// Snapshot reports current usage. CPUPercent is the share of GOMAXPROCS used
// since the previous call and is zero on the first one.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()

	usage := ResourceUsage{
		MemoryBytes: sampleUint(r.samples[1]),
		Goroutines:  int(sampleUint(r.samples[2])),
	}
	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}

	if r.samples[0].Value.Kind() != metrics.KindFloat64 {
		return usage
	}
	cpu := r.samples[0].Value.Float64()
	if wall := now.Sub(r.prevWall).Seconds(); !r.prevWall.IsZero() && wall > 0 && r.cores > 0 {
		usage.CPUPercent = (cpu - r.prevCPU) / wall / r.cores * 100
	}
	r.prevCPU, r.prevWall = cpu, now
	return usage
}

func sampleUint(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

// pressureFromUsage maps usage to the gauge: whichever of CPU share and
// goroutine count relative to ceiling is higher.
func pressureFromUsage(usage ResourceUsage, goroutineCeiling int) int {
	load := usage.CPUPercent
	if goroutineCeiling > 0 {
		load = math.Max(load, float64(usage.Goroutines)/float64(goroutineCeiling)*100)
	}
	return ClampPressure(int(math.Round(load)))
}

// samplePressure writes the gauge from process load every interval until ctx
// is done or the bus closes.
func (b *Bus) samplePressure(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.done:
			return
		case <-ticker.C:
			usage := b.resourceTracker.Snapshot()
			p := b.SetPressure(pressureFromUsage(usage, b.Conf.PressureGoroutineCeiling))
			b.Logger.Trace("Pressure sampled", loggingpkg.LogFields{
				"pressure":    p,
				"cpu_percent": usage.CPUPercent,
				"goroutines":  usage.Goroutines,
			})
		}
	}
}
