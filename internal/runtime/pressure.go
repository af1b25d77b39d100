package runtime

import (
	"sync/atomic"

	configpkg "github.com/drblury/synapse/internal/runtime/config"
)

// PressureGauge holds the advisory load signal in [0,100]. Writes are
// last-write-wins; the scheduler reads it once per tick.
type PressureGauge struct {
	value atomic.Int32
}

// Set clamps v into range, stores it and returns the stored value.
func (g *PressureGauge) Set(v int) int {
	clamped := ClampPressure(v)
	g.value.Store(int32(clamped))
	return clamped
}

// Load returns the current pressure.
func (g *PressureGauge) Load() int {
	return int(g.value.Load())
}

// ClampPressure bounds v to [0,100].
func ClampPressure(v int) int {
	switch {
	case v < 0:
		return 0
	case v > configpkg.MaxPressure:
		return configpkg.MaxPressure
	default:
		return v
	}
}
