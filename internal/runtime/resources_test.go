package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/synapse/internal/runtime/config"
)

func TestResourceTrackerSnapshot(t *testing.T) {
	tracker := newResourceTracker()

	first := tracker.Snapshot()
	assert.Positive(t, first.Goroutines)
	assert.Positive(t, first.MemoryBytes)
	assert.Zero(t, first.CPUPercent, "no delta on the first sample")

	second := tracker.Snapshot()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)

	var nilTracker *resourceTracker
	assert.Equal(t, ResourceUsage{}, nilTracker.Snapshot())
}

func TestPressureFromUsage(t *testing.T) {
	tests := []struct {
		name    string
		usage   ResourceUsage
		ceiling int
		want    int
	}{
		{"idle", ResourceUsage{}, 100, 0},
		{"cpu dominates", ResourceUsage{CPUPercent: 62.4, Goroutines: 10}, 100, 62},
		{"goroutines dominate", ResourceUsage{CPUPercent: 5, Goroutines: 75}, 100, 75},
		{"clamped", ResourceUsage{CPUPercent: 340}, 100, 100},
		{"no ceiling", ResourceUsage{CPUPercent: 12, Goroutines: 1_000_000}, 0, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pressureFromUsage(tt.usage, tt.ceiling))
		})
	}
}

func TestSamplePressureWritesGauge(t *testing.T) {
	// A ceiling of one goroutine saturates the gauge as soon as a sample runs.
	b := newTestBus(t, BusDependencies{}, func(c *configpkg.Config) {
		c.PressureGoroutineCeiling = 1
	})
	require.Zero(t, b.Pressure())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.samplePressure(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return b.Pressure() == 100 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
