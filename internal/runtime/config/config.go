package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Reference scheduling policy. Zero-valued Config fields fall back to these.
const (
	DefaultTickInterval        = 10 * time.Millisecond
	DefaultBatchSize           = 100
	DefaultHighBudget          = 50
	DefaultNormalBudget        = 20
	DefaultLowBudget           = 5
	DefaultNormalShedThreshold = 70
	DefaultLowShedThreshold    = 40
	DefaultNormalShedChunk     = 10
	DefaultLowShedChunk        = 5
	DefaultWebUIPort           = 8081
	DefaultGoroutineCeiling    = 10000

	// MaxPressure is the upper bound of the pressure gauge.
	MaxPressure = 100
)

// Config groups the scheduling policy and the optional observability surfaces
// of a Bus.
type Config struct {
	// TickInterval is the scheduler period.
	TickInterval time.Duration

	// BatchSize is how many envelopes leave the batch lane per tick.
	BatchSize int
	// BatchConcurrency caps the goroutines dispatching one batch chunk.
	// Zero means one goroutine per envelope in the chunk.
	BatchConcurrency int

	// Per-tick delivery budgets.
	HighBudget   int
	NormalBudget int
	LowBudget    int

	// Pressure above NormalShedThreshold zeroes the normal budget and sheds up
	// to NormalShedChunk envelopes per tick instead. Same for the low lane.
	NormalShedThreshold int
	LowShedThreshold    int
	NormalShedChunk     int
	LowShedChunk        int

	// InitialPressure seeds the gauge at construction.
	InitialPressure int

	// PressureSampleInterval enables the built-in resource sampler that writes
	// the gauge from CPU and goroutine load. Zero leaves pressure to callers.
	PressureSampleInterval time.Duration
	// PressureGoroutineCeiling is the goroutine count mapped to pressure 100.
	PressureGoroutineCeiling int

	// Metrics configuration.
	MetricsEnabled bool
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int

	// WebUI configuration.
	WebUIEnabled bool
	// WebUIPort is the port where the introspection API will be exposed. Defaults to 8081.
	WebUIPort int
	// WebUICORSAllowedOrigins specifies allowed origins for CORS. Use "*" for development
	// or specific origins like "https://example.com" for production. Empty disables CORS headers.
	WebUICORSAllowedOrigins []string
	// EventStreamChannels lists the channels mirrored to websocket clients of the WebUI.
	EventStreamChannels []string
}

// WithDefaults returns a copy with every zero-valued policy field replaced by
// its reference value.
func (c Config) WithDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.HighBudget <= 0 {
		c.HighBudget = DefaultHighBudget
	}
	if c.NormalBudget <= 0 {
		c.NormalBudget = DefaultNormalBudget
	}
	if c.LowBudget <= 0 {
		c.LowBudget = DefaultLowBudget
	}
	if c.NormalShedThreshold <= 0 {
		c.NormalShedThreshold = DefaultNormalShedThreshold
	}
	if c.LowShedThreshold <= 0 {
		c.LowShedThreshold = DefaultLowShedThreshold
	}
	if c.NormalShedChunk <= 0 {
		c.NormalShedChunk = DefaultNormalShedChunk
	}
	if c.LowShedChunk <= 0 {
		c.LowShedChunk = DefaultLowShedChunk
	}
	if c.PressureGoroutineCeiling <= 0 {
		c.PressureGoroutineCeiling = DefaultGoroutineCeiling
	}
	if c.WebUIPort == 0 {
		c.WebUIPort = DefaultWebUIPort
	}
	return c
}

func (c Config) String() string {
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(c))
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing every invalid field.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateScheduling()...)
	errs = append(errs, c.validatePressure()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateScheduling() []error {
	var errs []error
	if c.TickInterval < 0 {
		errs = append(errs, errors.New("scheduler: tick interval cannot be negative"))
	}
	counts := []struct {
		name  string
		value int
	}{
		{"batch size", c.BatchSize},
		{"batch concurrency", c.BatchConcurrency},
		{"high budget", c.HighBudget},
		{"normal budget", c.NormalBudget},
		{"low budget", c.LowBudget},
		{"normal shed chunk", c.NormalShedChunk},
		{"low shed chunk", c.LowShedChunk},
	}
	for _, cnt := range counts {
		if cnt.value < 0 {
			errs = append(errs, fmt.Errorf("scheduler: %s cannot be negative", cnt.name))
		}
	}
	return errs
}

func (c *Config) validatePressure() []error {
	var errs []error
	thresholds := []struct {
		name  string
		value int
	}{
		{"normal shed threshold", c.NormalShedThreshold},
		{"low shed threshold", c.LowShedThreshold},
		{"initial pressure", c.InitialPressure},
	}
	for _, th := range thresholds {
		if th.value < 0 || th.value > MaxPressure {
			errs = append(errs, fmt.Errorf("pressure: %s %d outside [0,%d]", th.name, th.value, MaxPressure))
		}
	}
	if c.PressureSampleInterval < 0 {
		errs = append(errs, errors.New("pressure: sample interval cannot be negative"))
	}
	if c.PressureGoroutineCeiling < 0 {
		errs = append(errs, errors.New("pressure: goroutine ceiling cannot be negative"))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.WebUIPort < 0 || c.WebUIPort > 65535 {
		errs = append(errs, fmt.Errorf("webui: invalid port %d", c.WebUIPort))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// FromEnv builds a Config from SYNAPSE_* environment variables. Unset
// variables keep their zero value, so WithDefaults still applies.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	var (
		c    Config
		errs []error
	)

	durations := map[string]*time.Duration{
		"SYNAPSE_TICK_INTERVAL":            &c.TickInterval,
		"SYNAPSE_PRESSURE_SAMPLE_INTERVAL": &c.PressureSampleInterval,
	}
	for key, dst := range durations {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = d
	}

	ints := map[string]*int{
		"SYNAPSE_BATCH_SIZE":                 &c.BatchSize,
		"SYNAPSE_BATCH_CONCURRENCY":          &c.BatchConcurrency,
		"SYNAPSE_HIGH_BUDGET":                &c.HighBudget,
		"SYNAPSE_NORMAL_BUDGET":              &c.NormalBudget,
		"SYNAPSE_LOW_BUDGET":                 &c.LowBudget,
		"SYNAPSE_NORMAL_SHED_THRESHOLD":      &c.NormalShedThreshold,
		"SYNAPSE_LOW_SHED_THRESHOLD":         &c.LowShedThreshold,
		"SYNAPSE_NORMAL_SHED_CHUNK":          &c.NormalShedChunk,
		"SYNAPSE_LOW_SHED_CHUNK":             &c.LowShedChunk,
		"SYNAPSE_INITIAL_PRESSURE":           &c.InitialPressure,
		"SYNAPSE_PRESSURE_GOROUTINE_CEILING": &c.PressureGoroutineCeiling,
		"SYNAPSE_METRICS_PORT":               &c.MetricsPort,
		"SYNAPSE_WEBUI_PORT":                 &c.WebUIPort,
	}
	for key, dst := range ints {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = n
	}

	bools := map[string]*bool{
		"SYNAPSE_METRICS_ENABLED": &c.MetricsEnabled,
		"SYNAPSE_WEBUI_ENABLED":   &c.WebUIEnabled,
	}
	for key, dst := range bools {
		raw, ok := lookup(key)
		if !ok || raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		*dst = b
	}

	if raw, ok := lookup("SYNAPSE_WEBUI_CORS_ORIGINS"); ok {
		c.WebUICORSAllowedOrigins = splitList(raw)
	}
	if raw, ok := lookup("SYNAPSE_EVENT_STREAM_CHANNELS"); ok {
		c.EventStreamChannels = splitList(raw)
	}

	return c, errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
