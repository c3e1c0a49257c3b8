// Package metrics provides Prometheus-compatible metrics for the
// entropy-qa daemon.
package metrics

import (
	"time"
)

// EntropyQAMetrics holds the metrics emitted by a running QaGate/HealthMonitor.
type EntropyQAMetrics struct {
	registry *Registry

	// Counters
	BytesAnalysedTotal *Counter
	BytesPassedTotal   *Counter
	BlocksRejectedTotal *Counter
	FipsFailTotal      *Counter
	Ent8FailTotal      *Counter
	Ent16FailTotal     *Counter
	HysteresisFlipsTotal *Counter
	ErrorsTotal        *Counter

	// Gauges
	ActiveMonitors *Gauge
	UptimeSeconds  *Gauge

	// Histograms
	BlockCheckDuration  *Histogram
	WindowCloseDuration *Histogram
}

var startTime = time.Now()

// NewEntropyQAMetrics creates and registers all entropy-qa metrics.
func NewEntropyQAMetrics(registry *Registry) *EntropyQAMetrics {
	if registry == nil {
		registry = Default()
	}

	return &EntropyQAMetrics{
		registry: registry,

		BytesAnalysedTotal: registry.RegisterCounter(
			"bytes_analysed_total",
			"Total number of bytes fed through HealthMonitor.Check",
			nil,
		),
		BytesPassedTotal: registry.RegisterCounter(
			"bytes_passed_total",
			"Total number of bytes that passed the combined QA verdict",
			nil,
		),
		BlocksRejectedTotal: registry.RegisterCounter(
			"blocks_rejected_total",
			"Total number of blocks a QaGate silently retried after rejection",
			nil,
		),
		FipsFailTotal: registry.RegisterCounter(
			"fips_fail_total",
			"Total number of FIPS 140-2 blocks that failed any sub-test",
			nil,
		),
		Ent8FailTotal: registry.RegisterCounter(
			"ent8_fail_total",
			"Total number of Ent8 windows that closed outside tolerance",
			nil,
		),
		Ent16FailTotal: registry.RegisterCounter(
			"ent16_fail_total",
			"Total number of Ent16 windows that closed outside tolerance",
			nil,
		),
		HysteresisFlipsTotal: registry.RegisterCounter(
			"hysteresis_flips_total",
			"Total number of OK<->FAIL verdict transitions across all analyzers",
			nil,
		),
		ErrorsTotal: registry.RegisterCounter(
			"errors_total",
			"Total number of errors",
			nil,
		),

		ActiveMonitors: registry.RegisterGauge(
			"active_monitors",
			"Number of HealthMonitor instances currently registered",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Number of seconds the daemon has been running",
			nil,
		),

		BlockCheckDuration: registry.RegisterHistogram(
			"block_check_duration_seconds",
			"Duration of a single HealthMonitor.Check call",
			nil,
			[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		),
		WindowCloseDuration: registry.RegisterHistogram(
			"window_close_duration_seconds",
			"Duration of an Ent8/Ent16 window-close computation",
			nil,
			DurationBuckets,
		),
	}
}

// RecordCheck records one HealthMonitor.Check call and its outcome.
func (m *EntropyQAMetrics) RecordCheck(n int, passed bool, d time.Duration) {
	m.BytesAnalysedTotal.Add(uint64(n))
	if passed {
		m.BytesPassedTotal.Add(uint64(n))
	}
	m.BlockCheckDuration.ObserveDuration(d)
}

// StartBlockCheckTimer returns a timer for a HealthMonitor.Check call.
func (m *EntropyQAMetrics) StartBlockCheckTimer() *HistogramTimer {
	return m.BlockCheckDuration.Timer()
}

// RecordRejectedBlock records a QaGate retry caused by a rejected block.
func (m *EntropyQAMetrics) RecordRejectedBlock() {
	m.BlocksRejectedTotal.Inc()
}

// RecordFipsFail records a failed FIPS block.
func (m *EntropyQAMetrics) RecordFipsFail() {
	m.FipsFailTotal.Inc()
}

// RecordEnt8Fail records a failed Ent8 window.
func (m *EntropyQAMetrics) RecordEnt8Fail() {
	m.Ent8FailTotal.Inc()
}

// RecordEnt16Fail records a failed Ent16 window.
func (m *EntropyQAMetrics) RecordEnt16Fail() {
	m.Ent16FailTotal.Inc()
}

// RecordHysteresisFlip records an OK<->FAIL transition on any analyzer.
func (m *EntropyQAMetrics) RecordHysteresisFlip() {
	m.HysteresisFlipsTotal.Inc()
}

// RecordError records an error.
func (m *EntropyQAMetrics) RecordError() {
	m.ErrorsTotal.Inc()
}

// MonitorRegistered records a new monitor joining the registry.
func (m *EntropyQAMetrics) MonitorRegistered() {
	m.ActiveMonitors.Inc()
}

// MonitorDeregistered records a monitor leaving the registry.
func (m *EntropyQAMetrics) MonitorDeregistered() {
	m.ActiveMonitors.Dec()
}

// RecordWindowClose records an Ent8/Ent16 window-close computation.
func (m *EntropyQAMetrics) RecordWindowClose(d time.Duration) {
	m.WindowCloseDuration.ObserveDuration(d)
}

// UpdateUptime updates the uptime metric.
func (m *EntropyQAMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(startTime).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *EntropyQAMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"bytes_analysed_total":   m.BytesAnalysedTotal.Value(),
		"bytes_passed_total":     m.BytesPassedTotal.Value(),
		"blocks_rejected_total":  m.BlocksRejectedTotal.Value(),
		"fips_fail_total":        m.FipsFailTotal.Value(),
		"ent8_fail_total":        m.Ent8FailTotal.Value(),
		"ent16_fail_total":       m.Ent16FailTotal.Value(),
		"hysteresis_flips_total": m.HysteresisFlipsTotal.Value(),
		"errors_total":           m.ErrorsTotal.Value(),
		"active_monitors":        m.ActiveMonitors.Value(),
		"uptime_seconds":         m.UptimeSeconds.Value(),
		"block_check_avg_seconds": m.BlockCheckDuration.Mean(),
	}
}

// Global entropy-qa metrics instance.
var defaultEntropyQAMetrics *EntropyQAMetrics

// GetMetrics returns the global entropy-qa metrics instance.
func GetMetrics() *EntropyQAMetrics {
	if defaultEntropyQAMetrics == nil {
		defaultEntropyQAMetrics = NewEntropyQAMetrics(Default())
	}
	return defaultEntropyQAMetrics
}

// InitMetrics initializes the global entropy-qa metrics with a custom registry.
func InitMetrics(registry *Registry) *EntropyQAMetrics {
	defaultEntropyQAMetrics = NewEntropyQAMetrics(registry)
	return defaultEntropyQAMetrics
}
