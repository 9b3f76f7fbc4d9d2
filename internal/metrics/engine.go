// Package metrics aggregates phase latencies and exports flock statistics.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine collects phase latencies of one flock using HDR histograms.
//
// Every finished stopwatch of every monkey in the flock is recorded here,
// keyed by event name, so percentiles per phase (hub_login, create_session,
// execute_code, ...) are available without walking the individual timings.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations and the
// histograms are protected by mutexes, since HDR histograms are not
// goroutine safe.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	phaseHists   map[string]*phaseHistogram
	phaseHistsMu sync.RWMutex

	totalEvents   atomic.Int64
	successEvents atomic.Int64
	failedEvents  atomic.Int64

	startTime time.Time
	config    EngineConfig
}

type phaseHistogram struct {
	hist     *hdrhistogram.Histogram
	failures int64
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 3600000000 = 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a new metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a new metrics engine with custom configuration.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		phaseHists:  make(map[string]*phaseHistogram),
		startTime:   time.Now(),
		config:      config,
	}
}

// RecordLatency records one finished phase.
//
// Parameters:
//   - duration: The phase latency
//   - name: The phase (event) name; empty skips the per-phase breakdown
//   - success: Whether the phase succeeded
//   - bytes: Unused by phases; kept so the engine satisfies timings.Recorder
func (e *Engine) RecordLatency(duration time.Duration, name string, success bool, _ int64) {
	latencyMicros := duration.Microseconds()

	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	if name != "" {
		e.recordPhaseHistogram(name, latencyMicros, success)
	}

	e.totalEvents.Add(1)
	if success {
		e.successEvents.Add(1)
	} else {
		e.failedEvents.Add(1)
	}
}

// recordPhaseHistogram records a latency in a per-phase histogram.
func (e *Engine) recordPhaseHistogram(name string, latencyMicros int64, success bool) {
	e.phaseHistsMu.Lock()
	defer e.phaseHistsMu.Unlock()

	ph, exists := e.phaseHists[name]
	if !exists {
		ph = &phaseHistogram{
			hist: hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
		}
		e.phaseHists[name] = ph
	}

	_ = ph.hist.RecordValue(latencyMicros)
	if !success {
		ph.failures++
	}
}

// GetSnapshot returns a point-in-time snapshot of all phases.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := statsFrom(e.latencyHist)
	e.latencyHistMu.Unlock()

	return &Snapshot{
		TotalEvents:   e.totalEvents.Load(),
		SuccessEvents: e.successEvents.Load(),
		FailedEvents:  e.failedEvents.Load(),
		Latency:       latency,
		Elapsed:       time.Since(e.startTime),
		StartTime:     e.startTime,
		Timestamp:     time.Now(),
	}
}

// GetPhaseStats returns per-phase statistics keyed by event name.
func (e *Engine) GetPhaseStats() map[string]LatencyStats {
	e.phaseHistsMu.RLock()
	defer e.phaseHistsMu.RUnlock()

	result := make(map[string]LatencyStats, len(e.phaseHists))
	for name, ph := range e.phaseHists {
		stats := statsFrom(ph.hist)
		stats.Failures = ph.failures
		result[name] = stats
	}
	return result
}

func statsFrom(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(h.Min()) * time.Microsecond,
		Max:    time.Duration(h.Max()) * time.Microsecond,
		Mean:   time.Duration(h.Mean()) * time.Microsecond,
		StdDev: time.Duration(h.StdDev()) * time.Microsecond,
		P50:    time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(h.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
		Count:  h.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of a flock's phase metrics.
type Snapshot struct {
	TotalEvents   int64         `json:"total_events"`
	SuccessEvents int64         `json:"success_events"`
	FailedEvents  int64         `json:"failed_events"`
	Latency       LatencyStats  `json:"latency"`
	Elapsed       time.Duration `json:"elapsed"`
	StartTime     time.Time     `json:"start_time"`
	Timestamp     time.Time     `json:"timestamp"`
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Mean     time.Duration `json:"mean"`
	StdDev   time.Duration `json:"std_dev"`
	P50      time.Duration `json:"p50"`
	P90      time.Duration `json:"p90"`
	P95      time.Duration `json:"p95"`
	P99      time.Duration `json:"p99"`
	Count    int64         `json:"count"`
	Failures int64         `json:"failures"`
}
