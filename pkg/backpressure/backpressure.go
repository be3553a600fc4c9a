// Package backpressure tracks recent load, queue depth, error rate and
// latency, and decides per request whether the system should defer or drop to
// shed load. It maps capacity stress to recoverable (defer) and terminal
// (drop) outcomes.
package backpressure

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbiterhq/arbiter/internal/window"
	"github.com/arbiterhq/arbiter/pkg/config"
	"github.com/arbiterhq/arbiter/pkg/domain"
)

const (
	arrivalRetention = 5 * time.Minute
	loadWindow       = time.Minute
	sampleCapacity   = 100
	// minSamples gates error-rate and latency checks so that a handful of
	// early observations cannot trip load shedding.
	minSamples = 10

	maxEstimatedDelay = 60 * time.Second
)

// Manager holds the shared sliding-window state. All methods are safe for
// concurrent use.
type Manager struct {
	arrivals    *window.TimeWindow
	completions *window.BoolRing
	latencies   *window.FloatRing
	queueSize   atomic.Int64

	cfg    func() config.BackpressureConfig
	now    func() time.Time
	logger zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager reading its thresholds from the provider on
// every check, so configuration reloads take effect immediately.
func NewManager(provider *config.Provider, logger zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		arrivals:    window.NewTimeWindow(arrivalRetention),
		completions: window.NewBoolRing(sampleCapacity),
		latencies:   window.NewFloatRing(sampleCapacity),
		cfg:         func() config.BackpressureConfig { return provider.Current().Config.Backpressure },
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckCapacity computes a capacity snapshot for the request. All checks are
// independent and additive: reasons accumulate, and drop wins over defer.
func (m *Manager) CheckCapacity(_ *domain.GateRequest) domain.BackpressureResult {
	cfg := m.cfg()
	now := m.now()

	result := domain.BackpressureResult{}

	queue := int(m.queueSize.Load())
	if cfg.CriticalQueueSize > 0 && queue >= cfg.CriticalQueueSize {
		result.ShouldDrop = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("queue_critical:%d", queue))
	} else if cfg.MaxQueueSize > 0 && queue >= cfg.MaxQueueSize {
		result.ShouldDefer = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("queue_full:%d", queue))
	}

	load := m.loadAt(now, cfg)
	result.CurrentLoad = load
	if load >= cfg.LoadDropThreshold {
		result.ShouldDrop = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("load_critical:%.2f", load))
	} else if load >= cfg.LoadDeferThreshold {
		result.ShouldDefer = true
		result.Reasons = append(result.Reasons, fmt.Sprintf("load_high:%.2f", load))
	}

	if rate, samples := m.completions.FailureRate(); samples >= minSamples {
		if rate >= cfg.CriticalErrorRate {
			result.ShouldDrop = true
			result.Reasons = append(result.Reasons, fmt.Sprintf("error_rate_critical:%.2f", rate))
		} else if rate >= cfg.MaxErrorRate {
			result.ShouldDefer = true
			result.Reasons = append(result.Reasons, fmt.Sprintf("error_rate_high:%.2f", rate))
		}
	}

	if m.latencies.Len() >= minSamples {
		p95 := m.latencies.Percentile(95)
		if p95 >= cfg.CriticalP95LatencyMS {
			result.ShouldDrop = true
			result.Reasons = append(result.Reasons, fmt.Sprintf("latency_critical:p95=%.0fms", p95))
		} else if p95 >= cfg.MaxP95LatencyMS {
			result.ShouldDefer = true
			result.Reasons = append(result.Reasons, fmt.Sprintf("latency_high:p95=%.0fms", p95))
		}
	}

	result.EstimatedDelay = estimateDelay(load, queue)
	return result
}

// RecordRequest registers an arrival and grows the live queue. Callers pair
// it with RecordCompletion once processing finishes.
func (m *Manager) RecordRequest() {
	m.arrivals.Record(m.now())
	m.queueSize.Add(1)
}

// RecordCompletion shrinks the live queue and feeds the error-rate and
// latency windows.
func (m *Manager) RecordCompletion(success bool, latency time.Duration) {
	if m.queueSize.Add(-1) < 0 {
		m.queueSize.Store(0)
	}
	m.completions.Push(success)
	m.latencies.Push(float64(latency) / float64(time.Millisecond))
}

// QueueSize returns the current live queue depth.
func (m *Manager) QueueSize() int {
	return int(m.queueSize.Load())
}

// CurrentLoad returns recent arrivals over configured per-minute capacity.
func (m *Manager) CurrentLoad() float64 {
	return m.loadAt(m.now(), m.cfg())
}

func (m *Manager) loadAt(now time.Time, cfg config.BackpressureConfig) float64 {
	if cfg.MaxRequestsPerMinute <= 0 {
		return 0
	}
	recent := m.arrivals.CountSince(now, loadWindow)
	return float64(recent) / float64(cfg.MaxRequestsPerMinute)
}

// estimateDelay converts load and queue depth into an advisory retry delay:
// 1000ms * (1 + max(0, load-0.8)*10) plus 50ms per queued request, capped at
// 60s.
func estimateDelay(load float64, queue int) time.Duration {
	overload := load - 0.8
	if overload < 0 {
		overload = 0
	}
	ms := 1000*(1+overload*10) + float64(queue)*50
	delay := time.Duration(ms) * time.Millisecond
	if delay > maxEstimatedDelay {
		delay = maxEstimatedDelay
	}
	return delay
}

// Stats is a point-in-time view for the admin surface.
type Stats struct {
	QueueSize   int     `json:"queue_size"`
	CurrentLoad float64 `json:"current_load"`
	ErrorRate   float64 `json:"error_rate"`
	P95Latency  float64 `json:"p95_latency_ms"`
	Samples     int     `json:"samples"`
}

// Snapshot returns current statistics.
func (m *Manager) Snapshot() Stats {
	rate, samples := m.completions.FailureRate()
	return Stats{
		QueueSize:   m.QueueSize(),
		CurrentLoad: m.CurrentLoad(),
		ErrorRate:   rate,
		P95Latency:  m.latencies.Percentile(95),
		Samples:     samples,
	}
}
