package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks request, trading and price-drift activity.
type SystemMetrics struct {
	// Latency histograms
	APILatency   *LatencyHistogram
	TradeLatency *LatencyHistogram
	DriftLatency *LatencyHistogram

	// Counters
	apiRequests        uint64
	apiErrors          uint64
	operationsExecuted uint64
	operationsRejected uint64
	driftIterations    uint64
	driftFailures      uint64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
// Stats are computed lazily and cached until the next sample arrives.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:   NewLatencyHistogram(1000),
		TradeLatency: NewLatencyHistogram(1000),
		DriftLatency: NewLatencyHistogram(100),
		startedAt:    time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementAPI counts a served HTTP request.
func (m *SystemMetrics) IncrementAPI() { atomic.AddUint64(&m.apiRequests, 1) }

// IncrementAPIErrors counts an HTTP response with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() { atomic.AddUint64(&m.apiErrors, 1) }

// IncrementOperations counts a committed purchase or sale.
func (m *SystemMetrics) IncrementOperations() { atomic.AddUint64(&m.operationsExecuted, 1) }

// IncrementRejected counts a purchase or sale that was rolled back.
func (m *SystemMetrics) IncrementRejected() { atomic.AddUint64(&m.operationsRejected, 1) }

// IncrementDrift counts a completed drift iteration.
func (m *SystemMetrics) IncrementDrift() { atomic.AddUint64(&m.driftIterations, 1) }

// IncrementDriftFailures counts an instrument the drift loop failed to update.
func (m *SystemMetrics) IncrementDriftFailures() { atomic.AddUint64(&m.driftFailures, 1) }

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	APILatency         LatencyStats `json:"api_latency"`
	TradeLatency       LatencyStats `json:"trade_latency"`
	DriftLatency       LatencyStats `json:"drift_latency"`
	APIRequests        uint64       `json:"api_requests"`
	APIErrors          uint64       `json:"api_errors"`
	OperationsExecuted uint64       `json:"operations_executed"`
	OperationsRejected uint64       `json:"operations_rejected"`
	DriftIterations    uint64       `json:"drift_iterations"`
	DriftFailures      uint64       `json:"drift_failures"`
	GoroutineCount     int          `json:"goroutine_count"`
	HeapAlloc          uint64       `json:"heap_alloc_bytes"`
	Uptime             string       `json:"uptime"`
	Timestamp          time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		APILatency:         m.APILatency.Stats(),
		TradeLatency:       m.TradeLatency.Stats(),
		DriftLatency:       m.DriftLatency.Stats(),
		APIRequests:        atomic.LoadUint64(&m.apiRequests),
		APIErrors:          atomic.LoadUint64(&m.apiErrors),
		OperationsExecuted: atomic.LoadUint64(&m.operationsExecuted),
		OperationsRejected: atomic.LoadUint64(&m.operationsRejected),
		DriftIterations:    atomic.LoadUint64(&m.driftIterations),
		DriftFailures:      atomic.LoadUint64(&m.driftFailures),
		GoroutineCount:     runtime.NumGoroutine(),
		HeapAlloc:          memStats.HeapAlloc,
		Uptime:             time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:          time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
