package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks ledger operation counts, latency and sweeper progress.
type Metrics struct {
	mu  sync.RWMutex
	ops map[string]*opCounter

	OpLatency    *LatencyHistogram
	SweepLatency *LatencyHistogram
	APILatency   *LatencyHistogram

	apiRequests   uint64
	apiErrors     uint64
	sweepPasses   uint64
	tradesSettled uint64
	pledgesDone   uint64
	lastSweep     atomic.Value // time.Time
	startedAt     time.Time
}

type opCounter struct {
	ok  uint64
	err uint64
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{
		ops:          make(map[string]*opCounter),
		OpLatency:    NewLatencyHistogram(1000),
		SweepLatency: NewLatencyHistogram(200),
		APILatency:   NewLatencyHistogram(1000),
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
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg and percentiles, recomputed only after new samples.
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

// ObserveOp records the outcome and duration of a ledger operation. Safe on a nil receiver.
func (m *Metrics) ObserveOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.OpLatency.RecordDuration(time.Since(start))

	m.mu.RLock()
	c, ok := m.ops[op]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if c, ok = m.ops[op]; !ok {
			c = &opCounter{}
			m.ops[op] = c
		}
		m.mu.Unlock()
	}
	if err != nil {
		atomic.AddUint64(&c.err, 1)
		return
	}
	atomic.AddUint64(&c.ok, 1)
}

// ObserveAPI records one HTTP request.
func (m *Metrics) ObserveAPI(latency time.Duration, status int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.apiRequests, 1)
	if status >= 400 {
		atomic.AddUint64(&m.apiErrors, 1)
	}
	m.APILatency.RecordDuration(latency)
}

// ObserveSweep records one sweeper pass.
func (m *Metrics) ObserveSweep(latency time.Duration, trades, pledges int) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.sweepPasses, 1)
	atomic.AddUint64(&m.tradesSettled, uint64(trades))
	atomic.AddUint64(&m.pledgesDone, uint64(pledges))
	m.SweepLatency.RecordDuration(latency)
	m.lastSweep.Store(time.Now())
}

// OpCount is the ok/error tally for one operation.
type OpCount struct {
	OK     uint64 `json:"ok"`
	Errors uint64 `json:"errors"`
}

// MetricsSnapshot is a point-in-time view for the admin API.
type MetricsSnapshot struct {
	Operations        map[string]OpCount `json:"operations"`
	OpLatency         LatencyStats       `json:"op_latency"`
	APILatency        LatencyStats       `json:"api_latency"`
	SweepLatency      LatencyStats       `json:"sweep_latency"`
	APIRequests       uint64             `json:"api_requests"`
	APIErrors         uint64             `json:"api_errors"`
	SweepPasses       uint64             `json:"sweep_passes"`
	TradesAutoSettled uint64             `json:"trades_settled_by_sweep"`
	PledgesCompleted  uint64             `json:"pledges_completed_by_sweep"`
	LastSweep         *time.Time         `json:"last_sweep,omitempty"`
	GoroutineCount    int                `json:"goroutine_count"`
	HeapAlloc         uint64             `json:"heap_alloc_bytes"`
	Uptime            string             `json:"uptime"`
	Timestamp         time.Time          `json:"timestamp"`
}

// Snapshot returns a point-in-time metrics snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	ops := make(map[string]OpCount, len(m.ops))
	for name, c := range m.ops {
		ops[name] = OpCount{OK: atomic.LoadUint64(&c.ok), Errors: atomic.LoadUint64(&c.err)}
	}
	m.mu.RUnlock()

	snap := MetricsSnapshot{
		Operations:        ops,
		OpLatency:         m.OpLatency.Stats(),
		APILatency:        m.APILatency.Stats(),
		SweepLatency:      m.SweepLatency.Stats(),
		APIRequests:       atomic.LoadUint64(&m.apiRequests),
		APIErrors:         atomic.LoadUint64(&m.apiErrors),
		SweepPasses:       atomic.LoadUint64(&m.sweepPasses),
		TradesAutoSettled: atomic.LoadUint64(&m.tradesSettled),
		PledgesCompleted:  atomic.LoadUint64(&m.pledgesDone),
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Uptime:            time.Since(m.startedAt).Truncate(time.Second).String(),
		Timestamp:         time.Now(),
	}
	if t, ok := m.lastSweep.Load().(time.Time); ok {
		snap.LastSweep = &t
	}
	return snap
}
