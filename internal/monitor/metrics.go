package monitor

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records pipeline activity as Prometheus collectors and keeps a
// small in-process latency window for the status endpoint. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	candles      *prometheus.CounterVec
	analyses     prometheus.Counter
	skipped      prometheus.Counter
	trades       *prometheus.CounterVec
	reconnects   prometheus.Counter
	lastPrice    *prometheus.GaugeVec
	lastScore    prometheus.Gauge
	openPos      prometheus.Gauge
	analysisTime prometheus.Histogram
	gatewayTime  *prometheus.HistogramVec
	apiRequests  *prometheus.CounterVec
	apiTime      *prometheus.HistogramVec

	AnalysisLatency *LatencyHistogram

	ticksAccepted uint64
	ticksDropped  uint64
	tradeCount    uint64
	errorsCount   uint64
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metron_ticks_total",
			Help: "Ticks received, by outcome",
		}, []string{"outcome"}),
		candles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metron_candles_persisted_total",
			Help: "Closed candles handed to the store, by outcome",
		}, []string{"outcome"}),
		analyses: f.NewCounter(prometheus.CounterOpts{
			Name: "metron_analysis_cycles_total",
			Help: "Completed analysis cycles",
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Name: "metron_analysis_skipped_total",
			Help: "Analysis cycles skipped because one was already running",
		}),
		trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metron_trades_total",
			Help: "Executed trades by mode and status",
		}, []string{"mode", "status"}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "metron_stream_reconnects_total",
			Help: "Ingestion reconnect attempts",
		}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "metron_last_price",
			Help: "Last accepted tick price",
		}, []string{"symbol"}),
		lastScore: f.NewGauge(prometheus.GaugeOpts{
			Name: "metron_signal_score",
			Help: "Score of the latest analysis",
		}),
		openPos: f.NewGauge(prometheus.GaugeOpts{
			Name: "metron_open_positions",
			Help: "Positions currently held in memory",
		}),
		analysisTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "metron_analysis_duration_seconds",
			Help:    "Duration of one analysis cycle",
			Buckets: prometheus.DefBuckets,
		}),
		gatewayTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metron_gateway_duration_seconds",
			Help:    "Duration of exchange gateway calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "metron_api_requests_total",
			Help: "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		apiTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metron_api_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		AnalysisLatency: NewLatencyHistogram(500),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) TickAccepted(symbol string, price float64) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksAccepted, 1)
	m.ticks.WithLabelValues("accepted").Inc()
	m.lastPrice.WithLabelValues(symbol).Set(price)
}

func (m *Metrics) TickDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ticksDropped, 1)
	m.ticks.WithLabelValues("invalid").Inc()
}

// CandlePersisted records a store write outcome: "ok", "error" or "overflow".
func (m *Metrics) CandlePersisted(outcome string) {
	if m == nil {
		return
	}
	if outcome != "ok" {
		atomic.AddUint64(&m.errorsCount, 1)
	}
	m.candles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AnalysisDone(d time.Duration, score int) {
	if m == nil {
		return
	}
	m.analyses.Inc()
	m.analysisTime.Observe(d.Seconds())
	m.lastScore.Set(float64(score))
	m.AnalysisLatency.RecordDuration(d)
}

func (m *Metrics) AnalysisSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *Metrics) TradeExecuted(mode, status string) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tradeCount, 1)
	m.trades.WithLabelValues(mode, status).Inc()
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.errorsCount, 1)
	m.reconnects.Inc()
}

func (m *Metrics) OpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPos.Set(float64(n))
}

func (m *Metrics) GatewayCall(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayTime.WithLabelValues(op).Observe(d.Seconds())
}

// APIRequest records one served HTTP request. route is the registered
// pattern, not the raw path.
func (m *Metrics) APIRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if status >= 500 {
		atomic.AddUint64(&m.errorsCount, 1)
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiTime.WithLabelValues(route).Observe(d.Seconds())
}

// Snapshot is the JSON view used by the status endpoint.
type Snapshot struct {
	AnalysisLatency LatencyStats `json:"analysis_latency"`
	TicksAccepted   uint64       `json:"ticks_accepted"`
	TicksDropped    uint64       `json:"ticks_dropped"`
	Trades          uint64       `json:"trades"`
	ErrorsCount     uint64       `json:"errors_count"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s := Snapshot{
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      mem.HeapAlloc,
		Timestamp:      time.Now().UTC(),
	}
	if m == nil {
		return s
	}
	s.AnalysisLatency = m.AnalysisLatency.Stats()
	s.TicksAccepted = atomic.LoadUint64(&m.ticksAccepted)
	s.TicksDropped = atomic.LoadUint64(&m.ticksDropped)
	s.Trades = atomic.LoadUint64(&m.tradeCount)
	s.ErrorsCount = atomic.LoadUint64(&m.errorsCount)
	return s
}

// LatencyHistogram tracks latency samples in a sliding window.
// Stats are recomputed lazily only after new samples arrive.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
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
