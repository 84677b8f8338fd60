package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Provider metrics
	rpcCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_rpc_calls_total",
			Help: "Total number of chain provider RPC calls",
		},
		[]string{"provider", "method"},
	)

	rpcDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaindna_rpc_duration_seconds",
			Help:    "Duration of chain provider RPC calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	rpcErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_rpc_errors_total",
			Help: "Total number of chain provider RPC errors",
		},
		[]string{"provider", "class"},
	)

	// Ingestion metrics
	HeadCursor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chaindna_head_block_number",
			Help: "The chain tracker's current cursor height, by finality tier",
		},
		[]string{"tier"},
	)

	BlocksIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_blocks_ingested_total",
			Help: "Total number of blocks fetched and normalized",
		},
		[]string{"chain"},
	)

	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_reorgs_detected_total",
			Help: "Total number of chain reorganizations detected",
		},
		[]string{"chain"},
	)

	BlockIngestionTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chaindna_block_ingestion_duration_seconds",
			Help:    "Time taken to fetch and normalize a single block",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// Segment storage metrics
	SegmentsFlushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_segments_flushed_total",
			Help: "Total number of segments flushed to the blob store",
		},
		[]string{"entity"},
	)

	GroupsFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chaindna_groups_flushed_total",
			Help: "Total number of segment groups flushed to the blob store",
		},
	)

	// Streaming metrics
	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chaindna_active_streams",
			Help: "Number of currently subscribed filtered data streams",
		},
	)

	BatchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_batches_sent_total",
			Help: "Total number of data batches sent to subscribers",
		},
		[]string{"finality"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chaindna_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chaindna_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chaindna_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chaindna_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chaindna_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func RPCMethodInc(provider, method string) {
	rpcCalls.WithLabelValues(provider, method).Inc()
}

func RPCMethodDuration(provider, method string, duration time.Duration) {
	rpcDuration.WithLabelValues(provider, method).Observe(duration.Seconds())
}

func RPCMethodError(provider, class string) {
	rpcErrors.WithLabelValues(provider, class).Inc()
}

func BlockIngestionTimeLog(chain string, duration time.Duration) {
	BlockIngestionTime.WithLabelValues(chain).Observe(duration.Seconds())
}

func HeadCursorSet(tier string, blockNum uint64) {
	HeadCursor.WithLabelValues(tier).Set(float64(blockNum))
}

func BlocksIngestedInc(chain string, count uint64) {
	BlocksIngested.WithLabelValues(chain).Add(float64(count))
}

func ReorgsDetectedInc(chain string) {
	ReorgsDetected.WithLabelValues(chain).Inc()
}

func SegmentsFlushedInc(entity string) {
	SegmentsFlushed.WithLabelValues(entity).Inc()
}

func GroupsFlushedInc() {
	GroupsFlushed.Inc()
}

func BatchesSentInc(finality string) {
	BatchesSent.WithLabelValues(finality).Inc()
}

func ActiveStreamsSet(n int) {
	ActiveStreams.Set(float64(n))
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())

	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
