package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/mediabus/pkg/metrics"
)

// Collectors are registered once per process; every constructor after the
// first returns the same instance.
var (
	fanoutOnce   sync.Once
	fanoutInst   *fanoutMetrics
	serverOnce   sync.Once
	serverInst   *serverMetrics
	observerOnce sync.Once
	observerInst *observerMetrics
	sourceOnce   sync.Once
	sourceInst   *sourceMetrics
	busOnce      sync.Once
	busInst      *busMetrics
)

var latencyBuckets = []float64{
	0.0005, // 500µs
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
}

type fanoutMetrics struct {
	requests    *prometheus.CounterVec
	partitions  prometheus.Histogram
	calls       *prometheus.CounterVec
	completions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	dropped     prometheus.Counter
}

// NewFanoutMetrics returns the Prometheus FanoutMetrics, or a no-op when
// metrics are disabled.
func NewFanoutMetrics() metrics.FanoutMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFanoutMetrics()
	}
	fanoutOnce.Do(func() {
		reg := metrics.GetRegistry()
		fanoutInst = &fanoutMetrics{
			requests: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_fanout_requests_total",
					Help: "Total number of property requests by protocol generation",
				},
				[]string{"generation"},
			),
			partitions: promauto.With(reg).NewHistogram(
				prometheus.HistogramOpts{
					Name:    "mediabus_fanout_partitions",
					Help:    "Number of interface partitions per property request",
					Buckets: []float64{0, 1, 2, 3},
				},
			),
			calls: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_fanout_calls_total",
					Help: "Total number of remote property calls by method",
				},
				[]string{"method"},
			),
			completions: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_fanout_completions_total",
					Help: "Total number of completed property requests by outcome",
				},
				[]string{"generation", "outcome"},
			),
			duration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mediabus_fanout_duration_seconds",
					Help:    "Duration of property requests from issue to completion",
					Buckets: latencyBuckets,
				},
				[]string{"generation"},
			),
			dropped: promauto.With(reg).NewCounter(
				prometheus.CounterOpts{
					Name: "mediabus_fanout_dropped_names_total",
					Help: "Total number of requested property names dropped before fanout",
				},
			),
		}
	})
	return fanoutInst
}

func (m *fanoutMetrics) RecordRequest(generation string, partitions int) {
	m.requests.WithLabelValues(generation).Inc()
	m.partitions.Observe(float64(partitions))
}

func (m *fanoutMetrics) RecordCall(method string) {
	m.calls.WithLabelValues(method).Inc()
}

func (m *fanoutMetrics) RecordCompletion(generation, outcome string, duration time.Duration) {
	m.completions.WithLabelValues(generation, outcome).Inc()
	m.duration.WithLabelValues(generation).Observe(duration.Seconds())
}

func (m *fanoutMetrics) RecordDropped(count int) {
	m.dropped.Add(float64(count))
}

type serverMetrics struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	published prometheus.Gauge
	updates   *prometheus.CounterVec
}

// NewServerMetrics returns the Prometheus ServerMetrics, or a no-op when
// metrics are disabled.
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopServerMetrics()
	}
	serverOnce.Do(func() {
		reg := metrics.GetRegistry()
		serverInst = &serverMetrics{
			requests: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_server_requests_total",
					Help: "Total number of calls handled by provider, method, and status",
				},
				[]string{"provider", "method", "status"},
			),
			duration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mediabus_server_request_duration_seconds",
					Help:    "Duration of handled calls in seconds",
					Buckets: latencyBuckets,
				},
				[]string{"provider", "method"},
			),
			published: promauto.With(reg).NewGauge(
				prometheus.GaugeOpts{
					Name: "mediabus_server_published_providers",
					Help: "Current number of providers exported on the bus",
				},
			),
			updates: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_server_updates_total",
					Help: "Total number of Updated signals emitted by provider",
				},
				[]string{"provider"},
			),
		}
	})
	return serverInst
}

func (m *serverMetrics) RecordRequest(provider, method string, duration time.Duration, err error) {
	m.requests.WithLabelValues(provider, method, metrics.Status(err)).Inc()
	m.duration.WithLabelValues(provider, method).Observe(duration.Seconds())
}

func (m *serverMetrics) SetPublished(count int) {
	m.published.Set(float64(count))
}

func (m *serverMetrics) RecordUpdate(provider string) {
	m.updates.WithLabelValues(provider).Inc()
}

type observerMetrics struct {
	handles    *prometheus.GaugeVec
	deliveries *prometheus.CounterVec
}

// NewObserverMetrics returns the Prometheus ObserverMetrics, or a no-op
// when metrics are disabled.
func NewObserverMetrics() metrics.ObserverMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopObserverMetrics()
	}
	observerOnce.Do(func() {
		reg := metrics.GetRegistry()
		observerInst = &observerMetrics{
			handles: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "mediabus_observer_handles",
					Help: "Current number of live client handles by provider",
				},
				[]string{"provider"},
			),
			deliveries: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_observer_deliveries_total",
					Help: "Total number of notifications delivered to subscribers by event",
				},
				[]string{"event"},
			),
		}
	})
	return observerInst
}

func (m *observerMetrics) SetHandles(provider string, count int) {
	m.handles.WithLabelValues(provider).Set(float64(count))
}

func (m *observerMetrics) RecordDelivery(event string) {
	m.deliveries.WithLabelValues(event).Inc()
}

type sourceMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewSourceMetrics returns the Prometheus SourceMetrics, or a no-op when
// metrics are disabled.
func NewSourceMetrics() metrics.SourceMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopSourceMetrics()
	}
	sourceOnce.Do(func() {
		reg := metrics.GetRegistry()
		sourceInst = &sourceMetrics{
			operations: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_source_operations_total",
					Help: "Total number of catalog source operations by source, operation, and status",
				},
				[]string{"source", "operation", "status"},
			),
			duration: promauto.With(reg).NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "mediabus_source_operation_duration_seconds",
					Help:    "Duration of catalog source operations in seconds",
					Buckets: latencyBuckets,
				},
				[]string{"source", "operation"},
			),
		}
	})
	return sourceInst
}

func (m *sourceMetrics) RecordOperation(source, operation string, duration time.Duration, err error) {
	m.operations.WithLabelValues(source, operation, metrics.Status(err)).Inc()
	m.duration.WithLabelValues(source, operation).Observe(duration.Seconds())
}

type busMetrics struct {
	peers    prometheus.Gauge
	frames   *prometheus.CounterVec
	rejected prometheus.Counter
}

// NewBusMetrics returns the Prometheus BusMetrics, or a no-op when metrics
// are disabled.
func NewBusMetrics() metrics.BusMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopBusMetrics()
	}
	busOnce.Do(func() {
		reg := metrics.GetRegistry()
		busInst = &busMetrics{
			peers: promauto.With(reg).NewGauge(
				prometheus.GaugeOpts{
					Name: "mediabus_bus_peers",
					Help: "Current number of websocket bus peers",
				},
			),
			frames: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "mediabus_bus_frames_total",
					Help: "Total number of frames received from websocket peers by kind",
				},
				[]string{"kind"},
			),
			rejected: promauto.With(reg).NewCounter(
				prometheus.CounterOpts{
					Name: "mediabus_bus_frames_rejected_total",
					Help: "Total number of frames rejected as malformed or over the rate limit",
				},
			),
		}
	})
	return busInst
}

func (m *busMetrics) PeerConnected()            { m.peers.Inc() }
func (m *busMetrics) PeerDisconnected()         { m.peers.Dec() }
func (m *busMetrics) FrameReceived(kind string) { m.frames.WithLabelValues(kind).Inc() }
func (m *busMetrics) FrameRejected()            { m.rejected.Inc() }
