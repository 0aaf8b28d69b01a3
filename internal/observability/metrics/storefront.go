package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorefrontMetrics contains the Prometheus metrics of the client core.
// A nil *StorefrontMetrics is valid and records nothing.
type StorefrontMetrics struct {
	// Generic operation metrics, fed through the Recorder interface
	OperationsTotal   *prometheus.CounterVec   // operation, status
	OperationDuration *prometheus.HistogramVec // operation
	OperationErrors   *prometheus.CounterVec   // operation, error_type

	// Realtime bridge
	RealtimeConnectionState prometheus.Gauge       // 0=disconnected 1=connecting 2=connected 3=reconnecting
	RealtimeEventsTotal     *prometheus.CounterVec // event
	RealtimeReconnectsTotal prometheus.Counter

	// Notification list
	NotificationsUnread        prometheus.Gauge
	NotificationsReceivedTotal *prometheus.CounterVec // source: push, fetch

	// HTTP collaborator
	HTTPRequestDuration *prometheus.HistogramVec // method, status

	registry *prometheus.Registry
}

// NewStorefrontMetrics creates and registers the metrics on registry.
func NewStorefrontMetrics(registry *prometheus.Registry) (*StorefrontMetrics, error) {
	m := &StorefrontMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register storefront metrics: %w", err)
	}
	return m, nil
}

func (m *StorefrontMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_operations_total",
			Help: "Total number of client core operations by operation and outcome",
		},
		[]string{"operation", "status"},
	)
	m.OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_operation_duration_seconds",
			Help:    "Duration of remote calls made by the client core",
			Buckets: remoteCallBuckets,
		},
		[]string{"operation"},
	)
	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_operation_errors_total",
			Help: "Total number of failed client core operations by error category",
		},
		[]string{"operation", "error_type"},
	)

	m.RealtimeConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_realtime_connection_state",
		Help: "Realtime bridge state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting)",
	})
	m.RealtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_realtime_events_total",
			Help: "Total number of inbound realtime events by event name",
		},
		[]string{"event"},
	)
	m.RealtimeReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storefront_realtime_reconnects_total",
		Help: "Total number of realtime reconnect attempts",
	})

	m.NotificationsUnread = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_notifications_unread",
		Help: "Number of unread notifications in the local list",
	})
	m.NotificationsReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_notifications_received_total",
			Help: "Total number of notifications merged into the local list by source",
		},
		[]string{"source"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of backend HTTP requests by method and status",
			Buckets: remoteCallBuckets,
		},
		[]string{"method", "status"},
	)
}

// Describe implements the prometheus.Collector interface.
func (m *StorefrontMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationDuration.Describe(ch)
	m.OperationErrors.Describe(ch)
	m.RealtimeConnectionState.Describe(ch)
	m.RealtimeEventsTotal.Describe(ch)
	m.RealtimeReconnectsTotal.Describe(ch)
	m.NotificationsUnread.Describe(ch)
	m.NotificationsReceivedTotal.Describe(ch)
	m.HTTPRequestDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *StorefrontMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationDuration.Collect(ch)
	m.OperationErrors.Collect(ch)
	m.RealtimeConnectionState.Collect(ch)
	m.RealtimeEventsTotal.Collect(ch)
	m.RealtimeReconnectsTotal.Collect(ch)
	m.NotificationsUnread.Collect(ch)
	m.NotificationsReceivedTotal.Collect(ch)
	m.HTTPRequestDuration.Collect(ch)
}

// RecordOperation implements Recorder.
func (m *StorefrontMetrics) RecordOperation(operation, status string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *StorefrontMetrics) RecordDuration(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *StorefrontMetrics) RecordError(operation, errorType string) {
	if m == nil {
		return
	}
	m.OperationErrors.WithLabelValues(operation, errorType).Inc()
}

// SetRealtimeState records the bridge state ordinal.
func (m *StorefrontMetrics) SetRealtimeState(state int) {
	if m == nil {
		return
	}
	m.RealtimeConnectionState.Set(float64(state))
}

// RecordRealtimeEvent counts one inbound event.
func (m *StorefrontMetrics) RecordRealtimeEvent(event string) {
	if m == nil {
		return
	}
	m.RealtimeEventsTotal.WithLabelValues(event).Inc()
}

// RecordReconnect counts one reconnect attempt.
func (m *StorefrontMetrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.RealtimeReconnectsTotal.Inc()
}

// SetUnreadNotifications records the unread count.
func (m *StorefrontMetrics) SetUnreadNotifications(n int) {
	if m == nil {
		return
	}
	m.NotificationsUnread.Set(float64(n))
}

// RecordNotificationReceived counts notifications merged from source.
func (m *StorefrontMetrics) RecordNotificationReceived(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.NotificationsReceivedTotal.WithLabelValues(source).Add(float64(n))
}

// ObserveHTTPRequest records one backend request. status 0 means the
// request failed before a response arrived.
func (m *StorefrontMetrics) ObserveHTTPRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.HTTPRequestDuration.WithLabelValues(method, label).Observe(d.Seconds())
}
