// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_state_transitions_total",
			Help: "Service state transitions performed by the engine",
		},
		[]string{"from", "to"},
	)

	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_created_total",
			Help: "Alerts created on state transitions",
		},
		[]string{"type", "severity"},
	)

	AlertsWithheld = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_alerts_withheld_total",
			Help: "Transitions whose alert was withheld (muted or suppressed)",
		},
		[]string{"reason"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_notifications_total",
			Help: "Notification send attempts per channel type",
		},
		[]string{"channel", "status"},
	)

	PeerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_peer_calls_total",
			Help: "Outbound calls to paired peers",
		},
		[]string{"call", "status"},
	)

	IngestionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_ingestion_total",
			Help: "Push signals received on ingestion endpoints",
		},
		[]string{"kind", "status"},
	)

	WorkerTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_worker_tick_duration_seconds",
			Help:    "Time spent in one worker tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker"},
	)

	WorkerItemErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_worker_item_errors_total",
			Help: "Per-item failures inside worker ticks",
		},
		[]string{"worker"},
	)

	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_probe_duration_seconds",
			Help:    "HTTP health-check probe latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	ServicesByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentinel_services",
			Help: "Number of services per state",
		},
		[]string{"state"},
	)

	SuppressedServices = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_services_suppressed",
			Help: "Number of services currently suppressed by a failing dependency",
		},
	)

	UndispatchedAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_alerts_undispatched",
			Help: "Alerts waiting for successful delivery",
		},
	)

	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_stream_subscribers",
			Help: "Active live-update subscribers (SSE and websocket)",
		},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_database_operations_total",
			Help: "Total database operations performed by the metrics collector",
		},
		[]string{"operation", "status"},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordTransition(from, to database.ServiceState) {
	StateTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (c *Collector) RecordAlert(alertType database.AlertType, severity database.Severity) {
	AlertsCreated.WithLabelValues(string(alertType), string(severity)).Inc()
}

func (c *Collector) RecordWithheldAlert(reason string) {
	AlertsWithheld.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordNotification(channel database.ChannelType, err error) {
	NotificationsSent.WithLabelValues(string(channel), statusLabel(err)).Inc()
}

func (c *Collector) RecordPeerCall(call string, err error) {
	PeerCalls.WithLabelValues(call, statusLabel(err)).Inc()
}

func (c *Collector) RecordIngestion(kind string, err error) {
	IngestionTotal.WithLabelValues(kind, statusLabel(err)).Inc()
}

func (c *Collector) RecordTick(worker string, duration time.Duration) {
	WorkerTickDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

func (c *Collector) RecordItemError(worker string) {
	WorkerItemErrors.WithLabelValues(worker).Inc()
}

func (c *Collector) RecordProbe(success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	ProbeDuration.WithLabelValues(result).Observe(duration.Seconds())
}

func (c *Collector) SetStreamSubscribers(n int) {
	StreamSubscribers.Set(float64(n))
}

// UpdateSystemMetrics refreshes the gauges derived from stored state.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	services, err := c.store.GetServices(ctx, database.ServiceFilters{})
	if err != nil {
		DatabaseOperations.WithLabelValues("get_services", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("get_services", "success").Inc()

	counts := map[database.ServiceState]int{
		database.StateUnknown: 0,
		database.StateUp:      0,
		database.StateDown:    0,
		database.StatePaused:  0,
	}
	suppressed := 0
	for _, svc := range services {
		counts[svc.State]++
		if svc.IsSuppressed {
			suppressed++
		}
	}
	for state, n := range counts {
		ServicesByState.WithLabelValues(string(state)).Set(float64(n))
	}
	SuppressedServices.Set(float64(suppressed))

	alerts, err := c.store.GetAlerts(ctx, database.AlertFilters{Undispatched: true})
	if err != nil {
		DatabaseOperations.WithLabelValues("get_alerts", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("get_alerts", "success").Inc()
	UndispatchedAlerts.Set(float64(len(alerts)))

	return nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
