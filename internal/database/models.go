// internal/database/models.go
package database

import (
	"time"
)

type ServiceState string

const (
	StateUnknown ServiceState = "unknown"
	StateUp      ServiceState = "up"
	StateDown    ServiceState = "down"
	StatePaused  ServiceState = "paused"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type MonitorType string

const (
	MonitorHeartbeat   MonitorType = "heartbeat"
	MonitorWebhook     MonitorType = "webhook"
	MonitorHealthCheck MonitorType = "health_check"
	MonitorMetric      MonitorType = "metric"
)

type ThresholdStrategy string

const (
	StrategyImmediate           ThresholdStrategy = "immediate"
	StrategyConsecutiveCount    ThresholdStrategy = "consecutive_count"
	StrategyTimeDurationAverage ThresholdStrategy = "time_duration_average"
	StrategySampleCountAverage  ThresholdStrategy = "sample_count_average"
)

type AlertType string

const (
	AlertFailure           AlertType = "failure"
	AlertRecovery          AlertType = "recovery"
	AlertMissedHeartbeat   AlertType = "missed_heartbeat"
	AlertFailedHealthCheck AlertType = "failed_health_check"
)

type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityWeekly  Granularity = "weekly"
	GranularityMonthly Granularity = "monthly"
)

// Granularities lists every rollup bucket size, finest first.
var Granularities = []Granularity{GranularityHourly, GranularityDaily, GranularityWeekly, GranularityMonthly}

// Event types recorded in the monitor event log.
const (
	EventHeartbeat       = "heartbeat"
	EventMissedHeartbeat = "missed_heartbeat"
	EventWebhookFail     = "webhook_fail"
	EventWebhookRecover  = "webhook_recover"
	EventHealthCheck     = "health_check"
	EventMetric          = "metric"
)

type Service struct {
	ID                string       `json:"id"`
	Name              string       `json:"name" validate:"required"`
	Description       string       `json:"description,omitempty"`
	State             ServiceState `json:"state"`
	PreviousState     ServiceState `json:"previous_state,omitempty"`
	Severity          Severity     `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	PausedUntil       *time.Time   `json:"paused_until,omitempty"`
	AutoResume        bool         `json:"auto_resume"`
	IsSuppressed      bool         `json:"is_suppressed"`
	SuppressionReason string       `json:"suppression_reason,omitempty"`
	ContactIDs        []string     `json:"contact_ids,omitempty"`
	LastStateChange   time.Time    `json:"last_state_change"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Monitor is a check attached to one service. The envelope fields apply to
// every type; exactly one of the variant payloads is set for the types that
// carry one (webhook monitors have none).
type Monitor struct {
	ID                 string      `json:"id"`
	ServiceID          string      `json:"service_id" validate:"required"`
	Type               MonitorType `json:"type" validate:"required,oneof=heartbeat webhook health_check metric"`
	Token              string      `json:"token"`
	IntervalSeconds    int         `json:"interval_seconds" validate:"gte=0"`
	GracePeriodSeconds int         `json:"grace_period_seconds" validate:"gte=0"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`

	Heartbeat   *HeartbeatSpec   `json:"heartbeat,omitempty"`
	HealthCheck *HealthCheckSpec `json:"health_check,omitempty"`
	Metric      *MetricSpec      `json:"metric,omitempty"`
}

type HeartbeatSpec struct {
	LastCheckIn *time.Time `json:"last_check_in,omitempty"`
}

type HealthCheckSpec struct {
	URL                 string     `json:"url" validate:"required,url"`
	Method              string     `json:"method" validate:"omitempty,oneof=GET HEAD POST PUT"`
	ExpectedStatusCodes []int      `json:"expected_status_codes" validate:"dive,gte=100,lte=599"`
	TimeoutSeconds      int        `json:"timeout_seconds" validate:"gte=0"`
	BodyMatchRegex      string     `json:"body_match_regex,omitempty"`
	LastCheckedAt       *time.Time `json:"last_checked_at,omitempty"`
}

type MetricSpec struct {
	Min               *float64          `json:"min,omitempty"`
	Max               *float64          `json:"max,omitempty"`
	Strategy          ThresholdStrategy `json:"threshold_strategy" validate:"omitempty,oneof=immediate consecutive_count time_duration_average sample_count_average"`
	ThresholdCount    int               `json:"threshold_count" validate:"gte=0"`
	WindowSeconds     int               `json:"window_seconds" validate:"gte=0"`
	WindowSampleCount int               `json:"window_sample_count" validate:"gte=0"`
	RetentionDays     int               `json:"retention_days" validate:"gte=0"`
	LastValue         *float64          `json:"last_value,omitempty"`
	LastValueAt       *time.Time        `json:"last_value_at,omitempty"`
}

type Alert struct {
	ID             string     `json:"id"`
	ServiceID      string     `json:"service_id"`
	Type           AlertType  `json:"type"`
	Severity       Severity   `json:"severity"`
	Message        string     `json:"message"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	DispatchedAt   *time.Time `json:"dispatched_at,omitempty"`
	// Set once peers have been told this alert could not be delivered.
	PeerNotifiedOfFailure bool `json:"peer_notified_of_failure"`
}

type MonitorEvent struct {
	ID           string    `json:"id"`
	MonitorID    string    `json:"monitor_id"`
	ServiceID    string    `json:"service_id"`
	EventType    string    `json:"event_type"`
	Success      bool      `json:"success"`
	Value        *float64  `json:"value,omitempty"`
	IsOutOfRange bool      `json:"is_out_of_range"`
	Message      string    `json:"message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type MetricReading struct {
	ID           string    `json:"id"`
	MonitorID    string    `json:"monitor_id"`
	Value        float64   `json:"value"`
	IsOutOfRange bool      `json:"is_out_of_range"`
	CreatedAt    time.Time `json:"created_at"`
}

type MonitorRollup struct {
	MonitorID     string      `json:"monitor_id"`
	ServiceID     string      `json:"service_id"`
	Granularity   Granularity `json:"granularity"`
	PeriodStart   time.Time   `json:"period_start"`
	PeriodEnd     time.Time   `json:"period_end"`
	Count         int         `json:"count"`
	SuccessCount  int         `json:"success_count"`
	FailureCount  int         `json:"failure_count"`
	UptimePercent *float64    `json:"uptime_percent"`
	Min           *float64    `json:"min"`
	Max           *float64    `json:"max"`
	Mean          *float64    `json:"mean"`
	Median        *float64    `json:"median"`
	P80           *float64    `json:"p80"`
	P90           *float64    `json:"p90"`
	P95           *float64    `json:"p95"`
	StdDev        *float64    `json:"std_dev"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

type ServiceDependency struct {
	ID                  string    `json:"id"`
	DependentServiceID  string    `json:"dependent_service_id"`
	DependencyServiceID string    `json:"dependency_service_id"`
	CreatedAt           time.Time `json:"created_at"`
}

type MuteWindow struct {
	ID        string    `json:"id"`
	ServiceID string    `json:"service_id"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the window covers t (start inclusive, end exclusive).
func (w MuteWindow) Active(t time.Time) bool {
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}

type Peer struct {
	ID                       string     `json:"id"`
	Name                     string     `json:"name"`
	URL                      string     `json:"url"`
	HeartbeatToken           string     `json:"heartbeat_token"`
	WebhookToken             string     `json:"webhook_token"`
	ServiceID                string     `json:"service_id"`
	PairedAt                 time.Time  `json:"paired_at"`
	HeartbeatIntervalSeconds int        `json:"heartbeat_interval_seconds"`
	LastHeartbeatSentAt      *time.Time `json:"last_heartbeat_sent_at,omitempty"`
}

type PairingSecret struct {
	Secret    string     `json:"secret"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

type ChannelType string

const (
	ChannelWebhook  ChannelType = "webhook"
	ChannelPushover ChannelType = "pushover"
	ChannelLog      ChannelType = "log"
)

type Channel struct {
	Type    ChannelType `json:"type" yaml:"type" validate:"required,oneof=webhook pushover log"`
	Target  string      `json:"target" yaml:"target"`
	Enabled bool        `json:"enabled" yaml:"enabled"`
}

type Contact struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	IsDefault bool      `json:"is_default"`
	Channels  []Channel `json:"channels" validate:"dive"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type MonitorFilters struct {
	ServiceID string
	Type      MonitorType
}

type AlertFilters struct {
	ServiceID    string
	Undispatched bool
	Limit        int
}

type ServiceFilters struct {
	State ServiceState
}

type DatabaseStats struct {
	TotalServices int       `json:"total_services"`
	TotalMonitors int       `json:"total_monitors"`
	TotalAlerts   int       `json:"total_alerts"`
	TotalEvents   int       `json:"total_events"`
	TotalReadings int       `json:"total_readings"`
	TotalRollups  int       `json:"total_rollups"`
	TotalPeers    int       `json:"total_peers"`
	DatabaseSize  int64     `json:"database_size_bytes"`
	OldestEvent   time.Time `json:"oldest_event"`
	NewestEvent   time.Time `json:"newest_event"`
}
