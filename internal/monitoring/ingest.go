package monitoring

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/sirupsen/logrus"
)

type HeartbeatResult struct {
	Received           bool      `json:"received"`
	NextExpectedBefore time.Time `json:"nextExpectedBefore"`
	AlertCreated       bool      `json:"alertCreated"`
}

type WebhookResult struct {
	Received     bool `json:"received"`
	AlertCreated bool `json:"alertCreated"`
}

type MetricResult struct {
	Received   bool    `json:"received"`
	Value      float64 `json:"value"`
	OutOfRange bool    `json:"outOfRange"`
	Violation  bool    `json:"violation"`
}

// Ingestor turns push signals into recorded observations and state
// transitions. It never sends notifications; alerts wait for the dispatch
// worker.
type Ingestor struct {
	engine    *Engine
	evaluator *Evaluator
}

func NewIngestor(engine *Engine) *Ingestor {
	return &Ingestor{
		engine:    engine,
		evaluator: NewEvaluator(engine.store, engine.clock),
	}
}

func (i *Ingestor) monitorFor(ctx context.Context, token string, want database.MonitorType) (*database.Monitor, error) {
	monitor, err := i.engine.store.GetMonitorByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if monitor.Type != want {
		return nil, fmt.Errorf("%s monitor: %w", monitor.Type, ErrWrongMonitorType)
	}
	return monitor, nil
}

func (i *Ingestor) Heartbeat(ctx context.Context, token string) (*HeartbeatResult, error) {
	monitor, err := i.monitorFor(ctx, token, database.MonitorHeartbeat)
	if err != nil {
		i.engine.metrics.RecordIngestion("heartbeat", err)
		return nil, err
	}
	now := i.engine.clock.Now()

	if _, err := i.engine.store.UpdateMonitor(ctx, monitor.ID, func(m *database.Monitor) error {
		if m.Heartbeat == nil {
			m.Heartbeat = &database.HeartbeatSpec{}
		}
		m.Heartbeat.LastCheckIn = &now
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}

	i.record(ctx, &database.MonitorEvent{
		MonitorID: monitor.ID,
		ServiceID: monitor.ServiceID,
		EventType: database.EventHeartbeat,
		Success:   true,
		CreatedAt: now,
	})

	t, err := i.engine.TransitionToUp(ctx, monitor.ServiceID, "heartbeat received")
	i.engine.metrics.RecordIngestion("heartbeat", err)
	if err != nil {
		return nil, err
	}

	window := time.Duration(monitor.IntervalSeconds+monitor.GracePeriodSeconds) * time.Second
	return &HeartbeatResult{
		Received:           true,
		NextExpectedBefore: now.Add(window),
		AlertCreated:       t != nil && t.Alert != nil,
	}, nil
}

func (i *Ingestor) WebhookFail(ctx context.Context, token string) (*WebhookResult, error) {
	return i.webhook(ctx, token, false)
}

func (i *Ingestor) WebhookRecover(ctx context.Context, token string) (*WebhookResult, error) {
	return i.webhook(ctx, token, true)
}

func (i *Ingestor) webhook(ctx context.Context, token string, recovered bool) (*WebhookResult, error) {
	monitor, err := i.monitorFor(ctx, token, database.MonitorWebhook)
	if err != nil {
		i.engine.metrics.RecordIngestion("webhook", err)
		return nil, err
	}

	eventType := database.EventWebhookFail
	if recovered {
		eventType = database.EventWebhookRecover
	}
	i.record(ctx, &database.MonitorEvent{
		MonitorID: monitor.ID,
		ServiceID: monitor.ServiceID,
		EventType: eventType,
		Success:   recovered,
		CreatedAt: i.engine.clock.Now(),
	})

	var t *Transition
	if recovered {
		t, err = i.engine.TransitionToUp(ctx, monitor.ServiceID, "webhook reported recovery")
	} else {
		t, err = i.engine.TransitionToDown(ctx, monitor.ServiceID, database.AlertFailure, "webhook reported failure")
	}
	i.engine.metrics.RecordIngestion("webhook", err)
	if err != nil {
		return nil, err
	}
	return &WebhookResult{Received: true, AlertCreated: t != nil && t.Alert != nil}, nil
}

// Metric evaluates value against the monitor's threshold before storing it,
// so the strategies only see prior readings.
func (i *Ingestor) Metric(ctx context.Context, token string, value *float64) (*MetricResult, error) {
	if value == nil {
		i.engine.metrics.RecordIngestion("metric", ErrMissingValue)
		return nil, ErrMissingValue
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		i.engine.metrics.RecordIngestion("metric", ErrNonFiniteValue)
		return nil, ErrNonFiniteValue
	}
	monitor, err := i.monitorFor(ctx, token, database.MonitorMetric)
	if err != nil {
		i.engine.metrics.RecordIngestion("metric", err)
		return nil, err
	}

	violation, err := i.evaluator.Evaluate(ctx, monitor, *value)
	if err != nil {
		return nil, err
	}
	outOfRange := IsOutOfRange(*value, monitor.Metric)
	now := i.engine.clock.Now()

	if err := i.engine.store.AppendReading(ctx, &database.MetricReading{
		MonitorID:    monitor.ID,
		Value:        *value,
		IsOutOfRange: outOfRange,
		CreatedAt:    now,
	}); err != nil {
		return nil, fmt.Errorf("failed to store reading: %w", err)
	}
	if _, err := i.engine.store.UpdateMonitor(ctx, monitor.ID, func(m *database.Monitor) error {
		if m.Metric == nil {
			return database.ErrNoChange
		}
		v := *value
		m.Metric.LastValue = &v
		m.Metric.LastValueAt = &now
		return nil
	}); err != nil {
		logrus.WithError(err).WithField("monitor_id", monitor.ID).Warn("Failed to update last metric value")
	}

	i.record(ctx, &database.MonitorEvent{
		MonitorID:    monitor.ID,
		ServiceID:    monitor.ServiceID,
		EventType:    database.EventMetric,
		Success:      !outOfRange,
		Value:        value,
		IsOutOfRange: outOfRange,
		CreatedAt:    now,
	})

	if violation {
		_, err = i.engine.TransitionToDown(ctx, monitor.ServiceID, database.AlertFailure,
			fmt.Sprintf("metric value %g violates threshold", *value))
	} else {
		_, err = i.engine.TransitionToUp(ctx, monitor.ServiceID, "metric within threshold")
	}
	i.engine.metrics.RecordIngestion("metric", err)
	if err != nil {
		return nil, err
	}

	return &MetricResult{
		Received:   true,
		Value:      *value,
		OutOfRange: outOfRange,
		Violation:  violation,
	}, nil
}

// RecordEvent appends an observation and publishes it to live subscribers.
// Failures are logged; a lost observation never blocks a transition.
func (e *Engine) RecordEvent(ctx context.Context, event *database.MonitorEvent) {
	if err := e.store.AppendEvent(ctx, event); err != nil {
		logrus.WithError(err).WithField("monitor_id", event.MonitorID).Error("Failed to record monitor event")
		return
	}
	e.publish(events.TypeMonitorEvent, event)
}

func (i *Ingestor) record(ctx context.Context, event *database.MonitorEvent) {
	i.engine.RecordEvent(ctx, event)
}
