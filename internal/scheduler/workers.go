// internal/scheduler/workers.go - the background workers driving the engine
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/metrics"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EventRetention is how long generic monitor events are kept.
const EventRetention = 7 * 24 * time.Hour

// AlertDispatcher delivers one alert to its recipients and reports whether
// every attempted channel succeeded.
type AlertDispatcher interface {
	Dispatch(ctx context.Context, alert *database.Alert) (bool, error)
}

// PeerNotifier makes the outbound calls to paired instances.
type PeerNotifier interface {
	Heartbeat(ctx context.Context, peer *database.Peer) error
	Fail(ctx context.Context, peer *database.Peer) error
	Recover(ctx context.Context, peer *database.Peer) error
}

type base struct {
	name     string
	interval time.Duration
	metrics  *metrics.Collector
}

func (b base) Name() string            { return b.name }
func (b base) Interval() time.Duration { return b.interval }

func (b base) itemFailed(err error, fields logrus.Fields, msg string) {
	fields["worker"] = b.name
	logrus.WithError(err).WithFields(fields).Warn(msg)
	b.metrics.RecordItemError(b.name)
}

// ---- heartbeat ----

// HeartbeatMonitorWorker marks services Down whose heartbeat is overdue.
type HeartbeatMonitorWorker struct {
	base
	engine *monitoring.Engine
}

func NewHeartbeatMonitorWorker(engine *monitoring.Engine, interval time.Duration, collector *metrics.Collector) *HeartbeatMonitorWorker {
	return &HeartbeatMonitorWorker{base: base{"heartbeat", interval, collector}, engine: engine}
}

func (w *HeartbeatMonitorWorker) Tick(ctx context.Context) error {
	store := w.engine.Store()
	monitors, err := store.GetMonitors(ctx, database.MonitorFilters{Type: database.MonitorHeartbeat})
	if err != nil {
		return fmt.Errorf("failed to load heartbeat monitors: %w", err)
	}
	now := w.engine.Clock().Now()

	for i := range monitors {
		m := &monitors[i]
		last := m.CreatedAt
		if m.Heartbeat != nil && m.Heartbeat.LastCheckIn != nil {
			last = *m.Heartbeat.LastCheckIn
		}
		deadline := last.Add(time.Duration(m.IntervalSeconds+m.GracePeriodSeconds) * time.Second)
		if !deadline.Before(now) {
			continue
		}

		svc, err := store.GetService(ctx, m.ServiceID)
		if err != nil {
			w.itemFailed(err, logrus.Fields{"monitor_id": m.ID}, "Failed to load service")
			continue
		}
		if svc.State == database.StateDown || svc.State == database.StatePaused {
			continue
		}

		reason := fmt.Sprintf("no heartbeat since %s", last.Format(time.RFC3339))
		w.engine.RecordEvent(ctx, &database.MonitorEvent{
			MonitorID: m.ID,
			ServiceID: m.ServiceID,
			EventType: database.EventMissedHeartbeat,
			Success:   false,
			Message:   reason,
			CreatedAt: now,
		})
		if _, err := w.engine.TransitionToDown(ctx, m.ServiceID, database.AlertMissedHeartbeat, reason); err != nil {
			w.itemFailed(err, logrus.Fields{"monitor_id": m.ID, "service_id": m.ServiceID}, "Failed to mark missed heartbeat")
		}
	}
	return nil
}

// ---- health checks ----

// HealthCheckWorker probes due health-check monitors with bounded
// concurrency.
type HealthCheckWorker struct {
	base
	engine      *monitoring.Engine
	prober      monitoring.Prober
	concurrency int
}

func NewHealthCheckWorker(engine *monitoring.Engine, prober monitoring.Prober, interval time.Duration, concurrency int, collector *metrics.Collector) *HealthCheckWorker {
	if concurrency <= 0 {
		concurrency = 10
	}
	return &HealthCheckWorker{
		base:        base{"health_check", interval, collector},
		engine:      engine,
		prober:      prober,
		concurrency: concurrency,
	}
}

// due reports whether the monitor has never been probed or its interval has
// elapsed since the last probe.
func due(m *database.Monitor, now time.Time) bool {
	if m.HealthCheck == nil {
		return false
	}
	last := m.HealthCheck.LastCheckedAt
	if last == nil {
		return true
	}
	return !last.Add(time.Duration(m.IntervalSeconds) * time.Second).After(now)
}

func (w *HealthCheckWorker) Tick(ctx context.Context) error {
	store := w.engine.Store()
	monitors, err := store.GetMonitors(ctx, database.MonitorFilters{Type: database.MonitorHealthCheck})
	if err != nil {
		return fmt.Errorf("failed to load health-check monitors: %w", err)
	}
	now := w.engine.Clock().Now()

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i := range monitors {
		m := monitors[i]
		if !due(&m, now) {
			continue
		}
		g.Go(func() error {
			w.check(ctx, &m)
			return nil
		})
	}
	return g.Wait()
}

func (w *HealthCheckWorker) check(ctx context.Context, m *database.Monitor) {
	store := w.engine.Store()
	svc, err := store.GetService(ctx, m.ServiceID)
	if err != nil {
		w.itemFailed(err, logrus.Fields{"monitor_id": m.ID}, "Failed to load service")
		return
	}
	if svc.State == database.StatePaused {
		return
	}

	result := w.prober.Probe(ctx, m)
	w.metrics.RecordProbe(result.Success, result.Duration)
	now := w.engine.Clock().Now()

	if _, err := store.UpdateMonitor(ctx, m.ID, func(mon *database.Monitor) error {
		if mon.HealthCheck == nil {
			return database.ErrNoChange
		}
		mon.HealthCheck.LastCheckedAt = &now
		return nil
	}); err != nil {
		w.itemFailed(err, logrus.Fields{"monitor_id": m.ID}, "Failed to record probe time")
	}

	ms := float64(result.Duration.Milliseconds())
	w.engine.RecordEvent(ctx, &database.MonitorEvent{
		MonitorID: m.ID,
		ServiceID: m.ServiceID,
		EventType: database.EventHealthCheck,
		Success:   result.Success,
		Value:     &ms,
		Message:   result.Output,
		CreatedAt: now,
	})

	if result.Success {
		_, err = w.engine.TransitionToUp(ctx, m.ServiceID, result.Output)
	} else {
		_, err = w.engine.TransitionToDown(ctx, m.ServiceID, database.AlertFailedHealthCheck, result.Output)
	}
	if err != nil {
		w.itemFailed(err, logrus.Fields{"monitor_id": m.ID, "service_id": m.ServiceID}, "Failed to apply probe result")
	}
}

// ---- alert dispatch ----

// AlertDispatchWorker delivers undispatched alerts. When delivery fails the
// peers are told once through /fail; the first later success sends one
// /recover. The once-only flag lives on the alert so it survives restarts.
type AlertDispatchWorker struct {
	base
	store      database.Store
	dispatcher AlertDispatcher
	peers      PeerNotifier
}

func NewAlertDispatchWorker(store database.Store, dispatcher AlertDispatcher, peers PeerNotifier, interval time.Duration, collector *metrics.Collector) *AlertDispatchWorker {
	return &AlertDispatchWorker{
		base:       base{"alert_dispatch", interval, collector},
		store:      store,
		dispatcher: dispatcher,
		peers:      peers,
	}
}

func (w *AlertDispatchWorker) Tick(ctx context.Context) error {
	alerts, err := w.store.GetAlerts(ctx, database.AlertFilters{Undispatched: true})
	if err != nil {
		return fmt.Errorf("failed to load undispatched alerts: %w", err)
	}

	for i := range alerts {
		alert := &alerts[i]
		delivered, err := w.dispatcher.Dispatch(ctx, alert)
		if err != nil {
			w.itemFailed(err, logrus.Fields{"alert_id": alert.ID}, "Alert dispatch failed")
		}

		switch {
		case !delivered && !alert.PeerNotifiedOfFailure:
			if w.notifyPeers(ctx, alert, "fail") {
				w.setPeerFlag(ctx, alert.ID, true)
			}
		case delivered && alert.PeerNotifiedOfFailure:
			w.notifyPeers(ctx, alert, "recover")
			w.setPeerFlag(ctx, alert.ID, false)
		}
	}
	return nil
}

// notifyPeers calls every peer and reports whether there was anyone to
// notify. Individual peer failures are logged only.
func (w *AlertDispatchWorker) notifyPeers(ctx context.Context, alert *database.Alert, call string) bool {
	if w.peers == nil {
		return false
	}
	peers, err := w.store.GetPeers(ctx)
	if err != nil {
		w.itemFailed(err, logrus.Fields{"alert_id": alert.ID}, "Failed to load peers")
		return false
	}
	for i := range peers {
		peer := &peers[i]
		var err error
		if call == "fail" {
			err = w.peers.Fail(ctx, peer)
		} else {
			err = w.peers.Recover(ctx, peer)
		}
		if err != nil {
			w.itemFailed(err, logrus.Fields{"alert_id": alert.ID, "peer_url": peer.URL, "call": call}, "Peer notification failed")
		}
	}
	return len(peers) > 0
}

func (w *AlertDispatchWorker) setPeerFlag(ctx context.Context, alertID string, notified bool) {
	_, err := w.store.UpdateAlert(ctx, alertID, func(a *database.Alert) error {
		if a.PeerNotifiedOfFailure == notified {
			return database.ErrNoChange
		}
		a.PeerNotifiedOfFailure = notified
		return nil
	})
	if err != nil {
		w.itemFailed(err, logrus.Fields{"alert_id": alertID}, "Failed to persist peer notification flag")
	}
}

// ---- retention ----

// MetricRetentionWorker trims each metric monitor's readings to its own
// retention window.
type MetricRetentionWorker struct {
	base
	store database.Store
	clock monitoring.Clock
}

func NewMetricRetentionWorker(store database.Store, clock monitoring.Clock, interval time.Duration, collector *metrics.Collector) *MetricRetentionWorker {
	return &MetricRetentionWorker{base: base{"metric_retention", interval, collector}, store: store, clock: clock}
}

func (w *MetricRetentionWorker) Tick(ctx context.Context) error {
	monitors, err := w.store.GetMonitors(ctx, database.MonitorFilters{Type: database.MonitorMetric})
	if err != nil {
		return fmt.Errorf("failed to load metric monitors: %w", err)
	}
	now := w.clock.Now()

	total := 0
	for _, m := range monitors {
		if m.Metric == nil || m.Metric.RetentionDays <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -m.Metric.RetentionDays)
		n, err := w.store.DeleteReadingsBefore(ctx, m.ID, cutoff)
		if err != nil {
			w.itemFailed(err, logrus.Fields{"monitor_id": m.ID}, "Failed to purge readings")
			continue
		}
		total += n
	}
	if total > 0 {
		logrus.WithFields(logrus.Fields{"worker": w.name, "deleted": total}).Info("Purged metric readings")
	}
	return nil
}

// EventRetentionWorker purges old monitor events and rollups.
type EventRetentionWorker struct {
	base
	store database.Store
	clock monitoring.Clock
}

func NewEventRetentionWorker(store database.Store, clock monitoring.Clock, interval time.Duration, collector *metrics.Collector) *EventRetentionWorker {
	return &EventRetentionWorker{base: base{"event_retention", interval, collector}, store: store, clock: clock}
}

func (w *EventRetentionWorker) Tick(ctx context.Context) error {
	now := w.clock.Now()

	events, err := w.store.DeleteEventsBefore(ctx, now.Add(-EventRetention))
	if err != nil {
		w.itemFailed(err, logrus.Fields{}, "Failed to purge events")
	}

	rollups := 0
	for _, g := range database.Granularities {
		retention := monitoring.RetentionFor(g)
		if retention == 0 {
			continue
		}
		n, err := w.store.DeleteRollupsBefore(ctx, g, now.Add(-retention))
		if err != nil {
			w.itemFailed(err, logrus.Fields{"granularity": g}, "Failed to purge rollups")
			continue
		}
		rollups += n
	}

	if events > 0 || rollups > 0 {
		logrus.WithFields(logrus.Fields{
			"worker":  w.name,
			"events":  events,
			"rollups": rollups,
		}).Info("Purged history")
	}
	return nil
}

// ---- rollups ----

// RollupAggregationWorker upserts the rollup of the current period and of
// the one before it, so events landing just before a bucket closed are
// still counted.
type RollupAggregationWorker struct {
	base
	store database.Store
	clock monitoring.Clock
}

func NewRollupAggregationWorker(store database.Store, clock monitoring.Clock, interval time.Duration, collector *metrics.Collector) *RollupAggregationWorker {
	return &RollupAggregationWorker{base: base{"rollup", interval, collector}, store: store, clock: clock}
}

func (w *RollupAggregationWorker) Tick(ctx context.Context) error {
	monitors, err := w.store.GetMonitors(ctx, database.MonitorFilters{})
	if err != nil {
		return fmt.Errorf("failed to load monitors: %w", err)
	}
	now := w.clock.Now()

	for _, m := range monitors {
		for _, g := range database.Granularities {
			current := monitoring.PeriodStart(g, now)
			previous := monitoring.PeriodStart(g, current.Add(-time.Nanosecond))
			for _, start := range []time.Time{previous, current} {
				if err := w.aggregate(ctx, &m, g, start, now); err != nil {
					w.itemFailed(err, logrus.Fields{"monitor_id": m.ID, "granularity": g}, "Failed to aggregate rollup")
				}
			}
		}
	}
	return nil
}

func (w *RollupAggregationWorker) aggregate(ctx context.Context, m *database.Monitor, g database.Granularity, start, now time.Time) error {
	end := monitoring.PeriodEnd(g, start)
	events, err := w.store.GetEvents(ctx, m.ID, start, end.Add(-time.Nanosecond))
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	rollup := monitoring.ComputeRollup(events, m.ID, m.ServiceID, g, start)
	rollup.UpdatedAt = now
	return w.store.UpsertRollup(ctx, &rollup)
}

// ---- maintenance ----

// MaintenanceResumeWorker resumes paused services whose pause has expired.
type MaintenanceResumeWorker struct {
	base
	engine *monitoring.Engine
}

func NewMaintenanceResumeWorker(engine *monitoring.Engine, interval time.Duration, collector *metrics.Collector) *MaintenanceResumeWorker {
	return &MaintenanceResumeWorker{base: base{"maintenance", interval, collector}, engine: engine}
}

func (w *MaintenanceResumeWorker) Tick(ctx context.Context) error {
	services, err := w.engine.Store().GetServices(ctx, database.ServiceFilters{State: database.StatePaused})
	if err != nil {
		return fmt.Errorf("failed to load paused services: %w", err)
	}
	now := w.engine.Clock().Now()

	for _, svc := range services {
		if !svc.AutoResume || svc.PausedUntil == nil || !svc.PausedUntil.Before(now) {
			continue
		}
		if _, err := w.engine.Resume(ctx, svc.ID); err != nil {
			w.itemFailed(err, logrus.Fields{"service_id": svc.ID}, "Failed to resume service")
			continue
		}
		logrus.WithFields(logrus.Fields{"worker": w.name, "service_id": svc.ID}).Info("Maintenance window ended")
	}
	return nil
}

// ---- peer heartbeat ----

// PeerHeartbeatWorker pushes this instance's heartbeat to each peer on the
// peer's own interval.
type PeerHeartbeatWorker struct {
	base
	store           database.Store
	client          PeerNotifier
	clock           monitoring.Clock
	defaultInterval time.Duration
}

func NewPeerHeartbeatWorker(store database.Store, client PeerNotifier, clock monitoring.Clock, interval, defaultPeerInterval time.Duration, collector *metrics.Collector) *PeerHeartbeatWorker {
	return &PeerHeartbeatWorker{
		base:            base{"peer_heartbeat", interval, collector},
		store:           store,
		client:          client,
		clock:           clock,
		defaultInterval: defaultPeerInterval,
	}
}

func (w *PeerHeartbeatWorker) Tick(ctx context.Context) error {
	peers, err := w.store.GetPeers(ctx)
	if err != nil {
		return fmt.Errorf("failed to load peers: %w", err)
	}
	now := w.clock.Now()

	for i := range peers {
		peer := &peers[i]
		interval := time.Duration(peer.HeartbeatIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = w.defaultInterval
		}
		if peer.LastHeartbeatSentAt != nil && now.Sub(*peer.LastHeartbeatSentAt) < interval {
			continue
		}

		if err := w.client.Heartbeat(ctx, peer); err != nil {
			w.itemFailed(err, logrus.Fields{"peer_url": peer.URL}, "Peer heartbeat failed")
			continue
		}
		sent := now
		_, err := w.store.UpdatePeer(ctx, peer.ID, func(p *database.Peer) error {
			p.LastHeartbeatSentAt = &sent
			return nil
		})
		if errors.Is(err, database.ErrNotFound) {
			// unpaired while the heartbeat was in flight
			continue
		}
		if err != nil {
			w.itemFailed(err, logrus.Fields{"peer_url": peer.URL}, "Failed to record peer heartbeat")
		}
	}
	return nil
}
