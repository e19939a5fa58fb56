// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/John-MustangGT/sentinel/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Publisher receives live-update events. *events.Broker satisfies it.
type Publisher interface {
	Publish(evt events.Event)
}

// Transition describes a state change that actually happened. Alert is nil
// when no alert was due or it was withheld by a mute window or suppression.
type Transition struct {
	ServiceID string                `json:"service_id"`
	From      database.ServiceState `json:"from"`
	To        database.ServiceState `json:"to"`
	Alert     *database.Alert       `json:"alert,omitempty"`
}

// Engine is the only writer of service state. Every read-modify-write of a
// service runs inside one store transaction, so concurrent triggers for the
// same service see each other's result and at most one of them transitions.
type Engine struct {
	store     database.Store
	clock     Clock
	publisher Publisher
	metrics   *metrics.Collector
}

func NewEngine(store database.Store, clock Clock, publisher Publisher, collector *metrics.Collector) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	return &Engine{
		store:     store,
		clock:     clock,
		publisher: publisher,
		metrics:   collector,
	}
}

func (e *Engine) Store() database.Store { return e.store }
func (e *Engine) Clock() Clock          { return e.clock }

// TransitionToUp moves a service to Up. Paused services and services that are
// already Up are left alone. Only Down -> Up raises a recovery alert.
func (e *Engine) TransitionToUp(ctx context.Context, serviceID, reason string) (*Transition, error) {
	return e.transition(ctx, serviceID, database.StateUp, database.AlertRecovery, reason)
}

// TransitionToDown moves a service to Down and raises an alert of alertType
// unless the service is muted or suppressed.
func (e *Engine) TransitionToDown(ctx context.Context, serviceID string, alertType database.AlertType, reason string) (*Transition, error) {
	return e.transition(ctx, serviceID, database.StateDown, alertType, reason)
}

func (e *Engine) transition(ctx context.Context, serviceID string, target database.ServiceState, alertType database.AlertType, reason string) (*Transition, error) {
	now := e.clock.Now()
	muted, err := e.IsMuted(ctx, serviceID, now)
	if err != nil {
		return nil, err
	}

	var (
		from     database.ServiceState
		withhold string
	)
	updated, alert, err := e.store.TransitionService(ctx, serviceID, func(svc *database.Service) (*database.Alert, error) {
		if svc.State == database.StatePaused || svc.State == target {
			return nil, database.ErrNoChange
		}
		from = svc.State
		svc.PreviousState = svc.State
		svc.State = target
		svc.LastStateChange = now

		switch {
		case muted:
			withhold = "muted"
		case svc.IsSuppressed:
			withhold = "suppressed"
		}
		if withhold != "" || (target != database.StateDown && from != database.StateDown) {
			return nil, nil
		}
		return &database.Alert{
			ServiceID: serviceID,
			Type:      alertType,
			Severity:  svc.Severity,
			Message:   alertMessage(svc, target, reason),
			CreatedAt: now,
		}, nil
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to transition service: %w", err)
	}
	if updated == nil {
		return nil, nil
	}

	t := &Transition{ServiceID: serviceID, From: from, To: target, Alert: alert}
	e.metrics.RecordTransition(from, target)

	alertDue := target == database.StateDown || from == database.StateDown
	if alertDue && withhold != "" {
		e.metrics.RecordWithheldAlert(withhold)
		logrus.WithFields(logrus.Fields{
			"service_id": serviceID,
			"to":         target,
			"reason":     withhold,
		}).Info("Alert withheld")
	}
	if alert != nil {
		e.metrics.RecordAlert(alert.Type, alert.Severity)
		e.publish(events.TypeAlertCreated, alert)
	}

	logrus.WithFields(logrus.Fields{
		"service_id": serviceID,
		"from":       from,
		"to":         target,
		"reason":     reason,
	}).Info("Service state changed")
	e.publish(events.TypeServiceState, t)

	if err := e.cascade(ctx, updated, from, target); err != nil {
		logrus.WithError(err).WithField("service_id", serviceID).Error("Failed to update dependent suppression")
	}
	return t, nil
}

func alertMessage(svc *database.Service, target database.ServiceState, reason string) string {
	verb := "is down"
	if target == database.StateUp {
		verb = "recovered"
	}
	if reason == "" {
		return fmt.Sprintf("%s %s", svc.Name, verb)
	}
	return fmt.Sprintf("%s %s: %s", svc.Name, verb, reason)
}

// cascade keeps dependents' suppression flags in line with the new state.
// Entering Down suppresses every transitive dependent; leaving Down
// re-evaluates them, since another dependency may still be failing.
func (e *Engine) cascade(ctx context.Context, svc *database.Service, from, to database.ServiceState) error {
	if to != database.StateDown && from != database.StateDown {
		return nil
	}

	graph, err := e.graph(ctx)
	if err != nil {
		return err
	}
	dependents := graph.TransitiveDependentIDs(svc.ID)
	if len(dependents) == 0 {
		return nil
	}

	if to == database.StateDown {
		reason := fmt.Sprintf("dependency %s is down", svc.Name)
		for _, id := range dependents {
			if err := e.setSuppressed(ctx, id, true, reason); err != nil {
				logrus.WithError(err).WithField("service_id", id).Warn("Failed to suppress dependent")
			}
		}
		return nil
	}
	return e.recomputeSuppression(ctx, graph, dependents)
}

// recomputeSuppression sets each service's flag from the current state of its
// transitive dependencies.
func (e *Engine) recomputeSuppression(ctx context.Context, graph *Graph, serviceIDs []string) error {
	services, err := e.store.GetServices(ctx, database.ServiceFilters{})
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}
	byID := make(map[string]database.Service, len(services))
	for _, s := range services {
		byID[s.ID] = s
	}

	for _, id := range serviceIDs {
		var failing *database.Service
		for _, depID := range graph.TransitiveDependencyIDs(id) {
			if dep, ok := byID[depID]; ok && dep.State == database.StateDown {
				failing = &dep
				break
			}
		}

		reason := ""
		if failing != nil {
			reason = fmt.Sprintf("dependency %s is down", failing.Name)
		}
		if err := e.setSuppressed(ctx, id, failing != nil, reason); err != nil {
			logrus.WithError(err).WithField("service_id", id).Warn("Failed to recompute suppression")
		}
	}
	return nil
}

func (e *Engine) setSuppressed(ctx context.Context, serviceID string, suppressed bool, reason string) error {
	_, err := e.store.UpdateService(ctx, serviceID, func(svc *database.Service) error {
		if svc.IsSuppressed == suppressed && svc.SuppressionReason == reason {
			return database.ErrNoChange
		}
		svc.IsSuppressed = suppressed
		svc.SuppressionReason = reason
		return nil
	})
	return err
}

func (e *Engine) graph(ctx context.Context) (*Graph, error) {
	edges, err := e.store.GetDependencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load dependencies: %w", err)
	}
	return NewGraph(edges), nil
}

// Pause parks a service. Signals are ignored until it is resumed.
func (e *Engine) Pause(ctx context.Context, serviceID string, until *time.Time, autoResume bool) (*Transition, error) {
	var from database.ServiceState
	updated, err := e.store.UpdateService(ctx, serviceID, func(svc *database.Service) error {
		if svc.State == database.StatePaused {
			return database.ErrNoChange
		}
		from = svc.State
		svc.PreviousState = svc.State
		svc.State = database.StatePaused
		svc.PausedUntil = until
		svc.AutoResume = autoResume
		svc.LastStateChange = e.clock.Now()
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pause service: %w", err)
	}
	if updated == nil {
		return nil, nil
	}
	return e.finishManual(ctx, updated, from, database.StatePaused), nil
}

// Resume returns a paused service to Unknown; the next signal decides its
// state. The state held before the pause is not restored.
func (e *Engine) Resume(ctx context.Context, serviceID string) (*Transition, error) {
	updated, err := e.store.UpdateService(ctx, serviceID, func(svc *database.Service) error {
		if svc.State != database.StatePaused {
			return database.ErrNoChange
		}
		svc.State = database.StateUnknown
		svc.PausedUntil = nil
		svc.AutoResume = false
		svc.LastStateChange = e.clock.Now()
		return nil
	})
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resume service: %w", err)
	}
	if updated == nil {
		return nil, nil
	}
	return e.finishManual(ctx, updated, database.StatePaused, database.StateUnknown), nil
}

func (e *Engine) finishManual(ctx context.Context, svc *database.Service, from, to database.ServiceState) *Transition {
	t := &Transition{ServiceID: svc.ID, From: from, To: to}
	e.metrics.RecordTransition(from, to)
	e.publish(events.TypeServiceState, t)
	logrus.WithFields(logrus.Fields{
		"service_id": svc.ID,
		"from":       from,
		"to":         to,
	}).Info("Service state changed")

	if err := e.cascade(ctx, svc, from, to); err != nil {
		logrus.WithError(err).WithField("service_id", svc.ID).Error("Failed to update dependent suppression")
	}
	return t
}

// AddDependency records that dependentID fails when dependencyID fails. The
// cycle check and the insert happen in one store transaction.
func (e *Engine) AddDependency(ctx context.Context, dependentID, dependencyID string) (*database.ServiceDependency, error) {
	if dependentID == dependencyID {
		return nil, ErrSelfDependency
	}

	dep := &database.ServiceDependency{
		DependentServiceID:  dependentID,
		DependencyServiceID: dependencyID,
		CreatedAt:           e.clock.Now(),
	}
	err := e.store.CreateDependency(ctx, dep, func(existing []database.ServiceDependency) error {
		if NewGraph(existing).WouldCreateCycle(dependentID, dependencyID) {
			return ErrDependencyCycle
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := e.refreshSuppressionFrom(ctx, dependentID); err != nil {
		logrus.WithError(err).WithField("service_id", dependentID).Warn("Failed to refresh suppression after dependency change")
	}
	return dep, nil
}

func (e *Engine) RemoveDependency(ctx context.Context, dependentID, dependencyID string) error {
	if err := e.store.DeleteDependency(ctx, dependentID, dependencyID); err != nil {
		return err
	}
	if err := e.refreshSuppressionFrom(ctx, dependentID); err != nil {
		logrus.WithError(err).WithField("service_id", dependentID).Warn("Failed to refresh suppression after dependency change")
	}
	return nil
}

// DeleteService removes a service with its monitors, history and edges, then
// recomputes suppression for what used to depend on it.
func (e *Engine) DeleteService(ctx context.Context, serviceID string) error {
	graph, err := e.graph(ctx)
	if err != nil {
		return err
	}
	dependents := graph.TransitiveDependentIDs(serviceID)

	if err := e.store.DeleteService(ctx, serviceID); err != nil {
		return err
	}
	if len(dependents) == 0 {
		return nil
	}

	graph, err = e.graph(ctx)
	if err != nil {
		return err
	}
	return e.recomputeSuppression(ctx, graph, dependents)
}

// refreshSuppressionFrom recomputes the flag of serviceID and of everything
// downstream of it.
func (e *Engine) refreshSuppressionFrom(ctx context.Context, serviceID string) error {
	graph, err := e.graph(ctx)
	if err != nil {
		return err
	}
	ids := append([]string{serviceID}, graph.TransitiveDependentIDs(serviceID)...)
	return e.recomputeSuppression(ctx, graph, ids)
}

// AcknowledgeAlert stamps the alert once. A second call fails with
// ErrAlreadyAcknowledged.
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID string) (*database.Alert, error) {
	now := e.clock.Now()
	return e.store.UpdateAlert(ctx, alertID, func(a *database.Alert) error {
		if a.AcknowledgedAt != nil {
			return ErrAlreadyAcknowledged
		}
		a.AcknowledgedAt = &now
		return nil
	})
}

// IsMuted reports whether any mute window of the service covers now.
func (e *Engine) IsMuted(ctx context.Context, serviceID string, now time.Time) (bool, error) {
	windows, err := e.store.GetMuteWindows(ctx, serviceID)
	if err != nil {
		return false, fmt.Errorf("failed to load mute windows: %w", err)
	}
	for _, w := range windows {
		if w.Active(now) {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) publish(eventType string, payload interface{}) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(events.Event{Type: eventType, Payload: payload, Time: e.clock.Now()})
}
