// internal/notifications/dispatcher.go - alert delivery to contact channels
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/metrics"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/sirupsen/logrus"
)

const UserAgent = "Sentinel Service Monitor/1.0"

// Notice is what a sender delivers: the alert plus the service it concerns.
type Notice struct {
	Alert   *database.Alert   `json:"alert"`
	Service *database.Service `json:"service"`
}

// Sender delivers a notice to one channel target.
type Sender interface {
	Send(ctx context.Context, target string, notice *Notice) error
}

// Dispatcher resolves the recipients of an alert and hands it to the sender
// registered for each enabled channel type.
type Dispatcher struct {
	store    database.Store
	clock    monitoring.Clock
	senders  map[database.ChannelType]Sender
	fallback []database.Channel
	metrics  *metrics.Collector
}

func NewDispatcher(store database.Store, clock monitoring.Clock, fallback []database.Channel, collector *metrics.Collector) *Dispatcher {
	if clock == nil {
		clock = monitoring.SystemClock()
	}
	return &Dispatcher{
		store:    store,
		clock:    clock,
		senders:  make(map[database.ChannelType]Sender),
		fallback: fallback,
		metrics:  collector,
	}
}

// Register installs the sender for a channel type, replacing any previous one.
func (d *Dispatcher) Register(channelType database.ChannelType, sender Sender) {
	d.senders[channelType] = sender
}

// Recipients returns the channels an alert for svc goes to: the service's
// contacts, else the default contact, else the configured fallback.
func (d *Dispatcher) Recipients(ctx context.Context, svc *database.Service) ([]database.Channel, error) {
	var channels []database.Channel
	for _, id := range svc.ContactIDs {
		contact, err := d.store.GetContact(ctx, id)
		if errors.Is(err, database.ErrNotFound) {
			logrus.WithFields(logrus.Fields{
				"service_id": svc.ID,
				"contact_id": id,
			}).Warn("Service references missing contact")
			continue
		}
		if err != nil {
			return nil, err
		}
		channels = append(channels, contact.Channels...)
	}
	if len(channels) > 0 {
		return channels, nil
	}

	contacts, err := d.store.GetContacts(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range contacts {
		if c.IsDefault && len(c.Channels) > 0 {
			return c.Channels, nil
		}
	}

	return d.fallback, nil
}

// Dispatch sends the alert to every enabled recipient channel. Channel
// failures are logged and do not stop the others. DispatchedAt is persisted
// only when at least one channel was tried and all of them succeeded; the
// returned bool reports exactly that.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *database.Alert) (bool, error) {
	svc, err := d.store.GetService(ctx, alert.ServiceID)
	if err != nil {
		return false, fmt.Errorf("failed to load service for alert %s: %w", alert.ID, err)
	}

	channels, err := d.Recipients(ctx, svc)
	if err != nil {
		return false, fmt.Errorf("failed to resolve recipients: %w", err)
	}

	notice := &Notice{Alert: alert, Service: svc}
	attempted, failed := 0, 0
	for _, ch := range channels {
		if !ch.Enabled {
			continue
		}
		sender, ok := d.senders[ch.Type]
		if !ok {
			logrus.WithFields(logrus.Fields{
				"alert_id": alert.ID,
				"channel":  ch.Type,
			}).Warn("No sender registered for channel type")
			continue
		}

		attempted++
		err := sender.Send(ctx, ch.Target, notice)
		d.metrics.RecordNotification(ch.Type, err)
		if err != nil {
			failed++
			logrus.WithError(err).WithFields(logrus.Fields{
				"alert_id":   alert.ID,
				"service_id": alert.ServiceID,
				"channel":    ch.Type,
			}).Error("Failed to send notification")
		}
	}

	if attempted == 0 || failed > 0 {
		return false, nil
	}

	now := d.clock.Now()
	_, err = d.store.UpdateAlert(ctx, alert.ID, func(a *database.Alert) error {
		a.DispatchedAt = &now
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("failed to mark alert %s dispatched: %w", alert.ID, err)
	}
	alert.DispatchedAt = &now

	logrus.WithFields(logrus.Fields{
		"alert_id":   alert.ID,
		"service_id": alert.ServiceID,
		"channels":   attempted,
	}).Info("Alert dispatched")
	return true, nil
}

// SendTest pushes a synthetic notice through one channel. Nothing is stored.
func (d *Dispatcher) SendTest(ctx context.Context, ch database.Channel, message string) error {
	sender, ok := d.senders[ch.Type]
	if !ok {
		return fmt.Errorf("%w: no sender for channel type %s", database.ErrInvalid, ch.Type)
	}
	notice := &Notice{
		Alert: &database.Alert{
			ID:        "test",
			Type:      database.AlertFailure,
			Severity:  database.SeverityLow,
			Message:   message,
			CreatedAt: d.clock.Now(),
		},
		Service: &database.Service{ID: "test", Name: "Sentinel test notification"},
	}
	err := sender.Send(ctx, ch.Target, notice)
	d.metrics.RecordNotification(ch.Type, err)
	return err
}

// LogSender writes the notice to the application log.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, target string, notice *Notice) error {
	logrus.WithFields(logrus.Fields{
		"alert_id":   notice.Alert.ID,
		"service_id": notice.Service.ID,
		"service":    notice.Service.Name,
		"type":       notice.Alert.Type,
		"severity":   notice.Alert.Severity,
		"target":     target,
		"created_at": notice.Alert.CreatedAt.Format(time.RFC3339),
	}).Warn(notice.Alert.Message)
	return nil
}
