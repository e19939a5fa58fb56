package monitoring

import (
	"context"
	"errors"
	"fmt"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/sirupsen/logrus"
)

// SyncConfig creates or updates the contacts, services, monitors and
// dependencies declared in the configuration. Runtime state (service state,
// last check-ins, readings) is left as it is. Nothing is removed from the
// store for entries that disappeared from the file.
func SyncConfig(ctx context.Context, engine *Engine, cfg *config.Config) error {
	store := engine.Store()

	contactIDs, err := syncContacts(ctx, store, cfg.Contacts)
	if err != nil {
		return err
	}

	for _, sc := range cfg.Services {
		if err := syncService(ctx, store, sc, contactIDs); err != nil {
			return fmt.Errorf("service %s: %w", sc.ID, err)
		}
	}

	for _, sc := range cfg.Services {
		for _, dep := range sc.DependsOn {
			_, err := engine.AddDependency(ctx, sc.ID, dep)
			if err != nil && !errors.Is(err, database.ErrConflict) {
				return fmt.Errorf("dependency %s -> %s: %w", sc.ID, dep, err)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"contacts": len(cfg.Contacts),
		"services": len(cfg.Services),
	}).Info("Configuration synced to store")
	return nil
}

func syncContacts(ctx context.Context, store database.Store, contacts []config.ContactConfig) (map[string]string, error) {
	existing, err := store.GetContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load contacts: %w", err)
	}
	byName := make(map[string]database.Contact)
	for _, c := range existing {
		byName[c.Name] = c
	}

	ids := make(map[string]string)
	for _, cc := range contacts {
		contact := &database.Contact{
			ID:        cc.ID,
			Name:      cc.Name,
			IsDefault: cc.Default,
			Channels:  cc.Channels,
		}
		if prev, ok := byName[cc.Name]; ok {
			if contact.ID == "" {
				contact.ID = prev.ID
			}
			contact.CreatedAt = prev.CreatedAt
		}
		if err := contact.Validate(); err != nil {
			return nil, fmt.Errorf("contact %s: %w", cc.Name, err)
		}
		if err := store.SaveContact(ctx, contact); err != nil {
			return nil, fmt.Errorf("contact %s: %w", cc.Name, err)
		}
		ids[cc.Name] = contact.ID
	}
	return ids, nil
}

func syncService(ctx context.Context, store database.Store, sc config.ServiceConfig, contactIDs map[string]string) error {
	contacts := make([]string, 0, len(sc.Contacts))
	for _, name := range sc.Contacts {
		if id, ok := contactIDs[name]; ok {
			contacts = append(contacts, id)
		}
	}

	_, err := store.GetService(ctx, sc.ID)
	switch {
	case errors.Is(err, database.ErrNotFound):
		svc := &database.Service{
			ID:          sc.ID,
			Name:        sc.Name,
			Description: sc.Description,
			Severity:    database.Severity(sc.Severity),
			ContactIDs:  contacts,
		}
		if err := svc.Validate(); err != nil {
			return err
		}
		if err := store.CreateService(ctx, svc); err != nil {
			return err
		}
		logrus.WithField("service_id", sc.ID).Info("Created service from configuration")
	case err != nil:
		return err
	default:
		_, err = store.UpdateService(ctx, sc.ID, func(svc *database.Service) error {
			svc.Name = sc.Name
			svc.Description = sc.Description
			if sc.Severity != "" {
				svc.Severity = database.Severity(sc.Severity)
			}
			svc.ContactIDs = contacts
			return svc.Validate()
		})
		if err != nil {
			return err
		}
	}

	for i, mc := range sc.Monitors {
		if mc.ID == "" {
			mc.ID = fmt.Sprintf("%s-%s-%d", sc.ID, mc.Type, i)
		}
		if err := syncMonitor(ctx, store, sc.ID, mc); err != nil {
			return fmt.Errorf("monitor %s: %w", mc.ID, err)
		}
	}
	return nil
}

func syncMonitor(ctx context.Context, store database.Store, serviceID string, mc config.MonitorConfig) error {
	desired := mc.ToMonitor(serviceID)
	desired.ApplyDefaults()
	if err := desired.Validate(); err != nil {
		return err
	}

	_, err := store.GetMonitor(ctx, mc.ID)
	if errors.Is(err, database.ErrNotFound) {
		return store.CreateMonitor(ctx, desired)
	}
	if err != nil {
		return err
	}

	_, err = store.UpdateMonitor(ctx, mc.ID, func(m *database.Monitor) error {
		if m.Type != desired.Type {
			return fmt.Errorf("%w: monitor type cannot change from %s to %s", database.ErrInvalid, m.Type, desired.Type)
		}
		m.IntervalSeconds = desired.IntervalSeconds
		m.GracePeriodSeconds = desired.GracePeriodSeconds
		switch m.Type {
		case database.MonitorHealthCheck:
			if m.HealthCheck != nil {
				desired.HealthCheck.LastCheckedAt = m.HealthCheck.LastCheckedAt
			}
			m.HealthCheck = desired.HealthCheck
		case database.MonitorMetric:
			if m.Metric != nil {
				desired.Metric.LastValue = m.Metric.LastValue
				desired.Metric.LastValueAt = m.Metric.LastValueAt
			}
			m.Metric = desired.Metric
		}
		return nil
	})
	return err
}
