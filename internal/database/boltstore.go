// internal/database/boltstore.go - BoltDB implementation of the entity store
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	ServicesBucket     = []byte("services")
	MonitorsBucket     = []byte("monitors")
	TokensBucket       = []byte("monitor_tokens")
	AlertsBucket       = []byte("alerts")
	EventsBucket       = []byte("monitor_events")
	ReadingsBucket     = []byte("metric_readings")
	RollupsBucket      = []byte("monitor_rollups")
	DependenciesBucket = []byte("service_dependencies")
	MuteWindowsBucket  = []byte("mute_windows")
	ContactsBucket     = []byte("contacts")
	PeersBucket        = []byte("peers")
	PairingBucket      = []byte("pairing_secrets")
	MetaBucket         = []byte("meta")

	allBuckets = [][]byte{
		ServicesBucket, MonitorsBucket, TokensBucket, AlertsBucket, EventsBucket,
		ReadingsBucket, RollupsBucket, DependenciesBucket, MuteWindowsBucket,
		ContactsBucket, PeersBucket, PairingBucket, MetaBucket,
	}
)

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func putJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

func getJSON(b *bbolt.Bucket, key string, v interface{}) error {
	data := b.Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// ---- services ----

func (s *BoltStore) GetServices(ctx context.Context, filters ServiceFilters) ([]Service, error) {
	var services []Service

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(ServicesBucket).ForEach(func(k, v []byte) error {
			var service Service
			if err := json.Unmarshal(v, &service); err != nil {
				return fmt.Errorf("failed to unmarshal service %s: %w", k, err)
			}
			if filters.State != "" && service.State != filters.State {
				return nil
			}
			services = append(services, service)
			return nil
		})
	})

	sort.Slice(services, func(i, j int) bool {
		if services[i].Name != services[j].Name {
			return services[i].Name < services[j].Name
		}
		return services[i].ID < services[j].ID
	})
	return services, err
}

func (s *BoltStore) GetService(ctx context.Context, id string) (*Service, error) {
	var service Service
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(ServicesBucket), id, &service)
	})
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", id, err)
	}
	return &service, nil
}

func (s *BoltStore) CreateService(ctx context.Context, service *Service) error {
	if service.ID == "" {
		service.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if service.CreatedAt.IsZero() {
		service.CreatedAt = now
	}
	if service.LastStateChange.IsZero() {
		service.LastStateChange = service.CreatedAt
	}
	service.UpdatedAt = now
	if service.State == "" {
		service.State = StateUnknown
	}
	if service.Severity == "" {
		service.Severity = SeverityMedium
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServicesBucket)
		if b.Get([]byte(service.ID)) != nil {
			return fmt.Errorf("service %s: %w", service.ID, ErrConflict)
		}
		return putJSON(b, service.ID, service)
	})
}

func (s *BoltStore) SaveService(ctx context.Context, service *Service) error {
	service.UpdatedAt = time.Now().UTC()
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(ServicesBucket), service.ID, service)
	})
}

func (s *BoltStore) UpdateService(ctx context.Context, id string, fn func(*Service) error) (*Service, error) {
	var updated *Service
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServicesBucket)
		var service Service
		if err := getJSON(b, id, &service); err != nil {
			return err
		}
		if err := fn(&service); err != nil {
			return err
		}
		service.UpdatedAt = time.Now().UTC()
		updated = &service
		return putJSON(b, id, &service)
	})
	if errors.Is(err, ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", id, err)
	}
	return updated, nil
}

func (s *BoltStore) TransitionService(ctx context.Context, id string, fn func(*Service) (*Alert, error)) (*Service, *Alert, error) {
	var (
		updated *Service
		created *Alert
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ServicesBucket)
		var service Service
		if err := getJSON(b, id, &service); err != nil {
			return err
		}
		alert, err := fn(&service)
		if err != nil {
			return err
		}
		service.UpdatedAt = time.Now().UTC()
		if err := putJSON(b, id, &service); err != nil {
			return err
		}
		if alert != nil {
			if alert.ID == "" {
				alert.ID = uuid.New().String()
			}
			if alert.CreatedAt.IsZero() {
				alert.CreatedAt = time.Now().UTC()
			}
			if err := putJSON(tx.Bucket(AlertsBucket), alert.ID, alert); err != nil {
				return err
			}
		}
		updated, created = &service, alert
		return nil
	})
	if errors.Is(err, ErrNoChange) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("service %s: %w", id, err)
	}
	return updated, created, nil
}

// DeleteService removes the service together with everything that hangs off
// it: monitors, their history, dependency edges, mute windows and alerts.
func (s *BoltStore) DeleteService(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		services := tx.Bucket(ServicesBucket)
		if services.Get([]byte(id)) == nil {
			return fmt.Errorf("service %s: %w", id, ErrNotFound)
		}

		monitors := tx.Bucket(MonitorsBucket)
		var monitorIDs []string
		err := monitors.ForEach(func(k, v []byte) error {
			var m Monitor
			if err := json.Unmarshal(v, &m); err != nil {
				return nil
			}
			if m.ServiceID == id {
				monitorIDs = append(monitorIDs, m.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, monitorID := range monitorIDs {
			if err := deleteMonitorTx(tx, monitorID); err != nil {
				return err
			}
		}

		deps := tx.Bucket(DependenciesBucket)
		for _, key := range collectKeys(deps, func(k, v []byte) bool {
			parts := strings.SplitN(string(k), "/", 2)
			return len(parts) == 2 && (parts[0] == id || parts[1] == id)
		}) {
			if err := deps.Delete(key); err != nil {
				return err
			}
		}

		if err := deleteWhere(tx.Bucket(MuteWindowsBucket), func(v []byte) bool {
			var w MuteWindow
			return json.Unmarshal(v, &w) == nil && w.ServiceID == id
		}); err != nil {
			return err
		}
		if err := deleteWhere(tx.Bucket(AlertsBucket), func(v []byte) bool {
			var a Alert
			return json.Unmarshal(v, &a) == nil && a.ServiceID == id
		}); err != nil {
			return err
		}

		return services.Delete([]byte(id))
	})
}

// ---- monitors ----

func (s *BoltStore) GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error) {
	var monitors []Monitor

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(MonitorsBucket).ForEach(func(k, v []byte) error {
			var monitor Monitor
			if err := json.Unmarshal(v, &monitor); err != nil {
				return fmt.Errorf("failed to unmarshal monitor %s: %w", k, err)
			}
			if filters.ServiceID != "" && monitor.ServiceID != filters.ServiceID {
				return nil
			}
			if filters.Type != "" && monitor.Type != filters.Type {
				return nil
			}
			monitors = append(monitors, monitor)
			return nil
		})
	})

	sort.Slice(monitors, func(i, j int) bool {
		if !monitors[i].CreatedAt.Equal(monitors[j].CreatedAt) {
			return monitors[i].CreatedAt.Before(monitors[j].CreatedAt)
		}
		return monitors[i].ID < monitors[j].ID
	})
	return monitors, err
}

func (s *BoltStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	var monitor Monitor
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(MonitorsBucket), id, &monitor)
	})
	if err != nil {
		return nil, fmt.Errorf("monitor %s: %w", id, err)
	}
	return &monitor, nil
}

func (s *BoltStore) GetMonitorByToken(ctx context.Context, token string) (*Monitor, error) {
	var monitor Monitor
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(TokensBucket).Get([]byte(token))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(MonitorsBucket), string(id), &monitor)
	})
	if err != nil {
		return nil, fmt.Errorf("monitor token: %w", err)
	}
	return &monitor, nil
}

func (s *BoltStore) CreateMonitor(ctx context.Context, monitor *Monitor) error {
	if monitor.ID == "" {
		monitor.ID = uuid.New().String()
	}
	if monitor.Token == "" {
		monitor.Token = NewToken()
	}
	now := time.Now().UTC()
	if monitor.CreatedAt.IsZero() {
		monitor.CreatedAt = now
	}
	monitor.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(ServicesBucket).Get([]byte(monitor.ServiceID)) == nil {
			return fmt.Errorf("service %s: %w", monitor.ServiceID, ErrNotFound)
		}
		monitors := tx.Bucket(MonitorsBucket)
		if monitors.Get([]byte(monitor.ID)) != nil {
			return fmt.Errorf("monitor %s: %w", monitor.ID, ErrConflict)
		}
		tokens := tx.Bucket(TokensBucket)
		if tokens.Get([]byte(monitor.Token)) != nil {
			return fmt.Errorf("monitor token: %w", ErrConflict)
		}
		if err := tokens.Put([]byte(monitor.Token), []byte(monitor.ID)); err != nil {
			return err
		}
		return putJSON(monitors, monitor.ID, monitor)
	})
}

// UpdateMonitor applies fn inside one write transaction. The token and the
// owning service are immutable; changes to either are discarded.
func (s *BoltStore) UpdateMonitor(ctx context.Context, id string, fn func(*Monitor) error) (*Monitor, error) {
	var updated *Monitor
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MonitorsBucket)
		var monitor Monitor
		if err := getJSON(b, id, &monitor); err != nil {
			return err
		}
		token, serviceID := monitor.Token, monitor.ServiceID
		if err := fn(&monitor); err != nil {
			return err
		}
		monitor.Token, monitor.ServiceID = token, serviceID
		monitor.UpdatedAt = time.Now().UTC()
		updated = &monitor
		return putJSON(b, id, &monitor)
	})
	if errors.Is(err, ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("monitor %s: %w", id, err)
	}
	return updated, nil
}

func (s *BoltStore) DeleteMonitor(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return deleteMonitorTx(tx, id)
	})
}

func deleteMonitorTx(tx *bbolt.Tx, id string) error {
	monitors := tx.Bucket(MonitorsBucket)
	var monitor Monitor
	if err := getJSON(monitors, id, &monitor); err != nil {
		return fmt.Errorf("monitor %s: %w", id, err)
	}
	if err := tx.Bucket(TokensBucket).Delete([]byte(monitor.Token)); err != nil {
		return err
	}
	prefix := []byte(id + "/")
	for _, bucket := range [][]byte{EventsBucket, ReadingsBucket, RollupsBucket} {
		if err := deletePrefix(tx.Bucket(bucket), prefix); err != nil {
			return err
		}
	}
	return monitors.Delete([]byte(id))
}

// ---- alerts ----

func (s *BoltStore) GetAlerts(ctx context.Context, filters AlertFilters) ([]Alert, error) {
	var alerts []Alert

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(AlertsBucket).ForEach(func(k, v []byte) error {
			var alert Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return nil // Skip malformed entries
			}
			if filters.ServiceID != "" && alert.ServiceID != filters.ServiceID {
				return nil
			}
			if filters.Undispatched && alert.DispatchedAt != nil {
				return nil
			}
			alerts = append(alerts, alert)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(alerts, func(i, j int) bool {
		if !alerts[i].CreatedAt.Equal(alerts[j].CreatedAt) {
			return alerts[i].CreatedAt.Before(alerts[j].CreatedAt)
		}
		return alerts[i].ID < alerts[j].ID
	})
	if filters.Limit > 0 && len(alerts) > filters.Limit {
		alerts = alerts[:filters.Limit]
	}
	return alerts, nil
}

func (s *BoltStore) GetAlert(ctx context.Context, id string) (*Alert, error) {
	var alert Alert
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(AlertsBucket), id, &alert)
	})
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", id, err)
	}
	return &alert, nil
}

func (s *BoltStore) CreateAlert(ctx context.Context, alert *Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(AlertsBucket), alert.ID, alert)
	})
}

func (s *BoltStore) UpdateAlert(ctx context.Context, id string, fn func(*Alert) error) (*Alert, error) {
	var updated *Alert
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(AlertsBucket)
		var alert Alert
		if err := getJSON(b, id, &alert); err != nil {
			return err
		}
		if err := fn(&alert); err != nil {
			return err
		}
		updated = &alert
		return putJSON(b, id, &alert)
	})
	if errors.Is(err, ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alert %s: %w", id, err)
	}
	return updated, nil
}

// ---- dependencies ----

func dependencyKey(dependentID, dependencyID string) string {
	return dependentID + "/" + dependencyID
}

func (s *BoltStore) GetDependencies(ctx context.Context) ([]ServiceDependency, error) {
	var deps []ServiceDependency
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		deps, err = readDependencies(tx)
		return err
	})
	return deps, err
}

func readDependencies(tx *bbolt.Tx) ([]ServiceDependency, error) {
	var deps []ServiceDependency
	err := tx.Bucket(DependenciesBucket).ForEach(func(k, v []byte) error {
		var dep ServiceDependency
		if err := json.Unmarshal(v, &dep); err != nil {
			return fmt.Errorf("failed to unmarshal dependency %s: %w", k, err)
		}
		deps = append(deps, dep)
		return nil
	})
	return deps, err
}

func (s *BoltStore) CreateDependency(ctx context.Context, dep *ServiceDependency, check func(existing []ServiceDependency) error) error {
	if dep.ID == "" {
		dep.ID = uuid.New().String()
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		services := tx.Bucket(ServicesBucket)
		for _, id := range []string{dep.DependentServiceID, dep.DependencyServiceID} {
			if services.Get([]byte(id)) == nil {
				return fmt.Errorf("service %s: %w", id, ErrNotFound)
			}
		}

		b := tx.Bucket(DependenciesBucket)
		key := dependencyKey(dep.DependentServiceID, dep.DependencyServiceID)
		if b.Get([]byte(key)) != nil {
			return fmt.Errorf("dependency %s: %w", key, ErrConflict)
		}

		if check != nil {
			existing, err := readDependencies(tx)
			if err != nil {
				return err
			}
			if err := check(existing); err != nil {
				return err
			}
		}
		return putJSON(b, key, dep)
	})
}

func (s *BoltStore) DeleteDependency(ctx context.Context, dependentID, dependencyID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(DependenciesBucket)
		key := dependencyKey(dependentID, dependencyID)
		if b.Get([]byte(key)) == nil {
			return fmt.Errorf("dependency %s: %w", key, ErrNotFound)
		}
		return b.Delete([]byte(key))
	})
}

// ---- mute windows ----

func (s *BoltStore) GetMuteWindows(ctx context.Context, serviceID string) ([]MuteWindow, error) {
	var windows []MuteWindow
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(MuteWindowsBucket).ForEach(func(k, v []byte) error {
			var w MuteWindow
			if err := json.Unmarshal(v, &w); err != nil {
				return nil
			}
			if serviceID != "" && w.ServiceID != serviceID {
				return nil
			}
			windows = append(windows, w)
			return nil
		})
	})
	sort.Slice(windows, func(i, j int) bool { return windows[i].StartsAt.Before(windows[j].StartsAt) })
	return windows, err
}

func (s *BoltStore) CreateMuteWindow(ctx context.Context, window *MuteWindow) error {
	if window.ID == "" {
		window.ID = uuid.New().String()
	}
	if window.CreatedAt.IsZero() {
		window.CreatedAt = time.Now().UTC()
	}
	if !window.EndsAt.After(window.StartsAt) {
		return fmt.Errorf("%w: mute window must end after it starts", ErrInvalid)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(ServicesBucket).Get([]byte(window.ServiceID)) == nil {
			return fmt.Errorf("service %s: %w", window.ServiceID, ErrNotFound)
		}
		return putJSON(tx.Bucket(MuteWindowsBucket), window.ID, window)
	})
}

func (s *BoltStore) DeleteMuteWindow(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MuteWindowsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("mute window %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// ---- contacts ----

func (s *BoltStore) GetContacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(ContactsBucket).ForEach(func(k, v []byte) error {
			var c Contact
			if err := json.Unmarshal(v, &c); err != nil {
				return fmt.Errorf("failed to unmarshal contact %s: %w", k, err)
			}
			contacts = append(contacts, c)
			return nil
		})
	})
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Name < contacts[j].Name })
	return contacts, err
}

func (s *BoltStore) GetContact(ctx context.Context, id string) (*Contact, error) {
	var contact Contact
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(ContactsBucket), id, &contact)
	})
	if err != nil {
		return nil, fmt.Errorf("contact %s: %w", id, err)
	}
	return &contact, nil
}

// SaveContact creates or replaces a contact. Marking a contact as default
// clears the flag on every other contact in the same transaction.
func (s *BoltStore) SaveContact(ctx context.Context, contact *Contact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ContactsBucket)
		if contact.IsDefault {
			var others []Contact
			err := b.ForEach(func(k, v []byte) error {
				var c Contact
				if err := json.Unmarshal(v, &c); err == nil && c.IsDefault && c.ID != contact.ID {
					c.IsDefault = false
					others = append(others, c)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for i := range others {
				if err := putJSON(b, others[i].ID, &others[i]); err != nil {
					return err
				}
			}
		}
		return putJSON(b, contact.ID, contact)
	})
}

func (s *BoltStore) DeleteContact(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ContactsBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("contact %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

// ---- peers ----

func (s *BoltStore) GetPeers(ctx context.Context) ([]Peer, error) {
	var peers []Peer
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(PeersBucket).ForEach(func(k, v []byte) error {
			var p Peer
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("failed to unmarshal peer %s: %w", k, err)
			}
			peers = append(peers, p)
			return nil
		})
	})
	sort.Slice(peers, func(i, j int) bool { return peers[i].PairedAt.Before(peers[j].PairedAt) })
	return peers, err
}

func (s *BoltStore) GetPeer(ctx context.Context, id string) (*Peer, error) {
	var peer Peer
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getJSON(tx.Bucket(PeersBucket), id, &peer)
	})
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", id, err)
	}
	return &peer, nil
}

func (s *BoltStore) SavePeer(ctx context.Context, peer *Peer) error {
	if peer.ID == "" {
		peer.ID = uuid.New().String()
	}
	if peer.PairedAt.IsZero() {
		peer.PairedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket(PeersBucket), peer.ID, peer)
	})
}

func (s *BoltStore) UpdatePeer(ctx context.Context, id string, fn func(*Peer) error) (*Peer, error) {
	var updated *Peer
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PeersBucket)
		var peer Peer
		if err := getJSON(b, id, &peer); err != nil {
			return err
		}
		if err := fn(&peer); err != nil {
			return err
		}
		updated = &peer
		return putJSON(b, id, &peer)
	})
	if errors.Is(err, ErrNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peer %s: %w", id, err)
	}
	return updated, nil
}

func (s *BoltStore) DeletePeer(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PeersBucket)
		if b.Get([]byte(id)) == nil {
			return fmt.Errorf("peer %s: %w", id, ErrNotFound)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) CreatePairingSecret(ctx context.Context, secret *PairingSecret) error {
	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PairingBucket)
		if b.Get([]byte(secret.Secret)) != nil {
			return fmt.Errorf("pairing secret: %w", ErrConflict)
		}
		return putJSON(b, secret.Secret, secret)
	})
}

func (s *BoltStore) ConsumePairingSecret(ctx context.Context, secret string, now time.Time) (bool, error) {
	consumed := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PairingBucket)
		var ps PairingSecret
		if err := getJSON(b, secret, &ps); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if ps.UsedAt != nil || !now.Before(ps.ExpiresAt) {
			return nil
		}
		used := now
		ps.UsedAt = &used
		consumed = true
		return putJSON(b, secret, &ps)
	})
	if err != nil {
		return false, fmt.Errorf("failed to consume pairing secret: %w", err)
	}
	return consumed, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

// NewToken returns an opaque bearer token for push endpoints.
func NewToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
