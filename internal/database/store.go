// internal/database/store.go
package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid")
	// ErrNoChange is returned from an update callback to leave the record untouched.
	ErrNoChange = errors.New("no change")
)

// Store defines the interface for database operations
type Store interface {
	// Service operations
	GetServices(ctx context.Context, filters ServiceFilters) ([]Service, error)
	GetService(ctx context.Context, id string) (*Service, error)
	CreateService(ctx context.Context, service *Service) error
	SaveService(ctx context.Context, service *Service) error
	// UpdateService runs fn against the current record inside a single write
	// transaction. Returning ErrNoChange from fn skips the write and is not
	// reported as an error; UpdateService then returns (nil, nil).
	UpdateService(ctx context.Context, id string, fn func(*Service) error) (*Service, error)
	// TransitionService is UpdateService for state changes: an alert returned
	// by fn is stored in the same transaction as the service.
	TransitionService(ctx context.Context, id string, fn func(*Service) (*Alert, error)) (*Service, *Alert, error)
	DeleteService(ctx context.Context, id string) error

	// Monitor operations
	GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error)
	GetMonitor(ctx context.Context, id string) (*Monitor, error)
	GetMonitorByToken(ctx context.Context, token string) (*Monitor, error)
	CreateMonitor(ctx context.Context, monitor *Monitor) error
	UpdateMonitor(ctx context.Context, id string, fn func(*Monitor) error) (*Monitor, error)
	DeleteMonitor(ctx context.Context, id string) error

	// Alert operations
	GetAlerts(ctx context.Context, filters AlertFilters) ([]Alert, error)
	GetAlert(ctx context.Context, id string) (*Alert, error)
	CreateAlert(ctx context.Context, alert *Alert) error
	UpdateAlert(ctx context.Context, id string, fn func(*Alert) error) (*Alert, error)

	// Event and reading history
	AppendEvent(ctx context.Context, event *MonitorEvent) error
	GetEvents(ctx context.Context, monitorID string, from, to time.Time) ([]MonitorEvent, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int, error)
	AppendReading(ctx context.Context, reading *MetricReading) error
	RecentReadings(ctx context.Context, monitorID string, limit int) ([]MetricReading, error)
	ReadingsSince(ctx context.Context, monitorID string, since time.Time) ([]MetricReading, error)
	DeleteReadingsBefore(ctx context.Context, monitorID string, cutoff time.Time) (int, error)

	// Rollups
	UpsertRollup(ctx context.Context, rollup *MonitorRollup) error
	GetRollups(ctx context.Context, monitorID string, granularity Granularity, since time.Time) ([]MonitorRollup, error)
	DeleteRollupsBefore(ctx context.Context, granularity Granularity, cutoff time.Time) (int, error)

	// Dependencies. check receives every existing edge and may veto the insert.
	GetDependencies(ctx context.Context) ([]ServiceDependency, error)
	CreateDependency(ctx context.Context, dep *ServiceDependency, check func(existing []ServiceDependency) error) error
	DeleteDependency(ctx context.Context, dependentID, dependencyID string) error

	// Mute windows
	GetMuteWindows(ctx context.Context, serviceID string) ([]MuteWindow, error)
	CreateMuteWindow(ctx context.Context, window *MuteWindow) error
	DeleteMuteWindow(ctx context.Context, id string) error

	// Contacts
	GetContacts(ctx context.Context) ([]Contact, error)
	GetContact(ctx context.Context, id string) (*Contact, error)
	SaveContact(ctx context.Context, contact *Contact) error
	DeleteContact(ctx context.Context, id string) error

	// Peers and pairing
	GetPeers(ctx context.Context) ([]Peer, error)
	GetPeer(ctx context.Context, id string) (*Peer, error)
	SavePeer(ctx context.Context, peer *Peer) error
	// UpdatePeer follows the UpdateService contract. A peer removed in the
	// meantime yields ErrNotFound and nothing is written.
	UpdatePeer(ctx context.Context, id string, fn func(*Peer) error) (*Peer, error)
	DeletePeer(ctx context.Context, id string) error
	CreatePairingSecret(ctx context.Context, secret *PairingSecret) error
	// ConsumePairingSecret marks the secret used if it exists, is unused and
	// has not expired at now. The check and the write are one transaction.
	ConsumePairingSecret(ctx context.Context, secret string, now time.Time) (bool, error)

	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	// Close the database connection
	Close() error
}
