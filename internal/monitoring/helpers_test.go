package monitoring

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(evt events.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

type testEnv struct {
	store     *database.BoltStore
	clock     *FixedClock
	publisher *recordingPublisher
	engine    *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := NewFixedClock(testEpoch)
	pub := &recordingPublisher{}
	return &testEnv{
		store:     store,
		clock:     clock,
		publisher: pub,
		engine:    NewEngine(store, clock, pub, nil),
	}
}

func (env *testEnv) service(t *testing.T, name string) *database.Service {
	t.Helper()
	svc := &database.Service{Name: name}
	require.NoError(t, env.store.CreateService(context.Background(), svc))
	return svc
}

func (env *testEnv) monitor(t *testing.T, m *database.Monitor) *database.Monitor {
	t.Helper()
	m.ApplyDefaults()
	require.NoError(t, m.Validate())
	require.NoError(t, env.store.CreateMonitor(context.Background(), m))
	return m
}

func (env *testEnv) state(t *testing.T, id string) *database.Service {
	t.Helper()
	svc, err := env.store.GetService(context.Background(), id)
	require.NoError(t, err)
	return svc
}

func (env *testEnv) alerts(t *testing.T, serviceID string) []database.Alert {
	t.Helper()
	alerts, err := env.store.GetAlerts(context.Background(), database.AlertFilters{ServiceID: serviceID})
	require.NoError(t, err)
	return alerts
}
