package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/config"
	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syncFixture() *config.Config {
	return &config.Config{
		Contacts: []config.ContactConfig{{
			Name:     "ops",
			Default:  true,
			Channels: []database.Channel{{Type: database.ChannelLog, Enabled: true}},
		}},
		Services: []config.ServiceConfig{
			{
				ID:       "db",
				Name:     "Database",
				Contacts: []string{"ops"},
				Monitors: []config.MonitorConfig{{
					ID:       "db-beat",
					Type:     "heartbeat",
					Token:    "db-token",
					Interval: time.Minute,
				}},
			},
			{ID: "api", Name: "API", DependsOn: []string{"db"}},
		},
	}
}

func TestSyncConfigCreatesEntities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, SyncConfig(ctx, env.engine, syncFixture()))

	db := env.state(t, "db")
	assert.Equal(t, "Database", db.Name)
	assert.Equal(t, database.StateUnknown, db.State)
	require.Len(t, db.ContactIDs, 1)

	m, err := env.store.GetMonitorByToken(ctx, "db-token")
	require.NoError(t, err)
	assert.Equal(t, "db-beat", m.ID)
	assert.Equal(t, 60, m.IntervalSeconds)

	deps, err := env.store.GetDependencies(ctx)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "api", deps[0].DependentServiceID)
}

func TestSyncConfigIsRepeatableAndKeepsState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	cfg := syncFixture()

	require.NoError(t, SyncConfig(ctx, env.engine, cfg))
	_, err := env.engine.TransitionToDown(ctx, "db", database.AlertFailure, "test")
	require.NoError(t, err)

	cfg.Services[0].Name = "Primary DB"
	cfg.Services[0].Monitors[0].Interval = 2 * time.Minute
	require.NoError(t, SyncConfig(ctx, env.engine, cfg))

	db := env.state(t, "db")
	assert.Equal(t, "Primary DB", db.Name)
	assert.Equal(t, database.StateDown, db.State)

	m, err := env.store.GetMonitor(ctx, "db-beat")
	require.NoError(t, err)
	assert.Equal(t, 120, m.IntervalSeconds)
	assert.Equal(t, "db-token", m.Token)

	contacts, err := env.store.GetContacts(ctx)
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
}
