package monitoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionToDownIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	first, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertFailure, "probe failed")
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, first.Alert)
	assert.Equal(t, database.StateUnknown, first.From)

	before := env.state(t, svc.ID)

	second, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertFailure, "probe failed")
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Len(t, env.alerts(t, svc.ID), 1)
	assert.Equal(t, before.UpdatedAt, env.state(t, svc.ID).UpdatedAt, "no write on a guarded no-op")
}

func TestTransitionToUpFromUnknownCreatesNoAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	tr, err := env.engine.TransitionToUp(ctx, svc.ID, "heartbeat")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Nil(t, tr.Alert)
	assert.Empty(t, env.alerts(t, svc.ID))
}

func TestRecoveryAlertOnDownToUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	_, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertMissedHeartbeat, "late")
	require.NoError(t, err)
	tr, err := env.engine.TransitionToUp(ctx, svc.ID, "heartbeat")
	require.NoError(t, err)
	require.NotNil(t, tr.Alert)
	assert.Equal(t, database.AlertRecovery, tr.Alert.Type)

	got := env.state(t, svc.ID)
	assert.Equal(t, database.StateUp, got.State)
	assert.Equal(t, database.StateDown, got.PreviousState)
	assert.Equal(t, 2, env.publisher.count(events.TypeAlertCreated))
	assert.Equal(t, 2, env.publisher.count(events.TypeServiceState))
}

func TestTransitionOnMissingServiceIsNoop(t *testing.T) {
	env := newTestEnv(t)
	tr, err := env.engine.TransitionToDown(context.Background(), "missing", database.AlertFailure, "")
	require.NoError(t, err)
	assert.Nil(t, tr)
}

func TestPausedServiceIgnoresSignals(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	until := testEpoch.Add(time.Hour)
	tr, err := env.engine.Pause(ctx, svc.ID, &until, true)
	require.NoError(t, err)
	require.NotNil(t, tr)

	down, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertFailure, "")
	require.NoError(t, err)
	assert.Nil(t, down)
	up, err := env.engine.TransitionToUp(ctx, svc.ID, "")
	require.NoError(t, err)
	assert.Nil(t, up)

	got := env.state(t, svc.ID)
	assert.Equal(t, database.StatePaused, got.State)
	assert.Equal(t, database.StateUnknown, got.PreviousState)
	assert.True(t, got.AutoResume)
	require.NotNil(t, got.PausedUntil)
	assert.True(t, got.PausedUntil.Equal(until))
	assert.Empty(t, env.alerts(t, svc.ID))
}

func TestResumeGoesToUnknown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	_, err := env.engine.TransitionToUp(ctx, svc.ID, "")
	require.NoError(t, err)
	_, err = env.engine.Pause(ctx, svc.ID, nil, false)
	require.NoError(t, err)

	tr, err := env.engine.Resume(ctx, svc.ID)
	require.NoError(t, err)
	require.NotNil(t, tr)

	got := env.state(t, svc.ID)
	assert.Equal(t, database.StateUnknown, got.State, "previous state is not restored")
	assert.Nil(t, got.PausedUntil)
	assert.False(t, got.AutoResume)

	again, err := env.engine.Resume(ctx, svc.ID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestMuteWindowWithholdsAlertButTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	require.NoError(t, env.store.CreateMuteWindow(ctx, &database.MuteWindow{
		ServiceID: svc.ID,
		StartsAt:  testEpoch.Add(-time.Minute),
		EndsAt:    testEpoch.Add(time.Minute),
	}))

	tr, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertFailure, "")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Nil(t, tr.Alert)
	assert.Equal(t, database.StateDown, env.state(t, svc.ID).State)

	// The window end is exclusive.
	env.clock.Set(testEpoch.Add(time.Minute))
	tr, err = env.engine.TransitionToUp(ctx, svc.ID, "")
	require.NoError(t, err)
	require.NotNil(t, tr.Alert)
}

func TestConcurrentDownProducesOneAlert(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertFailure, "race")
			assert.NoError(t, err)
			if tr != nil {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	assert.Len(t, env.alerts(t, svc.ID), 1)
}

func TestSuppressionCascadeAlongChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.service(t, "A")
	b := env.service(t, "B")
	c := env.service(t, "C")

	_, err := env.engine.AddDependency(ctx, b.ID, a.ID)
	require.NoError(t, err)
	_, err = env.engine.AddDependency(ctx, c.ID, b.ID)
	require.NoError(t, err)

	_, err = env.engine.TransitionToDown(ctx, a.ID, database.AlertFailure, "")
	require.NoError(t, err)
	assert.True(t, env.state(t, b.ID).IsSuppressed)
	assert.True(t, env.state(t, c.ID).IsSuppressed)
	assert.Contains(t, env.state(t, c.ID).SuppressionReason, "A")

	// B fails on its own while suppressed: state changes, no alert.
	tr, err := env.engine.TransitionToDown(ctx, b.ID, database.AlertFailure, "")
	require.NoError(t, err)
	require.NotNil(t, tr)
	assert.Nil(t, tr.Alert)

	all, err := env.store.GetAlerts(ctx, database.AlertFilters{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, a.ID, all[0].ServiceID)

	// Recover B first so the chain is only held down by A.
	_, err = env.engine.TransitionToUp(ctx, b.ID, "")
	require.NoError(t, err)
	assert.True(t, env.state(t, c.ID).IsSuppressed, "A is still down")

	_, err = env.engine.TransitionToUp(ctx, a.ID, "")
	require.NoError(t, err)
	assert.False(t, env.state(t, b.ID).IsSuppressed)
	assert.False(t, env.state(t, c.ID).IsSuppressed)
}

func TestRecoveryKeepsSuppressionWhenAnotherDependencyIsDown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	db := env.service(t, "db")
	cache := env.service(t, "cache")
	app := env.service(t, "app")

	_, err := env.engine.AddDependency(ctx, app.ID, db.ID)
	require.NoError(t, err)
	_, err = env.engine.AddDependency(ctx, app.ID, cache.ID)
	require.NoError(t, err)

	_, err = env.engine.TransitionToDown(ctx, db.ID, database.AlertFailure, "")
	require.NoError(t, err)
	_, err = env.engine.TransitionToDown(ctx, cache.ID, database.AlertFailure, "")
	require.NoError(t, err)
	_, err = env.engine.TransitionToUp(ctx, db.ID, "")
	require.NoError(t, err)

	got := env.state(t, app.ID)
	assert.True(t, got.IsSuppressed)
	assert.Contains(t, got.SuppressionReason, "cache")
}

func TestAddDependencyRejectsCycles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.service(t, "A")
	b := env.service(t, "B")
	c := env.service(t, "C")

	_, err := env.engine.AddDependency(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, ErrSelfDependency)

	_, err = env.engine.AddDependency(ctx, a.ID, b.ID)
	require.NoError(t, err)
	_, err = env.engine.AddDependency(ctx, b.ID, a.ID)
	assert.ErrorIs(t, err, ErrDependencyCycle)

	_, err = env.engine.AddDependency(ctx, b.ID, c.ID)
	require.NoError(t, err)
	_, err = env.engine.AddDependency(ctx, c.ID, a.ID)
	assert.ErrorIs(t, err, ErrDependencyCycle)

	_, err = env.engine.AddDependency(ctx, a.ID, b.ID)
	assert.ErrorIs(t, err, database.ErrConflict)

	deps, err := env.store.GetDependencies(ctx)
	require.NoError(t, err)
	assert.Len(t, deps, 2)
}

func TestDependencyEditsRecomputeSuppression(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.service(t, "A")
	b := env.service(t, "B")

	_, err := env.engine.TransitionToDown(ctx, a.ID, database.AlertFailure, "")
	require.NoError(t, err)

	_, err = env.engine.AddDependency(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.True(t, env.state(t, b.ID).IsSuppressed)

	require.NoError(t, env.engine.RemoveDependency(ctx, b.ID, a.ID))
	assert.False(t, env.state(t, b.ID).IsSuppressed)
}

func TestAcknowledgeAlertOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "api")

	tr, err := env.engine.TransitionToDown(ctx, svc.ID, database.AlertFailure, "")
	require.NoError(t, err)

	acked, err := env.engine.AcknowledgeAlert(ctx, tr.Alert.ID)
	require.NoError(t, err)
	require.NotNil(t, acked.AcknowledgedAt)

	_, err = env.engine.AcknowledgeAlert(ctx, tr.Alert.ID)
	assert.ErrorIs(t, err, ErrAlreadyAcknowledged)

	_, err = env.engine.AcknowledgeAlert(ctx, "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)
}
