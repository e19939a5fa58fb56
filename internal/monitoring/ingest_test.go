package monitoring

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatIngestion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "cron")
	m := env.monitor(t, &database.Monitor{
		ServiceID:          svc.ID,
		Type:               database.MonitorHeartbeat,
		IntervalSeconds:    60,
		GracePeriodSeconds: 30,
	})
	in := NewIngestor(env.engine)

	res, err := in.Heartbeat(ctx, m.Token)
	require.NoError(t, err)
	assert.True(t, res.Received)
	assert.False(t, res.AlertCreated)
	assert.Equal(t, testEpoch.Add(90*time.Second), res.NextExpectedBefore)
	assert.Equal(t, database.StateUp, env.state(t, svc.ID).State)

	stored, err := env.store.GetMonitor(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Heartbeat.LastCheckIn)
	assert.True(t, stored.Heartbeat.LastCheckIn.Equal(testEpoch))

	evts, err := env.store.GetEvents(ctx, m.ID, testEpoch.Add(-time.Hour), testEpoch.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, database.EventHeartbeat, evts[0].EventType)
}

func TestIngestionErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "hook")
	m := env.monitor(t, &database.Monitor{ServiceID: svc.ID, Type: database.MonitorWebhook})
	in := NewIngestor(env.engine)

	_, err := in.Heartbeat(ctx, "nope")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = in.Heartbeat(ctx, m.Token)
	assert.ErrorIs(t, err, ErrWrongMonitorType)

	_, err = in.Metric(ctx, m.Token, nil)
	assert.ErrorIs(t, err, ErrMissingValue)

	v := 1.0
	_, err = in.Metric(ctx, m.Token, &v)
	assert.ErrorIs(t, err, ErrWrongMonitorType)
}

func TestMetricRejectsNonFiniteValues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "cpu")
	max := 90.0
	m := env.monitor(t, &database.Monitor{ServiceID: svc.ID, Type: database.MonitorMetric, Metric: &database.MetricSpec{Max: &max}})
	in := NewIngestor(env.engine)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := in.Metric(ctx, m.Token, ptr(v))
		assert.ErrorIs(t, err, database.ErrInvalid)
	}

	readings, err := env.store.RecentReadings(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestWebhookFailAndRecover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := env.service(t, "hook")
	m := env.monitor(t, &database.Monitor{ServiceID: svc.ID, Type: database.MonitorWebhook})
	in := NewIngestor(env.engine)

	res, err := in.WebhookFail(ctx, m.Token)
	require.NoError(t, err)
	assert.True(t, res.AlertCreated)

	res, err = in.WebhookFail(ctx, m.Token)
	require.NoError(t, err)
	assert.False(t, res.AlertCreated)

	res, err = in.WebhookRecover(ctx, m.Token)
	require.NoError(t, err)
	assert.True(t, res.AlertCreated)
	assert.Len(t, env.alerts(t, svc.ID), 2)
}

func TestMetricIngestionConsecutiveCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	m := metricMonitor(t, env, database.MetricSpec{
		Max:            ptr(90.0),
		Strategy:       database.StrategyConsecutiveCount,
		ThresholdCount: 3,
	})
	in := NewIngestor(env.engine)

	for i, v := range []float64{95, 92} {
		env.clock.Advance(time.Second)
		res, err := in.Metric(ctx, m.Token, ptr(v))
		require.NoError(t, err, "reading %d", i)
		assert.True(t, res.OutOfRange)
		assert.False(t, res.Violation)
	}

	env.clock.Advance(time.Second)
	res, err := in.Metric(ctx, m.Token, ptr(91.0))
	require.NoError(t, err)
	assert.True(t, res.Violation)
	assert.Equal(t, database.StateDown, env.state(t, m.ServiceID).State)

	stored, err := env.store.GetMonitor(ctx, m.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Metric.LastValue)
	assert.Equal(t, 91.0, *stored.Metric.LastValue)
}
