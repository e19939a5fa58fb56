package monitoring

import (
	"testing"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valueEvents(success []bool, values ...float64) []database.MonitorEvent {
	events := make([]database.MonitorEvent, len(values))
	for i, v := range values {
		ok := true
		if success != nil {
			ok = success[i]
		}
		events[i] = database.MonitorEvent{Success: ok, Value: ptr(v)}
	}
	return events
}

func TestComputeRollup_Statistics(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	r := ComputeRollup(valueEvents(nil, 2, 4, 4, 4, 5, 5, 7, 9), "m", "s", database.GranularityHourly, start)

	require.NotNil(t, r.Mean)
	assert.InDelta(t, 5.0, *r.Mean, 1e-9)
	assert.InDelta(t, 2.0, *r.StdDev, 1e-9)
	assert.InDelta(t, 100.0, *r.UptimePercent, 1e-9)
	assert.InDelta(t, 4.5, *r.Median, 1e-9)
	assert.Equal(t, 8, r.Count)
	assert.Equal(t, start.Add(time.Hour), r.PeriodEnd)
}

func TestComputeRollup_MixedSuccess(t *testing.T) {
	events := valueEvents([]bool{true, false, false, true}, 10, 20, 30, 40)
	r := ComputeRollup(events, "m", "s", database.GranularityDaily, time.Time{})

	assert.InDelta(t, 75.0, *r.UptimePercent, 1e-9)
	assert.Equal(t, 10.0, *r.Min)
	assert.Equal(t, 40.0, *r.Max)
	assert.Equal(t, 2, r.SuccessCount)
	assert.Equal(t, 2, r.FailureCount)
}

func TestComputeRollup_NoValues(t *testing.T) {
	events := []database.MonitorEvent{{Success: true}, {Success: false}}
	r := ComputeRollup(events, "m", "s", database.GranularityDaily, time.Time{})

	assert.Equal(t, 2, r.Count)
	assert.InDelta(t, 50.0, *r.UptimePercent, 1e-9)
	assert.Nil(t, r.Mean)
	assert.Nil(t, r.Min)
	assert.Nil(t, r.P95)
}

func TestComputeRollup_Empty(t *testing.T) {
	r := ComputeRollup(nil, "m", "s", database.GranularityDaily, time.Time{})
	assert.Nil(t, r.UptimePercent)
	assert.Zero(t, r.Count)
}

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, 8.0, percentile(values, 80))
	assert.Equal(t, 9.0, percentile(values, 90))
	assert.Equal(t, 10.0, percentile(values, 95))
	assert.Equal(t, 7.0, percentile([]float64{7}, 95))
}

func TestPeriodBuckets(t *testing.T) {
	// Thursday
	ts := time.Date(2024, 2, 29, 13, 45, 10, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 2, 29, 13, 0, 0, 0, time.UTC), PeriodStart(database.GranularityHourly, ts))
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), PeriodStart(database.GranularityDaily, ts))
	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), PeriodStart(database.GranularityWeekly, ts))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), PeriodStart(database.GranularityMonthly, ts))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd(database.GranularityMonthly, PeriodStart(database.GranularityMonthly, ts)))

	sunday := time.Date(2024, 3, 3, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), PeriodStart(database.GranularityWeekly, sunday))
}

func TestRetentionFor(t *testing.T) {
	assert.Equal(t, 30*24*time.Hour, RetentionFor(database.GranularityHourly))
	assert.Equal(t, 365*24*time.Hour, RetentionFor(database.GranularityDaily))
	assert.Equal(t, 730*24*time.Hour, RetentionFor(database.GranularityWeekly))
	assert.Zero(t, RetentionFor(database.GranularityMonthly))
}
