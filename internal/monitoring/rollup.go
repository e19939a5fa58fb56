package monitoring

import (
	"math"
	"sort"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
)

// ComputeRollup aggregates the events of one monitor over one period.
// Counts always reflect every event; statistics cover only events that carry
// a value and stay nil when none do.
func ComputeRollup(events []database.MonitorEvent, monitorID, serviceID string, granularity database.Granularity, periodStart time.Time) database.MonitorRollup {
	rollup := database.MonitorRollup{
		MonitorID:   monitorID,
		ServiceID:   serviceID,
		Granularity: granularity,
		PeriodStart: periodStart,
		PeriodEnd:   PeriodEnd(granularity, periodStart),
		Count:       len(events),
	}

	values := make([]float64, 0, len(events))
	for _, e := range events {
		if e.Success {
			rollup.SuccessCount++
		} else {
			rollup.FailureCount++
		}
		if e.Value != nil {
			values = append(values, *e.Value)
		}
	}

	if rollup.Count > 0 {
		rollup.UptimePercent = ptr(float64(rollup.SuccessCount) / float64(rollup.Count) * 100)
	}
	if len(values) == 0 {
		return rollup
	}

	sort.Float64s(values)
	n := len(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(n)

	variance := 0.0
	for _, v := range values {
		variance += (v - avg) * (v - avg)
	}
	variance /= float64(n)

	var median float64
	if n%2 == 0 {
		median = (values[n/2-1] + values[n/2]) / 2
	} else {
		median = values[n/2]
	}

	rollup.Min = ptr(values[0])
	rollup.Max = ptr(values[n-1])
	rollup.Mean = ptr(avg)
	rollup.Median = ptr(median)
	rollup.P80 = ptr(percentile(values, 80))
	rollup.P90 = ptr(percentile(values, 90))
	rollup.P95 = ptr(percentile(values, 95))
	rollup.StdDev = ptr(math.Sqrt(variance))
	return rollup
}

// percentile uses the nearest-rank method over sorted values.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > n-1 {
		idx = n - 1
	}
	return sorted[idx]
}

// PeriodStart returns the UTC start of the bucket containing t. Weeks start
// on Monday.
func PeriodStart(granularity database.Granularity, t time.Time) time.Time {
	t = t.UTC()
	switch granularity {
	case database.GranularityHourly:
		return t.Truncate(time.Hour)
	case database.GranularityDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case database.GranularityWeekly:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case database.GranularityMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// PeriodEnd returns the exclusive end of the bucket starting at start.
func PeriodEnd(granularity database.Granularity, start time.Time) time.Time {
	switch granularity {
	case database.GranularityHourly:
		return start.Add(time.Hour)
	case database.GranularityDaily:
		return start.AddDate(0, 0, 1)
	case database.GranularityWeekly:
		return start.AddDate(0, 0, 7)
	case database.GranularityMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start
	}
}

// RetentionFor returns how long rollups of a granularity are kept. Zero
// means forever.
func RetentionFor(granularity database.Granularity) time.Duration {
	switch granularity {
	case database.GranularityHourly:
		return 30 * 24 * time.Hour
	case database.GranularityDaily:
		return 365 * 24 * time.Hour
	case database.GranularityWeekly:
		return 730 * 24 * time.Hour
	default:
		return 0
	}
}

func ptr[T any](v T) *T {
	return &v
}
