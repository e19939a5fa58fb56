package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
)

// ReadingHistory is the read side of the metric reading log.
type ReadingHistory interface {
	// RecentReadings returns up to limit readings, newest first.
	RecentReadings(ctx context.Context, monitorID string, limit int) ([]database.MetricReading, error)
	// ReadingsSince returns readings with CreatedAt >= since.
	ReadingsSince(ctx context.Context, monitorID string, since time.Time) ([]database.MetricReading, error)
}

// Evaluator decides whether a metric submission violates its monitor's
// threshold. It reads prior readings but never writes; callers persist the
// current reading after evaluation.
type Evaluator struct {
	history ReadingHistory
	clock   Clock
}

func NewEvaluator(history ReadingHistory, clock Clock) *Evaluator {
	if clock == nil {
		clock = SystemClock()
	}
	return &Evaluator{history: history, clock: clock}
}

// IsOutOfRange reports whether value lies outside the monitor's bounds.
// Bounds are inclusive: a value equal to min or max is in range.
func IsOutOfRange(value float64, spec *database.MetricSpec) bool {
	if spec == nil {
		return false
	}
	if spec.Min != nil && value < *spec.Min {
		return true
	}
	if spec.Max != nil && value > *spec.Max {
		return true
	}
	return false
}

func (e *Evaluator) Evaluate(ctx context.Context, monitor *database.Monitor, value float64) (bool, error) {
	if monitor.Type != database.MonitorMetric || monitor.Metric == nil {
		return false, fmt.Errorf("monitor %s: %w", monitor.ID, ErrWrongMonitorType)
	}
	spec := monitor.Metric

	switch spec.Strategy {
	case database.StrategyConsecutiveCount:
		return e.consecutiveCount(ctx, monitor, value)
	case database.StrategyTimeDurationAverage:
		since := e.clock.Now().Add(-time.Duration(spec.WindowSeconds) * time.Second)
		prior, err := e.history.ReadingsSince(ctx, monitor.ID, since)
		if err != nil {
			return false, fmt.Errorf("failed to load readings: %w", err)
		}
		return IsOutOfRange(mean(prior, value), spec), nil
	case database.StrategySampleCountAverage:
		prior, err := e.history.RecentReadings(ctx, monitor.ID, spec.WindowSampleCount-1)
		if err != nil {
			return false, fmt.Errorf("failed to load readings: %w", err)
		}
		return IsOutOfRange(mean(prior, value), spec), nil
	default:
		return IsOutOfRange(value, spec), nil
	}
}

// consecutiveCount requires the current reading and the thresholdCount-1
// readings before it to all be out of range. Bounds are re-applied to the
// prior values so a changed threshold takes effect immediately.
func (e *Evaluator) consecutiveCount(ctx context.Context, monitor *database.Monitor, value float64) (bool, error) {
	spec := monitor.Metric
	if !IsOutOfRange(value, spec) {
		return false, nil
	}
	need := spec.ThresholdCount - 1
	if need <= 0 {
		return true, nil
	}

	prior, err := e.history.RecentReadings(ctx, monitor.ID, need)
	if err != nil {
		return false, fmt.Errorf("failed to load readings: %w", err)
	}
	if len(prior) < need {
		return false, nil
	}
	for _, r := range prior {
		if !IsOutOfRange(r.Value, spec) {
			return false, nil
		}
	}
	return true, nil
}

func mean(prior []database.MetricReading, current float64) float64 {
	sum := current
	for _, r := range prior {
		sum += r.Value
	}
	return sum / float64(len(prior)+1)
}
