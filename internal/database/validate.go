package database

import (
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// Validate checks the envelope and the payload that belongs to the monitor's
// type. A payload for a different type is rejected so a monitor never carries
// stale variant fields.
func (m *Monitor) Validate() error {
	if err := structValidator().Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch m.Type {
	case MonitorHeartbeat:
		if m.HealthCheck != nil || m.Metric != nil {
			return fmt.Errorf("%w: heartbeat monitor carries foreign payload", ErrInvalid)
		}
		if m.IntervalSeconds <= 0 {
			return fmt.Errorf("%w: heartbeat monitor requires interval_seconds", ErrInvalid)
		}
	case MonitorWebhook:
		if m.Heartbeat != nil || m.HealthCheck != nil || m.Metric != nil {
			return fmt.Errorf("%w: webhook monitor carries foreign payload", ErrInvalid)
		}
	case MonitorHealthCheck:
		if m.HealthCheck == nil {
			return fmt.Errorf("%w: health_check monitor requires health_check settings", ErrInvalid)
		}
		if m.Heartbeat != nil || m.Metric != nil {
			return fmt.Errorf("%w: health_check monitor carries foreign payload", ErrInvalid)
		}
		if m.IntervalSeconds <= 0 {
			return fmt.Errorf("%w: health_check monitor requires interval_seconds", ErrInvalid)
		}
		if err := structValidator().Struct(m.HealthCheck); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if m.HealthCheck.BodyMatchRegex != "" {
			if _, err := regexp.Compile(m.HealthCheck.BodyMatchRegex); err != nil {
				return fmt.Errorf("%w: body_match_regex: %v", ErrInvalid, err)
			}
		}
	case MonitorMetric:
		if m.Metric == nil {
			return fmt.Errorf("%w: metric monitor requires metric settings", ErrInvalid)
		}
		if m.Heartbeat != nil || m.HealthCheck != nil {
			return fmt.Errorf("%w: metric monitor carries foreign payload", ErrInvalid)
		}
		if err := structValidator().Struct(m.Metric); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		spec := m.Metric
		if spec.Min == nil && spec.Max == nil {
			return fmt.Errorf("%w: metric monitor requires min or max", ErrInvalid)
		}
		if spec.Min != nil && spec.Max != nil && *spec.Min > *spec.Max {
			return fmt.Errorf("%w: metric min exceeds max", ErrInvalid)
		}
		switch spec.Strategy {
		case StrategyConsecutiveCount:
			if spec.ThresholdCount < 1 {
				return fmt.Errorf("%w: consecutive_count requires threshold_count >= 1", ErrInvalid)
			}
		case StrategyTimeDurationAverage:
			if spec.WindowSeconds < 1 {
				return fmt.Errorf("%w: time_duration_average requires window_seconds >= 1", ErrInvalid)
			}
		case StrategySampleCountAverage:
			if spec.WindowSampleCount < 1 {
				return fmt.Errorf("%w: sample_count_average requires window_sample_count >= 1", ErrInvalid)
			}
		}
	}
	return nil
}

// ApplyDefaults fills the zero-valued optional settings of the active variant.
func (m *Monitor) ApplyDefaults() {
	switch m.Type {
	case MonitorHeartbeat:
		if m.Heartbeat == nil {
			m.Heartbeat = &HeartbeatSpec{}
		}
	case MonitorHealthCheck:
		if m.HealthCheck == nil {
			return
		}
		if m.HealthCheck.Method == "" {
			m.HealthCheck.Method = "GET"
		}
		if len(m.HealthCheck.ExpectedStatusCodes) == 0 {
			m.HealthCheck.ExpectedStatusCodes = []int{200}
		}
		if m.HealthCheck.TimeoutSeconds == 0 {
			m.HealthCheck.TimeoutSeconds = 10
		}
	case MonitorMetric:
		if m.Metric == nil {
			return
		}
		if m.Metric.Strategy == "" {
			m.Metric.Strategy = StrategyImmediate
		}
		if m.Metric.RetentionDays == 0 {
			m.Metric.RetentionDays = 30
		}
	}
}

func (s *Service) Validate() error {
	if err := structValidator().Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (c *Contact) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// IsValidationError reports whether err came from model validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalid)
}
