// internal/config/config.go - YAML configuration with include-directory merging
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Prometheus    PrometheusConfig   `yaml:"prometheus"`
	Logging       LoggingConfig      `yaml:"logging"`
	Workers       WorkersConfig      `yaml:"workers"`
	Notifications NotificationConfig `yaml:"notifications"`
	Peering       PeeringConfig      `yaml:"peering"`
	Contacts      []ContactConfig    `yaml:"contacts"`
	Services      []ServiceConfig    `yaml:"services"`
	Include       IncludeConfig      `yaml:"include"`
}

type IncludeConfig struct {
	Directory string `yaml:"directory"`
	Pattern   string `yaml:"pattern"`
	Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
	Listen       string        `yaml:"listen"`
	PublicURL    string        `yaml:"public_url"`
	InstanceName string        `yaml:"instance_name"`
	APIToken     string        `yaml:"api_token"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Requests per second allowed per ingestion token; 0 disables limiting.
	IngestRateLimit float64 `yaml:"ingest_rate_limit"`
	IngestBurst     int     `yaml:"ingest_burst"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PrometheusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	MetricsPath string `yaml:"metrics_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WorkersConfig holds the tick interval of every background worker. A
// negative interval disables the worker.
type WorkersConfig struct {
	Heartbeat              time.Duration `yaml:"heartbeat"`
	HealthCheck            time.Duration `yaml:"health_check"`
	AlertDispatch          time.Duration `yaml:"alert_dispatch"`
	MetricRetention        time.Duration `yaml:"metric_retention"`
	EventRetention         time.Duration `yaml:"event_retention"`
	Rollup                 time.Duration `yaml:"rollup"`
	Maintenance            time.Duration `yaml:"maintenance"`
	PeerHeartbeat          time.Duration `yaml:"peer_heartbeat"`
	HealthCheckConcurrency int           `yaml:"health_check_concurrency"`
}

type NotificationConfig struct {
	// Fallback channels used when neither the service nor a default contact
	// provides any.
	Fallback       []database.Channel `yaml:"fallback"`
	Pushover       PushoverConfig     `yaml:"pushover"`
	WebhookTimeout time.Duration      `yaml:"webhook_timeout"`
}

type PeeringConfig struct {
	TokenTTL                 time.Duration `yaml:"token_ttl"`
	HeartbeatIntervalSeconds int           `yaml:"heartbeat_interval_seconds"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
}

type ContactConfig struct {
	ID       string             `yaml:"id"`
	Name     string             `yaml:"name"`
	Default  bool               `yaml:"default"`
	Channels []database.Channel `yaml:"channels"`
}

type ServiceConfig struct {
	ID          string          `yaml:"id"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Severity    string          `yaml:"severity,omitempty"`
	Contacts    []string        `yaml:"contacts,omitempty"`
	DependsOn   []string        `yaml:"depends_on,omitempty"`
	Monitors    []MonitorConfig `yaml:"monitors,omitempty"`
}

type MonitorConfig struct {
	ID          string        `yaml:"id,omitempty"`
	Type        string        `yaml:"type"`
	Token       string        `yaml:"token,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	GracePeriod time.Duration `yaml:"grace_period,omitempty"`

	// health_check
	URL                 string        `yaml:"url,omitempty"`
	Method              string        `yaml:"method,omitempty"`
	ExpectedStatusCodes []int         `yaml:"expected_status_codes,omitempty"`
	Timeout             time.Duration `yaml:"timeout,omitempty"`
	BodyMatchRegex      string        `yaml:"body_match_regex,omitempty"`

	// metric
	Min               *float64      `yaml:"min,omitempty"`
	Max               *float64      `yaml:"max,omitempty"`
	Strategy          string        `yaml:"threshold_strategy,omitempty"`
	ThresholdCount    int           `yaml:"threshold_count,omitempty"`
	Window            time.Duration `yaml:"window,omitempty"`
	WindowSampleCount int           `yaml:"window_sample_count,omitempty"`
	RetentionDays     int           `yaml:"retention_days,omitempty"`
}

// PartialConfig represents a partial configuration that can be merged
type PartialConfig struct {
	Server        *ServerConfig       `yaml:"server,omitempty"`
	Database      *DatabaseConfig     `yaml:"database,omitempty"`
	Prometheus    *PrometheusConfig   `yaml:"prometheus,omitempty"`
	Logging       *LoggingConfig      `yaml:"logging,omitempty"`
	Workers       *WorkersConfig      `yaml:"workers,omitempty"`
	Notifications *NotificationConfig `yaml:"notifications,omitempty"`
	Peering       *PeeringConfig      `yaml:"peering,omitempty"`
	Contacts      []ContactConfig     `yaml:"contacts,omitempty"`
	Services      []ServiceConfig     `yaml:"services,omitempty"`
}

func Load(filename string) (*Config, error) {
	config, err := loadConfigFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config file: %w", err)
	}

	if config.Include.Enabled && config.Include.Directory != "" {
		if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
			return nil, fmt.Errorf("failed to load includes: %w", err)
		}
	}

	SetDefaults(config)

	if err := validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadConfigFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
	includeDir := config.Include.Directory
	if !filepath.IsAbs(includeDir) {
		includeDir = filepath.Join(baseDir, includeDir)
	}

	if _, err := os.Stat(includeDir); os.IsNotExist(err) {
		return fmt.Errorf("include directory does not exist: %s", includeDir)
	}

	pattern := config.Include.Pattern
	if pattern == "" {
		pattern = "*.yaml"
	}

	matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to glob include pattern: %w", err)
	}
	if pattern == "*.yaml" {
		ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to glob .yml files: %w", err)
		}
		matches = append(matches, ymlMatches...)
	}

	// Consistent ordering by filename
	sort.Slice(matches, func(i, j int) bool {
		return filepath.Base(matches[i]) < filepath.Base(matches[j])
	})

	for _, match := range matches {
		if err := loadAndMergeInclude(config, match); err != nil {
			return fmt.Errorf("failed to load include file %s: %w", match, err)
		}
	}

	return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read include file: %w", err)
	}

	var partial PartialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse include file YAML: %w", err)
	}

	mergePartialConfig(config, &partial)
	return nil
}

func mergePartialConfig(config *Config, partial *PartialConfig) {
	if len(partial.Contacts) > 0 {
		config.Contacts = append(config.Contacts, partial.Contacts...)
	}
	if len(partial.Services) > 0 {
		mergeServices(config, partial.Services)
	}

	if partial.Server != nil {
		mergeServerConfig(&config.Server, partial.Server)
	}
	if partial.Database != nil && partial.Database.Path != "" {
		config.Database.Path = partial.Database.Path
	}
	if partial.Prometheus != nil {
		config.Prometheus.Enabled = partial.Prometheus.Enabled
		if partial.Prometheus.MetricsPath != "" {
			config.Prometheus.MetricsPath = partial.Prometheus.MetricsPath
		}
	}
	if partial.Logging != nil {
		if partial.Logging.Level != "" {
			config.Logging.Level = partial.Logging.Level
		}
		if partial.Logging.Format != "" {
			config.Logging.Format = partial.Logging.Format
		}
	}
	if partial.Workers != nil {
		mergeWorkersConfig(&config.Workers, partial.Workers)
	}
	if partial.Notifications != nil {
		mergeNotificationConfig(&config.Notifications, partial.Notifications)
	}
	if partial.Peering != nil {
		mergePeeringConfig(&config.Peering, partial.Peering)
	}
}

// mergeServices replaces services with a matching ID. A fragment that only
// names an ID plus monitors appends those monitors to the existing service.
func mergeServices(config *Config, services []ServiceConfig) {
	existing := make(map[string]int)
	for i, svc := range config.Services {
		existing[svc.ID] = i
	}

	for _, svc := range services {
		idx, ok := existing[svc.ID]
		if !ok || svc.ID == "" {
			config.Services = append(config.Services, svc)
			existing[svc.ID] = len(config.Services) - 1
			continue
		}
		if isPartialService(svc) {
			config.Services[idx].Monitors = append(config.Services[idx].Monitors, svc.Monitors...)
			config.Services[idx].DependsOn = append(config.Services[idx].DependsOn, svc.DependsOn...)
			continue
		}
		config.Services[idx] = svc
	}
}

func isPartialService(svc ServiceConfig) bool {
	return svc.ID != "" &&
		svc.Name == "" &&
		svc.Description == "" &&
		svc.Severity == "" &&
		len(svc.Contacts) == 0
}

func mergeServerConfig(main *ServerConfig, partial *ServerConfig) {
	if partial.Listen != "" {
		main.Listen = partial.Listen
	}
	if partial.PublicURL != "" {
		main.PublicURL = partial.PublicURL
	}
	if partial.InstanceName != "" {
		main.InstanceName = partial.InstanceName
	}
	if partial.APIToken != "" {
		main.APIToken = partial.APIToken
	}
	if partial.ReadTimeout != 0 {
		main.ReadTimeout = partial.ReadTimeout
	}
	if partial.WriteTimeout != 0 {
		main.WriteTimeout = partial.WriteTimeout
	}
	if partial.IngestRateLimit != 0 {
		main.IngestRateLimit = partial.IngestRateLimit
	}
	if partial.IngestBurst != 0 {
		main.IngestBurst = partial.IngestBurst
	}
}

func mergeWorkersConfig(main *WorkersConfig, partial *WorkersConfig) {
	pick := func(dst *time.Duration, v time.Duration) {
		if v != 0 {
			*dst = v
		}
	}
	pick(&main.Heartbeat, partial.Heartbeat)
	pick(&main.HealthCheck, partial.HealthCheck)
	pick(&main.AlertDispatch, partial.AlertDispatch)
	pick(&main.MetricRetention, partial.MetricRetention)
	pick(&main.EventRetention, partial.EventRetention)
	pick(&main.Rollup, partial.Rollup)
	pick(&main.Maintenance, partial.Maintenance)
	pick(&main.PeerHeartbeat, partial.PeerHeartbeat)
	if partial.HealthCheckConcurrency != 0 {
		main.HealthCheckConcurrency = partial.HealthCheckConcurrency
	}
}

func mergeNotificationConfig(main *NotificationConfig, partial *NotificationConfig) {
	if len(partial.Fallback) > 0 {
		main.Fallback = partial.Fallback
	}
	if partial.WebhookTimeout != 0 {
		main.WebhookTimeout = partial.WebhookTimeout
	}
	main.Pushover.merge(&partial.Pushover)
}

func mergePeeringConfig(main *PeeringConfig, partial *PeeringConfig) {
	if partial.TokenTTL != 0 {
		main.TokenTTL = partial.TokenTTL
	}
	if partial.HeartbeatIntervalSeconds != 0 {
		main.HeartbeatIntervalSeconds = partial.HeartbeatIntervalSeconds
	}
	if partial.RequestTimeout != 0 {
		main.RequestTimeout = partial.RequestTimeout
	}
}

// SetDefaults fills every unset value. Load calls it; tests building a Config
// by hand call it directly.
func SetDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.InstanceName == "" {
		if host, err := os.Hostname(); err == nil {
			cfg.Server.InstanceName = host
		} else {
			cfg.Server.InstanceName = "sentinel"
		}
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = "http://localhost" + cfg.Server.Listen
	}
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IngestRateLimit > 0 && cfg.Server.IngestBurst == 0 {
		cfg.Server.IngestBurst = 10
	}

	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/sentinel.db"
	}

	if cfg.Prometheus.MetricsPath == "" {
		cfg.Prometheus.MetricsPath = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	w := &cfg.Workers
	defaultDuration(&w.Heartbeat, 30*time.Second)
	defaultDuration(&w.HealthCheck, 15*time.Second)
	defaultDuration(&w.AlertDispatch, 10*time.Second)
	defaultDuration(&w.MetricRetention, time.Hour)
	defaultDuration(&w.EventRetention, time.Hour)
	defaultDuration(&w.Rollup, 5*time.Minute)
	defaultDuration(&w.Maintenance, time.Minute)
	defaultDuration(&w.PeerHeartbeat, 15*time.Second)
	if w.HealthCheckConcurrency == 0 {
		w.HealthCheckConcurrency = 10
	}

	if cfg.Notifications.WebhookTimeout == 0 {
		cfg.Notifications.WebhookTimeout = 10 * time.Second
	}
	cfg.Notifications.Pushover.setDefaults()

	if cfg.Peering.TokenTTL == 0 {
		cfg.Peering.TokenTTL = 10 * time.Minute
	}
	if cfg.Peering.HeartbeatIntervalSeconds == 0 {
		cfg.Peering.HeartbeatIntervalSeconds = 60
	}
	if cfg.Peering.RequestTimeout == 0 {
		cfg.Peering.RequestTimeout = 10 * time.Second
	}

	if cfg.Include.Pattern == "" {
		cfg.Include.Pattern = "*.yaml"
	}
}

func defaultDuration(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}

func validate(cfg *Config) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	if !isValidURL(cfg.Server.PublicURL) {
		return fmt.Errorf("server.public_url must be a valid http(s) URL")
	}
	if cfg.Server.IngestRateLimit < 0 {
		return fmt.Errorf("server.ingest_rate_limit must not be negative")
	}
	if cfg.Workers.HealthCheckConcurrency < 1 {
		return fmt.Errorf("workers.health_check_concurrency must be at least 1")
	}
	if cfg.Peering.TokenTTL <= 0 {
		return fmt.Errorf("peering.token_ttl must be positive")
	}

	if cfg.Include.Enabled {
		if cfg.Include.Directory == "" {
			return fmt.Errorf("include.directory must be specified when include.enabled is true")
		}
		if !isValidGlobPattern(cfg.Include.Pattern) {
			return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
		}
	}

	if err := cfg.Notifications.Pushover.Validate(); err != nil {
		return err
	}
	for _, ch := range cfg.Notifications.Fallback {
		if err := validateChannel(ch); err != nil {
			return fmt.Errorf("notifications.fallback: %w", err)
		}
	}

	contactNames := make(map[string]bool)
	defaults := 0
	for _, c := range cfg.Contacts {
		if c.Name == "" {
			return fmt.Errorf("contact without a name")
		}
		if contactNames[c.Name] {
			return fmt.Errorf("duplicate contact name: %s", c.Name)
		}
		contactNames[c.Name] = true
		if c.Default {
			defaults++
		}
		for _, ch := range c.Channels {
			if err := validateChannel(ch); err != nil {
				return fmt.Errorf("contact '%s': %w", c.Name, err)
			}
		}
	}
	if defaults > 1 {
		return fmt.Errorf("at most one contact may be the default")
	}

	serviceIDs := make(map[string]bool)
	for _, svc := range cfg.Services {
		if svc.ID == "" {
			return fmt.Errorf("service '%s' has no id", svc.Name)
		}
		if serviceIDs[svc.ID] {
			return fmt.Errorf("duplicate service ID: %s", svc.ID)
		}
		serviceIDs[svc.ID] = true
	}
	for _, svc := range cfg.Services {
		for _, name := range svc.Contacts {
			if !contactNames[name] {
				return fmt.Errorf("service '%s' references non-existent contact: %s", svc.ID, name)
			}
		}
		for _, dep := range svc.DependsOn {
			if !serviceIDs[dep] {
				return fmt.Errorf("service '%s' depends on non-existent service: %s", svc.ID, dep)
			}
		}
		for _, m := range svc.Monitors {
			mon := m.ToMonitor(svc.ID)
			mon.ApplyDefaults()
			if err := mon.Validate(); err != nil {
				return fmt.Errorf("service '%s' monitor '%s': %w", svc.ID, m.ID, err)
			}
		}
	}

	return nil
}

func validateChannel(ch database.Channel) error {
	switch ch.Type {
	case database.ChannelWebhook:
		if !isValidURL(ch.Target) {
			return fmt.Errorf("webhook channel target must be a valid URL")
		}
	case database.ChannelPushover, database.ChannelLog:
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
	return nil
}

// ToMonitor builds the stored monitor for a configured one.
func (m MonitorConfig) ToMonitor(serviceID string) *database.Monitor {
	mon := &database.Monitor{
		ID:                 m.ID,
		ServiceID:          serviceID,
		Type:               database.MonitorType(m.Type),
		Token:              m.Token,
		IntervalSeconds:    int(m.Interval / time.Second),
		GracePeriodSeconds: int(m.GracePeriod / time.Second),
	}
	switch mon.Type {
	case database.MonitorHealthCheck:
		mon.HealthCheck = &database.HealthCheckSpec{
			URL:                 m.URL,
			Method:              strings.ToUpper(m.Method),
			ExpectedStatusCodes: m.ExpectedStatusCodes,
			TimeoutSeconds:      int(m.Timeout / time.Second),
			BodyMatchRegex:      m.BodyMatchRegex,
		}
	case database.MonitorMetric:
		mon.Metric = &database.MetricSpec{
			Min:               m.Min,
			Max:               m.Max,
			Strategy:          database.ThresholdStrategy(m.Strategy),
			ThresholdCount:    m.ThresholdCount,
			WindowSeconds:     int(m.Window / time.Second),
			WindowSampleCount: m.WindowSampleCount,
			RetentionDays:     m.RetentionDays,
		}
	}
	return mon
}

func isValidURL(str string) bool {
	u, err := url.Parse(str)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isValidGlobPattern checks if a string is a valid glob pattern
func isValidGlobPattern(pattern string) bool {
	if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
		return false
	}
	_, err := filepath.Match(pattern, "test.yaml")
	return err == nil
}
