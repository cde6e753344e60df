// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// EnvironmentVariable names the variable Load reads the config path from.
const EnvironmentVariable = "STATUSD_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the status daemon's configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`

	Listen ListenConfig `yaml:"listen"`

	// ActivityLogCapacity is the number of activity entries retained.
	// Older entries are evicted first.
	ActivityLogCapacity int `yaml:"activity_log_capacity"`

	Staleness StalenessConfig `yaml:"staleness"`

	// CriticalPath lists the subsystems whose loss makes the overall
	// posture critical.
	CriticalPath []status.SubsystemID `yaml:"critical_path"`

	// EnabledSubsystems narrows the accepted subsystems for editions
	// that do not run all of them. Empty means all known subsystems.
	EnabledSubsystems []status.SubsystemID `yaml:"enabled_subsystems"`

	Hub HubConfig `yaml:"hub"`

	Thresholds []ThresholdConfig `yaml:"thresholds"`

	HostProbe HostProbeConfig `yaml:"host_probe"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that can be overridden per environment.
type Overrides struct {
	Logging *LoggingConfig `yaml:"logging,omitempty"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// ListenConfig sets the transport endpoints. An empty value disables
// that transport; at least one must be set.
type ListenConfig struct {
	// HTTP is the TCP address of the HTTP and WebSocket API.
	HTTP string `yaml:"http"`

	// Socket is the unix socket path of the CBOR action protocol.
	Socket string `yaml:"socket"`
}

// StalenessConfig configures the staleness monitor.
type StalenessConfig struct {
	// Period is the time between staleness cycles.
	Period time.Duration `yaml:"period"`

	// DefaultInterval is how long a subsystem may stay silent before
	// it is demoted.
	DefaultInterval time.Duration `yaml:"default_interval"`

	// Intervals overrides DefaultInterval per subsystem.
	Intervals map[status.SubsystemID]time.Duration `yaml:"intervals"`

	// SummaryInterval is the time between posture summary log lines.
	// Zero disables the summary.
	SummaryInterval time.Duration `yaml:"summary_interval"`
}

// HubConfig configures the subscription hub.
type HubConfig struct {
	PollMinInterval time.Duration `yaml:"poll_min_interval"`

	// PushMode is diff or full.
	PushMode string `yaml:"push_mode"`

	// SubscriptionGrace is how long a subscription may go without a
	// successful delivery or poll before it is removed.
	SubscriptionGrace time.Duration `yaml:"subscription_grace"`

	DeliveryAttempts  int           `yaml:"delivery_attempts"`
	DeliveryBackoff   time.Duration `yaml:"delivery_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ThresholdConfig is one metric threshold. Exactly one of Above and
// Below must be set.
type ThresholdConfig struct {
	Subsystem status.SubsystemID `yaml:"subsystem"`
	Metric    string             `yaml:"metric"`
	Above     *float64           `yaml:"above,omitempty"`
	Below     *float64           `yaml:"below,omitempty"`
}

// HostProbeConfig configures the built-in host adapter.
type HostProbeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	// CPUDegradedPercent and MemoryDegradedPercent are the usage
	// levels above which the host reports itself degraded.
	CPUDegradedPercent    float64 `yaml:"cpu_degraded_percent"`
	MemoryDegradedPercent float64 `yaml:"memory_degraded_percent"`
}

// Default returns the default configuration. Every field has a usable
// value; a config file only needs to name what it changes.
func Default() *Config {
	return &Config{
		Environment: Development,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Listen: ListenConfig{
			HTTP:   ":8026",
			Socket: "${RUNTIME_DIRECTORY:-/run/infinite-server26}/statusd.sock",
		},
		ActivityLogCapacity: 200,
		Staleness: StalenessConfig{
			Period:          10 * time.Second,
			DefaultInterval: 30 * time.Second,
			SummaryInterval: 5 * time.Minute,
		},
		CriticalPath: []status.SubsystemID{status.MeshShield, status.ThreatHuntress},
		Hub: HubConfig{
			PollMinInterval:   time.Second,
			PushMode:          "diff",
			SubscriptionGrace: 2 * time.Minute,
			DeliveryAttempts:  4,
			DeliveryBackoff:   200 * time.Millisecond,
			HeartbeatInterval: 15 * time.Second,
		},
		HostProbe: HostProbeConfig{
			Enabled:               true,
			Interval:              5 * time.Second,
			CPUDegradedPercent:    90,
			MemoryDegradedPercent: 90,
		},
	}
}

// Load loads configuration from the file named by STATUSD_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your statusd.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, on top of
// Default. The result is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.parse(path, data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// LoadDefault returns Default with environment overrides applied and
// variables expanded, as LoadFile would for an empty file.
func LoadDefault() *Config {
	cfg := Default()
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg
}

// DefaultSocketPath returns the expanded default socket path. Clients
// use it when no path is given.
func DefaultSocketPath() string {
	return expandVars(Default().Listen.Socket)
}

// parse decodes data into c. JSONC is comment-stripped first.
func (c *Config) parse(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{
				Logging: &LoggingConfig{Level: "info", Format: "json"},
			}
		}
	}

	if overrides == nil || overrides.Logging == nil {
		return
	}
	if overrides.Logging.Level != "" {
		c.Logging.Level = overrides.Logging.Level
	}
	if overrides.Logging.Format != "" {
		c.Logging.Format = overrides.Logging.Format
	}
}

func (c *Config) expandVariables() {
	c.Listen.HTTP = expandVars(c.Listen.HTTP)
	c.Listen.Socket = expandVars(c.Listen.Socket)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the slog logger the configuration describes.
func (c *Config) NewLogger(output *os.File) *slog.Logger {
	options := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(output, options))
	}
	return slog.New(slog.NewTextHandler(output, options))
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if c.Listen.HTTP == "" && c.Listen.Socket == "" {
		errs = append(errs, errors.New("listen: at least one of http and socket is required"))
	}

	if c.ActivityLogCapacity <= 0 {
		errs = append(errs, fmt.Errorf("activity_log_capacity must be positive, got %d", c.ActivityLogCapacity))
	}

	errs = append(errs, c.Staleness.validate()...)

	for _, id := range c.EnabledSubsystems {
		if !id.IsKnown() {
			errs = append(errs, fmt.Errorf("enabled_subsystems: unknown subsystem %q", id))
		}
	}
	for _, id := range c.CriticalPath {
		if !id.IsKnown() {
			errs = append(errs, fmt.Errorf("critical_path: unknown subsystem %q", id))
			continue
		}
		if !c.SubsystemEnabled(id) {
			errs = append(errs, fmt.Errorf("critical_path: %q is not in enabled_subsystems", id))
		}
	}

	errs = append(errs, c.Hub.validate()...)

	for i, threshold := range c.Thresholds {
		if !threshold.Subsystem.IsKnown() {
			errs = append(errs, fmt.Errorf("thresholds[%d]: unknown subsystem %q", i, threshold.Subsystem))
		}
		if threshold.Metric == "" {
			errs = append(errs, fmt.Errorf("thresholds[%d]: metric is required", i))
		}
		if (threshold.Above == nil) == (threshold.Below == nil) {
			errs = append(errs, fmt.Errorf("thresholds[%d]: exactly one of above and below is required", i))
		}
	}

	if c.HostProbe.Enabled {
		if c.HostProbe.Interval <= 0 {
			errs = append(errs, fmt.Errorf("host_probe.interval must be positive, got %s", c.HostProbe.Interval))
		}
		for name, value := range map[string]float64{
			"cpu_degraded_percent":    c.HostProbe.CPUDegradedPercent,
			"memory_degraded_percent": c.HostProbe.MemoryDegradedPercent,
		} {
			if value <= 0 || value > 100 {
				errs = append(errs, fmt.Errorf("host_probe.%s must be in (0, 100], got %v", name, value))
			}
		}
		if !c.SubsystemEnabled(status.Host) {
			errs = append(errs, errors.New("host_probe is enabled but host is not in enabled_subsystems"))
		}
	}

	return errors.Join(errs...)
}

func (s StalenessConfig) validate() []error {
	var errs []error
	if s.Period <= 0 {
		errs = append(errs, fmt.Errorf("staleness.period must be positive, got %s", s.Period))
	}
	if s.DefaultInterval <= 0 {
		errs = append(errs, fmt.Errorf("staleness.default_interval must be positive, got %s", s.DefaultInterval))
	}
	for id, interval := range s.Intervals {
		if !id.IsKnown() {
			errs = append(errs, fmt.Errorf("staleness.intervals: unknown subsystem %q", id))
		}
		if interval <= 0 {
			errs = append(errs, fmt.Errorf("staleness.intervals.%s must be positive, got %s", id, interval))
		}
	}
	if s.SummaryInterval < 0 {
		errs = append(errs, fmt.Errorf("staleness.summary_interval must not be negative, got %s", s.SummaryInterval))
	}
	return errs
}

func (h HubConfig) validate() []error {
	var errs []error
	if h.PollMinInterval < 0 {
		errs = append(errs, fmt.Errorf("hub.poll_min_interval must not be negative, got %s", h.PollMinInterval))
	}
	if h.PushMode != "diff" && h.PushMode != "full" {
		errs = append(errs, fmt.Errorf("hub.push_mode must be diff or full, got %q", h.PushMode))
	}
	if h.SubscriptionGrace < 0 {
		errs = append(errs, fmt.Errorf("hub.subscription_grace must not be negative, got %s", h.SubscriptionGrace))
	}
	if h.DeliveryAttempts < 1 {
		errs = append(errs, fmt.Errorf("hub.delivery_attempts must be at least 1, got %d", h.DeliveryAttempts))
	}
	if h.DeliveryBackoff < 0 {
		errs = append(errs, fmt.Errorf("hub.delivery_backoff must not be negative, got %s", h.DeliveryBackoff))
	}
	if h.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("hub.heartbeat_interval must not be negative, got %s", h.HeartbeatInterval))
	}
	if h.SubscriptionGrace > 0 && h.HeartbeatInterval > 0 && h.HeartbeatInterval >= h.SubscriptionGrace {
		errs = append(errs, fmt.Errorf("hub.heartbeat_interval (%s) must be shorter than hub.subscription_grace (%s)",
			h.HeartbeatInterval, h.SubscriptionGrace))
	}
	return errs
}

// SubsystemEnabled reports whether id is accepted in this deployment.
func (c *Config) SubsystemEnabled(id status.SubsystemID) bool {
	if len(c.EnabledSubsystems) == 0 {
		return id.IsKnown()
	}
	for _, enabled := range c.EnabledSubsystems {
		if enabled == id {
			return true
		}
	}
	return false
}

// IntervalFor returns the staleness interval for id.
func (c *Config) IntervalFor(id status.SubsystemID) time.Duration {
	if interval, ok := c.Staleness.Intervals[id]; ok && interval > 0 {
		return interval
	}
	return c.Staleness.DefaultInterval
}
