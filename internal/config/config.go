package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/nilm-server/internal/nilm"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt,omitempty"`
	Redis     RedisConfig     `yaml:"redis,omitempty"`
	Detection DetectionConfig `yaml:"detection,omitempty"`
	Retention RetentionConfig `yaml:"retention,omitempty"`
}

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr          string `yaml:"addr,omitempty"`            // e.g. ":8000"
	APIKey        string `yaml:"api_key,omitempty"`         // empty disables auth
	RatePerMinute int    `yaml:"rate_per_minute,omitempty"` // per-client request budget
}

// DatabaseConfig holds the SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

// MQTTConfig holds the broker connection for broadcast publishing
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker,omitempty"` // e.g. "tcp://localhost:1883"
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// RedisConfig holds the optional read-cache settings
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// DetectionConfig mirrors the tunable thresholds of the detection engine.
// Zero values fall back to the engine defaults.
type DetectionConfig struct {
	PowerThreshold      float64 `yaml:"power_threshold,omitempty"`       // watts
	WindowSize          int     `yaml:"window_size,omitempty"`           // samples before events may fire
	StdDevThreshold     float64 `yaml:"stddev_threshold,omitempty"`      // steady-state bound
	MinEventIntervalSec float64 `yaml:"min_event_interval,omitempty"`    // seconds
	PowerHistorySize    int     `yaml:"power_history_size,omitempty"`    // ring buffer capacity
	SteadyStateSamples  int     `yaml:"steady_state_samples,omitempty"`  // tail length for steadiness
	TransientWindow     int     `yaml:"transient_window,omitempty"`      // tail length for the step scan
	CandidateFloor      float64 `yaml:"candidate_floor,omitempty"`       // matcher candidate threshold
	AcceptFloor         float64 `yaml:"accept_floor,omitempty"`          // matcher accept threshold
}

// RetentionConfig holds the data-retention windows for the hourly sweep
type RetentionConfig struct {
	ReadingsDays   int `yaml:"readings_days,omitempty"`
	EventsDays     int `yaml:"events_days,omitempty"`
	DetectionsDays int `yaml:"detections_days,omitempty"`
	SweepMinutes   int `yaml:"sweep_minutes,omitempty"`
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetAddr returns the listen address with a default of :8000
func (c *Config) GetAddr() string {
	if c.Server.Addr == "" {
		return ":8000"
	}
	return c.Server.Addr
}

// GetRatePerMinute returns the per-client request budget with a default of 60
func (c *Config) GetRatePerMinute() int {
	if c.Server.RatePerMinute <= 0 {
		return 60
	}
	return c.Server.RatePerMinute
}

// GetDatabasePath returns the SQLite path with a default of nilm.db
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "nilm.db"
	}
	return c.Database.Path
}

// GetTopicPrefix returns the MQTT topic prefix with a default of nilm
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "nilm"
	}
	return c.MQTT.TopicPrefix
}

// GetRedisAddr returns the Redis address with a default of localhost:6379
func (c *Config) GetRedisAddr() string {
	if c.Redis.Addr == "" {
		return "localhost:6379"
	}
	return c.Redis.Addr
}

// GetReadingsRetention returns the raw-readings retention window (default 7 days)
func (c *Config) GetReadingsRetention() time.Duration {
	return daysOr(c.Retention.ReadingsDays, 7)
}

// GetEventsRetention returns the event retention window (default 30 days)
func (c *Config) GetEventsRetention() time.Duration {
	return daysOr(c.Retention.EventsDays, 30)
}

// GetDetectionsRetention returns the detection retention window (default 30 days)
func (c *Config) GetDetectionsRetention() time.Duration {
	return daysOr(c.Retention.DetectionsDays, 30)
}

// GetSweepInterval returns how often the retention sweep runs (default hourly)
func (c *Config) GetSweepInterval() time.Duration {
	if c.Retention.SweepMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(c.Retention.SweepMinutes) * time.Minute
}

func daysOr(days, fallback int) time.Duration {
	if days <= 0 {
		days = fallback
	}
	return time.Duration(days) * 24 * time.Hour
}

// DetectionEngineConfig converts the YAML thresholds into the engine's
// config type, leaving zero fields for the engine to default.
func (c *Config) DetectionEngineConfig() nilm.DetectionConfig {
	return nilm.DetectionConfig{
		PowerThreshold:     c.Detection.PowerThreshold,
		WindowSize:         c.Detection.WindowSize,
		StdDevThreshold:    c.Detection.StdDevThreshold,
		MinEventInterval:   time.Duration(c.Detection.MinEventIntervalSec * float64(time.Second)),
		PowerHistorySize:   c.Detection.PowerHistorySize,
		SteadyStateSamples: c.Detection.SteadyStateSamples,
		TransientWindow:    c.Detection.TransientWindow,
		CandidateFloor:     c.Detection.CandidateFloor,
		AcceptFloor:        c.Detection.AcceptFloor,
	}
}
