package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultHeartbeatInterval is the fixed push-channel heartbeat cadence.
	DefaultHeartbeatInterval = 5 * time.Second

	defaultBindAddr         = "127.0.0.1:8000"
	defaultCallTimeout      = 60 * time.Second
	defaultQueueSize        = 256
	defaultMaxBodyBytes     = 1 << 20 // 1MB
	defaultAmapTimeout      = 10 * time.Second
	defaultScheduleInterval = time.Minute
)

// AmapConfig holds settings for the Amap (Gaode) REST client.
type AmapConfig struct {
	// BaseURL overrides the API host; used by tests. Empty means production.
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// CORSConfig controls the gateway CORS middleware.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RateLimitConfig controls the gateway token-bucket rate limiter.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// TelemetryConfig configures the OpenTelemetry provider.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// HeartbeatIntervalSeconds sets the cadence of heartbeat events on open
	// push channels. 0 uses the 5s default.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// CallTimeoutSeconds bounds a single dispatched handler. 0 uses 60s.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`

	// ChannelQueueSize bounds each channel's outbound queue. A client that
	// stops draining its stream hits this bound and is reaped by the
	// heartbeat emitter. 0 uses 256.
	ChannelQueueSize int `yaml:"channel_queue_size"`

	// MaxBodyBytes limits call-submission request bodies. 0 uses 1MB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// SchedulerIntervalSeconds sets the scheduled-call tick. 0 uses 1 minute.
	SchedulerIntervalSeconds int `yaml:"scheduler_interval_seconds"`

	// APIKeys holds keys for external services. Keys: "amap".
	// Env vars override: AMAP_API_KEY (or GAODE_API_KEY) → api_keys["amap"].
	APIKeys map[string]string `yaml:"api_keys"`

	Amap      AmapConfig      `yaml:"amap"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Load reads config.yaml from the geomcp home directory (GEOMCP_HOME or
// ~/.geomcp), applies defaults, and applies environment overrides. A missing
// config file is not an error; defaults are used.
func Load() (*Config, error) {
	homeDir := os.Getenv("GEOMCP_HOME")
	if homeDir == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		homeDir = filepath.Join(userHome, ".geomcp")
	}
	return LoadFromDir(homeDir)
}

// LoadFromDir reads config.yaml from the given directory.
func LoadFromDir(homeDir string) (*Config, error) {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}

	cfg := &Config{HomeDir: homeDir}
	path := filepath.Join(homeDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg.HomeDir = homeDir

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BindAddr == "" {
		c.BindAddr = defaultBindAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.APIKeys == nil {
		c.APIKeys = map[string]string{}
	}
}

func (c *Config) applyEnvOverrides() {
	for _, env := range []string{"AMAP_API_KEY", "GAODE_API_KEY"} {
		if v := os.Getenv(env); v != "" {
			c.APIKeys["amap"] = v
			break
		}
	}
}

// HeartbeatInterval returns the configured heartbeat cadence.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.HeartbeatIntervalSeconds > 0 {
		return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
	}
	return DefaultHeartbeatInterval
}

// CallTimeout returns the per-call handler watchdog bound.
func (c *Config) CallTimeout() time.Duration {
	if c.CallTimeoutSeconds > 0 {
		return time.Duration(c.CallTimeoutSeconds) * time.Second
	}
	return defaultCallTimeout
}

// QueueSize returns the per-channel outbound queue bound.
func (c *Config) QueueSize() int {
	if c.ChannelQueueSize > 0 {
		return c.ChannelQueueSize
	}
	return defaultQueueSize
}

// BodyLimit returns the request body size limit.
func (c *Config) BodyLimit() int64 {
	if c.MaxBodyBytes > 0 {
		return c.MaxBodyBytes
	}
	return defaultMaxBodyBytes
}

// AmapTimeout returns the outbound HTTP timeout for Amap calls.
func (c *Config) AmapTimeout() time.Duration {
	if c.Amap.TimeoutSeconds > 0 {
		return time.Duration(c.Amap.TimeoutSeconds) * time.Second
	}
	return defaultAmapTimeout
}

// ScheduleInterval returns the scheduled-call tick interval.
func (c *Config) ScheduleInterval() time.Duration {
	if c.SchedulerIntervalSeconds > 0 {
		return time.Duration(c.SchedulerIntervalSeconds) * time.Second
	}
	return defaultScheduleInterval
}

// Fingerprint returns a short hash of the active configuration, exposed on
// the health endpoint so operators can tell which config a process runs.
func (c *Config) Fingerprint() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum64())
}

// SetAPIKey persists an API key into config.yaml under the given home dir,
// preserving any other settings in the file. The write is atomic.
func SetAPIKey(homeDir, name, value string) error {
	path := filepath.Join(homeDir, "config.yaml")

	raw := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", path, err)
	}

	keys, _ := raw["api_keys"].(map[string]any)
	if keys == nil {
		keys = map[string]any{}
	}
	keys[name] = value
	raw["api_keys"] = keys

	data, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
