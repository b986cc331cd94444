// internal/config/config.go
package config

import (
	"fmt"
	"strings"

	"github.com/YaganovValera/market-feed/internal/feed"
	"github.com/YaganovValera/market-feed/internal/monitor"
	"github.com/YaganovValera/market-feed/internal/simulator"
	"github.com/YaganovValera/market-feed/internal/sink/kafkasink"
	"github.com/YaganovValera/market-feed/internal/sink/quotecache"
	"github.com/YaganovValera/market-feed/internal/topic"
	"github.com/YaganovValera/market-feed/pkg/configloader"
	"github.com/YaganovValera/market-feed/pkg/httpserver"
	"github.com/YaganovValera/market-feed/pkg/kafka"
	"github.com/YaganovValera/market-feed/pkg/logger"
	"github.com/YaganovValera/market-feed/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. MARKETFEED_AUTH_TOKEN.
const EnvPrefix = "MARKETFEED"

// Config is the whole service configuration.
type Config struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`

	Logging   logger.Config        `mapstructure:"logging"`
	Auth      AuthConfig           `mapstructure:"auth"`
	Feed      FeedConfig           `mapstructure:"feed"`
	Prober    monitor.ProberConfig `mapstructure:"prober"`
	Kafka     KafkaConfig          `mapstructure:"kafka"`
	Redis     quotecache.Config    `mapstructure:"redis"`
	HTTP      httpserver.Config    `mapstructure:"http"`
	Telemetry telemetry.Config     `mapstructure:"telemetry"`
	Simulator simulator.Config     `mapstructure:"simulator"`
}

// AuthConfig is read at every connect attempt, never logged.
type AuthConfig struct {
	LoginID string `mapstructure:"login_id"`
	Token   string `mapstructure:"token"`
}

// FeedConfig adds the startup subscriptions to the connection settings.
type FeedConfig struct {
	feed.Config `mapstructure:",squash"`
	// Subscriptions are "Type[:exchange[:token]]" strings or
	// {type, exchange, token} maps.
	Subscriptions []topic.Spec `mapstructure:"subscriptions"`
}

// KafkaConfig pairs the producer with the sink options.
type KafkaConfig struct {
	kafka.Config `mapstructure:",squash"`
	Sink         kafkasink.Config `mapstructure:"sink"`
}

func init() {
	configloader.RegisterSection("", map[string]interface{}{
		"service_name":    "market-feed",
		"service_version": "v0.1.0",
	})
	configloader.RegisterSection("logging", map[string]interface{}{
		"level":    "info",
		"dev_mode": false,
	})
	configloader.RegisterSection("auth", map[string]interface{}{
		"login_id": "",
		"token":    "",
	})
	configloader.RegisterSection("feed", map[string]interface{}{
		"scheme":             "wss",
		"host":               "",
		"path":               "/",
		"device":             "web",
		"heartbeat_interval": "9500ms",
		"reconnect_debounce": "300ms",
		"force_settle":       "500ms",
		"hidden_threshold":   "15s",
		"safety_delay":       "3s",
		"dial_timeout":       "10s",
		"write_timeout":      "5s",
		"start_hidden":       false,
		"subscriptions":      []string{},
	})
	configloader.RegisterSection("feed.backoff", map[string]interface{}{
		"initial_interval":     "500ms",
		"max_interval":         "30s",
		"multiplier":           2.0,
		"randomization_factor": 0.5,
	})
	configloader.RegisterSection("prober", map[string]interface{}{
		"address":           "",
		"interval":          "5s",
		"timeout":           "2s",
		"failure_threshold": 2,
	})
	configloader.RegisterSection("kafka", map[string]interface{}{
		"brokers":       []string{},
		"required_acks": "all",
		"timeout":       "5s",
		"compression":   "none",
	})
	configloader.RegisterSection("kafka.sink", map[string]interface{}{
		"enabled":         false,
		"topic_prefix":    "marketfeed.",
		"buffer_size":     1024,
		"publish_timeout": "5s",
	})
	configloader.RegisterSection("redis", map[string]interface{}{
		"enabled":     false,
		"url":         "",
		"ttl":         "10m",
		"buffer_size": 1024,
	})
	configloader.RegisterSection("http", map[string]interface{}{
		"addr":             ":8080",
		"read_timeout":     "10s",
		"write_timeout":    "15s",
		"idle_timeout":     "60s",
		"shutdown_timeout": "5s",
		"metrics_path":     "/metrics",
		"healthz_path":     "/healthz",
		"readyz_path":      "/readyz",
	})
	configloader.RegisterSection("telemetry", map[string]interface{}{
		"endpoint":      "",
		"insecure":      true,
		"sampler_ratio": 1.0,
	})
	configloader.RegisterSection("simulator", map[string]interface{}{
		"addr":          ":9443",
		"path":          "/",
		"login_id":      "",
		"token":         "",
		"tick_interval": "1s",
	})
}

// Load reads defaults, the optional YAML at path and MARKETFEED_* env.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(path, EnvPrefix, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate is called by configloader after decoding.
func (c *Config) Validate() error {
	var errs []string
	if strings.TrimSpace(c.Feed.Host) == "" {
		errs = append(errs, "feed.host is required")
	}
	if c.Feed.Scheme != "" && c.Feed.Scheme != "ws" && c.Feed.Scheme != "wss" {
		errs = append(errs, fmt.Sprintf("feed.scheme %q must be ws or wss", c.Feed.Scheme))
	}
	if _, err := c.Specs(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Kafka.Sink.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, "kafka.brokers is required when kafka.sink.enabled")
	}
	if c.Redis.Enabled && c.Redis.URL == "" {
		errs = append(errs, "redis.url is required when redis.enabled")
	}
	if c.Prober.Interval < 0 || c.Feed.HeartbeatInterval < 0 {
		errs = append(errs, "durations must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Specs returns Feed.Subscriptions after checking each one resolves. Map
// entries skip ParseSpec during decode, so they are checked here.
func (c *Config) Specs() ([]topic.Spec, error) {
	out := make([]topic.Spec, 0, len(c.Feed.Subscriptions))
	for _, sp := range c.Feed.Subscriptions {
		if _, err := sp.Resolve(); err != nil {
			return nil, fmt.Errorf("feed.subscriptions: %s: %w", sp, err)
		}
		out = append(out, sp)
	}
	return out, nil
}

// ProberAddress is the prober target, defaulting to the feed host on the
// scheme's port.
func (c *Config) ProberAddress() string {
	if c.Prober.Address != "" {
		return c.Prober.Address
	}
	host := c.Feed.Host
	if host == "" || strings.Contains(host, ":") {
		return host
	}
	if c.Feed.Scheme == "ws" {
		return host + ":80"
	}
	return host + ":443"
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Auth.Token != "" {
		c.Auth.Token = "***"
	}
	if c.Simulator.Token != "" {
		c.Simulator.Token = "***"
	}
	return c
}
