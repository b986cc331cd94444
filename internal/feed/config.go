// internal/feed/config.go
package feed

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/YaganovValera/market-feed/pkg/backoff"
)

// Config holds connection and resilience tunables.
type Config struct {
	Scheme string `mapstructure:"scheme"` // "wss" (default) or "ws"
	Host   string `mapstructure:"host"`
	Path   string `mapstructure:"path"`
	Device string `mapstructure:"device"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDebounce time.Duration `mapstructure:"reconnect_debounce"`
	ForceSettle       time.Duration `mapstructure:"force_settle"`
	HiddenThreshold   time.Duration `mapstructure:"hidden_threshold"`
	SafetyDelay       time.Duration `mapstructure:"safety_delay"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`

	// StartHidden starts the feed paused until SetVisible(true).
	StartHidden bool `mapstructure:"start_hidden"`

	Backoff backoff.Config `mapstructure:"backoff"`
}

func (c *Config) applyDefaults() {
	if c.Scheme == "" {
		c.Scheme = "wss"
	}
	if c.Path == "" {
		c.Path = "/"
	}
	if c.Device == "" {
		c.Device = "web"
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 9500 * time.Millisecond
	}
	if c.ReconnectDebounce <= 0 {
		c.ReconnectDebounce = 300 * time.Millisecond
	}
	if c.ForceSettle <= 0 {
		c.ForceSettle = 500 * time.Millisecond
	}
	if c.HiddenThreshold <= 0 {
		c.HiddenThreshold = 15 * time.Second
	}
	if c.SafetyDelay <= 0 {
		c.SafetyDelay = 3 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Backoff.InitialInterval <= 0 {
		c.Backoff.InitialInterval = 500 * time.Millisecond
	}
	if c.Backoff.MaxInterval <= 0 {
		c.Backoff.MaxInterval = 30 * time.Second
	}
}

func (c Config) validate() error {
	var errs []string
	if c.Host == "" {
		errs = append(errs, "host is required")
	}
	if c.Scheme != "ws" && c.Scheme != "wss" {
		errs = append(errs, fmt.Sprintf("scheme %q must be ws or wss", c.Scheme))
	}
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, "path must start with /")
	}
	if len(errs) > 0 {
		return fmt.Errorf("feed: invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// endpoint builds the socket URL for creds.
func (c Config) endpoint(creds Credentials) string {
	q := url.Values{}
	q.Set("login_id", creds.LoginID)
	q.Set("token", creds.Token)
	q.Set("device", c.Device)
	u := url.URL{Scheme: c.Scheme, Host: c.Host, Path: c.Path, RawQuery: q.Encode()}
	return u.String()
}
