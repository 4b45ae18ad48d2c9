package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents an frr-agent YAML configuration file.
// All values are optional and act as defaults for frr-agent serve flags.
// CLI flags always override config values.
type Config struct {
	SockPath      string        `yaml:"sock_path"`
	Transport     string        `yaml:"transport"`
	Concurrent    bool          `yaml:"concurrent"`
	LogLevel      string        `yaml:"loglevel"`
	OutDir        string        `yaml:"outdir"`
	Reloader      string        `yaml:"reloader"`
	BinDir        string        `yaml:"bindir"`
	RunDir        string        `yaml:"rundir"`
	ConfDir       string        `yaml:"confdir"`
	VtySock       string        `yaml:"vtysock"`
	AlwaysOK      bool          `yaml:"always_ok"`
	ProcTime      Duration      `yaml:"proc_time"`
	ReloadTimeout Duration      `yaml:"reload_timeout"`
	MetricsListen string        `yaml:"metrics_listen"`
	Adapter       AdapterConfig `yaml:"adapter"`
}

// AdapterConfig holds reload notification settings.
type AdapterConfig struct {
	Type     string            `yaml:"type"`
	URL      string            `yaml:"url"`
	Channel  string            `yaml:"channel,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Retries  *int              `yaml:"retries,omitempty"`
}

// Adapter types.
const (
	AdapterWebhook = "webhook"
	AdapterRedis   = "redis"
)

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that can be rejected without touching the system.
// Empty values are valid: they fall back to flag defaults.
func (c *Config) Validate() error {
	switch c.Transport {
	case "", "stream", "datagram":
	default:
		return fmt.Errorf("transport: unknown value %q (want stream or datagram)", c.Transport)
	}
	return c.Adapter.Validate()
}

// Validate checks the adapter section.
func (a *AdapterConfig) Validate() error {
	switch a.Type {
	case "":
		if a.URL != "" {
			return errors.New("adapter: url set without type")
		}
		return nil
	case AdapterWebhook:
		if a.Encoding != "" {
			return errors.New("adapter: encoding applies to the redis adapter only")
		}
	case AdapterRedis:
		switch a.Encoding {
		case "", "json", "msgpack":
		default:
			return fmt.Errorf("adapter: unknown encoding %q (want json or msgpack)", a.Encoding)
		}
	default:
		return fmt.Errorf("adapter: unknown type %q (want webhook or redis)", a.Type)
	}
	if a.URL == "" {
		return fmt.Errorf("adapter: %s requires url", a.Type)
	}
	if a.Retries != nil && *a.Retries < 0 {
		return fmt.Errorf("adapter: retries must be >= 0, got %d", *a.Retries)
	}
	return nil
}
