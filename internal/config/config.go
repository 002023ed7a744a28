// Package config loads the bridge configuration.
//
// The file lives at ~/.rocketchat-bridge/config.toml unless a path is given;
// files ending in .yaml or .yml are read as YAML instead. RC_* environment
// variables override what the file says.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Prismer-AI/rocketchat-bridge/realtime"
)

const (
	dirName  = ".rocketchat-bridge"
	fileName = "config.toml"
)

// ============================================================================
// Config types
// ============================================================================

type Config struct {
	Server Server              `toml:"server" yaml:"server"`
	Log    Log                 `toml:"log" yaml:"log"`
	Target realtime.TargetSpec `toml:"target" yaml:"target"`
	Sink   Sink                `toml:"sink" yaml:"sink"`
	Listen Listen              `toml:"listen" yaml:"listen"`
}

// Server is the Rocket.Chat server profile: its URL and the personal
// access token pair.
type Server struct {
	Host   string `toml:"host" yaml:"host" env:"RC_HOST"`
	UserID string `toml:"user_id" yaml:"user_id" env:"RC_USER_ID"`
	Token  string `toml:"token" yaml:"token" env:"RC_TOKEN"`
}

type Log struct {
	Level  string `toml:"level" yaml:"level" env:"RC_LOG_LEVEL"`
	Format string `toml:"format" yaml:"format" env:"RC_LOG_FORMAT"`
}

type Sink struct {
	// Output is a file events are appended to as JSON lines; "-" is stdout.
	Output        string `toml:"output" yaml:"output" env:"RC_SINK_OUTPUT"`
	WebhookURL    string `toml:"webhook_url" yaml:"webhook_url" env:"RC_WEBHOOK_URL"`
	WebhookSecret string `toml:"webhook_secret" yaml:"webhook_secret" env:"RC_WEBHOOK_SECRET"`
	// WebhookRetries is how many attempts a failed delivery gets; 0 sends once.
	WebhookRetries int `toml:"webhook_retries" yaml:"webhook_retries" env:"RC_WEBHOOK_RETRIES"`
}

type Listen struct {
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr" env:"RC_METRICS_ADDR"`
}

func defaults() *Config {
	return &Config{
		Log:  Log{Level: "info", Format: "json"},
		Sink: Sink{Output: "-", WebhookRetries: 5},
	}
}

// Credentials returns the server profile in the form the realtime client takes.
func (c *Config) Credentials() realtime.Credentials {
	return realtime.Credentials{Host: c.Server.Host, UserID: c.Server.UserID, Token: c.Server.Token}
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.Token = Mask(c.Server.Token)
	out.Sink.WebhookSecret = Mask(c.Sink.WebhookSecret)
	return &out
}

// Mask keeps the first and last four characters of a secret.
func Mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "****"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}

// ============================================================================
// Paths
// ============================================================================

// Dir returns ~/.rocketchat-bridge, creating it if needed.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("cannot create config directory: %w", err)
	}
	return dir, nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

func resolve(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultPath()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ============================================================================
// Load / Save
// ============================================================================

// Load reads the config file at path (the default path when empty) and
// applies the environment overlay. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment: %w", err)
	}
	return cfg, nil
}

// LoadFile reads the config file without the environment overlay, which is
// what commands that write the file back need.
func LoadFile(path string) (*Config, error) {
	path, err := resolve(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path (the default path when empty) in the format its
// extension selects.
func Save(path string, cfg *Config) error {
	path, err := resolve(path)
	if err != nil {
		return err
	}
	data, err := Marshal(cfg, isYAML(path))
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

func Marshal(cfg *Config, asYAML bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if asYAML {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = toml.Marshal(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	return data, nil
}

// ============================================================================
// Dot-notation set
// ============================================================================

var setters = map[string]func(c *Config, v string) error{
	"server.host":    func(c *Config, v string) error { c.Server.Host = v; return nil },
	"server.user_id": func(c *Config, v string) error { c.Server.UserID = v; return nil },
	"server.token":   func(c *Config, v string) error { c.Server.Token = v; return nil },

	"log.level": func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "debug", "info", "warn", "error", "disabled", "off":
			c.Log.Level = strings.ToLower(v)
			return nil
		}
		return fmt.Errorf("invalid log level %q", v)
	},
	"log.format": func(c *Config, v string) error {
		if v != "json" && v != "console" {
			return fmt.Errorf("invalid log format %q (valid: json, console)", v)
		}
		c.Log.Format = v
		return nil
	},

	"target.origin": func(c *Config, v string) error {
		o, err := realtime.ParseOrigin(v)
		if err != nil {
			return err
		}
		c.Target.Origin = o
		return nil
	},
	"target.room":          func(c *Config, v string) error { return setProperty(&c.Target.Room, v) },
	"target.visitor_token": func(c *Config, v string) error { return setProperty(&c.Target.VisitorToken, v) },
	"target.session_id":    func(c *Config, v string) error { return setProperty(&c.Target.SessionID, v) },

	"sink.output":         func(c *Config, v string) error { c.Sink.Output = v; return nil },
	"sink.webhook_url":    func(c *Config, v string) error { c.Sink.WebhookURL = v; return nil },
	"sink.webhook_secret": func(c *Config, v string) error { c.Sink.WebhookSecret = v; return nil },

	"sink.webhook_retries": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid retry count %q", v)
		}
		c.Sink.WebhookRetries = n
		return nil
	},

	"listen.metrics_addr": func(c *Config, v string) error { c.Listen.MetricsAddr = v; return nil },
}

// setProperty accepts "value" for a literal or "type:value" for the other
// property kinds, e.g. "msg:payload.room" or "env:RC_ROOM".
func setProperty(p *realtime.Property, v string) error {
	typ, val, ok := strings.Cut(v, ":")
	if !ok {
		*p = realtime.Property{Type: realtime.PropString, Value: v}
		return nil
	}
	switch typ {
	case realtime.PropString, realtime.PropInput, realtime.PropForm, realtime.PropEnv:
		*p = realtime.Property{Type: typ, Value: val}
		return nil
	}
	// Not a known kind: treat the whole thing as a literal.
	*p = realtime.Property{Type: realtime.PropString, Value: v}
	return nil
}

// Set assigns one field using dot notation (e.g. "server.host").
func (c *Config) Set(key, value string) error {
	if !strings.Contains(key, ".") {
		return fmt.Errorf("key must use dot notation: section.field (e.g. server.host)")
	}
	set, ok := setters[key]
	if !ok {
		return fmt.Errorf("unknown config key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	return set(c, value)
}

// Keys lists the keys Set accepts.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
