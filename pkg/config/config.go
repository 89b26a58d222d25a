// Package config loads the contextd daemon configuration from YAML.
//
// Every field is optional; Default returns the values used for anything the
// file leaves out.
//
//	listen:
//	  network: unix
//	  address: /run/contextd.sock
//	log:
//	  level: debug
//	  events: /var/log/contextd/events.cbor
//	providers:
//	  battery:
//	    enabled: true
//	    poll_interval: 10s
//	  static:
//	    - key: Device.Model
//	      type: string
//	      value: n900
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/contextkit/contextd/pkg/provider/battery"
	"github.com/contextkit/contextd/pkg/provider/lowmem"
	"github.com/contextkit/contextd/pkg/provider/sqlstore"
	"github.com/contextkit/contextd/pkg/transport"
	"github.com/contextkit/contextd/pkg/value"
)

// Config is the daemon configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Log       LogConfig       `yaml:"log"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ListenConfig configures the client listener.
type ListenConfig struct {
	// Network is "tcp" or "unix".
	Network string `yaml:"network"`

	// Address is host:port for tcp, a socket path for unix.
	Address string `yaml:"address"`

	MaxMessageSize   int `yaml:"max_message_size"`
	MaxOutboundQueue int `yaml:"max_outbound_queue"`

	// KeepAlive enables pings to idle clients when set.
	KeepAlive *KeepAliveConfig `yaml:"keepalive"`
}

// KeepAliveConfig configures connection keep-alive.
type KeepAliveConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	MaxMissedPongs int           `yaml:"max_missed_pongs"`
}

// LogConfig configures operational logs and event capture.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// Events is the path of a CBOR event capture file. Empty disables
	// capture.
	Events string `yaml:"events"`
}

// DiscoveryConfig configures mDNS advertisement.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Instance is the advertised instance name. Empty uses the host name.
	Instance string `yaml:"instance"`
}

// ProvidersConfig selects the built-in providers.
type ProvidersConfig struct {
	LowMem  LowMemConfig     `yaml:"lowmem"`
	Battery BatteryConfig    `yaml:"battery"`
	SQLite  SQLiteConfig     `yaml:"sqlite"`
	Static  []StaticProperty `yaml:"static"`
}

// LowMemConfig configures the memory pressure provider.
type LowMemConfig struct {
	Enabled       bool   `yaml:"enabled"`
	LowWatermark  string `yaml:"low_watermark"`
	HighWatermark string `yaml:"high_watermark"`
}

// BatteryConfig configures the battery provider.
type BatteryConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Dir          string        `yaml:"dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LowThreshold int           `yaml:"low_threshold"`
}

// SQLiteConfig configures the SQLite table provider.
type SQLiteConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	Table        string        `yaml:"table"`
	Keys         []string      `yaml:"keys"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StaticProperty is a key with a fixed value.
type StaticProperty struct {
	Key string `yaml:"key"`

	// Type is a value kind name. Empty guesses the kind from Value.
	Type string `yaml:"type"`

	// Value is the textual value. Omitted means undetermined.
	Value *string `yaml:"value"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{
			Network:          transport.DefaultNetwork,
			Address:          fmt.Sprintf("localhost:%d", transport.DefaultPort),
			MaxMessageSize:   transport.DefaultMaxMessageSize,
			MaxOutboundQueue: transport.DefaultMaxOutboundQueue,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Providers: ProvidersConfig{
			LowMem: LowMemConfig{
				LowWatermark:  lowmem.DefaultLowWatermark,
				HighWatermark: lowmem.DefaultHighWatermark,
			},
			Battery: BatteryConfig{
				Dir:          battery.DefaultDir,
				PollInterval: battery.DefaultPollInterval,
				LowThreshold: battery.DefaultLowThreshold,
			},
			SQLite: SQLiteConfig{
				Table:        sqlstore.DefaultTable,
				PollInterval: sqlstore.DefaultPollInterval,
			},
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		le := &LoadError{Message: "failed to parse YAML", Cause: err}
		var te *yaml.TypeError
		if !errors.As(err, &te) {
			le.Line = yamlErrorLine(err)
		}
		return nil, le
	}
	if err := cfg.Validate(); err != nil {
		return nil, &LoadError{Message: err.Error(), Cause: err}
	}
	return cfg, nil
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error(), Cause: err}
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	switch c.Listen.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("%w: %q", transport.ErrUnsupportedNetwork, c.Listen.Network)
	}
	if c.Listen.Address == "" {
		return errors.New("listen address is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Providers.SQLite.Enabled && c.Providers.SQLite.Path == "" {
		return errors.New("sqlite provider requires a path")
	}
	if _, err := c.StaticValues(); err != nil {
		return err
	}
	return nil
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return level, nil
}

// StaticValues converts the static properties into values.
func (c *Config) StaticValues() (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(c.Providers.Static))
	for i, p := range c.Providers.Static {
		if p.Key == "" {
			return nil, fmt.Errorf("static property %d: key is required", i)
		}
		if _, dup := out[p.Key]; dup {
			return nil, fmt.Errorf("static property %s: duplicate key", p.Key)
		}
		v, err := p.value()
		if err != nil {
			return nil, fmt.Errorf("static property %s: %w", p.Key, err)
		}
		out[p.Key] = v
	}
	return out, nil
}

func (p StaticProperty) value() (value.Value, error) {
	if p.Value == nil {
		return value.Absent(), nil
	}
	if p.Type == "" {
		return value.Guess(*p.Value), nil
	}
	kind, err := value.ParseKind(p.Type)
	if err != nil {
		return value.Value{}, err
	}
	return value.Parse(kind, *p.Value)
}

// TransportKeepAlive converts the keep-alive section, nil when disabled.
func (c *Config) TransportKeepAlive() *transport.KeepAliveConfig {
	if c.Listen.KeepAlive == nil {
		return nil
	}
	return &transport.KeepAliveConfig{
		PingInterval:   c.Listen.KeepAlive.PingInterval,
		PongTimeout:    c.Listen.KeepAlive.PongTimeout,
		MaxMissedPongs: c.Listen.KeepAlive.MaxMissedPongs,
	}
}

// LoadError describes a configuration that could not be loaded.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Line is the line number where the error occurred (0 if unknown).
	Line int

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	b.WriteString(e.Message)
	if e.Cause != nil && e.Cause.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

// yamlErrorLine extracts the line from messages like "yaml: line 3: ...".
func yamlErrorLine(err error) int {
	var line int
	if _, scanErr := fmt.Sscanf(err.Error(), "yaml: line %d:", &line); scanErr != nil {
		return 0
	}
	return line
}
