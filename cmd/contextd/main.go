// Command contextd is the context property broker daemon.
//
// It serves the built-in providers (memory pressure, battery, a SQLite
// table and static properties) and remote providers to clients connecting
// over TCP or a unix socket, and optionally advertises itself over mDNS.
//
// Usage:
//
//	contextd [flags]
//
// Flags:
//
//	-config string     YAML configuration file
//	-network string    Listen network: tcp, unix
//	-listen string     Listen address (host:port or socket path)
//	-log-level string  Log level: debug, info, warn, error
//	-log-format string Log format: text, json
//	-event-log string  Capture broker events to this CBOR file
//	-discovery         Advertise the broker over mDNS
//	-instance string   mDNS instance name
//	-version           Print the protocol version and exit
//
// Flags given on the command line override the configuration file.
//
// Examples:
//
//	# Serve on the default TCP port
//	contextd
//
//	# Serve on a unix socket with debug logging
//	contextd -network unix -listen /run/contextd.sock -log-level debug
//
//	# Use a configuration file and capture events
//	contextd -config /etc/contextd.yaml -event-log /var/log/contextd/events.clog
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/contextkit/contextd/pkg/config"
	"github.com/contextkit/contextd/pkg/version"
)

// Flags holds the command line.
type Flags struct {
	ConfigFile  string
	Network     string
	Listen      string
	LogLevel    string
	LogFormat   string
	EventLog    string
	Discovery   bool
	Instance    string
	ShowVersion bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "YAML configuration file")
	flag.StringVar(&flags.Network, "network", "", "Listen network: tcp, unix")
	flag.StringVar(&flags.Listen, "listen", "", "Listen address (host:port or socket path)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFormat, "log-format", "", "Log format: text, json")
	flag.StringVar(&flags.EventLog, "event-log", "", "Capture broker events to this CBOR file")
	flag.BoolVar(&flags.Discovery, "discovery", false, "Advertise the broker over mDNS")
	flag.StringVar(&flags.Instance, "instance", "", "mDNS instance name (default: host name)")
	flag.BoolVar(&flags.ShowVersion, "version", false, "Print the protocol version and exit")
}

func main() {
	flag.Parse()

	if flags.ShowVersion {
		fmt.Printf("contextd protocol %s\n", version.Current)
		return
	}

	cfg, err := loadConfig(flags, setFlags())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("failed to set up broker", "error", err)
		os.Exit(1)
	}

	if err := d.run(ctx); err != nil {
		logger.Error("broker stopped", "error", err)
		d.close()
		os.Exit(1)
	}
	d.close()
	logger.Info("goodbye")
}

// setFlags returns the names of the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set on top of it.
func loadConfig(f Flags, set map[string]bool) (*config.Config, error) {
	cfg := config.Default()
	if f.ConfigFile != "" {
		loaded, err := config.Load(f.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if set["network"] {
		cfg.Listen.Network = f.Network
	}
	if set["listen"] {
		cfg.Listen.Address = f.Listen
	}
	if set["log-level"] {
		cfg.Log.Level = f.LogLevel
	}
	if set["log-format"] {
		cfg.Log.Format = f.LogFormat
	}
	if set["event-log"] {
		cfg.Log.Events = f.EventLog
	}
	if set["discovery"] {
		cfg.Discovery.Enabled = f.Discovery
	}
	if set["instance"] {
		cfg.Discovery.Instance = f.Instance
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the operational logger the configuration asks for.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Log.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}
