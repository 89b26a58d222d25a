// Package lowmem provides System.MemoryPressure from the kernel's low and
// high memory watermark files.
//
// The watermark files hold "0" or "1". Both clear means normal pressure,
// only the low watermark set means high pressure and both set means critical
// pressure. A high watermark without the low one is ignored; an unreadable
// file makes the pressure undetermined.
package lowmem

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/provider"
)

// Key is the property this provider owns.
const Key = "System.MemoryPressure"

// Default watermark locations.
const (
	DefaultLowWatermark  = "/sys/kernel/low_watermark"
	DefaultHighWatermark = "/sys/kernel/high_watermark"
)

// Pressure levels published under Key.
const (
	PressureNormal   int64 = 0
	PressureHigh     int64 = 1
	PressureCritical int64 = 2
)

// Config configures the provider.
type Config struct {
	LowWatermark  string
	HighWatermark string

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		LowWatermark:  DefaultLowWatermark,
		HighWatermark: DefaultHighWatermark,
	}
}

// Provider watches the watermark files while Key has subscribers.
type Provider struct {
	config   Config
	logger   *slog.Logger
	service  *provider.Service
	pressure *provider.Property

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the provider. Nothing is read until Key gains a subscriber.
func New(config Config) (*Provider, error) {
	if config.LowWatermark == "" {
		config.LowWatermark = DefaultLowWatermark
	}
	if config.HighWatermark == "" {
		config.HighWatermark = DefaultHighWatermark
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("provider", "lowmem")

	svc, err := provider.NewServiceWithConfig(provider.Config{Logger: logger}, Key)
	if err != nil {
		return nil, err
	}
	pressure, err := svc.Property(Key)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		config:   config,
		logger:   logger,
		service:  svc,
		pressure: pressure,
	}
	pressure.OnFirstSubscriber(p.start)
	pressure.OnLastSubscriber(p.stop)
	return p, nil
}

// Install registers the provider with m.
func (p *Provider) Install(m *broker.Manager) error {
	return p.service.Install(m)
}

// Service returns the underlying provider service.
func (p *Provider) Service() *provider.Service {
	return p.service
}

// Watching reports whether the watermark files are being watched.
func (p *Provider) Watching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close stops watching.
func (p *Provider) Close() error {
	p.stop()
	return nil
}

func (p *Provider) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.watch(ctx, p.done)
	p.logger.Debug("watching watermarks")
}

func (p *Provider) stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Debug("stopped watching watermarks")
}

// watch publishes the current pressure and then re-reads it on every change
// of either file. The parent directories are watched so that files replaced
// by rename are still seen.
func (p *Provider) watch(ctx context.Context, done chan struct{}) {
	defer close(done)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("failed to create watcher", "error", err)
		p.update()
		return
	}
	defer watcher.Close()

	files := map[string]bool{
		filepath.Clean(p.config.LowWatermark):  true,
		filepath.Clean(p.config.HighWatermark): true,
	}
	for f := range files {
		if err := watcher.Add(filepath.Dir(f)); err != nil {
			p.logger.Warn("failed to watch watermark", "path", f, "error", err)
		}
	}

	p.update()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if files[filepath.Clean(ev.Name)] && ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				p.update()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("watcher error", "error", err)
		}
	}
}

func (p *Provider) update() {
	low := readState(p.config.LowWatermark)
	high := readState(p.config.HighWatermark)

	level, ok, known := Level(low, high)
	if !known {
		p.logger.Debug("ignoring watermark state", "low", low, "high", high)
		return
	}
	var err error
	if ok {
		err = p.pressure.SetInt(level)
	} else {
		err = p.pressure.Unset()
	}
	if err != nil {
		p.logger.Error("failed to publish memory pressure", "error", err)
	}
}

// State is the content of one watermark file.
type State uint8

const (
	StateUnknown State = iota
	StateClear
	StateSet
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClear:
		return "clear"
	case StateSet:
		return "set"
	default:
		return "unknown"
	}
}

// Level maps watermark states to a pressure level. ok is false when the
// pressure is undetermined. known is false for the inconsistent state of a
// high watermark without the low one, which leaves the published value
// unchanged.
func Level(low, high State) (level int64, ok, known bool) {
	switch {
	case low == StateClear && high == StateClear:
		return PressureNormal, true, true
	case low == StateSet && high == StateClear:
		return PressureHigh, true, true
	case low == StateSet && high == StateSet:
		return PressureCritical, true, true
	case low == StateClear && high == StateSet:
		return 0, false, false
	default:
		return 0, false, true
	}
}

func readState(path string) State {
	data, err := os.ReadFile(path)
	if err != nil {
		return StateUnknown
	}
	switch data = bytes.TrimSpace(data); {
	case len(data) > 0 && data[0] == '0':
		return StateClear
	case len(data) > 0 && data[0] == '1':
		return StateSet
	default:
		return StateUnknown
	}
}
