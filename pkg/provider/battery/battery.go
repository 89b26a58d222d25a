// Package battery provides Battery.* properties from a Linux power_supply
// sysfs directory, such as /sys/class/power_supply/BAT0.
//
// The directory is polled only while at least one Battery key has a
// subscriber.
package battery

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/provider"
)

// Keys owned by the provider.
const (
	KeyOnBattery        = "Battery.OnBattery"
	KeyChargePercentage = "Battery.ChargePercentage"
	KeyLowBattery       = "Battery.LowBattery"
	KeyIsCharging       = "Battery.IsCharging"
	KeyTimeUntilLow     = "Battery.TimeUntilLow"
	KeyTimeUntilFull    = "Battery.TimeUntilFull"
)

// Keys lists every key the provider owns.
var Keys = []string{
	KeyOnBattery,
	KeyChargePercentage,
	KeyLowBattery,
	KeyIsCharging,
	KeyTimeUntilLow,
	KeyTimeUntilFull,
}

// Defaults.
const (
	DefaultDir          = "/sys/class/power_supply/BAT0"
	DefaultPollInterval = 30 * time.Second
	DefaultLowThreshold = 10
)

// Config configures the provider.
type Config struct {
	// Dir is the power_supply directory of the battery.
	Dir string

	// PollInterval is how often Dir is read while subscribed.
	PollInterval time.Duration

	// LowThreshold is the charge percentage below which a discharging
	// battery is low.
	LowThreshold int

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Dir:          DefaultDir,
		PollInterval: DefaultPollInterval,
		LowThreshold: DefaultLowThreshold,
	}
}

// Provider polls a power_supply directory.
type Provider struct {
	config     Config
	logger     *slog.Logger
	service    *provider.Service
	properties map[string]*provider.Property

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the provider.
func New(config Config) (*Provider, error) {
	defaults := DefaultConfig()
	if config.Dir == "" {
		config.Dir = defaults.Dir
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.LowThreshold <= 0 {
		config.LowThreshold = defaults.LowThreshold
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("provider", "battery")

	svc, err := provider.NewServiceWithConfig(provider.Config{Logger: logger}, Keys...)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		config:     config,
		logger:     logger,
		service:    svc,
		properties: make(map[string]*provider.Property, len(Keys)),
	}
	for _, k := range Keys {
		if p.properties[k], err = svc.Property(k); err != nil {
			return nil, err
		}
	}

	group, err := svc.NewGroup(Keys...)
	if err != nil {
		return nil, err
	}
	group.OnFirstSubscriber(p.start)
	group.OnLastSubscriber(p.stop)
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

// Polling reports whether the directory is being polled.
func (p *Provider) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Close stops polling.
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
	go p.poll(ctx, p.done)
	p.logger.Debug("polling battery", "dir", p.config.Dir, "interval", p.config.PollInterval)
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
	p.logger.Debug("stopped polling battery")
}

func (p *Provider) poll(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.update()
		}
	}
}

func (p *Provider) update() {
	st := ReadStatus(p.config.Dir)
	for key, v := range st.Values(p.config.LowThreshold) {
		var err error
		if v == nil {
			err = p.properties[key].Unset()
		} else {
			err = p.properties[key].Set(*v)
		}
		if err != nil {
			p.logger.Error("failed to publish battery property", "key", key, "error", err)
		}
	}
}

// Status is one reading of a power_supply directory. Fields that could not
// be read are nil.
type Status struct {
	// State is the status attribute: Charging, Discharging, Full or
	// Not charging.
	State *string

	// Capacity is the charge in percent.
	Capacity *int64

	// EnergyNow and EnergyFull are in µWh, PowerNow in µW.
	EnergyNow  *int64
	EnergyFull *int64
	PowerNow   *int64
}

// ReadStatus reads the attributes of dir. Batteries reporting charge in µAh
// and current in µA are read through the charge_* and current_now
// attributes instead.
func ReadStatus(dir string) Status {
	var st Status
	if s, ok := readString(filepath.Join(dir, "status")); ok {
		st.State = &s
	}
	st.Capacity = readInt(filepath.Join(dir, "capacity"))
	st.EnergyNow = firstInt(dir, "energy_now", "charge_now")
	st.EnergyFull = firstInt(dir, "energy_full", "charge_full")
	st.PowerNow = firstInt(dir, "power_now", "current_now")
	return st
}

// Discharging reports whether the battery is discharging. ok is false when
// the state is unknown.
func (st Status) Discharging() (discharging, ok bool) {
	if st.State == nil || *st.State == "Unknown" {
		return false, false
	}
	return *st.State == "Discharging", true
}

// Charging reports whether the battery is charging. ok is false when the
// state is unknown.
func (st Status) Charging() (charging, ok bool) {
	if st.State == nil || *st.State == "Unknown" {
		return false, false
	}
	return *st.State == "Charging", true
}
