package discovery

import (
	"context"
	"sync"
	"time"
)

// Advertiser publishes a broker over mDNS.
type Advertiser interface {
	// Advertise starts advertising the broker, replacing any earlier
	// advertisement.
	Advertise(ctx context.Context, info *BrokerInfo) error

	// Update replaces the TXT records of the running advertisement.
	Update(info *BrokerInfo) error

	// Stop withdraws the advertisement. Stopping when idle is a no-op.
	Stop() error
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       DefaultTTL,
	}
}

// Announcer keeps a broker advertisement in step with the broker: it
// starts and stops the advertisement and refreshes the TXT records when the
// number of provided keys changes.
type Announcer struct {
	mu sync.Mutex

	state      State
	advertiser Advertiser
	info       BrokerInfo

	// Callback for state changes
	onStateChange func(old, new State)
}

// NewAnnouncer creates an idle announcer.
func NewAnnouncer(advertiser Advertiser) *Announcer {
	return &Announcer{
		state:      StateIdle,
		advertiser: advertiser,
	}
}

// State returns the current state.
func (a *Announcer) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// OnStateChange sets a callback for state changes.
func (a *Announcer) OnStateChange(fn func(old, new State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStateChange = fn
}

// Start advertises info.
func (a *Announcer) Start(ctx context.Context, info BrokerInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := ValidateInstanceName(info.Instance); err != nil {
		return err
	}
	if err := a.advertiser.Advertise(ctx, &info); err != nil {
		return err
	}
	a.info = info
	a.setState(StateAdvertising)
	return nil
}

// SetKeyCount records the number of provided keys and refreshes the TXT
// records if the count changed while advertising.
func (a *Announcer) SetKeyCount(n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.info.KeyCount == n {
		return nil
	}
	a.info.KeyCount = n
	if a.state != StateAdvertising {
		return nil
	}
	info := a.info
	return a.advertiser.Update(&info)
}

// Info returns the advertised broker info.
func (a *Announcer) Info() BrokerInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

// Stop withdraws the advertisement.
func (a *Announcer) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateAdvertising {
		return ErrNotAdvertising
	}
	if err := a.advertiser.Stop(); err != nil {
		return err
	}
	a.setState(StateIdle)
	return nil
}

func (a *Announcer) setState(s State) {
	old := a.state
	a.state = s
	if a.onStateChange != nil && old != s {
		a.onStateChange(old, s)
	}
}
