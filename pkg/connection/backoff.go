package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff defaults.
const (
	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff = 500 * time.Millisecond

	// MaxBackoff caps the delay.
	MaxBackoff = 30 * time.Second

	// BackoffMultiplier is the factor by which the delay grows.
	BackoffMultiplier = 2.0

	// JitterFactor is the maximum jitter as a fraction of the base delay.
	JitterFactor = 0.25
)

// Config configures a Backoff.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// Jitter is the maximum stretch as a fraction of the delay. Zero
	// disables jitter.
	Jitter float64
}

// DefaultConfig returns the default backoff configuration.
func DefaultConfig() Config {
	return Config{
		Initial:    InitialBackoff,
		Max:        MaxBackoff,
		Multiplier: BackoffMultiplier,
		Jitter:     JitterFactor,
	}
}

// Backoff calculates exponential backoff delays with jitter.
// It is safe for concurrent use.
type Backoff struct {
	config Config

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

// NewBackoff creates a backoff calculator. Unset or invalid fields take
// their defaults.
func NewBackoff(config Config) *Backoff {
	if config.Initial <= 0 {
		config.Initial = InitialBackoff
	}
	if config.Max < config.Initial {
		config.Max = max(MaxBackoff, config.Initial)
	}
	if config.Multiplier <= 1 {
		config.Multiplier = BackoffMultiplier
	}
	if config.Jitter < 0 {
		config.Jitter = 0
	}
	return &Backoff{config: config, current: config.Initial}
}

// Next returns the next delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.jittered(b.current)
	b.attempts++
	b.current = min(time.Duration(float64(b.current)*b.config.Multiplier), b.config.Max)
	return delay
}

// Reset returns to the initial delay. Call it after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the next base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) jittered(d time.Duration) time.Duration {
	if b.config.Jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.config.Jitter*rand.Float64())
}
