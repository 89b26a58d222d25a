package discovery

import (
	"context"
	"time"
)

// Browser finds brokers over mDNS.
type Browser interface {
	// Browse reports every compatible broker found until ctx is done. The
	// channel is closed when browsing ends.
	Browse(ctx context.Context) (<-chan *BrokerService, error)

	// Find returns the broker with the given instance name, or the first
	// broker found when instance is empty.
	Find(ctx context.Context, instance string) (*BrokerService, error)

	// Stop stops all active browsing operations.
	Stop()
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// BrowseTimeout is the default timeout for Find when ctx has no
	// deadline.
	// Default: 10 seconds.
	BrowseTimeout time.Duration

	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		BrowseTimeout: BrowseTimeout,
		Interface:     "",
	}
}
