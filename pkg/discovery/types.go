package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of a contextd broker.
	ServiceType = "_contextd._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is advertised when BrokerInfo carries no port.
	DefaultPort = 7420
)

// TXT record keys.
const (
	TXTKeyVersion = "ver"  // Protocol version, major.minor
	TXTKeyNetwork = "net"  // tcp or unix
	TXTKeyPath    = "path" // Socket path for unix brokers (optional)
	TXTKeyKeys    = "keys" // Number of provided keys (optional)
	TXTKeyHost    = "host" // Host name of the broker (optional)
)

// Timing constants.
const (
	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second

	// DefaultTTL is the DNS record TTL.
	DefaultTTL = 120 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrIncompatible        = errors.New("incompatible protocol version")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// BrokerInfo is what a broker advertises about itself.
type BrokerInfo struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Port is the TCP port. Zero advertises DefaultPort.
	Port uint16

	// Network is "tcp" or "unix".
	Network string

	// Path is the socket path of a unix broker.
	Path string

	// Host is the broker's host name.
	Host string

	// KeyCount is the number of keys the broker currently provides.
	KeyCount int

	// Version is the protocol version. Empty advertises version.Current.
	Version string
}

// BrokerService is a broker found by browsing.
type BrokerService struct {
	// Instance is the DNS-SD instance name.
	Instance string

	// Host is the mDNS host name.
	Host string

	// Port is the advertised port.
	Port uint16

	// Addresses holds the IPv4 and IPv6 addresses seen for the instance.
	Addresses []string

	// Info is decoded from the TXT record.
	Info BrokerInfo
}

// Endpoint returns the network and address to dial the broker at. A unix
// broker is only reachable through its socket path; a TCP broker through
// its first address.
func (s *BrokerService) Endpoint() (network, address string, err error) {
	if s.Info.Network == "unix" {
		if s.Info.Path == "" {
			return "", "", ErrNotFound
		}
		return "unix", s.Info.Path, nil
	}
	if len(s.Addresses) == 0 {
		return "", "", ErrNotFound
	}
	return "tcp", net.JoinHostPort(s.Addresses[0], strconv.Itoa(int(s.Port))), nil
}

// State is the announcer state.
type State uint8

const (
	// StateIdle means nothing is advertised.
	StateIdle State = iota

	// StateAdvertising means the broker is advertised.
	StateAdvertising
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAdvertising:
		return "ADVERTISING"
	default:
		return "UNKNOWN"
	}
}
