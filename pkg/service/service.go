package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/discovery"
	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/transport"
)

// Service errors.
var (
	ErrAlreadyStarted = errors.New("service already started")
	ErrNotStarted     = errors.New("service not started")
)

// Config configures a Service.
type Config struct {
	// Network is "tcp", "tcp4", "tcp6" or "unix" (default: tcp).
	Network string

	// Address to listen on: host:port for TCP, a socket path for unix.
	Address string

	// MaxMessageSize is the maximum message size (default: 256KB).
	MaxMessageSize uint32

	// MaxOutboundQueue is the number of frames that may wait for a slow
	// client before it is disconnected.
	MaxOutboundQueue int

	// KeepAlive enables server-initiated pings. Nil disables them.
	KeepAlive *transport.KeepAliveConfig

	// Logger receives operational logs. Nil discards them.
	Logger *slog.Logger

	// EventLogger receives captured transport and wire events. Nil disables
	// capture.
	EventLogger log.Logger

	// Advertiser publishes the broker over mDNS. Nil disables discovery.
	Advertiser discovery.Advertiser

	// Instance is the advertised instance name (default: host name).
	Instance string
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		Network:          transport.DefaultNetwork,
		Address:          fmt.Sprintf("localhost:%d", transport.DefaultPort),
		MaxMessageSize:   transport.DefaultMaxMessageSize,
		MaxOutboundQueue: transport.DefaultMaxOutboundQueue,
	}
}

// Service exposes a broker.Manager to clients and remote providers over
// the transport. Every connection is one client identity: it owns at most
// one subscriber and at most one remote provider, and losing the connection
// tears both down.
type Service struct {
	config  Config
	manager *broker.Manager
	logger  *slog.Logger

	server    *transport.Server
	announcer *discovery.Announcer

	mu       sync.Mutex
	sessions map[string]*session
	started  bool
}

// New creates a service for manager. It does not listen until Start.
func New(manager *broker.Manager, config Config) (*Service, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Service{
		config:   config,
		manager:  manager,
		logger:   logger,
		sessions: make(map[string]*session),
	}

	server, err := transport.NewServer(transport.ServerConfig{
		Network:          config.Network,
		Address:          config.Address,
		MaxMessageSize:   config.MaxMessageSize,
		MaxOutboundQueue: config.MaxOutboundQueue,
		KeepAlive:        config.KeepAlive,
		Logger:           config.EventLogger,
		OnConnect:        s.handleConnect,
		OnDisconnect:     s.handleDisconnect,
		OnMessage:        s.handleMessage,
		OnError:          s.handleError,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	s.server = server

	if config.Advertiser != nil {
		s.announcer = discovery.NewAnnouncer(config.Advertiser)
		s.announcer.OnStateChange(func(old, new discovery.State) {
			s.logger.Info("discovery state changed", "from", old, "to", new)
		})
	}
	return s, nil
}

// Manager returns the broker the service exposes.
func (s *Service) Manager() *broker.Manager {
	return s.manager
}

// Start begins accepting connections and, if an advertiser is configured,
// advertises the broker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.server.Start(ctx); err != nil {
		return err
	}
	s.started = true
	s.logger.Info("broker listening", "network", s.server.Addr().Network(), "address", s.server.Addr().String())

	if s.announcer != nil {
		if err := s.announcer.Start(ctx, s.brokerInfo()); err != nil {
			// The broker stays usable without discovery.
			s.logger.Warn("failed to advertise broker", "error", err)
		}
	}
	return nil
}

// Stop withdraws the advertisement and closes every connection. Remote
// providers are unregistered and subscribers released as their
// connections go.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.started = false
	s.mu.Unlock()

	if s.announcer != nil && s.announcer.State() == discovery.StateAdvertising {
		if err := s.announcer.Stop(); err != nil {
			s.logger.Warn("failed to stop advertising", "error", err)
		}
	}
	return s.server.Stop()
}

// Addr returns the listen address, or nil before Start.
func (s *Service) Addr() net.Addr {
	return s.server.Addr()
}

// SessionCount returns the number of connected clients.
func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RefreshAdvertisement republishes the number of provided keys.
func (s *Service) RefreshAdvertisement() {
	if s.announcer == nil {
		return
	}
	if err := s.announcer.SetKeyCount(len(s.manager.ValidKeys())); err != nil {
		s.logger.Warn("failed to update advertisement", "error", err)
	}
}

func (s *Service) brokerInfo() discovery.BrokerInfo {
	host, _ := os.Hostname()
	instance := s.config.Instance
	if instance == "" {
		instance = host
	}

	info := discovery.BrokerInfo{
		Instance: instance,
		Host:     host,
		KeyCount: len(s.manager.ValidKeys()),
	}
	switch addr := s.server.Addr().(type) {
	case *net.TCPAddr:
		info.Network = "tcp"
		info.Port = uint16(addr.Port)
	case *net.UnixAddr:
		info.Network = "unix"
		info.Path = addr.Name
	}
	return info
}

func (s *Service) handleConnect(conn *transport.ServerConn) {
	sess := newSession(s, conn)

	s.mu.Lock()
	s.sessions[conn.ConnID()] = sess
	s.mu.Unlock()

	s.logger.Debug("client connected", "conn", conn.ConnID(), "remote", conn.RemoteAddr())
}

func (s *Service) handleDisconnect(conn *transport.ServerConn) {
	s.mu.Lock()
	sess, ok := s.sessions[conn.ConnID()]
	delete(s.sessions, conn.ConnID())
	s.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	s.logger.Debug("client disconnected", "conn", conn.ConnID())
}

func (s *Service) handleMessage(conn *transport.ServerConn, data []byte) {
	s.mu.Lock()
	sess, ok := s.sessions[conn.ConnID()]
	s.mu.Unlock()

	if !ok {
		return
	}
	sess.handle(data)
}

func (s *Service) handleError(conn *transport.ServerConn, err error) {
	if conn == nil {
		s.logger.Error("listener error", "error", err)
		return
	}
	s.logger.Warn("connection error", "conn", conn.ConnID(), "error", err)
	s.logEvent(log.Event{
		ConnectionID: conn.ConnID(),
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		RemoteAddr:   conn.RemoteAddr(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
		},
	})
}

func (s *Service) logEvent(event log.Event) {
	if s.config.EventLogger == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.config.EventLogger.Log(event)
}
