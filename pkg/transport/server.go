package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/contextkit/contextd/pkg/log"
	"github.com/contextkit/contextd/pkg/wire"
)

// Listener defaults.
const (
	// DefaultNetwork is the default listen network.
	DefaultNetwork = "tcp"

	// DefaultPort is the default TCP port of the broker.
	DefaultPort = 7420

	// DefaultMaxOutboundQueue is the default number of frames that may be
	// queued for one connection before it is dropped as a slow consumer.
	DefaultMaxOutboundQueue = 4096

	// DefaultCloseTimeout bounds flushing queued frames on close.
	DefaultCloseTimeout = 2 * time.Second
)

// Connection errors.
var (
	ErrConnectionClosed   = errors.New("connection closed")
	ErrOutboundQueueFull  = errors.New("outbound queue full")
	ErrKeepAliveTimeout   = errors.New("keep-alive timeout")
	ErrServerRunning      = errors.New("server already running")
	ErrUnsupportedNetwork = errors.New("unsupported network")
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Network is "tcp", "tcp4", "tcp6" or "unix" (default: tcp).
	Network string

	// Address to listen on: host:port for TCP, a socket path for unix.
	Address string

	// MaxMessageSize is the maximum message size (default: 256KB).
	MaxMessageSize uint32

	// MaxOutboundQueue is the number of frames that may wait for one slow
	// client before it is disconnected (default: 4096).
	MaxOutboundQueue int

	// CloseTimeout bounds flushing queued frames on close (default: 2s).
	CloseTimeout time.Duration

	// KeepAlive enables server-initiated pings. Nil disables them.
	KeepAlive *KeepAliveConfig

	// Logger for protocol logging (optional).
	Logger log.Logger

	// OnConnect is called when a new connection is established.
	OnConnect func(conn *ServerConn)

	// OnDisconnect is called once the connection is gone.
	OnDisconnect func(conn *ServerConn)

	// OnMessage is called for every non-control message, in arrival order,
	// from the connection's read goroutine.
	OnMessage func(conn *ServerConn, msg []byte)

	// OnError is called when an error occurs. conn is nil for listener
	// errors.
	OnError func(conn *ServerConn, err error)
}

// Server accepts client and remote provider connections.
type Server struct {
	config   ServerConfig
	listener net.Listener

	conns   map[*ServerConn]struct{}
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new server. It does not listen until Start.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Network == "" {
		config.Network = DefaultNetwork
	}
	switch config.Network {
	case "tcp", "tcp4", "tcp6":
		if config.Address == "" {
			config.Address = fmt.Sprintf("localhost:%d", DefaultPort)
		}
	case "unix":
		if config.Address == "" {
			return nil, fmt.Errorf("unix socket path is required")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, config.Network)
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.MaxOutboundQueue <= 0 {
		config.MaxOutboundQueue = DefaultMaxOutboundQueue
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultCloseTimeout
	}

	return &Server{
		config: config,
		conns:  make(map[*ServerConn]struct{}),
	}, nil
}

// Start starts listening and accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return ErrServerRunning
	}

	if s.config.Network == "unix" {
		removeStaleSocket(s.config.Address)
	}
	listener, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// Other file types are left for net.Listen to fail on.
func removeStaleSocket(path string) {
	if fi, err := os.Lstat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		_ = os.Remove(path)
	}
}

// Stop stops the server and closes all connections.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.cancel()
	s.listener.Close()

	s.connsMu.RLock()
	conns := make([]*ServerConn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.connsMu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.reportError(nil, fmt.Errorf("accept error: %w", err))
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) reportError(conn *ServerConn, err error) {
	if s.config.OnError != nil {
		s.config.OnError(conn, err)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := uuid.New().String()
	framer := NewFramerWithMaxSize(conn, s.config.MaxMessageSize)
	if s.config.Logger != nil {
		framer.SetLogger(s.config.Logger, connID)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	sconn := &ServerConn{
		conn:       conn,
		framer:     framer,
		server:     s,
		connID:     connID,
		remoteAddr: remoteString(conn),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	s.logState(sconn, "", "CONNECTED")

	s.connsMu.Lock()
	s.conns[sconn] = struct{}{}
	s.connsMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sconn.writeLoop()
	}()

	if s.config.OnConnect != nil {
		s.config.OnConnect(sconn)
	}

	if s.config.KeepAlive != nil {
		sconn.keepAlive = NewKeepAlive(*s.config.KeepAlive, sconn.sendPing, func() {
			s.reportError(sconn, ErrKeepAliveTimeout)
			sconn.Close()
		})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sconn.keepAlive.Run(ctx)
		}()
	}

	sconn.readLoop()
	sconn.Close()

	s.connsMu.Lock()
	delete(s.conns, sconn)
	s.connsMu.Unlock()

	s.logState(sconn, "CONNECTED", "DISCONNECTED")

	if s.config.OnDisconnect != nil {
		s.config.OnDisconnect(sconn)
	}
}

func (s *Server) logState(c *ServerConn, oldState, newState string) {
	if s.config.Logger == nil {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		RemoteAddr:   c.remoteAddr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState,
			NewState: newState,
		},
	})
}

func remoteString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return conn.LocalAddr().Network()
}

// ServerConn is one accepted connection. Outbound frames go through an
// ordered queue drained by a dedicated writer, so Send never blocks on the
// network.
type ServerConn struct {
	conn       net.Conn
	framer     *Framer
	server     *Server
	connID     string
	remoteAddr string
	keepAlive  *KeepAlive

	mu      sync.Mutex
	queue   [][]byte
	closing bool
	wake    chan struct{}
	done    chan struct{}
}

// ConnID returns the unique connection identifier.
func (c *ServerConn) ConnID() string {
	return c.connID
}

// RemoteAddr returns the peer address, or the network name for unnamed
// unix socket peers.
func (c *ServerConn) RemoteAddr() string {
	return c.remoteAddr
}

// Send queues a frame for the client. Frames are written in the order Send
// was called. When the queue limit is reached the connection is closed and
// ErrOutboundQueueFull is returned.
func (c *ServerConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closing {
		return ErrConnectionClosed
	}
	if len(c.queue) >= c.server.config.MaxOutboundQueue {
		c.markClosing()
		return ErrOutboundQueueFull
	}
	c.queue = append(c.queue, data)
	c.signal()
	return nil
}

// QueueLen returns the number of frames waiting to be written.
func (c *ServerConn) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close flushes queued frames, bounded by the close timeout, and closes the
// connection. It is safe to call more than once and from any goroutine.
func (c *ServerConn) Close() error {
	c.mu.Lock()
	if !c.closing {
		c.markClosing()
	}
	c.mu.Unlock()

	<-c.done
	return nil
}

// Done is closed once the connection has been closed.
func (c *ServerConn) Done() <-chan struct{} {
	return c.done
}

// markClosing stops accepting frames and bounds the remaining writes.
// Called with c.mu held.
func (c *ServerConn) markClosing() {
	c.closing = true
	c.conn.SetWriteDeadline(time.Now().Add(c.server.config.CloseTimeout))
	c.signal()
}

// signal wakes the writer. Called with c.mu held.
func (c *ServerConn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *ServerConn) writeLoop() {
	defer close(c.done)
	defer c.conn.Close()

	for range c.wake {
		c.mu.Lock()
		batch, closing := c.queue, c.closing
		c.queue = nil
		c.mu.Unlock()

		for _, data := range batch {
			if err := c.framer.WriteFrame(data); err != nil {
				c.mu.Lock()
				wasClosing := c.closing
				c.closing = true
				c.queue = nil
				c.mu.Unlock()
				if !wasClosing {
					c.server.reportError(c, err)
				}
				return
			}
		}
		if closing {
			return
		}
	}
}

func (c *ServerConn) readLoop() {
	for {
		data, err := c.framer.ReadFrame()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.mu.Unlock()
			if !closing && !errors.Is(err, net.ErrClosed) && c.server.running.Load() {
				c.server.reportError(c, err)
			}
			return
		}

		if msg := decodeControl(data); msg != nil {
			if !c.handleControlMessage(msg) {
				return
			}
			continue
		}

		if c.server.config.OnMessage != nil {
			c.server.config.OnMessage(c, data)
		}
	}
}

// handleControlMessage answers pings and close requests. It returns false
// when the connection should stop reading.
func (c *ServerConn) handleControlMessage(msg *wire.ControlMessage) bool {
	logger := c.server.config.Logger
	logControl(logger, c.connID, c.remoteAddr, msg.Type, log.DirectionIn)

	switch msg.Type {
	case wire.ControlPing:
		if pong, err := EncodePong(msg.Sequence); err == nil && c.Send(pong) == nil {
			logControl(logger, c.connID, c.remoteAddr, wire.ControlPong, log.DirectionOut)
		}

	case wire.ControlPong:
		if c.keepAlive != nil {
			c.keepAlive.PongReceived(msg.Sequence)
		}

	case wire.ControlClose:
		if ack, err := EncodeClose(); err == nil && c.Send(ack) == nil {
			logControl(logger, c.connID, c.remoteAddr, wire.ControlClose, log.DirectionOut)
		}
		return false
	}
	return true
}

func (c *ServerConn) sendPing(seq uint32) error {
	ping, err := EncodePing(seq)
	if err != nil {
		return err
	}
	if err := c.Send(ping); err != nil {
		return err
	}
	logControl(c.server.config.Logger, c.connID, c.remoteAddr, wire.ControlPing, log.DirectionOut)
	return nil
}
