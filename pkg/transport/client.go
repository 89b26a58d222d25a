package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/contextkit/contextd/pkg/wire"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Network is "tcp", "tcp4", "tcp6" or "unix" (default: tcp).
	Network string

	// MaxMessageSize is the maximum message size (default: 256KB).
	MaxMessageSize uint32

	// ConnectTimeout is the connection timeout (default: 10s).
	ConnectTimeout time.Duration

	// KeepAlive enables client-initiated pings. Pongs are only seen while
	// somebody calls Receive. Nil disables them.
	KeepAlive *KeepAliveConfig
}

// Client dials the broker.
type Client struct {
	config ClientConfig
}

// NewClient creates a new client.
func NewClient(config ClientConfig) *Client {
	if config.Network == "" {
		config.Network = DefaultNetwork
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = DefaultMaxMessageSize
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	return &Client{config: config}
}

// Connect establishes a connection to the specified address.
func (c *Client) Connect(ctx context.Context, address string) (*ClientConn, error) {
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, c.config.Network, address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cc := &ClientConn{
		conn:    conn,
		framer:  NewFramerWithMaxSize(conn, c.config.MaxMessageSize),
		closeCh: make(chan struct{}),
	}

	if c.config.KeepAlive != nil {
		kaCtx, cancel := context.WithCancel(context.Background())
		cc.stopKeepAlive = cancel
		cc.keepAlive = NewKeepAlive(*c.config.KeepAlive, cc.SendPing, func() { cc.Close() })
		go cc.keepAlive.Run(kaCtx)
	}

	return cc, nil
}

// ClientConn is a connection from a client to the broker.
type ClientConn struct {
	conn          net.Conn
	framer        *Framer
	closeCh       chan struct{}
	keepAlive     *KeepAlive
	stopKeepAlive context.CancelFunc

	closeOnce sync.Once
	readMu    sync.Mutex
}

// LocalAddr returns the local network address.
func (c *ClientConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *ClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send sends a message to the broker.
func (c *ClientConn) Send(data []byte) error {
	select {
	case <-c.closeCh:
		return ErrConnectionClosed
	default:
	}
	return c.framer.WriteFrame(data)
}

// Receive returns the next non-control message from the broker. Pings are
// answered and pongs recorded along the way. A close from the broker closes
// the connection and returns ErrConnectionClosed. A zero timeout waits
// forever.
func (c *ClientConn) Receive(timeout time.Duration) ([]byte, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	for {
		select {
		case <-c.closeCh:
			return nil, ErrConnectionClosed
		default:
		}

		data, err := c.framer.ReadFrame()
		if err != nil {
			return nil, err
		}

		msg := decodeControl(data)
		if msg == nil {
			return data, nil
		}
		switch msg.Type {
		case wire.ControlPing:
			if pong, err := EncodePong(msg.Sequence); err == nil {
				_ = c.Send(pong)
			}
		case wire.ControlPong:
			if c.keepAlive != nil {
				c.keepAlive.PongReceived(msg.Sequence)
			}
		case wire.ControlClose:
			c.Close()
			return nil, ErrConnectionClosed
		}
	}
}

// KeepAliveStats returns keep-alive statistics. ok is false when keep-alive
// is disabled.
func (c *ClientConn) KeepAliveStats() (stats KeepAliveStats, ok bool) {
	if c.keepAlive == nil {
		return KeepAliveStats{}, false
	}
	return c.keepAlive.Stats(), true
}

// Done is closed once the connection has been closed.
func (c *ClientConn) Done() <-chan struct{} {
	return c.closeCh
}

// Close closes the connection.
func (c *ClientConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.stopKeepAlive != nil {
			c.stopKeepAlive()
		}
		close(c.closeCh)
		err = c.conn.Close()
	})
	return err
}

// SendPing sends a ping control message.
func (c *ClientConn) SendPing(seq uint32) error {
	msg, err := EncodePing(seq)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// SendClose sends a close control message.
func (c *ClientConn) SendClose() error {
	msg, err := EncodeClose()
	if err != nil {
		return err
	}
	return c.Send(msg)
}
