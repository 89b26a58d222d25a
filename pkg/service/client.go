package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/transport"
	"github.com/contextkit/contextd/pkg/value"
	"github.com/contextkit/contextd/pkg/wire"
)

// Client errors.
var (
	ErrRequestTimeout  = errors.New("request timed out")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// DefaultRequestTimeout bounds a request when the context has no deadline.
const DefaultRequestTimeout = 30 * time.Second

// Client calls a broker over one connection. Responses are matched to
// requests by message ID; notifications go to the registered handlers in
// the order the broker sent them, from a goroutine of their own, so
// handlers may issue requests.
type Client struct {
	conn    transport.ClientConnection
	timeout atomic.Int64

	nextMsgID atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Response
	closed    bool

	handlerMu          sync.RWMutex
	onChanged          func(broker.Result)
	onKeysSubscribed   func(keys []string)
	onKeysUnsubscribed func(keys, remaining []string)

	notifications *notificationQueue
	done          chan struct{}
}

// Dial connects to a broker.
func Dial(ctx context.Context, network, address string) (*Client, error) {
	conn, err := transport.NewClient(transport.ClientConfig{Network: network}).Connect(ctx, address)
	if err != nil {
		return nil, err
	}
	return NewClient(conn), nil
}

// NewClient starts a client on an established connection.
func NewClient(conn transport.ClientConnection) *Client {
	c := &Client{
		conn:          conn,
		pending:       make(map[uint32]chan *wire.Response),
		notifications: newNotificationQueue(),
		done:          make(chan struct{}),
	}
	c.timeout.Store(int64(DefaultRequestTimeout))

	go c.receiveLoop()
	go c.notifications.run(c.dispatchNotification)
	return c
}

// SetTimeout sets the request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout.Store(int64(timeout))
}

// OnChanged sets the handler for Changed notifications.
func (c *Client) OnChanged(fn func(broker.Result)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onChanged = fn
}

// OnKeysSubscribed sets the handler for provided keys gaining their first
// subscriber.
func (c *Client) OnKeysSubscribed(fn func(keys []string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onKeysSubscribed = fn
}

// OnKeysUnsubscribed sets the handler for provided keys losing their last
// subscriber.
func (c *Client) OnKeysUnsubscribed(fn func(keys, remaining []string)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onKeysUnsubscribed = fn
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the connection. Pending requests fail with ErrClientClosed.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Get reads keys without subscribing.
func (c *Client) Get(ctx context.Context, keys []string) (broker.Result, error) {
	var p wire.ValuesPayload
	if err := c.call(ctx, wire.OpGet, &wire.KeysPayload{Keys: keys}, &p); err != nil {
		return broker.Result{}, err
	}
	return resultOf(p), nil
}

// GetSubscriber returns the subscriber handle of this connection.
func (c *Client) GetSubscriber(ctx context.Context) (string, error) {
	var p wire.SubscriberPayload
	if err := c.call(ctx, wire.OpGetSubscriber, nil, &p); err != nil {
		return "", err
	}
	return p.Subscriber, nil
}

// Subscribe adds keys to the subscription and returns their values.
func (c *Client) Subscribe(ctx context.Context, subscriber string, keys []string) (broker.Result, error) {
	var p wire.ValuesPayload
	req := &wire.SubscribePayload{Subscriber: subscriber, Keys: keys}
	if err := c.call(ctx, wire.OpSubscribe, req, &p); err != nil {
		return broker.Result{}, err
	}
	return resultOf(p), nil
}

// Unsubscribe removes keys from the subscription.
func (c *Client) Unsubscribe(ctx context.Context, subscriber string, keys []string) error {
	req := &wire.SubscribePayload{Subscriber: subscriber, Keys: keys}
	return c.call(ctx, wire.OpUnsubscribe, req, nil)
}

// Provide registers this connection as the provider of keys.
func (c *Client) Provide(ctx context.Context, keys []string) error {
	return c.call(ctx, wire.OpProvide, &wire.KeysPayload{Keys: keys}, nil)
}

// Commit publishes values for provided keys. Absent values and undetermined
// keys both mark their key undetermined.
func (c *Client) Commit(ctx context.Context, values map[string]value.Value, undetermined []string) error {
	req := &wire.ValuesPayload{Values: values, Undeterminable: undetermined}
	return c.call(ctx, wire.OpCommit, req, nil)
}

// NumberOfSubscribers returns the subscriber count of every key.
func (c *Client) NumberOfSubscribers(ctx context.Context, keys []string) (map[string]int, error) {
	var p wire.CountsPayload
	if err := c.call(ctx, wire.OpNumberOfSubscribers, &wire.KeysPayload{Keys: keys}, &p); err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(p.Counts))
	for k, n := range p.Counts {
		counts[k] = int(n)
	}
	return counts, nil
}

// ListKeys returns the provided and the subscribed keys.
func (c *Client) ListKeys(ctx context.Context) (provided, subscribed []string, err error) {
	var p wire.KeyListPayload
	if err := c.call(ctx, wire.OpListKeys, nil, &p); err != nil {
		return nil, nil, err
	}
	return p.Provided, p.Subscribed, nil
}

// call sends a request and decodes a successful response into out.
// A failed response is returned as a *wire.StatusError.
func (c *Client) call(ctx context.Context, op wire.Operation, payload, out any) error {
	req, err := wire.NewRequest(c.nextMsgID.Add(1), op, payload)
	if err != nil {
		return err
	}
	resp, err := c.sendRequest(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.DecodePayload(out)
}

// sendRequest sends a request and waits for the response.
func (c *Client) sendRequest(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	data, err := wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	respCh := make(chan *wire.Response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClientClosed
	}
	c.pending[req.MessageID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.MessageID)
		c.pendingMu.Unlock()
	}()

	if err := c.conn.Send(data); err != nil {
		return nil, err
	}

	timer := time.NewTimer(time.Duration(c.timeout.Load()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrRequestTimeout
	case resp, ok := <-respCh:
		if !ok {
			return nil, ErrClientClosed
		}
		return resp, nil
	}
}

func (c *Client) receiveLoop() {
	defer close(c.done)
	defer c.notifications.stop()
	defer c.failPending()

	for {
		data, err := c.conn.Receive(0)
		if err != nil {
			return
		}

		typ, err := wire.PeekMessageType(data)
		if err != nil {
			continue
		}
		switch typ {
		case wire.MessageTypeResponse:
			if resp, err := wire.DecodeResponse(data); err == nil {
				_ = c.handleResponse(resp)
			}
		case wire.MessageTypeNotification:
			if notif, err := wire.DecodeNotification(data); err == nil {
				c.notifications.push(notif)
			}
		}
	}
}

// handleResponse hands resp to the request waiting for it.
func (c *Client) handleResponse(resp *wire.Response) error {
	c.pendingMu.Lock()
	ch, exists := c.pending[resp.MessageID]
	c.pendingMu.Unlock()

	if !exists {
		return ErrUnexpectedReply
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

func (c *Client) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) dispatchNotification(notif *wire.Notification) {
	c.handlerMu.RLock()
	onChanged, onSub, onUnsub := c.onChanged, c.onKeysSubscribed, c.onKeysUnsubscribed
	c.handlerMu.RUnlock()

	switch notif.Operation {
	case wire.OpChanged:
		var p wire.ValuesPayload
		if onChanged != nil && notif.DecodePayload(&p) == nil {
			onChanged(resultOf(p))
		}
	case wire.OpKeysSubscribed:
		var p wire.EdgePayload
		if onSub != nil && notif.DecodePayload(&p) == nil {
			onSub(p.Keys)
		}
	case wire.OpKeysUnsubscribed:
		var p wire.EdgePayload
		if onUnsub != nil && notif.DecodePayload(&p) == nil {
			onUnsub(p.Keys, p.Remaining)
		}
	}
}

// resultOf converts a values payload, moving absent values to the
// undeterminable keys.
func resultOf(p wire.ValuesPayload) broker.Result {
	values, undetermined := splitAbsent(p)
	res := broker.Result{Values: values}
	if len(undetermined) > 0 {
		res.Undeterminable = undetermined
	}
	return res
}

// notificationQueue delivers notifications in order on its own goroutine.
type notificationQueue struct {
	mu      sync.Mutex
	pending []*wire.Notification
	stopped bool
	wake    chan struct{}
}

func newNotificationQueue() *notificationQueue {
	return &notificationQueue{wake: make(chan struct{}, 1)}
}

func (q *notificationQueue) push(n *wire.Notification) {
	q.mu.Lock()
	q.pending = append(q.pending, n)
	q.mu.Unlock()
	q.signal()
}

func (q *notificationQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.signal()
}

func (q *notificationQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run delivers notifications until stop. Notifications queued before stop
// are still delivered.
func (q *notificationQueue) run(deliver func(*wire.Notification)) {
	for range q.wake {
		q.mu.Lock()
		batch, stopped := q.pending, q.stopped
		q.pending = nil
		q.mu.Unlock()

		for _, n := range batch {
			deliver(n)
		}
		if stopped {
			return
		}
	}
}
