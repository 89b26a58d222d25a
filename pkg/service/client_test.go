package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/transport"
	"github.com/contextkit/contextd/pkg/value"
	"github.com/contextkit/contextd/pkg/wire"
)

// pipeConn is an in-memory transport.ClientConnection. Frames the client
// sends appear on sent; frames pushed to inbound are received by it.
type pipeConn struct {
	sent    chan []byte
	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

var _ transport.ClientConnection = (*pipeConn)(nil)

func newPipeConn() *pipeConn {
	return &pipeConn{
		sent:    make(chan []byte, 16),
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *pipeConn) Send(data []byte) error {
	select {
	case <-c.closed:
		return transport.ErrConnectionClosed
	case c.sent <- data:
		return nil
	}
}

func (c *pipeConn) Receive(time.Duration) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, transport.ErrConnectionClosed
	case data := <-c.inbound:
		return data, nil
	}
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) request(t *testing.T) *wire.Request {
	t.Helper()
	select {
	case data := <-c.sent:
		req, err := wire.DecodeRequest(data)
		require.NoError(t, err)
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request sent")
		return nil
	}
}

func (c *pipeConn) reply(t *testing.T, id uint32, status wire.Status, payload any) {
	t.Helper()
	resp, err := wire.NewResponse(id, status, payload)
	require.NoError(t, err)
	data, err := wire.EncodeResponse(resp)
	require.NoError(t, err)
	c.inbound <- data
}

func (c *pipeConn) notify(t *testing.T, op wire.Operation, payload any) {
	t.Helper()
	notif, err := wire.NewNotification(op, payload)
	require.NoError(t, err)
	data, err := wire.EncodeNotification(notif)
	require.NoError(t, err)
	c.inbound <- data
}

func TestClientMatchesResponsesByMessageID(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn)
	defer c.Close()
	ctx := context.Background()

	type getResult struct {
		res broker.Result
		err error
	}
	gets := make(chan getResult, 1)
	go func() {
		res, err := c.Get(ctx, []string{"Room.Temperature", "Room.Occupied"})
		gets <- getResult{res, err}
	}()
	getReq := conn.request(t)
	assert.Equal(t, wire.OpGet, getReq.Operation)

	subs := make(chan string, 1)
	go func() {
		sub, err := c.GetSubscriber(ctx)
		assert.NoError(t, err)
		subs <- sub
	}()
	subReq := conn.request(t)
	assert.Equal(t, wire.OpGetSubscriber, subReq.Operation)
	assert.NotEqual(t, getReq.MessageID, subReq.MessageID)

	// Answer out of order.
	conn.reply(t, subReq.MessageID, wire.StatusSuccess, &wire.SubscriberPayload{Subscriber: "conn-1"})
	conn.reply(t, getReq.MessageID, wire.StatusSuccess, &wire.ValuesPayload{
		Values: map[string]value.Value{
			"Room.Temperature": value.Int(21),
			"Room.Occupied":    value.Absent(),
		},
	})

	assert.Equal(t, "conn-1", <-subs)
	got := <-gets
	require.NoError(t, got.err)
	assert.Equal(t, map[string]value.Value{"Room.Temperature": value.Int(21)}, got.res.Values)
	assert.Equal(t, []string{"Room.Occupied"}, got.res.Undeterminable)
}

func TestClientReturnsStatusErrors(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn)
	defer c.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- c.Commit(context.Background(), map[string]value.Value{"Room.Foreign": value.Bool(true)}, nil)
	}()
	req := conn.request(t)
	assert.Equal(t, wire.OpCommit, req.Operation)
	conn.reply(t, req.MessageID, wire.StatusInvalidKey, &wire.ErrorPayload{
		Message: "not provided",
		Keys:    []string{"Room.Foreign"},
	})

	var serr *wire.StatusError
	require.ErrorAs(t, <-errs, &serr)
	assert.Equal(t, wire.StatusInvalidKey, serr.Status)
	assert.Equal(t, []string{"Room.Foreign"}, serr.Keys)
}

func TestClientDeliversNotificationsInOrder(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn)
	defer c.Close()

	var (
		mu     sync.Mutex
		events []string
	)
	delivered := make(chan struct{}, 8)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
		delivered <- struct{}{}
	}
	c.OnChanged(func(res broker.Result) {
		record("changed " + res.Values["Room.Temperature"].String())
	})
	c.OnKeysSubscribed(func(keys []string) {
		record("subscribed " + keys[0])
	})
	c.OnKeysUnsubscribed(func(keys, remaining []string) {
		record("unsubscribed " + keys[0])
	})

	conn.notify(t, wire.OpChanged, &wire.ValuesPayload{Values: map[string]value.Value{"Room.Temperature": value.Int(20)}})
	conn.notify(t, wire.OpKeysSubscribed, &wire.EdgePayload{Keys: []string{"Room.Occupied"}})
	conn.notify(t, wire.OpChanged, &wire.ValuesPayload{Values: map[string]value.Value{"Room.Temperature": value.Int(21)}})
	conn.notify(t, wire.OpKeysUnsubscribed, &wire.EdgePayload{Keys: []string{"Room.Occupied"}})

	for range 4 {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("notification not delivered")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"changed 20",
		"subscribed Room.Occupied",
		"changed 21",
		"unsubscribed Room.Occupied",
	}, events)
}

func TestClientFailsPendingRequestsWhenConnectionDrops(t *testing.T) {
	conn := newPipeConn()
	c := NewClient(conn)

	errs := make(chan error, 1)
	go func() {
		errs <- c.Provide(context.Background(), []string{"Room.Temperature"})
	}()
	conn.request(t)

	conn.Close()
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrClientClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending request did not fail")
	}

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed")
	}
	_, err := c.Get(context.Background(), []string{"Room.Temperature"})
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.NoError(t, c.Close())
}
