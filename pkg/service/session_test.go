package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/provider"
	"github.com/contextkit/contextd/pkg/value"
	"github.com/contextkit/contextd/pkg/wire"
)

// fakeConn records the frames queued for a client.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
}

func (c *fakeConn) ConnID() string     { return c.id }
func (c *fakeConn) RemoteAddr() string { return "test" }
func (c *fakeConn) Close() error       { return nil }

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, data)
	return nil
}

// frame is a decoded outbound message: exactly one field is set.
type frame struct {
	resp  *wire.Response
	notif *wire.Notification
}

func (c *fakeConn) take(t *testing.T) []frame {
	t.Helper()
	c.mu.Lock()
	raw := c.frames
	c.frames = nil
	c.mu.Unlock()

	out := make([]frame, 0, len(raw))
	for _, data := range raw {
		typ, err := wire.PeekMessageType(data)
		require.NoError(t, err)
		switch typ {
		case wire.MessageTypeResponse:
			resp, err := wire.DecodeResponse(data)
			require.NoError(t, err)
			out = append(out, frame{resp: resp})
		case wire.MessageTypeNotification:
			notif, err := wire.DecodeNotification(data)
			require.NoError(t, err)
			out = append(out, frame{notif: notif})
		default:
			t.Fatalf("unexpected message type %s", typ)
		}
	}
	return out
}

type testBroker struct {
	manager *broker.Manager
	service *Service
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	m := broker.NewManagerWithConfig(broker.Config{MeterProvider: noop.NewMeterProvider()})
	s, err := New(m, Config{Network: "tcp", Address: "127.0.0.1:0"})
	require.NoError(t, err)
	return &testBroker{manager: m, service: s}
}

func (b *testBroker) connect(id string) (*session, *fakeConn) {
	conn := &fakeConn{id: id}
	return newSession(b.service, conn), conn
}

var nextID uint32

func send(t *testing.T, ss *session, op wire.Operation, payload any) uint32 {
	t.Helper()
	nextID++
	req, err := wire.NewRequest(nextID, op, payload)
	require.NoError(t, err)
	data, err := wire.EncodeRequest(req)
	require.NoError(t, err)
	ss.handle(data)
	return nextID
}

// reply asserts that frames hold exactly one response to id and returns it.
func reply(t *testing.T, frames []frame, id uint32) *wire.Response {
	t.Helper()
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].resp, "expected a response")
	assert.Equal(t, id, frames[0].resp.MessageID)
	return frames[0].resp
}

func decodeValues(t *testing.T, decode func(any) error) wire.ValuesPayload {
	t.Helper()
	var p wire.ValuesPayload
	require.NoError(t, decode(&p))
	return p
}

func TestSessionSubscribeScenario(t *testing.T) {
	b := newTestBroker(t)
	p, err := provider.NewService("Battery.OnBattery", "Battery.ChargePercentage")
	require.NoError(t, err)
	require.NoError(t, p.Install(b.manager))
	onBattery, _ := p.Property("Battery.OnBattery")

	ss, conn := b.connect("client-1")

	id := send(t, ss, wire.OpGetSubscriber, nil)
	var handle wire.SubscriberPayload
	require.NoError(t, reply(t, conn.take(t), id).DecodePayload(&handle))
	assert.Equal(t, "client-1", handle.Subscriber)

	id = send(t, ss, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: handle.Subscriber, Keys: []string{"Battery.OnBattery"}})
	resp := reply(t, conn.take(t), id)
	require.True(t, resp.IsSuccess())
	got := decodeValues(t, resp.DecodePayload)
	assert.Empty(t, got.Values)
	assert.Equal(t, []string{"Battery.OnBattery"}, got.Undeterminable)
	assert.True(t, onBattery.IsSubscribed())

	require.NoError(t, b.manager.PropertyValuesChanged(map[string]value.Value{"Battery.OnBattery": value.Bool(false)}, nil))
	frames := conn.take(t)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].notif)
	assert.Equal(t, wire.OpChanged, frames[0].notif.Operation)
	changed := decodeValues(t, frames[0].notif.DecodePayload)
	require.Contains(t, changed.Values, "Battery.OnBattery")
	assert.True(t, value.Bool(false).Equal(changed.Values["Battery.OnBattery"]))
	assert.Empty(t, changed.Undeterminable)

	id = send(t, ss, wire.OpUnsubscribe, &wire.SubscribePayload{Subscriber: handle.Subscriber, Keys: []string{"Battery.OnBattery"}})
	assert.True(t, reply(t, conn.take(t), id).IsSuccess())
	assert.False(t, onBattery.IsSubscribed())

	require.NoError(t, b.manager.PropertyValuesChanged(map[string]value.Value{"Battery.OnBattery": value.Bool(true)}, nil))
	assert.Empty(t, conn.take(t))
}

func TestSessionSubscribeReturnsCurrentValues(t *testing.T) {
	b := newTestBroker(t)
	p, err := provider.NewStatic(provider.DefaultConfig(), map[string]value.Value{"Screen.Blanked": value.Bool(true)})
	require.NoError(t, err)
	require.NoError(t, p.Install(b.manager))

	ss, conn := b.connect("client-1")
	send(t, ss, wire.OpGetSubscriber, nil)
	conn.take(t)

	for range 2 {
		id := send(t, ss, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: "client-1", Keys: []string{"Screen.Blanked", "No.Such.Key"}})
		got := decodeValues(t, reply(t, conn.take(t), id).DecodePayload)
		require.Contains(t, got.Values, "Screen.Blanked")
		assert.True(t, value.Bool(true).Equal(got.Values["Screen.Blanked"]))
	}
	assert.Equal(t, 1, b.manager.NumberOfSubscribers("Screen.Blanked"))
}

func TestSessionUnknownSubscriber(t *testing.T) {
	b := newTestBroker(t)
	ss, conn := b.connect("client-1")

	id := send(t, ss, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: "client-1", Keys: []string{"A"}})
	assert.Equal(t, wire.StatusUnknownSubscriber, reply(t, conn.take(t), id).Status)

	send(t, ss, wire.OpGetSubscriber, nil)
	conn.take(t)

	id = send(t, ss, wire.OpUnsubscribe, &wire.SubscribePayload{Subscriber: "client-2", Keys: []string{"A"}})
	assert.Equal(t, wire.StatusUnknownSubscriber, reply(t, conn.take(t), id).Status)
}

func TestSessionGetUnknownKey(t *testing.T) {
	b := newTestBroker(t)
	ss, conn := b.connect("client-1")

	id := send(t, ss, wire.OpGet, &wire.KeysPayload{Keys: []string{"No.Such.Key"}})
	got := decodeValues(t, reply(t, conn.take(t), id).DecodePayload)
	assert.Empty(t, got.Values)
	assert.Equal(t, []string{"No.Such.Key"}, got.Undeterminable)
}

func TestSessionRemoteProvider(t *testing.T) {
	b := newTestBroker(t)
	prov, provConn := b.connect("provider")
	client, clientConn := b.connect("client")

	id := send(t, prov, wire.OpProvide, &wire.KeysPayload{Keys: []string{"Remote.Level"}})
	assert.True(t, reply(t, provConn.take(t), id).IsSuccess())
	assert.Contains(t, b.manager.ValidKeys(), "Remote.Level")

	send(t, client, wire.OpGetSubscriber, nil)
	clientConn.take(t)
	id = send(t, client, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: "client", Keys: []string{"Remote.Level"}})
	got := decodeValues(t, reply(t, clientConn.take(t), id).DecodePayload)
	assert.Equal(t, []string{"Remote.Level"}, got.Undeterminable)

	frames := provConn.take(t)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].notif)
	assert.Equal(t, wire.OpKeysSubscribed, frames[0].notif.Operation)
	var edge wire.EdgePayload
	require.NoError(t, frames[0].notif.DecodePayload(&edge))
	assert.Equal(t, []string{"Remote.Level"}, edge.Keys)

	id = send(t, prov, wire.OpCommit, &wire.ValuesPayload{Values: map[string]value.Value{"Remote.Level": value.Int(3)}})
	assert.True(t, reply(t, provConn.take(t), id).IsSuccess())

	frames = clientConn.take(t)
	require.Len(t, frames, 1)
	require.NotNil(t, frames[0].notif)
	changed := decodeValues(t, frames[0].notif.DecodePayload)
	assert.True(t, value.Int(3).Equal(changed.Values["Remote.Level"]))

	id = send(t, client, wire.OpGet, &wire.KeysPayload{Keys: []string{"Remote.Level"}})
	got = decodeValues(t, reply(t, clientConn.take(t), id).DecodePayload)
	assert.True(t, value.Int(3).Equal(got.Values["Remote.Level"]))

	// Keys the connection does not provide are rejected as a whole.
	id = send(t, prov, wire.OpCommit, &wire.ValuesPayload{Values: map[string]value.Value{
		"Remote.Level": value.Int(4),
		"Other.Key":    value.Int(1),
	}})
	resp := reply(t, provConn.take(t), id)
	assert.Equal(t, wire.StatusInvalidKey, resp.Status)
	var serr *wire.StatusError
	require.ErrorAs(t, resp.Err(), &serr)
	assert.Equal(t, []string{"Other.Key"}, serr.Keys)
	assert.Empty(t, clientConn.take(t))

	// An absent value marks the key undetermined.
	id = send(t, prov, wire.OpCommit, &wire.ValuesPayload{Values: map[string]value.Value{"Remote.Level": value.Absent()}})
	assert.True(t, reply(t, provConn.take(t), id).IsSuccess())
	frames = clientConn.take(t)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"Remote.Level"}, decodeValues(t, frames[0].notif.DecodePayload).Undeterminable)

	id = send(t, prov, wire.OpCommit, &wire.ValuesPayload{Values: map[string]value.Value{"Remote.Level": value.Int(5)}})
	assert.True(t, reply(t, provConn.take(t), id).IsSuccess())
	clientConn.take(t)

	// Losing the provider connection leaves its keys undetermined.
	prov.close()
	assert.NotContains(t, b.manager.ValidKeys(), "Remote.Level")
	frames = clientConn.take(t)
	require.Len(t, frames, 1)
	assert.Equal(t, []string{"Remote.Level"}, decodeValues(t, frames[0].notif.DecodePayload).Undeterminable)
}

func TestSessionProvideExtendsKeys(t *testing.T) {
	b := newTestBroker(t)
	prov, provConn := b.connect("provider")
	client, clientConn := b.connect("client")

	send(t, prov, wire.OpProvide, &wire.KeysPayload{Keys: []string{"A"}})
	send(t, prov, wire.OpCommit, &wire.ValuesPayload{Values: map[string]value.Value{"A": value.Int(1)}})
	provConn.take(t)

	send(t, client, wire.OpGetSubscriber, nil)
	send(t, client, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: "client", Keys: []string{"A"}})
	clientConn.take(t)
	require.Len(t, provConn.take(t), 1, "expected KeysSubscribed for A")

	id := send(t, prov, wire.OpProvide, &wire.KeysPayload{Keys: []string{"B"}})
	// Only the response: A is not announced a second time.
	assert.True(t, reply(t, provConn.take(t), id).IsSuccess())
	assert.ElementsMatch(t, []string{"A", "B"}, b.manager.ValidKeys())

	// Subscribers see no gap while the provider is replaced.
	assert.Empty(t, clientConn.take(t))

	id = send(t, client, wire.OpGet, &wire.KeysPayload{Keys: []string{"A"}})
	got := decodeValues(t, reply(t, clientConn.take(t), id).DecodePayload)
	assert.True(t, value.Int(1).Equal(got.Values["A"]))
}

func TestSessionProvideErrors(t *testing.T) {
	b := newTestBroker(t)
	ss, conn := b.connect("provider")

	id := send(t, ss, wire.OpCommit, &wire.ValuesPayload{Values: map[string]value.Value{"A": value.Int(1)}})
	assert.Equal(t, wire.StatusInvalidRequest, reply(t, conn.take(t), id).Status)

	id = send(t, ss, wire.OpProvide, &wire.KeysPayload{})
	assert.Equal(t, wire.StatusInvalidRequest, reply(t, conn.take(t), id).Status)
}

func TestSessionCloseReleasesSubscriber(t *testing.T) {
	b := newTestBroker(t)
	p, err := provider.NewService("A")
	require.NoError(t, err)
	require.NoError(t, p.Install(b.manager))
	a, _ := p.Property("A")

	ss, conn := b.connect("client")
	send(t, ss, wire.OpGetSubscriber, nil)
	send(t, ss, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: "client", Keys: []string{"A"}})
	conn.take(t)
	require.True(t, a.IsSubscribed())

	ss.close()
	assert.False(t, a.IsSubscribed())
	assert.Equal(t, 0, b.manager.SubscriberCount())
	assert.Equal(t, 0, b.manager.NumberOfSubscribers("A"))
}

func TestSessionIntrospection(t *testing.T) {
	b := newTestBroker(t)
	p, err := provider.NewService("A", "B")
	require.NoError(t, err)
	require.NoError(t, p.Install(b.manager))

	ss, conn := b.connect("client")
	send(t, ss, wire.OpGetSubscriber, nil)
	send(t, ss, wire.OpSubscribe, &wire.SubscribePayload{Subscriber: "client", Keys: []string{"A"}})
	conn.take(t)

	id := send(t, ss, wire.OpNumberOfSubscribers, &wire.KeysPayload{Keys: []string{"A", "B"}})
	var counts wire.CountsPayload
	require.NoError(t, reply(t, conn.take(t), id).DecodePayload(&counts))
	assert.Equal(t, map[string]uint32{"A": 1, "B": 0}, counts.Counts)

	id = send(t, ss, wire.OpListKeys, nil)
	var list wire.KeyListPayload
	require.NoError(t, reply(t, conn.take(t), id).DecodePayload(&list))
	assert.Equal(t, []string{"A", "B"}, list.Provided)
	assert.Equal(t, []string{"A"}, list.Subscribed)
}

func TestSessionDropsMalformedRequest(t *testing.T) {
	b := newTestBroker(t)
	ss, conn := b.connect("client")

	ss.handle([]byte{0xff, 0x00})
	assert.Empty(t, conn.take(t))
}
