package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/service"
	"github.com/contextkit/contextd/pkg/value"
)

const waitTimeout = 2 * time.Second

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startBroker(t *testing.T) (*broker.Manager, *service.Service) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	m := broker.NewManagerWithConfig(broker.Config{MeterProvider: noop.NewMeterProvider()})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	config := service.DefaultConfig()
	config.Address = "127.0.0.1:0"
	svc, err := service.New(m, config)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	t.Cleanup(func() {
		_ = svc.Stop()
		cancel()
		<-done
	})
	return m, svc
}

func dial(t *testing.T, svc *service.Service) *service.Client {
	t.Helper()
	c, err := service.Dial(context.Background(), "tcp", svc.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestShellSetupProvidesAndSets(t *testing.T) {
	m, svc := startBroker(t)
	out := &syncBuffer{}
	sh := newShell(dial(t, svc), out)
	ctx := context.Background()

	require.NoError(t, sh.setup(ctx, []string{"Screen.Blanked=false", "Device.Model=n900", "Device.Cores=4"}))

	assert.ElementsMatch(t, []string{"Device.Cores", "Device.Model", "Screen.Blanked"}, m.ValidKeys())
	res := m.Get([]string{"Screen.Blanked", "Device.Model", "Device.Cores"})
	assert.Equal(t, value.Bool(false), res.Values["Screen.Blanked"])
	assert.Equal(t, value.String("n900"), res.Values["Device.Model"])
	assert.Equal(t, value.Int(4), res.Values["Device.Cores"])
	assert.Contains(t, out.String(), "Providing 3 keys")
}

func TestShellSetupRejectsBadArgument(t *testing.T) {
	_, svc := startBroker(t)
	sh := newShell(dial(t, svc), &syncBuffer{})
	assert.Error(t, sh.setup(context.Background(), []string{"Screen.Blanked"}))
}

func TestShellCommands(t *testing.T) {
	m, svc := startBroker(t)
	out := &syncBuffer{}
	sh := newShell(dial(t, svc), out)
	ctx := context.Background()

	assert.False(t, sh.execute(ctx, "provide Session.State"))
	assert.False(t, sh.execute(ctx, "provide Session.Idle"))
	assert.ElementsMatch(t, []string{"Session.Idle", "Session.State"}, m.ValidKeys())

	assert.False(t, sh.execute(ctx, "set Session.State 42 string"))
	assert.Equal(t, value.String("42"), m.Get([]string{"Session.State"}).Values["Session.State"])

	assert.False(t, sh.execute(ctx, "unset Session.State"))
	assert.Equal(t, []string{"Session.State"}, m.Get([]string{"Session.State"}).Undeterminable)

	assert.False(t, sh.execute(ctx, "set Other.Key 1"))
	assert.Contains(t, out.String(), "Error:")

	assert.False(t, sh.execute(ctx, "set Session.State 1 colour"))
	assert.False(t, sh.execute(ctx, "frobnicate"))
	assert.Contains(t, out.String(), "Unknown command: frobnicate")

	out2 := &syncBuffer{}
	sh.mu.Lock()
	sh.out = out2
	sh.mu.Unlock()
	sh.cmdList()
	assert.Contains(t, out2.String(), "Session.Idle")
	assert.Contains(t, out2.String(), "undetermined  (idle)")

	assert.True(t, sh.execute(ctx, "quit"))
}

func TestShellUsageShowsHelp(t *testing.T) {
	_, svc := startBroker(t)
	out := &syncBuffer{}
	sh := newShell(dial(t, svc), out)

	assert.False(t, sh.execute(context.Background(), "set OnlyKey"))
	assert.Contains(t, out.String(), "Context Provider Commands")
	assert.False(t, sh.execute(context.Background(), "   "))
}

func TestShellTracksSubscriptions(t *testing.T) {
	_, svc := startBroker(t)
	out := &syncBuffer{}
	sh := newShell(dial(t, svc), out)
	ctx := context.Background()
	require.NoError(t, sh.setup(ctx, []string{"Screen.Blanked=true"}))

	listener := dial(t, svc)
	sub, err := listener.GetSubscriber(ctx)
	require.NoError(t, err)
	res, err := listener.Subscribe(ctx, sub, []string{"Screen.Blanked"})
	require.NoError(t, err)
	assert.Equal(t, value.Bool(true), res.Values["Screen.Blanked"])

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[subscribed] Screen.Blanked")
	}, waitTimeout, 10*time.Millisecond)

	list := &syncBuffer{}
	sh.mu.Lock()
	sh.out = list
	sh.mu.Unlock()
	sh.cmdList()
	assert.Contains(t, list.String(), "(subscribed)")

	require.NoError(t, listener.Unsubscribe(ctx, sub, []string{"Screen.Blanked"}))
	require.Eventually(t, func() bool {
		return strings.Contains(list.String(), "[unsubscribed] Screen.Blanked")
	}, waitTimeout, 10*time.Millisecond)
}
