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
	"github.com/contextkit/contextd/pkg/discovery"
	"github.com/contextkit/contextd/pkg/provider"
	"github.com/contextkit/contextd/pkg/service"
	"github.com/contextkit/contextd/pkg/value"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader.
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

func newListener(t *testing.T, svc *service.Service, out *syncBuffer) *listener {
	t.Helper()
	c, err := service.Dial(context.Background(), "tcp", svc.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return &listener{client: c, out: out}
}

func TestPrintResult(t *testing.T) {
	var buf bytes.Buffer
	printResult(&buf, broker.Result{
		Values: map[string]value.Value{
			"Screen.Blanked":    value.Bool(true),
			"Battery.OnBattery": value.Bool(false),
		},
		Undeterminable: []string{"Battery.ChargePercentage"},
	}, []string{"Screen.Blanked", "Nope.Missing"})

	want := "Screen.Blanked = true\n" +
		"Nope.Missing is unknown\n" +
		"Battery.ChargePercentage is undetermined\n" +
		"Battery.OnBattery = false\n"
	assert.Equal(t, want, buf.String())
}

func TestPrintBroker(t *testing.T) {
	var buf bytes.Buffer
	printBroker(&buf, &discovery.BrokerService{
		Instance:  "kitchen",
		Port:      7420,
		Addresses: []string{"192.168.1.5", "fe80::1"},
		Info:      discovery.BrokerInfo{Host: "kitchen.local", KeyCount: 3, Version: "1.0"},
	})
	out := buf.String()
	assert.Contains(t, out, "kitchen  tcp 192.168.1.5:7420  host=kitchen.local keys=3 version=1.0")
	assert.Contains(t, out, "addresses: 192.168.1.5, fe80::1")
}

func TestListenerGetAndCount(t *testing.T) {
	m, svc := startBroker(t)
	p, err := provider.NewService("Battery.OnBattery", "Battery.ChargePercentage")
	require.NoError(t, err)
	require.NoError(t, p.Install(m))
	prop, err := p.Property("Battery.OnBattery")
	require.NoError(t, err)
	require.NoError(t, prop.SetBool(true))
	m.Flush()

	out := &syncBuffer{}
	l := newListener(t, svc, out)
	ctx := context.Background()

	require.NoError(t, l.get(ctx, []string{"Battery.OnBattery", "Battery.ChargePercentage", "Screen.Blanked"}))
	assert.Equal(t,
		"Battery.OnBattery = true\nBattery.ChargePercentage is undetermined\nScreen.Blanked is undetermined\n",
		out.String())

	require.ErrorIs(t, l.get(ctx, nil), errNoKeys)
	require.ErrorIs(t, l.count(ctx, nil), errNoKeys)
}

func TestListenerKeys(t *testing.T) {
	m, svc := startBroker(t)
	p, err := provider.NewService("Screen.Blanked")
	require.NoError(t, err)
	require.NoError(t, p.Install(m))

	out := &syncBuffer{}
	l := newListener(t, svc, out)
	require.NoError(t, l.keys(context.Background()))

	assert.Equal(t, "Provided (1):\n  Screen.Blanked\nSubscribed (0):\n", out.String())
}

func TestListenerSubscribe(t *testing.T) {
	m, svc := startBroker(t)
	p, err := provider.NewService("Screen.Blanked")
	require.NoError(t, err)
	require.NoError(t, p.Install(m))
	prop, err := p.Property("Screen.Blanked")
	require.NoError(t, err)

	out := &syncBuffer{}
	l := newListener(t, svc, out)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.subscribe(ctx, []string{"Screen.Blanked"}) }()

	require.Eventually(t, func() bool {
		return m.NumberOfSubscribers("Screen.Blanked") == 1
	}, 2*time.Second, 10*time.Millisecond)

	counter := &syncBuffer{}
	other := newListener(t, svc, counter)
	require.NoError(t, other.count(context.Background(), []string{"Screen.Blanked"}))
	assert.Equal(t, "Screen.Blanked: 1\n", counter.String())

	require.NoError(t, prop.SetBool(true))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Screen.Blanked = true")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not return")
	}
	assert.True(t, strings.HasPrefix(out.String(), "Screen.Blanked is undetermined\n"))
}

func TestWatchReconnects(t *testing.T) {
	m, svc := startBroker(t)
	p, err := provider.NewService("Screen.Blanked")
	require.NoError(t, err)
	require.NoError(t, p.Install(m))

	out, status := &syncBuffer{}, &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- watch(ctx, "tcp", svc.Addr().String(), []string{"Screen.Blanked"}, out, status)
	}()

	require.Eventually(t, func() bool {
		return m.NumberOfSubscribers("Screen.Blanked") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, svc.Stop())
	require.Eventually(t, func() bool {
		s := status.String()
		return strings.Contains(s, "broker connection lost") && strings.Contains(s, "connect failed (attempt 1)")
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
	assert.Contains(t, out.String(), "Screen.Blanked is undetermined")
}
