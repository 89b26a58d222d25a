package provider_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/provider"
	"github.com/contextkit/contextd/pkg/value"
)

func newManager() *broker.Manager {
	return broker.NewManagerWithConfig(broker.Config{MeterProvider: noop.NewMeterProvider()})
}

// changes hooks a subscriber and returns a function draining what it saw.
func changes(s *broker.Subscriber) func() []broker.Result {
	var got []broker.Result
	s.OnChanged(func(r broker.Result) { got = append(got, r) })
	return func() []broker.Result {
		out := got
		got = nil
		return out
	}
}

func TestNewServiceRequiresKeys(t *testing.T) {
	_, err := provider.NewService()
	if !errors.Is(err, provider.ErrNoKeys) {
		t.Errorf("NewService() error = %v, want %v", err, provider.ErrNoKeys)
	}
}

func TestPropertyUnknownKey(t *testing.T) {
	svc, err := provider.NewService("A")
	require.NoError(t, err)

	_, err = svc.Property("B")
	assert.ErrorIs(t, err, provider.ErrUnknownKey)

	p1, err := svc.Property("A")
	require.NoError(t, err)
	p2, err := svc.Property("A")
	require.NoError(t, err)
	assert.Same(t, p1, p2)
	assert.Equal(t, "A", p1.Key())
}

func TestGetAnswersFromLastValue(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A", "B")
	require.NoError(t, err)
	a, _ := svc.Property("A")
	require.NoError(t, a.SetInt(5))
	require.NoError(t, svc.Install(m))

	res := m.Get([]string{"A", "B"})
	assert.Equal(t, map[string]value.Value{"A": value.Int(5)}, res.Values)
	assert.Equal(t, []string{"B"}, res.Undeterminable)
}

func TestSetCommitsOnlyChanges(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A")
	require.NoError(t, err)
	require.NoError(t, svc.Install(m))
	a, _ := svc.Property("A")

	sub := m.GetSubscriber("client")
	drain := changes(sub)
	_, err = sub.Subscribe([]string{"A"})
	require.NoError(t, err)

	require.NoError(t, a.SetString("x"))
	require.NoError(t, a.SetString("x"))
	if n := m.Flush(); n != 1 {
		t.Errorf("Flush() = %d, want 1", n)
	}
	got := drain()
	require.Len(t, got, 1)
	assert.Equal(t, value.String("x"), got[0].Values["A"])

	require.NoError(t, a.Unset())
	m.Flush()
	got = drain()
	require.Len(t, got, 1)
	assert.Equal(t, []string{"A"}, got[0].Undeterminable)
	assert.True(t, a.Value().IsAbsent())
}

func TestSetBeforeInstallDoesNotCommit(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A")
	require.NoError(t, err)
	a, _ := svc.Property("A")
	require.NoError(t, a.SetBool(true))

	if n := m.Flush(); n != 0 {
		t.Errorf("Flush() = %d, want 0", n)
	}
	require.NoError(t, svc.Install(m))
	v, ok := m.CachedValue("A")
	assert.False(t, ok, "cached %v before any lookup", v)
}

func TestPropertyHooks(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A", "B")
	require.NoError(t, err)
	a, _ := svc.Property("A")

	var events []string
	a.OnFirstSubscriber(func() { events = append(events, "first") })
	a.OnLastSubscriber(func() { events = append(events, "last") })
	require.NoError(t, svc.Install(m))

	s1 := m.GetSubscriber("one")
	s2 := m.GetSubscriber("two")
	_, _ = s1.Subscribe([]string{"A"})
	_, _ = s2.Subscribe([]string{"A", "B"})
	assert.True(t, a.IsSubscribed())

	require.NoError(t, s1.Unsubscribe([]string{"A"}))
	require.NoError(t, s2.Unsubscribe([]string{"A"}))
	assert.False(t, a.IsSubscribed())

	assert.Equal(t, []string{"first", "last"}, events)
}

func TestHookMaySetValue(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A")
	require.NoError(t, err)
	a, _ := svc.Property("A")
	a.OnFirstSubscriber(func() { _ = a.SetInt(42) })
	require.NoError(t, svc.Install(m))

	sub := m.GetSubscriber("client")
	drain := changes(sub)
	res, err := sub.Subscribe([]string{"A"})
	require.NoError(t, err)

	// Get ran after the hook, so the value is already there.
	assert.Equal(t, value.Int(42), res.Values["A"])

	// The queued commit carries the same value again.
	m.Flush()
	got := drain()
	require.Len(t, got, 1)
	assert.Equal(t, value.Int(42), got[0].Values["A"])
}

func TestInstallAnnouncesExistingSubscribers(t *testing.T) {
	m := newManager()
	first, err := provider.NewService("A")
	require.NoError(t, err)
	require.NoError(t, first.Install(m))

	sub := m.GetSubscriber("client")
	_, _ = sub.Subscribe([]string{"A"})

	second, err := provider.NewService("A")
	require.NoError(t, err)
	p, _ := second.Property("A")
	fired := false
	p.OnFirstSubscriber(func() { fired = true })
	require.NoError(t, second.Install(m))

	assert.True(t, fired)
	assert.True(t, p.IsSubscribed())
}

func TestInstallTwice(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A")
	require.NoError(t, err)
	require.NoError(t, svc.Install(m))
	assert.ErrorIs(t, svc.Install(m), provider.ErrInstalled)
}

func TestUninstall(t *testing.T) {
	m := newManager()
	svc, err := provider.NewService("A")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Uninstall(), provider.ErrNotInstalled)

	require.NoError(t, svc.Install(m))
	sub := m.GetSubscriber("client")
	_, _ = sub.Subscribe([]string{"A"})
	a, _ := svc.Property("A")
	require.True(t, a.IsSubscribed())

	require.NoError(t, svc.Uninstall())
	assert.False(t, a.IsSubscribed())
	assert.Empty(t, m.ValidKeys())

	// Values set while uninstalled stay local.
	require.NoError(t, a.SetInt(1))
	if n := m.Flush(); n != 0 {
		t.Errorf("Flush() = %d, want 0", n)
	}
}

func TestStatic(t *testing.T) {
	m := newManager()
	svc, err := provider.NewStatic(provider.DefaultConfig(), map[string]value.Value{
		"Device.Model": value.String("n900"),
		"Device.Ghost": value.Absent(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Install(m))

	res := m.Get([]string{"Device.Model", "Device.Ghost"})
	assert.Equal(t, map[string]value.Value{"Device.Model": value.String("n900")}, res.Values)
	assert.Equal(t, []string{"Device.Ghost"}, res.Undeterminable)
	assert.ElementsMatch(t, []string{"Device.Model", "Device.Ghost"}, m.ValidKeys())
}

func TestStaticRequiresValues(t *testing.T) {
	_, err := provider.NewStatic(provider.DefaultConfig(), nil)
	assert.ErrorIs(t, err, provider.ErrNoKeys)
}
