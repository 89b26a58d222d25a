package lowmem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/contextkit/contextd/pkg/broker"
	"github.com/contextkit/contextd/pkg/value"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		name      string
		low, high State
		level     int64
		ok, known bool
	}{
		{"normal", StateClear, StateClear, PressureNormal, true, true},
		{"high", StateSet, StateClear, PressureHigh, true, true},
		{"critical", StateSet, StateSet, PressureCritical, true, true},
		{"rogue", StateClear, StateSet, 0, false, false},
		{"low unknown", StateUnknown, StateClear, 0, false, true},
		{"high unknown", StateSet, StateUnknown, 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok, known := Level(tt.low, tt.high)
			if level != tt.level || ok != tt.ok || known != tt.known {
				t.Errorf("Level(%v, %v) = %d, %v, %v; want %d, %v, %v",
					tt.low, tt.high, level, ok, known, tt.level, tt.ok, tt.known)
			}
		})
	}
}

func TestReadState(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	assert.Equal(t, StateClear, readState(write("a", "0\n")))
	assert.Equal(t, StateSet, readState(write("b", "1")))
	assert.Equal(t, StateUnknown, readState(write("c", "")))
	assert.Equal(t, StateUnknown, readState(write("d", "x")))
	assert.Equal(t, StateUnknown, readState(filepath.Join(dir, "missing")))
}

type fixture struct {
	low, high string
	manager   *broker.Manager
	provider  *Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		low:     filepath.Join(dir, "low_watermark"),
		high:    filepath.Join(dir, "high_watermark"),
		manager: broker.NewManagerWithConfig(broker.Config{MeterProvider: noop.NewMeterProvider()}),
	}
	f.set(t, "0", "0")

	p, err := New(Config{LowWatermark: f.low, HighWatermark: f.high})
	require.NoError(t, err)
	require.NoError(t, p.Install(f.manager))
	f.provider = p
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.manager.Run(ctx) }()
	t.Cleanup(cancel)
	return f
}

func (f *fixture) set(t *testing.T, low, high string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.low, []byte(low), 0o644))
	require.NoError(t, os.WriteFile(f.high, []byte(high), 0o644))
}

func (f *fixture) eventually(t *testing.T, want value.Value) {
	t.Helper()
	require.Eventually(t, func() bool {
		v, ok := f.manager.CachedValue(Key)
		return ok && v.Equal(want)
	}, 2*time.Second, 10*time.Millisecond, "pressure never became %v", want)
}

func TestNotWatchingWithoutSubscribers(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.provider.Watching())

	res := f.manager.Get([]string{Key})
	assert.Equal(t, []string{Key}, res.Undeterminable)
	assert.False(t, f.provider.Watching(), "Get must not start watching")
}

func TestPressureFollowsWatermarks(t *testing.T) {
	f := newFixture(t)

	sub := f.manager.GetSubscriber("client")
	_, err := sub.Subscribe([]string{Key})
	require.NoError(t, err)
	assert.True(t, f.provider.Watching())
	f.eventually(t, value.Int(PressureNormal))

	f.set(t, "1", "0")
	f.eventually(t, value.Int(PressureHigh))

	f.set(t, "1", "1")
	f.eventually(t, value.Int(PressureCritical))

	require.NoError(t, os.Remove(f.high))
	f.eventually(t, value.Absent())

	require.NoError(t, sub.Unsubscribe([]string{Key}))
	assert.False(t, f.provider.Watching())
}

func TestCloseStopsWatching(t *testing.T) {
	f := newFixture(t)
	sub := f.manager.GetSubscriber("client")
	_, err := sub.Subscribe([]string{Key})
	require.NoError(t, err)
	require.True(t, f.provider.Watching())

	require.NoError(t, f.provider.Close())
	assert.False(t, f.provider.Watching())
	require.NoError(t, f.provider.Close())
}
