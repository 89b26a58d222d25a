package discovery_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/contextkit/contextd/pkg/discovery"
	"github.com/contextkit/contextd/pkg/discovery/mocks"
)

func TestAnnouncerLifecycle(t *testing.T) {
	advertiser := mocks.NewMockAdvertiser(t)
	advertiser.EXPECT().Advertise(mock.Anything, mock.MatchedBy(func(info *discovery.BrokerInfo) bool {
		return info.Instance == "kitchen" && info.KeyCount == 0
	})).Return(nil).Once()
	advertiser.EXPECT().Update(mock.MatchedBy(func(info *discovery.BrokerInfo) bool {
		return info.KeyCount == 3
	})).Return(nil).Once()
	advertiser.EXPECT().Stop().Return(nil).Once()

	a := discovery.NewAnnouncer(advertiser)

	var transitions []string
	a.OnStateChange(func(old, new discovery.State) {
		transitions = append(transitions, old.String()+"->"+new.String())
	})

	require.NoError(t, a.Start(context.Background(), discovery.BrokerInfo{Instance: "kitchen", Port: 7420}))
	assert.Equal(t, discovery.StateAdvertising, a.State())

	require.NoError(t, a.SetKeyCount(3))
	// Unchanged count does not touch the advertisement.
	require.NoError(t, a.SetKeyCount(3))
	assert.Equal(t, 3, a.Info().KeyCount)

	require.NoError(t, a.Stop())
	assert.Equal(t, discovery.StateIdle, a.State())
	assert.Equal(t, []string{"IDLE->ADVERTISING", "ADVERTISING->IDLE"}, transitions)
}

func TestAnnouncerKeyCountBeforeStart(t *testing.T) {
	advertiser := mocks.NewMockAdvertiser(t)
	advertiser.EXPECT().Advertise(mock.Anything, mock.Anything).Return(nil).Once()

	a := discovery.NewAnnouncer(advertiser)
	require.NoError(t, a.SetKeyCount(5))

	info := discovery.BrokerInfo{Instance: "kitchen", KeyCount: 5}
	require.NoError(t, a.Start(context.Background(), info))
	assert.Equal(t, 5, a.Info().KeyCount)
}

func TestAnnouncerStartErrors(t *testing.T) {
	t.Run("invalid instance", func(t *testing.T) {
		a := discovery.NewAnnouncer(mocks.NewMockAdvertiser(t))
		err := a.Start(context.Background(), discovery.BrokerInfo{})
		assert.ErrorIs(t, err, discovery.ErrMissingRequired)
		assert.Equal(t, discovery.StateIdle, a.State())
	})

	t.Run("advertise fails", func(t *testing.T) {
		boom := errors.New("boom")
		advertiser := mocks.NewMockAdvertiser(t)
		advertiser.EXPECT().Advertise(mock.Anything, mock.Anything).Return(boom).Once()

		a := discovery.NewAnnouncer(advertiser)
		err := a.Start(context.Background(), discovery.BrokerInfo{Instance: "kitchen"})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, discovery.StateIdle, a.State())
	})
}

func TestAnnouncerStopWhenIdle(t *testing.T) {
	a := discovery.NewAnnouncer(mocks.NewMockAdvertiser(t))
	assert.ErrorIs(t, a.Stop(), discovery.ErrNotAdvertising)
}

func TestMDNSAdvertiserUpdateBeforeAdvertise(t *testing.T) {
	a, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	require.NoError(t, err)

	assert.ErrorIs(t, a.Update(&discovery.BrokerInfo{Instance: "kitchen"}), discovery.ErrNotAdvertising)
	assert.NoError(t, a.Stop())
}

func TestNewMDNSAdvertiserUnknownInterface(t *testing.T) {
	config := discovery.DefaultAdvertiserConfig()
	config.Interface = "does-not-exist0"
	_, err := discovery.NewMDNSAdvertiser(config)
	assert.Error(t, err)
}
